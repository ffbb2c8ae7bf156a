package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Compile-time interface assertion.
var _ Store = (*S3)(nil)

// s3API is the slice of the S3 client the store uses; tests substitute it.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores documents in an S3 bucket. Credentials come from the default
// AWS chain (environment, shared config, instance role).
type S3 struct {
	client s3API
	bucket string
}

// NewS3 builds the client from the default AWS configuration. A non-empty
// endpoint switches to path-style addressing for S3-compatible stores;
// explicitly configured credentials replace the default chain.
func NewS3(ctx context.Context, cfg *Config) (*S3, error) {
	if cfg.S3Bucket == "" {
		return nil, ErrBucketEmpty
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}

	if cfg.StaticCredentials() {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.s3AccessKey, cfg.s3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{client: client, bucket: cfg.S3Bucket}, nil
}

// Put uploads the document and returns its s3:// URI.
func (s *S3) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage key cannot be empty")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3://%s/%s: %w", s.bucket, key, err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func init() {
	_ = Register(BackendS3, func(config *Config) (Store, error) {
		return NewS3(context.Background(), config)
	})
}
