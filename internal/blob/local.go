package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Compile-time interface assertion.
var _ Store = (*Local)(nil)

// Local stores documents as files under a root directory.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, ErrLocalPathEmpty
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &Local{root: root}, nil
}

// Put writes the document under root/key, creating intermediate directories.
// Returns a file:// URI. Keys are slash-separated and must stay inside the
// root.
func (l *Local) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || len(clean) > 1 && clean[0] == '.' && clean[1] == '.' {
		return "", fmt.Errorf("invalid storage key %q", key)
	}

	path := filepath.Join(l.root, clean)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create document directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create document file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return "", fmt.Errorf("write document: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close document file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve document path: %w", err)
	}

	return "file://" + filepath.ToSlash(abs), nil
}

func init() {
	// Registration cannot fail for the built-in backends.
	_ = Register(BackendLocal, func(config *Config) (Store, error) {
		return NewLocal(config.LocalPath)
	})
}
