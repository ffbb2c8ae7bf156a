package docs

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/epar-io/eparload/internal/epar"
)

// Processor turns a batch of EPAR records into document metadata rows:
// fetch each record's page, scan it for document links, download and store
// each document.
type Processor struct {
	downloader *Downloader
	config     *Config
	logger     *slog.Logger
}

// NewProcessor creates a processor over a downloader.
func NewProcessor(config *Config, downloader *Downloader, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{downloader: downloader, config: config, logger: logger}
}

// Process handles one batch of records with bounded parallelism and returns
// the collected document metadata. Failures are per record: a page that
// cannot be fetched or a document that cannot be stored is logged and
// skipped. Only context cancellation aborts the batch.
func (p *Processor) Process(ctx context.Context, records []*epar.Epar) ([]*epar.Document, error) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(p.config.Parallelism)

	var (
		mu        sync.Mutex
		documents []*epar.Document
	)

	for _, record := range records {
		if record.SourceURL == "" || !strings.HasPrefix(record.SourceURL, "http") {
			continue
		}

		group.Go(func() error {
			docs := p.processRecord(ctx, record)

			if ctx.Err() != nil {
				return ctx.Err()
			}

			mu.Lock()
			documents = append(documents, docs...)
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return documents, nil
}

// processRecord fetches one EPAR page and downloads its documents.
func (p *Processor) processRecord(ctx context.Context, record *epar.Epar) []*epar.Document {
	page, err := p.downloader.FetchPage(ctx, record.SourceURL)
	if err != nil {
		p.logger.Warn("failed to fetch EPAR page",
			slog.String("epar_id", record.EparID),
			slog.String("url", record.SourceURL),
			slog.Any("error", err),
		)

		return nil
	}

	links := FindDocumentLinks(record.SourceURL, bytes.NewReader(page))
	if len(links) == 0 {
		p.logger.Debug("no document links on page",
			slog.String("epar_id", record.EparID),
			slog.String("url", record.SourceURL),
		)

		return nil
	}

	var documents []*epar.Document

	for _, link := range links {
		if ctx.Err() != nil {
			return documents
		}

		location, hash, err := p.downloader.Download(ctx, record.EparID, link.URL)
		if err != nil {
			p.logger.Warn("failed to download document",
				slog.String("epar_id", record.EparID),
				slog.String("url", link.URL),
				slog.Any("error", err),
			)

			continue
		}

		documents = append(documents, &epar.Document{
			ID:              uuid.New(),
			EparID:          record.EparID,
			Type:            link.Text,
			Language:        "en",
			SourceURL:       link.URL,
			StorageLocation: location,
			SHA256:          hash,
			FetchedAt:       time.Now().UTC(),
		})
	}

	return documents
}
