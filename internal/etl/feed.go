package etl

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/epar-io/eparload/internal/docs"
	"github.com/epar-io/eparload/internal/epar"
	"github.com/epar-io/eparload/internal/extract"
	"github.com/epar-io/eparload/internal/load"
	"github.com/epar-io/eparload/internal/spor"
)

// Compile-time interface assertion.
var _ load.Feed = (*Feed)(nil)

// Feed streams transformed, enriched batches from the medicines index file
// into the orchestrator. Tables within a batch are ordered primary first,
// then master data, links, and documents.
type Feed struct {
	fetcher     *extract.Fetcher
	transformer *Transformer
	processor   *docs.Processor // nil disables the document pipeline
	batchSize   int
	version     string
	logger      *slog.Logger
}

// NewFeed wires the boundary components into a feed. processor may be nil.
func NewFeed(
	fetcher *extract.Fetcher,
	transformer *Transformer,
	processor *docs.Processor,
	batchSize int,
	sourceVersion string,
	logger *slog.Logger,
) *Feed {
	if logger == nil {
		logger = slog.Default()
	}

	return &Feed{
		fetcher:     fetcher,
		transformer: transformer,
		processor:   processor,
		batchSize:   batchSize,
		version:     sourceVersion,
		logger:      logger,
	}
}

// SourceVersion identifies the input dataset for the ledger.
func (f *Feed) SourceVersion() string {
	return f.version
}

// Batches downloads the index file and yields one load.Batch per batchSize
// transformed records. Unusable rows are skipped and counted; extraction
// errors terminate the sequence with an error, failing the run.
func (f *Feed) Batches(ctx context.Context, since *time.Time) iter.Seq2[*load.Batch, error] {
	return func(yield func(*load.Batch, error) bool) {
		reader, err := f.fetcher.Fetch(ctx)
		if err != nil {
			yield(nil, err)

			return
		}

		// One cache and one timestamp per run: every row in this run shares
		// the same load lineage and enrichment view.
		cache := spor.NewCache()
		now := time.Now().UTC()

		var (
			pending  []*Enriched
			skipped  int
			emitted  int
			flushErr error
		)

		flush := func() bool {
			if len(pending) == 0 {
				return true
			}

			batch, err := f.buildBatch(ctx, pending)
			if err != nil {
				flushErr = err

				return false
			}

			pending = pending[:0]
			emitted++

			return yield(batch, nil)
		}

		for record, err := range extract.Records(reader, since, f.logger) {
			if err != nil {
				yield(nil, err)

				return
			}

			enriched, err := f.transformer.Transform(ctx, cache, record, now)
			if err != nil {
				f.logger.Warn("record skipped",
					slog.String("medicine", record.MedicineName),
					slog.Any("error", err),
				)

				skipped++

				continue
			}

			pending = append(pending, enriched)

			if len(pending) >= f.batchSize && !flush() {
				if flushErr != nil {
					yield(nil, flushErr)
				}

				return
			}
		}

		if !flush() {
			if flushErr != nil {
				yield(nil, flushErr)
			}

			return
		}

		f.logger.Info("feed exhausted",
			slog.Int("batches", emitted),
			slog.Int("skipped_records", skipped),
		)
	}
}

// buildBatch materializes one batch's table slices. Master data is deduped
// within the batch; the merge's later-row-wins rule handles cross-batch
// repeats.
func (f *Feed) buildBatch(ctx context.Context, enriched []*Enriched) (*load.Batch, error) {
	var (
		indexRows []load.Row
		highWater time.Time
		records   []*epar.Epar
	)

	orgs := make(map[string]*epar.Organization)
	subs := make(map[string]*epar.Substance)

	var links []*epar.SubstanceLink

	for _, e := range enriched {
		indexRows = append(indexRows, e.Epar.Row())
		records = append(records, e.Epar)

		if e.Epar.LastUpdated.After(highWater) {
			highWater = e.Epar.LastUpdated
		}

		for _, org := range e.Organizations {
			orgs[org.OMSID] = org
		}

		for _, sub := range e.Substances {
			subs[sub.SubstanceID] = sub
		}

		links = append(links, e.Links...)
	}

	batch := &load.Batch{HighWater: highWater}

	batch.Tables = append(batch.Tables, load.TableBatch{Spec: epar.IndexSpec(), Rows: indexRows})

	if len(orgs) > 0 {
		rows := make([]load.Row, 0, len(orgs))
		for _, org := range orgs {
			rows = append(rows, org.Row())
		}

		batch.Tables = append(batch.Tables, load.TableBatch{Spec: epar.OrganizationsSpec(), Rows: rows})
	}

	if len(subs) > 0 {
		rows := make([]load.Row, 0, len(subs))
		for _, sub := range subs {
			rows = append(rows, sub.Row())
		}

		batch.Tables = append(batch.Tables, load.TableBatch{Spec: epar.SubstancesSpec(), Rows: rows})
	}

	if len(links) > 0 {
		rows := make([]load.Row, 0, len(links))
		for _, link := range links {
			rows = append(rows, link.Row())
		}

		batch.Tables = append(batch.Tables, load.TableBatch{Spec: epar.LinksSpec(), Rows: rows})
	}

	if f.processor != nil {
		documents, err := f.processor.Process(ctx, records)
		if err != nil {
			return nil, err
		}

		if len(documents) > 0 {
			rows := make([]load.Row, 0, len(documents))
			for _, doc := range documents {
				rows = append(rows, doc.Row())
			}

			batch.Tables = append(batch.Tables, load.TableBatch{Spec: epar.DocumentsSpec(), Rows: rows})
		}
	}

	return batch, nil
}
