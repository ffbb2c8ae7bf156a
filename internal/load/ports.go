// Package load is the core of the loader: the execution-ledger and
// record-adapter ports, the error taxonomy, and the orchestrator that drives
// one run from ledger lookup through staging to finalize or rollback.
//
// The package defines what the domain needs from a target store without
// depending on any engine; the PostgreSQL reference implementation lives in
// internal/storage. This follows the same pattern as the domain/storage split
// used throughout the codebase: interfaces here, drivers there.
package load

import (
	"context"
	"iter"
	"time"
)

// Adapter is the capability contract a target-store implementation must
// satisfy. Implementations are registered in a Registry and selected by
// configuration tag.
type Adapter interface {
	// Connect establishes a session scoped to a single transaction.
	// Fails with ErrConnection on network or auth failure. The caller must
	// release the session on every exit path via Close.
	Connect(ctx context.Context) (Session, error)
}

// Session is the unit of scoped load operations: one open transaction
// against the target store. Staging areas created through PrepareLoad are
// private to the transaction and discarded if it aborts.
type Session interface {
	// PrepareLoad creates a transient staging area mirroring the target
	// table's shape, invisible to concurrent readers. The strategy decides
	// how Finalize will later reconcile staging with the permanent table.
	// runID is stamped into rows whose spec declares an execution-id column.
	PrepareLoad(ctx context.Context, strategy Strategy, spec TableSpec, runID int64) (LoadContext, error)

	// BulkLoadBatch appends rows to the staging area using the store's
	// native bulk-ingestion path. The sequence is consumed exactly once and
	// may be lazily produced; memory use stays bounded regardless of batch
	// size. Fails with ErrLoad on malformed rows or store rejection, leaving
	// the session uncommitted.
	BulkLoadBatch(ctx context.Context, lc LoadContext, rows iter.Seq[Row]) (int64, error)

	// Finalize merges the staging area into the permanent table: an
	// idempotent upsert keyed by natural key, plus soft deletion of
	// unmatched active rows when the context was prepared for a FULL
	// strategy. A DELTA merge keeps the newer CDC value on conflict; a FULL
	// snapshot overwrites unconditionally. It does not commit; the
	// transaction stays open so several tables finalize atomically.
	Finalize(ctx context.Context, lc LoadContext, asOf time.Time) (int64, error)

	// Commit durably commits everything finalized in this session.
	Commit(ctx context.Context) error

	// Rollback aborts the transaction and discards all staging areas. Safe
	// to call multiple times and after partial Finalize failures; a no-op
	// after Commit.
	Rollback() error

	// Close releases the session. Rolls back first when nothing committed.
	Close() error
}

// LoadContext is an opaque handle for one table's staged load within a
// session.
type LoadContext interface {
	// Table returns the permanent table this context loads into.
	Table() string

	// StagingTable returns the transaction-scoped staging table name.
	StagingTable() string
}

// Ledger is the append-only record of each run's lifecycle and the resulting
// high-water mark: the sole source of truth for what has already been loaded.
// Ledger writes are cheap and rare (one per run), so failures are surfaced
// with ErrPersistence, never masked or retried.
type Ledger interface {
	// BeginRun inserts a RUNNING execution record and returns its id.
	// Fails with ErrRunInFlight while another record is still RUNNING.
	BeginRun(ctx context.Context, strategy Strategy, sourceVersion string) (int64, error)

	// LatestHighWaterMark returns the high-water mark of the most recent
	// SUCCESS record, or nil if none exists (which forces a FULL run).
	LatestHighWaterMark(ctx context.Context) (*time.Time, error)

	// CompleteRun transitions the record to SUCCESS. Must only be called
	// after the session's transaction has durably committed.
	CompleteRun(ctx context.Context, runID int64, recordsProcessed int64, highWater *time.Time) error

	// FailRun transitions the record to FAILED with a human-readable
	// reason. Always safe to call, including after a failed CompleteRun.
	FailRun(ctx context.Context, runID int64, reason string) error
}

// Feed is the extractor boundary: a lazily produced sequence of batches of
// fully validated rows, partitioned by the configured batch size. since
// bounds a delta extraction to records newer than the high-water mark; nil
// means unbounded (full snapshot).
//
// Tables inside each batch must appear in foreign-key dependency order, and
// every batch must list the primary table's spec even when it carries no
// rows for it.
type Feed interface {
	Batches(ctx context.Context, since *time.Time) iter.Seq2[*Batch, error]

	// SourceVersion labels the source dataset revision for the ledger.
	SourceVersion() string
}
