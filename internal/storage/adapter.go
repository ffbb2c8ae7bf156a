package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/epar-io/eparload/internal/load"
)

// Compile-time interface assertions.
var (
	_ load.Adapter     = (*Adapter)(nil)
	_ load.Session     = (*session)(nil)
	_ load.LoadContext = (*tableLoad)(nil)
)

// ErrWrongLoadContext is returned when a load context from a different
// adapter implementation is passed in.
var ErrWrongLoadContext = errors.New("load context does not belong to this adapter")

// Adapter is the PostgreSQL implementation of the record adapter port. It
// stages incoming batches into transaction-scoped TEMP tables through the
// COPY protocol and merges them into the permanent tables with a single
// set-based statement per table.
type Adapter struct {
	conn   *Connection
	logger *slog.Logger
}

// NewAdapter creates an adapter on top of an established connection pool.
func NewAdapter(conn *Connection, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{conn: conn, logger: logger}
}

// Connect opens the session transaction. All staging and merging for one run
// happens inside it; a crash before commit leaves the permanent tables
// untouched.
func (a *Adapter) Connect(ctx context.Context) (load.Session, error) {
	tx, err := a.conn.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", load.ErrConnection, err)
	}

	return &session{tx: tx, logger: a.logger}, nil
}

// session is one open transaction against the target schema.
type session struct {
	tx         *sql.Tx
	logger     *slog.Logger
	committed  bool
	rolledBack bool
}

// tableLoad is the load context for one table's staged load.
type tableLoad struct {
	spec     load.TableSpec
	strategy load.Strategy
	staging  string
	runID    int64
	staged   int64
}

func (t *tableLoad) Table() string {
	return t.spec.Table
}

func (t *tableLoad) StagingTable() string {
	return t.staging
}

// PrepareLoad creates the staging table for one target table. The staging
// table mirrors the target's shape plus a sequence column that makes batch
// iteration order reproducible inside the merge.
func (s *session) PrepareLoad(ctx context.Context, strategy load.Strategy, spec load.TableSpec, runID int64) (load.LoadContext, error) {
	if !strategy.IsValid() {
		return nil, fmt.Errorf("%w: %w: %q", load.ErrLoad, load.ErrInvalidStrategy, strategy)
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", load.ErrLoad, err)
	}

	for _, statement := range createStagingSQL(spec.Table) {
		if _, err := s.tx.ExecContext(ctx, statement); err != nil {
			return nil, fmt.Errorf("%w: prepare staging for %s: %w", load.ErrLoad, spec.Table, err)
		}
	}

	s.logger.Debug("staging table prepared",
		slog.String("table", spec.Table),
		slog.String("strategy", strategy.String()),
	)

	return &tableLoad{
		spec:     spec,
		strategy: strategy,
		staging:  stagingTableName(spec.Table),
		runID:    runID,
	}, nil
}

// BulkLoadBatch streams one batch into the staging table through COPY FROM
// STDIN. The row sequence is consumed exactly once; only the structural
// completeness of the merge key is checked here.
func (s *session) BulkLoadBatch(ctx context.Context, lc load.LoadContext, rows iter.Seq[load.Row]) (int64, error) {
	tl, ok := lc.(*tableLoad)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrWrongLoadContext, lc)
	}

	stmt, err := s.tx.PrepareContext(ctx, pq.CopyIn(tl.staging, tl.spec.Columns...))
	if err != nil {
		return 0, fmt.Errorf("%w: copy into %s: %w", load.ErrLoad, tl.staging, err)
	}

	var count int64

	for row := range rows {
		if err := tl.spec.CheckKeys(row); err != nil {
			_ = stmt.Close()

			return 0, fmt.Errorf("%w: %w", load.ErrLoad, err)
		}

		values := make([]any, len(tl.spec.Columns))
		for i, col := range tl.spec.Columns {
			values[i] = row[col]
		}

		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			_ = stmt.Close()

			return 0, fmt.Errorf("%w: copy row into %s: %w", load.ErrLoad, tl.staging, err)
		}

		count++
	}

	// The empty Exec flushes the COPY buffer and surfaces server-side
	// rejections.
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return 0, fmt.Errorf("%w: flush copy into %s: %w", load.ErrLoad, tl.staging, err)
	}

	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("%w: close copy into %s: %w", load.ErrLoad, tl.staging, err)
	}

	tl.staged += count

	s.logger.Debug("batch staged",
		slog.String("table", tl.spec.Table),
		slog.Int64("rows", count),
	)

	return count, nil
}

// Finalize merges one table's staging area into its permanent table. For a
// FULL-strategy context the active rows absent from staging are soft-deleted
// first, then every staged row is upserted; for DELTA only the upsert runs,
// leaving absent rows untouched. The transaction stays open.
func (s *session) Finalize(ctx context.Context, lc load.LoadContext, asOf time.Time) (int64, error) {
	tl, ok := lc.(*tableLoad)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrWrongLoadContext, lc)
	}

	var affected int64

	if tl.spec.RefreshKeyColumn != "" {
		result, err := s.tx.ExecContext(ctx, refreshDeleteSQL(tl.spec))
		if err != nil {
			return 0, fmt.Errorf("%w: refresh %s: %w", load.ErrMerge, tl.spec.Table, err)
		}

		if removed, err := result.RowsAffected(); err == nil {
			s.logger.Debug("stale associations removed",
				slog.String("table", tl.spec.Table),
				slog.Int64("rows", removed),
			)
		}
	}

	if tl.strategy == load.StrategyFull && tl.spec.SoftDeleteColumn != "" {
		statement, args := softDeleteSQL(tl.spec, asOf, tl.runID)

		result, err := s.tx.ExecContext(ctx, statement, args...)
		if err != nil {
			return 0, fmt.Errorf("%w: soft delete on %s: %w", load.ErrMerge, tl.spec.Table, err)
		}

		deactivated, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%w: soft delete on %s: %w", load.ErrMerge, tl.spec.Table, err)
		}

		affected += deactivated

		s.logger.Info("records soft-deleted",
			slog.String("table", tl.spec.Table),
			slog.Int64("rows", deactivated),
		)
	}

	result, err := s.tx.ExecContext(ctx, mergeSQL(tl.spec, tl.strategy))
	if err != nil {
		return 0, fmt.Errorf("%w: merge into %s: %w", load.ErrMerge, tl.spec.Table, err)
	}

	merged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: merge into %s: %w", load.ErrMerge, tl.spec.Table, err)
	}

	affected += merged

	return affected, nil
}

// Commit durably commits the session's transaction. TEMP staging tables are
// dropped with it.
func (s *session) Commit(_ context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return err
	}

	s.committed = true

	return nil
}

// Rollback aborts the transaction and discards all staging areas. Safe to
// call multiple times; a no-op after Commit.
func (s *session) Rollback() error {
	if s.committed || s.rolledBack {
		return nil
	}

	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}

	s.rolledBack = true

	return nil
}

// Close releases the session, rolling back anything uncommitted.
func (s *session) Close() error {
	return s.Rollback()
}
