package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/epar-io/eparload/internal/load"
)

// uniqueViolation is the PostgreSQL error code raised by the partial unique
// index that allows at most one RUNNING execution record.
const uniqueViolation = "23505"

// maxReasonLength bounds the failure reason stored in the ledger.
const maxReasonLength = 1000

// Compile-time interface assertion.
var _ load.Ledger = (*Ledger)(nil)

// Ledger is the PostgreSQL execution ledger: one append-mostly table,
// pipeline_execution, recording each run's lifecycle and high-water mark.
//
// Invariant enforcement is layered: BeginRun checks for an unresolved run,
// and a partial unique index on RUNNING rows closes the race between two
// processes checking at once.
type Ledger struct {
	conn   *Connection
	logger *slog.Logger

	// staleRunningAfter bounds how long a RUNNING row may linger before it
	// is reconciled as FAILED. A crashed process leaves its row RUNNING;
	// the store has long since rolled back its transaction on disconnect.
	staleRunningAfter time.Duration
}

// NewLedger creates a ledger backed by conn.
func NewLedger(conn *Connection, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		conn:              conn,
		logger:            logger,
		staleRunningAfter: conn.config.StaleRunningAfter,
	}
}

// BeginRun inserts a RUNNING execution record and returns its id. Stale
// RUNNING rows older than the configured threshold are reconciled as FAILED
// first; a younger RUNNING row means a run is genuinely in flight and the
// call fails with ErrRunInFlight.
func (l *Ledger) BeginRun(ctx context.Context, strategy load.Strategy, sourceVersion string) (int64, error) {
	if !strategy.IsValid() {
		return 0, fmt.Errorf("%w: %w: %q", load.ErrPersistence, load.ErrInvalidStrategy, strategy)
	}

	if err := l.reconcileStaleRuns(ctx); err != nil {
		return 0, err
	}

	var runID int64

	err := l.conn.db.QueryRowContext(ctx, `
		INSERT INTO pipeline_execution
			(start_timestamp_utc, status, load_strategy, source_file_version)
		VALUES
			($1, $2, $3, NULLIF($4, ''))
		RETURNING execution_id`,
		time.Now().UTC(), load.RunStatusRunning, strategy, sourceVersion,
	).Scan(&runID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, load.ErrRunInFlight
		}

		return 0, fmt.Errorf("%w: begin run: %w", load.ErrPersistence, err)
	}

	l.logger.Info("run recorded",
		slog.Int64("run_id", runID),
		slog.String("strategy", strategy.String()),
	)

	return runID, nil
}

// LatestHighWaterMark returns the high-water mark of the most recent SUCCESS
// record, or nil if no run ever succeeded.
func (l *Ledger) LatestHighWaterMark(ctx context.Context) (*time.Time, error) {
	var mark sql.NullTime

	err := l.conn.db.QueryRowContext(ctx, `
		SELECT high_water_mark
		FROM pipeline_execution
		WHERE status = $1
		ORDER BY execution_id DESC
		LIMIT 1`,
		load.RunStatusSuccess,
	).Scan(&mark)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: read high-water mark: %w", load.ErrPersistence, err)
	}

	if !mark.Valid {
		return nil, nil
	}

	utc := mark.Time.UTC()

	return &utc, nil
}

// CompleteRun transitions a RUNNING record to SUCCESS. Calling it for a run
// that is not RUNNING is a persistence error: terminal records are immutable.
func (l *Ledger) CompleteRun(ctx context.Context, runID int64, recordsProcessed int64, highWater *time.Time) error {
	result, err := l.conn.db.ExecContext(ctx, `
		UPDATE pipeline_execution
		SET end_timestamp_utc = $2,
		    status            = $3,
		    records_processed = $4,
		    high_water_mark   = $5
		WHERE execution_id = $1 AND status = $6`,
		runID, time.Now().UTC(), load.RunStatusSuccess, recordsProcessed, nullableTime(highWater), load.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("%w: complete run %d: %w", load.ErrPersistence, runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: complete run %d: %w", load.ErrPersistence, runID, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: complete run %d: record is not RUNNING", load.ErrPersistence, runID)
	}

	return nil
}

// FailRun transitions a RUNNING record to FAILED with a human-readable
// reason. Safe to call multiple times and after a failed CompleteRun: a run
// that already resolved is left untouched.
func (l *Ledger) FailRun(ctx context.Context, runID int64, reason string) error {
	reason = truncateReason(reason)

	_, err := l.conn.db.ExecContext(ctx, `
		UPDATE pipeline_execution
		SET end_timestamp_utc = $2,
		    status            = $3,
		    error_message     = $4
		WHERE execution_id = $1 AND status = $5`,
		runID, time.Now().UTC(), load.RunStatusFailed, reason, load.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("%w: fail run %d: %w", load.ErrPersistence, runID, err)
	}

	return nil
}

// GetExecution reads one execution record, mainly for reconciliation
// tooling and tests.
func (l *Ledger) GetExecution(ctx context.Context, runID int64) (*load.ExecutionRecord, error) {
	var (
		record  load.ExecutionRecord
		ended   sql.NullTime
		version sql.NullString
		count   sql.NullInt64
		mark    sql.NullTime
		reason  sql.NullString
	)

	err := l.conn.db.QueryRowContext(ctx, `
		SELECT execution_id, start_timestamp_utc, end_timestamp_utc, status,
		       load_strategy, source_file_version, records_processed,
		       high_water_mark, error_message
		FROM pipeline_execution
		WHERE execution_id = $1`,
		runID,
	).Scan(
		&record.ID, &record.StartedAt, &ended, &record.Status,
		&record.Strategy, &version, &count, &mark, &reason,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: read run %d: %w", load.ErrPersistence, runID, err)
	}

	if ended.Valid {
		t := ended.Time.UTC()
		record.EndedAt = &t
	}

	if version.Valid {
		record.SourceVersion = version.String
	}

	if count.Valid {
		record.RecordsProcessed = &count.Int64
	}

	if mark.Valid {
		t := mark.Time.UTC()
		record.HighWaterMark = &t
	}

	if reason.Valid {
		record.Reason = reason.String
	}

	return &record, nil
}

// reconcileStaleRuns fails RUNNING rows older than the stale threshold.
// The data they staged was already discarded when their connection dropped.
func (l *Ledger) reconcileStaleRuns(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-l.staleRunningAfter)

	result, err := l.conn.db.ExecContext(ctx, `
		UPDATE pipeline_execution
		SET end_timestamp_utc = $1,
		    status            = $2,
		    error_message     = $3
		WHERE status = $4 AND start_timestamp_utc < $5`,
		time.Now().UTC(), load.RunStatusFailed, "reconciled: stale RUNNING entry", load.RunStatusRunning, cutoff,
	)
	if err != nil {
		return fmt.Errorf("%w: reconcile stale runs: %w", load.ErrPersistence, err)
	}

	if reconciled, err := result.RowsAffected(); err == nil && reconciled > 0 {
		l.logger.Warn("reconciled stale RUNNING ledger entries",
			slog.Int64("count", reconciled),
			slog.Duration("stale_after", l.staleRunningAfter),
		)
	}

	return nil
}

// truncateReason bounds a failure reason to maxReasonLength bytes. The cut
// may land mid-rune and PostgreSQL rejects invalid UTF-8 in TEXT, so any
// partial trailing rune is dropped as well.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}

	return strings.ToValidUTF8(reason[:maxReasonLength], "")
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC()
}
