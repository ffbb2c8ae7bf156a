package load

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"
)

// RunResult summarizes a successful run.
type RunResult struct {
	RunID            int64
	Strategy         Strategy // strategy actually executed, after forcing
	RecordsProcessed int64
	HighWaterMark    *time.Time
}

// Orchestrator sequences one load run: ledger lookup, batch ingestion,
// finalize or rollback. All store-specific behavior is delegated to the
// adapter; all run bookkeeping to the ledger.
//
// Per run the state machine is
//
//	START → LEDGER_READ → EXTRACT_FEED → STAGING → FINALIZING → {SUCCESS, FAILED}
//
// and a missing high-water mark at LEDGER_READ forces a FULL run regardless
// of the configured strategy. The orchestrator is a singleton per ledger: a
// second Run while one is in flight returns ErrRunInFlight immediately, and
// the ledger's RUNNING row enforces the same invariant across processes.
type Orchestrator struct {
	ledger   Ledger
	adapter  Adapter
	feed     Feed
	primary  TableSpec
	strategy Strategy
	observer RunObserver
	logger   *slog.Logger

	running atomic.Bool
}

// Sentinel errors for orchestrator construction.
var (
	ErrNilLedger  = errors.New("ledger cannot be nil")
	ErrNilAdapter = errors.New("adapter cannot be nil")
	ErrNilFeed    = errors.New("feed cannot be nil")
)

// NewOrchestrator creates an orchestrator for the given ports. primary is
// the table whose rows drive strategy, record counting, and the high-water
// mark; auxiliary tables presented by the feed always merge incrementally.
// observer may be nil when nothing listens for lifecycle events.
func NewOrchestrator(
	ledger Ledger,
	adapter Adapter,
	feed Feed,
	primary TableSpec,
	strategy Strategy,
	observer RunObserver,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if ledger == nil {
		return nil, ErrNilLedger
	}

	if adapter == nil {
		return nil, ErrNilAdapter
	}

	if feed == nil {
		return nil, ErrNilFeed
	}

	if !strategy.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}

	if err := primary.Validate(); err != nil {
		return nil, err
	}

	if observer == nil {
		observer = noopObserver{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		ledger:   ledger,
		adapter:  adapter,
		feed:     feed,
		primary:  primary,
		strategy: strategy,
		observer: observer,
		logger:   logger,
	}, nil
}

// Run executes one load run end to end and returns its result. On any
// failure the session is rolled back and the ledger entry is marked FAILED
// before the error is returned; no error is swallowed.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	defer o.running.Store(false)

	runID, err := o.ledger.BeginRun(ctx, o.strategy, o.feed.SourceVersion())
	if err != nil {
		return nil, err
	}

	logger := o.logger.With(slog.Int64("run_id", runID))
	logger.Info("run started", slog.String("strategy", o.strategy.String()))

	o.observer.RunStarted(ctx, runID, o.strategy)

	prior, err := o.ledger.LatestHighWaterMark(ctx)
	if err != nil {
		return nil, o.fail(ctx, logger, nil, runID, err)
	}

	effective := o.strategy
	if effective == StrategyDelta && prior == nil {
		effective = StrategyFull

		logger.Warn("no prior successful run, forcing FULL strategy")
	}

	if prior != nil {
		logger.Info("resuming from high-water mark", slog.Time("high_water_mark", *prior))
	}

	session, err := o.adapter.Connect(ctx)
	if err != nil {
		return nil, o.fail(ctx, logger, nil, runID, err)
	}

	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Error("session close failed", slog.String("error", closeErr.Error()))
		}
	}()

	// The primary context is prepared up front so a FULL run with an empty
	// input set still reconciles (deactivates) the whole active set.
	contexts := make(map[string]LoadContext)
	order := make([]string, 0, 8)

	primaryCtx, err := session.PrepareLoad(ctx, effective, o.primary, runID)
	if err != nil {
		return nil, o.fail(ctx, logger, session, runID, err)
	}

	contexts[o.primary.Table] = primaryCtx
	order = append(order, o.primary.Table)

	var (
		records   int64
		highWater time.Time
		batches   int
	)

	for batch, feedErr := range o.feed.Batches(ctx, prior) {
		if feedErr != nil {
			return nil, o.fail(ctx, logger, session, runID,
				fmt.Errorf("%w: extract: %w", ErrLoad, feedErr))
		}

		batches++

		for _, tb := range batch.Tables {
			if len(tb.Rows) == 0 {
				continue
			}

			lc, ok := contexts[tb.Spec.Table]
			if !ok {
				lc, err = session.PrepareLoad(ctx, StrategyDelta, tb.Spec, runID)
				if err != nil {
					return nil, o.fail(ctx, logger, session, runID, err)
				}

				contexts[tb.Spec.Table] = lc
				order = append(order, tb.Spec.Table)
			}

			loaded, err := session.BulkLoadBatch(ctx, lc, stampRows(tb.Spec, runID, tb.Rows))
			if err != nil {
				return nil, o.fail(ctx, logger, session, runID, err)
			}

			if tb.Spec.Primary {
				records += loaded
			}
		}

		if batch.HighWater.After(highWater) {
			highWater = batch.HighWater
		}
	}

	logger.Info("staging complete",
		slog.Int("batches", batches),
		slog.Int64("records", records),
		slog.String("effective_strategy", effective.String()),
	)

	asOf := time.Now().UTC()

	for _, table := range order {
		affected, err := session.Finalize(ctx, contexts[table], asOf)
		if err != nil {
			return nil, o.fail(ctx, logger, session, runID, err)
		}

		logger.Info("table finalized",
			slog.String("table", table),
			slog.Int64("rows_affected", affected),
		)
	}

	if err := session.Commit(ctx); err != nil {
		return nil, o.fail(ctx, logger, session, runID,
			fmt.Errorf("%w: commit: %w", ErrMerge, err))
	}

	// The high-water mark never regresses: an empty or stale input keeps the
	// prior mark.
	newMark := prior
	if !highWater.IsZero() && (prior == nil || highWater.After(*prior)) {
		newMark = &highWater
	}

	if err := o.ledger.CompleteRun(ctx, runID, records, newMark); err != nil {
		// The data transaction is already durable. Rolling back or retrying
		// here would lie in one direction or the other, so the run is
		// surfaced as ambiguous for manual reconciliation.
		logger.Error("ledger update failed after commit",
			slog.String("error", err.Error()),
		)

		ambiguous := fmt.Errorf("%w: run %d: %w", ErrAmbiguousRun, runID, err)
		o.observer.RunFailed(ctx, runID, effective, ambiguous)

		return nil, ambiguous
	}

	logger.Info("run succeeded",
		slog.Int64("records_processed", records),
		slog.Any("high_water_mark", newMark),
	)

	result := &RunResult{
		RunID:            runID,
		Strategy:         effective,
		RecordsProcessed: records,
		HighWaterMark:    newMark,
	}
	o.observer.RunSucceeded(ctx, result)

	return result, nil
}

// fail rolls the session back, records the FAILED ledger entry, and returns
// the original cause. Ledger and rollback failures are logged, never allowed
// to shadow the cause.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, session Session, runID int64, cause error) error {
	if session != nil {
		if err := session.Rollback(); err != nil {
			logger.Error("rollback failed", slog.String("error", err.Error()))
		}
	}

	// The FAILED entry must be written even when the run died of context
	// cancellation.
	if err := o.ledger.FailRun(context.WithoutCancel(ctx), runID, cause.Error()); err != nil {
		logger.Error("recording run failure failed", slog.String("error", err.Error()))
	}

	logger.Error("run failed", slog.String("error", cause.Error()))

	o.observer.RunFailed(ctx, runID, o.strategy, cause)

	return cause
}

// stampRows lazily injects the run's execution id into each row when the
// spec declares a lineage column.
func stampRows(spec TableSpec, runID int64, rows []Row) iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for _, row := range rows {
			if spec.ExecutionIDColumn != "" {
				row[spec.ExecutionIDColumn] = runID
			}

			if !yield(row) {
				return
			}
		}
	}
}
