package load

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecord is one row in the fake store with its soft-delete state.
type fakeRecord struct {
	row    Row
	active bool
}

// fakeStore models the permanent tables: table → natural key → record.
// Sessions operate on a copy and publish it on Commit, mirroring the
// transactional visibility the adapter contract promises.
type fakeStore struct {
	tables map[string]map[string]fakeRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: make(map[string]map[string]fakeRecord)}
}

func (s *fakeStore) seed(spec TableSpec, rows ...Row) {
	table := s.tables[spec.Table]
	if table == nil {
		table = make(map[string]fakeRecord)
		s.tables[spec.Table] = table
	}

	for _, row := range rows {
		table[rowKey(spec, row)] = fakeRecord{row: row, active: true}
	}
}

func (s *fakeStore) activeKeys(table string) []string {
	var keys []string

	for key, record := range s.tables[table] {
		if record.active {
			keys = append(keys, key)
		}
	}

	return keys
}

func (s *fakeStore) snapshot() map[string]map[string]fakeRecord {
	out := make(map[string]map[string]fakeRecord, len(s.tables))

	for table, records := range s.tables {
		copied := make(map[string]fakeRecord, len(records))
		for key, record := range records {
			copied[key] = record
		}

		out[table] = copied
	}

	return out
}

func rowKey(spec TableSpec, row Row) string {
	parts := make([]string, len(spec.KeyColumns))
	for i, col := range spec.KeyColumns {
		parts[i] = fmt.Sprint(row[col])
	}

	return strings.Join(parts, "|")
}

// fakeContext is the fake adapter's load context handle.
type fakeContext struct {
	spec     TableSpec
	strategy Strategy
	staged   []Row
}

func (c *fakeContext) Table() string        { return c.spec.Table }
func (c *fakeContext) StagingTable() string { return "staging_" + c.spec.Table }

// fakeSession stages rows per table and applies them to a private copy of the
// store on Finalize; Commit publishes the copy.
type fakeSession struct {
	store   *fakeStore
	pending map[string]map[string]fakeRecord

	contexts   map[string]*fakeContext
	finalized  []string
	committed  bool
	rolledBack bool

	failBatch   int // fail the Nth BulkLoadBatch call, 0 disables
	batchCalls  int
	finalizeErr error
	commitErr   error
}

func (s *fakeSession) PrepareLoad(_ context.Context, strategy Strategy, spec TableSpec, _ int64) (LoadContext, error) {
	lc := &fakeContext{spec: spec, strategy: strategy}
	s.contexts[spec.Table] = lc

	return lc, nil
}

func (s *fakeSession) BulkLoadBatch(_ context.Context, lc LoadContext, rows iter.Seq[Row]) (int64, error) {
	s.batchCalls++
	if s.failBatch > 0 && s.batchCalls == s.failBatch {
		return 0, fmt.Errorf("%w: staging rejected batch", ErrLoad)
	}

	fc := lc.(*fakeContext)

	var count int64

	for row := range rows {
		if err := fc.spec.CheckKeys(row); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrLoad, err)
		}

		fc.staged = append(fc.staged, row)
		count++
	}

	return count, nil
}

func (s *fakeSession) Finalize(_ context.Context, lc LoadContext, _ time.Time) (int64, error) {
	if s.finalizeErr != nil {
		return 0, s.finalizeErr
	}

	fc := lc.(*fakeContext)
	s.finalized = append(s.finalized, fc.spec.Table)

	table := s.pending[fc.spec.Table]
	if table == nil {
		table = make(map[string]fakeRecord)
		s.pending[fc.spec.Table] = table
	}

	stagedKeys := make(map[string]bool, len(fc.staged))
	for _, row := range fc.staged {
		stagedKeys[rowKey(fc.spec, row)] = true
	}

	var affected int64

	if fc.strategy == StrategyFull && fc.spec.SoftDeleteColumn != "" {
		for key, record := range table {
			if record.active && !stagedKeys[key] {
				record.active = false
				table[key] = record
				affected++
			}
		}
	}

	for _, row := range fc.staged {
		table[rowKey(fc.spec, row)] = fakeRecord{row: row, active: true}
		affected++
	}

	return affected, nil
}

func (s *fakeSession) Commit(_ context.Context) error {
	if s.commitErr != nil {
		return s.commitErr
	}

	s.store.tables = s.pending
	s.committed = true

	return nil
}

func (s *fakeSession) Rollback() error {
	if !s.committed {
		s.rolledBack = true
	}

	return nil
}

func (s *fakeSession) Close() error { return s.Rollback() }

// fakeAdapter hands out one session per Connect and remembers the last one.
type fakeAdapter struct {
	store      *fakeStore
	last       *fakeSession
	connectErr error
	gate       chan struct{} // Connect blocks on it when non-nil
	connected  chan struct{} // closed once Connect has been entered
}

func (a *fakeAdapter) Connect(_ context.Context) (Session, error) {
	if a.connected != nil {
		close(a.connected)
		a.connected = nil
	}

	if a.gate != nil {
		<-a.gate
	}

	if a.connectErr != nil {
		return nil, a.connectErr
	}

	a.last = &fakeSession{
		store:    a.store,
		pending:  a.store.snapshot(),
		contexts: make(map[string]*fakeContext),
	}

	return a.last, nil
}

// fakeLedger records the lifecycle calls the orchestrator makes.
type fakeLedger struct {
	nextRunID int64
	highWater *time.Time

	beginErr    error
	completeErr error

	begun       []Strategy
	sinceSeen   []*time.Time
	completed   bool
	completedAt struct {
		runID   int64
		records int64
		mark    *time.Time
	}
	failed       bool
	failedReason string
}

func (l *fakeLedger) BeginRun(_ context.Context, strategy Strategy, _ string) (int64, error) {
	if l.beginErr != nil {
		return 0, l.beginErr
	}

	l.begun = append(l.begun, strategy)
	l.nextRunID++

	return l.nextRunID, nil
}

func (l *fakeLedger) LatestHighWaterMark(_ context.Context) (*time.Time, error) {
	return l.highWater, nil
}

func (l *fakeLedger) CompleteRun(_ context.Context, runID int64, records int64, mark *time.Time) error {
	if l.completeErr != nil {
		return l.completeErr
	}

	l.completed = true
	l.completedAt.runID = runID
	l.completedAt.records = records
	l.completedAt.mark = mark

	return nil
}

func (l *fakeLedger) FailRun(_ context.Context, _ int64, reason string) error {
	l.failed = true
	l.failedReason = reason

	return nil
}

// fakeFeed yields a fixed batch sequence with optional error injection.
type fakeFeed struct {
	batches []*Batch
	errAt   int // yield an error instead of the Nth batch (1-based), 0 disables
	since   []*time.Time
}

func (f *fakeFeed) Batches(_ context.Context, since *time.Time) iter.Seq2[*Batch, error] {
	f.since = append(f.since, since)

	return func(yield func(*Batch, error) bool) {
		for i, batch := range f.batches {
			if f.errAt > 0 && i+1 == f.errAt {
				yield(nil, errors.New("source connection reset"))

				return
			}

			if !yield(batch, nil) {
				return
			}
		}
	}
}

func (f *fakeFeed) SourceVersion() string { return "fake-v1" }

var primarySpec = TableSpec{
	Table:             "items",
	Columns:           []string{"id", "name", "updated", "is_active", "run_id"},
	KeyColumns:        []string{"id"},
	CDCColumn:         "updated",
	SoftDeleteColumn:  "is_active",
	ExecutionIDColumn: "run_id",
	Primary:           true,
}

var auxSpec = TableSpec{
	Table:      "item_tags",
	Columns:    []string{"id", "tag"},
	KeyColumns: []string{"id", "tag"},
}

func itemRow(id string, updated time.Time) Row {
	return Row{"id": id, "name": "name-" + id, "updated": updated, "is_active": true}
}

func itemBatch(highWater time.Time, rows ...Row) *Batch {
	return &Batch{
		Tables:    []TableBatch{{Spec: primarySpec, Rows: rows}},
		HighWater: highWater,
	}
}

func newTestOrchestrator(t *testing.T, ledger *fakeLedger, adapter *fakeAdapter, feed *fakeFeed, strategy Strategy) *Orchestrator {
	t.Helper()

	orchestrator, err := NewOrchestrator(ledger, adapter, feed, primarySpec, strategy, nil, nil)
	require.NoError(t, err)

	return orchestrator
}

func TestNewOrchestratorValidation(t *testing.T) {
	ledger := &fakeLedger{}
	adapter := &fakeAdapter{store: newFakeStore()}
	feed := &fakeFeed{}

	_, err := NewOrchestrator(nil, adapter, feed, primarySpec, StrategyFull, nil, nil)
	assert.ErrorIs(t, err, ErrNilLedger)

	_, err = NewOrchestrator(ledger, nil, feed, primarySpec, StrategyFull, nil, nil)
	assert.ErrorIs(t, err, ErrNilAdapter)

	_, err = NewOrchestrator(ledger, adapter, nil, primarySpec, StrategyFull, nil, nil)
	assert.ErrorIs(t, err, ErrNilFeed)

	_, err = NewOrchestrator(ledger, adapter, feed, primarySpec, Strategy("UPSERT"), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	_, err = NewOrchestrator(ledger, adapter, feed, TableSpec{}, StrategyFull, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyTableName)
}

func TestRunFullReconcilesActiveSet(t *testing.T) {
	store := newFakeStore()
	store.seed(primarySpec,
		itemRow("A", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		itemRow("B", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	)

	updated := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	feed := &fakeFeed{batches: []*Batch{
		itemBatch(updated, itemRow("A", updated), itemRow("C", updated)),
	}}

	ledger := &fakeLedger{}
	adapter := &fakeAdapter{store: store}

	result, err := newTestOrchestrator(t, ledger, adapter, feed, StrategyFull).Run(context.Background())
	require.NoError(t, err)

	// The active set after a FULL run is exactly the input key set.
	assert.ElementsMatch(t, []string{"A", "C"}, store.activeKeys("items"))
	assert.False(t, store.tables["items"]["B"].active)

	assert.Equal(t, int64(2), result.RecordsProcessed)
	assert.True(t, ledger.completed)
	assert.Equal(t, StrategyFull, result.Strategy)
}

func TestRunDeltaNeverDeactivates(t *testing.T) {
	store := newFakeStore()
	store.seed(primarySpec,
		itemRow("A", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		itemRow("B", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	)

	prior := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	feed := &fakeFeed{batches: []*Batch{itemBatch(updated, itemRow("A", updated))}}

	ledger := &fakeLedger{highWater: &prior}
	adapter := &fakeAdapter{store: store}

	_, err := newTestOrchestrator(t, ledger, adapter, feed, StrategyDelta).Run(context.Background())
	require.NoError(t, err)

	// B was absent from the delta and must stay active.
	assert.ElementsMatch(t, []string{"A", "B"}, store.activeKeys("items"))

	// The high-water mark bounded the extraction.
	require.Len(t, feed.since, 1)
	require.NotNil(t, feed.since[0])
	assert.Equal(t, prior, *feed.since[0])
}

func TestRunEmptyFullDeactivatesEverything(t *testing.T) {
	store := newFakeStore()
	store.seed(primarySpec, itemRow("A", time.Now()), itemRow("B", time.Now()))

	ledger := &fakeLedger{}
	adapter := &fakeAdapter{store: store}

	result, err := newTestOrchestrator(t, ledger, adapter, &fakeFeed{}, StrategyFull).Run(context.Background())
	require.NoError(t, err)

	// An empty snapshot is still a snapshot: nothing remains active.
	assert.Empty(t, store.activeKeys("items"))
	assert.Zero(t, result.RecordsProcessed)
	assert.True(t, ledger.completed)
}

func TestRunForcesFullWithoutPriorMark(t *testing.T) {
	store := newFakeStore()
	store.seed(primarySpec, itemRow("Old", time.Now()))

	updated := time.Now().UTC()
	feed := &fakeFeed{batches: []*Batch{itemBatch(updated, itemRow("New", updated))}}

	ledger := &fakeLedger{} // no prior SUCCESS
	adapter := &fakeAdapter{store: store}

	result, err := newTestOrchestrator(t, ledger, adapter, feed, StrategyDelta).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StrategyFull, result.Strategy)
	assert.Equal(t, StrategyFull, adapter.last.contexts["items"].strategy)

	// The forced FULL reconciled the active set.
	assert.ElementsMatch(t, []string{"New"}, store.activeKeys("items"))

	// The configured strategy still goes to the ledger.
	assert.Equal(t, []Strategy{StrategyDelta}, ledger.begun)

	// The feed was asked for an unbounded extraction.
	require.Len(t, feed.since, 1)
	assert.Nil(t, feed.since[0])
}

func TestRunMidStreamFailureLeavesStoreUntouched(t *testing.T) {
	store := newFakeStore()
	store.seed(primarySpec, itemRow("A", time.Now()))
	before := store.snapshot()

	updated := time.Now().UTC()
	feed := &fakeFeed{batches: []*Batch{
		itemBatch(updated, itemRow("B", updated)),
		itemBatch(updated, itemRow("C", updated)),
	}}

	ledger := &fakeLedger{}
	adapter := &fakeAdapter{store: store}

	// Fail the second staging call, after the first batch is already staged.
	orchestrator, err := NewOrchestrator(ledger, armedAdapter{adapter, func(s *fakeSession) {
		s.failBatch = 2
	}}, feed, primarySpec, StrategyFull, nil, nil)
	require.NoError(t, err)

	_, err = orchestrator.Run(context.Background())
	require.ErrorIs(t, err, ErrLoad)

	assert.True(t, adapter.last.rolledBack)
	assert.False(t, adapter.last.committed)
	assert.True(t, ledger.failed)
	assert.False(t, ledger.completed)
	assert.Equal(t, before, store.tables)
}

func TestRunFinalizeFailureRollsBack(t *testing.T) {
	store := newFakeStore()

	updated := time.Now().UTC()
	feed := &fakeFeed{batches: []*Batch{itemBatch(updated, itemRow("A", updated))}}

	ledger := &fakeLedger{}
	adapter := &fakeAdapter{store: store}

	orchestrator, err := NewOrchestrator(ledger, armedAdapter{adapter, func(s *fakeSession) {
		s.finalizeErr = fmt.Errorf("%w: duplicate key", ErrMerge)
	}}, feed, primarySpec, StrategyFull, nil, nil)
	require.NoError(t, err)

	_, err = orchestrator.Run(context.Background())
	require.ErrorIs(t, err, ErrMerge)

	assert.True(t, adapter.last.rolledBack)
	assert.True(t, ledger.failed)
	assert.Empty(t, store.tables)
}

// armedAdapter lets a test mutate the session right after Connect.
type armedAdapter struct {
	inner *fakeAdapter
	arm   func(*fakeSession)
}

func (a armedAdapter) Connect(ctx context.Context) (Session, error) {
	session, err := a.inner.Connect(ctx)
	if err != nil {
		return nil, err
	}

	a.arm(a.inner.last)

	return session, nil
}

func TestRunFeedErrorFailsRun(t *testing.T) {
	store := newFakeStore()

	updated := time.Now().UTC()
	feed := &fakeFeed{
		batches: []*Batch{itemBatch(updated, itemRow("A", updated)), nil},
		errAt:   2,
	}

	ledger := &fakeLedger{}
	adapter := &fakeAdapter{store: store}

	_, err := newTestOrchestrator(t, ledger, adapter, feed, StrategyFull).Run(context.Background())
	require.ErrorIs(t, err, ErrLoad)

	assert.True(t, adapter.last.rolledBack)
	assert.True(t, ledger.failed)
	assert.Contains(t, ledger.failedReason, "source connection reset")
}

func TestRunHighWaterMarkAdvances(t *testing.T) {
	prior := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	feed := &fakeFeed{batches: []*Batch{itemBatch(newer, itemRow("A", newer))}}
	ledger := &fakeLedger{highWater: &prior}
	adapter := &fakeAdapter{store: newFakeStore()}

	result, err := newTestOrchestrator(t, ledger, adapter, feed, StrategyDelta).Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, result.HighWaterMark)
	assert.Equal(t, newer, *result.HighWaterMark)
	assert.Equal(t, &newer, ledger.completedAt.mark)
}

func TestRunHighWaterMarkNeverRegresses(t *testing.T) {
	prior := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	feed := &fakeFeed{batches: []*Batch{itemBatch(older, itemRow("A", older))}}
	ledger := &fakeLedger{highWater: &prior}
	adapter := &fakeAdapter{store: newFakeStore()}

	result, err := newTestOrchestrator(t, ledger, adapter, feed, StrategyDelta).Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, result.HighWaterMark)
	assert.Equal(t, prior, *result.HighWaterMark)
}

func TestRunEmptyRunKeepsPriorMark(t *testing.T) {
	prior := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	ledger := &fakeLedger{highWater: &prior}
	adapter := &fakeAdapter{store: newFakeStore()}

	result, err := newTestOrchestrator(t, ledger, adapter, &fakeFeed{}, StrategyDelta).Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, result.HighWaterMark)
	assert.Equal(t, prior, *result.HighWaterMark)
}

func TestRunAmbiguousWhenLedgerUpdateFailsAfterCommit(t *testing.T) {
	store := newFakeStore()

	updated := time.Now().UTC()
	feed := &fakeFeed{batches: []*Batch{itemBatch(updated, itemRow("A", updated))}}

	ledger := &fakeLedger{completeErr: errors.New("ledger connection lost")}
	adapter := &fakeAdapter{store: store}

	_, err := newTestOrchestrator(t, ledger, adapter, feed, StrategyFull).Run(context.Background())
	require.ErrorIs(t, err, ErrAmbiguousRun)

	// The data transaction stays durable; no rollback, no FAILED entry.
	assert.True(t, adapter.last.committed)
	assert.False(t, adapter.last.rolledBack)
	assert.False(t, ledger.failed)
	assert.ElementsMatch(t, []string{"A"}, store.activeKeys("items"))
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	gate := make(chan struct{})
	connected := make(chan struct{})

	adapter := &fakeAdapter{store: newFakeStore(), gate: gate, connected: connected}
	orchestrator := newTestOrchestrator(t, &fakeLedger{}, adapter, &fakeFeed{}, StrategyFull)

	done := make(chan error, 1)
	go func() {
		_, err := orchestrator.Run(context.Background())
		done <- err
	}()

	<-connected

	_, err := orchestrator.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInFlight)

	close(gate)
	require.NoError(t, <-done)
}

func TestRunStampsExecutionID(t *testing.T) {
	updated := time.Now().UTC()
	feed := &fakeFeed{batches: []*Batch{itemBatch(updated, itemRow("A", updated))}}

	ledger := &fakeLedger{nextRunID: 41}
	adapter := &fakeAdapter{store: newFakeStore()}

	result, err := newTestOrchestrator(t, ledger, adapter, feed, StrategyFull).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.RunID)

	staged := adapter.last.contexts["items"].staged
	require.Len(t, staged, 1)
	assert.Equal(t, int64(42), staged[0]["run_id"])
}

func TestRunCountsOnlyPrimaryRows(t *testing.T) {
	updated := time.Now().UTC()
	batch := &Batch{
		Tables: []TableBatch{
			{Spec: primarySpec, Rows: []Row{itemRow("A", updated)}},
			{Spec: auxSpec, Rows: []Row{{"id": "A", "tag": "x"}, {"id": "A", "tag": "y"}}},
		},
		HighWater: updated,
	}

	ledger := &fakeLedger{}
	adapter := &fakeAdapter{store: newFakeStore()}

	result, err := newTestOrchestrator(t, ledger, adapter, &fakeFeed{batches: []*Batch{batch}}, StrategyFull).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.RecordsProcessed)

	// Auxiliary tables always merge incrementally.
	assert.Equal(t, StrategyDelta, adapter.last.contexts["item_tags"].strategy)

	// Finalize replays tables in first-seen order, primary first.
	assert.Equal(t, []string{"items", "item_tags"}, adapter.last.finalized)
}

func TestRunBeginRunFailurePropagates(t *testing.T) {
	ledger := &fakeLedger{beginErr: ErrRunInFlight}
	adapter := &fakeAdapter{store: newFakeStore()}

	_, err := newTestOrchestrator(t, ledger, adapter, &fakeFeed{}, StrategyFull).Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInFlight)
	assert.Nil(t, adapter.last)
}

// recordingObserver captures lifecycle notifications.
type recordingObserver struct {
	started []int64
	results []*RunResult
	failed  []int64
	causes  []error
}

func (o *recordingObserver) RunStarted(_ context.Context, runID int64, _ Strategy) {
	o.started = append(o.started, runID)
}

func (o *recordingObserver) RunSucceeded(_ context.Context, result *RunResult) {
	o.results = append(o.results, result)
}

func (o *recordingObserver) RunFailed(_ context.Context, runID int64, _ Strategy, cause error) {
	o.failed = append(o.failed, runID)
	o.causes = append(o.causes, cause)
}

func TestRunNotifiesObserverOnSuccess(t *testing.T) {
	updated := time.Now().UTC()
	feed := &fakeFeed{batches: []*Batch{itemBatch(updated, itemRow("A", updated))}}

	ledger := &fakeLedger{nextRunID: 6}
	adapter := &fakeAdapter{store: newFakeStore()}
	observer := &recordingObserver{}

	orchestrator, err := NewOrchestrator(ledger, adapter, feed, primarySpec, StrategyFull, observer, nil)
	require.NoError(t, err)

	result, err := orchestrator.Run(context.Background())
	require.NoError(t, err)

	// The observer sees the ledger's run id, not a placeholder.
	assert.Equal(t, []int64{7}, observer.started)
	require.Len(t, observer.results, 1)
	assert.Equal(t, result, observer.results[0])
	assert.Empty(t, observer.failed)
}

func TestRunNotifiesObserverOnFailure(t *testing.T) {
	updated := time.Now().UTC()
	feed := &fakeFeed{batches: []*Batch{itemBatch(updated, itemRow("A", updated))}, errAt: 1}

	ledger := &fakeLedger{nextRunID: 6}
	adapter := &fakeAdapter{store: newFakeStore()}
	observer := &recordingObserver{}

	orchestrator, err := NewOrchestrator(ledger, adapter, feed, primarySpec, StrategyFull, observer, nil)
	require.NoError(t, err)

	_, err = orchestrator.Run(context.Background())
	require.ErrorIs(t, err, ErrLoad)

	assert.Equal(t, []int64{7}, observer.started)
	assert.Equal(t, []int64{7}, observer.failed)
	require.Len(t, observer.causes, 1)
	assert.ErrorIs(t, observer.causes[0], ErrLoad)
	assert.Empty(t, observer.results)
}

func TestRunNotifiesObserverOnAmbiguousRun(t *testing.T) {
	updated := time.Now().UTC()
	feed := &fakeFeed{batches: []*Batch{itemBatch(updated, itemRow("A", updated))}}

	ledger := &fakeLedger{completeErr: errors.New("ledger connection lost")}
	adapter := &fakeAdapter{store: newFakeStore()}
	observer := &recordingObserver{}

	orchestrator, err := NewOrchestrator(ledger, adapter, feed, primarySpec, StrategyFull, observer, nil)
	require.NoError(t, err)

	_, err = orchestrator.Run(context.Background())
	require.ErrorIs(t, err, ErrAmbiguousRun)

	assert.Equal(t, []int64{1}, observer.failed)
	require.Len(t, observer.causes, 1)
	assert.ErrorIs(t, observer.causes[0], ErrAmbiguousRun)
}

func TestRunIdempotentDelta(t *testing.T) {
	store := newFakeStore()

	// Lineage stamping aside, replaying an identical delta must not change
	// the store, so the spec here carries no execution-id column.
	spec := primarySpec
	spec.ExecutionIDColumn = ""
	spec.Columns = []string{"id", "name", "updated", "is_active"}

	prior := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	makeFeed := func() *fakeFeed {
		return &fakeFeed{batches: []*Batch{{
			Tables:    []TableBatch{{Spec: spec, Rows: []Row{itemRow("A", updated)}}},
			HighWater: updated,
		}}}
	}

	ledger := &fakeLedger{highWater: &prior}
	adapter := &fakeAdapter{store: store}

	run := func(feed *fakeFeed) {
		orchestrator, err := NewOrchestrator(ledger, adapter, feed, spec, StrategyDelta, nil, nil)
		require.NoError(t, err)

		_, err = orchestrator.Run(context.Background())
		require.NoError(t, err)
	}

	run(makeFeed())
	after := store.snapshot()

	run(makeFeed())
	assert.Equal(t, after, store.snapshot())
}
