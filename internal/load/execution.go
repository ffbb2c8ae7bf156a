package load

import "time"

// RunStatus is the lifecycle state of an execution record.
type RunStatus string

const (
	// RunStatusRunning marks a run that has started and not yet resolved.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSuccess marks a run whose data transaction committed and
	// whose high-water mark is durable.
	RunStatusSuccess RunStatus = "SUCCESS"

	// RunStatusFailed marks a run that was rolled back, crashed, or was
	// reconciled as stale.
	RunStatusFailed RunStatus = "FAILED"
)

// ExecutionRecord is one row of the execution ledger. Created at run start
// with status RUNNING, mutated exactly once at run end, never deleted.
type ExecutionRecord struct {
	ID               int64
	StartedAt        time.Time
	EndedAt          *time.Time
	Status           RunStatus
	Strategy         Strategy
	SourceVersion    string
	RecordsProcessed *int64
	HighWaterMark    *time.Time
	Reason           string // human-readable failure reason, empty otherwise
}

// Resolved reports whether the record reached a terminal status.
func (r *ExecutionRecord) Resolved() bool {
	return r.Status == RunStatusSuccess || r.Status == RunStatusFailed
}
