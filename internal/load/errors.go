package load

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the load subsystem's error taxonomy. None of these
// are retried inside the adapter or the ledger; retry policy belongs to the
// caller of the orchestrator.
var (
	// ErrConnection is returned when the target store is unreachable or
	// rejects authentication.
	ErrConnection = errors.New("target store connection failed")

	// ErrLoad is returned when a batch cannot be appended to the staging
	// area. Extraction failures surface through the same family so the
	// orchestrator's failure handling stays uniform.
	ErrLoad = errors.New("bulk load failed")

	// ErrMerge is returned when the finalize-time set-based merge violates a
	// constraint or the commit fails.
	ErrMerge = errors.New("merge failed")

	// ErrPersistence is returned when the execution ledger cannot be read or
	// written.
	ErrPersistence = errors.New("execution ledger persistence failed")
)

// ErrRunInFlight is returned by BeginRun when another execution record is
// still RUNNING. It wraps ErrPersistence so callers matching the broad family
// still catch it.
var ErrRunInFlight = fmt.Errorf("%w: another run is in flight", ErrPersistence)

// ErrAmbiguousRun is returned when the data transaction committed but the
// ledger could not record the success. The loaded data is durable, the ledger
// disagrees, and the run must be reconciled manually rather than retried.
var ErrAmbiguousRun = fmt.Errorf("%w: data committed but success not recorded", ErrPersistence)
