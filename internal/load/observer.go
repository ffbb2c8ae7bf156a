package load

import "context"

// RunObserver receives run lifecycle notifications from the orchestrator.
// Observers are strictly informational: they cannot veto or alter a run, and
// implementations must not block longer than they can afford.
type RunObserver interface {
	// RunStarted fires once the ledger has admitted the run.
	RunStarted(ctx context.Context, runID int64, strategy Strategy)

	// RunSucceeded fires after the run's ledger entry reached SUCCESS.
	RunSucceeded(ctx context.Context, result *RunResult)

	// RunFailed fires with the run's id and root cause on any terminal
	// failure, including the ambiguous post-commit case.
	RunFailed(ctx context.Context, runID int64, strategy Strategy, cause error)
}

// noopObserver stands in when no observer is configured.
type noopObserver struct{}

func (noopObserver) RunStarted(context.Context, int64, Strategy)       {}
func (noopObserver) RunSucceeded(context.Context, *RunResult)          {}
func (noopObserver) RunFailed(context.Context, int64, Strategy, error) {}
