package load

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy selects how a run reconciles the target store with the source.
type Strategy string

const (
	// StrategyFull reconciles the entire active set against a complete
	// snapshot: every active record absent from the input is soft-deleted.
	StrategyFull Strategy = "FULL"

	// StrategyDelta applies only records changed since the last successful
	// run. A delta never soft-deletes because its input is not a complete
	// snapshot.
	StrategyDelta Strategy = "DELTA"
)

// ErrInvalidStrategy is returned for strategy values other than FULL or DELTA.
var ErrInvalidStrategy = errors.New("invalid load strategy")

// ParseStrategy converts a configuration string into a Strategy,
// case-insensitively.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(value))) {
	case StrategyFull:
		return StrategyFull, nil
	case StrategyDelta:
		return StrategyDelta, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: FULL, DELTA)", ErrInvalidStrategy, value)
	}
}

// IsValid reports whether s is one of the defined strategies.
func (s Strategy) IsValid() bool {
	return s == StrategyFull || s == StrategyDelta
}

func (s Strategy) String() string {
	return string(s)
}
