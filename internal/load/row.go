package load

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Row is a fully formed record ready for bulk ingestion: a mapping from
// column name to value. The load subsystem never re-validates field types,
// only the structural completeness needed for the merge key.
type Row map[string]any

// Sentinel errors for table specification validation.
var (
	ErrEmptyTableName  = errors.New("table name cannot be empty")
	ErrNoColumns       = errors.New("table spec must declare at least one column")
	ErrNoKeyColumns    = errors.New("table spec must declare at least one key column")
	ErrUnknownColumn   = errors.New("column not declared in table spec")
	ErrMissingKeyValue = errors.New("row is missing a merge key value")
)

// TableSpec describes the shape of one target table for the adapter port:
// which columns a staged row carries, which of them form the natural key, and
// which columns drive change-data-capture, soft deletion, and run lineage.
type TableSpec struct {
	// Table is the permanent table name.
	Table string

	// Columns is the full ordered column list staged rows must follow.
	Columns []string

	// KeyColumns is the natural key the merge upserts on.
	KeyColumns []string

	// CDCColumn, when set, guards updates: an existing row is only
	// overwritten when the staged row's value is at least as new.
	CDCColumn string

	// SoftDeleteColumn, when set, is flipped to false on active rows absent
	// from a FULL run's staging set. Only the primary table soft-deletes.
	SoftDeleteColumn string

	// ExecutionIDColumn, when set, is stamped with the current run's
	// execution id before staging, recording which run last touched a row.
	ExecutionIDColumn string

	// LoadTimestampColumn, when set, is refreshed to the finalize timestamp
	// on rows the merge deactivates, so soft-deleted rows also record when
	// they were last touched.
	LoadTimestampColumn string

	// RefreshKeyColumn, when set, makes finalize recreate associations
	// wholesale: rows whose refresh key appears in staging are deleted from
	// the permanent table before the staged rows are inserted.
	RefreshKeyColumn string

	// Primary marks the table whose rows drive the run strategy, the
	// records-processed count, and the high-water mark.
	Primary bool
}

// Validate checks the spec's internal consistency.
func (s TableSpec) Validate() error {
	if s.Table == "" {
		return ErrEmptyTableName
	}

	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: table %s", ErrNoColumns, s.Table)
	}

	if len(s.KeyColumns) == 0 {
		return fmt.Errorf("%w: table %s", ErrNoKeyColumns, s.Table)
	}

	for _, key := range s.KeyColumns {
		if !slices.Contains(s.Columns, key) {
			return fmt.Errorf("%w: key column %q in table %s", ErrUnknownColumn, key, s.Table)
		}
	}

	for _, col := range []string{s.CDCColumn, s.SoftDeleteColumn, s.ExecutionIDColumn, s.LoadTimestampColumn, s.RefreshKeyColumn} {
		if col != "" && !slices.Contains(s.Columns, col) {
			return fmt.Errorf("%w: %q in table %s", ErrUnknownColumn, col, s.Table)
		}
	}

	return nil
}

// NonKeyColumns returns the columns that are updated on merge conflict, in
// declaration order.
func (s TableSpec) NonKeyColumns() []string {
	out := make([]string, 0, len(s.Columns))

	for _, col := range s.Columns {
		if !slices.Contains(s.KeyColumns, col) {
			out = append(out, col)
		}
	}

	return out
}

// CheckKeys verifies structural completeness of a row: every merge key column
// must be present and non-nil. Field types are the extractor's business.
func (s TableSpec) CheckKeys(row Row) error {
	for _, key := range s.KeyColumns {
		value, ok := row[key]
		if !ok || value == nil {
			return fmt.Errorf("%w: column %q in table %s", ErrMissingKeyValue, key, s.Table)
		}
	}

	return nil
}

// TableBatch is one table's slice of a feed batch.
type TableBatch struct {
	Spec TableSpec
	Rows []Row
}

// Batch is one unit of work handed from the extractor boundary to the
// orchestrator. Tables must be listed in foreign-key dependency order;
// finalize replays them in the order they were first seen.
type Batch struct {
	Tables []TableBatch

	// HighWater is the maximum source-side last-modified timestamp observed
	// in this batch's primary rows. Zero when the batch carries none.
	HighWater time.Time
}
