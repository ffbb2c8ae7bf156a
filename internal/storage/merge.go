package storage

import (
	"fmt"
	"strings"

	"github.com/epar-io/eparload/internal/load"
)

// stagingSeqColumn orders rows within a staging table so that when one batch
// carries two rows for the same natural key, the later row wins the merge.
const stagingSeqColumn = "staging_seq"

// stagingTableName derives the transaction-scoped staging table name.
func stagingTableName(table string) string {
	return "staging_" + table
}

// createStagingSQL returns the statements that build a staging table
// mirroring the target's shape. TEMP tables live in the session's private
// schema, are invisible to concurrent readers, and ON COMMIT DROP discards
// them with the transaction on both commit and abort.
func createStagingSQL(table string) []string {
	staging := stagingTableName(table)

	return []string{
		fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", staging, table),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s BIGSERIAL", staging, stagingSeqColumn),
	}
}

// mergeSQL builds the idempotent set-based merge from staging into the
// permanent table: insert new natural keys, update existing ones. For a
// DELTA merge with a CDC column the update only applies while the staged
// value is at least as new, so replaying an old batch never regresses a row.
// A FULL snapshot is authoritative and overwrites unconditionally: a key
// present in the snapshot must end up active even when the source corrected
// its timestamp backwards. DISTINCT ON with a descending staging sequence
// makes the later of two same-key rows in one batch win.
func mergeSQL(spec load.TableSpec, strategy load.Strategy) string {
	keys := strings.Join(spec.KeyColumns, ", ")
	columns := strings.Join(spec.Columns, ", ")
	staging := stagingTableName(spec.Table)

	var b strings.Builder

	fmt.Fprintf(&b, "INSERT INTO %s AS t (%s)\n", spec.Table, columns)
	fmt.Fprintf(&b, "SELECT DISTINCT ON (%s) %s\n", keys, columns)
	fmt.Fprintf(&b, "FROM %s\n", staging)
	fmt.Fprintf(&b, "ORDER BY %s, %s DESC\n", keys, stagingSeqColumn)

	updates := spec.NonKeyColumns()
	if len(updates) == 0 {
		fmt.Fprintf(&b, "ON CONFLICT (%s) DO NOTHING", keys)

		return b.String()
	}

	assignments := make([]string, 0, len(updates))
	for _, col := range updates {
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	fmt.Fprintf(&b, "ON CONFLICT (%s) DO UPDATE SET\n\t%s", keys, strings.Join(assignments, ",\n\t"))

	if strategy == load.StrategyDelta && spec.CDCColumn != "" {
		fmt.Fprintf(&b, "\nWHERE EXCLUDED.%s >= t.%s", spec.CDCColumn, spec.CDCColumn)
	}

	return b.String()
}

// softDeleteSQL builds the FULL-run reconciliation statement: every active
// row whose natural key is absent from staging is marked inactive. Returns
// the statement and its arguments; the touch timestamp and run lineage are
// recorded when the spec declares those columns.
func softDeleteSQL(spec load.TableSpec, asOf any, runID int64) (string, []any) {
	staging := stagingTableName(spec.Table)

	assignments := []string{spec.SoftDeleteColumn + " = FALSE"}
	args := make([]any, 0, 2)

	if spec.LoadTimestampColumn != "" {
		args = append(args, asOf)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", spec.LoadTimestampColumn, len(args)))
	}

	if spec.ExecutionIDColumn != "" {
		args = append(args, runID)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", spec.ExecutionIDColumn, len(args)))
	}

	conditions := make([]string, 0, len(spec.KeyColumns))
	for _, key := range spec.KeyColumns {
		conditions = append(conditions, fmt.Sprintf("s.%s = t.%s", key, key))
	}

	statement := fmt.Sprintf(
		"UPDATE %s AS t\nSET %s\nWHERE t.%s\n  AND NOT EXISTS (SELECT 1 FROM %s AS s WHERE %s)",
		spec.Table,
		strings.Join(assignments, ", "),
		spec.SoftDeleteColumn,
		staging,
		strings.Join(conditions, " AND "),
	)

	return statement, args
}

// refreshDeleteSQL builds the wholesale-refresh delete for association
// tables: rows whose refresh key appears in staging are removed before the
// staged associations are inserted, so the link set for each staged parent
// matches this load exactly.
func refreshDeleteSQL(spec load.TableSpec) string {
	staging := stagingTableName(spec.Table)

	return fmt.Sprintf(
		"DELETE FROM %s AS t\nUSING (SELECT DISTINCT %s FROM %s) AS s\nWHERE t.%s = s.%s",
		spec.Table,
		spec.RefreshKeyColumn,
		staging,
		spec.RefreshKeyColumn,
		spec.RefreshKeyColumn,
	)
}
