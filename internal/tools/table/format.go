package table

import (
	"fmt"
	"sort"
	"strings"

	"tablesearch/internal/store"
)

const (
	maxMismatchSamples  = 3
	maxDuplicateSamples = 5
	maxInsertedSamples  = 10
	sampleValueLength   = 50
)

// FormatInsertReport renders an insert report for the worker. Column
// mismatches come first since those records need to be resent.
func FormatInsertReport(table string, records []map[string]any, r *store.InsertReport) string {
	var sb strings.Builder
	sb.WriteString("Insert finished.\n")
	fmt.Fprintf(&sb, "Records submitted: %d\n", r.Total)
	fmt.Fprintf(&sb, "Records inserted: %d\n", r.InsertedCount())

	if len(r.ColumnMismatch) > 0 {
		fmt.Fprintf(&sb, "\n%d record(s) use column names that are not in the table schema and were NOT inserted. Resend them.\n",
			len(r.ColumnMismatch))
		fmt.Fprintf(&sb, "Columns of table '%s' (use exactly these names): %s\n", table, strings.Join(r.Columns, ", "))
		for i, m := range r.ColumnMismatch {
			if i == maxMismatchSamples {
				fmt.Fprintf(&sb, "  ... %d more record(s) with the same problem\n", len(r.ColumnMismatch)-maxMismatchSamples)
				break
			}
			fmt.Fprintf(&sb, "  Record %d: used [%s], unknown [%s]\n",
				m.Index, strings.Join(m.Columns, ", "), strings.Join(m.Unknown, ", "))
		}
	}

	if n := r.SkippedCount(); n > 0 {
		fmt.Fprintf(&sb, "\nRecords skipped: %d\n", n)
		if len(r.Duplicates) > 0 {
			fmt.Fprintf(&sb, "  - already in the table: %d\n", len(r.Duplicates))
			for i, idx := range r.Duplicates {
				if i == maxDuplicateSamples {
					fmt.Fprintf(&sb, "    ... %d more\n", len(r.Duplicates)-maxDuplicateSamples)
					break
				}
				fmt.Fprintf(&sb, "    Record %d: %s\n", idx, summarize(records[idx], 3))
			}
			sb.WriteString("  Use update_records to fill in missing fields of existing records.\n")
		}
		if len(r.AllNull) > 0 {
			fmt.Fprintf(&sb, "  - every field empty: %d\n", len(r.AllNull))
		}
	}

	if len(r.IgnoredColumns) > 0 {
		fmt.Fprintf(&sb, "\nIgnored columns not in the schema: %s\n", strings.Join(r.IgnoredColumns, ", "))
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&sb, "\nErrors: %d\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&sb, "  %s\n", e)
		}
	}

	if len(r.Inserted) > 0 {
		shown := min(len(r.Inserted), maxInsertedSamples)
		fmt.Fprintf(&sb, "\nInserted (first %d):\n", shown)
		for i, idx := range r.Inserted[:shown] {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, summarize(records[idx], 5))
		}
		if len(r.Inserted) > shown {
			fmt.Fprintf(&sb, "  ... %d more inserted\n", len(r.Inserted)-shown)
		}
	}

	fmt.Fprintf(&sb, "\nTable '%s' now holds %d record(s).", table, r.TableTotal)
	return sb.String()
}

// summarize renders up to n non-empty fields of a record as k=v pairs.
func summarize(rec map[string]any, n int) string {
	keys := make([]string, 0, len(rec))
	for k, v := range rec {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "(all fields empty)"
	}
	sort.Strings(keys)

	parts := make([]string, 0, n)
	for _, k := range keys[:min(n, len(keys))] {
		v := store.FormatValue(rec[k])
		if r := []rune(v); len(r) > sampleValueLength {
			v = string(r[:sampleValueLength])
		}
		parts = append(parts, k+"="+v)
	}
	out := strings.Join(parts, ", ")
	if len(keys) > n {
		out += fmt.Sprintf(" ... (%d fields)", len(keys))
	}
	return out
}

// FormatRows renders query results as a markdown table.
func FormatRows(table string, data *store.TableData) string {
	if len(data.Rows) == 0 {
		return "No records match the specified criteria."
	}
	return fmt.Sprintf("Found %d matching records in table '%s':\n\n%s",
		len(data.Rows), table, store.RenderMarkdown([]store.TableData{*data}))
}

func formatInfo(info *store.TableInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Table: %s\n", info.Table)
	fmt.Fprintf(&sb, "Records: %d\n", info.Records)
	fmt.Fprintf(&sb, "Columns: %d (%s)\n", len(info.Columns), strings.Join(info.Columns, ", "))
	fmt.Fprintf(&sb, "Created: %s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))
	if info.LastOperation != "" {
		fmt.Fprintf(&sb, "Last operation: %s (%d total)\n", info.LastOperation, info.OperationCount)
	}
	return sb.String()
}
