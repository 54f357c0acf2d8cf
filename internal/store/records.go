package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"tablesearch/internal/logging"
)

// InsertReport summarizes an Insert call record by record. Indexes refer to
// positions in the records passed to Insert.
type InsertReport struct {
	Collection string
	Columns    []string
	Total      int

	Inserted       []int
	Duplicates     []int
	AllNull        []int
	ColumnMismatch []ColumnMismatch
	// IgnoredColumns lists columns outside the schema that were dropped from
	// otherwise valid records.
	IgnoredColumns []string
	Errors         []string

	// TableTotal is the record count after the insert.
	TableTotal int
}

// ColumnMismatch describes a record whose data sat entirely in columns the
// schema does not define.
type ColumnMismatch struct {
	Index   int
	Columns []string
	Unknown []string
	Record  Record
}

// InsertedCount is len(Inserted).
func (r *InsertReport) InsertedCount() int { return len(r.Inserted) }

// SkippedCount counts duplicates and all-null records.
func (r *InsertReport) SkippedCount() int { return len(r.Duplicates) + len(r.AllNull) }

// UpdateResult reports how many records matched an update filter and how
// many of those actually changed.
type UpdateResult struct {
	Matched  int
	Modified int
}

type storedRecord struct {
	id     int64
	record Record
}

// Insert adds records to a table. Each record is projected onto the schema:
// missing columns become null and unknown columns are dropped. A record is
// skipped when every schema column is null, when all of its data sat in
// unknown columns, or when an existing record (or an earlier record of the
// same batch) already holds the same non-null values.
func (s *Store) Insert(ctx context.Context, taskID, table string, records []map[string]any) (*InsertReport, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	name := CollectionName(taskID, table)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	info, err := loadSchema(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	existing, err := s.loadRecords(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	known := make([]Record, 0, len(existing)+len(records))
	for _, e := range existing {
		known = append(known, e.record)
	}

	report := &InsertReport{Collection: name, Columns: info.Columns, Total: len(records)}
	schemaCols := make(map[string]bool, len(info.Columns))
	for _, c := range info.Columns {
		schemaCols[c] = true
	}
	ignored := make(map[string]bool)
	now := time.Now().UTC()

	for i, raw := range records {
		if len(raw) == 0 {
			report.AllNull = append(report.AllNull, i)
			continue
		}
		rec, unknown := project(raw, info.Columns, schemaCols)

		if len(unknown) > 0 && hasData(Record(raw)) && !hasData(rec) {
			report.ColumnMismatch = append(report.ColumnMismatch, ColumnMismatch{
				Index:   i,
				Columns: sortedKeys(raw),
				Unknown: unknown,
				Record:  Record(raw),
			})
			logging.StoreWarn("Record %d of '%s' uses unknown columns %v", i, name, unknown)
			continue
		}
		for _, u := range unknown {
			ignored[u] = true
		}

		probe := nonNull(rec)
		if len(probe) == 0 {
			report.AllNull = append(report.AllNull, i)
			continue
		}
		if containsMatch(known, probe) {
			report.Duplicates = append(report.Duplicates, i)
			continue
		}

		data, err := json.Marshal(rec)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO table_records (collection, data, created_at) VALUES (?, ?, ?)",
			name, string(data), now); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		report.Inserted = append(report.Inserted, i)
		known = append(known, rec)
	}

	touch(ctx, tx, name, "add_records")
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit insert: %w", err)
	}

	report.IgnoredColumns = sortedKeys(ignored)
	report.TableTotal = len(existing) + len(report.Inserted)
	logging.Store("Added %d records to '%s', skipped %d (mismatch %d, errors %d)",
		len(report.Inserted), name, report.SkippedCount(), len(report.ColumnMismatch), len(report.Errors))
	return report, nil
}

// project maps raw onto the schema columns and returns the columns of raw
// the schema does not define. Values are normalized through JSON so they
// compare equal to values read back from the database.
func project(raw map[string]any, columns []string, schema map[string]bool) (Record, []string) {
	rec := make(Record, len(columns))
	for _, c := range columns {
		rec[c] = normalize(raw[c])
	}
	var unknown []string
	for k := range raw {
		if !schema[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return rec, unknown
}

func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

// hasData reports whether any value is neither null nor an empty string.
func hasData(r Record) bool {
	for _, v := range r {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return true
	}
	return false
}

func nonNull(r Record) Filter {
	f := make(Filter, len(r))
	for k, v := range r {
		if v != nil {
			f[k] = map[string]any{"$eq": v}
		}
	}
	return f
}

func containsMatch(records []Record, probe Filter) bool {
	for _, r := range records {
		if ok, _ := probe.Matches(r); ok {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Update sets fields on every record matching filter. Fields outside the
// schema are rejected before any record is touched.
func (s *Store) Update(ctx context.Context, taskID, table string, filter Filter, fields map[string]any) (*UpdateResult, error) {
	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	name := CollectionName(taskID, table)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	info, err := loadSchema(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	schemaCols := make(map[string]bool, len(info.Columns))
	for _, c := range info.Columns {
		schemaCols[c] = true
	}
	var invalid []string
	for k := range fields {
		if !schemaCols[k] {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, fmt.Errorf("%w: %s. Available columns: %s",
			ErrUnknownColumns, strings.Join(invalid, ", "), strings.Join(info.Columns, ", "))
	}

	rows, err := s.loadRecords(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{}
	for _, row := range rows {
		ok, err := filter.Matches(row.record)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		result.Matched++

		changed := false
		for k, v := range fields {
			nv := normalize(v)
			if cur, present := row.record[k]; present && equalValue(cur, nv) {
				continue
			}
			row.record[k] = nv
			changed = true
		}
		if !changed {
			continue
		}
		data, err := json.Marshal(row.record)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %d: %w", row.id, err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE table_records SET data = ? WHERE id = ?", string(data), row.id); err != nil {
			return nil, fmt.Errorf("failed to update record %d: %w", row.id, err)
		}
		result.Modified++
	}

	if result.Matched > 0 {
		touch(ctx, tx, name, "update_records")
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	logging.Store("Updated %d of %d matching records in '%s'", result.Modified, result.Matched, name)
	return result, nil
}

// equalValue is strict equality: no array-element matching.
func equalValue(a, b any) bool {
	if _, ok := a.([]any); ok {
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		return string(ja) == string(jb)
	}
	return equals(a, b)
}

// Query returns up to limit records matching filter in insertion order.
// A limit <= 0 selects DefaultQueryLimit.
func (s *Store) Query(ctx context.Context, taskID, table string, filter Filter, limit int) (*TableData, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	name := CollectionName(taskID, table)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	info, err := loadSchema(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	rows, err := s.loadRecords(ctx, s.db, name)
	if err != nil {
		return nil, err
	}

	out := &TableData{Schema: info.Schema}
	for _, row := range rows {
		ok, err := filter.Matches(row.record)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out.Rows = append(out.Rows, row.record)
		if len(out.Rows) >= limit {
			break
		}
	}
	logging.StoreDebug("Query on '%s' returned %d records", name, len(out.Rows))
	return out, nil
}

// Count counts records matching filter. With allNonNull set, only records
// whose every schema column is non-null are counted.
func (s *Store) Count(ctx context.Context, taskID, table string, filter Filter, allNonNull bool) (int, error) {
	name := CollectionName(taskID, table)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	info, err := loadSchema(ctx, s.db, name)
	if err != nil {
		return 0, err
	}
	rows, err := s.loadRecords(ctx, s.db, name)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		ok, err := filter.Matches(row.record)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if allNonNull && !complete(row.record, info.Columns) {
			continue
		}
		count++
	}
	return count, nil
}

func complete(r Record, columns []string) bool {
	for _, c := range columns {
		if r[c] == nil {
			return false
		}
	}
	return true
}

func (s *Store) loadRecords(ctx context.Context, q querier, name string) ([]storedRecord, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, data FROM table_records WHERE collection = ? ORDER BY id", name)
	if err != nil {
		return nil, fmt.Errorf("failed to read records for '%s': %w", name, err)
	}
	defer rows.Close()

	var out []storedRecord
	for rows.Next() {
		var (
			id   int64
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			logging.StoreWarn("Skipping corrupt record %d in '%s': %v", id, name, err)
			continue
		}
		out = append(out, storedRecord{id: id, record: rec})
	}
	return out, rows.Err()
}
