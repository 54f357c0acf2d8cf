package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverModernc, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"table_schemas", "table_records"} {
		if !tableExists(s.db, table) {
			t.Errorf("table %s missing after Open", table)
		}
	}
	for _, m := range pendingMigrations {
		if !columnExists(s.db, m.Table, m.Column) {
			t.Errorf("migration column %s.%s missing", m.Table, m.Column)
		}
	}
	assert.Equal(t, CurrentSchemaVersion, schemaVersion(s.db))
}

func TestOpenFileAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "records.db")
	ctx := context.Background()

	s, err := Open("", path)
	require.NoError(t, err)
	_, err = s.DefineSchema(ctx, "ws_0001", "cities", []string{"name"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "ws_0001", "cities", []map[string]any{{"name": "Lyon"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(DriverModernc, path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(ctx, "ws_0001", "cities", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", ":memory:")
	assert.Error(t, err)
}

func TestCollectionNameValidation(t *testing.T) {
	assert.Equal(t, "ws_0001_cities", CollectionName("ws_0001", "cities"))
	assert.Equal(t, "cities", CollectionName("", "cities"))

	valid := []string{"ws_0001_cities", "a.b", "x-y$z"}
	for _, name := range valid {
		assert.NoError(t, ValidateCollectionName(name), name)
	}
	invalid := []string{"", "_hidden", "system.users", "has space", "semi;colon", string(make([]byte, 101))}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateCollectionName(name), ErrInvalidTableName, name)
	}
}

func TestDefineSchemaReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	schema, err := s.DefineSchema(ctx, "t1", "people", []string{"name", " age ", "name", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age"}, schema.Columns)
	assert.Equal(t, "t1_people", schema.Collection)

	_, err = s.Insert(ctx, "t1", "people", []map[string]any{{"name": "Ada", "age": 36}})
	require.NoError(t, err)

	_, err = s.DefineSchema(ctx, "t1", "people", []string{"name", "field"})
	require.NoError(t, err)

	info, err := s.Describe(ctx, "t1", "people")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Records)
	assert.Equal(t, []string{"name", "field"}, info.Columns)
	assert.Equal(t, "create", info.LastOperation)
}

func TestDefineSchemaErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.DefineSchema(ctx, "t1", "people", nil)
	assert.ErrorIs(t, err, ErrNoColumns)

	_, err = s.DefineSchema(ctx, "", "_people", []string{"a"})
	assert.ErrorIs(t, err, ErrInvalidTableName)
}

func TestInsertReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.DefineSchema(ctx, "t1", "cities", []string{"name", "country", "population"})
	require.NoError(t, err)

	report, err := s.Insert(ctx, "t1", "cities", []map[string]any{
		{"name": "Paris", "country": "FR", "population": 2100000},
		{"name": "Lyon"},                                    // padded
		{"name": "Paris", "country": "FR"},                  // duplicate of 0 on non-null fields
		{"name": nil, "country": nil},                       // all null
		{"city": "Berlin", "nation": "DE"},                  // column mismatch
		{"name": "Nice", "mayor": "someone"},                // unknown column ignored
		{},                                                  // empty
		{"name": "Lyon", "country": nil, "population": nil}, // duplicate within batch
	})
	require.NoError(t, err)

	assert.Equal(t, 8, report.Total)
	assert.Equal(t, []int{0, 1, 5}, report.Inserted)
	assert.Equal(t, []int{2, 7}, report.Duplicates)
	assert.Equal(t, []int{3, 6}, report.AllNull)
	require.Len(t, report.ColumnMismatch, 1)
	assert.Equal(t, 4, report.ColumnMismatch[0].Index)
	assert.Equal(t, []string{"city", "nation"}, report.ColumnMismatch[0].Unknown)
	assert.Equal(t, []string{"mayor"}, report.IgnoredColumns)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 3, report.TableTotal)
	assert.Equal(t, 4, report.SkippedCount())

	data, err := s.Query(ctx, "t1", "cities", Filter{"name": "Lyon"}, 0)
	require.NoError(t, err)
	require.Len(t, data.Rows, 1)
	assert.Contains(t, data.Rows[0], "country")
	assert.Nil(t, data.Rows[0]["country"])
	assert.NotContains(t, data.Rows[0], "mayor")
}

func TestInsertDuplicateAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.DefineSchema(ctx, "t1", "cities", []string{"name", "population"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, "t1", "cities", []map[string]any{{"name": "Paris", "population": 2100000}})
	require.NoError(t, err)

	// int and float64 of the same value are the same record
	report, err := s.Insert(ctx, "t1", "cities", []map[string]any{{"name": "Paris", "population": 2100000.0}})
	require.NoError(t, err)
	assert.Empty(t, report.Inserted)
	assert.Equal(t, []int{0}, report.Duplicates)
}

func TestInsertErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "t1", "missing", []map[string]any{{"a": 1}})
	assert.ErrorIs(t, err, ErrTableNotFound)

	_, err = s.Insert(ctx, "t1", "missing", nil)
	assert.ErrorIs(t, err, ErrNoRecords)
}

func seedCities(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	_, err := s.DefineSchema(ctx, "t1", "cities", []string{"name", "country", "population"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "t1", "cities", []map[string]any{
		{"name": "Paris", "country": "FR", "population": 2100000},
		{"name": "Lyon", "country": "FR", "population": 520000},
		{"name": "Brussels", "country": "BE"},
		{"name": "Berlin", "country": "DE", "population": 3600000},
	})
	require.NoError(t, err)
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCities(t, s)

	res, err := s.Update(ctx, "t1", "cities", Filter{"country": "FR"}, map[string]any{"country": "France"})
	require.NoError(t, err)
	assert.Equal(t, &UpdateResult{Matched: 2, Modified: 2}, res)

	res, err = s.Update(ctx, "t1", "cities", Filter{"name": "Paris"}, map[string]any{"country": "France"})
	require.NoError(t, err)
	assert.Equal(t, &UpdateResult{Matched: 1, Modified: 0}, res)

	res, err = s.Update(ctx, "t1", "cities", Filter{"name": "Nowhere"}, map[string]any{"country": "X"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Matched)

	n, err := s.Count(ctx, "t1", "cities", Filter{"country": "France"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	info, err := s.Describe(ctx, "t1", "cities")
	require.NoError(t, err)
	assert.Equal(t, "update_records", info.LastOperation)
}

func TestUpdateRejectsUnknownColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCities(t, s)

	_, err := s.Update(ctx, "t1", "cities", nil, map[string]any{"mayor": "x", "area": 1})
	require.ErrorIs(t, err, ErrUnknownColumns)
	assert.Contains(t, err.Error(), "area, mayor")
	assert.Contains(t, err.Error(), "Available columns: name, country, population")

	_, err = s.Update(ctx, "t1", "cities", nil, nil)
	assert.ErrorIs(t, err, ErrNoFields)
}

func TestQueryAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCities(t, s)

	data, err := s.Query(ctx, "t1", "cities", Filter{"population": map[string]any{"$gte": 1000000.0}}, 0)
	require.NoError(t, err)
	var names []string
	for _, r := range data.Rows {
		names = append(names, r["name"].(string))
	}
	assert.Equal(t, []string{"Paris", "Berlin"}, names)

	data, err = s.Query(ctx, "t1", "cities", nil, 2)
	require.NoError(t, err)
	assert.Len(t, data.Rows, 2)

	n, err := s.Count(ctx, "t1", "cities", nil, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count(ctx, "t1", "cities", Filter{"country": "FR"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Count(ctx, "t1", "cities", Filter{"name": map[string]any{"$bogus": 1}}, false)
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = s.Query(ctx, "t1", "nope", nil, 0)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestListTablesAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.DefineSchema(ctx, "t1", "a", []string{"x"})
	require.NoError(t, err)
	_, err = s.DefineSchema(ctx, "t1", "b", []string{"y"})
	require.NoError(t, err)
	_, err = s.DefineSchema(ctx, "t2", "a", []string{"z"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "t1", "a", []map[string]any{{"x": 1}, {"x": 2}})
	require.NoError(t, err)

	infos, err := s.ListTables(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Table)
	assert.Equal(t, 2, infos[0].Records)
	assert.Equal(t, "b", infos[1].Table)

	all, err := s.ListTables(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	tables, err := s.TablesForTask(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Len(t, tables[0].Rows, 2)
	assert.Empty(t, tables[1].Rows)

	n, err := s.ClearTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Describe(ctx, "t1", "a")
	assert.True(t, errors.Is(err, ErrTableNotFound))
	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM table_records").Scan(&count))
	assert.Equal(t, 0, count)

	n, err = s.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.DefineSchema(ctx, "t1", "nums", []string{"n"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Insert(ctx, "t1", "nums", []map[string]any{{"n": i}})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := s.Count(ctx, "t1", "nums", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(DriverModernc, ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.ListTables(context.Background(), "")
	assert.ErrorIs(t, err, ErrClosed)
}
