package table

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesearch/internal/governor"
	"tablesearch/internal/store"
	"tablesearch/internal/tools"
)

func newTestRegistry(t *testing.T, readOnly bool) (*tools.Registry, *store.Store, *governor.Governor) {
	t.Helper()
	s, err := store.Open(store.DriverModernc, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	create := governor.New(governor.TableCreateName, 1)
	reg := tools.NewRegistry()
	require.NoError(t, RegisterAll(reg, Deps{Store: s, TaskID: "ws_0001", Create: create, ReadOnly: readOnly}))
	return reg, s, create
}

func exec(t *testing.T, reg *tools.Registry, name string, args map[string]any) string {
	t.Helper()
	res, err := reg.Execute(context.Background(), name, args)
	require.NoError(t, err)
	require.NoError(t, res.Error)
	return res.Result
}

func TestToolsRegistered(t *testing.T) {
	reg, _, _ := newTestRegistry(t, false)
	assert.ElementsMatch(t, []string{
		CreateTableName, AddRecordsName, UpdateRecordsName, QueryRecordsName,
		CountRecordsName, DescribeTableName, ListTablesName,
	}, reg.Names())

	ro, _, _ := newTestRegistry(t, true)
	assert.False(t, ro.Has(CreateTableName))
	assert.False(t, ro.Has(UpdateRecordsName))
	assert.True(t, ro.Has(AddRecordsName))
}

func TestCreateTableOncePerTask(t *testing.T) {
	reg, s, create := newTestRegistry(t, false)

	out := exec(t, reg, CreateTableName, map[string]any{"table_name": "cities", "columns": []any{"name", "country"}})
	assert.Equal(t, "Successfully created table 'cities' with 2 columns: name, country", out)

	out = exec(t, reg, CreateTableName, map[string]any{"table_name": "other", "columns": []any{"x"}})
	assert.True(t, strings.HasPrefix(out, "Table creation refused"), out)
	assert.Equal(t, 1, create.Count())

	infos, err := s.ListTables(context.Background(), "ws_0001")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "cities", infos[0].Table)
}

func TestCreateTableConcurrentGrantsOne(t *testing.T) {
	reg, s, _ := newTestRegistry(t, false)

	var wg sync.WaitGroup
	outs := make([]string, 8)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := reg.Execute(context.Background(), CreateTableName,
				map[string]any{"table_name": "t", "columns": []any{"a"}})
			if err == nil {
				outs[i] = res.Result
			}
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, o := range outs {
		if strings.HasPrefix(o, "Successfully created") {
			granted++
		}
	}
	assert.Equal(t, 1, granted)

	infos, err := s.ListTables(context.Background(), "ws_0001")
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestCreateTableInvalidRequestKeepsRight(t *testing.T) {
	reg, _, create := newTestRegistry(t, false)

	out := exec(t, reg, CreateTableName, map[string]any{"table_name": "bad name", "columns": []any{"a"}})
	assert.True(t, strings.HasPrefix(out, "Error: invalid table name"), out)
	out = exec(t, reg, CreateTableName, map[string]any{"table_name": "t", "columns": []any{" "}})
	assert.True(t, strings.HasPrefix(out, "Error: columns"), out)
	assert.Equal(t, 0, create.Count())

	_, err := reg.Execute(context.Background(), CreateTableName, map[string]any{"table_name": "t"})
	assert.ErrorIs(t, err, tools.ErrMissingRequiredArg)
	assert.Equal(t, 0, create.Count())
}

func TestAddQueryUpdateCount(t *testing.T) {
	reg, _, _ := newTestRegistry(t, false)
	exec(t, reg, CreateTableName, map[string]any{"table_name": "cities", "columns": []any{"name", "country", "population"}})

	out := exec(t, reg, AddRecordsName, map[string]any{
		"table_name": "cities",
		"records": []any{
			map[string]any{"name": "Paris", "country": "FR", "population": 2100000.0},
			map[string]any{"name": "Lyon", "country": "FR"},
			map[string]any{"name": "Paris", "country": "FR"},
			map[string]any{"city": "Berlin"},
		},
	})
	assert.Contains(t, out, "Records submitted: 4")
	assert.Contains(t, out, "Records inserted: 2")
	assert.Contains(t, out, "1 record(s) use column names that are not in the table schema")
	assert.Contains(t, out, "Columns of table 'cities' (use exactly these names): name, country, population")
	assert.Contains(t, out, "already in the table: 1")
	assert.Contains(t, out, "Record 2: country=FR, name=Paris")
	assert.Contains(t, out, "Table 'cities' now holds 2 record(s).")

	out = exec(t, reg, QueryRecordsName, map[string]any{"table_name": "cities", "filter": map[string]any{"country": "FR"}})
	assert.Contains(t, out, "Found 2 matching records in table 'cities':")
	assert.Contains(t, out, "| name | country | population |")
	assert.Contains(t, out, "| Paris | FR | 2100000 |")
	assert.Contains(t, out, "| Lyon | FR |  |")

	out = exec(t, reg, QueryRecordsName, map[string]any{"table_name": "cities", "filter": map[string]any{"name": "Nice"}})
	assert.Equal(t, "No records match the specified criteria.", out)

	out = exec(t, reg, CountRecordsName, map[string]any{"table_name": "cities", "count_non_null": true})
	assert.Equal(t, "Table 'cities' contains 1 record with all fields non-null.", out)

	out = exec(t, reg, UpdateRecordsName, map[string]any{
		"table_name": "cities",
		"filter":     map[string]any{"name": "Lyon"},
		"fields":     map[string]any{"population": 520000},
	})
	assert.Equal(t, "Successfully updated 1 records in table 'cities' (1 matched).", out)

	out = exec(t, reg, CountRecordsName, map[string]any{"table_name": "cities", "count_non_null": true})
	assert.Equal(t, "Table 'cities' contains 2 records with all fields non-null.", out)

	out = exec(t, reg, CountRecordsName, map[string]any{
		"table_name": "cities",
		"filter":     map[string]any{"population": map[string]any{"$gt": 1000000}},
	})
	assert.Equal(t, "Table 'cities' contains 1 record matching the specified conditions.", out)
}

func TestRecoverableErrorsAreOutput(t *testing.T) {
	reg, _, _ := newTestRegistry(t, false)

	out := exec(t, reg, QueryRecordsName, map[string]any{"table_name": "missing"})
	assert.True(t, strings.HasPrefix(out, "Table 'missing' does not exist."), out)

	exec(t, reg, CreateTableName, map[string]any{"table_name": "t", "columns": []any{"a"}})

	out = exec(t, reg, UpdateRecordsName, map[string]any{
		"table_name": "t", "filter": map[string]any{}, "fields": map[string]any{"zzz": 1},
	})
	assert.Contains(t, out, "invalid columns for update: zzz. Available columns: a")

	out = exec(t, reg, UpdateRecordsName, map[string]any{
		"table_name": "t", "filter": map[string]any{"a": 1}, "fields": map[string]any{"a": 2},
	})
	assert.Equal(t, "No records found matching the filter in table 't'.", out)

	out = exec(t, reg, CountRecordsName, map[string]any{
		"table_name": "t", "filter": map[string]any{"a": map[string]any{"$near": 1}},
	})
	assert.True(t, strings.HasPrefix(out, "Error: invalid filter"), out)
}

func TestDescribeAndList(t *testing.T) {
	reg, _, _ := newTestRegistry(t, false)

	out := exec(t, reg, ListTablesName, map[string]any{})
	assert.Equal(t, "No tables found. Use create_table to create a new table.", out)

	exec(t, reg, CreateTableName, map[string]any{"table_name": "cities", "columns": []any{"name", "country"}})
	exec(t, reg, AddRecordsName, map[string]any{"table_name": "cities", "records": []any{map[string]any{"name": "Paris"}}})

	out = exec(t, reg, DescribeTableName, map[string]any{"table_name": "cities"})
	assert.Contains(t, out, "Table: cities\n")
	assert.Contains(t, out, "Records: 1\n")
	assert.Contains(t, out, "Columns: 2 (name, country)\n")
	assert.Contains(t, out, "Last operation: add_records (2 total)")

	out = exec(t, reg, ListTablesName, map[string]any{})
	assert.True(t, strings.HasPrefix(out, "Found 1 table(s):\n\nTable: cities"), out)
}

func TestFormatInsertReportTruncatesSamples(t *testing.T) {
	records := make([]map[string]any, 12)
	report := &store.InsertReport{Total: 12, TableTotal: 12}
	for i := range records {
		records[i] = map[string]any{"name": strings.Repeat("x", 60), "i": float64(i)}
		report.Inserted = append(report.Inserted, i)
	}

	out := FormatInsertReport("t", records, report)
	assert.Contains(t, out, "Inserted (first 10):")
	assert.Contains(t, out, "... 2 more inserted")
	assert.Contains(t, out, "name="+strings.Repeat("x", 50)+"\n")
	assert.NotContains(t, out, strings.Repeat("x", 51))
}
