package table

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tablesearch/internal/governor"
	"tablesearch/internal/logging"
	"tablesearch/internal/store"
	"tablesearch/internal/tools"
	"tablesearch/internal/types"
)

// Tool names.
const (
	CreateTableName   = "create_table"
	AddRecordsName    = "add_records"
	UpdateRecordsName = "update_records"
	QueryRecordsName  = "query_records"
	CountRecordsName  = "count_records"
	DescribeTableName = "describe_table"
	ListTablesName    = "list_tables"
)

// Deps are the per-task dependencies of the table tools.
type Deps struct {
	Store  *store.Store
	TaskID string
	// Create grants create_table; nil means unmetered.
	Create *governor.Governor
	// ReadOnly restricts the worker to add, query, count, describe and list.
	ReadOnly bool
}

// Tools returns the table tools bound to deps. Read-only deps omit
// create_table and update_records.
func Tools(d Deps) []*tools.Tool {
	out := []*tools.Tool{
		AddRecordsTool(d),
		QueryRecordsTool(d),
		CountRecordsTool(d),
		DescribeTableTool(d),
		ListTablesTool(d),
	}
	if !d.ReadOnly {
		out = append([]*tools.Tool{CreateTableTool(d)}, out...)
		out = append(out, UpdateRecordsTool(d))
	}
	return out
}

// RegisterAll registers the table tools with the given registry.
func RegisterAll(registry *tools.Registry, d Deps) error {
	return registry.RegisterAll(Tools(d)...)
}

// recoverable turns store errors the worker can act on into tool output.
func recoverable(err error, table string) (string, bool) {
	switch {
	case errors.Is(err, store.ErrTableNotFound):
		return fmt.Sprintf("Table '%s' does not exist. Use list_tables to see the tables of this task, "+
			"or create_table if no table has been defined yet.", table), true
	case errors.Is(err, store.ErrInvalidTableName),
		errors.Is(err, store.ErrNoColumns),
		errors.Is(err, store.ErrNoRecords),
		errors.Is(err, store.ErrNoFields),
		errors.Is(err, store.ErrUnknownColumns),
		errors.Is(err, store.ErrInvalidFilter):
		return "Error: " + err.Error(), true
	}
	return "", false
}

func tableArg() tools.Property {
	return tools.Property{Type: tools.TypeString, Description: "Name of the table (without any task prefix)"}
}

func filterArg(desc string) tools.Property {
	return tools.Property{
		Type: tools.TypeObject,
		Description: desc + ` Document-style query: {"col": value} for equality, or operators ` +
			`$eq $ne $gt $gte $lt $lte $in $nin $regex $exists, combined with $and / $or.`,
	}
}

func parseFilter(args map[string]any) (store.Filter, error) {
	if args["filter"] == nil {
		return store.Filter{}, nil
	}
	m, ok := types.ExtractMap(args["filter"])
	if !ok {
		return nil, fmt.Errorf("%w: filter must be a JSON object", store.ErrInvalidFilter)
	}
	f := store.Filter(m)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateTableTool defines the task's table. The creation right is granted
// once per task across every worker sharing d.Create.
func CreateTableTool(d Deps) *tools.Tool {
	return &tools.Tool{
		Name: CreateTableName,
		Description: "Create the table that will hold the answer. Can be called only ONCE per task; " +
			"choose every column you will need up front.",
		Category: tools.CategoryTable,
		Priority: 90,
		Schema: tools.ToolSchema{
			Required: []string{"table_name", "columns"},
			Properties: map[string]tools.Property{
				"table_name": tableArg(),
				"columns": {
					Type:        tools.TypeArray,
					Description: "Ordered column names",
					Items:       &tools.PropertyItems{Type: tools.TypeString},
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			table := strings.TrimSpace(types.ArgString(args, "table_name"))
			columns, _ := types.ExtractStringSlice(args["columns"])

			// Malformed requests must not consume the one-time right.
			if err := store.ValidateCollectionName(store.CollectionName(d.TaskID, table)); err != nil {
				return "Error: " + err.Error(), nil
			}
			if !hasColumn(columns) {
				return "Error: " + store.ErrNoColumns.Error(), nil
			}

			if d.Create != nil && !d.Create.TryIncrement() {
				logging.Tools("create_table refused for task %s: %s", d.TaskID, table)
				return governor.TableCreationRefusal(table), nil
			}

			schema, err := d.Store.DefineSchema(ctx, d.TaskID, table, columns)
			if err != nil {
				if msg, ok := recoverable(err, table); ok {
					return msg, nil
				}
				return "", err
			}
			return fmt.Sprintf("Successfully created table '%s' with %d columns: %s",
				table, len(schema.Columns), strings.Join(schema.Columns, ", ")), nil
		},
	}
}

func hasColumn(columns []string) bool {
	for _, c := range columns {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

// =============================================================================
// ADD / UPDATE
// =============================================================================

// AddRecordsTool inserts records and reports what happened to each of them.
func AddRecordsTool(d Deps) *tools.Tool {
	return &tools.Tool{
		Name: AddRecordsName,
		Description: "Add records to a table. Each record is an object keyed by column name. Missing " +
			"columns are stored as null; records already present are skipped.",
		Category: tools.CategoryTable,
		Priority: 85,
		Schema: tools.ToolSchema{
			Required: []string{"table_name", "records"},
			Properties: map[string]tools.Property{
				"table_name": tableArg(),
				"records": {
					Type:        tools.TypeArray,
					Description: "Records to add, e.g. [{\"name\": \"Paris\", \"country\": \"FR\"}]",
					Items:       &tools.PropertyItems{Type: tools.TypeObject},
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			table := strings.TrimSpace(types.ArgString(args, "table_name"))
			records, ok := types.ExtractMapSlice(args["records"])
			if !ok {
				return "Error: records must be a list of objects keyed by column name.", nil
			}

			report, err := d.Store.Insert(ctx, d.TaskID, table, records)
			if err != nil {
				if msg, ok := recoverable(err, table); ok {
					return msg, nil
				}
				return "", err
			}
			return FormatInsertReport(table, records, report), nil
		},
	}
}

// UpdateRecordsTool sets fields on every record matching a filter.
func UpdateRecordsTool(d Deps) *tools.Tool {
	return &tools.Tool{
		Name:        UpdateRecordsName,
		Description: "Update fields of every record matching a filter, e.g. to fill in values found later.",
		Category:    tools.CategoryTable,
		Priority:    80,
		Schema: tools.ToolSchema{
			Required: []string{"table_name", "filter", "fields"},
			Properties: map[string]tools.Property{
				"table_name": tableArg(),
				"filter":     filterArg("Selects the records to update."),
				"fields": {
					Type:        tools.TypeObject,
					Description: "Column values to set, e.g. {\"population\": 2100000}",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			table := strings.TrimSpace(types.ArgString(args, "table_name"))
			filter, err := parseFilter(args)
			if err != nil {
				return "Error: " + err.Error(), nil
			}
			fields, _ := types.ExtractMap(args["fields"])

			res, err := d.Store.Update(ctx, d.TaskID, table, filter, fields)
			if err != nil {
				if msg, ok := recoverable(err, table); ok {
					return msg, nil
				}
				return "", err
			}
			if res.Matched == 0 {
				return fmt.Sprintf("No records found matching the filter in table '%s'.", table), nil
			}
			return fmt.Sprintf("Successfully updated %d records in table '%s' (%d matched).",
				res.Modified, table, res.Matched), nil
		},
	}
}

// =============================================================================
// READ
// =============================================================================

// QueryRecordsTool lists records matching an optional filter.
func QueryRecordsTool(d Deps) *tools.Tool {
	return &tools.Tool{
		Name:        QueryRecordsName,
		Description: "List records of a table, optionally filtered.",
		Category:    tools.CategoryTable,
		Priority:    70,
		Schema: tools.ToolSchema{
			Required: []string{"table_name"},
			Properties: map[string]tools.Property{
				"table_name": tableArg(),
				"filter":     filterArg("Optional."),
				"limit": {
					Type:        tools.TypeInteger,
					Description: fmt.Sprintf("Maximum number of records to return (default: %d)", store.DefaultQueryLimit),
					Default:     store.DefaultQueryLimit,
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			table := strings.TrimSpace(types.ArgString(args, "table_name"))
			filter, err := parseFilter(args)
			if err != nil {
				return "Error: " + err.Error(), nil
			}
			limit := types.ArgInt(args, "limit", store.DefaultQueryLimit)

			data, err := d.Store.Query(ctx, d.TaskID, table, filter, limit)
			if err != nil {
				if msg, ok := recoverable(err, table); ok {
					return msg, nil
				}
				return "", err
			}
			return FormatRows(table, data), nil
		},
	}
}

// CountRecordsTool counts records, optionally only the fully populated ones.
func CountRecordsTool(d Deps) *tools.Tool {
	return &tools.Tool{
		Name:        CountRecordsName,
		Description: "Count records of a table, optionally filtered or restricted to records with every column filled.",
		Category:    tools.CategoryTable,
		Priority:    65,
		Schema: tools.ToolSchema{
			Required: []string{"table_name"},
			Properties: map[string]tools.Property{
				"table_name": tableArg(),
				"filter":     filterArg("Optional."),
				"count_non_null": {
					Type:        tools.TypeBoolean,
					Description: "Count only records where every column is non-null",
					Default:     false,
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			table := strings.TrimSpace(types.ArgString(args, "table_name"))
			filter, err := parseFilter(args)
			if err != nil {
				return "Error: " + err.Error(), nil
			}
			nonNull := types.ArgBool(args, "count_non_null", false)

			n, err := d.Store.Count(ctx, d.TaskID, table, filter, nonNull)
			if err != nil {
				if msg, ok := recoverable(err, table); ok {
					return msg, nil
				}
				return "", err
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Table '%s' contains %d record", table, n)
			if n != 1 {
				sb.WriteString("s")
			}
			switch {
			case nonNull:
				sb.WriteString(" with all fields non-null")
			case len(filter) > 0:
				sb.WriteString(" matching the specified conditions")
			}
			sb.WriteString(".")
			return sb.String(), nil
		},
	}
}

// DescribeTableTool reports a table's columns and size.
func DescribeTableTool(d Deps) *tools.Tool {
	return &tools.Tool{
		Name:        DescribeTableName,
		Description: "Show the columns and record count of a table.",
		Category:    tools.CategoryTable,
		Priority:    60,
		Schema: tools.ToolSchema{
			Required:   []string{"table_name"},
			Properties: map[string]tools.Property{"table_name": tableArg()},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			table := strings.TrimSpace(types.ArgString(args, "table_name"))
			info, err := d.Store.Describe(ctx, d.TaskID, table)
			if err != nil {
				if msg, ok := recoverable(err, table); ok {
					return msg, nil
				}
				return "", err
			}
			return formatInfo(info), nil
		},
	}
}

// ListTablesTool lists the tables of the task.
func ListTablesTool(d Deps) *tools.Tool {
	return &tools.Tool{
		Name:        ListTablesName,
		Description: "List the tables defined for this task.",
		Category:    tools.CategoryTable,
		Priority:    55,
		Schema:      tools.ToolSchema{Properties: map[string]tools.Property{}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			infos, err := d.Store.ListTables(ctx, d.TaskID)
			if err != nil {
				return "", err
			}
			if len(infos) == 0 {
				return "No tables found. Use create_table to create a new table.", nil
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d table(s):\n", len(infos))
			for i := range infos {
				sb.WriteString("\n")
				sb.WriteString(formatInfo(&infos[i]))
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	}
}
