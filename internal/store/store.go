// Package store is the structured record store workers write their findings into.
//
// Every task owns a set of named tables. A table is a schema (ordered column
// names) plus a collection of JSON records, keyed in the database as
// "{task_id}_{table}". Records are schemaless documents: missing columns are
// padded with null and columns outside the schema are dropped on insert.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers "sqlite" (pure Go)

	"tablesearch/internal/logging"
)

// Drivers accepted by Open.
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// DefaultQueryLimit caps Query when no limit is given.
const DefaultQueryLimit = 100

// maxCollectionName bounds the full "{task}_{table}" key.
const maxCollectionName = 100

// Record is one row of a table.
type Record map[string]any

// Schema describes a defined table.
type Schema struct {
	Collection string
	TaskID     string
	Table      string
	Columns    []string
	CreatedAt  time.Time
}

// TableInfo is a schema plus bookkeeping used by describe and list.
type TableInfo struct {
	Schema
	Records        int
	LastOperation  string
	OperationCount int
	UpdatedAt      time.Time
}

// TableData is a table's schema together with all of its records.
type TableData struct {
	Schema
	Rows []Record
}

// Store is a SQLite-backed record store safe for concurrent use.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	driver string
	closed bool
}

// Open initializes the database at path using the named driver
// ("sqlite" or "sqlite3"; empty selects "sqlite").
func Open(driver, path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	logging.Store("Opening record store at %s (driver=%s)", path, driver)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, path: path, driver: driver}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("Record store ready (schema v%d)", schemaVersion(db))
	return s, nil
}

func (s *Store) initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS table_schemas (
			name TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			columns TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_table_schemas_task ON table_schemas(task_id)`,
		`CREATE TABLE IF NOT EXISTS table_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_table_records_collection ON table_records(collection)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return RunMigrations(s.db)
}

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// CollectionName keys a task's table. An empty task id leaves the name bare.
func CollectionName(taskID, table string) string {
	if taskID == "" {
		return table
	}
	return taskID + "_" + table
}

// ValidateCollectionName rejects names that start with "_" or "system.",
// contain characters outside [A-Za-z0-9_.$-], or exceed 100 bytes.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTableName)
	}
	if strings.HasPrefix(name, "_") || strings.HasPrefix(name, "system.") {
		return fmt.Errorf("%w: '%s' cannot start with '_' or 'system.'", ErrInvalidTableName, name)
	}
	if len(name) > maxCollectionName {
		return fmt.Errorf("%w: '%s' is longer than %d characters", ErrInvalidTableName, name, maxCollectionName)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.' || c == '$':
		default:
			return fmt.Errorf("%w: '%s' may only use letters, digits, underscores, hyphens, dots and dollar signs", ErrInvalidTableName, name)
		}
	}
	return nil
}

// =============================================================================
// SCHEMAS
// =============================================================================

// DefineSchema creates a table for the task. An existing table of the same
// name is dropped together with its records.
func (s *Store) DefineSchema(ctx context.Context, taskID, table string, columns []string) (*Schema, error) {
	name := CollectionName(taskID, table)
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	cols, err := normalizeColumns(columns)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(cols)
	if err != nil {
		return nil, fmt.Errorf("failed to encode columns: %w", err)
	}

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

	res, err := tx.ExecContext(ctx, "DELETE FROM table_records WHERE collection = ?", name)
	if err != nil {
		return nil, fmt.Errorf("failed to drop existing records: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Store("Table '%s' already existed; dropped %d records", name, n)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO table_schemas
		(name, task_id, table_name, columns, created_at, last_operation, operation_count, updated_at)
		VALUES (?, ?, ?, ?, ?, 'create', 1, ?)`,
		name, taskID, table, string(encoded), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to store schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schema: %w", err)
	}

	logging.Store("Created table '%s' with columns: %s", name, strings.Join(cols, ", "))
	return &Schema{Collection: name, TaskID: taskID, Table: table, Columns: cols, CreatedAt: now}, nil
}

func normalizeColumns(columns []string) ([]string, error) {
	seen := make(map[string]bool, len(columns))
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cols = append(cols, c)
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}
	return cols, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadSchema(ctx context.Context, q querier, name string) (*TableInfo, error) {
	var (
		info      TableInfo
		cols      string
		lastOp    sql.NullString
		opCount   sql.NullInt64
		updatedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `SELECT name, task_id, table_name, columns, created_at,
		last_operation, operation_count, updated_at FROM table_schemas WHERE name = ?`, name).
		Scan(&info.Collection, &info.TaskID, &info.Table, &cols, &info.CreatedAt, &lastOp, &opCount, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: '%s'", ErrTableNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schema '%s': %w", name, err)
	}
	if err := json.Unmarshal([]byte(cols), &info.Columns); err != nil {
		return nil, fmt.Errorf("corrupt schema '%s': %w", name, err)
	}
	info.LastOperation = lastOp.String
	info.OperationCount = int(opCount.Int64)
	if updatedAt.Valid {
		info.UpdatedAt = updatedAt.Time
	}
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM table_records WHERE collection = ?", name).Scan(&info.Records); err != nil {
		return nil, fmt.Errorf("failed to count records for '%s': %w", name, err)
	}
	return &info, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func touch(ctx context.Context, e execer, name, op string) {
	_, err := e.ExecContext(ctx, `UPDATE table_schemas SET last_operation = ?,
		operation_count = COALESCE(operation_count, 0) + 1, updated_at = ? WHERE name = ?`,
		op, time.Now().UTC(), name)
	if err != nil {
		logging.StoreDebug("Failed to record %s on '%s': %v", op, name, err)
	}
}

// Describe returns a table's schema and record count.
func (s *Store) Describe(ctx context.Context, taskID, table string) (*TableInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return loadSchema(ctx, s.db, CollectionName(taskID, table))
}

// ListTables returns every table of the task in definition order.
// An empty task id lists the tables of all tasks.
func (s *Store) ListTables(ctx context.Context, taskID string) ([]TableInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	names, err := s.collectionNames(ctx, taskID)
	if err != nil {
		return nil, err
	}
	infos := make([]TableInfo, 0, len(names))
	for _, name := range names {
		info, err := loadSchema(ctx, s.db, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

func (s *Store) collectionNames(ctx context.Context, taskID string) ([]string, error) {
	query := "SELECT name FROM table_schemas ORDER BY rowid"
	var args []any
	if taskID != "" {
		query = "SELECT name FROM table_schemas WHERE task_id = ? ORDER BY rowid"
		args = append(args, taskID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TablesForTask returns every table of the task with all of its records,
// used to recover a best-effort answer from persisted state.
func (s *Store) TablesForTask(ctx context.Context, taskID string) ([]TableData, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id required", ErrInvalidTableName)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	names, err := s.collectionNames(ctx, taskID)
	if err != nil {
		return nil, err
	}
	tables := make([]TableData, 0, len(names))
	for _, name := range names {
		info, err := loadSchema(ctx, s.db, name)
		if err != nil {
			return nil, err
		}
		rows, err := s.loadRecords(ctx, s.db, name)
		if err != nil {
			return nil, err
		}
		data := TableData{Schema: info.Schema}
		for _, r := range rows {
			data.Rows = append(data.Rows, r.record)
		}
		tables = append(tables, data)
	}
	return tables, nil
}

// ClearTask drops every table of the task. It returns the number of tables removed.
func (s *Store) ClearTask(ctx context.Context, taskID string) (int, error) {
	if taskID == "" {
		return 0, fmt.Errorf("%w: task id required", ErrInvalidTableName)
	}
	return s.clear(ctx, "WHERE task_id = ?", taskID)
}

// ClearAll drops every table of every task.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	return s.clear(ctx, "")
}

func (s *Store) clear(ctx context.Context, where string, args ...any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM table_records WHERE collection IN (SELECT name FROM table_schemas "+where+")", args...); err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM table_schemas "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear schemas: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit clear: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Store("Cleared %d tables", n)
	return int(n), nil
}
