package store

import "errors"

var (
	// ErrTableNotFound is returned when a table has not been defined for the task.
	ErrTableNotFound = errors.New("table does not exist")

	// ErrInvalidTableName is returned for names the store refuses to key a collection by.
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrNoColumns is returned when a schema is defined without columns.
	ErrNoColumns = errors.New("columns must be a non-empty list of names")

	// ErrNoRecords is returned when an insert carries no records.
	ErrNoRecords = errors.New("records must be a non-empty list of objects")

	// ErrUnknownColumns is returned when an update names columns outside the schema.
	ErrUnknownColumns = errors.New("invalid columns for update")

	// ErrNoFields is returned when an update carries no fields.
	ErrNoFields = errors.New("update fields must be a non-empty object")

	// ErrInvalidFilter is returned when a filter document cannot be parsed or evaluated.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)
