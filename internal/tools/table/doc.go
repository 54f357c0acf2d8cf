// Package table exposes the record store to workers as tools.
//
// All tools of one task share a Deps value: the store, the task id that
// prefixes every collection, and the table-creation governor that grants
// create_table exactly once per task. Store failures a worker can fix
// (unknown table, bad filter, unknown columns) come back as tool output so
// the worker can retry; infrastructure failures are returned as errors.
package table
