// Package research provides the budgeted web tools: search and visit.
//
// Both tools meter every call through a per-task governor.Governor. A call
// that is refused returns an instructive message instead of an error so the
// worker can finish with what it has already collected.
package research
