// Package journal persists a local history of completed batches in SQLite,
// backing the stats command.
package journal
