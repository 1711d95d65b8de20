// Package persistence provides storage for the web layer: visitor preferences
// (theme and such) and the history of cache lifecycle events. Backed by SQLite
// with WAL mode for better concurrency.
package persistence
