// Package queue implements the pending queue: actions recorded locally
// that the backend has not yet confirmed, each carrying its own retry state.
package queue
