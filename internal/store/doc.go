// Package store persists the engine's session state as a single versioned
// blob per session.
//
// The codec (Encode/Decode) owns the blob layout, schema version check,
// staleness TTL and checksum. Adapters only move bytes:
//
//   - Store: SQLite via mattn/go-sqlite3 (default)
//   - BadgerStore: embedded KV via dgraph-io/badger/v4
//   - PostgresStore: lib/pq
//   - RedisStore: redis/go-redis/v9
//   - Memory: in-process, for tests and the scenario harness
package store
