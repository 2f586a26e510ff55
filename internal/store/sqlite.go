package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on snapshots.updated_at
// 2 - Added leases table
const currentSchemaVersion = 2

var sqliteLease = leaseQueries{
	acquire: `
		INSERT INTO leases (session_id, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE leases.expires_at < ?`,
	renew:   `UPDATE leases SET expires_at = ? WHERE session_id = ? AND owner = ?`,
	release: `DELETE FROM leases WHERE session_id = ? AND owner = ?`,
}

// Store keeps session snapshots in SQLite with WAL mode. An open Store holds
// the session's lease until Close.
type Store struct {
	db      *sql.DB
	session string
	lease   *sqlLease
	closed  bool
}

// Open creates or opens a SQLite database at the given path and binds it to
// one session. Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Open fails with ErrLocked while another Store holds the session.
func Open(path, session string) (*Store, error) {
	return OpenWithLease(path, session, DefaultLeaseTTL)
}

// OpenWithLease is Open with an explicit lease TTL.
func OpenWithLease(path, session string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	lease := newSQLLease(session, ttl, sqliteLease)
	if err := lease.acquire(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, session: session, lease: lease}, nil
}

// Save upserts the session's snapshot and renews the lease in one
// transaction. It returns ErrLeaseLost if another Store has taken over.
func (s *Store) Save(ctx context.Context, data []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.session, err)
	}
	defer tx.Rollback()

	if err := s.lease.renew(ctx, tx); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, s.session, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.session, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.session, err)
	}
	return nil
}

// Load returns the session's snapshot or ErrNotFound.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM snapshots WHERE session_id = ?`, s.session,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", s.session, err)
	}
	return []byte(state), nil
}

// Sessions lists every session with a saved snapshot, most recent first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM snapshots ORDER BY updated_at DESC, session_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close releases the lease and closes the database connection. Calling it
// again is a no-op.
func (s *Store) Close() error {
	if s.db == nil || s.closed {
		return nil
	}
	s.closed = true
	err := s.lease.release(context.Background(), s.db)
	return errors.Join(err, s.db.Close())
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_snapshots_updated ON snapshots(updated_at)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
