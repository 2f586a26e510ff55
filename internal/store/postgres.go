package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kitchensync_snapshots (
    session_id TEXT PRIMARY KEY,
    state      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS kitchensync_leases (
    session_id TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    expires_at BIGINT NOT NULL
)`

var postgresLease = leaseQueries{
	acquire: `
		INSERT INTO kitchensync_leases (session_id, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE kitchensync_leases.expires_at < $4`,
	renew:   `UPDATE kitchensync_leases SET expires_at = $1 WHERE session_id = $2 AND owner = $3`,
	release: `DELETE FROM kitchensync_leases WHERE session_id = $1 AND owner = $2`,
}

// PostgresStore keeps session snapshots in a shared Postgres table. An open
// PostgresStore holds the session's lease until Close.
type PostgresStore struct {
	db      *sql.DB
	session string
	lease   *sqlLease
}

// OpenPostgres connects with dsn, ensures the tables exist and takes the
// session's lease. It fails with ErrLocked while another engine holds it.
func OpenPostgres(ctx context.Context, dsn, session string) (*PostgresStore, error) {
	return OpenPostgresWithLease(ctx, dsn, session, DefaultLeaseTTL)
}

// OpenPostgresWithLease is OpenPostgres with an explicit lease TTL.
func OpenPostgresWithLease(ctx context.Context, dsn, session string, ttl time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	lease := newSQLLease(session, ttl, postgresLease)
	if err := lease.acquire(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, session: session, lease: lease}, nil
}

// Save upserts the session's snapshot and renews the lease in one
// transaction.
func (p *PostgresStore) Save(ctx context.Context, data []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", p.session, err)
	}
	defer tx.Rollback()

	if err := p.lease.renew(ctx, tx); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kitchensync_snapshots (session_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, p.session, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", p.session, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", p.session, err)
	}
	return nil
}

// Load returns the session's snapshot or ErrNotFound.
func (p *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var state string
	err := p.db.QueryRowContext(ctx,
		`SELECT state::text FROM kitchensync_snapshots WHERE session_id = $1`, p.session,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", p.session, err)
	}
	return []byte(state), nil
}

// Close releases the lease and closes the connection pool.
func (p *PostgresStore) Close() error {
	err := p.lease.release(context.Background(), p.db)
	return errors.Join(err, p.db.Close())
}
