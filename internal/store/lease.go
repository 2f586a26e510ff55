package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lease errors. A session has at most one writer: Open fails with ErrLocked
// while another engine holds the session, and Save fails with ErrLeaseLost
// once another engine has taken over an expired lease.
var (
	ErrLocked    = errors.New("store: session is held by another engine")
	ErrLeaseLost = errors.New("store: session lease lost")
)

// DefaultLeaseTTL is how long a lease outlives the last save of its holder.
const DefaultLeaseTTL = 2 * time.Minute

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// leaseQueries are the driver-specific statements behind sqlLease.
//
//	acquire: (session, owner, expires_at, now), must affect no row when an
//	         unexpired lease belongs to someone else
//	renew:   (expires_at, session, owner)
//	release: (session, owner)
type leaseQueries struct {
	acquire string
	renew   string
	release string
}

// sqlLease is a lease row keyed by session and stamped with a random owner.
type sqlLease struct {
	session string
	owner   string
	ttl     time.Duration
	q       leaseQueries
}

func newSQLLease(session string, ttl time.Duration, q leaseQueries) *sqlLease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &sqlLease{session: session, owner: uuid.NewString(), ttl: ttl, q: q}
}

func (l *sqlLease) acquire(ctx context.Context, db execer) error {
	now := time.Now()
	res, err := db.ExecContext(ctx, l.q.acquire, l.session, l.owner, now.Add(l.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", l.session, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", l.session, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLocked, l.session)
	}
	return nil
}

// renew extends the lease inside the save transaction so a snapshot is only
// written by the current holder.
func (l *sqlLease) renew(ctx context.Context, tx execer) error {
	res, err := tx.ExecContext(ctx, l.q.renew, time.Now().Add(l.ttl).UnixMilli(), l.session, l.owner)
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.session, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.session, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, l.session)
	}
	return nil
}

func (l *sqlLease) release(ctx context.Context, db execer) error {
	if _, err := db.ExecContext(ctx, l.q.release, l.session, l.owner); err != nil {
		return fmt.Errorf("release lease %s: %w", l.session, err)
	}
	return nil
}
