package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Load when no state has been saved for the
// session (the Absent case).
var ErrNotFound = errors.New("store: no saved state")

// Adapter is durable storage for one session's serialized state.
type Adapter interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
	Close() error
}

// Driver names accepted by OpenAdapter.
const (
	DriverSQLite   = "sqlite"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Options selects and configures an adapter.
type Options struct {
	Driver   string
	Session  string
	Path     string // sqlite file or badger directory
	DSN      string // postgres connection string
	RedisURL string

	// LeaseTTL bounds how long a crashed holder keeps the session locked.
	// Zero uses DefaultLeaseTTL.
	LeaseTTL time.Duration
}

// OpenAdapter opens the adapter named by opts.Driver. Shared drivers take an
// exclusive lease on the session, so a second engine on the same session
// fails with ErrLocked instead of overwriting the first one's state.
func OpenAdapter(ctx context.Context, opts Options) (Adapter, error) {
	if opts.Session == "" {
		return nil, fmt.Errorf("open store: session is required")
	}

	switch opts.Driver {
	case DriverSQLite, "":
		return OpenWithLease(opts.Path, opts.Session, opts.LeaseTTL)
	case DriverBadger:
		return OpenBadger(opts.Path, opts.Session)
	case DriverPostgres:
		return OpenPostgresWithLease(ctx, opts.DSN, opts.Session, opts.LeaseTTL)
	case DriverRedis:
		return OpenRedisWithLease(ctx, opts.RedisURL, opts.Session, opts.LeaseTTL)
	case DriverMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("open store: unknown driver %q", opts.Driver)
}
