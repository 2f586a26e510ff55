package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const snapshotPrefix = "snapshot:"

// BadgerStore keeps session snapshots in an embedded badger database.
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

// OpenBadger opens (or creates) a badger directory at path. An empty path
// runs badger in memory. Badger locks its directory, so a second opener fails
// with ErrLocked until the first closes.
func OpenBadger(path, session string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "directory lock") {
		return nil, fmt.Errorf("%w: %s (badger at %q: %v)", ErrLocked, session, path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db, key: []byte(snapshotPrefix + session)}, nil
}

// Save writes the snapshot.
func (b *BadgerStore) Save(_ context.Context, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", b.key, err)
	}
	return nil
}

// Load returns the snapshot or ErrNotFound.
func (b *BadgerStore) Load(_ context.Context) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", b.key, err)
	}
	return out, nil
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
