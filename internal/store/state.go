package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kitchensync/internal/ir"
)

var (
	// ErrStale means the saved state is older than the configured max age.
	ErrStale = errors.New("store: saved state is stale")

	// ErrIncompatible means the saved state has a different schema version.
	ErrIncompatible = errors.New("store: incompatible schema version")

	// ErrCorrupt means the saved state failed to decode or verify.
	ErrCorrupt = errors.New("store: corrupt saved state")
)

// State is the persisted session blob.
type State struct {
	SchemaVersion int         `json:"schema_version"`
	Session       string      `json:"session"`
	History       []ir.Action `json:"history"`
	Cursor        int         `json:"cursor"`
	Pending       []ir.Action `json:"pending"`
	Synced        []string    `json:"synced"`
	Entities      []ir.Entity `json:"entities"`
	Selection     string      `json:"selection,omitempty"`
	Seq           int64       `json:"seq"`
	SavedAt       time.Time   `json:"saved_at"`
	Checksum      string      `json:"checksum"`
}

// Encode stamps the schema version and checksum and serializes s.
func Encode(s State) ([]byte, error) {
	s.SchemaVersion = ir.SchemaVersion
	sum, err := ir.StateChecksum(s.Entities, s.Selection)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	s.Checksum = sum

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Decode parses a blob written by Encode. The schema version is checked
// before anything else is interpreted. A positive maxAge discards state
// saved more than maxAge before now.
func Decode(data []byte, now time.Time, maxAge time.Duration) (State, error) {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if header.SchemaVersion != ir.SchemaVersion {
		return State{}, fmt.Errorf("%w: saved %d, current %d", ErrIncompatible, header.SchemaVersion, ir.SchemaVersion)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if maxAge > 0 && now.Sub(s.SavedAt) > maxAge {
		return s, fmt.Errorf("%w: saved at %s", ErrStale, s.SavedAt.Format(time.RFC3339))
	}

	sum, err := ir.StateChecksum(s.Entities, s.Selection)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if sum != s.Checksum {
		return State{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if s.Cursor < -1 || s.Cursor > len(s.History)-1 {
		return State{}, fmt.Errorf("%w: cursor %d outside history of %d", ErrCorrupt, s.Cursor, len(s.History))
	}
	return s, nil
}
