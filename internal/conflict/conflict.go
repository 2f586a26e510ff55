// Package conflict detects and resolves divergence between a local entity
// and the backend's copy.
//
// Resolution is last-writer-wins on whole entities. Fields are never merged:
// the losing version is replaced entirely.
package conflict

import (
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/kitchensync/internal/ir"
)

// Side names which copy of an entity won.
type Side string

const (
	Local  Side = "local"
	Remote Side = "remote"
)

// Resolution is the outcome of Resolve.
type Resolution struct {
	Winner ir.Entity
	Side   Side

	// Degraded is set when the remote copy carried no timestamp and the
	// resolver fell back to trusting it.
	Degraded bool
}

// Detect reports whether remote diverges from local. Callers only ask for
// entities that have local pending changes.
func Detect(local, remote ir.Entity) bool {
	return Diverged(remote, local.UpdatedAt)
}

// Diverged reports whether remote carries a version this replica never
// wrote or observed. known holds every UpdatedAt the local changes to the
// entity could have left on the backend, including the version they started
// from. A remote copy at any of them is not a conflict.
func Diverged(remote ir.Entity, known ...time.Time) bool {
	return !slices.ContainsFunc(known, remote.UpdatedAt.Equal)
}

// Resolver picks conflict winners.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil logger uses slog.Default().
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve applies last-writer-wins by UpdatedAt. Ties go to remote because
// the server is the tie-break authority. A remote snapshot without a
// timestamp cannot be ordered, so remote wins and a warning is logged.
func (r *Resolver) Resolve(local, remote ir.Entity) Resolution {
	if remote.UpdatedAt.IsZero() {
		r.logger.Warn("remote snapshot has no updated_at, trusting remote",
			"entity_id", remote.ID)
		return Resolution{Winner: remote, Side: Remote, Degraded: true}
	}
	if local.UpdatedAt.After(remote.UpdatedAt) {
		return Resolution{Winner: local, Side: Local}
	}
	return Resolution{Winner: remote, Side: Remote}
}

// Resolve resolves with the default logger.
func Resolve(local, remote ir.Entity) Resolution {
	return NewResolver(nil).Resolve(local, remote)
}
