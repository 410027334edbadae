// Package reconcile decides whether a remote collection document should replace
// the locally held one.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cinnamon-msft/tangled/internal/document"
)

// Reconciler compares embedded lastSynced timestamps. It is advisory: it never
// returns an error, and an unparseable timestamp means "keep local".
type Reconciler struct {
	logger zerolog.Logger
}

// New creates a Reconciler.
func New(logger zerolog.Logger) *Reconciler {
	return &Reconciler{logger: logger.With().Str("component", "reconcile").Logger()}
}

// IsRemoteNewer reports whether remote was synced strictly after local.
func (r *Reconciler) IsRemoteNewer(local, remote document.Metadata) bool {
	localAt, err := ParseTimestamp(local.LastSynced)
	if err != nil {
		r.logger.Debug().Err(err).Msg("local timestamp unreadable, keeping local")
		return false
	}
	remoteAt, err := ParseTimestamp(remote.LastSynced)
	if err != nil {
		r.logger.Debug().Err(err).Msg("remote timestamp unreadable, keeping local")
		return false
	}
	return remoteAt.After(localAt)
}

// Pick returns remote when it is newer, otherwise local.
func Pick[T any](r *Reconciler, local, remote *document.Document[T]) *document.Document[T] {
	if remote != nil && r.IsRemoteNewer(local.Metadata, remote.Metadata) {
		return remote
	}
	return local
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the ISO 8601 forms the documents have carried over time.
// Timestamps without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
