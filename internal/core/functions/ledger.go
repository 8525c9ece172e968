package functions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HandleKind names the class of an externally created resource.
type HandleKind string

const (
	HandleImage          HandleKind = "image"
	HandleContainer      HandleKind = "container"
	HandleToolContainer  HandleKind = "tool-container"
	HandleInfrastructure HandleKind = "infrastructure"
)

// Handle is one resource created on behalf of an invocation.
type Handle struct {
	Kind     HandleKind `json:"kind"`
	ID       string     `json:"id"`
	Released bool       `json:"released"`
	Error    string     `json:"error,omitempty"`
}

// ReleaseFunc removes a resource. Removing an absent resource must succeed.
type ReleaseFunc func(ctx context.Context) error

type entry struct {
	handle  Handle
	release ReleaseFunc
}

// Ledger tracks the resource handles of exactly one invocation and releases
// each of them at most once.
type Ledger struct {
	mu      sync.Mutex
	entries []*entry
	lg      zerolog.Logger
}

// NewLedger returns an empty ledger.
func NewLedger(lg zerolog.Logger) *Ledger {
	return &Ledger{lg: lg}
}

// Track records a handle. Callers track a resource before the stage that may
// create it so a half-finished stage is still cleaned up.
func (l *Ledger) Track(kind HandleKind, id string, release ReleaseFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, &entry{handle: Handle{Kind: kind, ID: id}, release: release})
}

// Teardown releases every unreleased handle in reverse order. Failures are
// logged and recorded on the handle, never returned.
func (l *Ledger) Teardown(ctx context.Context) {
	start := time.Now()

	l.mu.Lock()
	pending := make([]*entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.handle.Released {
			continue
		}
		// Marked before the call so a concurrent Teardown cannot run it twice.
		e.handle.Released = true
		pending = append(pending, e)
	}
	l.mu.Unlock()

	for _, e := range pending {
		err := e.release(ctx)
		if err != nil {
			l.lg.Warn().Err(err).
				Str("kind", string(e.handle.Kind)).
				Str("id", e.handle.ID).
				Msg("teardown failed, resource may be left behind")
			l.mu.Lock()
			e.handle.Error = err.Error()
			l.mu.Unlock()
			continue
		}
		l.lg.Debug().Str("kind", string(e.handle.Kind)).Str("id", e.handle.ID).Msg("resource released")
	}

	if len(pending) > 0 {
		l.lg.Info().Int("handles", len(pending)).Dur("took", time.Since(start)).Msg("teardown complete")
	}
}

// Handles returns a snapshot of the tracked handles in creation order.
func (l *Ledger) Handles() []Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Handle, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.handle
	}
	return out
}
