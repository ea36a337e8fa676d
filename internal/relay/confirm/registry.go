// Package confirm holds actions that are waiting for a human to reply
// "confirm <id>" or "cancel <id>".
//
// The Registry is the single source of truth for what is pending. It lives in
// memory only; a restart forgets every pending action.
package confirm

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bdobrica/relay/common/spec/command"
)

// DefaultTTL is how long a pending action stays resolvable when no TTL is
// configured.
const DefaultTTL = 30 * time.Minute

// PendingAction is an action awaiting approval. Once Put, the registry owns
// its own copy; callers must not expect later mutations to be observed.
type PendingAction struct {
	ActionID   string
	Kind       command.Kind
	Services   []string
	Parameters map[string]any

	// Channel and Requester record where the prompt was sent and who asked.
	// They are informational; any user in any channel may resolve the action.
	Channel   string
	Requester string

	CreatedAt time.Time
	// ExpiresAt is zero when the action never expires.
	ExpiresAt time.Time
}

// Command returns the bus command for p. The request id is the action id so
// the published command can be traced back to the confirmation prompt.
func (p PendingAction) Command() command.Command {
	return command.Command{
		Kind:       p.Kind,
		Services:   p.Services,
		Parameters: p.Parameters,
		RequestID:  p.ActionID,
	}
}

func (p PendingAction) expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Registry maps action ids to pending actions. It is safe for concurrent use;
// Put and Take are atomic with respect to each other.
type Registry struct {
	mu      sync.Mutex
	entries map[string]PendingAction
	ttl     time.Duration
	now     func() time.Time
}

// NewRegistry creates an empty registry. A zero ttl selects DefaultTTL and a
// negative ttl disables expiry.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		entries: make(map[string]PendingAction),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// TTL reports the configured lifetime; negative means no expiry.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Put stores p under id, replacing any existing entry (last write wins).
// ActionID, CreatedAt and ExpiresAt are set by the registry.
func (r *Registry) Put(id string, p PendingAction) PendingAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p.ActionID = id
	p.Services = slices.Clone(p.Services)
	p.Parameters = maps.Clone(p.Parameters)
	p.CreatedAt = now
	p.ExpiresAt = time.Time{}
	if r.ttl > 0 {
		p.ExpiresAt = now.Add(r.ttl)
	}
	r.entries[id] = p
	return p
}

// Take removes and returns the entry for id. It reports false when the id was
// never stored, was already taken, or has expired; the three cases are
// deliberately indistinguishable.
func (r *Registry) Take(id string) (PendingAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.entries[id]
	if !ok {
		return PendingAction{}, false
	}
	delete(r.entries, id)
	if p.expired(r.now()) {
		return PendingAction{}, false
	}
	return p, true
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops every expired entry and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, p := range r.entries {
		if p.expired(now) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is cancelled. onSweep, if
// non-nil, is called after each pass with the number of removed entries.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if r.ttl < 0 || interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := r.Sweep()
			if removed > 0 {
				slog.Info("confirm: expired pending actions", "removed", removed)
			}
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}
