// Package broadcast fans newly accepted bids out to every connected bid
// session.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/okian/jobboard/pkg/logger"
	"github.com/okian/jobboard/pkg/metrics"
)

// ErrNilMember is returned when registering a nil member.
var ErrNilMember = errors.New("broadcast member is nil")

// EventNewBid is the type of events published after a bid commits.
const EventNewBid = "new_bid"

// Event is the frame delivered to members.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Member is one registered session. Send must not block for long; a failing
// Send means the member is gone.
type Member interface {
	ID() string
	Send(ctx context.Context, v any) error
}

// Registry is the process-wide set of bid sessions.
type Registry struct {
	mu      sync.RWMutex
	members map[string]Member
	log     logger.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{members: make(map[string]Member), log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds m. Registering the same id again replaces the old member.
func (r *Registry) Register(m Member) error {
	if m == nil {
		return ErrNilMember
	}
	r.mu.Lock()
	r.members[m.ID()] = m
	n := len(r.members)
	r.mu.Unlock()
	metrics.UpdateRegistrySize(n)
	return nil
}

// Unregister removes m. Removing an unknown member is a no-op.
func (r *Registry) Unregister(m Member) {
	if m == nil {
		return
	}
	r.remove(m)
}

func (r *Registry) remove(m Member) {
	r.mu.Lock()
	if cur, ok := r.members[m.ID()]; ok && cur == m {
		delete(r.members, m.ID())
	}
	n := len(r.members)
	r.mu.Unlock()
	metrics.UpdateRegistrySize(n)
}

// Len returns the number of registered members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast sends ev to a snapshot of the current members and returns how
// many accepted it. A member whose Send fails is dropped; the others still
// receive the event.
func (r *Registry) Broadcast(ctx context.Context, ev Event) int {
	r.mu.RLock()
	snapshot := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		snapshot = append(snapshot, m)
	}
	r.mu.RUnlock()

	delivered, failed := 0, 0
	for _, m := range snapshot {
		if err := m.Send(ctx, ev); err != nil {
			failed++
			r.log.Debug(ctx, "pruning broadcast member", logger.String("member", m.ID()), logger.Error(err))
			r.remove(m)
			continue
		}
		delivered++
	}
	metrics.RecordBroadcast(delivered, failed)
	return delivered
}
