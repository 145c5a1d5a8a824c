// Package dedupe tracks which document ids a change-feed session has already
// delivered, and at which version.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mark classifies a delivery against what the session already sent.
type Mark int

const (
	// MarkNew means the id was never delivered.
	MarkNew Mark = iota
	// MarkChanged means the id was delivered at another version.
	MarkChanged
	// MarkSeen means the id was delivered at this version.
	MarkSeen
)

// unversioned is recorded by MarkSent, which does not know the version.
const unversioned int64 = -1

// Tracker records delivered document ids for one session.
type Tracker interface {
	// MarkSent records id and returns true if it was not recorded before.
	// Thread-safe and atomic.
	MarkSent(ctx context.Context, id string) bool

	// MarkVersion records id at version and reports how that compares with
	// the previous delivery of id.
	MarkVersion(ctx context.Context, id string, version int64) Mark

	// Sent reports whether id has been recorded.
	Sent(ctx context.Context, id string) bool

	Size() int64
}

// inMemoryTracker implements Tracker with a plain map. There is no eviction:
// the map lives as long as the session that owns it.
type inMemoryTracker struct {
	mu   sync.RWMutex
	sent map[string]int64
	size atomic.Int64
}

// NewTracker creates an empty tracker. sizeHint pre-sizes the set, typically
// to the length of the initial batch.
func NewTracker(sizeHint int) Tracker {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &inMemoryTracker{sent: make(map[string]int64, sizeHint)}
}

// MarkSent records id and returns true if it was newly inserted.
func (t *inMemoryTracker) MarkSent(_ context.Context, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sent[id]; exists {
		return false
	}
	t.sent[id] = unversioned
	t.size.Add(1)
	return true
}

// MarkVersion records id at version. An id recorded without a version
// matches any version.
func (t *inMemoryTracker) MarkVersion(_ context.Context, id string, version int64) Mark {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, exists := t.sent[id]
	t.sent[id] = version
	switch {
	case !exists:
		t.size.Add(1)
		return MarkNew
	case prev != unversioned && prev != version:
		return MarkChanged
	default:
		return MarkSeen
	}
}

// Sent reports whether id was already delivered.
func (t *inMemoryTracker) Sent(_ context.Context, id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.sent[id]
	return exists
}

// Size returns the number of recorded ids.
func (t *inMemoryTracker) Size() int64 {
	return t.size.Load()
}
