// Package queue holds the bounded outbound queue placed in front of every
// socket writer. Enqueue never blocks: a client that cannot keep up loses
// frames instead of stalling the session or a broadcast.
package queue

import (
	"context"
	"sync"

	"github.com/okian/jobboard/pkg/metrics"
)

const defaultCapacity = 256

// Frame is one encoded outbound message.
type Frame []byte

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a frame. Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, f Frame) bool

	// Dequeue returns the channel the writer drains. It is closed by Close
	// once the remaining frames are consumed.
	Dequeue() <-chan Frame

	// Len returns the number of queued frames.
	Len() int

	// Close stops accepting frames. It is safe to call more than once.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	frames   chan Frame
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a queue holding up to the configured capacity.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.frames = make(chan Frame, q.capacity)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, f Frame) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordOutboundDrop()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.frames <- f:
		metrics.RecordOutboundEnqueue()
		return true
	case <-ctx.Done():
		metrics.RecordOutboundDrop()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordOutboundDrop()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue implements Queue.
func (q *InMemoryQueue) Dequeue() <-chan Frame { return q.frames }

// Len implements Queue.
func (q *InMemoryQueue) Len() int { return len(q.frames) }

// Capacity returns the configured bound.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Close implements Queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.frames)
	q.closed = true
	return nil
}

// IsClosed implements Queue.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

var _ Queue = (*InMemoryQueue)(nil)
