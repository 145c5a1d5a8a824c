package docstore

import (
	"context"
	"sync"

	"github.com/okian/jobboard/internal/domain/document"
)

// FetchFunc re-runs a watched query.
type FetchFunc func(ctx context.Context) ([]document.Document, error)

// Watcher turns "something in this collection changed" signals into change
// batches for one query. Signals coalesce; each refresh diffs the new result
// set against the previous one. Batches are buffered without bound so the
// goroutine signalling a change never waits on a slow consumer.
type Watcher struct {
	query   document.Query
	fetch   FetchFunc
	changes chan document.Batch
	errs    chan error
	notify  chan struct{}
	fail    chan error
	done    chan struct{}

	closeOnce sync.Once
	onClose   func()
}

// NewWatcher starts watching q. onClose runs once when the watcher stops,
// letting the backend drop its registration. The first refresh is scheduled
// immediately.
func NewWatcher(ctx context.Context, q document.Query, fetch FetchFunc, onClose func()) *Watcher {
	w := &Watcher{
		query:   q,
		fetch:   fetch,
		changes: make(chan document.Batch),
		errs:    make(chan error),
		notify:  make(chan struct{}, 1),
		fail:    make(chan error, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	w.Notify()
	go w.run(ctx)
	return w
}

// Query returns the watched query.
func (w *Watcher) Query() document.Query { return w.query }

// Changes implements Subscription.
func (w *Watcher) Changes() <-chan document.Batch { return w.changes }

// Errors implements Subscription.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Notify schedules a refresh. It never blocks.
func (w *Watcher) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Fail reports err to the consumer and stops refreshing. Only the first
// failure is kept.
func (w *Watcher) Fail(err error) {
	select {
	case w.fail <- err:
	default:
	}
}

// Close implements Subscription.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.onClose != nil {
			w.onClose()
		}
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.errs)
	defer close(w.changes)
	defer w.Close()

	var (
		queue   []document.Batch
		errq    []error
		prev    []document.Document
		started bool
		failed  bool
	)
	for {
		var (
			out     chan<- document.Batch
			next    document.Batch
			errOut  chan<- error
			nextErr error
			notify  <-chan struct{}
		)
		if len(queue) > 0 {
			out, next = w.changes, queue[0]
		}
		if len(errq) > 0 {
			errOut, nextErr = w.errs, errq[0]
		}
		if !failed {
			notify = w.notify
		}

		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case err := <-w.fail:
			if !failed {
				failed = true
				errq = append(errq, err)
			}
		case <-notify:
			docs, err := w.fetch(ctx)
			if err != nil {
				failed = true
				errq = append(errq, err)
				continue
			}
			var batch document.Batch
			if started {
				batch = document.Diff(prev, docs)
			} else {
				batch = document.Initial(docs)
				started = true
			}
			prev = docs
			if len(batch) > 0 {
				queue = append(queue, batch)
			}
		case out <- next:
			queue = queue[1:]
		case errOut <- nextErr:
			errq = errq[1:]
		}
	}
}

var _ Subscription = (*Watcher)(nil)
