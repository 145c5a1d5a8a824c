package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/pkg/logger"
	"github.com/okian/jobboard/pkg/metrics"
)

// ConflictHook runs before a transactional write is buffered. Returning an
// error fails that write, which aborts the transaction. Tests use it to force
// contention at precise points.
type ConflictHook func(ctx context.Context, op string, ref document.Ref) error

// Transaction write operations reported to a ConflictHook.
const (
	OpSet    = "set"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Memory is an in-process Store. Transactions are optimistic: reads record
// the version they observed and commit fails with errkind.ErrConflict when
// any of them changed in the meantime.
type Memory struct {
	mu       sync.RWMutex
	docs     map[string]map[string]document.Document
	seq      int64
	watchers map[string]map[*Watcher]struct{}
	closed   bool

	clock        func() time.Time
	newID        func() string
	conflictHook ConflictHook
	log          logger.Logger
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the commit clock.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithIDGenerator overrides document id generation.
func WithIDGenerator(gen func() string) MemoryOption {
	return func(m *Memory) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithConflictHook installs a hook consulted before every transactional write.
func WithConflictHook(hook ConflictHook) MemoryOption {
	return func(m *Memory) { m.conflictHook = hook }
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) MemoryOption {
	return func(m *Memory) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		docs:     make(map[string]map[string]document.Document),
		watchers: make(map[string]map[*Watcher]struct{}),
		clock:    time.Now,
		newID:    func() string { return uuid.NewString() },
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend implements Store.
func (m *Memory) Backend() string { return BackendMemory }

// Get implements Store.
func (m *Memory) Get(_ context.Context, q document.Query) ([]document.Document, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(BackendMemory, "get", msSince(start)) }()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errkind.Wrap("memory.get", errkind.ErrStore, ErrClosed)
	}
	coll := m.docs[q.Collection]
	all := make([]document.Document, 0, len(coll))
	for _, d := range coll {
		all = append(all, d)
	}
	res := q.Apply(all)
	for i := range res {
		res[i] = res[i].Clone()
	}
	return res, nil
}

// GetDoc implements Store.
func (m *Memory) GetDoc(_ context.Context, collection, id string) (document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return document.Document{}, errkind.Wrap("memory.get_doc", errkind.ErrStore, ErrClosed)
	}
	d, ok := m.docs[collection][id]
	if !ok {
		return document.Document{}, errkind.New("memory.get_doc", errkind.ErrNotFound, collection+"/"+id+" not found")
	}
	return d.Clone(), nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe(ctx context.Context, q document.Query) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errkind.Wrap("memory.subscribe", errkind.ErrStore, ErrClosed)
	}
	var w *Watcher
	w = NewWatcher(ctx, q, func(ctx context.Context) ([]document.Document, error) {
		return m.Get(ctx, q)
	}, func() { m.unwatch(q.Collection, w) })
	if m.watchers[q.Collection] == nil {
		m.watchers[q.Collection] = make(map[*Watcher]struct{})
	}
	m.watchers[q.Collection][w] = struct{}{}
	return w, nil
}

func (m *Memory) unwatch(collection string, w *Watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watchers[collection], w)
	if len(m.watchers[collection]) == 0 {
		delete(m.watchers, collection)
	}
}

// Watchers returns the number of live subscriptions on collection.
func (m *Memory) Watchers(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watchers[collection])
}

type pendingWrite struct {
	ref     document.Ref
	data    map[string]any
	deleted bool
}

// RunTransaction implements Store.
func (m *Memory) RunTransaction(ctx context.Context, fn document.TxFunc) (time.Time, error) {
	const op = "memory.tx"
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(BackendMemory, "tx", msSince(start)) }()

	tx := &memTx{ctx: ctx, m: m, reads: make(map[document.Ref]int64), writes: make(map[document.Ref]int)}
	if err := fn(ctx, tx); err != nil {
		return time.Time{}, err
	}
	if err := ctx.Err(); err != nil {
		return time.Time{}, errkind.Wrap(op, errkind.ErrStore, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return time.Time{}, errkind.Wrap(op, errkind.ErrStore, ErrClosed)
	}
	for ref, seen := range tx.reads {
		if m.versionLocked(ref) != seen {
			m.mu.Unlock()
			return time.Time{}, errkind.New(op, errkind.ErrConflict, ref.Collection+"/"+ref.ID+" changed during transaction")
		}
	}
	commit := m.clock().UTC()
	touched := m.applyLocked(tx.pending, commit)
	m.mu.Unlock()

	m.notify(touched)
	return commit, nil
}

// Add implements Store.
func (m *Memory) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := m.newID()
	if err := m.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, collection, id string, data map[string]any) error {
	if id == "" {
		return errkind.Wrap("memory.set", errkind.ErrValidation, ErrEmptyID)
	}
	return m.write("memory.set", pendingWrite{ref: document.Ref{Collection: collection, ID: id}, data: document.CloneData(data)}, false)
}

// Update implements Store.
func (m *Memory) Update(_ context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errkind.Wrap("memory.update", errkind.ErrStore, ErrClosed)
	}
	cur, ok := m.docs[collection][id]
	if !ok {
		m.mu.Unlock()
		return errkind.New("memory.update", errkind.ErrNotFound, collection+"/"+id+" not found")
	}
	merged := document.CloneData(cur.Data)
	for k, v := range fields {
		merged[k] = v
	}
	touched := m.applyLocked([]pendingWrite{{ref: document.Ref{Collection: collection, ID: id}, data: merged}}, m.clock().UTC())
	m.mu.Unlock()
	m.notify(touched)
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, collection, id string) error {
	return m.write("memory.delete", pendingWrite{ref: document.Ref{Collection: collection, ID: id}, deleted: true}, true)
}

func (m *Memory) write(op string, w pendingWrite, mustExist bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errkind.Wrap(op, errkind.ErrStore, ErrClosed)
	}
	if _, ok := m.docs[w.ref.Collection][w.ref.ID]; mustExist && !ok {
		m.mu.Unlock()
		return errkind.New(op, errkind.ErrNotFound, w.ref.Collection+"/"+w.ref.ID+" not found")
	}
	touched := m.applyLocked([]pendingWrite{w}, m.clock().UTC())
	m.mu.Unlock()
	m.notify(touched)
	return nil
}

func (m *Memory) versionLocked(ref document.Ref) int64 {
	if d, ok := m.docs[ref.Collection][ref.ID]; ok {
		return d.Version
	}
	return 0
}

// applyLocked installs writes with fresh versions and returns the touched
// collections. Caller holds m.mu.
func (m *Memory) applyLocked(writes []pendingWrite, commit time.Time) map[string]struct{} {
	ts := document.FromTime(commit)
	touched := make(map[string]struct{}, len(writes))
	for _, w := range writes {
		touched[w.ref.Collection] = struct{}{}
		if w.deleted {
			delete(m.docs[w.ref.Collection], w.ref.ID)
			continue
		}
		m.seq++
		if m.docs[w.ref.Collection] == nil {
			m.docs[w.ref.Collection] = make(map[string]document.Document)
		}
		m.docs[w.ref.Collection][w.ref.ID] = document.Document{
			ID:      w.ref.ID,
			Data:    document.ResolveServerTimestamps(w.data, ts),
			Version: m.seq,
		}
	}
	return touched
}

func (m *Memory) notify(collections map[string]struct{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range collections {
		for w := range m.watchers[c] {
			w.Notify()
		}
	}
}

// Close implements Store. Live subscriptions are closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var live []*Watcher
	for _, set := range m.watchers {
		for w := range set {
			live = append(live, w)
		}
	}
	m.mu.Unlock()

	for _, w := range live {
		w.Close()
	}
	m.log.Debug(context.Background(), "memory store closed", logger.Int("subscriptions", len(live)))
	return nil
}

// memTx buffers writes until commit. Reads see the transaction's own writes.
type memTx struct {
	ctx     context.Context
	m       *Memory
	reads   map[document.Ref]int64
	writes  map[document.Ref]int
	pending []pendingWrite
}

func (t *memTx) Get(ref document.Ref) (document.Document, bool, error) {
	if i, ok := t.writes[ref]; ok {
		w := t.pending[i]
		if w.deleted {
			return document.Document{}, false, nil
		}
		return document.Document{ID: ref.ID, Data: document.CloneData(w.data)}, true, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	if t.m.closed {
		return document.Document{}, false, errkind.Wrap("memory.tx.get", errkind.ErrStore, ErrClosed)
	}
	d, ok := t.m.docs[ref.Collection][ref.ID]
	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = d.Version
	}
	if !ok {
		return document.Document{}, false, nil
	}
	return d.Clone(), true, nil
}

func (t *memTx) buffer(op string, w pendingWrite) error {
	if t.m.conflictHook != nil {
		if err := t.m.conflictHook(t.ctx, op, w.ref); err != nil {
			return err
		}
	}
	if i, ok := t.writes[w.ref]; ok {
		t.pending[i] = w
		return nil
	}
	t.writes[w.ref] = len(t.pending)
	t.pending = append(t.pending, w)
	return nil
}

func (t *memTx) Set(ref document.Ref, data map[string]any) error {
	if ref.ID == "" {
		return errkind.Wrap("memory.tx.set", errkind.ErrValidation, ErrEmptyID)
	}
	return t.buffer(OpSet, pendingWrite{ref: ref, data: document.CloneData(data)})
}

func (t *memTx) Update(ref document.Ref, fields map[string]any) error {
	cur, ok, err := t.Get(ref)
	if err != nil {
		return err
	}
	if !ok {
		return errkind.New("memory.tx.update", errkind.ErrNotFound, ref.Collection+"/"+ref.ID+" not found")
	}
	merged := cur.Data
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		merged[k] = v
	}
	return t.buffer(OpUpdate, pendingWrite{ref: ref, data: merged})
}

func (t *memTx) Delete(ref document.Ref) error {
	return t.buffer(OpDelete, pendingWrite{ref: ref, deleted: true})
}

func (t *memTx) NewRef(collection string) document.Ref {
	return document.Ref{Collection: collection, ID: t.m.newID()}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

var _ Store = (*Memory)(nil)
