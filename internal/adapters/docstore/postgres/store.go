// Package postgres stores documents as jsonb rows and drives change
// subscriptions from LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/jobboard/internal/adapters/docstore"
	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/pkg/logger"
	"github.com/okian/jobboard/pkg/metrics"
)

// DefaultChannel is the NOTIFY channel carrying changed collection names.
const DefaultChannel = "docstore_changes"

const defaultReconnectBackoff = 500 * time.Millisecond

const schema = `
CREATE SEQUENCE IF NOT EXISTS documents_version_seq;
CREATE TABLE IF NOT EXISTS documents (
	collection text        NOT NULL,
	id         text        NOT NULL,
	data       jsonb       NOT NULL DEFAULT '{}'::jsonb,
	version    bigint      NOT NULL DEFAULT nextval('documents_version_seq'),
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_data_gin ON documents USING gin (data jsonb_path_ops);
`

// Store is a docstore.Store over PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	ownsPool  bool
	channel   string
	backoff   time.Duration
	log       logger.Logger
	newID     func() string
	listening chan struct{}

	mu       sync.Mutex
	watchers map[string]map[*docstore.Watcher]struct{}
	closed   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithChannel overrides the NOTIFY channel.
func WithChannel(ch string) Option {
	return func(s *Store) {
		if ch != "" {
			s.channel = ch
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithReconnectBackoff sets the pause between LISTEN reconnect attempts.
func WithReconnectBackoff(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// Open connects to dsn, verifies connectivity and starts the listener.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s, err := New(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.ownsPool = true
	return s, nil
}

// New wraps an existing pool and starts the listener. It returns once LISTEN
// is established or ctx ends.
func New(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	s := &Store{
		pool:      pool,
		channel:   DefaultChannel,
		backoff:   defaultReconnectBackoff,
		log:       logger.Nop(),
		newID:     func() string { return uuid.NewString() },
		listening: make(chan struct{}),
		watchers:  make(map[string]map[*docstore.Watcher]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	lctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.listenLoop(lctx)

	select {
	case <-s.listening:
		return s, nil
	case <-ctx.Done():
		cancel()
		s.wg.Wait()
		return nil, fmt.Errorf("start listener: %w", ctx.Err())
	}
}

// Migrate creates the documents table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

// Backend implements docstore.Store.
func (s *Store) Backend() string { return docstore.BackendPostgres }

// Get implements docstore.Store. Filters run in SQL; ordering and limit are
// applied to the filtered rows.
func (s *Store) Get(ctx context.Context, q document.Query) ([]document.Document, error) {
	const op = "postgres.get"
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(docstore.BackendPostgres, "get", msSince(start)) }()

	filter, err := filterJSON(q.Filters)
	if err != nil {
		return nil, errkind.Wrap(op, errkind.ErrValidation, err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, data, version FROM documents WHERE collection = $1 AND data @> $2::jsonb`,
		q.Collection, filter)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, errkind.Wrap(op, errkind.ErrStore, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return q.Apply(docs), nil
}

// GetDoc implements docstore.Store.
func (s *Store) GetDoc(ctx context.Context, collection, id string) (document.Document, error) {
	const op = "postgres.get_doc"
	row := s.pool.QueryRow(ctx,
		`SELECT id, data, version FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return document.Document{}, errkind.New(op, errkind.ErrNotFound, collection+"/"+id+" not found")
	}
	if err != nil {
		return document.Document{}, mapError(op, err)
	}
	return d, nil
}

// Subscribe implements docstore.Store.
func (s *Store) Subscribe(ctx context.Context, q document.Query) (docstore.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errkind.Wrap("postgres.subscribe", errkind.ErrStore, docstore.ErrClosed)
	}
	var w *docstore.Watcher
	w = docstore.NewWatcher(ctx, q, func(ctx context.Context) ([]document.Document, error) {
		return s.Get(ctx, q)
	}, func() { s.unwatch(q.Collection, w) })
	if s.watchers[q.Collection] == nil {
		s.watchers[q.Collection] = make(map[*docstore.Watcher]struct{})
	}
	s.watchers[q.Collection][w] = struct{}{}
	return w, nil
}

func (s *Store) unwatch(collection string, w *docstore.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[collection], w)
	if len(s.watchers[collection]) == 0 {
		delete(s.watchers, collection)
	}
}

// RunTransaction implements docstore.Store. Transactions are serializable;
// serialization failures and deadlocks surface as errkind.ErrConflict.
func (s *Store) RunTransaction(ctx context.Context, fn document.TxFunc) (commit time.Time, err error) {
	const op = "postgres.tx"
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(docstore.BackendPostgres, "tx", msSince(start)) }()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return time.Time{}, mapError(op, err)
	}
	defer func() {
		if rerr := tx.Rollback(context.Background()); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()

	ptx := newTx(ctx, tx, s)
	if err := fn(ctx, ptx); err != nil {
		return time.Time{}, err
	}

	// clock_timestamp() is read after fn so server timestamps carry the
	// moment the staged writes are flushed, immediately before COMMIT.
	if err := tx.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&commit); err != nil {
		return time.Time{}, mapError(op, err)
	}
	commit = commit.UTC()
	touched, err := ptx.flush(document.FromTime(commit))
	if err != nil {
		return time.Time{}, err
	}
	for c := range touched {
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, s.channel, c); err != nil {
			return time.Time{}, mapError(op, fmt.Errorf("send change notification: %w", err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, mapError(op, err)
	}
	return commit, nil
}

// Add implements docstore.Store.
func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	var id string
	_, err := s.RunTransaction(ctx, func(_ context.Context, tx document.Tx) error {
		ref := tx.NewRef(collection)
		id = ref.ID
		return tx.Set(ref, data)
	})
	return id, err
}

// Set implements docstore.Store.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := s.RunTransaction(ctx, func(_ context.Context, tx document.Tx) error {
		return tx.Set(document.Ref{Collection: collection, ID: id}, data)
	})
	return err
}

// Update implements docstore.Store.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	_, err := s.RunTransaction(ctx, func(_ context.Context, tx document.Tx) error {
		return tx.Update(document.Ref{Collection: collection, ID: id}, fields)
	})
	return err
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.RunTransaction(ctx, func(_ context.Context, tx document.Tx) error {
		ref := document.Ref{Collection: collection, ID: id}
		if _, ok, err := tx.Get(ref); err != nil {
			return err
		} else if !ok {
			return errkind.New("postgres.delete", errkind.ErrNotFound, collection+"/"+id+" not found")
		}
		return tx.Delete(ref)
	})
	return err
}

// Close stops the listener, closes live subscriptions and, when the store
// opened the pool itself, the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var live []*docstore.Watcher
	for _, set := range s.watchers {
		for w := range set {
			live = append(live, w)
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	for _, w := range live {
		w.Close()
	}
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

func (s *Store) listenLoop(ctx context.Context) {
	defer s.wg.Done()
	ready := false
	for ctx.Err() == nil {
		err := s.listen(ctx, func() {
			if !ready {
				ready = true
				close(s.listening)
			}
		})
		if ctx.Err() != nil {
			return
		}
		s.log.Warn(ctx, "change listener disconnected", logger.Error(err))
		metrics.RecordErrorByComponent("docstore", "listen")
		s.failAll(errkind.Wrap("postgres.listen", errkind.ErrStore, fmt.Errorf("%w: %w", docstore.ErrSubscription, err)))

		timer := time.NewTimer(s.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Store) listen(ctx context.Context, onReady func()) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	quoted := pgx.Identifier{s.channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+quoted); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "UNLISTEN "+quoted); err != nil {
			conn.Conn().Close(context.Background()) //nolint:errcheck // connection is being discarded
		}
	}()
	onReady()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		metrics.RecordStoreNotification()
		s.notify(n.Payload)
	}
}

func (s *Store) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers[collection] {
		w.Notify()
	}
}

func (s *Store) failAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.watchers {
		for w := range set {
			w.Fail(err)
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (document.Document, error) {
	var (
		d   document.Document
		raw []byte
	)
	if err := r.Scan(&d.ID, &raw, &d.Version); err != nil {
		return document.Document{}, err
	}
	data, err := decode(raw)
	if err != nil {
		return document.Document{}, err
	}
	d.Data = data
	return d, nil
}

// mapError classifies database errors. Serialization failures and deadlocks
// are conflicts; everything else is a store error.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return errkind.Wrap(op, errkind.ErrConflict, err)
		case pgerrcode.InvalidTextRepresentation, pgerrcode.InvalidParameterValue:
			return errkind.Wrap(op, errkind.ErrValidation, err)
		}
	}
	return errkind.Wrap(op, errkind.ErrStore, err)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

var _ docstore.Store = (*Store)(nil)
