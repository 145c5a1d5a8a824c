// Package feed runs the per-connection sessions behind the WebSocket
// endpoints: change-feed sessions that stream a scoped query and accept job
// edits, and bid sessions that submit bids and receive new_bid broadcasts.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/jobboard/internal/domain/dedupe"
	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/internal/domain/model"
	"github.com/okian/jobboard/internal/domain/timestamp"
	"github.com/okian/jobboard/pkg/logger"
	"github.com/okian/jobboard/pkg/metrics"
)

// Conn is the client side of a session.
type Conn interface {
	// Read blocks for the next inbound message.
	Read(ctx context.Context) ([]byte, error)
	// Send queues v for delivery as JSON.
	Send(ctx context.Context, v any) error
}

// Store is the part of the document store a change-feed session uses.
type Store interface {
	Get(ctx context.Context, q document.Query) ([]document.Document, error)
	GetDoc(ctx context.Context, collection, id string) (document.Document, error)
	Subscribe(ctx context.Context, q document.Query) (document.Subscription, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

// State is a session lifecycle state.
type State int32

// Session states.
const (
	Connecting State = iota
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Message types.
const (
	TypeInitial   = "initial"
	TypeEditJob   = "edit_job"
	TypeDeleteJob = "delete_job"
)

// Event is an outbound data event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ErrorEvent is the outbound error shape of change-feed sessions.
type ErrorEvent struct {
	Error string `json:"error"`
}

type options struct {
	log   logger.Logger
	id    string
	clock func() time.Time
}

// Option configures a session.
type Option func(*options)

// WithLogger sets the session logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithID sets the session id used in logs. A random id is used otherwise.
func WithID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.id = id
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: logger.Nop(), id: uuid.NewString(), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With(logger.String("session_id", o.id))
	return o
}

// Session streams one scoped query to one client.
type Session struct {
	variant Variant
	store   Store
	conn    Conn
	opts    options

	state     atomic.Int32
	sent      dedupe.Tracker
	sub       document.Subscription
	closeOnce sync.Once
}

// NewSession prepares a session in the Connecting state.
func NewSession(v Variant, store Store, conn Conn, opts ...Option) *Session {
	return &Session{variant: v, store: store, conn: conn, opts: buildOptions(opts), sent: dedupe.NewTracker(0)}
}

// ID returns the session id.
func (s *Session) ID() string { return s.opts.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Run drives the session until the client goes away, ctx ends or a send
// fails. A scope validation failure is reported to the client and ends the
// session. Every other failure is reported and the session keeps streaming;
// when the initial read fails no initial event is sent and the subscription's
// first delivery carries the result set instead. The live subscription is
// always cancelled on return.
func (s *Session) Run(ctx context.Context, params url.Values) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()
	defer func() {
		if r := recover(); r != nil {
			s.opts.log.Error(ctx, "session panicked", logger.Any("panic", r))
			metrics.RecordErrorByComponent("feed", "panic")
			err = fmt.Errorf("%w: %v", ErrSessionPanic, r)
		}
	}()

	route := s.variant.Route
	metrics.RecordSessionOpened(route)
	defer metrics.RecordSessionClosed(route)
	s.opts.log.Info(ctx, "feed session opened", logger.String("route", route))
	defer func() {
		s.opts.log.Info(ctx, "feed session closed", logger.String("route", route), logger.Int64("delivered", s.sent.Size()))
	}()

	q, err := s.variant.Scope(params)
	if err != nil {
		return s.report(ctx, err)
	}

	if docs, err := s.store.Get(ctx, q); err != nil {
		if err := s.report(ctx, err); err != nil {
			return err
		}
	} else if err := s.sendInitial(ctx, docs); err != nil {
		return err
	}

	var (
		changes <-chan document.Batch
		subErrs <-chan error
	)
	sub, err := s.store.Subscribe(ctx, q)
	if err != nil {
		if err := s.report(ctx, err); err != nil {
			return err
		}
	} else {
		s.sub = sub
		changes, subErrs = sub.Changes(), sub.Errors()
	}
	s.state.Store(int32(Streaming))

	inbound, readErr := pump(ctx, s.conn)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			s.opts.log.Debug(ctx, "client stopped reading", logger.Error(err))
			return nil
		case batch, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if err := s.deliver(ctx, batch); err != nil {
				return err
			}
		case err, ok := <-subErrs:
			if !ok {
				subErrs = nil
				continue
			}
			if err := s.report(ctx, errkind.Wrap("feed.subscription", errkind.ErrStore, err)); err != nil {
				return err
			}
		case msg := <-inbound:
			if err := s.handle(ctx, msg); err != nil {
				if err := s.report(ctx, err); err != nil {
					return err
				}
			}
		}
	}
}

// close enters Closed and cancels the subscription. Idempotent.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closed))
		if s.sub != nil {
			s.sub.Close()
		}
	})
}

type reader interface {
	Read(ctx context.Context) ([]byte, error)
}

// pump reads r on its own goroutine so callers can select on inbound
// messages. The error channel receives the first read failure.
func pump(ctx context.Context, r reader) (<-chan []byte, <-chan error) {
	out := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		for {
			msg, err := r.Read(ctx)
			if err != nil {
				errs <- err
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs
}

func (s *Session) sendInitial(ctx context.Context, docs []document.Document) error {
	s.sent = dedupe.NewTracker(len(docs))
	records := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		s.sent.MarkVersion(ctx, d.ID, d.Version)
		records = append(records, s.record(d))
	}
	return s.send(ctx, Event{Type: TypeInitial, Data: records})
}

// deliver forwards one batch. An added change for an id already delivered at
// the same version is dropped; at another version it goes out as modified.
// Modified and removed always go out.
func (s *Session) deliver(ctx context.Context, batch document.Batch) error {
	for _, c := range batch {
		typ := c.Type
		if c.Type != document.Removed {
			mark := s.sent.MarkVersion(ctx, c.Doc.ID, c.Doc.Version)
			if c.Type == document.Added {
				switch mark {
				case dedupe.MarkSeen:
					metrics.RecordDedupSuppressed()
					continue
				case dedupe.MarkChanged:
					typ = document.Modified
				}
			}
		}
		if err := s.send(ctx, Event{Type: string(typ), Data: s.record(c.Doc)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) record(d document.Document) map[string]any {
	rec := timestamp.NormalizeDocument(d)
	if rec == nil {
		rec = make(map[string]any, 1)
	}
	rec[s.variant.IDField] = d.ID
	return rec
}

func (s *Session) send(ctx context.Context, v any) error {
	if err := s.conn.Send(ctx, v); err != nil {
		return err
	}
	if ev, ok := v.(Event); ok {
		metrics.RecordEventSent(ev.Type)
	}
	return nil
}

// report sends err to the client. The returned error is a send failure only.
func (s *Session) report(ctx context.Context, err error) error {
	metrics.RecordFeedError(s.variant.Route)
	s.opts.log.Warn(ctx, "feed error reported to client", logger.String("kind", errkind.Label(err)), logger.Error(err))
	return s.conn.Send(ctx, ErrorEvent{Error: describe(err)})
}

type inboundMessage struct {
	Type    string                     `json:"type"`
	JobID   string                     `json:"job_id"`
	Updates map[string]json.RawMessage `json:"updates"`
}

func (s *Session) handle(ctx context.Context, raw []byte) error {
	const op = "feed.inbound"
	if !s.variant.Mutable {
		return errkind.New(op, errkind.ErrMalformed, MsgReadOnly)
	}
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errkind.New(op, errkind.ErrMalformed, MsgInvalidEdit)
	}
	switch msg.Type {
	case TypeEditJob:
		return s.editJob(ctx, msg)
	case TypeDeleteJob:
		return s.deleteJob(ctx, msg)
	default:
		return errkind.New(op, errkind.ErrMalformed, MsgInvalidEdit)
	}
}

func (s *Session) editJob(ctx context.Context, msg inboundMessage) error {
	const op = "feed.edit_job"
	if msg.JobID == "" {
		return errkind.Missing(op, model.JobFieldID)
	}
	if _, err := s.store.GetDoc(ctx, model.CollectionJobs, msg.JobID); err != nil {
		return notFound(op, err)
	}
	update, err := model.ParseJobUpdate(msg.Updates)
	if err != nil {
		return err
	}
	if err := s.store.Update(ctx, model.CollectionJobs, msg.JobID, update.Fields()); err != nil {
		return notFound(op, err)
	}
	s.opts.log.Info(ctx, "job edited", logger.String("job_id", msg.JobID))
	return nil
}

func (s *Session) deleteJob(ctx context.Context, msg inboundMessage) error {
	const op = "feed.delete_job"
	if msg.JobID == "" {
		return errkind.Missing(op, model.JobFieldID)
	}
	if _, err := s.store.GetDoc(ctx, model.CollectionJobs, msg.JobID); err != nil {
		return notFound(op, err)
	}
	if err := s.store.Delete(ctx, model.CollectionJobs, msg.JobID); err != nil {
		return notFound(op, err)
	}
	s.opts.log.Info(ctx, "job deleted", logger.String("job_id", msg.JobID))
	return nil
}

func notFound(op string, err error) error {
	if errkind.KindOf(err) == errkind.ErrNotFound {
		return errkind.New(op, errkind.ErrNotFound, MsgJobNotFound)
	}
	return err
}

// describe renders err for a client, naming offending fields if any.
func describe(err error) string {
	msg := errkind.Message(err)
	if fields := errkind.FieldsOf(err); len(fields) > 0 {
		msg += ": " + strings.Join(fields, ", ")
	}
	return msg
}
