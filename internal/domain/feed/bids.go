package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/okian/jobboard/internal/domain/bidding"
	"github.com/okian/jobboard/internal/domain/broadcast"
	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/internal/domain/model"
	"github.com/okian/jobboard/internal/domain/timestamp"
	"github.com/okian/jobboard/pkg/logger"
	"github.com/okian/jobboard/pkg/metrics"
)

// RouteBids is the bid submission endpoint.
const RouteBids = "/bids"

// Bid session message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeBidSubmitted          = "bid_submitted"
	TypeBidAccepted           = "bid_accepted"
	TypeError                 = "error"
)

// BidConn is a bid session client. It is also the registry member that
// receives new_bid broadcasts.
type BidConn interface {
	broadcast.Member
	Read(ctx context.Context) ([]byte, error)
}

// Submitter commits bids.
type Submitter interface {
	Submit(ctx context.Context, sub model.Submission, freelancerID *string, ack bidding.AckFunc) (bidding.Receipt, error)
}

// Connected greets a new bid session.
type Connected struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Accepted acknowledges a committed bid.
type Accepted struct {
	Type      string `json:"type"`
	BidID     string `json:"bidId"`
	Timestamp string `json:"timestamp"`
}

// FieldDetails lists required and received payload keys.
type FieldDetails struct {
	Required []string `json:"required"`
	Received []string `json:"received"`
}

// ErrorReply is the outbound error shape of bid sessions.
type ErrorReply struct {
	Type    string        `json:"type"`
	Message string        `json:"message"`
	Error   string        `json:"error,omitempty"`
	Details *FieldDetails `json:"details,omitempty"`
}

type bidMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// BidSession accepts bid submissions from one client and keeps it registered
// for new_bid broadcasts while connected.
type BidSession struct {
	registry     *broadcast.Registry
	submitter    Submitter
	conn         BidConn
	freelancerID *string
	opts         options

	state     State
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewBidSession prepares a bid session. freelancerID is nil for anonymous
// callers.
func NewBidSession(reg *broadcast.Registry, submitter Submitter, conn BidConn, freelancerID *string, opts ...Option) *BidSession {
	return &BidSession{
		registry:     reg,
		submitter:    submitter,
		conn:         conn,
		freelancerID: freelancerID,
		opts:         buildOptions(opts),
	}
}

// State returns the current state.
func (s *BidSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *BidSession) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run registers the connection, greets it and handles submissions until the
// client goes away or ctx ends. The connection is unregistered on return.
func (s *BidSession) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()
	defer func() {
		if r := recover(); r != nil {
			s.opts.log.Error(ctx, "bid session panicked", logger.Any("panic", r))
			metrics.RecordErrorByComponent("feed", "panic")
			err = fmt.Errorf("%w: %v", ErrSessionPanic, r)
		}
	}()

	metrics.RecordSessionOpened(RouteBids)
	defer metrics.RecordSessionClosed(RouteBids)

	if err := s.registry.Register(s.conn); err != nil {
		return err
	}
	s.opts.log.Info(ctx, "bid session opened")
	defer s.opts.log.Info(ctx, "bid session closed")

	hello := Connected{Type: TypeConnectionEstablished, Message: MsgBidsConnected, Timestamp: timestamp.ISO(s.opts.clock())}
	if err := s.conn.Send(ctx, hello); err != nil {
		return err
	}
	s.setState(Streaming)

	inbound, readErr := pump(ctx, s.conn)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			s.opts.log.Debug(ctx, "client stopped reading", logger.Error(err))
			return nil
		case raw := <-inbound:
			if reply := s.handle(ctx, raw); reply != nil {
				metrics.RecordFeedError(RouteBids)
				if err := s.conn.Send(ctx, reply); err != nil {
					return err
				}
			}
		}
	}
}

func (s *BidSession) close() {
	s.closeOnce.Do(func() {
		s.setState(Closed)
		s.registry.Unregister(s.conn)
	})
}

// handle processes one inbound message and returns the error reply, if any.
func (s *BidSession) handle(ctx context.Context, raw []byte) *ErrorReply {
	var msg bidMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return &ErrorReply{Type: TypeError, Message: MsgMalformedBid, Error: err.Error()}
	}
	if msg.Type != TypeBidSubmitted {
		return &ErrorReply{Type: TypeError, Message: MsgUnsupportedType, Error: msg.Type}
	}

	sub, err := model.ParseSubmission(msg.Data)
	if err != nil {
		return &ErrorReply{
			Type:    TypeError,
			Message: MsgMissingFields,
			Details: &FieldDetails{Required: model.RequiredBidFields, Received: model.ReceivedKeys(msg.Data)},
		}
	}

	ack := func(ctx context.Context, r bidding.Receipt) error {
		return s.conn.Send(ctx, Accepted{Type: TypeBidAccepted, BidID: r.BidID, Timestamp: timestamp.ISO(r.SubmittedAt)})
	}
	if _, err := s.submitter.Submit(ctx, sub, s.freelancerID, ack); err != nil {
		s.opts.log.Warn(ctx, "bid rejected", logger.String("job_id", sub.JobID), logger.String("kind", errkind.Label(err)), logger.Error(err))
		return &ErrorReply{Type: TypeError, Message: MsgBidFailed, Error: errkind.Message(err)}
	}
	return nil
}
