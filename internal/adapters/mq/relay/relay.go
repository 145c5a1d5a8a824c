// Package relay carries new_bid events between service instances over Redis
// pub/sub. Every instance runs a Subscriber that broadcasts what it receives
// to its local registry, so bidders connected anywhere see every bid.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/okian/jobboard/internal/domain/broadcast"
	"github.com/okian/jobboard/pkg/logger"
	"github.com/okian/jobboard/pkg/metrics"
)

// DefaultChannel is the pub/sub channel for bid events.
const DefaultChannel = "jobboard:new_bid"

// ErrSubscriptionClosed is returned by Run when Redis closes the subscription.
var ErrSubscriptionClosed = errors.New("relay: subscription closed")

type settings struct {
	channel  string
	log      logger.Logger
	fallback broadcast.Publisher
}

// Option configures a Publisher or Subscriber.
type Option func(*settings)

// WithChannel overrides the pub/sub channel.
func WithChannel(ch string) Option {
	return func(s *settings) {
		if ch != "" {
			s.channel = ch
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithFallback makes a Publisher hand events to pub when Redis rejects them,
// so bidders on this instance still see the bid. Ignored by Subscriber.
func WithFallback(pub broadcast.Publisher) Option {
	return func(s *settings) { s.fallback = pub }
}

func apply(opts []Option) settings {
	s := settings{channel: DefaultChannel, log: logger.Nop()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Connect parses redisURL and verifies connectivity.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Publisher implements broadcast.Publisher by publishing to Redis.
type Publisher struct {
	client redis.UniversalClient
	cfg    settings
}

// NewPublisher returns a publisher on client.
func NewPublisher(client redis.UniversalClient, opts ...Option) *Publisher {
	return &Publisher{client: client, cfg: apply(opts)}
}

// Publish implements broadcast.Publisher.
func (p *Publisher) Publish(ctx context.Context, ev broadcast.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.cfg.channel, payload).Err(); err != nil {
		metrics.RecordErrorByComponent("relay", "publish")
		if p.cfg.fallback == nil {
			return fmt.Errorf("relay: publish: %w", err)
		}
		p.cfg.log.Warn(ctx, "relay publish failed; delivering locally only", logger.String("type", ev.Type), logger.Error(err))
		metrics.RecordRelayMessage("fallback")
		return p.cfg.fallback.Publish(ctx, ev)
	}
	metrics.RecordRelayMessage("out")
	return nil
}

// Subscriber feeds relayed events into the local registry.
type Subscriber struct {
	client   redis.UniversalClient
	registry *broadcast.Registry
	cfg      settings
}

// NewSubscriber returns a subscriber broadcasting into reg.
func NewSubscriber(client redis.UniversalClient, reg *broadcast.Registry, opts ...Option) *Subscriber {
	return &Subscriber{client: client, registry: reg, cfg: apply(opts)}
}

// Run subscribes and delivers until ctx ends. It returns nil on cancellation.
func (s *Subscriber) Run(ctx context.Context) error {
	ps := s.client.Subscribe(ctx, s.cfg.channel)
	defer func() { _ = ps.Close() }()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("relay: subscribe %s: %w", s.cfg.channel, err)
	}
	s.cfg.log.Info(ctx, "relay subscribed", logger.String("channel", s.cfg.channel))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}
			if _, err := s.Deliver(ctx, []byte(msg.Payload)); err != nil {
				s.cfg.log.Warn(ctx, "dropping relayed message", logger.Error(err))
			}
		}
	}
}

// Deliver decodes one relayed payload and broadcasts it locally, returning
// how many members received it.
func (s *Subscriber) Deliver(ctx context.Context, payload []byte) (int, error) {
	var ev broadcast.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		metrics.RecordErrorByComponent("relay", "decode")
		return 0, fmt.Errorf("relay: decode event: %w", err)
	}
	if ev.Type == "" {
		metrics.RecordErrorByComponent("relay", "decode")
		return 0, errors.New("relay: event without type")
	}
	metrics.RecordRelayMessage("in")
	return s.registry.Broadcast(ctx, ev), nil
}

var _ broadcast.Publisher = (*Publisher)(nil)
