// Package service assembles the job board: the document store, the bid
// registry and processor, the optional Redis relay and the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/jobboard/internal/adapters/auth"
	"github.com/okian/jobboard/internal/adapters/docstore"
	"github.com/okian/jobboard/internal/adapters/docstore/postgres"
	"github.com/okian/jobboard/internal/adapters/http/api"
	"github.com/okian/jobboard/internal/adapters/http/ws"
	"github.com/okian/jobboard/internal/adapters/mq/relay"
	"github.com/okian/jobboard/internal/domain/bidding"
	"github.com/okian/jobboard/internal/domain/broadcast"
	"github.com/okian/jobboard/pkg/logger"
	"github.com/okian/jobboard/pkg/metrics"
)

// Errors returned by Start and Register.
var (
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrNotStarted     = errors.New("service not started")
)

// Service owns every long-lived component of the job board.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     docstore.Store
	registry  *broadcast.Registry
	processor *bidding.Processor
	verifier  *auth.Verifier
	api       *api.Server

	// Relay, when redisURL is set
	redis      *redis.Client
	subscriber *relay.Subscriber

	// Configuration
	backend      string
	databaseURL  string
	redisURL     string
	relayChannel string
	jwtSecret    string
	policy       bidding.Policy
	socket       ws.Settings
	clock        func() time.Time
	injected     docstore.Store

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStoreBackend selects memory or postgres. dsn is used by postgres only.
func WithStoreBackend(backend, dsn string) Option {
	return func(s *Service) {
		if backend != "" {
			s.backend = backend
		}
		s.databaseURL = dsn
	}
}

// WithStore uses an already opened store instead of building one. The
// service closes it on Stop.
func WithStore(st docstore.Store) Option {
	return func(s *Service) { s.injected = st }
}

// WithRelay enables the Redis new_bid relay.
func WithRelay(redisURL, channel string) Option {
	return func(s *Service) {
		s.redisURL = redisURL
		if channel != "" {
			s.relayChannel = channel
		}
	}
}

// WithJWTSecret enables bidder identification.
func WithJWTSecret(secret string) Option {
	return func(s *Service) { s.jwtSecret = secret }
}

// WithRetryPolicy bounds bid transaction retries.
func WithRetryPolicy(p bidding.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithSocketSettings tunes WebSocket connections.
func WithSocketSettings(st ws.Settings) Option {
	return func(s *Service) { s.socket = st }
}

// WithClock overrides the time source of the HTTP handlers.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		backend:      docstore.BackendMemory,
		relayChannel: relay.DefaultChannel,
		policy:       bidding.DefaultPolicy(),
		socket:       ws.DefaultSettings(),
		clock:        time.Now,
		logger:       nil, // Will be replaced when service starts
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and the relay and builds the API.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting job board service...", logger.String("backend", s.backend))

	store, err := s.openStore(ctx)
	if err != nil {
		return err
	}

	s.registry = broadcast.NewRegistry(broadcast.WithLogger(s.logger.Named("registry")))

	var pub broadcast.Publisher = broadcast.NewLocalPublisher(s.registry)
	if s.redisURL != "" {
		client, err := relay.Connect(ctx, s.redisURL)
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("connect relay: %w", err)
		}
		ropts := []relay.Option{relay.WithChannel(s.relayChannel), relay.WithLogger(s.logger.Named("relay"))}
		s.redis = client
		s.subscriber = relay.NewSubscriber(client, s.registry, ropts...)
		pub = relay.NewPublisher(client, append(ropts, relay.WithFallback(pub))...)
		s.logger.Info(ctx, "new_bid relay enabled", logger.String("channel", s.relayChannel))
	}

	s.store = store
	s.processor = bidding.NewProcessor(store, pub,
		bidding.WithPolicy(s.policy),
		bidding.WithLogger(s.logger.Named("bidding")),
	)
	s.verifier = auth.NewVerifier(s.jwtSecret)
	if !s.verifier.Enabled() {
		s.logger.Warn(ctx, "jwt_secret is empty; every bidder is anonymous")
	}
	s.api = api.NewServer(api.Dependencies{
		Store:    store,
		Registry: s.registry,
		Bids:     s.processor,
		Auth:     s.verifier,
		Stats:    s,
		Socket:   s.socket,
		Logger:   s.logger.Named("api"),
		Clock:    s.clock,
	})

	s.started = true
	s.logger.Info(ctx, "job board service started",
		logger.String("backend", store.Backend()),
		logger.Bool("relay", s.subscriber != nil),
		logger.Int("maxAttempts", s.policy.MaxAttempts),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (docstore.Store, error) {
	if s.injected != nil {
		return s.injected, nil
	}
	switch s.backend {
	case docstore.BackendMemory:
		return docstore.NewMemory(docstore.WithLogger(s.logger.Named("docstore"))), nil
	case docstore.BackendPostgres:
		st, err := postgres.Open(ctx, s.databaseURL, postgres.WithLogger(s.logger.Named("docstore")))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, s.backend)
	}
}

// Register attaches the API routes to mux. Socket sessions end when ctx does.
func (s *Service) Register(ctx context.Context, mux *http.ServeMux) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	s.api.Register(ctx, mux)
	return nil
}

// Run feeds relayed new_bid events into the local registry until ctx ends.
// Without a relay it just waits for ctx.
func (s *Service) Run(ctx context.Context) error {
	s.mu.RLock()
	sub, started := s.subscriber, s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	if sub == nil {
		<-ctx.Done()
		return nil
	}
	return sub.Run(ctx)
}

// Stop closes the relay connection and the store. Live subscriptions close
// with the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping job board service...")

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn(ctx, "closing redis", logger.Error(err))
		}
		s.redis, s.subscriber = nil, nil
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "closing store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "job board service stopped")
}

// Verifier returns the bidder token verifier. Nil before Start.
func (s *Service) Verifier() *auth.Verifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifier
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":       s.started,
		"store_backend": s.backend,
		"relay":         s.redisURL != "",
		"auth":          s.jwtSecret != "",
	}
	if s.started {
		bidders := s.registry.Len()
		stats["store_backend"] = s.store.Backend()
		stats["sessions"] = s.api.ActiveSessions()
		stats["bid_sessions"] = bidders
		metrics.UpdateRegistrySize(bidders)
	}
	return stats
}
