// Package ws adapts gorilla/websocket connections to the session contracts.
// Each Conn owns one writer goroutine that drains a bounded outbound queue
// and pings the peer; reads happen on the caller's goroutine.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/okian/jobboard/internal/adapters/mq/queue"
	"github.com/okian/jobboard/pkg/logger"
	"github.com/okian/jobboard/pkg/metrics"
)

// Sentinel errors.
var (
	ErrClosed       = errors.New("ws: connection closed")
	ErrBackpressure = errors.New("ws: outbound queue full")
)

// Settings bound the life of a connection.
type Settings struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	// PongWait is how long the peer may stay silent. It must exceed
	// PingInterval.
	PongWait  time.Duration
	ReadLimit int64
	QueueSize int
}

// DefaultSettings returns the transport defaults.
func DefaultSettings() Settings {
	return Settings{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		ReadLimit:    64 << 10,
		QueueSize:    256,
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = d.WriteTimeout
	}
	if s.PingInterval <= 0 {
		s.PingInterval = d.PingInterval
	}
	if s.PongWait <= s.PingInterval {
		s.PongWait = 2 * s.PingInterval
	}
	if s.ReadLimit <= 0 {
		s.ReadLimit = d.ReadLimit
	}
	if s.QueueSize <= 0 {
		s.QueueSize = d.QueueSize
	}
	return s
}

var upgrader = websocket.Upgrader{ //nolint:gochecknoglobals // stateless
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from any origin, as the REST API allows.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Conn is one server-side socket.
type Conn struct {
	id       string
	ws       *websocket.Conn
	out      *queue.InMemoryQueue
	settings Settings
	log      logger.Logger

	done       chan struct{}
	writerDone chan struct{}
	once       sync.Once
}

// Upgrade switches r to the WebSocket protocol. On failure the handshake
// error has already been written to w.
func Upgrade(w http.ResponseWriter, r *http.Request, s Settings, log logger.Logger) (*Conn, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.RecordErrorByComponent("ws", "upgrade")
		return nil, fmt.Errorf("ws: upgrade: %w", err)
	}
	return NewConn(c, s, log), nil
}

// NewConn wraps an established socket and starts its writer.
func NewConn(c *websocket.Conn, s Settings, log logger.Logger) *Conn {
	s = s.normalized()
	if log == nil {
		log = logger.Nop()
	}
	conn := &Conn{
		id:         uuid.NewString(),
		ws:         c,
		out:        queue.NewInMemoryQueue(queue.WithCapacity(s.QueueSize)),
		settings:   s,
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	conn.log = log.With(logger.String("conn_id", conn.id))

	c.SetReadLimit(s.ReadLimit)
	_ = c.SetReadDeadline(time.Now().Add(s.PongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(s.PongWait))
	})
	go conn.writeLoop()
	return conn
}

// ID returns a unique connection id.
func (c *Conn) ID() string { return c.id }

// Send encodes v and queues it. It never blocks on the network.
func (c *Conn) Send(ctx context.Context, v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ws: encode: %w", err)
	}
	if c.out.Enqueue(ctx, frame) {
		return nil
	}
	if c.out.IsClosed() {
		return ErrClosed
	}
	return ErrBackpressure
}

// Read returns the next data message. It must be called from one goroutine
// at a time; Close unblocks it.
func (c *Conn) Read(_ context.Context) ([]byte, error) {
	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrClosed
			default:
			}
			return nil, fmt.Errorf("ws: read: %w", err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

// Close flushes queued frames, sends a close frame and releases the socket.
// It is safe to call more than once and from any goroutine.
func (c *Conn) Close() error {
	c.shutdown()
	<-c.writerDone
	return nil
}

func (c *Conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.out.Close()
	})
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	defer func() { _ = c.ws.Close() }()

	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()

	frames := c.out.Dequeue()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				deadline := time.Now().Add(c.settings.WriteTimeout)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, f); err != nil {
				// a write deadline cannot be recovered from
				metrics.RecordErrorByComponent("ws", "write")
				c.log.Debug(context.Background(), "socket write failed", logger.Error(err))
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.settings.WriteTimeout)); err != nil {
				c.log.Debug(context.Background(), "socket ping failed", logger.Error(err))
				c.shutdown()
				return
			}
		}
	}
}
