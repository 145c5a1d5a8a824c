package feedclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/okian/jobboard/pkg/logger"
)

// Inbound message types the client counts.
const (
	typeInitial     = "initial"
	typeModified    = "modified"
	typeConnected   = "connection_established"
	typeBidAccepted = "bid_accepted"
	typeNewBid      = "new_bid"
	typeError       = "error"
)

type message struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Error   any    `json:"error"`
	Data    any    `json:"data"`
}

func socketURL(base, path string, query url.Values) string {
	u := strings.Replace(base, "http", "ws", 1) + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// feedWatcher counts modifications on one client's job feed.
type feedWatcher struct {
	conn     *websocket.Conn
	initial  int
	modified atomic.Int64
	done     chan struct{}
}

func watchJobs(ctx context.Context, config *Config) (*feedWatcher, error) {
	u := socketURL(config.BaseURL, "/get/jobs", url.Values{"client_id": {config.ClientID}})
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial job feed: %w", err)
	}
	var first message
	if err := conn.ReadJSON(&first); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read initial batch: %w", err)
	}
	if first.Type != typeInitial {
		_ = conn.Close()
		return nil, fmt.Errorf("job feed opened with %q, error %v", first.Type, first.Error)
	}
	records, _ := first.Data.([]any)
	w := &feedWatcher{conn: conn, initial: len(records), done: make(chan struct{})}
	go w.read(ctx, config.Verbose)
	return w, nil
}

func (w *feedWatcher) read(ctx context.Context, verbose bool) {
	defer close(w.done)
	for {
		var m message
		if err := w.conn.ReadJSON(&m); err != nil {
			return
		}
		if verbose {
			logger.Get().Debug(ctx, "feed event", logger.String("type", m.Type))
		}
		if m.Type == typeModified {
			w.modified.Add(1)
		}
	}
}

func (w *feedWatcher) close() {
	_ = w.conn.Close()
	<-w.done
}

// bidder is one bid socket and its counters.
type bidder struct {
	id       int
	conn     *websocket.Conn
	accepted atomic.Int64
	failed   atomic.Int64
	newBids  atomic.Int64
	done     chan struct{}
}

func connectBidder(ctx context.Context, config *Config, id int) (*bidder, error) {
	header := http.Header{}
	if config.Token != "" {
		header.Set("Authorization", "Bearer "+config.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, socketURL(config.BaseURL, "/bids", nil), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.New("bid socket refused the token")
		}
		return nil, fmt.Errorf("dial bids: %w", err)
	}
	var hello message
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read bid greeting: %w", err)
	}
	if hello.Type != typeConnected {
		_ = conn.Close()
		return nil, fmt.Errorf("bid socket opened with %q", hello.Type)
	}
	b := &bidder{id: id, conn: conn, done: make(chan struct{})}
	go b.read(ctx, config.Verbose)
	return b, nil
}

func (b *bidder) read(ctx context.Context, verbose bool) {
	defer close(b.done)
	for {
		var m message
		if err := b.conn.ReadJSON(&m); err != nil {
			return
		}
		if verbose {
			logger.Get().Debug(ctx, "bid event", logger.Int("bidder", b.id), logger.String("type", m.Type))
		}
		switch m.Type {
		case typeBidAccepted:
			b.accepted.Add(1)
		case typeNewBid:
			b.newBids.Add(1)
		case typeError:
			b.failed.Add(1)
			logger.Get().Warn(ctx, "bid rejected", logger.Int("bidder", b.id), logger.String("message", m.Message), logger.Any("error", m.Error))
		}
	}
}

// submit writes every bid. Only the calling goroutine writes to the socket.
func (b *bidder) submit(bids []Bid) (int, error) {
	for i, bid := range bids {
		msg := map[string]any{"type": "bid_submitted", "data": bid}
		if err := b.conn.WriteJSON(msg); err != nil {
			return i, fmt.Errorf("bidder %d: %w", b.id, err)
		}
	}
	return len(bids), nil
}

func (b *bidder) close() {
	_ = b.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = b.conn.Close()
	<-b.done
}

// connectBidders opens config.Bidders sockets concurrently.
func connectBidders(ctx context.Context, config *Config) ([]*bidder, error) {
	bidders := make([]*bidder, config.Bidders)
	errs := make([]error, config.Bidders)
	var wg sync.WaitGroup
	for i := range bidders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bidders[i], errs[i] = connectBidder(ctx, config, i+1)
		}(i)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		for _, b := range bidders {
			if b != nil {
				b.close()
			}
		}
		return nil, err
	}
	return bidders, nil
}
