package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/okian/jobboard/internal/adapters/http/ws"
	"github.com/okian/jobboard/internal/domain/broadcast"
	"github.com/okian/jobboard/internal/domain/feed"
	"github.com/okian/jobboard/pkg/logger"
)

// SocketHandler upgrades socket routes and runs their sessions.
type SocketHandler struct {
	store    feed.Store
	registry *broadcast.Registry
	bids     feed.Submitter
	auth     Identifier
	settings ws.Settings
	log      logger.Logger
	// base bounds every session; set by Register.
	base   context.Context
	active atomic.Int64
}

// Active returns the number of upgraded sockets still running a session.
func (h *SocketHandler) Active() int64 { return h.active.Load() }

// NewSocketHandler creates a socket handler.
func NewSocketHandler(deps Dependencies) *SocketHandler {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &SocketHandler{
		store:    deps.Store,
		registry: deps.Registry,
		bids:     deps.Bids,
		auth:     deps.Auth,
		settings: deps.Socket,
		log:      log,
	}
}

func (h *SocketHandler) context(r *http.Request) context.Context {
	if h.base != nil {
		return h.base
	}
	return r.Context()
}

// Feed returns the handler for a change-feed route.
func (h *SocketHandler) Feed(v feed.Variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Upgrade(w, r, h.settings, h.log)
		if err != nil {
			h.log.Debug(r.Context(), "upgrade failed", logger.String("route", v.Route), logger.Error(err))
			return
		}
		defer conn.Close()
		h.active.Add(1)
		defer h.active.Add(-1)

		sess := feed.NewSession(v, h.store, conn, feed.WithID(conn.ID()), feed.WithLogger(h.log.Named("feed")))
		if err := sess.Run(h.context(r), r.URL.Query()); err != nil && !errors.Is(err, ws.ErrClosed) {
			h.log.Warn(r.Context(), "feed session ended with error", logger.String("route", v.Route), logger.Error(err))
		}
	}
}

// HandleBids handles GET /bids. A present but invalid token is refused
// before the upgrade.
func (h *SocketHandler) HandleBids(w http.ResponseWriter, r *http.Request) {
	var freelancerID *string
	if h.auth != nil {
		id, err := h.auth.Identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err)
			return
		}
		freelancerID = id
	}

	conn, err := ws.Upgrade(w, r, h.settings, h.log)
	if err != nil {
		h.log.Debug(r.Context(), "upgrade failed", logger.String("route", feed.RouteBids), logger.Error(err))
		return
	}
	defer conn.Close()
	h.active.Add(1)
	defer h.active.Add(-1)

	sess := feed.NewBidSession(h.registry, h.bids, conn, freelancerID, feed.WithID(conn.ID()), feed.WithLogger(h.log.Named("bids")))
	if err := sess.Run(h.context(r)); err != nil && !errors.Is(err, ws.ErrClosed) {
		h.log.Warn(r.Context(), "bid session ended with error", logger.Error(err))
	}
}
