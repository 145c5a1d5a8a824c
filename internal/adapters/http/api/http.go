// Package api registers the REST and WebSocket routes of the job board.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/okian/jobboard/internal/adapters/http/ws"
	"github.com/okian/jobboard/internal/domain/broadcast"
	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/internal/domain/feed"
	"github.com/okian/jobboard/pkg/logger"
)

// Store is the part of the document store the handlers use.
type Store interface {
	feed.Store
	RunTransaction(ctx context.Context, fn document.TxFunc) (time.Time, error)
}

// Identifier resolves the caller of a socket request. A nil id means
// anonymous.
type Identifier interface {
	Identify(r *http.Request) (*string, error)
}

// Dependencies required by HTTP handlers.
type Dependencies struct {
	Store    Store
	Registry *broadcast.Registry
	Bids     feed.Submitter
	// Auth may be nil, in which case every bidder is anonymous.
	Auth   Identifier
	Stats  StatsProvider
	Socket ws.Settings
	Logger logger.Logger
	Clock  func() time.Time
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	jobsHandler    *JobsHandler
	profileHandler *ProfileHandler
	socketHandler  *SocketHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps.Stats),
		jobsHandler:    NewJobsHandler(deps.Store, deps.Clock),
		profileHandler: NewProfileHandler(deps.Store),
		socketHandler:  NewSocketHandler(deps),
	}
}

// ActiveSessions returns the number of open socket sessions.
func (s *Server) ActiveSessions() int64 { return s.socketHandler.Active() }

// Register attaches all HTTP routes to mux. Socket sessions live as long as
// ctx; cancelling it ends them.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	s.socketHandler.base = ctx

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /api/jobs", MetricsMiddleware(s.jobsHandler.HandleCreate, "create_job"))
	mux.HandleFunc("GET /api/jobs", MetricsMiddleware(s.jobsHandler.HandleList, "list_jobs"))
	mux.HandleFunc("GET /api/jobs/{id}", MetricsMiddleware(s.jobsHandler.HandleGet, "get_job"))
	mux.HandleFunc("GET /api/client/profile/{id}", MetricsMiddleware(s.profileHandler.HandleGet, "client_profile"))

	for _, v := range []feed.Variant{feed.JobsByClient, feed.AllJobs, feed.Bids} {
		mux.HandleFunc("GET "+v.Route, MetricsMiddleware(s.socketHandler.Feed(v), strings.TrimPrefix(v.Route, "/")))
	}
	mux.HandleFunc("GET "+feed.RouteBids, MetricsMiddleware(s.socketHandler.HandleBids, "bids"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = describe(err)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeKindError picks the status from the error kind.
func writeKindError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, errkind.Label(err), nil)
		return
	}
	writeError(w, status, errkind.Label(err), err)
}

func statusFor(err error) int {
	switch errkind.KindOf(err) {
	case errkind.ErrValidation, errkind.ErrMalformed:
		return http.StatusBadRequest
	case errkind.ErrNotFound:
		return http.StatusNotFound
	case errkind.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func describe(err error) string {
	msg := errkind.Message(err)
	if fields := errkind.FieldsOf(err); len(fields) > 0 {
		msg += ": " + strings.Join(fields, ", ")
	}
	return msg
}
