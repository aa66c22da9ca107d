// Package api serves the telemetry ingress, the overlay channel and the
// streamer commands.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dotabod/backend-sub002/internal/domain/match"
	"github.com/dotabod/backend-sub002/internal/domain/session"
	"github.com/dotabod/backend-sub002/internal/domain/telemetry"
	"github.com/dotabod/backend-sub002/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// Ingest processes one envelope to completion. Token errors wrap
	// session.ErrInvalidToken or session.ErrIdentityNotFound.
	Ingest(ctx context.Context, env *telemetry.Envelope) error

	// Authenticate resolves token to a live session.
	Authenticate(ctx context.Context, token string) error

	// Subscribe upgrades the request into an overlay connection of token.
	Subscribe(w http.ResponseWriter, r *http.Request, token string) error

	// ResolveMatch applies a streamer's verdict: to the live match when
	// matchID is empty, else retroactively.
	ResolveMatch(ctx context.Context, token string, won bool, matchID string) (match.Rejection, error)

	// RefreshSession reloads the identity and settings of token.
	RefreshSession(ctx context.Context, token string) error
}

// Server wires HTTP routes for the API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	ingressHandler  *IngressHandler
	commandsHandler *CommandsHandler
	realtimeHandler *RealtimeHandler
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	maxBody int64
	log     logger.Logger
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(o *serverOptions) {
		if n > 0 {
			o.maxBody = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(o *serverOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := serverOptions{maxBody: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Named("api")
	}
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		ingressHandler:  NewIngressHandler(deps, o.maxBody, o.log),
		commandsHandler: NewCommandsHandler(deps, o.log),
		realtimeHandler: NewRealtimeHandler(deps, o.log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/ws", MetricsMiddleware(s.realtimeHandler.HandleSubscribe, "ws"))
	mux.HandleFunc("/commands/resolve", MetricsMiddleware(s.commandsHandler.HandleResolve, "resolve"))
	mux.HandleFunc("/sessions/refresh", MetricsMiddleware(s.commandsHandler.HandleRefresh, "refresh"))
	mux.HandleFunc("/", MetricsMiddleware(s.ingressHandler.HandleIngress, "ingress"))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the kind of err onto a status and code.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrBadRequest):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrRejected):
		status, code = http.StatusConflict, "rejected"
	}
	msg := http.StatusText(status)
	if status < http.StatusInternalServerError && err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// tokenError classifies a failed token resolution.
func tokenError(op string, err error) error {
	if errors.Is(err, session.ErrInvalidToken) || errors.Is(err, session.ErrIdentityNotFound) {
		return WrapKind(op, ErrUnauthorized, err)
	}
	return WrapKind(op, ErrInternal, err)
}
