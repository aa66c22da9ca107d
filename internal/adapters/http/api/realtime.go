package api

import (
	"net/http"

	"github.com/dotabod/backend-sub002/internal/domain/session"
	"github.com/dotabod/backend-sub002/pkg/logger"
)

// RealtimeHandler upgrades overlay connections.
type RealtimeHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewRealtimeHandler creates a new realtime handler.
func NewRealtimeHandler(deps Dependencies, log logger.Logger) *RealtimeHandler {
	return &RealtimeHandler{deps: deps, log: log}
}

// HandleSubscribe handles GET /ws?token= requests.
func (h *RealtimeHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	const op = "api.subscribe"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, NewKind(op, ErrUnauthorized))
		return
	}
	if err := h.deps.Authenticate(r.Context(), token); err != nil {
		writeError(w, tokenError(op, err))
		return
	}
	if err := h.deps.Subscribe(w, r, token); err != nil {
		// The upgrader has already answered by now.
		h.log.Warn(r.Context(), "overlay subscribe failed",
			logger.String("token", session.Redact(token)), logger.Error(err))
	}
}
