package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dotabod/backend-sub002/internal/domain/match"
	"github.com/dotabod/backend-sub002/pkg/logger"
)

// CommandsHandler serves streamer commands.
type CommandsHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewCommandsHandler creates a new commands handler.
func NewCommandsHandler(deps Dependencies, log logger.Logger) *CommandsHandler {
	return &CommandsHandler{deps: deps, log: log}
}

type resolveRequest struct {
	Token   string `json:"token"`
	Won     *bool  `json:"won"`
	MatchID string `json:"match_id,omitempty"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type commandResponse struct {
	Status  string          `json:"status"`
	Reason  match.Rejection `json:"reason,omitempty"`
	Message string          `json:"message,omitempty"`
}

// HandleResolve handles POST /commands/resolve requests.
func (h *CommandsHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	const op = "api.resolve"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, NewKind(op, ErrUnauthorized))
		return
	}
	if req.Won == nil {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("missing won")))
		return
	}

	rej, err := h.deps.ResolveMatch(r.Context(), req.Token, *req.Won, strings.TrimSpace(req.MatchID))
	if err != nil {
		writeError(w, tokenError(op, err))
		return
	}
	if rej != match.RejectNone {
		writeJSON(w, http.StatusConflict, commandResponse{Status: "rejected", Reason: rej, Message: rej.Message()})
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Status: "ok"})
}

// HandleRefresh handles POST /sessions/refresh requests.
func (h *CommandsHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "api.refresh"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, NewKind(op, ErrUnauthorized))
		return
	}
	if err := h.deps.RefreshSession(r.Context(), req.Token); err != nil {
		writeError(w, tokenError(op, err))
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Status: "ok"})
}
