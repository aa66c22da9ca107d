package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/dotabod/backend-sub002/internal/domain/session"
	"github.com/dotabod/backend-sub002/internal/domain/telemetry"
	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

// IngressHandler accepts telemetry envelopes. The game client cannot set
// headers, so the token travels in the body.
type IngressHandler struct {
	deps    Dependencies
	maxBody int64
	log     logger.Logger
}

// NewIngressHandler creates a new ingress handler.
func NewIngressHandler(deps Dependencies, maxBody int64, log logger.Logger) *IngressHandler {
	return &IngressHandler{deps: deps, maxBody: maxBody, log: log}
}

// HandleIngress handles POST / requests. It answers once every handler
// has finished with the envelope.
func (h *IngressHandler) HandleIngress(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingress"
	if r.URL.Path != "/" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		metrics.RecordEnvelope("malformed")
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	env, err := telemetry.ParseEnvelope(body)
	if err != nil {
		metrics.RecordEnvelope("malformed")
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if env.Token == "" {
		metrics.RecordEnvelope("unauthorized")
		writeError(w, WrapKind(op, ErrUnauthorized, session.ErrInvalidToken))
		return
	}

	if err := h.deps.Ingest(r.Context(), env); err != nil {
		kerr := tokenError(op, err)
		if errors.Is(kerr, ErrUnauthorized) {
			metrics.RecordEnvelope("unauthorized")
		} else {
			metrics.RecordEnvelope("error")
			h.log.Error(r.Context(), "envelope failed",
				logger.String("token", session.Redact(env.Token)), logger.Error(err))
		}
		writeError(w, kerr)
		return
	}
	metrics.RecordEnvelope("ok")
	writeJSON(w, http.StatusOK, struct{}{})
}
