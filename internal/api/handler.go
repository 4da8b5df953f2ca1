// Package api provides HTTP handlers for the triage console.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/triage-console/internal/backend"
	"github.com/ashureev/triage-console/internal/chat"
	"github.com/ashureev/triage-console/internal/identity"
	"github.com/ashureev/triage-console/internal/session"
	"github.com/ashureev/triage-console/internal/workspace"
	"github.com/go-chi/chi/v5"
)

const (
	defaultKeepalive    = 10 * time.Second
	defaultHistoryLimit = 50

	// maxBodyBytes bounds start and selection request bodies.
	maxBodyBytes = 64 << 10
)

// Handler serves the workspace API.
type Handler struct {
	reg            *workspace.Registry
	limiter        *RateLimiter
	logger         *slog.Logger
	keepalive      time.Duration
	historyLimit   int
	originPatterns []string
}

// Option configures a Handler.
type Option func(*Handler)

// WithKeepalive sets the ping interval of live views.
func WithKeepalive(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.keepalive = d
		}
	}
}

// WithHistoryLimit bounds the turns returned with the chat snapshot.
func WithHistoryLimit(n int) Option {
	return func(h *Handler) {
		h.historyLimit = n
	}
}

// WithOriginPatterns restricts WebSocket origins. Empty allows any origin.
func WithOriginPatterns(patterns []string) Option {
	return func(h *Handler) {
		h.originPatterns = patterns
	}
}

// NewHandler creates a Handler. A nil limiter disables rate limiting.
func NewHandler(reg *workspace.Registry, limiter *RateLimiter, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		reg:          reg,
		limiter:      limiter,
		logger:       logger,
		keepalive:    defaultKeepalive,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the API under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/selection", h.GetSelection)
		r.Put("/selection", h.PutSelection)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/", h.GetChat)
			r.Post("/start", h.StartChat)
			r.Post("/cancel", h.CancelChat)
			r.Post("/reset", h.ResetChat)
			r.Delete("/history", h.ForgetChat)
			r.Get("/events", h.ChatEvents)
			r.Get("/ws", h.ChatSocket)
		})

		r.Route("/evaluation", func(r chi.Router) {
			r.Get("/", h.GetEvaluation)
			r.Post("/start", h.StartEvaluation)
			r.Post("/cancel", h.CancelEvaluation)
			r.Post("/reset", h.ResetEvaluation)
			r.Get("/events", h.EvaluationEvents)
			r.Get("/ws", h.EvaluationSocket)
		})
	})
}

func (h *Handler) workspaceFor(r *http.Request) *workspace.Workspace {
	return h.reg.Get(identity.SessionIDFromContext(r.Context()))
}

// allow applies the start rate limit of the request's workspace.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	sessionID := identity.SessionIDFromContext(r.Context())
	if h.limiter.Allow(sessionID) {
		return true
	}
	h.logger.Warn("Rate limit exceeded", "session_id", sessionID, "ip", identity.IPFromRequest(r))
	Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// startError maps a start failure to its HTTP status.
func startError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrAlreadyStreaming), errors.Is(err, session.ErrNotIdle), errors.Is(err, session.ErrStreaming):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, backend.ErrMissingConfig), errors.Is(err, backend.ErrMissingMessage), errors.Is(err, session.ErrInvalidRequest):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrCreateConversation):
		message := "failed to create conversation"
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) && statusErr.UserMessage() != "" {
			message = statusErr.UserMessage()
		}
		Error(w, http.StatusBadGateway, message)
	default:
		Error(w, http.StatusInternalServerError, "failed to start stream")
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
