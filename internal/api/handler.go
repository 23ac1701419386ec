// Package api provides HTTP handlers for the CSIRT assistant.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/csirt-labs/internal/identity"
	"github.com/ashureev/csirt-labs/internal/metrics"
	"github.com/ashureev/csirt-labs/internal/session"
	"github.com/ashureev/csirt-labs/internal/speech"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (10MB).
const defaultMaxRequestBodySize = 10 << 20

// Sessions is the session store behind the API.
type Sessions interface {
	identity.Sessions
	Len() int
}

// Options configures a Handler.
type Options struct {
	Sessions    Sessions
	Credentials identity.Credentials
	RateLimiter *RateLimiter
	Metrics     *metrics.Metrics
	// MaxRequestBodySize bounds chat and voice uploads.
	MaxRequestBodySize int64
	IsDevelopment      bool
	Logger             *slog.Logger
}

// Handler serves the session, conversation and playback endpoints.
type Handler struct {
	sessions Sessions
	creds    identity.Credentials
	limiter  *RateLimiter
	metrics  *metrics.Metrics
	maxBody  int64
	isDev    bool
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if opts.RateLimiter == nil {
		opts.RateLimiter = NewRateLimiter(20, time.Minute)
	}
	return &Handler{
		sessions: opts.Sessions,
		creds:    opts.Credentials,
		limiter:  opts.RateLimiter,
		metrics:  opts.Metrics,
		maxBody:  opts.MaxRequestBodySize,
		isDev:    opts.IsDevelopment,
		logger:   opts.Logger,
	}
}

// RegisterRoutes registers the API, playback and metrics routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	sessions := identity.Middleware(h.sessions, h.isDev)

	r.Route("/api", func(r chi.Router) {
		r.Use(sessions)
		r.Post("/login", h.Login)
		r.Get("/state", h.State)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireLogin)
			r.Post("/logout", h.Logout)
			r.Post("/infect", h.Infect)
			r.Post("/reset", h.Reset)
			r.Post("/chat", h.Chat)
			r.Post("/voice", h.Voice)
			r.Get("/audio/pending", h.PendingAudio)
		})
	})

	r.With(sessions, identity.RequireLogin).Get("/ws/playback", h.Playback)
	r.Handle("/metrics", h.metrics.Handler())
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var sttErr *speech.STTError
	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrAlreadyInfected),
		errors.Is(err, session.ErrNotInfected),
		errors.Is(err, session.ErrResponding):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.As(err, &sttErr):
		return http.StatusUnprocessableEntity
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	Error(w, status, msg)
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// sseStream writes server-sent events, sending the response headers on the
// first event so a request can still fail with a plain status before that.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
	started bool
	broken  bool
}

func newSSEStream(w http.ResponseWriter, logger *slog.Logger) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseStream{w: w, flusher: flusher, logger: logger}, true
}

func (s *sseStream) send(event string, v any) {
	if s.broken {
		return
	}
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal SSE payload", "event", event, "error", err)
		return
	}
	if err := writeSSE(s.w, event, string(data)); err != nil {
		// The client went away; the response keeps running and is committed.
		s.logger.Warn("failed to write SSE event", "event", event, "error", err)
		s.broken = true
		return
	}
	s.flusher.Flush()
}
