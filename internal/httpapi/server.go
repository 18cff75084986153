package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/janela/internal/chat"
	"github.com/antoniostano/janela/internal/completion"
	"github.com/antoniostano/janela/internal/config"
	"github.com/antoniostano/janela/internal/observability"
	"github.com/antoniostano/janela/internal/session"
)

const maxRequestBody = 64 << 10

type Server struct {
	cfg      config.Config
	chat     *chat.Service
	sessions *session.Manager
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, chatService *chat.Service, sessions *session.Manager, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		chat:     chatService,
		sessions: sessions,
		metrics:  metrics,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				// Non-browser clients often omit Origin. Allow them.
				return true
			}
			if s.originAllowed(origin) {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool { return s.originAllowed(origin) },
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:  []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:  []string{"X-Request-Id"},
		MaxAge:          300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/chat", s.handleChat)
	r.Post("/clear", s.handleClear)
	r.Get("/chat/ws", s.handleChatWS)

	r.Group(func(r chi.Router) {
		r.Use(s.requireDebugToken)
		r.Get("/history/{id}", s.handleHistory)
		r.Get("/history/{id}/archive", s.handleArchive)
		r.Get("/sessions", s.handleListSessions)
		r.Post("/cleanup-sessions", s.handleCleanupSessions)
	})

	return r
}

// originAllowed applies the configured allow-list. An empty list admits no
// cross-origin caller.
func (s *Server) originAllowed(origin string) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"provider":              s.cfg.CompletionProvider,
		"model":                 s.model(),
		"credential_configured": s.cfg.CredentialConfigured(),
		"active_sessions":       s.sessions.ActiveCount(),
		"window_size":           s.chat.WindowSize(),
		"max_message_length":    s.chat.MaxMessageLength(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.cfg.CredentialConfigured() {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "completion provider credential is not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"provider": s.cfg.CompletionProvider,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencyReport())
}

func (s *Server) model() string {
	if m := strings.TrimSpace(s.cfg.CompletionModel); m != "" {
		return m
	}
	return completion.DefaultModel(s.cfg.CompletionProvider)
}

func (s *Server) syncActiveSessions() {
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

// requestLogger carries chi's request id into the slog context and logs one
// line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		ctx := observability.WithRequestID(r.Context(), reqID)
		if reqID != "" {
			w.Header().Set("X-Request-Id", reqID)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		observability.LoggerFromContext(ctx).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	SessionID string `json:"session_id,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
