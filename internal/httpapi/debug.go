package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/janela/internal/observability"
	"github.com/antoniostano/janela/internal/session"
	"github.com/antoniostano/janela/internal/transcript"
)

const (
	defaultArchiveLimit = 50
	maxArchiveLimit     = 500
)

// requireDebugToken hides the debug routes unless APP_DEBUG_TOKEN is set and
// the caller presents it as a bearer token.
func (s *Server) requireDebugToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DebugToken == "" {
			respondError(w, http.StatusNotFound, "not_found", "not found")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.cfg.DebugToken)) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized", "debug token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.chat.History(id)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "could not read session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":     snap.ID,
		"total_messages": len(snap.Turns),
		"window_size":    s.chat.WindowSize(),
		"history":        snap.Turns,
		"created_at":     snap.CreatedAt,
		"last_activity":  snap.LastActive,
	})
}

// handleArchive serves the redacted transcript archive for one session. It
// reads the archive only, so it still answers after the live session expired
// when the store keeps records that long.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	limit := defaultArchiveLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxArchiveLimit)
	}

	id := chi.URLParam(r, "id")
	records, err := s.chat.Archived(r.Context(), id, limit)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Warn("transcript read failed", "session_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not read transcript archive")
		return
	}
	if records == nil {
		records = []transcript.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"total":      len(records),
		"records":    records,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list := s.sessions.List()
	respondJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(list),
		"sessions":       list,
	})
}

func (s *Server) handleCleanupSessions(w http.ResponseWriter, _ *http.Request) {
	removed := s.sessions.Sweep(s.sessions.IdleTTL())
	s.syncActiveSessions()
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions_removed":   removed,
		"sessions_remaining": s.sessions.ActiveCount(),
	})
}
