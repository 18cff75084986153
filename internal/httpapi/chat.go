package httpapi

import (
	"errors"
	"net/http"

	"github.com/antoniostano/janela/internal/chat"
	"github.com/antoniostano/janela/internal/completion"
	"github.com/antoniostano/janela/internal/observability"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response    string `json:"response"`
	SessionID   string `json:"session_id"`
	HistorySize int    `json:"history_size"`
}

type clearRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a message field")
		return
	}

	reply, err := s.chat.Send(r.Context(), req.SessionID, req.Message)
	s.syncActiveSessions()
	if err != nil {
		status, code, message := classifyChatError(err)
		if status >= http.StatusInternalServerError {
			observability.LoggerFromContext(r.Context()).Warn("chat request failed", "code", code, "status", status)
		}
		respondJSON(w, status, errorResponse{
			Error:     message,
			Code:      code,
			SessionID: chat.SessionIDFromError(err),
		})
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		Response:    reply.Text,
		SessionID:   reply.SessionID,
		HistorySize: reply.HistorySize,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if err := s.chat.Clear(r.Context(), req.SessionID); err != nil {
		status, code, message := classifyChatError(err)
		respondJSON(w, status, errorResponse{Error: message, Code: code, SessionID: req.SessionID})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "cleared",
		"session_id": req.SessionID,
	})
}

// classifyChatError maps an exchange failure to an HTTP status, a stable code
// and a message safe to show the user.
func classifyChatError(err error) (int, string, string) {
	var ie *chat.InputError
	if errors.As(err, &ie) {
		return http.StatusBadRequest, "invalid_input", ie.Error()
	}

	kind := completion.KindOf(err)
	switch kind {
	case completion.KindAuth:
		return http.StatusInternalServerError, string(kind), "Sorry, the assistant is not available right now. Please try again later."
	case completion.KindRateLimited:
		return http.StatusServiceUnavailable, string(kind), "Sorry, the assistant is busy right now. Please try again in a moment."
	case completion.KindCanceled:
		return http.StatusServiceUnavailable, string(kind), "The request was canceled before a reply was ready."
	case completion.KindTimeout:
		return http.StatusGatewayTimeout, string(kind), "Sorry, the assistant took too long to reply. Please try again."
	case completion.KindInvalidResponse:
		return http.StatusBadGateway, string(kind), "Sorry, the assistant sent an unusable reply. Please try again."
	default:
		return http.StatusBadGateway, string(completion.KindProvider), "Sorry, the assistant could not reply. Please try again."
	}
}
