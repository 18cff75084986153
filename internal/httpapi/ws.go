package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/janela/internal/chat"
	"github.com/antoniostano/janela/internal/completion"
	"github.com/antoniostano/janela/internal/observability"
	"github.com/antoniostano/janela/internal/protocol"
)

const (
	wsReadLimit    = 64 << 10
	wsIdleDeadline = 120 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleChatWS runs chat exchanges over one websocket. Frames are processed
// in arrival order; session_id in the query string is optional.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	logger := observability.LoggerFromContext(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	inbound := make(chan any, 16)
	outbound := make(chan any, 16)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for msg := range inbound {
			out := s.handleFrame(ctx, &sessionID, msg)
			select {
			case <-ctx.Done():
				return
			case outbound <- out:
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Warn("websocket write failed", "error", err)
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleDeadline))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.metrics.WSMessages.WithLabelValues("dropped", string(protocol.TypeErrorEvent)).Inc()
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-workerDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// handleFrame runs one inbound frame and returns the frame to send back.
// sessionID follows the session the exchange actually ran in.
func (s *Server) handleFrame(ctx context.Context, sessionID *string, msg any) any {
	switch m := msg.(type) {
	case protocol.ChatMessage:
		if id := strings.TrimSpace(m.SessionID); id != "" {
			*sessionID = id
		}
		reply, err := s.chat.Send(ctx, *sessionID, m.Message)
		s.syncActiveSessions()
		if err != nil {
			if id := chat.SessionIDFromError(err); id != "" {
				*sessionID = id
			}
			_, code, message := classifyChatError(err)
			var ie *chat.InputError
			return protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: *sessionID,
				ClientID:  m.ClientID,
				Code:      code,
				Retryable: !errors.As(err, &ie) && completion.KindOf(err).Transient(),
				Detail:    message,
			}
		}
		*sessionID = reply.SessionID
		return protocol.AssistantMessage{
			Type:        protocol.TypeAssistantMessage,
			SessionID:   reply.SessionID,
			ClientID:    m.ClientID,
			Response:    reply.Text,
			HistorySize: reply.HistorySize,
			NewSession:  reply.NewSession,
		}
	case protocol.ClearSession:
		id := strings.TrimSpace(m.SessionID)
		if id == "" {
			id = *sessionID
		}
		if err := s.chat.Clear(ctx, id); err != nil {
			_, code, message := classifyChatError(err)
			return protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: id,
				Code:      code,
				Retryable: true,
				Detail:    message,
			}
		}
		return protocol.SessionCleared{Type: protocol.TypeSessionCleared, SessionID: id}
	default:
		return protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "invalid_client_message",
			Detail: protocol.ErrUnsupportedType.Error(),
		}
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatMessage:
		return m.Type, true
	case protocol.ClearSession:
		return m.Type, true
	case protocol.AssistantMessage:
		return m.Type, true
	case protocol.SessionCleared:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
