package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage      MessageType = "chat_message"
	TypeClearSession     MessageType = "clear_session"
	TypeAssistantMessage MessageType = "assistant_message"
	TypeSessionCleared   MessageType = "session_cleared"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage is a user turn. An empty SessionID starts a new session.
type ChatMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Message   string      `json:"message"`
	ClientID  string      `json:"client_id,omitempty"`
}

type ClearSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type AssistantMessage struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ClientID    string      `json:"client_id,omitempty"`
	Response    string      `json:"response"`
	HistorySize int         `json:"history_size"`
	NewSession  bool        `json:"new_session,omitempty"`
}

type SessionCleared struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes one inbound frame into ChatMessage or
// ClearSession. Content rules are left to the chat service.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid chat_message: %w", err)
		}
		return msg, nil
	case TypeClearSession:
		var msg ClearSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid clear_session: %w", err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
