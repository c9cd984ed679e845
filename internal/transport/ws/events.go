package ws

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/presence"
	"github.com/vedran77/pulsedm/internal/service"
)

// Event types - Client → Server
const (
	EventAuthenticate      = "authenticate"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventSendMessage       = "send_message"
	EventMarkMessagesRead  = "mark_messages_read"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventPing              = "ping"
)

var inboundEvents = map[string]bool{
	EventAuthenticate:      true,
	EventTypingStart:       true,
	EventTypingStop:        true,
	EventSendMessage:       true,
	EventMarkMessagesRead:  true,
	EventJoinConversation:  true,
	EventLeaveConversation: true,
	EventPing:              true,
}

// metricLabel keeps client supplied event names out of metric labels.
func metricLabel(eventType string) string {
	if inboundEvents[eventType] {
		return eventType
	}
	return "unknown"
}

// Event types - Server → Client
const (
	EventAuthenticated  = "authenticated"
	EventUserOnline     = presence.EventUserOnline
	EventUserOffline    = presence.EventUserOffline
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventNewMessage     = "new_message"
	EventMessageSent    = "message_sent"
	EventMessagesRead   = "messages_read"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventMessageError   = "message_error"
	EventPong           = "pong"
)

// Event is the envelope of every frame in both directions.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type TypingPayload struct {
	ReceiverID     uuid.UUID `json:"receiverId"`
	ConversationID string    `json:"conversationId,omitempty"`
}

type SendMessagePayload = service.SendMessageInput

type MarkReadPayload struct {
	PeerUserID uuid.UUID `json:"peerUserId"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// --- Server → Client payloads ---

type AuthenticatedPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type TypingEventPayload struct {
	UserID         uuid.UUID `json:"userId"`
	ConversationID string    `json:"conversationId"`
}

type MessagePayload struct {
	domain.Message
	ConversationID string `json:"conversationId"`
}

type MessageDeletedPayload struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID string    `json:"conversationId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func newMessagePayload(msg *domain.Message) MessagePayload {
	return MessagePayload{Message: msg.Redacted(), ConversationID: msg.ConversationKey()}
}

// encodeEvent builds a server→client frame stamped with the current time.
func encodeEvent(eventType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Event{
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	})
}
