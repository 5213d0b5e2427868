package chat

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// ---------------------------------------------
// ⬇️ Inbound frames (client -> server)
// ---------------------------------------------

const (
	frameMessage  = "message"
	frameTyping   = "typing"
	frameRead     = "read_message"
	frameReaction = "reaction"
)

// InboundFrame is the single wire shape clients send on a conversation
// socket. Type discriminates which payload fields are meaningful.
type InboundFrame struct {
	Type         string `json:"type" validate:"required,oneof=message typing read_message reaction"`
	Content      string `json:"content,omitempty"`
	ReplyTo      *int64 `json:"reply_to,omitempty"`
	IsTyping     bool   `json:"is_typing,omitempty"`
	MessageID    int64  `json:"message_id,omitempty" validate:"min=0"`
	ReactionType string `json:"reaction_type,omitempty" validate:"omitempty,oneof=like love laugh wow sad angry"`
}

// StatusFrame is the wire shape clients send on the presence socket.
type StatusFrame struct {
	Status        string `json:"status" validate:"required,oneof=online away busy offline"`
	CustomMessage string `json:"custom_message,omitempty" validate:"max=100"`
}

var frameValidate = validator.New(validator.WithRequiredStructEnabled())

// ParseFrame decodes and validates one inbound conversation frame.
// Malformed JSON or an unknown type yields ErrInvalidFrame; the caller
// answers the sender and keeps the connection open.
func ParseFrame(data []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrInvalidFrame
	}
	if err := frameValidate.Struct(&f); err != nil {
		return nil, ErrInvalidFrame
	}
	return &f, nil
}

// ParseStatusFrame decodes and validates one inbound presence frame.
func ParseStatusFrame(data []byte) (*StatusFrame, error) {
	var f StatusFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrInvalidFrame
	}
	if err := frameValidate.Struct(&f); err != nil {
		return nil, ErrInvalidFrame
	}
	return &f, nil
}

// ---------------------------------------------
// ⬆️ Outbound events (server -> client)
// ---------------------------------------------

type MessageEvent struct {
	Type    string     `json:"type"` // "message"
	Message MessageDTO `json:"message"`
}

type UserJoinedEvent struct {
	Type    string `json:"type"` // "user_joined"
	User    string `json:"user"`
	Message string `json:"message"`
}

type UserLeftEvent struct {
	Type    string `json:"type"` // "user_left"
	User    string `json:"user"`
	Message string `json:"message"`
}

type TypingEvent struct {
	Type     string `json:"type"` // "typing"
	User     string `json:"user"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

type ReactionEvent struct {
	Type     string       `json:"type"` // "reaction"
	Reaction ReactionDTO  `json:"reaction"`
	Action   string       `json:"action"` // "add" or "remove"
	Kind     ReactionType `json:"reaction_type"`
}

type NotificationEvent struct {
	Type         string `json:"type"` // "notification"
	Notification any    `json:"notification"`
}

type StatusUpdateEvent struct {
	Type          string `json:"type"` // "status_update"
	UserID        int64  `json:"user_id"`
	UserEmail     string `json:"user_email"`
	UserName      string `json:"user_name"`
	Status        string `json:"status"`
	CustomMessage string `json:"custom_message,omitempty"`
	LastSeen      string `json:"last_seen"`
}

// ErrorFrame is answered to the sender of a failed action. Peers never see
// it. Action names the inbound frame type that failed.
type ErrorFrame struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
}

// encodeEvent marshals an outbound event once so every subscriber gets the
// same bytes. Events are plain structs; marshal cannot realistically fail,
// but a nil return is still handled by delivery as a no-op.
func encodeEvent(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
