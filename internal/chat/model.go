package chat

import (
	"time"

	"github.com/samber/lo"
)

// ---------------------------------------------
// 🗄️ Database Models
// ---------------------------------------------

// ConversationType is the closed set of conversation kinds.
type ConversationType string

const (
	ConversationDirect       ConversationType = "direct"
	ConversationGroup        ConversationType = "group"
	ConversationSupport      ConversationType = "support"
	ConversationAnnouncement ConversationType = "announcement"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationSupport, ConversationAnnouncement:
		return true
	}
	return false
}

type Conversation struct {
	ID           int64            `json:"id"`
	Title        string           `json:"title,omitempty"`
	Type         ConversationType `json:"conversation_type"`
	CreatedBy    int64            `json:"created_by"`
	IsActive     bool             `json:"is_active"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActivity time.Time        `json:"last_activity"`
	Participants []Participant    `json:"participants,omitempty"`
}

type Participant struct {
	UserID   int64     `json:"id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// MessageType is the closed set of message kinds. Text and system messages
// require Content; file and image messages require an Attachment reference
// and may carry Content as a caption.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageFile, MessageImage, MessageSystem:
		return true
	}
	return false
}

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderID       int64       `json:"sender_id"`
	SenderEmail    string      `json:"sender_email"` // 🟢 Denormalized for UI speed (fetched via JOIN)
	SenderName     string      `json:"sender_name"`
	Type           MessageType `json:"message_type"`
	Content        string      `json:"content"`
	Attachment     string      `json:"attachment,omitempty"`
	ReplyToID      *int64      `json:"reply_to,omitempty"`
	IsRead         bool        `json:"is_read"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	IsDeleted      bool        `json:"is_deleted"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ReadReceipt records that a user has seen a message. One row per
// (message, reader); a second mark-as-read is a no-op, not a duplicate.
type ReadReceipt struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ReactionType is the closed reaction enumeration.
type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionLaugh ReactionType = "laugh"
	ReactionWow   ReactionType = "wow"
	ReactionSad   ReactionType = "sad"
	ReactionAngry ReactionType = "angry"
)

var reactionEmoji = map[ReactionType]string{
	ReactionLike:  "👍",
	ReactionLove:  "❤️",
	ReactionLaugh: "😂",
	ReactionWow:   "😮",
	ReactionSad:   "😢",
	ReactionAngry: "😠",
}

func (t ReactionType) Valid() bool {
	_, ok := reactionEmoji[t]
	return ok
}

// Reaction is one user's reaction to one message. At most one row per
// (message, reactor); a new reaction from the same reactor replaces the old.
type Reaction struct {
	MessageID int64        `json:"message_id"`
	UserID    int64        `json:"user_id"`
	Email     string       `json:"email"`
	Name      string       `json:"name"`
	Type      ReactionType `json:"reaction_type"`
	CreatedAt time.Time    `json:"created_at"`
}

// MessageStats is the per-user aggregate served by the stats endpoint.
type MessageStats struct {
	TotalConversations int64 `json:"total_conversations"`
	TotalSent          int64 `json:"total_messages_sent"`
	TotalReceived      int64 `json:"total_messages_received"`
	UnreadCount        int64 `json:"unread_count"`
}

// ---------------------------------------------
// 📦 View models (wire DTOs)
// ---------------------------------------------

// SenderDTO is the minimal sender block embedded in message payloads.
type SenderDTO struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ReplyPreviewDTO is the truncated view of a reply target. Deleted marks a
// tombstone: the target existed but has been soft-deleted or purged, so only
// its identity is surfaced.
type ReplyPreviewDTO struct {
	ID      int64  `json:"id"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

type MessageDTO struct {
	ID         int64            `json:"id"`
	Type       MessageType      `json:"message_type"`
	Content    string           `json:"content"`
	Attachment string           `json:"attachment,omitempty"`
	Sender     SenderDTO        `json:"sender"`
	ReplyTo    *ReplyPreviewDTO `json:"reply_to,omitempty"`
	IsRead     bool             `json:"is_read"`
	CreatedAt  string           `json:"created_at"`
}

type ReactionDTO struct {
	MessageID int64        `json:"message_id"`
	User      SenderDTO    `json:"user"`
	Type      ReactionType `json:"reaction_type"`
	Emoji     string       `json:"reaction_emoji"`
}

type ConversationDTO struct {
	ID           int64            `json:"id"`
	Title        string           `json:"title,omitempty"`
	Type         ConversationType `json:"conversation_type"`
	IsActive     bool             `json:"is_active"`
	LastActivity string           `json:"last_activity"`
	Participants []SenderDTO      `json:"participants"`
}

const replyPreviewLen = 50

// NewMessageDTO maps a stored message to its wire shape. replyTo may be nil
// (no reply, or the target row is gone) even when m.ReplyToID is set; a
// soft-deleted target becomes a tombstone instead of leaking its content.
func NewMessageDTO(m *Message, replyTo *Message) MessageDTO {
	dto := MessageDTO{
		ID:         m.ID,
		Type:       m.Type,
		Content:    m.Content,
		Attachment: m.Attachment,
		Sender: SenderDTO{
			ID:    m.SenderID,
			Email: m.SenderEmail,
			Name:  m.SenderName,
		},
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if replyTo != nil {
		dto.ReplyTo = newReplyPreview(replyTo)
	} else if m.ReplyToID != nil {
		dto.ReplyTo = &ReplyPreviewDTO{ID: *m.ReplyToID, Deleted: true}
	}
	return dto
}

func newReplyPreview(m *Message) *ReplyPreviewDTO {
	if m.IsDeleted {
		return &ReplyPreviewDTO{ID: m.ID, Deleted: true}
	}
	content := m.Content
	if len(content) > replyPreviewLen {
		content = content[:replyPreviewLen] + "..."
	}
	return &ReplyPreviewDTO{ID: m.ID, Sender: m.SenderName, Content: content}
}

func NewReactionDTO(r *Reaction) ReactionDTO {
	return ReactionDTO{
		MessageID: r.MessageID,
		User:      SenderDTO{ID: r.UserID, Email: r.Email, Name: r.Name},
		Type:      r.Type,
		Emoji:     reactionEmoji[r.Type],
	}
}

func NewConversationDTO(c *Conversation) ConversationDTO {
	return ConversationDTO{
		ID:           c.ID,
		Title:        c.Title,
		Type:         c.Type,
		IsActive:     c.IsActive,
		LastActivity: c.LastActivity.UTC().Format(time.RFC3339),
		Participants: lo.Map(c.Participants, func(p Participant, _ int) SenderDTO {
			return SenderDTO{ID: p.UserID, Email: p.Email, Name: p.Name}
		}),
	}
}
