package chat

import (
	"log/slog"
)

// MessageCreated is emitted after a message has been persisted and fanned
// out to its room.
type MessageCreated struct {
	ConversationID int64
	Message        MessageDTO
	ParticipantIDs []int64
}

// ReactionCreated is emitted after a reaction upsert.
type ReactionCreated struct {
	ConversationID int64
	MessageOwnerID int64
	Reaction       ReactionDTO
}

// NotificationSink is the collaborator interface for out-of-band delivery.
// Implementations must not block: they run on the publishing session's
// goroutine.
type NotificationSink interface {
	OnMessageCreated(evt MessageCreated)
	OnReactionCreated(evt ReactionCreated)
}

// UserNotifier is the shipped sink. It pushes a notification frame to every
// conversation participant who is not currently viewing the room, so their
// notification socket lights up instead. Push/email delivery for fully
// offline users belongs to an external collaborator behind the same
// interface.
type UserNotifier struct {
	bus   *Bus
	rooms *RoomRegistry
	log   *slog.Logger
}

func NewUserNotifier(bus *Bus, rooms *RoomRegistry, log *slog.Logger) *UserNotifier {
	return &UserNotifier{bus: bus, rooms: rooms, log: log}
}

func (n *UserNotifier) OnMessageCreated(evt MessageCreated) {
	for _, userID := range evt.ParticipantIDs {
		if userID == evt.Message.Sender.ID {
			continue
		}
		if n.rooms.ContainsUser(evt.ConversationID, userID) {
			continue // already saw it through the room
		}
		n.bus.PublishToUser(userID, NotificationEvent{
			Type: "notification",
			Notification: map[string]any{
				"kind":            "new_message",
				"conversation_id": evt.ConversationID,
				"message":         evt.Message,
			},
		})
	}
}

func (n *UserNotifier) OnReactionCreated(evt ReactionCreated) {
	if evt.MessageOwnerID == evt.Reaction.User.ID {
		return // reacting to your own message is not news
	}
	if n.rooms.ContainsUser(evt.ConversationID, evt.MessageOwnerID) {
		return
	}
	n.bus.PublishToUser(evt.MessageOwnerID, NotificationEvent{
		Type: "notification",
		Notification: map[string]any{
			"kind":            "reaction",
			"conversation_id": evt.ConversationID,
			"reaction":        evt.Reaction,
		},
	})
}

var _ NotificationSink = (*UserNotifier)(nil)
