package chat

import (
	"context"
	"log/slog"
	"sync"
)

// Authorizer answers whether a user may enter a conversation. Declared here,
// at the consumer, to keep the registry decoupled from the persistence layer.
type Authorizer interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

// room is the live set of sessions subscribed to one conversation. Its
// mutex is held for the whole delivery loop, so every event published to the
// room reaches all members in one total order.
type room struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// RoomRegistry maps conversation identity to the live set of connected
// sessions subscribed to it. Membership is process-local and transient; it
// is rebuilt from scratch by sessions reconnecting after a restart, never
// loaded from storage.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[int64]*room
	auth  Authorizer
	log   *slog.Logger
}

func NewRoomRegistry(auth Authorizer, log *slog.Logger) *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[int64]*room),
		auth:  auth,
		log:   log,
	}
}

// Join subscribes a session to a conversation's room. Joining twice is a
// no-op. A session whose user is not a participant of the conversation is
// refused with ErrForbidden and never added.
func (r *RoomRegistry) Join(ctx context.Context, conversationID int64, s *Session) error {
	ok, err := r.auth.IsParticipant(ctx, conversationID, s.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}

	// r.mu stays held until the session is inserted. Releasing it between
	// the map lookup and the insert would let a concurrent Leave of the
	// room's last member prune the room, leaving s in an orphaned object
	// no broadcast can reach.
	r.mu.Lock()
	rm, exists := r.rooms[conversationID]
	if !exists {
		rm = &room{sessions: make(map[*Session]struct{})}
		r.rooms[conversationID] = rm
	}
	rm.mu.Lock()
	rm.sessions[s] = struct{}{}
	rm.mu.Unlock()
	r.mu.Unlock()
	return nil
}

// Leave removes a session from a room. Leaving a room the session never
// joined is a no-op. Empty rooms are pruned.
func (r *RoomRegistry) Leave(conversationID int64, s *Session) {
	r.mu.Lock()
	rm, exists := r.rooms[conversationID]
	if !exists {
		r.mu.Unlock()
		return
	}

	rm.mu.Lock()
	delete(rm.sessions, s)
	empty := len(rm.sessions) == 0
	rm.mu.Unlock()

	if empty {
		delete(r.rooms, conversationID)
	}
	r.mu.Unlock()
}

// Broadcast delivers payload to every session in the conversation's room,
// except exclude (used for typing echo suppression; pass nil to reach
// everyone, including the sender). Delivery to a session whose transport is
// closed or whose queue is full is dropped, not retried, and that session is
// evicted and closed so its own teardown runs.
func (r *RoomRegistry) Broadcast(conversationID int64, payload []byte, exclude *Session) {
	if payload == nil {
		return
	}

	r.mu.RLock()
	rm, exists := r.rooms[conversationID]
	r.mu.RUnlock()
	if !exists {
		return
	}

	var dead []*Session
	rm.mu.Lock()
	for s := range rm.sessions {
		if s == exclude {
			continue
		}
		if !s.deliver(payload) {
			delete(rm.sessions, s)
			dead = append(dead, s)
		}
	}
	rm.mu.Unlock()

	for _, s := range dead {
		r.log.Debug("evicting unresponsive session", "session", s.ID, "conversation", conversationID)
		s.close()
	}
}

// ContainsUser reports whether any live session for the user is currently
// joined to the conversation's room. The notifier uses it to decide between
// in-room delivery and an out-of-band notification.
func (r *RoomRegistry) ContainsUser(conversationID, userID int64) bool {
	r.mu.RLock()
	rm, exists := r.rooms[conversationID]
	r.mu.RUnlock()
	if !exists {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for s := range rm.sessions {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// Size reports the number of sessions currently joined to a room.
func (r *RoomRegistry) Size(conversationID int64) int {
	r.mu.RLock()
	rm, exists := r.rooms[conversationID]
	r.mu.RUnlock()
	if !exists {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.sessions)
}
