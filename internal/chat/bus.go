package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const eventsChannel = "messenger-events"

// envelope is the wire shape bridged through Redis so that events reach
// sessions connected to other instances. Origin lets an instance skip the
// echo of its own publishes.
type envelope struct {
	Origin  string          `json:"origin"`
	Scope   string          `json:"scope"` // "room", "user" or "presence"
	ID      int64           `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Bus decouples "a thing happened" from "who needs to know". Three delivery
// scopes: room (all sessions joined to a conversation), user (all
// notification sessions of one user) and presence (every status watcher).
//
// Publishing is fire-and-forget: the caller is never informed of individual
// delivery outcomes. Events published to the same room reach every local
// subscriber in publish order; no cross-room order is promised.
//
// With a Redis client the bus also mirrors every publish to other instances,
// the same way the single-room hub bridged its broadcasts. A nil client
// yields a process-local bus, which is what the tests and single-instance
// deployments use.
type Bus struct {
	log   *slog.Logger
	rooms *RoomRegistry

	mu       sync.RWMutex
	users    map[int64]map[*Session]struct{}
	watchers map[*Session]struct{}

	rdb    *redis.Client
	origin string

	sinkMu sync.RWMutex
	sinks  []NotificationSink
}

func NewBus(rooms *RoomRegistry, rdb *redis.Client, log *slog.Logger) *Bus {
	return &Bus{
		log:      log,
		rooms:    rooms,
		users:    make(map[int64]map[*Session]struct{}),
		watchers: make(map[*Session]struct{}),
		rdb:      rdb,
		origin:   uuid.NewString(),
	}
}

// AttachUser registers a notification session for user-scoped delivery.
func (b *Bus) AttachUser(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.users[s.UserID]
	if !ok {
		set = make(map[*Session]struct{})
		b.users[s.UserID] = set
	}
	set[s] = struct{}{}
}

func (b *Bus) DetachUser(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.users[s.UserID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.users, s.UserID)
	}
}

// AttachWatcher registers a status session for presence broadcasts.
func (b *Bus) AttachWatcher(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers[s] = struct{}{}
}

func (b *Bus) DetachWatcher(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.watchers, s)
}

// PublishToRoom fans an event out to every session in the conversation's
// room, including the one that caused it.
func (b *Bus) PublishToRoom(conversationID int64, event any) {
	b.PublishToRoomExcept(conversationID, event, nil)
}

// PublishToRoomExcept fans out to the room while skipping one local session,
// used for typing echo suppression.
func (b *Bus) PublishToRoomExcept(conversationID int64, event any, exclude *Session) {
	payload := encodeEvent(event)
	b.rooms.Broadcast(conversationID, payload, exclude)
	b.mirror("room", conversationID, payload)
}

// PublishToUser delivers an event to every notification session of one user.
func (b *Bus) PublishToUser(userID int64, event any) {
	payload := encodeEvent(event)
	b.deliverToUser(userID, payload)
	b.mirror("user", userID, payload)
}

// PublishPresence delivers a status change for userID to every connected
// status watcher except that user's own sessions: nobody needs to be told
// about themselves.
func (b *Bus) PublishPresence(userID int64, event any) {
	payload := encodeEvent(event)
	b.deliverPresence(userID, payload)
	b.mirror("presence", userID, payload)
}

func (b *Bus) deliverToUser(userID int64, payload []byte) {
	if payload == nil {
		return
	}
	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.users[userID]))
	for s := range b.users[userID] {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	for _, s := range sessions {
		if !s.deliver(payload) {
			s.close()
		}
	}
}

func (b *Bus) deliverPresence(subjectID int64, payload []byte) {
	if payload == nil {
		return
	}
	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.watchers))
	for s := range b.watchers {
		if s.UserID == subjectID {
			continue
		}
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	for _, s := range sessions {
		if !s.deliver(payload) {
			s.close()
		}
	}
}

// mirror forwards a publish to peer instances through Redis.
func (b *Bus) mirror(scope string, id int64, payload []byte) {
	if b.rdb == nil || payload == nil {
		return
	}
	env, err := json.Marshal(envelope{
		Origin:  b.origin,
		Scope:   scope,
		ID:      id,
		Payload: payload,
	})
	if err != nil {
		return
	}
	if err := b.rdb.Publish(context.Background(), eventsChannel, env).Err(); err != nil {
		b.log.Warn("redis publish failed", "scope", scope, "err", err)
	}
}

// Subscribe re-delivers events published by peer instances to local
// sessions. It blocks until ctx is cancelled; run it in its own goroutine.
func (b *Bus) Subscribe(ctx context.Context) {
	if b.rdb == nil {
		return
	}
	pubsub := b.rdb.Subscribe(ctx, eventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("dropping malformed bus envelope", "err", err)
				continue
			}
			if env.Origin == b.origin {
				continue // our own echo
			}
			switch env.Scope {
			case "room":
				b.rooms.Broadcast(env.ID, env.Payload, nil)
			case "user":
				b.deliverToUser(env.ID, env.Payload)
			case "presence":
				b.deliverPresence(env.ID, env.Payload)
			}
		}
	}
}

// AddSink subscribes a collaborator to domain events. Sinks receive every
// created message and reaction after room fan-out.
func (b *Bus) AddSink(sink NotificationSink) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.sinks = append(b.sinks, sink)
}

func (b *Bus) notifyMessageCreated(evt MessageCreated) {
	b.sinkMu.RLock()
	defer b.sinkMu.RUnlock()
	for _, sink := range b.sinks {
		sink.OnMessageCreated(evt)
	}
}

func (b *Bus) notifyReactionCreated(evt ReactionCreated) {
	b.sinkMu.RLock()
	defer b.sinkMu.RUnlock()
	for _, sink := range b.sinks {
		sink.OnReactionCreated(evt)
	}
}
