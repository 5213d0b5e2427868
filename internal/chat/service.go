package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go-messenger/internal/presence"
)

// Store is everything the messaging core needs from durable storage. It is
// declared here, at the consumer, so the service can be exercised against a
// fake in tests. Single-row upserts (receipts, reactions) are atomic in the
// store; the core does not run cross-entity transactions beyond the
// message + last-activity bump the repository already pairs.
type Store interface {
	CreateConversation(ctx context.Context, c *Conversation, participantIDs []int64) error
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]Conversation, error)
	DeactivateConversation(ctx context.Context, id int64) error
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)

	SaveMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, conversationID, messageID int64) (*Message, error)
	LookupMessage(ctx context.Context, messageID int64) (*Message, error)
	ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]Message, error)
	SoftDeleteMessage(ctx context.Context, messageID, senderID int64) error
	SearchMessages(ctx context.Context, userID int64, query string, limit int) ([]Message, error)
	MessageStats(ctx context.Context, userID int64) (*MessageStats, error)

	UpsertReadReceipt(ctx context.Context, messageID, userID int64) error
	MarkConversationRead(ctx context.Context, conversationID, userID int64) error
	UpsertReaction(ctx context.Context, messageID, userID int64, kind ReactionType) error
	DeleteReaction(ctx context.Context, messageID, userID int64) (bool, error)
	ListReactions(ctx context.Context, messageID int64) ([]Reaction, error)
}

// StatusStore persists last-known presence. Failures are logged, not
// surfaced: the in-memory registry stays the live truth.
type StatusStore interface {
	Upsert(ctx context.Context, rec presence.Record) error
}

const defaultOpTimeout = 5 * time.Second

// Service implements the messaging operations behind both the websocket
// frames and the REST API. Every side effect ("when a message is created,
// also bump the conversation and notify sinks") is an explicit call in the
// operation's own control flow.
type Service struct {
	store     Store
	rooms     *RoomRegistry
	bus       *Bus
	presence  *presence.Registry
	statuses  StatusStore
	log       *slog.Logger
	opTimeout time.Duration
}

func NewService(store Store, rooms *RoomRegistry, bus *Bus, reg *presence.Registry, statuses StatusStore, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		rooms:     rooms,
		bus:       bus,
		presence:  reg,
		statuses:  statuses,
		log:       log,
		opTimeout: defaultOpTimeout,
	}
}

func (s *Service) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// ---------------------------------------------
// 🔌 Session attach / detach
// ---------------------------------------------

// AttachConversation admits a session to its conversation's room. The room
// join authorizes participation (ErrForbidden otherwise). On success the
// session's unread messages are swept into read receipts and the room is
// told the user arrived.
func (s *Service) AttachConversation(ctx context.Context, sess *Session) error {
	if err := s.rooms.Join(ctx, sess.ConversationID, sess); err != nil {
		return err
	}
	s.sessionUp(sess)

	if err := s.store.MarkConversationRead(ctx, sess.ConversationID, sess.UserID); err != nil {
		s.log.Warn("read sweep failed", "conversation", sess.ConversationID, "user", sess.UserID, "err", err)
	}

	s.bus.PublishToRoom(sess.ConversationID, UserJoinedEvent{
		Type:    "user_joined",
		User:    sess.Email,
		Message: fmt.Sprintf("%s joined the conversation", sess.Name),
	})
	return nil
}

// AttachNotification registers a user-scoped push session.
func (s *Service) AttachNotification(sess *Session) {
	s.bus.AttachUser(sess)
	s.sessionUp(sess)
}

// AttachStatus registers a presence watcher session.
func (s *Service) AttachStatus(sess *Session) {
	s.bus.AttachWatcher(sess)
	s.sessionUp(sess)
}

// Detach runs a session's registry cleanup. It is called synchronously from
// the read pump's deferred teardown, for explicit disconnects and abrupt
// socket drops alike, so membership can never go stale.
func (s *Service) Detach(sess *Session) {
	switch sess.kind {
	case kindConversation:
		s.rooms.Leave(sess.ConversationID, sess)
		s.bus.PublishToRoomExcept(sess.ConversationID, UserLeftEvent{
			Type:    "user_left",
			User:    sess.Email,
			Message: fmt.Sprintf("%s left the conversation", sess.Name),
		}, sess)
	case kindNotification:
		s.bus.DetachUser(sess)
	case kindStatus:
		s.bus.DetachWatcher(sess)
	}
	s.sessionDown(sess)
}

func (s *Service) sessionUp(sess *Session) {
	rec, cameOnline := s.presence.SessionUp(sess.UserID)
	if cameOnline {
		s.persistAndBroadcastStatus(sess.Email, sess.Name, rec)
	}
}

func (s *Service) sessionDown(sess *Session) {
	rec, wentOffline := s.presence.SessionDown(sess.UserID)
	if wentOffline {
		s.persistAndBroadcastStatus(sess.Email, sess.Name, rec)
	}
}

func (s *Service) persistAndBroadcastStatus(email, name string, rec presence.Record) {
	if s.statuses != nil {
		ctx, cancel := s.opContext()
		if err := s.statuses.Upsert(ctx, rec); err != nil {
			s.log.Warn("status persist failed", "user", rec.UserID, "err", err)
		}
		cancel()
	}
	s.bus.PublishPresence(rec.UserID, StatusUpdateEvent{
		Type:          "status_update",
		UserID:        rec.UserID,
		UserEmail:     email,
		UserName:      name,
		Status:        string(rec.Status),
		CustomMessage: rec.CustomMessage,
		LastSeen:      rec.LastSeen.UTC().Format(time.RFC3339),
	})
}

// ---------------------------------------------
// 💬 Frame handlers
// ---------------------------------------------

// SendMessage validates, persists and fans out one chat message. The room
// only ever sees messages that reached the store: a persistence failure is
// reported to the sender alone and nothing is broadcast, so peers never hold
// phantom state.
func (s *Service) SendMessage(sess *Session, content string, replyTo *int64) error {
	ctx, cancel := s.opContext()
	defer cancel()

	m, target, err := s.createMessage(ctx, sess.ConversationID, sess.UserID, sess.Email, sess.Name, MessageText, content, "", replyTo)
	if err != nil {
		return err
	}

	dto := NewMessageDTO(m, target)
	s.bus.PublishToRoom(sess.ConversationID, MessageEvent{Type: "message", Message: dto})
	s.notifyMessage(ctx, sess.ConversationID, dto)
	return nil
}

// createMessage is the single creation path shared by the websocket and
// REST entry points. It enforces the per-type content/attachment rules and
// the same-conversation reply invariant, and pairs the insert with the
// conversation's last-activity bump.
func (s *Service) createMessage(ctx context.Context, conversationID, senderID int64, email, name string, mtype MessageType, content, attachment string, replyTo *int64) (*Message, *Message, error) {
	if !mtype.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidFrame, mtype)
	}
	content = strings.TrimSpace(content)
	switch mtype {
	case MessageFile, MessageImage:
		if attachment == "" {
			return nil, nil, ErrAttachmentRequired
		}
	default:
		if content == "" {
			return nil, nil, ErrEmptyContent
		}
	}

	var target *Message
	if replyTo != nil {
		t, err := s.store.LookupMessage(ctx, *replyTo)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil, ErrInvalidReply
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if t.ConversationID != conversationID {
			return nil, nil, ErrInvalidReply
		}
		target = t
	}

	m := &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderEmail:    email,
		SenderName:     name,
		Type:           mtype,
		Content:        content,
		Attachment:     attachment,
		ReplyToID:      replyTo,
	}
	if err := s.store.SaveMessage(ctx, m); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return m, target, nil
}

func (s *Service) notifyMessage(ctx context.Context, conversationID int64, dto MessageDTO) {
	participants, err := s.store.ParticipantIDs(ctx, conversationID)
	if err != nil {
		s.log.Warn("participant lookup failed, skipping notifications", "conversation", conversationID, "err", err)
		return
	}
	s.bus.notifyMessageCreated(MessageCreated{
		ConversationID: conversationID,
		Message:        dto,
		ParticipantIDs: participants,
	})
}

// Typing fans a typing indicator out to everyone else in the room. Nothing
// is persisted and the sender never receives its own echo.
func (s *Service) Typing(sess *Session, isTyping bool) {
	s.bus.PublishToRoomExcept(sess.ConversationID, TypingEvent{
		Type:     "typing",
		User:     sess.Email,
		UserName: sess.Name,
		IsTyping: isTyping,
	}, sess)
}

// MarkRead idempotently records that the session's user has seen a message
// in this conversation. Reading your own message is a quiet no-op.
func (s *Service) MarkRead(sess *Session, messageID int64) error {
	if messageID <= 0 {
		return ErrInvalidFrame
	}
	ctx, cancel := s.opContext()
	defer cancel()

	m, err := s.store.GetMessage(ctx, sess.ConversationID, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if m.SenderID == sess.UserID {
		return nil
	}
	if err := s.store.UpsertReadReceipt(ctx, messageID, sess.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// React upserts the session user's reaction to a message; a repeat reaction
// replaces the previous kind. The room only hears about reactions that
// reached the store.
func (s *Service) React(sess *Session, messageID int64, kind ReactionType) error {
	ctx, cancel := s.opContext()
	defer cancel()
	return s.ReactFor(ctx, sess.ConversationID, sess.UserID, sess.Email, sess.Name, messageID, kind)
}

// ReactFor is the transport-independent reaction path, shared by the
// websocket frame handler and the REST endpoint.
func (s *Service) ReactFor(ctx context.Context, conversationID, userID int64, email, name string, messageID int64, kind ReactionType) error {
	if messageID <= 0 {
		return ErrInvalidFrame
	}
	if !kind.Valid() {
		return ErrUnknownReaction
	}
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return ErrForbidden
	}

	m, err := s.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.store.UpsertReaction(ctx, messageID, userID, kind); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	dto := NewReactionDTO(&Reaction{
		MessageID: messageID,
		UserID:    userID,
		Email:     email,
		Name:      name,
		Type:      kind,
	})
	s.bus.PublishToRoom(conversationID, ReactionEvent{
		Type:     "reaction",
		Reaction: dto,
		Action:   "add",
		Kind:     kind,
	})
	s.bus.notifyReactionCreated(ReactionCreated{
		ConversationID: conversationID,
		MessageOwnerID: m.SenderID,
		Reaction:       dto,
	})
	return nil
}

// UpdateStatus applies an explicit presence change from the status socket.
// No-op transitions are not broadcast, so idle clients cannot spam the
// watchers.
func (s *Service) UpdateStatus(sess *Session, status, customMessage string) {
	s.UpdateStatusFor(sess.UserID, sess.Email, sess.Name, status, customMessage)
}

// UpdateStatusFor is the REST twin of UpdateStatus.
func (s *Service) UpdateStatusFor(userID int64, email, name, status, customMessage string) {
	st := presence.Status(status)
	if !st.Valid() {
		return
	}
	prev, cur := s.presence.SetStatus(userID, st, customMessage)
	if prev.Status == cur.Status && prev.CustomMessage == cur.CustomMessage {
		return
	}
	s.persistAndBroadcastStatus(email, name, cur)
}

// ---------------------------------------------
// 🌐 REST-facing operations
// ---------------------------------------------

// CreateConversation builds a fully-formed conversation aggregate. The
// creator is always a participant; a direct conversation has exactly two.
func (s *Service) CreateConversation(ctx context.Context, creatorID int64, ctype ConversationType, title string, participantIDs []int64) (*Conversation, error) {
	if !ctype.Valid() {
		return nil, fmt.Errorf("%w: unknown conversation type %q", ErrInvalidFrame, ctype)
	}

	ids := dedupe(append(participantIDs, creatorID))
	if len(ids) == 0 {
		return nil, ErrNoParticipants
	}
	if ctype == ConversationDirect && len(ids) != 2 {
		return nil, ErrDirectParticipants
	}

	c := &Conversation{
		Title:     title,
		Type:      ctype,
		CreatedBy: creatorID,
		IsActive:  true,
	}
	if err := s.store.CreateConversation(ctx, c, ids); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return c, nil
}

func (s *Service) GetConversation(ctx context.Context, userID, conversationID int64) (*Conversation, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return nil, ErrForbidden
	}
	return s.store.GetConversation(ctx, conversationID)
}

func (s *Service) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

// DeactivateConversation flips is_active off. History is retained; nothing
// is ever physically deleted.
func (s *Service) DeactivateConversation(ctx context.Context, userID, conversationID int64) error {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if c.CreatedBy != userID {
		return ErrForbidden
	}
	return s.store.DeactivateConversation(ctx, conversationID)
}

// PostMessage is the REST twin of SendMessage: same creation path, same
// fan-out, so API-sent messages appear live to connected sessions too. Only
// this entry point carries file/image attachments; the websocket frame stays
// text-only because upload happens over HTTP first.
func (s *Service) PostMessage(ctx context.Context, conversationID, senderID int64, email, name string, mtype MessageType, content, attachment string, replyTo *int64) (MessageDTO, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return MessageDTO{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return MessageDTO{}, ErrForbidden
	}

	m, target, err := s.createMessage(ctx, conversationID, senderID, email, name, mtype, content, attachment, replyTo)
	if err != nil {
		return MessageDTO{}, err
	}
	dto := NewMessageDTO(m, target)
	s.bus.PublishToRoom(conversationID, MessageEvent{Type: "message", Message: dto})
	s.notifyMessage(ctx, conversationID, dto)
	return dto, nil
}

// History returns a page of the conversation's messages, newest first,
// soft-deleted rows excluded, with reply tombstones resolved.
func (s *Service) History(ctx context.Context, userID, conversationID int64, limit, offset int) ([]MessageDTO, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return nil, ErrForbidden
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		var target *Message
		if msgs[i].ReplyToID != nil {
			// Tolerant lookup: a soft-deleted or purged target surfaces as
			// a tombstone, never as an error.
			if t, err := s.store.LookupMessage(ctx, *msgs[i].ReplyToID); err == nil {
				target = t
			}
		}
		out = append(out, NewMessageDTO(&msgs[i], target))
	}
	return out, nil
}

// DeleteMessage soft-deletes the caller's own message.
func (s *Service) DeleteMessage(ctx context.Context, messageID, senderID int64) error {
	return s.store.SoftDeleteMessage(ctx, messageID, senderID)
}

// RemoveReaction deletes the caller's reaction and tells the room, if there
// was anything to remove.
func (s *Service) RemoveReaction(ctx context.Context, userID int64, email, name string, conversationID, messageID int64) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return ErrForbidden
	}

	removed, err := s.store.DeleteReaction(ctx, messageID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !removed {
		return nil
	}
	s.bus.PublishToRoom(conversationID, ReactionEvent{
		Type:     "reaction",
		Reaction: ReactionDTO{MessageID: messageID, User: SenderDTO{ID: userID, Email: email, Name: name}},
		Action:   "remove",
	})
	return nil
}

// MessageReactions lists every reaction on a message, participant-gated.
func (s *Service) MessageReactions(ctx context.Context, userID, conversationID, messageID int64) ([]ReactionDTO, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return nil, ErrForbidden
	}
	if _, err := s.store.GetMessage(ctx, conversationID, messageID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	reactions, err := s.store.ListReactions(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	out := make([]ReactionDTO, 0, len(reactions))
	for i := range reactions {
		out = append(out, NewReactionDTO(&reactions[i]))
	}
	return out, nil
}

func (s *Service) SearchMessages(ctx context.Context, userID int64, query string, limit int) ([]MessageDTO, error) {
	msgs, err := s.store.SearchMessages(ctx, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewMessageDTO(&msgs[i], nil))
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context, userID int64) (*MessageStats, error) {
	return s.store.MessageStats(ctx, userID)
}

// Presence exposes the registry for read endpoints.
func (s *Service) Presence() *presence.Registry { return s.presence }

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
