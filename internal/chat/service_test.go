package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-messenger/internal/presence"
)

// ---------------------------------------------
// test fixtures
// ---------------------------------------------

type rcKey struct{ messageID, userID int64 }

type fakeStore struct {
	mu           sync.Mutex
	convs        map[int64]*Conversation
	participants map[int64][]int64
	messages     map[int64]*Message
	nextMsgID    int64
	receipts     map[rcKey]ReadReceipt
	reactions    map[rcKey]ReactionType

	failSave     bool
	failReaction bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:        make(map[int64]*Conversation),
		participants: make(map[int64][]int64),
		messages:     make(map[int64]*Message),
		receipts:     make(map[rcKey]ReadReceipt),
		reactions:    make(map[rcKey]ReactionType),
	}
}

func (f *fakeStore) addConversation(id int64, ctype ConversationType, userIDs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[id] = &Conversation{ID: id, Type: ctype, CreatedBy: userIDs[0], IsActive: true}
	f.participants[id] = userIDs
}

func (f *fakeStore) CreateConversation(_ context.Context, c *Conversation, participantIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = int64(len(f.convs) + 1)
	c.CreatedAt = time.Now()
	c.LastActivity = c.CreatedAt
	f.convs[c.ID] = c
	f.participants[c.ID] = participantIDs
	return nil
}

func (f *fakeStore) GetConversation(_ context.Context, id int64) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListConversations(_ context.Context, userID int64) ([]Conversation, error) {
	return nil, nil
}

func (f *fakeStore) DeactivateConversation(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return ErrNotFound
	}
	c.IsActive = false
	return nil
}

func (f *fakeStore) IsParticipant(_ context.Context, conversationID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.participants[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ParticipantIDs(_ context.Context, conversationID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.participants[conversationID]...), nil
}

func (f *fakeStore) SaveMessage(_ context.Context, m *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errors.New("connection refused")
	}
	f.nextMsgID++
	m.ID = f.nextMsgID
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	f.messages[m.ID] = &cp
	if c, ok := f.convs[m.ConversationID]; ok {
		c.LastActivity = m.CreatedAt
	}
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, conversationID, messageID int64) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok || m.ConversationID != conversationID || m.IsDeleted {
		return nil, ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) LookupMessage(_ context.Context, messageID int64) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) ListMessages(_ context.Context, conversationID int64, limit, offset int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID && !m.IsDeleted {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) SoftDeleteMessage(_ context.Context, messageID, senderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok || m.SenderID != senderID {
		return ErrNotFound
	}
	m.IsDeleted = true
	return nil
}

func (f *fakeStore) SearchMessages(_ context.Context, userID int64, query string, limit int) ([]Message, error) {
	return nil, nil
}

func (f *fakeStore) MessageStats(_ context.Context, userID int64) (*MessageStats, error) {
	return &MessageStats{}, nil
}

func (f *fakeStore) UpsertReadReceipt(_ context.Context, messageID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := rcKey{messageID, userID}
	if _, ok := f.receipts[key]; ok {
		return nil
	}
	f.receipts[key] = ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: time.Now()}
	return nil
}

func (f *fakeStore) MarkConversationRead(_ context.Context, conversationID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ConversationID == conversationID && m.SenderID != userID && !m.IsDeleted {
			key := rcKey{m.ID, userID}
			if _, ok := f.receipts[key]; !ok {
				f.receipts[key] = ReadReceipt{MessageID: m.ID, UserID: userID, ReadAt: time.Now()}
			}
		}
	}
	return nil
}

func (f *fakeStore) UpsertReaction(_ context.Context, messageID, userID int64, kind ReactionType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReaction {
		return errors.New("connection refused")
	}
	f.reactions[rcKey{messageID, userID}] = kind
	return nil
}

func (f *fakeStore) ListReactions(_ context.Context, messageID int64) ([]Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reaction
	for key, kind := range f.reactions {
		if key.messageID == messageID {
			out = append(out, Reaction{MessageID: messageID, UserID: key.userID, Type: kind})
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteReaction(_ context.Context, messageID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := rcKey{messageID, userID}
	if _, ok := f.reactions[key]; !ok {
		return false, nil
	}
	delete(f.reactions, key)
	return true, nil
}

func (f *fakeStore) receiptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receipts)
}

func (f *fakeStore) reactionFor(messageID, userID int64) (ReactionType, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kind, ok := f.reactions[rcKey{messageID, userID}]
	return kind, ok
}

var _ Store = (*fakeStore)(nil)

type testEnv struct {
	store    *fakeStore
	rooms    *RoomRegistry
	bus      *Bus
	presence *presence.Registry
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeStore()
	rooms := NewRoomRegistry(store, log)
	bus := NewBus(rooms, nil, log)
	reg := presence.NewRegistry()
	svc := NewService(store, rooms, bus, reg, nil, log)
	return &testEnv{store: store, rooms: rooms, bus: bus, presence: reg, svc: svc}
}

func (e *testEnv) newSession(kind sessionKind, conversationID, userID int64, email, name string) *Session {
	return &Session{
		ID:             email,
		UserID:         userID,
		Email:          email,
		Name:           name,
		ConversationID: conversationID,
		kind:           kind,
		send:           make(chan []byte, 16),
		done:           make(chan struct{}),
		svc:            e.svc,
		log:            e.svc.log,
	}
}

// join puts a session in its room without the attach side effects, for
// tests that only care about fan-out.
func (e *testEnv) join(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, e.rooms.Join(context.Background(), s.ConversationID, s))
}

func recvEvent(t *testing.T, s *Session) map[string]any {
	t.Helper()
	select {
	case data := <-s.send:
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("no event delivered in time")
		return nil
	}
}

func assertNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case data := <-s.send:
		t.Fatalf("unexpected event delivered: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

// ---------------------------------------------
// message handling
// ---------------------------------------------

func TestSendMessage_RejectsEmptyContent(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	env.join(t, a)

	err := env.svc.SendMessage(a, "   ", nil)

	req.ErrorIs(err, ErrEmptyContent)
	assertNoEvent(t, a)
}

func TestSendMessage_EchoesToSenderAndPeer(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)

	req.NoError(env.svc.SendMessage(a, "hello", nil))

	for _, s := range []*Session{a, b} {
		evt := recvEvent(t, s)
		req.Equal("message", evt["type"])
		msg := evt["message"].(map[string]any)
		req.Equal("hello", msg["content"])
	}
}

func TestSendMessage_FanoutPreservesOrder(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)

	req.NoError(env.svc.SendMessage(a, "first", nil))
	req.NoError(env.svc.SendMessage(a, "second", nil))
	req.NoError(env.svc.SendMessage(b, "third", nil))

	want := []string{"first", "second", "third"}
	for _, s := range []*Session{a, b} {
		for _, content := range want {
			evt := recvEvent(t, s)
			msg := evt["message"].(map[string]any)
			req.Equal(content, msg["content"])
		}
	}
}

func TestSendMessage_RejectsReplyFromOtherConversation(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	env.store.addConversation(2, ConversationDirect, 10, 30)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	other := env.newSession(kindConversation, 2, 10, "a@test", "User A")
	env.join(t, a)
	env.join(t, other)

	// A message that lives in conversation 2
	req.NoError(env.svc.SendMessage(other, "elsewhere", nil))
	foreign := int64(1)
	<-other.send

	err := env.svc.SendMessage(a, "reply", &foreign)

	req.ErrorIs(err, ErrInvalidReply)
	assertNoEvent(t, a)
}

func TestSendMessage_RejectsUnknownReplyTarget(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	env.join(t, a)

	missing := int64(999)
	err := env.svc.SendMessage(a, "reply", &missing)

	req.ErrorIs(err, ErrInvalidReply)
}

func TestSendMessage_PersistenceFailureSuppressesFanout(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)
	env.store.failSave = true

	err := env.svc.SendMessage(a, "hello", nil)

	// The sender hears about the failure; the room must never see a
	// message the store does not hold.
	req.ErrorIs(err, ErrPersistence)
	assertNoEvent(t, a)
	assertNoEvent(t, b)
}

func TestPostMessage_FileRequiresAttachment(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	ctx := context.Background()

	_, err := env.svc.PostMessage(ctx, 1, 10, "a@test", "User A", MessageFile, "here you go", "", nil)
	req.ErrorIs(err, ErrAttachmentRequired)

	_, err = env.svc.PostMessage(ctx, 1, 10, "a@test", "User A", MessageImage, "", "", nil)
	req.ErrorIs(err, ErrAttachmentRequired)
}

func TestPostMessage_AttachmentMessageFansOut(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, b)

	dto, err := env.svc.PostMessage(context.Background(), 1, 10, "a@test", "User A",
		MessageImage, "holiday pics", "uploads/2026/08/beach.jpg", nil)

	// Caption is optional for attachments, but when present it survives.
	req.NoError(err)
	req.Equal(MessageImage, dto.Type)
	req.Equal("uploads/2026/08/beach.jpg", dto.Attachment)
	req.Equal("holiday pics", dto.Content)

	evt := recvEvent(t, b)
	msg := evt["message"].(map[string]any)
	req.Equal("image", msg["message_type"])
	req.Equal("uploads/2026/08/beach.jpg", msg["attachment"])

	stored, err := env.store.LookupMessage(context.Background(), dto.ID)
	req.NoError(err)
	req.Equal(MessageImage, stored.Type)
	req.Equal("uploads/2026/08/beach.jpg", stored.Attachment)
}

func TestPostMessage_TextStillRequiresContent(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)

	_, err := env.svc.PostMessage(context.Background(), 1, 10, "a@test", "User A",
		MessageText, "  ", "", nil)
	req.ErrorIs(err, ErrEmptyContent)
}

func TestHistory_ReplyToSoftDeletedTargetIsTombstoned(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)

	req.NoError(env.svc.SendMessage(a, "original", nil))
	target := int64(1)
	req.NoError(env.svc.SendMessage(b, "the reply", &target))
	req.NoError(env.svc.DeleteMessage(context.Background(), target, 10))

	msgs, err := env.svc.History(context.Background(), 20, 1, 50, 0)

	req.NoError(err)
	req.Len(msgs, 1) // deleted original excluded from the page
	req.Equal("the reply", msgs[0].Content)
	req.NotNil(msgs[0].ReplyTo)
	req.True(msgs[0].ReplyTo.Deleted)
	req.Equal(target, msgs[0].ReplyTo.ID)
	req.Empty(msgs[0].ReplyTo.Content)
}

// ---------------------------------------------
// typing
// ---------------------------------------------

func TestTyping_NeverEchoesToSender(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)

	env.svc.Typing(a, true)

	evt := recvEvent(t, b)
	req.Equal("typing", evt["type"])
	req.Equal("a@test", evt["user"])
	req.Equal(true, evt["is_typing"])
	assertNoEvent(t, a)
}

// ---------------------------------------------
// read receipts
// ---------------------------------------------

func TestMarkRead_IsIdempotent(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)
	req.NoError(env.svc.SendMessage(a, "hello", nil))

	req.NoError(env.svc.MarkRead(b, 1))
	req.NoError(env.svc.MarkRead(b, 1))

	req.Equal(1, env.store.receiptCount())
}

func TestMarkRead_OwnMessageIsNoOp(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	env.join(t, a)
	req.NoError(env.svc.SendMessage(a, "hello", nil))

	req.NoError(env.svc.MarkRead(a, 1))

	req.Equal(0, env.store.receiptCount())
}

// ---------------------------------------------
// reactions
// ---------------------------------------------

func TestReact_ReplacesPreviousKind(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)
	req.NoError(env.svc.SendMessage(a, "hello", nil))
	<-a.send
	<-b.send

	req.NoError(env.svc.React(b, 1, ReactionLike))
	req.NoError(env.svc.React(b, 1, ReactionLove))

	kind, ok := env.store.reactionFor(1, 20)
	req.True(ok)
	req.Equal(ReactionLove, kind)

	evt := recvEvent(t, a)
	req.Equal("reaction", evt["type"])
	req.Equal("add", evt["action"])
}

func TestReact_RejectsUnknownKind(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)
	req.NoError(env.svc.SendMessage(a, "hello", nil))
	<-a.send
	<-b.send

	err := env.svc.React(b, 1, ReactionType("kiss"))

	req.ErrorIs(err, ErrUnknownReaction)
	_, ok := env.store.reactionFor(1, 20)
	req.False(ok)
	assertNoEvent(t, a)
}

func TestReact_PersistenceFailureSuppressesFanout(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)
	req.NoError(env.svc.SendMessage(a, "hello", nil))
	<-a.send
	<-b.send
	env.store.failReaction = true

	err := env.svc.React(b, 1, ReactionLike)

	req.ErrorIs(err, ErrPersistence)
	assertNoEvent(t, a)
}

// ---------------------------------------------
// attach / detach lifecycle
// ---------------------------------------------

func TestAttachConversation_NonParticipantIsForbidden(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	outsider := env.newSession(kindConversation, 1, 99, "x@test", "Outsider")

	err := env.svc.AttachConversation(context.Background(), outsider)

	req.ErrorIs(err, ErrForbidden)
	req.Equal(0, env.rooms.Size(1))
}

func TestAttachConversation_SweepsUnreadIntoReceipts(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	env.join(t, a)
	req.NoError(env.svc.SendMessage(a, "waiting for you", nil))

	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	req.NoError(env.svc.AttachConversation(context.Background(), b))

	req.Equal(1, env.store.receiptCount())
}

func TestDetach_AbruptDisconnectCleansUpEverything(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)

	watcher := env.newSession(kindStatus, 0, 30, "w@test", "Watcher")
	env.svc.AttachStatus(watcher)

	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	req.NoError(env.svc.AttachConversation(context.Background(), a))

	evt := recvEvent(t, watcher)
	req.Equal("status_update", evt["type"])
	req.Equal("online", evt["status"])

	// Socket drop: no disconnect frame, just the read pump teardown path.
	env.svc.Detach(a)

	req.Equal(0, env.rooms.Size(1))
	req.Equal(presence.Offline, env.presence.Get(10).Status)

	evt = recvEvent(t, watcher)
	req.Equal("status_update", evt["type"])
	req.Equal("offline", evt["status"])
}

func TestDetach_SecondDeviceKeepsUserOnline(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)

	phone := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	laptop := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	req.NoError(env.svc.AttachConversation(context.Background(), phone))
	req.NoError(env.svc.AttachConversation(context.Background(), laptop))

	env.svc.Detach(phone)
	req.Equal(presence.Online, env.presence.Get(10).Status)

	env.svc.Detach(laptop)
	req.Equal(presence.Offline, env.presence.Get(10).Status)
}

// ---------------------------------------------
// conversations & status
// ---------------------------------------------

func TestCreateConversation_DirectRequiresExactlyTwo(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	_, err := env.svc.CreateConversation(context.Background(), 10, ConversationDirect, "", []int64{20, 30})
	req.ErrorIs(err, ErrDirectParticipants)

	_, err = env.svc.CreateConversation(context.Background(), 10, ConversationDirect, "", []int64{10})
	req.ErrorIs(err, ErrDirectParticipants)

	c, err := env.svc.CreateConversation(context.Background(), 10, ConversationDirect, "", []int64{20})
	req.NoError(err)
	req.NotZero(c.ID)
}

func TestCreateConversation_GroupKeepsCreator(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	c, err := env.svc.CreateConversation(context.Background(), 10, ConversationGroup, "team", []int64{20, 30})

	req.NoError(err)
	ids, err := env.store.ParticipantIDs(context.Background(), c.ID)
	req.NoError(err)
	req.ElementsMatch([]int64{10, 20, 30}, ids)
}

func TestUpdateStatus_NoOpTransitionIsNotBroadcast(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	watcher := env.newSession(kindStatus, 0, 30, "w@test", "Watcher")
	env.svc.AttachStatus(watcher)

	a := env.newSession(kindStatus, 0, 10, "a@test", "User A")
	env.svc.AttachStatus(a)
	evt := recvEvent(t, watcher)
	req.Equal("online", evt["status"])
	assertNoEvent(t, a) // own status changes are never echoed back

	env.svc.UpdateStatus(a, "busy", "in a meeting")
	evt = recvEvent(t, watcher)
	req.Equal("busy", evt["status"])
	req.Equal("in a meeting", evt["custom_message"])
	assertNoEvent(t, a)

	// Same status again: watchers must not be spammed.
	env.svc.UpdateStatus(a, "busy", "in a meeting")
	assertNoEvent(t, watcher)
}
