package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoin_NonParticipantIsRefused(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	outsider := env.newSession(kindConversation, 1, 99, "x@test", "Outsider")

	err := env.rooms.Join(context.Background(), 1, outsider)

	req.ErrorIs(err, ErrForbidden)
	req.Equal(0, env.rooms.Size(1))
}

func TestJoin_TwiceIsIdempotent(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")

	req.NoError(env.rooms.Join(context.Background(), 1, a))
	req.NoError(env.rooms.Join(context.Background(), 1, a))

	req.Equal(1, env.rooms.Size(1))
}

func TestLeave_UnknownRoomIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	a := env.newSession(kindConversation, 7, 10, "a@test", "User A")

	env.rooms.Leave(7, a) // never joined, must not panic

	require.Equal(t, 0, env.rooms.Size(7))
}

func TestBroadcast_SkipsExcludedSession(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)

	env.rooms.Broadcast(1, []byte(`{"type":"typing"}`), a)

	assertNoEvent(t, a)
	req.Equal(`{"type":"typing"}`, string(<-b.send))
}

func TestBroadcast_EvictsSessionWithFullQueue(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	slow := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	slow.send = make(chan []byte) // nothing draining, zero headroom
	env.join(t, a)
	env.join(t, slow)

	env.rooms.Broadcast(1, []byte(`{"type":"message"}`), nil)

	// The healthy session is untouched; the stalled one is gone and its
	// done channel is closed so its pumps unwind.
	req.Equal(1, env.rooms.Size(1))
	req.Equal(`{"type":"message"}`, string(<-a.send))
	select {
	case <-slow.done:
	default:
		t.Fatal("evicted session was not closed")
	}
}

// A session joining while the room's last member leaves must land in the
// room the registry maps, not in a freshly pruned orphan.
func TestJoin_SurvivesConcurrentPruneOfLastMember(t *testing.T) {
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	ctx := context.Background()

	for i := 0; i < 5000; i++ {
		a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
		b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
		require.NoError(t, env.rooms.Join(ctx, 1, a))

		var joinErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			env.rooms.Leave(1, a)
		}()
		go func() {
			defer wg.Done()
			joinErr = env.rooms.Join(ctx, 1, b)
		}()
		wg.Wait()
		require.NoError(t, joinErr)

		env.rooms.Broadcast(1, []byte(`{"type":"message"}`), nil)
		select {
		case <-b.send:
		default:
			t.Fatalf("iteration %d: joined session missed the broadcast", i)
		}
		env.rooms.Leave(1, b)
	}
}

func TestContainsUser(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	env.join(t, a)

	req.True(env.rooms.ContainsUser(1, 10))
	req.False(env.rooms.ContainsUser(1, 20))
	req.False(env.rooms.ContainsUser(2, 10))

	env.rooms.Leave(1, a)
	req.False(env.rooms.ContainsUser(1, 10))
}
