package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatch_StoreFailureIsNotLeakedToClient(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	env.join(t, a)
	env.store.failSave = true

	a.dispatch([]byte(`{"type":"message","content":"hello"}`))

	// The sender learns persistence failed, nothing more; the driver's
	// "connection refused" stays in the log.
	evt := recvEvent(t, a)
	req.Equal(ErrPersistence.Error(), evt["error"])
	req.Equal("message", evt["action"])
}

func TestDispatch_ValidationErrorsAnswerTheSenderOnly(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	env.store.addConversation(1, ConversationDirect, 10, 20)
	a := env.newSession(kindConversation, 1, 10, "a@test", "User A")
	b := env.newSession(kindConversation, 1, 20, "b@test", "User B")
	env.join(t, a)
	env.join(t, b)

	a.dispatch([]byte(`{"type":"message","content":`))
	evt := recvEvent(t, a)
	req.Equal("Invalid JSON format", evt["error"])

	a.dispatch([]byte(`{"type":"message","content":"   "}`))
	evt = recvEvent(t, a)
	req.Equal(ErrEmptyContent.Error(), evt["error"])

	assertNoEvent(t, b)
}
