package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/logger"
)

func newSendOnlyClient(buffer int) *Client {
	cfg := *NewConfig()
	cfg.SendBuffer = buffer
	return NewClient(nil, "test", cfg, logger.Discard())
}

// TestClientSendQueuesPayload verifies Send hands payloads to the write side
// in order.
func TestClientSendQueuesPayload(t *testing.T) {
	c := newSendOnlyClient(4)
	assert.NotEmpty(t, c.ID())

	require.NoError(t, c.Send([]byte("one")))
	require.NoError(t, c.Send([]byte("two")))

	assert.Equal(t, "one", string(<-c.SendChan()))
	assert.Equal(t, "two", string(<-c.SendChan()))
}

// TestClientSlowConsumer verifies a full buffer closes the client instead of
// blocking the sender.
func TestClientSlowConsumer(t *testing.T) {
	c := newSendOnlyClient(2)

	require.NoError(t, c.Send([]byte("a")))
	require.NoError(t, c.Send([]byte("b")))
	assert.ErrorIs(t, c.Send([]byte("c")), ErrSlowConsumer)
	assert.ErrorIs(t, c.Send([]byte("d")), ErrHandleClosed)

	// Queued payloads remain readable, then the channel reports closure.
	var drained []string
	for p := range c.SendChan() {
		drained = append(drained, string(p))
	}
	assert.Equal(t, []string{"a", "b"}, drained)
}

// TestClientCloseIsIdempotent verifies repeated Close calls are safe and that
// a closed client rejects sends.
func TestClientCloseIsIdempotent(t *testing.T) {
	c := newSendOnlyClient(1)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send([]byte("late")), ErrHandleClosed)
	_, open := <-c.SendChan()
	assert.False(t, open)
}

// TestClientIDsAreUnique verifies each client gets its own identity.
func TestClientIDsAreUnique(t *testing.T) {
	a, b := newSendOnlyClient(1), newSendOnlyClient(1)
	assert.NotEqual(t, a.ID(), b.ID())
}

// TestBroadcastDisconnectsSlowClient verifies a stalled client is dropped by
// a broadcast while the other members still receive it.
func TestBroadcastDisconnectsSlowClient(t *testing.T) {
	reg := newTestRegistry()
	stalled := newSendOnlyClient(1)
	healthy := newFakeHandle("healthy")
	reg.Join(1, stalled)
	reg.Join(1, healthy)

	reg.Broadcast(Message{RoomID: 1, SenderID: 2, Text: "first"})
	n := reg.Broadcast(Message{RoomID: 1, SenderID: 2, Text: "second"})

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"User 2: first", "User 2: second"}, healthy.messages())
	assert.ErrorIs(t, stalled.Send([]byte("x")), ErrHandleClosed)
}
