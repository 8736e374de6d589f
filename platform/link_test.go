package platform_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenvoi/thenvoi-go/platform"
	"github.com/thenvoi/thenvoi-go/thenvoitest"
)

const testAPIKey = "key-123"

var serverAgent = platform.Agent{ID: "agent-1", Name: "Helper"}

func newConnectedLink(t *testing.T, srv *thenvoitest.Server) *platform.Link {
	t.Helper()
	link := platform.NewLink(
		platform.Credentials{AgentID: serverAgent.ID, APIKey: testAPIKey},
		srv.Config(),
	)
	t.Cleanup(func() { link.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, link.Connect(ctx))
	return link
}

func TestLinkConnectAndReceive(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()

	events := make(chan platform.Event, 8)
	link := platform.NewLink(
		platform.Credentials{AgentID: serverAgent.ID, APIKey: testAPIKey},
		srv.Config(),
	)
	defer link.Close()
	link.OnEvent(func(ev platform.Event) { events <- ev })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, link.Connect(ctx))
	assert.True(t, link.Connected())

	// The server registers the connection just after the handshake reply, so
	// the first delivery may need a retry.
	m1 := platform.Message{ID: "m1", RoomID: "r1", Content: "one"}
	require.Eventually(t, func() bool {
		return srv.DeliverMessage("d1", m1)
	}, 2*time.Second, 10*time.Millisecond)
	srv.DeliverMessage("d2", platform.Message{ID: "m2", RoomID: "r1", Content: "two"})

	ev1 := <-events
	ev2 := <-events
	assert.Equal(t, "d1", ev1.DeliveryID)
	assert.Equal(t, "d2", ev2.DeliveryID)

	decoded, err := ev1.Message()
	require.NoError(t, err)
	assert.Equal(t, "one", decoded.Content)
}

func TestLinkAuthRejected(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()
	srv.RejectAuth = true

	link := platform.NewLink(
		platform.Credentials{AgentID: serverAgent.ID, APIKey: testAPIKey},
		srv.Config(),
	)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := link.Connect(ctx)
	require.ErrorIs(t, err, platform.ErrAuth)
	assert.False(t, link.Connected())
}

func TestLinkWrongKeyRejected(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()

	link := platform.NewLink(
		platform.Credentials{AgentID: serverAgent.ID, APIKey: "wrong"},
		srv.Config(),
	)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.ErrorIs(t, link.Connect(ctx), platform.ErrAuth)
}

func TestLinkSendAcked(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()
	link := newConnectedLink(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := link.Send(ctx, "r1", platform.MessageRequest{
		Content:  "hello",
		Mentions: []platform.Mention{{ID: "u1", Name: "Ada"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id, "ack carries the platform message id")

	frames := srv.Received()
	require.Len(t, frames, 1)
	assert.Equal(t, platform.KindMessage, frames[0].Kind)
	assert.Equal(t, "r1", frames[0].RoomID)
	assert.Empty(t, srv.RESTSent(), "acked websocket send must not touch REST")
}

func TestLinkSendFallsBackToREST(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()

	// Never connected: the channel is down, so Send goes through REST.
	link := platform.NewLink(
		platform.Credentials{AgentID: serverAgent.ID, APIKey: testAPIKey},
		srv.Config(),
	)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := link.Send(ctx, "r1", platform.MessageRequest{
		Content:  "offline hello",
		Mentions: []platform.Mention{{ID: "u1", Name: "Ada"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sent := srv.RESTSent()
	require.Len(t, sent, 1)
	assert.Equal(t, "r1", sent[0].RoomID)
	assert.Equal(t, "offline hello", sent[0].Req.Content)
}

func TestLinkSendUnblocksWhenAckLost(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()
	srv.SuppressAcks = true
	link := newConnectedLink(t, srv)

	errCh := make(chan error, 1)
	go func() {
		_, err := link.Send(context.Background(), "r1", platform.MessageRequest{
			Content:  "into the void",
			Mentions: []platform.Mention{{ID: "u1", Name: "Ada"}},
		})
		errCh <- err
	}()

	// The frame reaches the server, which never acks; then the connection
	// dies with the send still waiting.
	require.Eventually(t, func() bool { return len(srv.Received()) == 1 },
		2*time.Second, 10*time.Millisecond)
	srv.DropConnection()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, platform.ErrNotConnected)
	case <-time.After(3 * time.Second):
		t.Fatal("send stayed blocked after the connection dropped")
	}
}

func TestLinkReconnects(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()

	var mu sync.Mutex
	reconnects := 0
	link := platform.NewLink(
		platform.Credentials{AgentID: serverAgent.ID, APIKey: testAPIKey},
		srv.Config(),
	)
	defer link.Close()
	link.OnReconnect(func() {
		mu.Lock()
		reconnects++
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, link.Connect(ctx))
	require.Eventually(t, func() bool { return srv.Connects() == 1 },
		2*time.Second, 10*time.Millisecond)

	srv.DropConnection()

	require.Eventually(t, func() bool { return srv.Connects() == 2 },
		5*time.Second, 20*time.Millisecond, "link never re-established the channel")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reconnects == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, link.Connected())
}

func TestLinkCloseIdempotent(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()
	link := newConnectedLink(t, srv)

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())
	assert.False(t, link.Connected())
}
