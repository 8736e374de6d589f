package platform_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenvoi/thenvoi-go/platform"
	"github.com/thenvoi/thenvoi-go/thenvoitest"
)

func newTestREST(srv *thenvoitest.Server) *platform.REST {
	return platform.NewREST(srv.RESTURL(), serverAgent.ID, testAPIKey, nil)
}

func TestRESTMe(t *testing.T) {
	srv := thenvoitest.NewServer(platform.Agent{ID: "agent-1", Name: "Helper", Description: "desc"}, testAPIKey)
	defer srv.Close()

	agent, err := newTestREST(srv).Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.ID)
	assert.Equal(t, "Helper", agent.Name)
	assert.Equal(t, "desc", agent.Description)
}

func TestRESTRoomsAndContext(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()
	srv.AddRoom(platform.Room{ID: "r1", Title: "general"},
		[]platform.Participant{{ID: "u1", Name: "Ada", Type: "User"}},
		[]platform.Message{{ID: "m1", RoomID: "r1", Content: "hello"}})

	client := newTestREST(srv)
	ctx := context.Background()

	rooms, err := client.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Title)

	history, err := client.RoomContext(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)

	roster, err := client.Participants(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "Ada", roster[0].Name)
}

func TestRESTUnknownRoomIsPlatformError(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()

	_, err := newTestREST(srv).Participants(context.Background(), "nope")
	var pe *platform.PlatformError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 404, pe.StatusCode)
	assert.Equal(t, "not_found", pe.Code)
	assert.True(t, platform.IsPlatformCode(err, "not_found"))
}

func TestRESTBadKeyIsAuthError(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()

	client := platform.NewREST(srv.RESTURL(), serverAgent.ID, "wrong", nil)
	_, err := client.Me(context.Background())
	require.ErrorIs(t, err, platform.ErrAuth)
}

func TestRESTNextMessageDrainsBacklog(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()
	srv.AddRoom(platform.Room{ID: "r1"}, nil, nil)
	srv.SetBacklog("r1", []platform.Message{
		{ID: "m1", RoomID: "r1", Content: "first"},
		{ID: "m2", RoomID: "r1", Content: "second"},
	})

	client := newTestREST(srv)
	ctx := context.Background()

	m, ok, err := client.NextMessage(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m1", m.ID)

	m, ok, err = client.NextMessage(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m2", m.ID)

	// Empty backlog answers 204; that is ok=false, not an error.
	_, ok, err = client.NextMessage(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRESTMarkLifecycle(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()

	client := newTestREST(srv)
	ctx := context.Background()

	require.NoError(t, client.MarkProcessing(ctx, "r1", "m1"))
	require.NoError(t, client.MarkProcessed(ctx, "r1", "m1"))
	require.NoError(t, client.MarkFailed(ctx, "r1", "m2", "model unavailable"))

	marks := srv.Marks()
	require.Len(t, marks, 3)
	assert.Equal(t, "processing", marks[0].State)
	assert.Equal(t, "processed", marks[1].State)
	assert.Equal(t, "failed", marks[2].State)
	assert.Equal(t, "model unavailable", marks[2].Reason)
	assert.Equal(t, "m2", marks[2].MessageID)
}

func TestRESTParticipantManagement(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()
	srv.AddRoom(platform.Room{ID: "r1"},
		[]platform.Participant{{ID: "u1", Name: "Ada", Type: "User"}}, nil)

	client := newTestREST(srv)
	ctx := context.Background()

	require.NoError(t, client.AddParticipant(ctx, "r1", "u2", "member"))
	roster, err := client.Participants(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	require.NoError(t, client.RemoveParticipant(ctx, "r1", "u2"))
	roster, err = client.Participants(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, roster, 1)

	err = client.RemoveParticipant(ctx, "r1", "ghost")
	assert.True(t, platform.IsPlatformCode(err, "invalid_participant"))
}

func TestRESTPeers(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()
	srv.SetPeers([]platform.Peer{
		{ID: "p1", Name: "Research Bot", Type: "Agent"},
		{ID: "p2", Name: "Grace", Type: "User"},
	})

	page, err := newTestREST(srv).Peers(context.Background(), 1, 50, "r1")
	require.NoError(t, err)
	require.Len(t, page.Peers, 2)
	assert.Equal(t, "Research Bot", page.Peers[0].Name)
	assert.Equal(t, 1, page.Meta.TotalPages)
}

func TestRESTCreateEvent(t *testing.T) {
	srv := thenvoitest.NewServer(serverAgent, testAPIKey)
	defer srv.Close()

	m, err := newTestREST(srv).CreateEvent(context.Background(), "r1", platform.EventRequest{
		MessageType: "thought",
		Content:     "considering options",
	})
	require.NoError(t, err)
	assert.Equal(t, "considering options", m.Content)
}
