package hub

import (
	"context"
	"testing"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/broker"
	"github.com/DoyleJ11/quizroom-backend/internal/catalog"
	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/DoyleJ11/quizroom-backend/internal/session"
	"github.com/DoyleJ11/quizroom-backend/internal/transport"
	"github.com/DoyleJ11/quizroom-backend/internal/transport/relay"
	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = catalog.Static{
	"geography": {
		{ID: "g1", Prompt: "Capital of France?", Options: []string{"Berlin", "Paris"}, CorrectIndex: 1},
		{ID: "g2", Prompt: "Longest river?", Options: []string{"Nile", "Rhine"}, CorrectIndex: 0},
	},
}

func newHub(t *testing.T) (*Hub, *broker.Broker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	b := broker.New(ctx, broker.Options{})
	return NewHub(ctx, Options{Broker: b, Catalog: testCatalog}), b
}

func request() Request {
	return Request{Subject: "geography", Settings: engine.DefaultSettings(), Transport: transport.KindRelay}
}

func recvMsg(t *testing.T, ch <-chan types.Message) types.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	ctx := context.Background()
	h, b := newHub(t)

	room, err := h.CreateRoom(ctx, request())
	require.NoError(t, err)
	require.True(t, session.ValidCode(room.Code()))
	require.Len(t, room.Code(), session.CodeLength)

	got, err := h.GetRoom(ctx, room.Code())
	require.NoError(t, err)
	require.Same(t, room, got)

	exists, err := b.RoomExists(ctx, room.Code())
	require.NoError(t, err)
	require.True(t, exists, "relay rooms are registered with the broker")

	view, err := room.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, view.State.QuestionCount)
	assert.Equal(t, "LOBBY", view.State.Phase)
}

func TestHub_RelayRoomServesRemotePlayers(t *testing.T) {
	ctx := context.Background()
	h, b := newHub(t)
	room, err := h.CreateRoom(ctx, request())
	require.NoError(t, err)

	player, err := relay.Attach(ctx, b, types.RolePlayer, room.Code(), nil)
	require.NoError(t, err)
	defer player.Close()
	in := make(chan types.Message, 16)
	player.OnMessage(func(_ string, m types.Message) { in <- m })

	require.NoError(t, player.Publish(ctx, room.Code(), types.Join{PlayerID: "p-alex", Name: "Alex"}))
	update := recvMsg(t, in).(types.StateUpdate)
	require.Len(t, update.Roster, 1)
	assert.Equal(t, "Alex", update.Roster[0].Name)

	require.NoError(t, h.RemoveRoom(ctx, room.Code()))
	require.Equal(t, types.CodeHostDisconnected, recvMsg(t, in).(types.Error).Code)

	_, err = h.GetRoom(ctx, room.Code())
	require.ErrorIs(t, err, broker.ErrRoomNotFound)
	require.ErrorIs(t, h.RemoveRoom(ctx, room.Code()), broker.ErrRoomNotFound)
}

func TestHub_SeatsBots(t *testing.T) {
	ctx := context.Background()
	h, _ := newHub(t)
	req := request()
	req.Bots = 3
	req.Transport = transport.KindLocal

	room, err := h.CreateRoom(ctx, req)
	require.NoError(t, err)
	view, err := room.State(ctx)
	require.NoError(t, err)
	require.Len(t, view.State.Roster, 3)
	for _, p := range view.State.Roster {
		assert.True(t, p.Bot)
	}
}

func TestHub_CreateRoomErrors(t *testing.T) {
	ctx := context.Background()
	h, _ := newHub(t)

	req := request()
	req.Subject = "history"
	_, err := h.CreateRoom(ctx, req)
	require.ErrorIs(t, err, catalog.ErrSubjectNotFound)

	req = request()
	req.Settings.CountdownSec = 0
	_, err = h.CreateRoom(ctx, req)
	require.ErrorIs(t, err, engine.ErrInvalidSettings)

	req = request()
	req.Transport = transport.KindNATS
	_, err = h.CreateRoom(ctx, req)
	require.ErrorIs(t, err, ErrTransportUnavailable)

	req = request()
	req.Bots = MaxBots + 1
	_, err = h.CreateRoom(ctx, req)
	require.ErrorIs(t, err, ErrTooManyBots)

	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHub_ForgetsRoomsTheBrokerClosed(t *testing.T) {
	ctx := context.Background()
	h, b := newHub(t)
	_, err := h.CreateRoom(ctx, request())
	require.NoError(t, err)

	b.Inbox() <- broker.Shutdown{}

	require.Eventually(t, func() bool {
		n, err := h.Count(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_Shutdown(t *testing.T) {
	ctx := context.Background()
	h, _ := newHub(t)
	room, err := h.CreateRoom(ctx, request())
	require.NoError(t, err)

	require.NoError(t, h.Shutdown(ctx))
	<-room.Done()

	_, err = h.Count(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, h.Shutdown(ctx), "shutting down twice is harmless")
}

func TestBotName(t *testing.T) {
	assert.Equal(t, "Ada (bot)", BotName(0))
	assert.Equal(t, "Jolt (bot)", BotName(9))
	assert.Equal(t, "Ada 2 (bot)", BotName(10))
}
