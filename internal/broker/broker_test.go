package broker

import (
	"context"
	"testing"
	"time"

	"github.com/DoyleJ11/quizroom-backend/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, c *Conn, within time.Duration) types.Message {
	t.Helper()
	select {
	case data, ok := <-c.Outbox:
		if !ok {
			t.Fatalf("outbox of %s closed unexpectedly", c.Role)
		}
		msg, err := types.Decode(data)
		require.NoError(t, err)
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame on %s", c.Role)
		return nil
	}
}

func recvNoFrame(t *testing.T, c *Conn, within time.Duration) {
	t.Helper()
	select {
	case data, ok := <-c.Outbox:
		if !ok {
			return
		}
		t.Fatalf("expected no frame within %v, got %s", within, data)
	case <-time.After(within):
	}
}

func recvClosed(t *testing.T, c *Conn, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-c.Outbox:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("outbox of %s was not closed", c.Role)
		}
	}
}

func encode(t *testing.T, m types.Message) []byte {
	t.Helper()
	data, err := types.Encode(m)
	require.NoError(t, err)
	return data
}

func newTestBroker(t *testing.T, opts Options) *Broker {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, opts)
}

func hostRoom(t *testing.T, b *Broker, code string) *Conn {
	t.Helper()
	host := NewConn(types.RoleHost, code, 8)
	require.NoError(t, b.CreateRoom(context.Background(), host))
	return host
}

func join(t *testing.T, b *Broker, code, playerID string) *Conn {
	t.Helper()
	c := NewConn(types.RolePlayer, code, 8)
	b.Inbox() <- FromPlayer{Conn: c, Data: encode(t, types.Join{PlayerID: playerID, Name: playerID})}
	return c
}

func TestBroker_CreateRoom_RejectsDuplicateCode(t *testing.T) {
	b := newTestBroker(t, Options{})
	hostRoom(t, b, "123456")

	err := b.CreateRoom(context.Background(), NewConn(types.RoleHost, "123456", 8))
	require.ErrorIs(t, err, ErrDuplicateRoomCode)
	code, ok := types.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, types.CodeDuplicateRoomCode, code)

	exists, err := b.RoomExists(context.Background(), "123456")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestBroker_JoinForwardsToHostOnly(t *testing.T) {
	b := newTestBroker(t, Options{})
	host := hostRoom(t, b, "123456")
	alex := join(t, b, "123456", "alex")

	got := recvFrame(t, host, 200*time.Millisecond)
	require.Equal(t, types.Join{PlayerID: "alex", Name: "alex"}, got)

	sam := join(t, b, "123456", "sam")
	recvFrame(t, host, 200*time.Millisecond)
	recvNoFrame(t, alex, 50*time.Millisecond)
	recvNoFrame(t, sam, 20*time.Millisecond)

	st, err := b.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Rooms: 1, Players: 2}, st)
}

func TestBroker_JoinUnknownRoomReturnsError(t *testing.T) {
	b := newTestBroker(t, Options{})
	c := join(t, b, "999999", "alex")

	got := recvFrame(t, c, 200*time.Millisecond)
	errMsg, ok := got.(types.Error)
	require.True(t, ok, "want ERROR, got %T", got)
	require.Equal(t, types.CodeRoomNotFound, errMsg.Code)
}

func TestBroker_HostBroadcastReachesPlayersNotHost(t *testing.T) {
	b := newTestBroker(t, Options{})
	host := hostRoom(t, b, "123456")
	alex := join(t, b, "123456", "alex")
	sam := join(t, b, "123456", "sam")
	recvFrame(t, host, 200*time.Millisecond)
	recvFrame(t, host, 200*time.Millisecond)

	update := types.StateUpdate{Version: 1, Phase: "QUESTION"}
	b.Inbox() <- FromHost{Conn: host, Data: encode(t, update)}

	require.Equal(t, update, recvFrame(t, alex, 200*time.Millisecond))
	require.Equal(t, update, recvFrame(t, sam, 200*time.Millisecond))
	recvNoFrame(t, host, 50*time.Millisecond)
}

func TestBroker_DropsUnjoinedAndForeignTraffic(t *testing.T) {
	b := newTestBroker(t, Options{})
	host := hostRoom(t, b, "123456")

	lurker := NewConn(types.RolePlayer, "123456", 8)
	b.Inbox() <- FromPlayer{Conn: lurker, Data: encode(t, types.Answer{PlayerID: "x", OptionIndex: 1})}
	b.Inbox() <- FromPlayer{Conn: lurker, Data: []byte(`not json`)}

	impostor := NewConn(types.RoleHost, "123456", 8)
	alex := join(t, b, "123456", "alex")
	recvFrame(t, host, 200*time.Millisecond) // alex's join
	b.Inbox() <- FromHost{Conn: impostor, Data: encode(t, types.StateUpdate{Version: 9, Phase: "PODIUM"})}

	recvNoFrame(t, host, 50*time.Millisecond)
	recvNoFrame(t, alex, 50*time.Millisecond)
}

func TestBroker_HostDisconnectClosesRoom(t *testing.T) {
	b := newTestBroker(t, Options{})
	host := hostRoom(t, b, "123456")
	alex := join(t, b, "123456", "alex")
	recvFrame(t, host, 200*time.Millisecond)

	b.Inbox() <- Disconnect{Conn: host}

	got := recvFrame(t, alex, 200*time.Millisecond)
	require.Equal(t, types.CodeHostDisconnected, got.(types.Error).Code)
	recvClosed(t, alex, 200*time.Millisecond)

	exists, err := b.RoomExists(context.Background(), "123456")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestBroker_PlayerDisconnectKeepsRoom(t *testing.T) {
	b := newTestBroker(t, Options{})
	host := hostRoom(t, b, "123456")
	alex := join(t, b, "123456", "alex")
	sam := join(t, b, "123456", "sam")
	recvFrame(t, host, 200*time.Millisecond)
	recvFrame(t, host, 200*time.Millisecond)

	b.Inbox() <- Disconnect{Conn: alex}
	recvClosed(t, alex, 200*time.Millisecond)

	b.Inbox() <- FromHost{Conn: host, Data: encode(t, types.StateUpdate{Version: 2, Phase: "LOBBY"})}
	recvFrame(t, sam, 200*time.Millisecond)

	st, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Rooms: 1, Players: 1}, st)
}

func TestBroker_EvictsSlowPlayer(t *testing.T) {
	b := newTestBroker(t, Options{})
	host := hostRoom(t, b, "123456")
	slow := NewConn(types.RolePlayer, "123456", 1)
	b.Inbox() <- FromPlayer{Conn: slow, Data: encode(t, types.Join{PlayerID: "slow", Name: "Slow"})}
	recvFrame(t, host, 200*time.Millisecond)

	for v := 1; v <= 3; v++ {
		b.Inbox() <- FromHost{Conn: host, Data: encode(t, types.StateUpdate{Version: v, Phase: "LOBBY"})}
	}

	st, err := b.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, st.Players)
	recvClosed(t, slow, 200*time.Millisecond)
}

func TestBroker_EvictedPlayerCannotRejoin(t *testing.T) {
	b := newTestBroker(t, Options{})
	host := hostRoom(t, b, "123456")
	slow := NewConn(types.RolePlayer, "123456", 1)
	joinMsg := encode(t, types.Join{PlayerID: "slow", Name: "Slow"})
	b.Inbox() <- FromPlayer{Conn: slow, Data: joinMsg}
	recvFrame(t, host, 200*time.Millisecond)

	for v := 1; v <= 3; v++ {
		b.Inbox() <- FromHost{Conn: host, Data: encode(t, types.StateUpdate{Version: v, Phase: "LOBBY"})}
	}
	recvClosed(t, slow, 200*time.Millisecond)

	// A retransmitted JOIN on the same connection is ignored.
	b.Inbox() <- FromPlayer{Conn: slow, Data: joinMsg}
	recvNoFrame(t, host, 50*time.Millisecond)
	b.Inbox() <- FromHost{Conn: host, Data: encode(t, types.StateUpdate{Version: 4, Phase: "LOBBY"})}

	st, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Rooms: 1, Players: 0}, st)

	fresh := join(t, b, "123456", "slow")
	recvFrame(t, host, 200*time.Millisecond)
	b.Inbox() <- FromHost{Conn: host, Data: encode(t, types.StateUpdate{Version: 5, Phase: "LOBBY"})}
	got := recvFrame(t, fresh, 200*time.Millisecond)
	assert.Equal(t, 5, got.(types.StateUpdate).Version)
}

func TestBroker_SweepExpiresIdleRooms(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newTestBroker(t, Options{Clock: clock, RoomTTL: time.Hour})
	idle := hostRoom(t, b, "111111")
	busy := hostRoom(t, b, "222222")

	clock.Advance(50 * time.Minute)
	join(t, b, "222222", "alex")
	recvFrame(t, busy, 200*time.Millisecond)

	clock.Advance(20 * time.Minute)
	b.Inbox() <- Sweep{}

	got := recvFrame(t, idle, 200*time.Millisecond)
	require.Equal(t, types.CodeRoomClosed, got.(types.Error).Code)
	recvClosed(t, idle, 200*time.Millisecond)

	exists, err := b.RoomExists(context.Background(), "222222")
	require.NoError(t, err)
	require.True(t, exists, "recent activity keeps a room alive")
}

func TestBroker_ShutdownClosesEverything(t *testing.T) {
	b := newTestBroker(t, Options{})
	host := hostRoom(t, b, "123456")

	b.Inbox() <- Shutdown{}
	recvClosed(t, host, 200*time.Millisecond)

	select {
	case <-b.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("broker did not stop")
	}
	_, err := b.RoomExists(context.Background(), "123456")
	require.ErrorIs(t, err, ErrClosed)
}
