package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), out: make(chan []byte, 32), closed: make(chan struct{})}
}

func (f *fakeConn) SetReadLimit(int64)                     {}
func (f *fakeConn) SetReadDeadline(time.Time) error        { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error       { return nil }
func (f *fakeConn) SetPongHandler(func(appData string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.in:
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case <-f.closed:
		return errors.New("closed")
	case f.out <- data:
		return nil
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func receiveEnvelope(t *testing.T, conn *fakeConn) models.WSEnvelope {
	t.Helper()
	select {
	case raw := <-conn.out:
		var env models.WSEnvelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return models.WSEnvelope{}
}

func assertNoFrame(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case raw := <-conn.out:
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func join(t *testing.T, hub *Hub, room string, id models.Identity, want int) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	require.NotNil(t, hub.Serve(conn, room, id))
	assert.Eventually(t, func() bool { return hub.RoomSize(room) == want }, time.Second, 5*time.Millisecond)
	return conn
}

func TestPublishChange_ReachesOnlyScopeRoom(t *testing.T) {
	hub := startHub(t)
	team := models.TeamScope(3, 9)
	general := models.GeneralScope(3)

	alice := join(t, hub, team.ChannelKey(), models.Identity{ID: 1, DisplayName: "Alice"}, 1)
	bob := join(t, hub, team.ChannelKey(), models.Identity{ID: 2, DisplayName: "Bob"}, 2)
	carol := join(t, hub, general.ChannelKey(), models.Identity{ID: 3, DisplayName: "Carol"}, 1)

	hub.PublishChange(models.ChangeEvent{
		Type:      models.ChangeInsert,
		Scope:     team,
		MessageID: "m1",
		Message:   &models.ChatMessage{ID: "m1", Scope: team, Body: "team only", Kind: models.KindText},
	})

	for _, conn := range []*fakeConn{alice, bob} {
		env := receiveEnvelope(t, conn)
		assert.Equal(t, models.EnvelopeChange, env.Type)
		assert.Equal(t, "tournament_3_9", env.RoomID)

		var ev models.ChangeEvent
		require.NoError(t, json.Unmarshal(env.Payload, &ev))
		assert.Equal(t, models.ChangeInsert, ev.Type)
		assert.Equal(t, "team only", ev.Message.Body)
		assert.False(t, ev.At.IsZero())
	}
	assertNoFrame(t, carol)
}

func TestTypingFrame_RelayedToOthersWithServerIdentity(t *testing.T) {
	hub := startHub(t)
	room := models.GeneralScope(5).ChannelKey()

	alice := join(t, hub, room, models.Identity{ID: 1, DisplayName: "Alice"}, 1)
	bob := join(t, hub, room, models.Identity{ID: 2, DisplayName: "Bob"}, 2)

	payload, _ := json.Marshal(models.BroadcastEvent{Event: models.BroadcastTyping, UserID: 99, DisplayName: "Mallory", Typing: true})
	frame, _ := json.Marshal(models.WSEnvelope{Type: models.EnvelopeBroadcast, Payload: payload})
	alice.in <- frame

	env := receiveEnvelope(t, bob)
	assert.Equal(t, models.EnvelopeBroadcast, env.Type)
	var ev models.BroadcastEvent
	require.NoError(t, json.Unmarshal(env.Payload, &ev))
	assert.Equal(t, 1, ev.UserID)
	assert.Equal(t, "Alice", ev.DisplayName)
	assert.True(t, ev.Typing)

	assertNoFrame(t, alice)
}

func TestClientFrames_OtherThanTypingIgnored(t *testing.T) {
	hub := startHub(t)
	room := models.GeneralScope(5).ChannelKey()

	alice := join(t, hub, room, models.Identity{ID: 1}, 1)
	bob := join(t, hub, room, models.Identity{ID: 2}, 2)

	payload, _ := json.Marshal(models.ChangeEvent{Type: models.ChangeDelete, MessageID: "m1"})
	frame, _ := json.Marshal(models.WSEnvelope{Type: models.EnvelopeChange, Payload: payload})
	alice.in <- frame
	alice.in <- []byte("not json")

	assertNoFrame(t, bob)
}

func TestDisconnect_RemovesClientAndEmptyRoom(t *testing.T) {
	hub := startHub(t)
	room := models.GeneralScope(8).ChannelKey()

	alice := join(t, hub, room, models.Identity{ID: 1}, 1)
	alice.Close()

	assert.Eventually(t, func() bool { return hub.RoomSize(room) == 0 }, time.Second, 5*time.Millisecond)
}

func TestServe_AfterShutdownReturnsNil(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	conn := newFakeConn()
	assert.Nil(t, hub.Serve(conn, "tournament_1_general", models.Identity{ID: 1}))
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection was not closed")
	}
}
