package collaboration

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relay/internal/models"
	"relay/internal/repository"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireEvent struct {
	Type    models.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

func startServer(t *testing.T, mode Mode) (*Controller, string) {
	t.Helper()
	router := NewRouter(mode, nil, nil)
	c := NewController(mode, repository.NewSessionRepository(), repository.NewGroupRepository(), router,
		WithInitialDocument("Welcome..."))
	h := NewWebSocketHandler(c, DefaultTransportConfig(), nil)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		c.Shutdown(context.Background())
		srv.Close()
	})
	return c, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readUntil(t *testing.T, conn *websocket.Conn, want models.EventType) wireEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var evt wireEvent
		require.NoError(t, json.Unmarshal(data, &evt))
		if evt.Type == want {
			return evt
		}
	}
}

func TestWebSocket_ChatRoundTrip(t *testing.T) {
	c, url := startServer(t, ModeChat)

	alice := dial(t, url)
	send(t, alice, "join", map[string]string{"displayName": "alice", "groupKey": "room1"})
	readUntil(t, alice, models.EventJoinedGroup)

	bob := dial(t, url)
	send(t, bob, "join", map[string]string{"displayName": "bob", "groupKey": "room1"})
	readUntil(t, bob, models.EventJoinedGroup)
	readUntil(t, alice, models.EventMemberJoined)

	send(t, alice, "message", map[string]any{"displayName": "alice", "body": "hi", "groupKey": "room1"})

	evt := readUntil(t, bob, models.EventChatMessage)
	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(evt.Payload, &msg))
	assert.Equal(t, "alice", msg.DisplayName)
	assert.Equal(t, "hi", msg.Body)
	assert.Equal(t, models.MessageKindOrdinary, msg.Kind)

	assert.Len(t, c.Members("room1"), 2)
}

func TestWebSocket_BadFrameIsRejected(t *testing.T) {
	_, url := startServer(t, ModeChat)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	evt := readUntil(t, conn, models.EventRejected)

	var payload models.RejectedPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload.Reason, "unknown request type")

	// The connection survives a rejected frame
	send(t, conn, "join", map[string]string{"displayName": "alice", "groupKey": "room1"})
	readUntil(t, conn, models.EventJoinedGroup)
}

func TestWebSocket_DisconnectNotifiesRoom(t *testing.T) {
	c, url := startServer(t, ModeChat)

	alice := dial(t, url)
	send(t, alice, "join", map[string]string{"displayName": "alice", "groupKey": "room1"})
	readUntil(t, alice, models.EventJoinedGroup)

	bob := dial(t, url)
	send(t, bob, "join", map[string]string{"displayName": "bob", "groupKey": "room1"})
	readUntil(t, bob, models.EventJoinedGroup)

	require.NoError(t, bob.Close())

	evt := readUntil(t, alice, models.EventMemberLeft)
	var payload models.MemberChangePayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "bob", payload.DisplayName)

	require.Eventually(t, func() bool { return len(c.Members("room1")) == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocket_DocumentSnapshotAndUpdate(t *testing.T) {
	_, url := startServer(t, ModeDocument)

	alice := dial(t, url)
	send(t, alice, "join", map[string]string{"displayName": "alice"})
	evt := readUntil(t, alice, models.EventDocumentSnapshot)

	var snap models.DocumentSnapshotPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &snap))
	assert.Equal(t, "Welcome...", snap.Content)
	require.Len(t, snap.Members, 1)
	assert.NotEmpty(t, snap.Members[0].Color)

	bob := dial(t, url)
	send(t, bob, "join", map[string]string{"displayName": "bob"})
	readUntil(t, bob, models.EventDocumentSnapshot)

	send(t, bob, "documentChange", map[string]string{"content": "Hello World"})
	evt = readUntil(t, alice, models.EventDocumentUpdated)

	var upd models.DocumentUpdatedPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &upd))
	assert.Equal(t, "Hello World", upd.Content)
}

func TestClient_SendAfterClose(t *testing.T) {
	c := newClient("c1", nil, 4)
	require.NoError(t, c.Send(models.RejectedEvent("x")))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send(models.RejectedEvent("y")), ErrConnectionClosed)
}

func TestClient_FullBufferClosesClient(t *testing.T) {
	c := newClient("c1", nil, 1)
	require.NoError(t, c.Send(models.RejectedEvent("1")))

	assert.ErrorIs(t, c.Send(models.RejectedEvent("2")), ErrSendBufferFull)
	assert.ErrorIs(t, c.Send(models.RejectedEvent("3")), ErrConnectionClosed)

	// The queued frame is still drained by the write pump
	data, ok := <-c.send
	require.True(t, ok)
	assert.Contains(t, string(data), `"rejected"`)
	_, ok = <-c.send
	assert.False(t, ok)
}

func newTestHandler(t *testing.T, mode Mode) (*Controller, *WebSocketHandler, string) {
	t.Helper()
	c := NewController(mode, repository.NewSessionRepository(), repository.NewGroupRepository(), NewRouter(mode, nil, nil))
	h := NewWebSocketHandler(c, DefaultTransportConfig(), nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return c, h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocket_ConnectionAfterShutdownIsRefused(t *testing.T) {
	c, h, url := newTestHandler(t, ModeChat)

	early := dial(t, url)
	send(t, early, "join", map[string]string{"displayName": "alice", "groupKey": "room1"})
	readUntil(t, early, models.EventJoinedGroup)

	c.Shutdown(context.Background())

	late := dial(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := late.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx), "every pump exits once the controller is shut down")
	assert.Equal(t, 0, c.Stats().Sessions)
}

func TestWebSocketHandler_WaitHonoursContext(t *testing.T) {
	c, h, url := newTestHandler(t, ModeChat)

	conn := dial(t, url)
	send(t, conn, "join", map[string]string{"displayName": "alice", "groupKey": "room1"})
	readUntil(t, conn, models.EventJoinedGroup)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.Wait(ctx), context.Canceled)

	// New connections are turned away while draining
	late := dial(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))

	c.Shutdown(context.Background())
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, h.Wait(waitCtx))
}
