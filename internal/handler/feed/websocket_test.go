package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/crm-assistant/internal/model/chat"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	r := chi.NewRouter()
	hub.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/snapshots"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) outgoingMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg outgoingMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHubReplaysLatestAndBroadcasts(t *testing.T) {
	hub := NewHub(nil)
	hub.Observe(chat.Snapshot{State: chat.StateAwaiting, Available: true})

	conn := dialHub(t, hub)

	first := readSnapshot(t, conn)
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, chat.StateAwaiting, first.Data.State)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	hub.Observe(chat.Snapshot{
		State:     chat.StateIdle,
		Available: true,
		Messages: []chat.Message{
			{ID: "u1", Role: chat.RoleUser, Text: "hi"},
			{ID: "a1", Role: chat.RoleAssistant, Text: "hello"},
		},
	})

	next := readSnapshot(t, conn)
	assert.Equal(t, chat.StateIdle, next.Data.State)
	require.Len(t, next.Data.Messages, 2)
	assert.Equal(t, "hello", next.Data.Messages[1].Text)
}

func TestHubCloseAllDisconnects(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	hub.CloseAll()
	assert.Equal(t, 0, hub.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHubDropsViewerOnDisconnect(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 10*time.Millisecond)
}
