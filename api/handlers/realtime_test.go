package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindhaven/counseling-api/api/handlers"
	"github.com/mindhaven/counseling-api/models"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForRoom(t *testing.T, hub *handlers.ChatHub, room string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.RoomSize(room) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("room %q never reached %d subscribers", room, want)
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var payload map[string]interface{}
	require.NoError(t, conn.ReadJSON(&payload))
	return payload
}

func TestChatHubDeliversRoomEvents(t *testing.T) {
	hub := handlers.NewChatHub("", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleChatWebSocket))
	defer srv.Close()

	sessionID := primitive.NewObjectID().Hex()
	conn := dialHub(t, srv, "?anonymousId=anon-1")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event":     "join",
		"sessionId": sessionID,
	}))
	waitForRoom(t, hub, sessionID, 1)

	hub.EmitNewMessage(sessionID, models.ChatMessage{Content: "hello", Sender: models.SenderCounselor})

	payload := readEvent(t, conn)
	assert.Equal(t, handlers.EventNewMessage, payload["event"])

	data := payload["data"].(map[string]interface{})
	assert.Equal(t, sessionID, data["sessionId"])
}

func TestChatHubLeaveStopsRoomDelivery(t *testing.T) {
	hub := handlers.NewChatHub("", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleChatWebSocket))
	defer srv.Close()

	sessionID := primitive.NewObjectID().Hex()
	conn := dialHub(t, srv, "?anonymousId=anon-1")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": "join", "sessionId": sessionID}))
	waitForRoom(t, hub, sessionID, 1)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": "leave", "sessionId": sessionID}))
	waitForRoom(t, hub, sessionID, 0)
}

func TestChatHubDeliversPersonalEvents(t *testing.T) {
	hub := handlers.NewChatHub("", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleChatWebSocket))
	defer srv.Close()

	conn := dialHub(t, srv, "?anonymousId=anon-1")

	// the personal channel registers at handshake, no join needed; give
	// the server a moment to finish the upgrade
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.EmitChatDeleted("sess-1", "anon-1", "")
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		var payload map[string]interface{}
		if err := conn.ReadJSON(&payload); err == nil {
			assert.Equal(t, handlers.EventChatDeleted, payload["event"])
			return
		}
	}
	t.Fatal("personal event never arrived")
}

func TestChatHubCounselorJoinsLobby(t *testing.T) {
	verify := func(r *http.Request) (models.Principal, error) {
		return models.Principal{Kind: models.PrincipalCounselor, UserID: "c1"}, nil
	}
	hub := handlers.NewChatHub("", verify)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleChatWebSocket))
	defer srv.Close()

	conn := dialHub(t, srv, "?token=abc123")
	waitForRoom(t, hub, "counselors", 1)

	hub.EmitNewChat("anon-1", models.ChatSessionSummary{
		ID:       primitive.NewObjectID(),
		Category: models.CategoryPersonal,
		Status:   models.StatusUnassigned,
	})

	payload := readEvent(t, conn)
	assert.Equal(t, handlers.EventNewChat, payload["event"])
}

func TestChatHubClosesConnectionsWithoutIdentity(t *testing.T) {
	hub := handlers.NewChatHub("", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleChatWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestChatHubRejectsForeignOrigins(t *testing.T) {
	hub := handlers.NewChatHub("https://app.mindhaven.app", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleChatWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?anonymousId=anon-1"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
