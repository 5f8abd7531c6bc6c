package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mindhaven/counseling-api/models"
)

// Socket event names emitted to clients.
const (
	EventNewChat     = "newChat"
	EventNewMessage  = "newMessage"
	EventChatDeleted = "chatDeleted"
)

// counselorLobby is the implicit room every authenticated counselor
// socket joins at handshake so new unassigned sessions reach counselors
// before any room subscription exists.
const counselorLobby = "counselors"

const redisEventChannel = "chat:events"

// SocketVerifier resolves an optional bearer credential presented at the
// websocket handshake. A nil verifier (or a failed verification) leaves
// the connection on the anonymous path.
type SocketVerifier func(r *http.Request) (models.Principal, error)

type chatClient struct {
	id       string
	identity string
	conn     *websocket.Conn
	rooms    map[string]bool
}

type hubEvent struct {
	Event    string      `json:"event"`
	Room     string      `json:"room,omitempty"`
	Personal []string    `json:"personal,omitempty"`
	Data     interface{} `json:"data"`
}

type inboundSocketMessage struct {
	Event     string      `json:"event"`
	SessionID string      `json:"sessionId"`
	Message   interface{} `json:"message,omitempty"`
}

// ChatHub fans chat events out to connected sockets. Delivery is
// at-most-once and best effort: no subscriber, no delivery. The hub is
// constructed once at startup and handed to the chat handlers; a write
// never fails because the hub is down.
//
// Known gap carried over from the session model: joining a room is not
// re-validated against the session's anonymous binding at the transport
// layer. The HTTP path is the only authorized read surface.
type ChatHub struct {
	upgrader websocket.Upgrader
	verify   SocketVerifier

	mu       sync.Mutex
	rooms    map[string]map[*chatClient]bool
	personal map[string]map[*chatClient]bool

	rdb *redis.Client
}

// NewChatHub builds a hub. allowedOrigin restricts handshake origins
// (empty allows all); verify optionally authenticates counselor sockets.
func NewChatHub(allowedOrigin string, verify SocketVerifier) *ChatHub {
	return &ChatHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		verify:   verify,
		rooms:    make(map[string]map[*chatClient]bool),
		personal: make(map[string]map[*chatClient]bool),
	}
}

// EnableRedisBridge routes emitted events through a Redis channel so
// every instance subscribed to it delivers to its local sockets. Local
// delivery then happens exclusively on the subscriber side.
func (h *ChatHub) EnableRedisBridge(rdb *redis.Client) {
	h.rdb = rdb
	go h.subscribe()
}

func (h *ChatHub) subscribe() {
	sub := h.rdb.Subscribe(context.Background(), redisEventChannel)
	for msg := range sub.Channel() {
		var evt hubEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			zap.S().Warnw("failed to decode bridged chat event", "error", err)
			continue
		}
		h.deliver(evt)
	}
}

// HandleChatWebSocket upgrades the connection, registers the caller's
// personal channel and serves join/leave/send events until disconnect.
func (h *ChatHub) HandleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade failed", "error", err)
		return
	}

	client := &chatClient{
		id:    uuid.New().String(),
		conn:  conn,
		rooms: make(map[string]bool),
	}

	isCounselor := false
	if h.verify != nil && (r.Header.Get("Authorization") != "" || r.URL.Query().Get("token") != "") {
		if principal, verr := h.verify(r); verr == nil {
			client.identity = principal.UserID
			isCounselor = principal.Kind == models.PrincipalCounselor || principal.Kind == models.PrincipalAdmin
		}
	}
	if client.identity == "" {
		client.identity = r.URL.Query().Get("anonymousId")
	}
	if client.identity == "" {
		conn.Close()
		return
	}

	h.register(client)
	if isCounselor {
		h.join(client, counselorLobby)
	}
	zap.S().Debugw("chat socket connected", "clientId", client.id, "identity", client.identity)

	defer func() {
		h.unregister(client)
		conn.Close()
		zap.S().Debugw("chat socket disconnected", "clientId", client.id)
	}()

	for {
		var msg inboundSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Event {
		case "join":
			if msg.SessionID != "" {
				h.join(client, msg.SessionID)
			}
		case "leave":
			if msg.SessionID != "" {
				h.leave(client, msg.SessionID)
			}
		case "send":
			// broadcast-only relay, nothing is persisted here; the HTTP
			// append endpoint is the single write path
			if msg.SessionID != "" && msg.Message != nil {
				h.Emit(hubEvent{
					Event: EventNewMessage,
					Room:  msg.SessionID,
					Data: map[string]interface{}{
						"sessionId": msg.SessionID,
						"message":   msg.Message,
						"relayed":   true,
					},
				})
			}
		default:
			zap.S().Debugw("unknown socket event", "event", msg.Event)
		}
	}
}

func (h *ChatHub) register(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.personal[client.identity] == nil {
		h.personal[client.identity] = make(map[*chatClient]bool)
	}
	h.personal[client.identity][client] = true
}

func (h *ChatHub) unregister(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range client.rooms {
		delete(h.rooms[room], client)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	client.rooms = make(map[string]bool)
	delete(h.personal[client.identity], client)
	if len(h.personal[client.identity]) == 0 {
		delete(h.personal, client.identity)
	}
}

func (h *ChatHub) join(client *chatClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*chatClient]bool)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
}

func (h *ChatHub) leave(client *chatClient, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], client)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
	delete(client.rooms, room)
}

// Emit dispatches an event, via the Redis bridge when enabled, locally
// otherwise. Errors are logged and swallowed; realtime delivery is not
// part of any operation's success contract.
func (h *ChatHub) Emit(evt hubEvent) {
	if h == nil {
		return
	}
	if h.rdb != nil {
		b, err := json.Marshal(evt)
		if err != nil {
			zap.S().Warnw("failed to encode chat event", "event", evt.Event, "error", err)
			return
		}
		if err := h.rdb.Publish(context.Background(), redisEventChannel, b).Err(); err != nil {
			zap.S().Warnw("failed to publish chat event, delivering locally", "event", evt.Event, "error", err)
			h.deliver(evt)
		}
		return
	}
	h.deliver(evt)
}

func (h *ChatHub) deliver(evt hubEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	payload := map[string]interface{}{
		"event": evt.Event,
		"data":  evt.Data,
	}

	seen := make(map[*chatClient]bool)
	if evt.Room != "" {
		for client := range h.rooms[evt.Room] {
			h.writeTo(client, payload, seen)
		}
	}
	for _, identity := range evt.Personal {
		for client := range h.personal[identity] {
			h.writeTo(client, payload, seen)
		}
	}
}

func (h *ChatHub) writeTo(client *chatClient, payload interface{}, seen map[*chatClient]bool) {
	if seen[client] {
		return
	}
	seen[client] = true
	if err := client.conn.WriteJSON(payload); err != nil {
		zap.S().Warnw("failed to write to chat socket", "clientId", client.id, "error", err)
	}
}

// EmitNewChat notifies the creating anonymous party and the counselor
// lobby that a session was opened.
func (h *ChatHub) EmitNewChat(anonymousID string, session models.ChatSessionSummary) {
	h.Emit(hubEvent{
		Event:    EventNewChat,
		Room:     counselorLobby,
		Personal: []string{anonymousID},
		Data:     session,
	})
}

// EmitNewMessage fans a freshly appended message out to the session room.
func (h *ChatHub) EmitNewMessage(sessionID string, message interface{}) {
	h.Emit(hubEvent{
		Event: EventNewMessage,
		Room:  sessionID,
		Data: map[string]interface{}{
			"sessionId": sessionID,
			"message":   message,
		},
	})
}

// EmitChatDeleted notifies both parties' personal channels that the
// session is gone.
func (h *ChatHub) EmitChatDeleted(sessionID, anonymousID, counselorID string) {
	personal := []string{anonymousID}
	if counselorID != "" {
		personal = append(personal, counselorID)
	}
	h.Emit(hubEvent{
		Event:    EventChatDeleted,
		Personal: personal,
		Data: map[string]interface{}{
			"sessionId": sessionID,
		},
	})
}

// RoomSize reports the subscriber count for a room.
func (h *ChatHub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
