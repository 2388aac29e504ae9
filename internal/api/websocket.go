// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/gorilla/websocket"
)

// WebSocketConnection is the part of *websocket.Conn the hub uses.
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient is one subscriber to a discussion session.
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	userID    string
	send      chan []byte
	closed    int32 // 0 open, 1 closed
	lastPing  atomic.Int64
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection, sessionID, userID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		send:      make(chan []byte, 64),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close closes the connection once. The send channel is left to the writer.
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) && client.conn != nil {
		client.conn.Close()
	}
}

func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired reports whether no pong arrived within timeout.
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue queues msg without blocking; a full queue drops the message.
func (client *WebSocketClient) enqueue(msg []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// SessionEvent is the message pushed to websocket subscribers.
type SessionEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// DiscussionHub fans session events out to websocket subscribers. It
// implements services.SessionNotifier.
type DiscussionHub struct {
	mutex       sync.RWMutex
	connections map[string]map[*WebSocketClient]struct{} // session id -> clients
	pingTimeout time.Duration
	upgrader    websocket.Upgrader
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewDiscussionHub creates a hub. allowedOrigins restricts the upgrade; an
// empty list or "*" accepts any origin.
func NewDiscussionHub(allowedOrigins []string) *DiscussionHub {
	hub := &DiscussionHub{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		pingTimeout: 60 * time.Second,
		stop:        make(chan struct{}),
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return hub
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set[origin]
	}
}

// Run removes expired clients until Close is called.
func (hub *DiscussionHub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hub.cleanupExpiredConnections()
		case <-hub.stop:
			hub.shutdown()
			return
		}
	}
}

// Close disconnects every client and stops Run.
func (hub *DiscussionHub) Close() {
	hub.stopOnce.Do(func() { close(hub.stop) })
}

func (hub *DiscussionHub) register(client *WebSocketClient) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	if hub.connections[client.sessionID] == nil {
		hub.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	hub.connections[client.sessionID][client] = struct{}{}

	utils.GetLogger().Debug("websocket client connected", map[string]interface{}{
		"session_id": client.sessionID,
		"user_id":    client.userID,
	})
}

func (hub *DiscussionHub) unregister(client *WebSocketClient) {
	hub.mutex.Lock()
	if clients, ok := hub.connections[client.sessionID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(hub.connections, client.sessionID)
		}
	}
	hub.mutex.Unlock()
	client.Close()
}

func (hub *DiscussionHub) cleanupExpiredConnections() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for sessionID, clients := range hub.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
				delete(clients, client)
				client.Close()
			}
		}
		if len(clients) == 0 {
			delete(hub.connections, sessionID)
		}
	}
}

func (hub *DiscussionHub) shutdown() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for _, clients := range hub.connections {
		for client := range clients {
			client.Close()
		}
	}
	hub.connections = make(map[string]map[*WebSocketClient]struct{})
}

// NotifySession pushes an event to every subscriber of sessionID. Slow
// subscribers whose queue is full are disconnected.
func (hub *DiscussionHub) NotifySession(sessionID, event string, payload interface{}) {
	msg, err := json.Marshal(SessionEvent{
		Type:      event,
		SessionID: sessionID,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		utils.GetLogger().Error("failed to encode session event", map[string]interface{}{
			"session_id": sessionID,
			"event":      event,
			"error":      err.Error(),
		})
		return
	}

	hub.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(hub.connections[sessionID]))
	for client := range hub.connections[sessionID] {
		clients = append(clients, client)
	}
	hub.mutex.RUnlock()

	for _, client := range clients {
		if !client.enqueue(msg) && !client.IsClosed() {
			utils.GetLogger().Warn("websocket queue full, dropping client", map[string]interface{}{
				"session_id": sessionID,
				"user_id":    client.userID,
			})
			hub.unregister(client)
		}
	}
}

// ClientCount returns the number of subscribers of sessionID.
func (hub *DiscussionHub) ClientCount(sessionID string) int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.connections[sessionID])
}

// GetStatus summarizes the hub for the metrics endpoint.
func (hub *DiscussionHub) GetStatus() map[string]interface{} {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	total := 0
	for _, clients := range hub.connections {
		total += len(clients)
	}
	return map[string]interface{}{
		"sessions":             len(hub.connections),
		"total_connections":    total,
		"ping_timeout_seconds": int(hub.pingTimeout.Seconds()),
	}
}
