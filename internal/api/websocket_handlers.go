// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/Corphon/ShelfTalk/internal/services"
	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// DiscussionWebSocket subscribes the caller to a session's events. The
// current snapshot is sent first so a late subscriber starts in sync.
func (h *Handler) DiscussionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	snapshot, err := h.Discussions.GetSession(sessionID)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}

	conn, err := h.Hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("websocket upgrade failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return
	}

	client := newWebSocketClient(conn, sessionID, IdentityFromContext(c).UserID)
	h.Hub.register(client)

	if msg, err := json.Marshal(SessionEvent{
		Type:      services.EventSessionState,
		SessionID: sessionID,
		Data:      snapshot,
		Timestamp: time.Now().UTC(),
	}); err == nil {
		client.enqueue(msg)
	}

	go h.Hub.writePump(client)
	h.Hub.readPump(client)
}

// readPump discards client messages and keeps the pong deadline fresh. It
// returns when the connection fails.
func (hub *DiscussionHub) readPump(client *WebSocketClient) {
	defer hub.unregister(client)

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.GetLogger().Debug("websocket read failed", map[string]interface{}{
					"session_id": client.sessionID,
					"error":      err.Error(),
				})
			}
			return
		}
		client.UpdatePing()
	}
}

// writePump drains the send queue and pings the peer.
func (hub *DiscussionHub) writePump(client *WebSocketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if client.IsClosed() {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
