// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/ShotPipelineMCP/internal/storage"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// ProjectWebSocket 订阅项目的摄取诊断流
func (h *Handler) ProjectWebSocket(c *gin.Context) {
	project := storage.Slug(c.Param("project"))
	userID, _ := GetUserFromContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	client := newWebSocketClient(conn, project, userID)
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}

	go h.handleWebSocketWrites(client)
	h.handleWebSocketReads(client)
	h.Hub.Unregister(client)
}

// handleWebSocketReads 读取客户端消息直到连接断开
func (h *Handler) handleWebSocketReads(client *WebSocketClient) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.Hub.pingTimeout))
	conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return conn.SetReadDeadline(time.Now().Add(h.Hub.pingTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket 读取结束", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		client.UpdatePing()
		_ = conn.SetReadDeadline(time.Now().Add(h.Hub.pingTimeout))

		var message map[string]interface{}
		if err := json.Unmarshal(data, &message); err != nil {
			continue
		}
		if msgType, _ := message["type"].(string); msgType == "ping" {
			client.SendMessage(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Unix(),
			})
		}
	}
}

// handleWebSocketWrites 发送队列中的消息并定期 ping；队列关闭后关闭连接
func (h *Handler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// GetWebSocketStatus 获取 WebSocket 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := h.Hub.GetStatus()
	status["timestamp"] = time.Now().Format(time.RFC3339)
	h.Response.Success(c, status)
}
