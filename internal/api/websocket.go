// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
	"github.com/Corphon/ShotPipelineMCP/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient 订阅某个项目诊断结果的连接
type WebSocketClient struct {
	conn      *websocket.Conn
	project   string
	userID    string
	send      chan []byte
	mu        sync.RWMutex
	closed    bool
	lastPing  atomic.Int64 // unix nano
	createdAt time.Time
}

func newWebSocketClient(conn *websocket.Conn, project, userID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		project:   project,
		userID:    userID,
		send:      make(chan []byte, 256),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 关闭发送队列；写协程随后关闭底层连接
func (client *WebSocketClient) Close() {
	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	client.mu.RLock()
	defer client.mu.RUnlock()
	return client.closed
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration, now time.Time) bool {
	return now.Sub(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue 非阻塞地放入发送队列；队列已满或已关闭时返回 false
func (client *WebSocketClient) enqueue(msg []byte) bool {
	client.mu.RLock()
	defer client.mu.RUnlock()
	if client.closed {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// SendMessage 序列化并发送消息
func (client *WebSocketClient) SendMessage(message map[string]interface{}) bool {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return false
	}
	return client.enqueue(msgBytes)
}

// WebSocketManager 按项目管理诊断订阅连接，并实现 services.Notifier
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{} // project -> clients
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	mutex       sync.RWMutex
	pingTimeout time.Duration
	logger      *utils.Logger

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewWebSocketManager 创建管理器并启动主循环
func NewWebSocketManager() *WebSocketManager {
	manager := &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		register:    make(chan *WebSocketClient, 64),
		unregister:  make(chan *WebSocketClient, 64),
		pingTimeout: 60 * time.Second,
		logger:      utils.GetLogger(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go manager.run(30 * time.Second)
	return manager
}

// run 运行 WebSocket 管理器主循环
func (manager *WebSocketManager) run(cleanupInterval time.Duration) {
	defer close(manager.doneCh)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)
		case client := <-manager.unregister:
			manager.unregisterClient(client)
		case now := <-ticker.C:
			manager.cleanupExpiredConnections(now)
		case <-manager.stopCh:
			manager.shutdown()
			return
		}
	}
}

// Register 提交注册请求；管理器已关闭时返回 false
func (manager *WebSocketManager) Register(client *WebSocketClient) bool {
	select {
	case manager.register <- client:
		return true
	case <-manager.stopCh:
		return false
	}
}

// Unregister 提交注销请求
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	select {
	case manager.unregister <- client:
	case <-manager.stopCh:
	}
}

// registerClient 注册新客户端并发送连接确认
func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	manager.mutex.Lock()
	if manager.connections[client.project] == nil {
		manager.connections[client.project] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.project][client] = struct{}{}
	manager.mutex.Unlock()

	client.SendMessage(map[string]interface{}{
		"type":      "connected",
		"project":   client.project,
		"user_id":   client.userID,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	manager.logger.Info("WebSocket 客户端已连接", map[string]interface{}{
		"project": client.project,
		"user_id": client.userID,
	})
}

// unregisterClient 移除并关闭客户端
func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	manager.mutex.Lock()
	if clients, exists := manager.connections[client.project]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(manager.connections, client.project)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	manager.logger.Debug("WebSocket 客户端已断开", map[string]interface{}{
		"project": client.project,
		"user_id": client.userID,
	})
}

// cleanupExpiredConnections 清理超时连接
func (manager *WebSocketManager) cleanupExpiredConnections(now time.Time) int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	removed := 0
	for project, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout, now) {
				delete(clients, client)
				client.Close()
				removed++
			}
		}
		if len(clients) == 0 {
			delete(manager.connections, project)
		}
	}
	return removed
}

// shutdown 关闭全部连接
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, clients := range manager.connections {
		for client := range clients {
			client.Close()
		}
	}
	manager.connections = make(map[string]map[*WebSocketClient]struct{})
}

// Close 停止主循环并关闭全部连接
func (manager *WebSocketManager) Close() {
	manager.closeOnce.Do(func() {
		close(manager.stopCh)
		<-manager.doneCh
	})
}

// BroadcastToProject 向指定项目的订阅者广播；返回送达的连接数
func (manager *WebSocketManager) BroadcastToProject(project string, message map[string]interface{}) int {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		manager.logger.Error("序列化广播消息失败", map[string]interface{}{"error": err.Error()})
		return 0
	}

	manager.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(manager.connections[project]))
	for client := range manager.connections[project] {
		clients = append(clients, client)
	}
	manager.mutex.RUnlock()

	delivered := 0
	for _, client := range clients {
		if client.enqueue(msgBytes) {
			delivered++
			continue
		}
		// 队列满的慢连接直接断开
		go manager.Unregister(client)
	}
	return delivered
}

// Publish 推送一次摄取的诊断结果
func (manager *WebSocketManager) Publish(result *models.IngestResult) {
	manager.BroadcastToProject(result.Project, map[string]interface{}{
		"type":      "ingest_result",
		"data":      result,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	projects := make(map[string]interface{})
	total := 0
	for project, clients := range manager.connections {
		users := make([]interface{}, 0, len(clients))
		for client := range clients {
			users = append(users, map[string]interface{}{
				"user_id":      client.userID,
				"connected_at": client.createdAt.Format(time.RFC3339),
			})
		}
		projects[project] = map[string]interface{}{
			"client_count": len(clients),
			"users":        users,
		}
		total += len(clients)
	}

	return map[string]interface{}{
		"total_projects":       len(manager.connections),
		"total_connections":    total,
		"projects":             projects,
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
	}
}
