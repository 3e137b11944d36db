// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client types
const (
	ClientTypeStream = "stream"
	ClientTypeEvents = "events"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	Type        string          `json:"type"`
	Interval    time.Duration   `json:"interval,omitempty"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(clientType string, conn *websocket.Conn, id string) *Client {
	return &Client{
		ID:          id,
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        clientType,
		ConnectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// Done is closed once the client has gone away
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// close marks the client gone; the write pump closes the socket
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// CommandMessage is the data of a device_command message
type CommandMessage struct {
	Payload     string `json:"payload"`
	Format      string `json:"format,omitempty"`
	ExpectReply *bool  `json:"expect_reply,omitempty"`
}

// ConnectionManager manages WebSocket connections
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[client.ID] = client
}

// Unregister unregisters a client
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	delete(cm.clients, client.ID)
	cm.mutex.Unlock()

	client.close()
}

// CloseAll disconnects every client
func (cm *ConnectionManager) CloseAll() {
	cm.mutex.Lock()
	clients := cm.clients
	cm.clients = make(map[string]*Client)
	cm.mutex.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		ByType:           make(map[string]int),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		stats.ByType[client.Type]++
		stats.Clients = append(stats.Clients, client)
	}

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByType           map[string]int `json:"by_type"`
	Clients          []*Client      `json:"clients"`
}
