package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gigchat/pkg/logger"
)

const (
	clientWriteWait  = 10 * time.Second
	clientPongWait   = 60 * time.Second
	clientPingPeriod = (clientPongWait * 9) / 10
)

// Client is a local UI connection subscribed to state changes.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Manager fans state-change frames out to every connected UI client.
type Manager struct {
	clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

// Start runs the manager's main loop in a goroutine.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				m.clients[client.ID] = client
				m.mutex.Unlock()
				logger.Debug("Bridge client registered: %s", client.ID)

			case client := <-m.Unregister:
				m.remove(client.ID)
				logger.Debug("Bridge client unregistered: %s", client.ID)

			case message := <-m.broadcast:
				m.mutex.RLock()
				var slow []string
				for id, client := range m.clients {
					select {
					case client.Send <- message:
					default:
						slow = append(slow, id)
					}
				}
				m.mutex.RUnlock()
				for _, id := range slow {
					logger.Warn("Bridge client %s send buffer full, dropping connection", id)
					m.remove(id)
				}

			case <-ctx.Done():
				close(m.done)
				m.mutex.Lock()
				for id, client := range m.clients {
					close(client.Send)
					delete(m.clients, id)
				}
				m.mutex.Unlock()
				return
			}
		}
	}()
}

func (m *Manager) remove(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if client, ok := m.clients[id]; ok {
		delete(m.clients, id)
		close(client.Send)
	}
}

// Add registers a client unless the manager has stopped.
func (m *Manager) Add(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		return false
	}
}

// Broadcast queues a frame for all clients. It never blocks the caller.
func (m *Manager) Broadcast(message []byte) bool {
	select {
	case m.broadcast <- message:
		return true
	default:
		return false
	}
}

func (m *Manager) ClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// ReadPump drains the connection so control frames are processed; UI clients
// only send commands over HTTP.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		select {
		case m.Unregister <- c:
		case <-m.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	_ = c.Conn.SetReadDeadline(time.Now().Add(clientPongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("Bridge client %s: %v", c.ID, err)
			}
			return
		}
	}
}

// WritePump sends queued frames and keepalive pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(clientPingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("Bridge client %s write failed: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
