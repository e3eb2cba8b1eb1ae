package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// ErrNotConnected is returned when the user has no open socket.
var ErrNotConnected = errors.New("user not connected")

// Message is the frame pushed to clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Connection is one open socket of a user.
type Connection struct {
	ID          string
	UserID      uuid.UUID
	UserAgent   string
	IPAddress   string
	ConnectedAt time.Time

	conn      *websocket.Conn
	send      chan Message
	closeOnce sync.Once
}

func (c *Connection) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Manager tracks sockets per user and pushes messages to them.
type Manager struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]map[*Connection]struct{}
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	closed      bool
}

// NewManager creates a manager. An empty origin list accepts any origin.
func NewManager(logger *zap.Logger, allowedOrigins []string) *Manager {
	m := &Manager{
		connections: make(map[uuid.UUID]map[*Connection]struct{}),
		logger:      logger,
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
	return m
}

// HandleConnection upgrades the request and registers the socket for userID.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID uuid.UUID) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		UserAgent:   r.Header.Get("User-Agent"),
		IPAddress:   r.RemoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan Message, sendBuffer),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return nil, errors.New("websocket manager is closed")
	}
	if m.connections[userID] == nil {
		m.connections[userID] = make(map[*Connection]struct{})
	}
	m.connections[userID][c] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug("Socket connected", zap.String("connection_id", c.ID), zap.String("user_id", userID.String()))

	go m.readPump(c)
	go m.writePump(c)
	return c, nil
}

func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	if conns, ok := m.connections[c.UserID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			c.closeSend()
			if len(conns) == 0 {
				delete(m.connections, c.UserID)
			}
		}
	}
	m.mu.Unlock()
	m.logger.Debug("Socket disconnected", zap.String("connection_id", c.ID))
}

// readPump only keeps the connection alive; clients do not send commands.
func (m *Manager) readPump(c *Connection) {
	defer func() {
		m.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("Socket read failed", zap.String("connection_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}

func (m *Manager) writePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendToUser queues msg on every socket of the user and returns how many
// accepted it. Full buffers are skipped.
func (m *Manager) SendToUser(userID uuid.UUID, msg Message) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := m.connections[userID]
	if len(conns) == 0 {
		return 0, ErrNotConnected
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	sent := 0
	for c := range conns {
		select {
		case c.send <- msg:
			sent++
		default:
			m.logger.Warn("Socket buffer full, dropping message", zap.String("connection_id", c.ID))
		}
	}
	return sent, nil
}

// ConnectionCount returns the number of open sockets.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.connections {
		n += len(conns)
	}
	return n
}

// UserConnectionCount returns the number of open sockets of one user.
func (m *Manager) UserConnectionCount(userID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections[userID])
}

// Close drops every connection and refuses new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for userID, conns := range m.connections {
		for c := range conns {
			c.closeSend()
			c.conn.Close()
		}
		delete(m.connections, userID)
	}
}
