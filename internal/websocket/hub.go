package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// writeTimeout bounds one push to a client.
const writeTimeout = 10 * time.Second

// Client wraps a WebSocket connection. Writes are serialized per client.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Hub fans push events out to every live connection of a user, one per
// browser tab.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	maxPerUser int
	log        *logrus.Entry
}

// NewHub creates a Hub accepting at most maxPerUser connections per user.
func NewHub(maxPerUser int, log *logrus.Entry) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerUser: maxPerUser,
		log:        log,
	}
}

// Register adds conn to the user's set. Over the limit the connection is
// closed with a policy-violation frame and nil is returned.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[userID]
	if !ok {
		userClients = make(map[*Client]struct{})
		h.clients[userID] = userClients
	}

	if len(userClients) >= h.maxPerUser {
		h.log.WithFields(logrus.Fields{"user_id": userID, "max": h.maxPerUser}).Warn("too many connections, closing new connection")
		closeWith(conn, websocket.ClosePolicyViolation, "too many connections for this user")
		return nil
	}

	client := &Client{conn: conn}
	userClients[client] = struct{}{}
	return client
}

// Unregister drops client from the user's set and closes it. Safe to call
// more than once.
func (h *Hub) Unregister(userID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[userID]
	if !ok {
		_ = client.conn.Close()
		return
	}

	delete(userClients, client)

	if len(userClients) == 0 {
		delete(h.clients, userID)
	}

	_ = client.conn.Close()
}

// Send broadcasts a message to all active clients for the user. A client
// that cannot be written to is unregistered.
func (h *Hub) Send(userID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.write(msg); err != nil {
			h.log.WithError(err).WithField("user_id", userID).Warn("failed to write message")
			h.Unregister(userID, client)
		}
	}
}

// ActiveConnections is the IDLE listener's signal to keep running.
func (h *Hub) ActiveConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}

// CloseAll sends a going-away frame to every client and forgets them. Used at
// shutdown since the HTTP server does not track hijacked connections.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, userClients := range all {
		for client := range userClients {
			client.writeMu.Lock()
			closeWith(client.conn, websocket.CloseGoingAway, "server shutting down")
			client.writeMu.Unlock()
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = conn.Close()
}
