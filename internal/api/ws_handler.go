package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/auth"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/imap"
	ws "github.com/vdavid/postbox/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for real-time updates.
type WebSocketHandler struct {
	pool          *pgxpool.Pool
	emails        EmailService
	hub           *ws.Hub
	validator     auth.Validator
	log           *logrus.Entry
	mu            sync.Mutex
	idleListeners map[string]*idleListener
}

// idleListener is one running IDLE goroutine. Entries are compared by
// pointer so an exiting listener never removes its successor.
type idleListener struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(pool *pgxpool.Pool, emails EmailService, hub *ws.Hub, validator auth.Validator, log *logrus.Entry) *WebSocketHandler {
	return &WebSocketHandler{
		pool:          pool,
		emails:        emails,
		hub:           hub,
		validator:     validator,
		log:           log,
		idleListeners: make(map[string]*idleListener),
	}
}

var wsUpgrader = websocket.Upgrader{
	// The server runs behind a reverse proxy that enforces origins.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handle upgrades the connection and registers it with the Hub. Browsers
// cannot set headers on WebSocket requests, so the token comes from ?token=
// with the Authorization header as fallback.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r)
	}
	if token == "" {
		h.log.Debug("no token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userEmail, err := h.validator.ValidateToken(token)
	if err != nil {
		h.log.WithError(err).Warn("token validation failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := db.GetOrCreateUser(ctx, h.pool, userEmail)
	if err != nil {
		h.log.WithError(err).Error("failed to get or create user")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	log := h.log.WithField("user_id", userID)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade connection")
		return
	}

	isFirstConnection := h.hub.ActiveConnections(userID) == 0

	client := h.hub.Register(userID, conn)
	if client == nil {
		return
	}
	log.Debug("websocket connection established")

	// Mail may have arrived while nobody listened; the next inbox read goes live.
	if isFirstConnection {
		h.emails.InvalidateFolder(context.WithoutCancel(ctx), userID, imap.FolderInbox)
	}

	h.ensureIdleListener(userID)

	go h.readLoop(userID, client)
}

// ensureIdleListener starts an IMAP IDLE listener for the user if one is not already running.
func (h *WebSocketHandler) ensureIdleListener(userID string) *idleListener {
	h.mu.Lock()
	defer h.mu.Unlock()

	if l, exists := h.idleListeners[userID]; exists {
		return l
	}

	h.log.WithField("user_id", userID).Debug("starting IDLE listener")
	idleCtx, cancel := context.WithCancel(context.Background())
	l := &idleListener{cancel: cancel, done: make(chan struct{})}
	h.idleListeners[userID] = l

	go func(ctx context.Context, uid string) {
		defer close(l.done)
		h.emails.StartIdleListener(ctx, uid, h.hub)

		h.mu.Lock()
		if h.idleListeners[uid] == l {
			delete(h.idleListeners, uid)
		}
		h.mu.Unlock()
		cancel()
	}(idleCtx, userID)

	return l
}

// stopIdleListener cancels the user's listener, if any, and forgets it.
func (h *WebSocketHandler) stopIdleListener(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if l, exists := h.idleListeners[userID]; exists {
		l.cancel()
		delete(h.idleListeners, userID)
	}
}

// readLoop reads until the connection closes, then unregisters the client
// and stops the IDLE listener once the user has no connections left.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(userID, client)

	if h.hub.ActiveConnections(userID) == 0 {
		h.log.WithField("user_id", userID).Debug("no connections left, stopping IDLE listener")
		h.stopIdleListener(userID)
	}
}

// Shutdown stops every IDLE listener and closes the live connections.
func (h *WebSocketHandler) Shutdown() {
	h.mu.Lock()
	for uid, l := range h.idleListeners {
		l.cancel()
		delete(h.idleListeners, uid)
	}
	h.mu.Unlock()

	h.hub.CloseAll()
}
