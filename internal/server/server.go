// Package server wires the HTTP API from configuration.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/api"
	"github.com/vdavid/postbox/internal/auth"
	"github.com/vdavid/postbox/internal/cache"
	"github.com/vdavid/postbox/internal/config"
	"github.com/vdavid/postbox/internal/conversation"
	"github.com/vdavid/postbox/internal/credentials"
	"github.com/vdavid/postbox/internal/crypto"
	"github.com/vdavid/postbox/internal/imap"
	"github.com/vdavid/postbox/internal/logging"
	"github.com/vdavid/postbox/internal/smtp"
	ws "github.com/vdavid/postbox/internal/websocket"
)

// maxConnectionsPerUser bounds the WebSocket connections of one user.
const maxConnectionsPerUser = 10

// Server is the wired HTTP API.
type Server struct {
	http.Handler
	ws      *api.WebSocketHandler
	closers []func()
}

// StopListeners stops every IMAP IDLE listener. Call it before shutting
// down the HTTP server so hijacked WebSocket connections are released.
func (s *Server) StopListeners() {
	s.ws.Shutdown()
}

// Close stops the IDLE listeners and releases the cache.
func (s *Server) Close() {
	s.ws.Shutdown()
	for _, c := range s.closers {
		c()
	}
}

// New wires every component and returns the routed handler.
func New(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *logrus.Logger) (*Server, error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	server := &Server{}

	var store cache.Store
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		redisStore, err := cache.NewRedis(ctx, cfg.RedisURL, logging.Component(logger, "cache"))
		if err != nil {
			return nil, err
		}
		server.closers = append(server.closers, func() { _ = redisStore.Close() })
		store = redisStore
	default:
		memoryStore, err := cache.NewMemory(cfg.ResultCacheSize, cfg.ResultCacheTTL)
		if err != nil {
			return nil, err
		}
		server.closers = append(server.closers, memoryStore.Close)
		store = memoryStore
	}

	resolver := credentials.NewResolver(credentials.PoolStore{Pool: pool}, encryptor, cfg.CredentialCacheTTL, logging.Component(logger, "credentials"))
	conversations := conversation.NewAdapter(conversation.PoolStore{Pool: pool})

	dial := imap.NetworkDialer(imap.DialConfig{
		ConnectTimeout: cfg.IMAPConnectTimeout,
		AuthTimeout:    cfg.IMAPAuthTimeout,
		KeepAlive:      cfg.IMAPKeepAlive,
	})
	manager := imap.NewManager(resolver, dial, imap.ManagerConfig{
		MaxAttempts:        cfg.IMAPMaxAttempts,
		RetryBaseDelay:     cfg.IMAPRetryBaseDelay,
		FetchTimeout:       cfg.IMAPFetchTimeout,
		MaxSessionsPerUser: cfg.IMAPMaxSessionsPerUser,
	}, logging.Component(logger, "imap"))
	emails := imap.NewService(manager, store, cfg.ResultCacheTTL, conversations, logging.Component(logger, "emails"))
	sender := smtp.NewSender(smtp.Config{Timeout: cfg.SMTPTimeout}, logging.Component(logger, "smtp"))
	hub := ws.NewHub(maxConnectionsPerUser, logging.Component(logger, "websocket"))

	validator := auth.DevValidator{DefaultEmail: cfg.DevUserEmail, AllowEmailTokens: cfg.TestMode}
	apiLog := logging.Component(logger, "api")

	authHandler := api.NewAuthHandler(pool, apiLog)
	settingsHandler := api.NewSettingsHandler(pool, encryptor, resolver, emails, sender, apiLog)
	emailsHandler := api.NewEmailsHandler(pool, emails, cfg.EmailsPageLimit, apiLog)
	foldersHandler := api.NewFoldersHandler(pool, emails, apiLog)
	sendHandler := api.NewSendHandler(pool, resolver, sender, conversations, emails, apiLog)
	conversationsHandler := api.NewConversationsHandler(pool, conversations, emails, cfg.ConversationsPageLimit, cfg.EmailsPageLimit, apiLog)
	server.ws = api.NewWebSocketHandler(pool, emails, hub, validator, apiLog)

	requireAuth := auth.RequireAuth(validator, apiLog)
	protect := func(h http.HandlerFunc) http.Handler {
		return requireAuth(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)

	mux.Handle("GET /api/v1/auth/status", protect(authHandler.GetAuthStatus))
	mux.Handle("GET /api/v1/settings", protect(settingsHandler.GetSettings))
	mux.Handle("POST /api/v1/settings", protect(settingsHandler.PostSettings))
	mux.Handle("GET /api/v1/folders", protect(foldersHandler.GetFolders))
	mux.Handle("GET /api/v1/emails/{folder}", protect(emailsHandler.GetEmails))
	mux.Handle("POST /api/v1/send", protect(sendHandler.Send))
	mux.Handle("GET /api/v1/conversations", protect(conversationsHandler.ListConversations))
	mux.Handle("GET /api/v1/conversations/{id}", protect(conversationsHandler.GetConversation))
	mux.Handle("POST /api/v1/conversations/import/{folder}", protect(conversationsHandler.ImportFolder))
	// Authenticates through ?token= since browsers can't set headers on
	// WebSocket connections.
	mux.HandleFunc("GET /api/v1/ws", server.ws.Handle)

	server.Handler = api.LogRequests(logging.Component(logger, "http"))(mux)
	return server, nil
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Postbox API is running")
}
