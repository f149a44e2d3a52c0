package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/models"
)

// ConversationsHandler serves locally stored conversations and imports
// remote folder pages into them.
type ConversationsHandler struct {
	pool          *pgxpool.Pool
	conversations ConversationStore
	emails        EmailService
	pageLimit     int
	importLimit   int
	log           *logrus.Entry
}

// NewConversationsHandler creates a new ConversationsHandler. pageLimit bounds
// conversation listings, importLimit bounds imported folder pages.
func NewConversationsHandler(pool *pgxpool.Pool, conversations ConversationStore, emails EmailService, pageLimit, importLimit int, log *logrus.Entry) *ConversationsHandler {
	if pageLimit <= 0 {
		pageLimit = 50
	}
	if importLimit <= 0 {
		importLimit = 10
	}
	return &ConversationsHandler{
		pool:          pool,
		conversations: conversations,
		emails:        emails,
		pageLimit:     pageLimit,
		importLimit:   importLimit,
		log:           log,
	}
}

// ListConversations handles GET /api/v1/conversations?page=&limit=.
func (h *ConversationsHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	page, limit := ParsePaginationParams(r, h.pageLimit, h.pageLimit)
	response, err := h.conversations.List(ctx, userID, page, limit)
	if err != nil {
		writeError(w, h.log.WithField("user_id", userID), err, CodeInternal)
		return
	}
	if response.Conversations == nil {
		response.Conversations = []*models.Conversation{}
	}

	writeJSON(w, h.log, http.StatusOK, response)
}

// GetConversation handles GET /api/v1/conversations/{id}.
func (h *ConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeClientError(w, h.log, http.StatusBadRequest, CodeBadRequest, "conversation id is required")
		return
	}

	conv, err := h.conversations.Get(ctx, userID, id)
	if errors.Is(err, db.ErrConversationNotFound) {
		writeClientError(w, h.log, http.StatusNotFound, CodeNotFound, "Conversation not found")
		return
	}
	if err != nil {
		writeError(w, h.log.WithField("user_id", userID), err, CodeInternal)
		return
	}

	writeJSON(w, h.log, http.StatusOK, conv)
}

// ImportFolder handles POST /api/v1/conversations/import/{folder}?page=&limit=.
func (h *ConversationsHandler) ImportFolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	folder := r.PathValue("folder")
	if folder == "" {
		writeClientError(w, h.log, http.StatusBadRequest, CodeBadRequest, "folder is required")
		return
	}

	page, limit := ParsePaginationParams(r, h.importLimit, h.importLimit)
	log := h.log.WithFields(logrus.Fields{"user_id": userID, "folder": folder, "page": page})

	result, err := h.emails.ImportPage(ctx, userID, folder, page, limit)
	if err != nil {
		writeError(w, log, err, CodeFetchFailed)
		return
	}

	writeJSON(w, log, http.StatusOK, result)
}
