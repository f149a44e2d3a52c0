package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// EmailsHandler serves folder pages.
type EmailsHandler struct {
	pool     *pgxpool.Pool
	service  EmailService
	defLimit int
	maxLimit int
	log      *logrus.Entry
}

// NewEmailsHandler creates a new EmailsHandler. limit is both the default
// and the maximum page size.
func NewEmailsHandler(pool *pgxpool.Pool, service EmailService, limit int, log *logrus.Entry) *EmailsHandler {
	if limit <= 0 {
		limit = 10
	}
	return &EmailsHandler{
		pool:     pool,
		service:  service,
		defLimit: limit,
		maxLimit: limit,
		log:      log,
	}
}

// GetEmails handles GET /api/v1/emails/{folder}?page=&limit=&refresh=.
func (h *EmailsHandler) GetEmails(w http.ResponseWriter, r *http.Request) {
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

	page, limit := ParsePaginationParams(r, h.defLimit, h.maxLimit)
	refresh := parseBool(r, "refresh")

	log := h.log.WithFields(logrus.Fields{"user_id": userID, "folder": folder, "page": page})
	result, err := h.service.GetEmails(ctx, userID, folder, page, limit, refresh)
	if err != nil {
		writeError(w, log, err, CodeFetchFailed)
		return
	}

	writeJSON(w, log, http.StatusOK, result)
}
