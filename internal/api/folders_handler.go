package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/models"
)

// FoldersHandler lists the logical folders of the user's server.
type FoldersHandler struct {
	pool    *pgxpool.Pool
	service EmailService
	log     *logrus.Entry
}

// NewFoldersHandler creates a new FoldersHandler instance.
func NewFoldersHandler(pool *pgxpool.Pool, service EmailService, log *logrus.Entry) *FoldersHandler {
	return &FoldersHandler{pool: pool, service: service, log: log}
}

// FoldersResponse is the body of GET /api/v1/folders.
type FoldersResponse struct {
	Folders []models.Folder `json:"folders"`
}

// GetFolders handles GET /api/v1/folders.
func (h *FoldersHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	folders, err := h.service.ListFolders(ctx, userID)
	if err != nil {
		writeError(w, h.log.WithField("user_id", userID), err, CodeInternal)
		return
	}
	if folders == nil {
		folders = []models.Folder{}
	}

	writeJSON(w, h.log, http.StatusOK, FoldersResponse{Folders: folders})
}
