package api

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/auth"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/models"
)

type AuthHandler struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

func NewAuthHandler(pool *pgxpool.Pool, log *logrus.Entry) *AuthHandler {
	return &AuthHandler{pool: pool, log: log}
}

// GetAuthStatus handles GET /api/v1/auth/status. Reaching it means the
// middleware accepted the token.
func (h *AuthHandler) GetAuthStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		h.log.Warn("no user email in context")
		writeClientError(w, h.log, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
		return
	}

	isSetupComplete, err := h.checkSetupComplete(ctx, email)
	if err != nil {
		h.log.WithError(err).Error("failed to check setup status")
		writeClientError(w, h.log, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}

	writeJSON(w, h.log, http.StatusOK, models.AuthStatusResponse{
		IsAuthenticated: true,
		IsSetupComplete: isSetupComplete,
	})
}

func (h *AuthHandler) checkSetupComplete(ctx context.Context, email string) (bool, error) {
	userID, err := db.GetOrCreateUser(ctx, h.pool, email)
	if err != nil {
		return false, err
	}

	return db.UserSettingsExist(ctx, h.pool, userID)
}
