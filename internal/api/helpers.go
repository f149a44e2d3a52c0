package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/auth"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/mailerr"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeInternal             = "INTERNAL_ERROR"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeTimeout              = "TIMEOUT"
	CodeEmailNotConfigured   = "EMAIL_NOT_CONFIGURED"
	CodeMailboxNotFound      = "MAILBOX_NOT_FOUND"
	CodeConnectionFailed     = "CONNECTION_FAILED"
	CodeFetchFailed          = "FETCH_FAILED"
	CodeInvalidRecipient     = "INVALID_RECIPIENT"
	CodeConfigurationInvalid = "CONFIGURATION_INVALID"
	CodeSendFailed           = "SEND_FAILED"
	CodeNotFound             = "NOT_FOUND"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	SetupRequired bool   `json:"setupRequired,omitempty"`
}

// ErrorStatus maps an error to its HTTP status and response body. Unknown
// errors become fallbackCode with status 500; their details are never
// exposed.
func ErrorStatus(err error, fallbackCode string) (int, ErrorResponse) {
	message := mailerr.UserMessage(err)
	withDefault := func(def string) string {
		if message != "" {
			return message
		}
		return def
	}

	switch mailerr.KindOf(err) {
	case mailerr.KindCredentialsNotFound:
		return http.StatusNotFound, ErrorResponse{
			Error:         "Email is not configured for this account",
			Code:          CodeEmailNotConfigured,
			SetupRequired: true,
		}
	case mailerr.KindAuthFailed:
		return http.StatusUnauthorized, ErrorResponse{Error: withDefault("Invalid mail server credentials"), Code: CodeInvalidCredentials}
	case mailerr.KindTimeout:
		return http.StatusGatewayTimeout, ErrorResponse{Error: withDefault("The mail server did not respond in time"), Code: CodeTimeout}
	case mailerr.KindMailboxNotFound:
		return http.StatusNotFound, ErrorResponse{Error: withDefault("Folder not found"), Code: CodeMailboxNotFound}
	case mailerr.KindConnectionFailed:
		return http.StatusBadGateway, ErrorResponse{Error: withDefault("Could not connect to the mail server"), Code: CodeConnectionFailed}
	case mailerr.KindInvalidRecipient:
		return http.StatusBadRequest, ErrorResponse{Error: withDefault("Invalid recipient"), Code: CodeInvalidRecipient}
	case mailerr.KindConfigurationInvalid:
		return http.StatusBadRequest, ErrorResponse{Error: withDefault("Invalid email configuration"), Code: CodeConfigurationInvalid}
	case mailerr.KindSendFailed:
		return http.StatusBadGateway, ErrorResponse{Error: withDefault("Failed to send email"), Code: CodeSendFailed}
	case mailerr.KindFetchStream:
		return http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch emails", Code: CodeFetchFailed}
	}

	if fallbackCode == CodeFetchFailed {
		return http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch emails", Code: CodeFetchFailed}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Code: fallbackCode}
}

// writeError logs err and writes the mapped error response.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error, fallbackCode string) {
	if errors.Is(err, context.Canceled) {
		log.WithError(err).Debug("request cancelled")
		return
	}

	status, body := ErrorStatus(err, fallbackCode)
	entry := log.WithError(err).WithFields(logrus.Fields{"status": status, "code": body.Code})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request failed")
	}
	writeJSON(w, log, status, body)
}

// writeClientError writes a 4xx response with a fixed message.
func writeClientError(w http.ResponseWriter, log logrus.FieldLogger, status int, code, message string) {
	writeJSON(w, log, status, ErrorResponse{Error: message, Code: code})
}

// writeJSON encodes to a buffer first so a failed encode never produces a
// partial response.
func writeJSON(w http.ResponseWriter, log logrus.FieldLogger, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

// GetUserIDFromContext extracts the user's email from context, resolves or
// creates the DB user, and writes the error response when it fails.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, pool *pgxpool.Pool, log logrus.FieldLogger) (string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Warn("no user email in context")
		writeClientError(w, log, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
		return "", false
	}

	userID, err := db.GetOrCreateUser(ctx, pool, email)
	if err != nil {
		log.WithError(err).Error("failed to get or create user")
		writeClientError(w, log, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return "", false
	}

	return userID, true
}

// ParsePaginationParams parses page and limit from query parameters.
// Missing or invalid values fall back to page 1 and defaultLimit; limit is
// capped at maxLimit.
func ParsePaginationParams(r *http.Request, defaultLimit, maxLimit int) (page, limit int) {
	page = 1
	limit = defaultLimit

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if parsed, err := strconv.Atoi(pageStr); err == nil && parsed > 0 {
			page = parsed
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

// parseBool accepts "1", "true" and the other strconv.ParseBool spellings.
func parseBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
