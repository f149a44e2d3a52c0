package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/postbox/internal/auth"
	"github.com/vdavid/postbox/internal/crypto"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/logging"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

func testLog() *logrus.Entry {
	return logrus.NewEntry(logging.Discard())
}

// setupTestUserAndSettings creates a test user and saves their settings.
// Returns the userID for use in tests.
func setupTestUserAndSettings(t *testing.T, pool *pgxpool.Pool, encryptor *crypto.Encryptor, email string) string {
	t.Helper()
	ctx := context.Background()
	userID, err := db.GetOrCreateUser(ctx, pool, email)
	require.NoError(t, err)

	encryptedIMAPPassword, err := encryptor.Encrypt("imap_pass")
	require.NoError(t, err)
	encryptedSMTPPassword, err := encryptor.Encrypt("smtp_pass")
	require.NoError(t, err)

	settings := &models.UserSettings{
		UserID:                userID,
		IMAPHost:              "imap.test.com",
		IMAPPort:              993,
		IMAPSecure:            true,
		IMAPUsername:          "user",
		EncryptedIMAPPassword: encryptedIMAPPassword,
		SMTPHost:              "smtp.test.com",
		SMTPPort:              587,
		SMTPUsername:          "user",
		EncryptedSMTPPassword: encryptedSMTPPassword,
	}
	require.NoError(t, db.SaveUserSettings(ctx, pool, settings))
	return userID
}

// createRequestWithUser creates an HTTP request with user email in context.
func createRequestWithUser(method, url, email string) *http.Request {
	return createRequestWithBody(method, url, email, "")
}

func createRequestWithBody(method, url, email, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	ctx := context.WithValue(req.Context(), auth.UserEmailKey, email)
	return req.WithContext(ctx)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

// FailingResponseWriter is a ResponseWriter that fails on Write to test error handling.
type FailingResponseWriter struct {
	http.ResponseWriter
	WriteShouldFail bool
}

func (f *FailingResponseWriter) Write(p []byte) (int, error) {
	if f.WriteShouldFail {
		return 0, fmt.Errorf("write failed")
	}
	return f.ResponseWriter.Write(p)
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no user is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no user email in context")
	assert.Equal(t, CodeUnauthorized, decodeError(t, rr).Code)
}

func TestErrorStatus(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name          string
		err           error
		fallback      string
		wantStatus    int
		wantCode      string
		setupRequired bool
	}{
		{"credentials missing", mailerr.New(mailerr.KindCredentialsNotFound, "", cause), CodeInternal, http.StatusNotFound, CodeEmailNotConfigured, true},
		{"auth failed", mailerr.New(mailerr.KindAuthFailed, "", cause), CodeFetchFailed, http.StatusUnauthorized, CodeInvalidCredentials, false},
		{"timeout", mailerr.New(mailerr.KindTimeout, "", cause), CodeFetchFailed, http.StatusGatewayTimeout, CodeTimeout, false},
		{"mailbox missing", mailerr.New(mailerr.KindMailboxNotFound, "", cause), CodeFetchFailed, http.StatusNotFound, CodeMailboxNotFound, false},
		{"connection failed", mailerr.New(mailerr.KindConnectionFailed, "", cause), CodeFetchFailed, http.StatusBadGateway, CodeConnectionFailed, false},
		{"invalid recipient", mailerr.New(mailerr.KindInvalidRecipient, "", cause), CodeSendFailed, http.StatusBadRequest, CodeInvalidRecipient, false},
		{"invalid configuration", mailerr.New(mailerr.KindConfigurationInvalid, "", cause), CodeInternal, http.StatusBadRequest, CodeConfigurationInvalid, false},
		{"send failed", mailerr.New(mailerr.KindSendFailed, "", cause), CodeInternal, http.StatusBadGateway, CodeSendFailed, false},
		{"stream error", mailerr.New(mailerr.KindFetchStream, "", cause), CodeInternal, http.StatusInternalServerError, CodeFetchFailed, false},
		{"unknown with fetch fallback", cause, CodeFetchFailed, http.StatusInternalServerError, CodeFetchFailed, false},
		{"unknown", cause, CodeInternal, http.StatusInternalServerError, CodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ErrorStatus(tt.err, tt.fallback)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.setupRequired, body.SetupRequired)
			assert.NotContains(t, body.Error, "boom")
		})
	}
}

func TestParsePaginationParams(t *testing.T) {
	tests := []struct {
		query     string
		wantPage  int
		wantLimit int
	}{
		{"", 1, 10},
		{"?page=3&limit=5", 3, 5},
		{"?page=0&limit=-1", 1, 10},
		{"?page=abc&limit=xyz", 1, 10},
		{"?limit=500", 1, 10},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/emails/inbox"+tt.query, nil)
			page, limit := ParsePaginationParams(req, 10, 10)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestWriteErrorSkipsCancelledRequests(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, testLog(), fmt.Errorf("fetch: %w", context.Canceled), CodeFetchFailed)

	assert.Equal(t, 0, rr.Body.Len())
}

func TestWriteJSONWriteFailure(t *testing.T) {
	w := &FailingResponseWriter{ResponseWriter: httptest.NewRecorder(), WriteShouldFail: true}

	assert.NotPanics(t, func() {
		writeJSON(w, testLog(), http.StatusOK, map[string]bool{"success": true})
	})
}
