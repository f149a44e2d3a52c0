package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
	"github.com/vdavid/postbox/internal/testutil"
	"github.com/vdavid/postbox/internal/testutil/mocks"
)

type settingsFixture struct {
	handler  *SettingsHandler
	resolver *mocks.CredentialResolver
	emails   *mocks.EmailService
	sender   *mocks.MailSender
}

func settingsBody(t *testing.T, imapPassword, smtpPassword string) string {
	t.Helper()
	req := models.EmailSettingsRequest{
		IMAP: models.IMAPCredentials{Host: " imap.new.com ", Port: 993, Secure: true, User: "me", Password: imapPassword},
		SMTP: models.SMTPCredentials{Host: "smtp.new.com", Port: 465, Secure: true, User: "me", Password: smtpPassword},
	}
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return string(b)
}

func TestSettingsHandler_GetSettings(t *testing.T) {
	pool := testutil.NewTestDB(t)
	encryptor := testutil.GetTestEncryptor(t)
	handler := NewSettingsHandler(pool, encryptor, mocks.NewCredentialResolver(t), mocks.NewEmailService(t), mocks.NewMailSender(t), testLog())

	t.Run("returns 404 with setupRequired for user without settings", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.GetSettings(rr, createRequestWithUser(http.MethodGet, "/api/v1/settings", "new-user@example.com"))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, CodeEmailNotConfigured, body.Code)
		assert.True(t, body.SetupRequired)
	})

	t.Run("returns settings without passwords", func(t *testing.T) {
		setupTestUserAndSettings(t, pool, encryptor, "setupuser@example.com")

		rr := httptest.NewRecorder()
		handler.GetSettings(rr, createRequestWithUser(http.MethodGet, "/api/v1/settings", "setupuser@example.com"))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), "imap_pass")
		assert.NotContains(t, rr.Body.String(), "smtp_pass")

		var response models.EmailSettingsResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
		assert.Equal(t, "imap.test.com", response.IMAP.Host)
		assert.Equal(t, 993, response.IMAP.Port)
		assert.True(t, response.IMAP.Secure)
		assert.True(t, response.IMAP.PasswordSet)
		assert.Equal(t, "smtp.test.com", response.SMTP.Host)
		assert.True(t, response.SMTP.PasswordSet)
	})

	t.Run("returns 401 when no user email in context", func(t *testing.T) {
		VerifyAuthCheck(t, handler.GetSettings, http.MethodGet, "/api/v1/settings")
	})
}

func TestSettingsHandler_PostSettings(t *testing.T) {
	pool := testutil.NewTestDB(t)
	encryptor := testutil.GetTestEncryptor(t)

	newFixture := func(t *testing.T) *settingsFixture {
		f := &settingsFixture{
			resolver: mocks.NewCredentialResolver(t),
			emails:   mocks.NewEmailService(t),
			sender:   mocks.NewMailSender(t),
		}
		f.handler = NewSettingsHandler(pool, encryptor, f.resolver, f.emails, f.sender, testLog())
		return f
	}

	t.Run("tests both servers then saves new settings", func(t *testing.T) {
		f := newFixture(t)
		const email = "initial@example.com"

		f.emails.On("TestConnection", mock.Anything, mock.MatchedBy(func(c models.IMAPCredentials) bool {
			return c.Host == "imap.new.com" && c.Password == "imap-secret"
		})).Return(nil).Once()
		f.sender.On("TestConnection", mock.Anything, mock.MatchedBy(func(c models.SMTPCredentials) bool {
			return c.Password == "smtp-secret"
		})).Return(nil).Once()
		f.resolver.On("Invalidate", mock.Anything).Return().Once()
		f.emails.On("InvalidateUser", mock.Anything, mock.Anything).Return().Once()

		rr := httptest.NewRecorder()
		f.handler.PostSettings(rr, createRequestWithBody(http.MethodPost, "/api/v1/settings", email, settingsBody(t, "imap-secret", "smtp-secret")))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"success":true}`, rr.Body.String())

		ctx := context.Background()
		userID, err := db.GetOrCreateUser(ctx, pool, email)
		require.NoError(t, err)
		saved, err := db.GetUserSettings(ctx, pool, userID)
		require.NoError(t, err)
		assert.Equal(t, "imap.new.com", saved.IMAPHost)
		assert.Equal(t, 465, saved.SMTPPort)

		password, err := encryptor.Decrypt(saved.EncryptedIMAPPassword)
		require.NoError(t, err)
		assert.Equal(t, "imap-secret", password)
	})

	t.Run("keeps stored passwords when they are omitted", func(t *testing.T) {
		f := newFixture(t)
		const email = "update@example.com"
		userID := setupTestUserAndSettings(t, pool, encryptor, email)

		f.emails.On("TestConnection", mock.Anything, mock.MatchedBy(func(c models.IMAPCredentials) bool {
			return c.Password == "imap_pass"
		})).Return(nil).Once()
		f.sender.On("TestConnection", mock.Anything, mock.MatchedBy(func(c models.SMTPCredentials) bool {
			return c.Password == "smtp_pass"
		})).Return(nil).Once()
		f.resolver.On("Invalidate", userID).Return().Once()
		f.emails.On("InvalidateUser", mock.Anything, userID).Return().Once()

		rr := httptest.NewRecorder()
		f.handler.PostSettings(rr, createRequestWithBody(http.MethodPost, "/api/v1/settings", email, settingsBody(t, "", "")))

		require.Equal(t, http.StatusOK, rr.Code)
		saved, err := db.GetUserSettings(context.Background(), pool, userID)
		require.NoError(t, err)
		assert.Equal(t, "imap.new.com", saved.IMAPHost)
		password, err := encryptor.Decrypt(saved.EncryptedSMTPPassword)
		require.NoError(t, err)
		assert.Equal(t, "smtp_pass", password)
	})

	t.Run("requires passwords on initial setup", func(t *testing.T) {
		f := newFixture(t)

		rr := httptest.NewRecorder()
		f.handler.PostSettings(rr, createRequestWithBody(http.MethodPost, "/api/v1/settings", "nopass@example.com", settingsBody(t, "", "smtp-secret")))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, CodeConfigurationInvalid, decodeError(t, rr).Code)
	})

	t.Run("rejects invalid fields without testing servers", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"missing imap host", `{"imap":{"port":993,"user":"me","password":"x"},"smtp":{"host":"s","port":465,"user":"me","password":"x"}}`},
			{"port out of range", `{"imap":{"host":"i","port":70000,"user":"me","password":"x"},"smtp":{"host":"s","port":465,"user":"me","password":"x"}}`},
			{"missing smtp user", `{"imap":{"host":"i","port":993,"user":"me","password":"x"},"smtp":{"host":"s","port":465,"password":"x"}}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t)

				rr := httptest.NewRecorder()
				f.handler.PostSettings(rr, createRequestWithBody(http.MethodPost, "/api/v1/settings", "invalid@example.com", tt.body))

				assert.Equal(t, http.StatusBadRequest, rr.Code)
				assert.Equal(t, CodeConfigurationInvalid, decodeError(t, rr).Code)
			})
		}
	})

	t.Run("does not save when the IMAP test fails", func(t *testing.T) {
		f := newFixture(t)
		const email = "badimap@example.com"

		f.emails.On("TestConnection", mock.Anything, mock.Anything).
			Return(mailerr.New(mailerr.KindAuthFailed, "", errors.New("NO LOGIN failed"))).Once()

		rr := httptest.NewRecorder()
		f.handler.PostSettings(rr, createRequestWithBody(http.MethodPost, "/api/v1/settings", email, settingsBody(t, "a", "b")))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, CodeInvalidCredentials, decodeError(t, rr).Code)

		userID, err := db.GetOrCreateUser(context.Background(), pool, email)
		require.NoError(t, err)
		exists, err := db.UserSettingsExist(context.Background(), pool, userID)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("does not save when the SMTP test fails", func(t *testing.T) {
		f := newFixture(t)

		f.emails.On("TestConnection", mock.Anything, mock.Anything).Return(nil).Once()
		f.sender.On("TestConnection", mock.Anything, mock.Anything).Return(errors.New("dial tcp: refused")).Once()

		rr := httptest.NewRecorder()
		f.handler.PostSettings(rr, createRequestWithBody(http.MethodPost, "/api/v1/settings", "badsmtp@example.com", settingsBody(t, "a", "b")))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, CodeConnectionFailed, decodeError(t, rr).Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		f := newFixture(t)

		rr := httptest.NewRecorder()
		f.handler.PostSettings(rr, createRequestWithBody(http.MethodPost, "/api/v1/settings", "json@example.com", "{"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
