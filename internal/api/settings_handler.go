package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

// Encryptor seals passwords before they are stored.
type Encryptor interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// SettingsHandler reads and updates a user's mail server configuration.
type SettingsHandler struct {
	pool      *pgxpool.Pool
	encryptor Encryptor
	resolver  CredentialResolver
	emails    EmailService
	sender    MailSender
	log       *logrus.Entry
}

// NewSettingsHandler creates a new SettingsHandler instance.
func NewSettingsHandler(pool *pgxpool.Pool, encryptor Encryptor, resolver CredentialResolver, emails EmailService, sender MailSender, log *logrus.Entry) *SettingsHandler {
	return &SettingsHandler{
		pool:      pool,
		encryptor: encryptor,
		resolver:  resolver,
		emails:    emails,
		sender:    sender,
		log:       log,
	}
}

// GetSettings returns the stored configuration without passwords.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}

	settings, err := db.GetUserSettings(ctx, h.pool, userID)
	if errors.Is(err, db.ErrUserSettingsNotFound) {
		writeError(w, h.log, mailerr.New(mailerr.KindCredentialsNotFound, "", err), CodeInternal)
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to get settings")
		writeClientError(w, h.log, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}

	var response models.EmailSettingsResponse
	response.SMTP.Host = settings.SMTPHost
	response.SMTP.Port = settings.SMTPPort
	response.SMTP.Secure = settings.SMTPSecure
	response.SMTP.User = settings.SMTPUsername
	response.SMTP.PasswordSet = len(settings.EncryptedSMTPPassword) > 0
	response.IMAP.Host = settings.IMAPHost
	response.IMAP.Port = settings.IMAPPort
	response.IMAP.Secure = settings.IMAPSecure
	response.IMAP.User = settings.IMAPUsername
	response.IMAP.PasswordSet = len(settings.EncryptedIMAPPassword) > 0

	writeJSON(w, h.log, http.StatusOK, response)
}

// PostSettings validates the configuration, tests both servers live and only
// then persists it. An empty password keeps the stored one.
func (h *SettingsHandler) PostSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}
	log := h.log.WithField("user_id", userID)

	var req models.EmailSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.WithError(err).Warn("failed to decode settings request")
		writeClientError(w, log, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}

	if err := validateSettingsRequest(&req); err != nil {
		writeError(w, log, err, CodeInternal)
		return
	}

	existing, err := db.GetUserSettings(ctx, h.pool, userID)
	if err != nil && !errors.Is(err, db.ErrUserSettingsNotFound) {
		log.WithError(err).Error("failed to get existing settings")
		writeClientError(w, log, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}

	if err := h.fillStoredPasswords(&req, existing); err != nil {
		writeError(w, log, err, CodeInternal)
		return
	}

	if err := h.emails.TestConnection(ctx, req.IMAP); err != nil {
		writeError(w, log.WithField("server", "imap"), err, CodeConnectionFailed)
		return
	}
	if err := h.sender.TestConnection(ctx, req.SMTP); err != nil {
		writeError(w, log.WithField("server", "smtp"), err, CodeConnectionFailed)
		return
	}

	encryptedIMAPPassword, err := h.encryptor.Encrypt(req.IMAP.Password)
	if err != nil {
		log.WithError(err).Error("failed to encrypt IMAP password")
		writeClientError(w, log, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}
	encryptedSMTPPassword, err := h.encryptor.Encrypt(req.SMTP.Password)
	if err != nil {
		log.WithError(err).Error("failed to encrypt SMTP password")
		writeClientError(w, log, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}

	settings := &models.UserSettings{
		UserID:                userID,
		IMAPHost:              req.IMAP.Host,
		IMAPPort:              req.IMAP.Port,
		IMAPSecure:            req.IMAP.Secure,
		IMAPUsername:          req.IMAP.User,
		EncryptedIMAPPassword: encryptedIMAPPassword,
		SMTPHost:              req.SMTP.Host,
		SMTPPort:              req.SMTP.Port,
		SMTPSecure:            req.SMTP.Secure,
		SMTPUsername:          req.SMTP.User,
		EncryptedSMTPPassword: encryptedSMTPPassword,
	}

	if err := db.SaveUserSettings(ctx, h.pool, settings); err != nil {
		log.WithError(err).Error("failed to save settings")
		writeClientError(w, log, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}

	h.resolver.Invalidate(userID)
	h.emails.InvalidateUser(ctx, userID)
	log.WithFields(logrus.Fields{"imap": req.IMAP.String(), "smtp": req.SMTP.String()}).Info("settings saved")

	writeJSON(w, log, http.StatusOK, struct {
		Success bool `json:"success"`
	}{Success: true})
}

// fillStoredPasswords replaces empty passwords with the stored ones. On
// initial setup both passwords are required.
func (h *SettingsHandler) fillStoredPasswords(req *models.EmailSettingsRequest, existing *models.UserSettings) error {
	if req.IMAP.Password == "" {
		if existing == nil || len(existing.EncryptedIMAPPassword) == 0 {
			return mailerr.Newf(mailerr.KindConfigurationInvalid, "IMAP password is required for initial setup")
		}
		password, err := h.encryptor.Decrypt(existing.EncryptedIMAPPassword)
		if err != nil {
			return fmt.Errorf("failed to decrypt stored IMAP password: %w", err)
		}
		req.IMAP.Password = password
	}

	if req.SMTP.Password == "" {
		if existing == nil || len(existing.EncryptedSMTPPassword) == 0 {
			return mailerr.Newf(mailerr.KindConfigurationInvalid, "SMTP password is required for initial setup")
		}
		password, err := h.encryptor.Decrypt(existing.EncryptedSMTPPassword)
		if err != nil {
			return fmt.Errorf("failed to decrypt stored SMTP password: %w", err)
		}
		req.SMTP.Password = password
	}
	return nil
}

// validateSettingsRequest checks the required fields. Passwords are checked
// separately since they may be omitted on update.
func validateSettingsRequest(req *models.EmailSettingsRequest) error {
	req.IMAP.Host = strings.TrimSpace(req.IMAP.Host)
	req.IMAP.User = strings.TrimSpace(req.IMAP.User)
	req.SMTP.Host = strings.TrimSpace(req.SMTP.Host)
	req.SMTP.User = strings.TrimSpace(req.SMTP.User)

	if req.IMAP.Host == "" {
		return mailerr.Newf(mailerr.KindConfigurationInvalid, "IMAP host is required")
	}
	if req.IMAP.User == "" {
		return mailerr.Newf(mailerr.KindConfigurationInvalid, "IMAP user is required")
	}
	if req.IMAP.Port < 1 || req.IMAP.Port > 65535 {
		return mailerr.Newf(mailerr.KindConfigurationInvalid, "IMAP port must be between 1 and 65535")
	}
	if req.SMTP.Host == "" {
		return mailerr.Newf(mailerr.KindConfigurationInvalid, "SMTP host is required")
	}
	if req.SMTP.User == "" {
		return mailerr.Newf(mailerr.KindConfigurationInvalid, "SMTP user is required")
	}
	if req.SMTP.Port < 1 || req.SMTP.Port > 65535 {
		return mailerr.Newf(mailerr.KindConfigurationInvalid, "SMTP port must be between 1 and 65535")
	}
	return nil
}
