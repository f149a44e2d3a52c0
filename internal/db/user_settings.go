package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/postbox/internal/models"
)

// ErrUserSettingsNotFound is returned when user settings cannot be found.
var ErrUserSettingsNotFound = errors.New("user settings not found")

// UserSettingsExist returns true if the user settings exist.
func UserSettingsExist(ctx context.Context, pool *pgxpool.Pool, userID string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_settings WHERE user_id = $1)
	`, userID).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check user settings existence: %w", err)
	}

	return exists, nil
}

// GetUserSettings returns the stored (encrypted) mail settings of a user.
func GetUserSettings(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.UserSettings, error) {
	var settings models.UserSettings

	err := pool.QueryRow(ctx, `
		SELECT
			user_id,
			imap_host,
			imap_port,
			imap_secure,
			imap_username,
			encrypted_imap_password,
			smtp_host,
			smtp_port,
			smtp_secure,
			smtp_username,
			encrypted_smtp_password,
			created_at,
			updated_at
		FROM user_settings
		WHERE user_id = $1
	`, userID).Scan(
		&settings.UserID,
		&settings.IMAPHost,
		&settings.IMAPPort,
		&settings.IMAPSecure,
		&settings.IMAPUsername,
		&settings.EncryptedIMAPPassword,
		&settings.SMTPHost,
		&settings.SMTPPort,
		&settings.SMTPSecure,
		&settings.SMTPUsername,
		&settings.EncryptedSMTPPassword,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserSettingsNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	return &settings, nil
}

// SaveUserSettings inserts or replaces the mail settings of a user.
func SaveUserSettings(ctx context.Context, pool *pgxpool.Pool, settings *models.UserSettings) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO user_settings (
			user_id,
			imap_host,
			imap_port,
			imap_secure,
			imap_username,
			encrypted_imap_password,
			smtp_host,
			smtp_port,
			smtp_secure,
			smtp_username,
			encrypted_smtp_password
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			imap_host = EXCLUDED.imap_host,
			imap_port = EXCLUDED.imap_port,
			imap_secure = EXCLUDED.imap_secure,
			imap_username = EXCLUDED.imap_username,
			encrypted_imap_password = EXCLUDED.encrypted_imap_password,
			smtp_host = EXCLUDED.smtp_host,
			smtp_port = EXCLUDED.smtp_port,
			smtp_secure = EXCLUDED.smtp_secure,
			smtp_username = EXCLUDED.smtp_username,
			encrypted_smtp_password = EXCLUDED.encrypted_smtp_password,
			updated_at = NOW()
	`,
		settings.UserID,
		settings.IMAPHost,
		settings.IMAPPort,
		settings.IMAPSecure,
		settings.IMAPUsername,
		settings.EncryptedIMAPPassword,
		settings.SMTPHost,
		settings.SMTPPort,
		settings.SMTPSecure,
		settings.SMTPUsername,
		settings.EncryptedSMTPPassword,
	)

	if err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}

	return nil
}
