// Package credentials turns stored, encrypted mail settings into usable
// credentials and keeps them in a short-lived in-memory cache.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

// Store loads the encrypted settings record of a user.
type Store interface {
	GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error)
}

// Decrypter opens an encrypted password.
type Decrypter interface {
	Decrypt(ciphertext []byte) (string, error)
}

// PoolStore reads settings from Postgres.
type PoolStore struct {
	Pool *pgxpool.Pool
}

func (s PoolStore) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	return db.GetUserSettings(ctx, s.Pool, userID)
}

const defaultCacheSize = 4096

// Resolver resolves a user's decrypted credentials.
type Resolver struct {
	store     Store
	decrypter Decrypter
	cache     *expirable.LRU[string, *models.Credentials]
	log       *logrus.Entry
}

// NewResolver builds a Resolver caching plaintext credentials for ttl.
func NewResolver(store Store, decrypter Decrypter, ttl time.Duration, log *logrus.Entry) *Resolver {
	return &Resolver{
		store:     store,
		decrypter: decrypter,
		cache:     expirable.NewLRU[string, *models.Credentials](defaultCacheSize, nil, ttl),
		log:       log,
	}
}

// ResolveCredentials returns the user's credentials, from cache when fresh.
// It fails with mailerr.ErrCredentialsNotFound when nothing is configured.
func (r *Resolver) ResolveCredentials(ctx context.Context, userID string) (*models.Credentials, error) {
	if creds, ok := r.cache.Get(userID); ok {
		return creds, nil
	}

	settings, err := r.store.GetUserSettings(ctx, userID)
	if errors.Is(err, db.ErrUserSettingsNotFound) {
		return nil, mailerr.New(mailerr.KindCredentialsNotFound, "email settings are not configured", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user settings: %w", err)
	}

	creds, err := r.decrypt(settings)
	if err != nil {
		return nil, err
	}

	r.cache.Add(userID, creds)
	r.log.WithField("user_id", userID).Debug("credentials cached")

	return creds, nil
}

// Invalidate drops the cached credentials of a user.
func (r *Resolver) Invalidate(userID string) {
	r.cache.Remove(userID)
}

func (r *Resolver) decrypt(settings *models.UserSettings) (*models.Credentials, error) {
	imapPassword, err := r.decrypter.Decrypt(settings.EncryptedIMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	smtpPassword, err := r.decrypter.Decrypt(settings.EncryptedSMTPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	return &models.Credentials{
		IMAP: models.IMAPCredentials{
			Host:     settings.IMAPHost,
			Port:     settings.IMAPPort,
			Secure:   settings.IMAPSecure,
			User:     settings.IMAPUsername,
			Password: imapPassword,
		},
		SMTP: models.SMTPCredentials{
			Host:     settings.SMTPHost,
			Port:     settings.SMTPPort,
			Secure:   settings.SMTPSecure,
			User:     settings.SMTPUsername,
			Password: smtpPassword,
		},
	}, nil
}
