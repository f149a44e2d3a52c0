package imap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
	"golang.org/x/sync/semaphore"
)

// CredentialResolver resolves a user's decrypted credentials.
type CredentialResolver interface {
	ResolveCredentials(ctx context.Context, userID string) (*models.Credentials, error)
}

// DialFunc performs one connect attempt and returns an authenticated client.
type DialFunc func(ctx context.Context, creds models.IMAPCredentials) (Client, error)

// NetworkDialer returns a DialFunc backed by Dial.
func NetworkDialer(cfg DialConfig) DialFunc {
	return func(ctx context.Context, creds models.IMAPCredentials) (Client, error) {
		c, err := Dial(ctx, creds, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// ManagerConfig holds the connection policy.
type ManagerConfig struct {
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	FetchTimeout       time.Duration
	MaxSessionsPerUser int64
}

// DefaultManagerConfig returns the standard connection policy.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxAttempts:        3,
		RetryBaseDelay:     time.Second,
		FetchTimeout:       120 * time.Second,
		MaxSessionsPerUser: 3,
	}
}

// Manager opens one session per request. Sessions are never shared; a
// per-user semaphore bounds how many can be open at once.
type Manager struct {
	resolver CredentialResolver
	dial     DialFunc
	cfg      ManagerConfig
	log      *logrus.Entry

	// sleep waits between attempts. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	slots map[string]*semaphore.Weighted
}

// NewManager creates a Manager.
func NewManager(resolver CredentialResolver, dial DialFunc, cfg ManagerConfig, log *logrus.Entry) *Manager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxSessionsPerUser < 1 {
		cfg.MaxSessionsPerUser = 1
	}
	return &Manager{
		resolver: resolver,
		dial:     dial,
		cfg:      cfg,
		log:      log,
		sleep:    sleepContext,
		slots:    make(map[string]*semaphore.Weighted),
	}
}

// OpenSession resolves the user's credentials, waits for a free session slot
// and connects. The caller must Close the returned session.
func (m *Manager) OpenSession(ctx context.Context, userID string) (*Session, error) {
	creds, err := m.resolver.ResolveCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	slot := m.slot(userID)
	if err := slot.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	log := m.log.WithFields(logrus.Fields{"user_id": userID, "host": creds.IMAP.Host})
	session := newSession(userID, creds.IMAP.Host, m.cfg.FetchTimeout, log)

	c, err := m.connect(ctx, creds.IMAP, log)
	if err != nil {
		session.setState(StateConnecting, StateDisconnected)
		slot.Release(1)
		return nil, err
	}

	session.attach(c, func() { slot.Release(1) })
	log.Debug("session ready")
	return session, nil
}

// TestConnection performs a single connect and logout with the given credentials.
func (m *Manager) TestConnection(ctx context.Context, creds models.IMAPCredentials) error {
	c, err := m.dial(ctx, creds)
	if err != nil {
		return err
	}
	if err := c.Logout(); err != nil {
		_ = c.Terminate()
	}
	return nil
}

// connect runs the bounded attempt loop. Only connection failures are
// retried, with delays base, 2*base, 4*base and so on.
func (m *Manager) connect(ctx context.Context, creds models.IMAPCredentials, log *logrus.Entry) (Client, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		c, err := m.dial(ctx, creds)
		if err == nil {
			return c, nil
		}
		if mailerr.KindOf(err) != mailerr.KindConnectionFailed {
			return nil, err
		}
		lastErr = err

		if attempt == m.cfg.MaxAttempts {
			break
		}

		delay := m.cfg.RetryBaseDelay << (attempt - 1)
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("connect attempt failed, retrying")

		if err := m.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, mailerr.New(mailerr.KindConnectionFailed,
		fmt.Sprintf("could not connect to mail server after %d attempts", m.cfg.MaxAttempts), lastErr)
}

func (m *Manager) slot(userID string) *semaphore.Weighted {
	m.mu.RLock()
	s, ok := m.slots[userID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[userID]; ok {
		return s
	}
	s = semaphore.NewWeighted(m.cfg.MaxSessionsPerUser)
	m.slots[userID] = s
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
