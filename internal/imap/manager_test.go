package imap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

type staticResolver struct {
	creds *models.Credentials
	err   error
}

func (r staticResolver) ResolveCredentials(context.Context, string) (*models.Credentials, error) {
	return r.creds, r.err
}

func testCredentials() *models.Credentials {
	return &models.Credentials{
		IMAP: models.IMAPCredentials{Host: "imap.example.com", Port: 993, Secure: true, User: "u", Password: "p"},
	}
}

// scriptedDialer returns the scripted errors in order, then fresh fake clients.
type scriptedDialer struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	clients []*fakeClient
}

func (d *scriptedDialer) dial(context.Context, models.IMAPCredentials) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	c := newFakeClient()
	d.clients = append(d.clients, c)
	return c, nil
}

func newTestManager(d *scriptedDialer, cfg ManagerConfig) (*Manager, *[]time.Duration) {
	m := NewManager(staticResolver{creds: testCredentials()}, d.dial, cfg, testLog())
	var slept []time.Duration
	m.sleep = func(ctx context.Context, delay time.Duration) error {
		slept = append(slept, delay)
		return ctx.Err()
	}
	return m, &slept
}

func connFailure() error {
	return mailerr.New(mailerr.KindConnectionFailed, "could not connect to mail server", errors.New("connection refused"))
}

func TestManagerOpenSession(t *testing.T) {
	ctx := context.Background()

	t.Run("retries connection failures with exponential backoff", func(t *testing.T) {
		d := &scriptedDialer{errs: []error{connFailure(), connFailure()}}
		m, slept := newTestManager(d, DefaultManagerConfig())

		s, err := m.OpenSession(ctx, "user-1")
		require.NoError(t, err)
		defer s.Close()

		assert.Equal(t, 3, d.calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
		assert.Equal(t, StateReady, s.State())
		assert.Equal(t, "imap.example.com", s.Host())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		d := &scriptedDialer{errs: []error{connFailure(), connFailure(), connFailure()}}
		m, slept := newTestManager(d, DefaultManagerConfig())

		_, err := m.OpenSession(ctx, "user-1")

		assert.ErrorIs(t, err, mailerr.ErrConnectionFailed)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Equal(t, 3, d.calls)
		assert.Len(t, *slept, 2)
	})

	t.Run("does not retry auth failures", func(t *testing.T) {
		d := &scriptedDialer{errs: []error{mailerr.New(mailerr.KindAuthFailed, "rejected", nil)}}
		m, slept := newTestManager(d, DefaultManagerConfig())

		_, err := m.OpenSession(ctx, "user-1")

		assert.ErrorIs(t, err, mailerr.ErrAuthFailed)
		assert.Equal(t, 1, d.calls)
		assert.Empty(t, *slept)
	})

	t.Run("does not retry timeouts", func(t *testing.T) {
		d := &scriptedDialer{errs: []error{mailerr.Timeout(mailerr.PhaseConnect, context.DeadlineExceeded)}}
		m, _ := newTestManager(d, DefaultManagerConfig())

		_, err := m.OpenSession(ctx, "user-1")

		assert.ErrorIs(t, err, mailerr.ErrConnectTimeout)
		assert.Equal(t, 1, d.calls)
	})

	t.Run("cancellation during backoff stops retrying", func(t *testing.T) {
		d := &scriptedDialer{errs: []error{connFailure(), connFailure()}}
		m, _ := newTestManager(d, DefaultManagerConfig())

		cancelled, cancel := context.WithCancel(ctx)
		m.sleep = func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}

		_, err := m.OpenSession(cancelled, "user-1")

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, d.calls)
	})

	t.Run("credential errors are returned before dialing", func(t *testing.T) {
		d := &scriptedDialer{}
		m := NewManager(staticResolver{err: mailerr.ErrCredentialsNotFound}, d.dial, DefaultManagerConfig(), testLog())

		_, err := m.OpenSession(ctx, "user-1")

		assert.ErrorIs(t, err, mailerr.ErrCredentialsNotFound)
		assert.Zero(t, d.calls)
	})
}

func TestManagerSessionSlots(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.MaxSessionsPerUser = 1
	d := &scriptedDialer{}
	m, _ := newTestManager(d, cfg)
	ctx := context.Background()

	first, err := m.OpenSession(ctx, "user-1")
	require.NoError(t, err)

	// A different user has its own slots.
	other, err := m.OpenSession(ctx, "user-2")
	require.NoError(t, err)
	require.NoError(t, other.Close())

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = m.OpenSession(waitCtx, "user-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	opened := make(chan *Session, 1)
	go func() {
		s, err := m.OpenSession(ctx, "user-1")
		if err == nil {
			opened <- s
		}
	}()

	select {
	case <-opened:
		t.Fatal("second session opened while the slot was taken")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Close())

	select {
	case s := <-opened:
		require.NoError(t, s.Close())
	case <-time.After(2 * time.Second):
		t.Fatal("session not opened after the slot was released")
	}
}

func TestManagerReleasesSlotOnConnectFailure(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.MaxSessionsPerUser = 1
	cfg.MaxAttempts = 1
	d := &scriptedDialer{errs: []error{connFailure()}}
	m, _ := newTestManager(d, cfg)

	_, err := m.OpenSession(context.Background(), "user-1")
	require.Error(t, err)

	s, err := m.OpenSession(context.Background(), "user-1")
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestManagerTestConnection(t *testing.T) {
	d := &scriptedDialer{errs: []error{connFailure()}}
	m, slept := newTestManager(d, DefaultManagerConfig())

	err := m.TestConnection(context.Background(), testCredentials().IMAP)
	assert.ErrorIs(t, err, mailerr.ErrConnectionFailed)
	assert.Equal(t, 1, d.calls)
	assert.Empty(t, *slept)

	require.NoError(t, m.TestConnection(context.Background(), testCredentials().IMAP))
	require.Len(t, d.clients, 1)
	assert.True(t, d.clients[0].loggedOut)
}
