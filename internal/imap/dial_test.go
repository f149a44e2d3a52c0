package imap

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
	"github.com/vdavid/postbox/internal/testutil"
)

func testDialConfig() DialConfig {
	return DialConfig{
		ConnectTimeout: 200 * time.Millisecond,
		AuthTimeout:    time.Second,
		KeepAlive:      time.Second,
	}
}

func credentialsFor(t *testing.T, addr string) models.IMAPCredentials {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return models.IMAPCredentials{Host: host, Port: port, User: "username", Password: "password"}
}

func TestDial(t *testing.T) {
	ctx := context.Background()

	t.Run("logs in to a plaintext server", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)

		c, err := Dial(ctx, server.Credentials(), testDialConfig())
		require.NoError(t, err)
		defer func() { _ = c.Logout() }()

		status, err := c.Select("INBOX", true)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), status.Messages)
	})

	t.Run("wrong password is an auth failure", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		creds := server.Credentials()
		creds.Password = "wrong"

		_, err := Dial(ctx, creds, testDialConfig())
		assert.ErrorIs(t, err, mailerr.ErrAuthFailed)
	})

	t.Run("closed port is a connection failure", func(t *testing.T) {
		_, err := Dial(ctx, credentialsFor(t, testutil.ClosedAddress(t)), testDialConfig())
		assert.ErrorIs(t, err, mailerr.ErrConnectionFailed)
	})

	t.Run("missing greeting is a connect timeout", func(t *testing.T) {
		start := time.Now()
		_, err := Dial(ctx, credentialsFor(t, testutil.NewSilentListener(t)), testDialConfig())

		assert.ErrorIs(t, err, mailerr.ErrConnectTimeout)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("cancelled caller", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := Dial(cancelled, credentialsFor(t, testutil.NewSilentListener(t)), testDialConfig())
		assert.ErrorIs(t, err, context.Canceled)
	})
}
