package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

// DialConfig bounds one connection attempt.
type DialConfig struct {
	ConnectTimeout time.Duration
	AuthTimeout    time.Duration
	KeepAlive      time.Duration
	// TLSConfig is cloned per connection; ServerName defaults to the host.
	TLSConfig *tls.Config
}

// Dial connects, reads the greeting, optionally negotiates implicit TLS and
// logs in. The connect deadline covers TCP, TLS and the greeting; the auth
// deadline covers LOGIN.
//
// Errors are classified: network failures are mailerr.ErrConnectionFailed
// (retryable), expired deadlines are mailerr.ErrConnectTimeout and a rejected
// LOGIN is mailerr.ErrAuthFailed.
func Dial(ctx context.Context, creds models.IMAPCredentials, cfg DialConfig) (*client.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	conn, err := dialer.DialContext(connectCtx, "tcp", creds.Address())
	if err != nil {
		return nil, classifyNetError(ctx, err)
	}

	deadline, _ := connectCtx.Deadline()
	_ = conn.SetDeadline(deadline)

	if creds.Secure {
		tlsConfig := &tls.Config{}
		if cfg.TLSConfig != nil {
			tlsConfig = cfg.TLSConfig.Clone()
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = creds.Host
		}
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(connectCtx); err != nil {
			_ = conn.Close()
			return nil, classifyNetError(ctx, err)
		}
		conn = tlsConn
	}

	// Unblocks the greeting read when the caller goes away.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, classifyDeadline(ctx, err, deadline)
	}

	authDeadline := time.Now().Add(cfg.AuthTimeout)
	_ = conn.SetDeadline(authDeadline)
	if err := c.Login(creds.User, creds.Password); err != nil {
		_ = c.Terminate()
		if isNetError(err) || ctx.Err() != nil || !time.Now().Before(authDeadline) {
			return nil, classifyDeadline(ctx, err, authDeadline)
		}
		return nil, mailerr.New(mailerr.KindAuthFailed, "mail server rejected the credentials", err)
	}

	_ = conn.SetDeadline(time.Time{})
	return c, nil
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, net.ErrClosed)
}

// classifyDeadline treats any failure at or past the connection deadline as a
// timeout; go-imap does not always keep the net.Error in the chain.
func classifyDeadline(ctx context.Context, err error, deadline time.Time) error {
	if ctx.Err() == nil && !time.Now().Before(deadline) {
		return mailerr.Timeout(mailerr.PhaseConnect, err)
	}
	return classifyNetError(ctx, err)
}

func classifyNetError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return mailerr.Timeout(mailerr.PhaseConnect, err)
	}

	return mailerr.New(mailerr.KindConnectionFailed, "could not connect to mail server", err)
}
