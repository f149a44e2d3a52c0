// Package smtp sends outbound mail through the user's SMTP server.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/mailerr"
	"github.com/vdavid/postbox/internal/models"
)

// Config bounds one SMTP conversation.
type Config struct {
	Timeout time.Duration
	// TLSConfig is cloned per connection; ServerName defaults to the host.
	TLSConfig *tls.Config
}

// Sender delivers messages over SMTP. It holds no connections between calls.
type Sender struct {
	cfg Config
	log *logrus.Entry
	now func() time.Time
}

func NewSender(cfg Config, log *logrus.Entry) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Sender{cfg: cfg, log: log, now: time.Now}
}

// Send composes req and delivers it. It returns the composed message so the
// caller can record it.
func (s *Sender) Send(ctx context.Context, creds models.SMTPCredentials, req *models.SendRequest) (*Message, error) {
	from, err := senderAddress(creds)
	if err != nil {
		return nil, err
	}
	msg, err := Compose(from, req, s.now())
	if err != nil {
		return nil, err
	}

	c, err := s.connect(ctx, creds)
	if err != nil {
		return nil, mailerr.New(mailerr.KindSendFailed, "could not reach the outgoing mail server", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Mail(from.Address, nil); err != nil {
		return nil, mailerr.New(mailerr.KindSendFailed, "the outgoing mail server rejected the sender", err)
	}
	for _, rcpt := range msg.Recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			if isRecipientRejection(err) {
				return nil, mailerr.New(mailerr.KindInvalidRecipient, fmt.Sprintf("recipient %s was rejected", rcpt), err)
			}
			return nil, mailerr.New(mailerr.KindSendFailed, "failed to send email", err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return nil, mailerr.New(mailerr.KindSendFailed, "failed to send email", err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		_ = w.Close()
		return nil, mailerr.New(mailerr.KindSendFailed, "failed to send email", err)
	}
	if err := w.Close(); err != nil {
		return nil, mailerr.New(mailerr.KindSendFailed, "failed to send email", err)
	}
	if err := c.Quit(); err != nil {
		s.log.WithError(err).Debug("QUIT after delivery failed")
	}

	s.log.WithFields(logrus.Fields{
		"host":       creds.Host,
		"recipients": len(msg.Recipients),
		"message_id": msg.MessageID,
	}).Info("message sent")
	return msg, nil
}

// TestConnection connects, authenticates and quits.
func (s *Sender) TestConnection(ctx context.Context, creds models.SMTPCredentials) error {
	c, err := s.connect(ctx, creds)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Quit(); err != nil {
		s.log.WithError(err).Debug("QUIT after connection test failed")
	}
	return nil
}

// connect dials, upgrades to TLS (implicit when Secure, STARTTLS when offered
// otherwise) and authenticates with PLAIN.
func (s *Sender) connect(ctx context.Context, creds models.SMTPCredentials) (*gosmtp.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", creds.Address())
	if err != nil {
		return nil, classify(ctx, err)
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	tlsConfig := s.tlsConfig(creds.Host)
	if creds.Secure {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, classify(ctx, err)
		}
		conn = tlsConn
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c := gosmtp.NewClient(conn)
	c.CommandTimeout = s.cfg.Timeout
	c.SubmissionTimeout = s.cfg.Timeout
	if err := c.Hello("localhost"); err != nil {
		_ = c.Close()
		return nil, classify(ctx, err)
	}

	if !creds.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Close()
				return nil, classify(ctx, err)
			}
		}
	}

	if creds.User != "" {
		if err := c.Auth(sasl.NewPlainClient("", creds.User, creds.Password)); err != nil {
			_ = c.Close()
			if isAuthRejection(err) {
				return nil, mailerr.New(mailerr.KindAuthFailed, "outgoing mail server rejected the credentials", err)
			}
			return nil, classify(ctx, err)
		}
	}

	_ = conn.SetDeadline(time.Time{})
	return c, nil
}

func (s *Sender) tlsConfig(host string) *tls.Config {
	cfg := &tls.Config{}
	if s.cfg.TLSConfig != nil {
		cfg = s.cfg.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return mailerr.Timeout(mailerr.PhaseConnect, err)
		}
		return ctxErr
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return mailerr.Timeout(mailerr.PhaseConnect, err)
	}
	return mailerr.New(mailerr.KindConnectionFailed, "could not connect to outgoing mail server", err)
}

func isRecipientRejection(err error) bool {
	var se *gosmtp.SMTPError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case 501, 550, 553:
		return true
	}
	return false
}

func isAuthRejection(err error) bool {
	var se *gosmtp.SMTPError
	if errors.As(err, &se) {
		return se.Code == 535 || se.Code == 534 || se.Code == 454
	}
	return false
}
