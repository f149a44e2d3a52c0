package testutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/vdavid/postbox/internal/models"
)

// TestIMAPServer is an in-memory IMAP server. The memory backend has a
// single user "username"/"password" whose INBOX starts with one message.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	listener net.Listener
	username string
	password string
}

// StartIMAPServer starts an in-memory IMAP server on addr ("127.0.0.1:0" for a random port).
func StartIMAPServer(addr string) (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true
	s.Enable(idle.NewExtension())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	return &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		listener: listener,
		username: "username",
		password: "password",
	}, nil
}

// NewTestIMAPServer starts a server on a random port and closes it when the test ends.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	s, err := StartIMAPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	t.Cleanup(s.Close)

	return s
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	_ = s.Server.Close()
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Credentials returns plaintext IMAP credentials pointing at this server.
func (s *TestIMAPServer) Credentials() models.IMAPCredentials {
	host, portStr, _ := net.SplitHostPort(s.Address)
	port, _ := strconv.Atoi(portStr)
	return models.IMAPCredentials{
		Host:     host,
		Port:     port,
		Secure:   false,
		User:     s.username,
		Password: s.password,
	}
}

// Dial opens a logged-in client.
func (s *TestIMAPServer) Dial() (*imapclient.Client, error) {
	c, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test server: %w", err)
	}

	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return c, nil
}

// CreateMailbox creates a mailbox for the default user. An existing mailbox is not an error.
func (s *TestIMAPServer) CreateMailbox(name string) error {
	c, err := s.Dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	if err := c.Create(name); err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create mailbox %s: %w", name, err)
	}
	return nil
}

// AppendRaw appends a raw RFC 5322 message to a mailbox.
func (s *TestIMAPServer) AppendRaw(mailbox, raw string, date time.Time) error {
	c, err := s.Dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	raw = strings.ReplaceAll(strings.ReplaceAll(raw, "\r\n", "\n"), "\n", "\r\n")
	if err := c.Append(mailbox, []string{imap.SeenFlag}, date, strings.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// AddMessage appends a plain-text message built from the given fields.
func (s *TestIMAPServer) AddMessage(mailbox, messageID, subject, from, to, body string, sentAt time.Time) error {
	raw := fmt.Sprintf("Message-ID: %s\nDate: %s\nFrom: %s\nTo: %s\nSubject: %s\nContent-Type: text/plain; charset=utf-8\n\n%s\n",
		messageID, sentAt.Format(time.RFC1123Z), from, to, subject, body)
	return s.AppendRaw(mailbox, raw, sentAt)
}

// MustAddMessage is AddMessage failing the test on error.
func (s *TestIMAPServer) MustAddMessage(t *testing.T, mailbox, messageID, subject, from, to, body string, sentAt time.Time) {
	t.Helper()
	if err := s.AddMessage(mailbox, messageID, subject, from, to, body, sentAt); err != nil {
		t.Fatal(err)
	}
}

// NewSilentListener accepts TCP connections and never writes a greeting.
// It returns the address; the listener is closed when the test ends.
func NewSilentListener(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()

	t.Cleanup(func() {
		_ = listener.Close()
		<-done
		for _, c := range conns {
			_ = c.Close()
		}
	})

	return listener.Addr().String()
}

// ClosedAddress returns a local address nothing listens on.
func ClosedAddress(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()
	return addr
}
