package imap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/mailerr"
)

// Client is the subset of *client.Client a session needs.
type Client interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Support(capability string) (bool, error)
	Logout() error
	Terminate() error
}

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateFetching
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFetching:
		return "fetching"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ErrSessionNotReady is returned by Run when the session cannot take an operation.
var ErrSessionNotReady = errors.New("imap session is not ready")

const (
	logoutTimeout  = 5 * time.Second
	terminateGrace = 5 * time.Second
)

// Session is one authenticated mailbox connection owned by a single request.
type Session struct {
	userID       string
	host         string
	client       Client
	fetchTimeout time.Duration
	release      func()
	log          *logrus.Entry

	mu      sync.Mutex
	state   State
	closed  bool
	folders *folderTable
}

func newSession(userID, host string, fetchTimeout time.Duration, log *logrus.Entry) *Session {
	return &Session{
		userID:       userID,
		host:         host,
		fetchTimeout: fetchTimeout,
		log:          log,
		state:        StateConnecting,
	}
}

// attach moves a connecting session to Ready.
func (s *Session) attach(c Client, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
	s.release = release
	s.state = StateReady
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Host is the IMAP host this session is connected to.
func (s *Session) Host() string {
	return s.host
}

func (s *Session) setState(from, to State) {
	s.mu.Lock()
	if s.state == from {
		s.state = to
	}
	s.mu.Unlock()
}

// Run executes op under the wall-clock fetch timeout. On timeout or caller
// cancellation the connection is forcibly closed and the session ends up
// Disconnected; a timeout is reported as mailerr.ErrFetchTimeout and a
// cancellation as the context error.
func (s *Session) Run(ctx context.Context, op func(ctx context.Context, c Client) error) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrSessionNotReady
	}
	s.state = StateFetching
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(runCtx, s.client)
	}()

	select {
	case err := <-done:
		s.setState(StateFetching, StateReady)
		return err
	case <-runCtx.Done():
	}

	// Terminating the connection makes any blocked command return.
	_ = s.client.Terminate()
	select {
	case <-done:
	case <-time.After(terminateGrace):
		s.log.Warn("operation did not return after terminate")
	}
	s.setState(StateFetching, StateDisconnected)

	if errors.Is(ctx.Err(), context.Canceled) {
		s.log.Debug("operation cancelled by caller")
		return ctx.Err()
	}
	s.log.WithField("timeout", s.fetchTimeout).Warn("operation timed out")
	return mailerr.Timeout(mailerr.PhaseFetch, runCtx.Err())
}

// Close logs out, falling back to terminating the connection, and releases
// the per-user slot. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	prev := s.state
	s.state = StateClosing
	s.mu.Unlock()

	var err error
	if s.client != nil && prev != StateDisconnected {
		err = s.logout()
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	if s.release != nil {
		s.release()
	}
	return err
}

func (s *Session) logout() error {
	done := make(chan error, 1)
	go func() {
		done <- s.client.Logout()
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = s.client.Terminate()
		}
		return err
	case <-time.After(logoutTimeout):
		_ = s.client.Terminate()
		return errors.New("logout timed out")
	}
}
