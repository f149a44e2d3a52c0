package imap

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
)

// Notifier pushes messages to a user's live connections.
type Notifier interface {
	ActiveConnections(userID string) int
	Send(userID string, msg []byte)
}

const (
	// idleListenerSleep is the backoff after an error before retrying IDLE.
	idleListenerSleep = 10 * time.Second
	idlePollInterval  = 5 * time.Second
)

// NewEmailEvent is pushed when the inbox grows.
type NewEmailEvent struct {
	Type   string `json:"type"`
	Folder string `json:"folder"`
}

// StartIdleListener runs an IMAP IDLE loop on the user's INBOX while the user
// has live connections. A new message invalidates the cached inbox pages and
// pushes a new_email event. It blocks until ctx is cancelled.
func (s *Service) StartIdleListener(ctx context.Context, userID string, hub Notifier) {
	log := s.log.WithField("user_id", userID)

	for ctx.Err() == nil {
		if hub.ActiveConnections(userID) == 0 {
			if sleepContext(ctx, idleListenerSleep) != nil {
				return
			}
			continue
		}

		c, err := s.openListener(ctx, userID)
		if err != nil {
			log.WithError(err).Warn("IDLE: failed to connect")
			if sleepContext(ctx, idleListenerSleep) != nil {
				return
			}
			continue
		}

		if err := s.runIdleLoop(ctx, userID, c, hub); err != nil {
			log.WithError(err).Warn("IDLE: loop ended")
		}
		if err := c.Logout(); err != nil {
			_ = c.Terminate()
		}

		if sleepContext(ctx, idleListenerSleep) != nil {
			return
		}
	}
}

// openListener dials a dedicated connection outside the per-user session slots.
func (s *Service) openListener(ctx context.Context, userID string) (*imapclient.Client, error) {
	creds, err := s.manager.resolver.ResolveCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	c, err := s.manager.connect(ctx, creds.IMAP, s.log.WithField("user_id", userID))
	if err != nil {
		return nil, err
	}

	concrete, ok := c.(*imapclient.Client)
	if !ok {
		_ = c.Terminate()
		return nil, errors.New("IDLE needs a network client")
	}
	return concrete, nil
}

func (s *Service) runIdleLoop(ctx context.Context, userID string, c *imapclient.Client, hub Notifier) error {
	updates := make(chan imapclient.Update, 10)
	c.Updates = updates

	if _, err := c.Select("INBOX", true); err != nil {
		return err
	}

	idleClient := idle.NewClient(c)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, idlePollInterval)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return nil
		case err := <-done:
			return err
		case update := <-updates:
			s.handleMailboxUpdate(ctx, userID, update, hub)
		}
	}
}

// handleMailboxUpdate reports whether the update announced INBOX messages.
func (s *Service) handleMailboxUpdate(ctx context.Context, userID string, update imapclient.Update, hub Notifier) bool {
	mboxUpdate, ok := update.(*imapclient.MailboxUpdate)
	if !ok || mboxUpdate.Mailbox == nil {
		return false
	}

	status := mboxUpdate.Mailbox
	if status.Name != "INBOX" || status.Messages == 0 {
		return false
	}

	s.InvalidateFolder(ctx, userID, FolderInbox)

	payload, err := json.Marshal(NewEmailEvent{Type: "new_email", Folder: FolderInbox})
	if err != nil {
		s.log.WithError(err).Error("IDLE: failed to marshal new_email event")
		return true
	}
	hub.Send(userID, payload)
	return true
}
