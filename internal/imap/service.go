package imap

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/cache"
	"github.com/vdavid/postbox/internal/conversation"
	"github.com/vdavid/postbox/internal/models"
	"golang.org/x/sync/singleflight"
)

// ConversationAppender stores a message into a conversation.
type ConversationAppender interface {
	AppendMessage(ctx context.Context, userID, conversationID string, participants []string, subject string, msg *models.ConversationMessage) (bool, error)
}

// ImportResult summarises one ImportPage call.
type ImportResult struct {
	Imported        int      `json:"imported"`
	Skipped         int      `json:"skipped"`
	ConversationIDs []string `json:"conversationIds"`
}

// openAllowance bounds session setup (credentials, dial, login, retries) of a
// shared fetch on top of the manager's fetch timeout.
const openAllowance = time.Minute

// Service orchestrates folder page retrieval: cache, session, folder
// mapping and fetching.
type Service struct {
	manager       *Manager
	mapper        *FolderMapper
	engine        *FetchEngine
	cache         cache.Store
	cacheTTL      time.Duration
	conversations ConversationAppender
	group         singleflight.Group
	sharedTimeout time.Duration
	log           *logrus.Entry
}

// NewService creates a Service. The cache is injected and shared by the caller.
func NewService(manager *Manager, store cache.Store, cacheTTL time.Duration, conversations ConversationAppender, log *logrus.Entry) *Service {
	return &Service{
		manager:       manager,
		mapper:        NewFolderMapper(log.WithField("part", "folders")),
		engine:        NewFetchEngine(log.WithField("part", "fetch")),
		cache:         store,
		cacheTTL:      cacheTTL,
		conversations: conversations,
		sharedTimeout: manager.cfg.FetchTimeout + openAllowance,
		log:           log,
	}
}

// GetEmails returns one page of a logical folder. A fresh cached result is
// returned unless refresh is set, in which case the entry is dropped and the
// page fetched live. Concurrent misses on the same key share one fetch.
//
// The shared fetch is detached from the caller that started it: a waiter
// that gives up gets its own ctx error while the others keep waiting.
func (s *Service) GetEmails(ctx context.Context, userID, folder string, page, limit int, refresh bool) (*models.PageResult, error) {
	key := cache.EmailsKey(userID, folder, page, limit)

	if refresh {
		s.cache.Invalidate(ctx, key)
	} else if cached, ok := s.cache.Get(ctx, key); ok {
		return cached, nil
	}

	ch := s.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sharedTimeout)
		defer cancel()

		p, err := s.fetchPage(fetchCtx, userID, folder, page, limit)
		if err != nil {
			return nil, err
		}
		result := &models.PageResult{
			Success:    true,
			Emails:     p.Emails,
			Pagination: p.Pagination,
		}
		s.cache.Set(fetchCtx, key, result, s.cacheTTL)
		return result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.PageResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListFolders returns the resolved logical folder table of the user's server.
func (s *Service) ListFolders(ctx context.Context, userID string) ([]models.Folder, error) {
	session, err := s.manager.OpenSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer s.closeSession(session)

	var folders []models.Folder
	err = session.Run(ctx, func(ctx context.Context, c Client) error {
		folders = s.mapper.Folders(session)
		return nil
	})
	return folders, err
}

// ImportPage fetches one live page and appends every message to its
// conversation. Messages already stored are skipped by their Message-ID key,
// or by imap:{mailbox}:{uidvalidity}:{uid} when they carry no Message-ID.
func (s *Service) ImportPage(ctx context.Context, userID, folder string, page, limit int) (*ImportResult, error) {
	if s.conversations == nil {
		return nil, fmt.Errorf("conversation store is not configured")
	}

	p, err := s.fetchPage(ctx, userID, folder, page, limit)
	if err != nil {
		return nil, err
	}

	direction := models.DirectionReceived
	if CanonicalFolder(folder) == FolderSent {
		direction = models.DirectionSent
	}

	result := &ImportResult{ConversationIDs: []string{}}
	seen := make(map[string]struct{})
	for _, email := range p.Emails {
		recipients := make([]string, 0, len(email.To)+len(email.Cc))
		recipients = append(recipients, email.To...)
		recipients = append(recipients, email.Cc...)
		participants := conversation.Participants([]string{email.From}, recipients)
		convID := conversation.ID(participants, email.Subject)

		appended, err := s.conversations.AppendMessage(ctx, userID, convID, participants, email.Subject, &models.ConversationMessage{
			ExternalID:      conversation.MessageExternalID(email.MessageID, p.Mailbox, p.UIDValidity, email.ID),
			Direction:       direction,
			From:            email.From,
			To:              recipients,
			Subject:         email.Subject,
			Content:         email.Content,
			MessageIDHeader: email.MessageID,
			SentAt:          email.Date,
		})
		if err != nil {
			return result, err
		}

		if appended {
			result.Imported++
		} else {
			result.Skipped++
		}
		if _, ok := seen[convID]; !ok {
			seen[convID] = struct{}{}
			result.ConversationIDs = append(result.ConversationIDs, convID)
		}
	}

	s.log.WithFields(logrus.Fields{
		"user_id":  userID,
		"folder":   folder,
		"imported": result.Imported,
		"skipped":  result.Skipped,
	}).Info("page imported")

	return result, nil
}

// InvalidateFolder drops every cached page of a folder.
func (s *Service) InvalidateFolder(ctx context.Context, userID, folder string) {
	s.cache.InvalidatePrefix(ctx, cache.FolderPrefix(userID, folder))
}

// InvalidateUser drops every cached page of a user.
func (s *Service) InvalidateUser(ctx context.Context, userID string) {
	s.cache.InvalidatePrefix(ctx, cache.UserPrefix(userID))
}

// TestConnection checks that the credentials can log in.
func (s *Service) TestConnection(ctx context.Context, creds models.IMAPCredentials) error {
	return s.manager.TestConnection(ctx, creds)
}

func (s *Service) fetchPage(ctx context.Context, userID, folder string, page, limit int) (*Page, error) {
	session, err := s.manager.OpenSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer s.closeSession(session)

	var result *Page
	err = session.Run(ctx, func(ctx context.Context, c Client) error {
		path, err := s.mapper.MapFolder(folder, session)
		if err != nil {
			return err
		}
		result, err = s.engine.FetchPage(ctx, c, path, page, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) closeSession(session *Session) {
	if err := session.Close(); err != nil {
		s.log.WithError(err).Debug("session close")
	}
}
