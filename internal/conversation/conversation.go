// Package conversation derives conversation ids and persists messages into
// locally stored conversations.
package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/postbox/internal/db"
	"github.com/vdavid/postbox/internal/models"
)

var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fwd?)\s*(\[\d+\])?\s*:\s*`)

// NormalizeSubject strips any run of Re:/Fwd:/Fw: prefixes and surrounding
// whitespace, then lower-cases the rest.
func NormalizeSubject(subject string) string {
	s := subject
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeAddress reduces "Name <a@b>" to "a@b", lower-cased. Input that
// does not parse still yields the part inside the last angle brackets.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if parsed, err := mail.ParseAddress(address); err == nil {
		address = parsed.Address
	} else if open := strings.LastIndex(address, "<"); open >= 0 {
		if end := strings.Index(address[open:], ">"); end > 1 {
			address = address[open+1 : open+end]
		}
	}
	return strings.ToLower(strings.TrimSpace(address))
}

// Participants normalizes, deduplicates and sorts addresses.
func Participants(addresses ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range addresses {
		for _, a := range list {
			n := NormalizeAddress(a)
			if n == "" {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// ID is a deterministic id over the participant set and the normalized
// subject. Participant order, case and display names do not matter.
func ID(participants []string, subject string) string {
	h := sha256.New()
	for _, p := range Participants(participants) {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	h.Write([]byte{0})
	h.Write([]byte(NormalizeSubject(subject)))
	return hex.EncodeToString(h.Sum(nil))
}

// ExternalID is the idempotency key of a message imported from IMAP that has
// no Message-ID header.
func ExternalID(mailbox string, uidValidity, uid uint32) string {
	return fmt.Sprintf("imap:%s:%d:%d", mailbox, uidValidity, uid)
}

// MessageKey is the idempotency key of a message carrying a Message-ID. Sent
// mail and its copy imported from the sent folder share it.
func MessageKey(messageID string) string {
	id := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(messageID), "<"), ">")
	if id == "" {
		return ""
	}
	return "msgid:" + id
}

// MessageExternalID picks MessageKey when a Message-ID is known and ExternalID
// otherwise.
func MessageExternalID(messageID, mailbox string, uidValidity, uid uint32) string {
	if key := MessageKey(messageID); key != "" {
		return key
	}
	return ExternalID(mailbox, uidValidity, uid)
}

// Store persists conversations.
type Store interface {
	AppendConversationMessage(ctx context.Context, conv *models.Conversation, msg *models.ConversationMessage) (bool, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, int, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error)
}

// PoolStore is the Postgres Store.
type PoolStore struct {
	Pool *pgxpool.Pool
}

func (s PoolStore) AppendConversationMessage(ctx context.Context, conv *models.Conversation, msg *models.ConversationMessage) (bool, error) {
	return db.AppendConversationMessage(ctx, s.Pool, conv, msg)
}

func (s PoolStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, int, error) {
	return db.ListConversations(ctx, s.Pool, userID, limit, offset)
}

func (s PoolStore) GetConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	return db.GetConversation(ctx, s.Pool, userID, conversationID)
}

// Adapter appends messages to conversations.
type Adapter struct {
	store Store
}

func NewAdapter(store Store) *Adapter {
	return &Adapter{store: store}
}

// AppendMessage finds or creates the conversation and appends msg.
// A message whose ExternalID is already stored is skipped and appended is false.
func (a *Adapter) AppendMessage(ctx context.Context, userID, conversationID string, participants []string, subject string, msg *models.ConversationMessage) (bool, error) {
	conv := &models.Conversation{
		UserID:         userID,
		ConversationID: conversationID,
		Participants:   Participants(participants),
		Subject:        subject,
		Status:         models.ConversationActive,
	}

	appended, err := a.store.AppendConversationMessage(ctx, conv, msg)
	if err != nil {
		return false, fmt.Errorf("failed to append to conversation %s: %w", conversationID, err)
	}
	return appended, nil
}

// List returns one page of the user's conversations.
func (a *Adapter) List(ctx context.Context, userID string, page, limit int) (*models.ConversationsResponse, error) {
	conversations, total, err := a.store.ListConversations(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}

	pages := 0
	if total > 0 {
		pages = (total + limit - 1) / limit
	}

	return &models.ConversationsResponse{
		Conversations: conversations,
		Pagination: models.Pagination{
			Total:   total,
			Pages:   pages,
			Current: page,
			HasMore: page < pages,
		},
	}, nil
}

// Get returns a conversation with its messages.
func (a *Adapter) Get(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	return a.store.GetConversation(ctx, userID, conversationID)
}
