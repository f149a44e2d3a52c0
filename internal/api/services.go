package api

import (
	"context"

	"github.com/vdavid/postbox/internal/imap"
	"github.com/vdavid/postbox/internal/models"
	"github.com/vdavid/postbox/internal/smtp"
)

// EmailService is the inbound side used by the handlers; *imap.Service implements it.
type EmailService interface {
	GetEmails(ctx context.Context, userID, folder string, page, limit int, refresh bool) (*models.PageResult, error)
	ListFolders(ctx context.Context, userID string) ([]models.Folder, error)
	ImportPage(ctx context.Context, userID, folder string, page, limit int) (*imap.ImportResult, error)
	InvalidateFolder(ctx context.Context, userID, folder string)
	InvalidateUser(ctx context.Context, userID string)
	TestConnection(ctx context.Context, creds models.IMAPCredentials) error
	StartIdleListener(ctx context.Context, userID string, hub imap.Notifier)
}

// MailSender delivers outbound mail; *smtp.Sender implements it.
type MailSender interface {
	Send(ctx context.Context, creds models.SMTPCredentials, req *models.SendRequest) (*smtp.Message, error)
	TestConnection(ctx context.Context, creds models.SMTPCredentials) error
}

// CredentialResolver resolves and forgets decrypted credentials.
type CredentialResolver interface {
	ResolveCredentials(ctx context.Context, userID string) (*models.Credentials, error)
	Invalidate(userID string)
}

// ConversationStore is the conversation adapter used by the handlers.
type ConversationStore interface {
	AppendMessage(ctx context.Context, userID, conversationID string, participants []string, subject string, msg *models.ConversationMessage) (bool, error)
	List(ctx context.Context, userID string, page, limit int) (*models.ConversationsResponse, error)
	Get(ctx context.Context, userID, conversationID string) (*models.Conversation, error)
}
