package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/conversation"
	"github.com/vdavid/postbox/internal/imap"
	"github.com/vdavid/postbox/internal/models"
)

// maxSendBodyBytes bounds the send payload, attachments included.
const maxSendBodyBytes = 25 << 20

// SendHandler delivers outbound mail and records it in its conversation.
type SendHandler struct {
	pool          *pgxpool.Pool
	resolver      CredentialResolver
	sender        MailSender
	conversations ConversationStore
	emails        EmailService
	log           *logrus.Entry
}

// NewSendHandler creates a new SendHandler instance.
func NewSendHandler(pool *pgxpool.Pool, resolver CredentialResolver, sender MailSender, conversations ConversationStore, emails EmailService, log *logrus.Entry) *SendHandler {
	return &SendHandler{
		pool:          pool,
		resolver:      resolver,
		sender:        sender,
		conversations: conversations,
		emails:        emails,
		log:           log,
	}
}

// Send handles POST /api/v1/send.
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool, h.log)
	if !ok {
		return
	}
	log := h.log.WithField("user_id", userID)

	var req models.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBodyBytes)).Decode(&req); err != nil {
		log.WithError(err).Warn("failed to decode send request")
		writeClientError(w, log, http.StatusBadRequest, CodeBadRequest, "Invalid request body")
		return
	}
	if !hasRecipient(req.To) {
		writeClientError(w, log, http.StatusBadRequest, CodeInvalidRecipient, "At least one recipient is required")
		return
	}

	creds, err := h.resolver.ResolveCredentials(ctx, userID)
	if err != nil {
		writeError(w, log, err, CodeSendFailed)
		return
	}

	msg, err := h.sender.Send(ctx, creds.SMTP, &req)
	if err != nil {
		writeError(w, log, err, CodeSendFailed)
		return
	}

	result := models.SendResult{Success: true, MessageID: msg.MessageID}

	// The message has left; recording it is best effort.
	to := make([]string, 0, len(msg.To)+len(msg.Cc))
	for _, a := range msg.To {
		to = append(to, a.Address)
	}
	for _, a := range msg.Cc {
		to = append(to, a.Address)
	}
	participants := conversation.Participants([]string{msg.From.Address}, to)
	convID := conversation.ID(participants, req.Subject)
	if _, err := h.conversations.AppendMessage(ctx, userID, convID, participants, req.Subject, &models.ConversationMessage{
		ExternalID:      conversation.MessageKey(msg.MessageID),
		Direction:       models.DirectionSent,
		From:            msg.From.Address,
		To:              to,
		Subject:         req.Subject,
		Content:         req.Content,
		MessageIDHeader: msg.MessageID,
		SentAt:          time.Now().UTC(),
	}); err != nil {
		log.WithError(err).Error("failed to record sent message")
	} else {
		result.ConversationID = convID
	}

	h.emails.InvalidateFolder(ctx, userID, imap.FolderSent)

	writeJSON(w, log, http.StatusOK, result)
}

func hasRecipient(list []string) bool {
	for _, a := range list {
		if strings.TrimSpace(a) != "" {
			return true
		}
	}
	return false
}
