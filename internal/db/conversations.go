package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/postbox/internal/models"
)

// ErrConversationNotFound is returned when a requested conversation cannot be found.
var ErrConversationNotFound = errors.New("conversation not found")

// AppendConversationMessage finds or creates the conversation identified by
// (conv.UserID, conv.ConversationID) and appends msg to it in one transaction.
// A message whose ExternalID was already stored for the user is skipped and
// appended is false. last_message_at only ever moves forward.
func AppendConversationMessage(ctx context.Context, pool *pgxpool.Pool, conv *models.Conversation, msg *models.ConversationMessage) (appended bool, err error) {
	var externalID *string
	if msg.ExternalID != "" {
		externalID = &msg.ExternalID
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if conv.Participants == nil {
		conv.Participants = []string{}
	}
	if msg.To == nil {
		msg.To = []string{}
	}
	status := conv.Status
	if status == "" {
		status = models.ConversationActive
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var rowID string
		if err := tx.QueryRow(ctx, `
			INSERT INTO conversations (user_id, conversation_id, participants, subject, status, last_message_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, conversation_id) DO UPDATE SET
				updated_at = NOW()
			RETURNING id
		`, conv.UserID, conv.ConversationID, conv.Participants, conv.Subject, string(status), msg.SentAt).Scan(&rowID); err != nil {
			return fmt.Errorf("failed to upsert conversation: %w", err)
		}
		conv.ID = rowID

		var messageID string
		err := tx.QueryRow(ctx, `
			INSERT INTO conversation_messages (
				conversation_id,
				user_id,
				external_id,
				direction,
				from_address,
				to_addresses,
				subject,
				content,
				message_id_header,
				sent_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (user_id, external_id) WHERE external_id IS NOT NULL DO NOTHING
			RETURNING id
		`,
			rowID,
			conv.UserID,
			externalID,
			string(msg.Direction),
			msg.From,
			msg.To,
			msg.Subject,
			msg.Content,
			msg.MessageIDHeader,
			msg.SentAt,
		).Scan(&messageID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert conversation message: %w", err)
		}
		msg.ID = messageID

		if _, err := tx.Exec(ctx, `
			UPDATE conversations
			SET last_message_at = GREATEST(last_message_at, $2),
				updated_at = NOW()
			WHERE id = $1
		`, rowID, msg.SentAt); err != nil {
			return fmt.Errorf("failed to bump conversation: %w", err)
		}

		appended = true
		return nil
	})

	if err != nil {
		return false, err
	}
	return appended, nil
}

// ListConversations returns a user's conversations, most recent first, and the total count.
func ListConversations(ctx context.Context, pool *pgxpool.Pool, userID string, limit, offset int) ([]*models.Conversation, int, error) {
	var total int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversations WHERE user_id = $1
	`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT id, user_id, conversation_id, participants, subject, status, last_message_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY last_message_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]*models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		conversations = append(conversations, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating conversations: %w", err)
	}

	return conversations, total, nil
}

// GetConversation returns one conversation with its messages in send order.
func GetConversation(ctx context.Context, pool *pgxpool.Pool, userID, conversationID string) (*models.Conversation, error) {
	row := pool.QueryRow(ctx, `
		SELECT id, user_id, conversation_id, participants, subject, status, last_message_at
		FROM conversations
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT id, COALESCE(external_id, ''), direction, from_address, to_addresses,
			subject, content, message_id_header, sent_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY sent_at, created_at
	`, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg models.ConversationMessage
		var direction string
		if err := rows.Scan(
			&msg.ID,
			&msg.ExternalID,
			&direction,
			&msg.From,
			&msg.To,
			&msg.Subject,
			&msg.Content,
			&msg.MessageIDHeader,
			&msg.SentAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation message: %w", err)
		}
		msg.Direction = models.Direction(direction)
		conv.Messages = append(conv.Messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation messages: %w", err)
	}

	return conv, nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conv models.Conversation
	var status string
	err := row.Scan(
		&conv.ID,
		&conv.UserID,
		&conv.ConversationID,
		&conv.Participants,
		&conv.Subject,
		&status,
		&conv.LastMessageAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	conv.Status = models.ConversationStatus(status)
	return &conv, nil
}
