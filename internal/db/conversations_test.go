package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/postbox/internal/models"
	"github.com/vdavid/postbox/internal/testutil"
)

func TestAppendConversationMessage(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	userID, err := GetOrCreateUser(ctx, pool, "owner@example.com")
	require.NoError(t, err)

	newConv := func() *models.Conversation {
		return &models.Conversation{
			UserID:         userID,
			ConversationID: "conv-1",
			Participants:   []string{"a@example.com", "b@example.com"},
			Subject:        "Lunch",
		}
	}
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first append creates the conversation", func(t *testing.T) {
		appended, err := AppendConversationMessage(ctx, pool, newConv(), &models.ConversationMessage{
			ExternalID: "imap:INBOX:1:10",
			Direction:  models.DirectionReceived,
			From:       "b@example.com",
			To:         []string{"a@example.com"},
			Subject:    "Lunch",
			Content:    "noon?",
			SentAt:     t0,
		})
		require.NoError(t, err)
		assert.True(t, appended)
	})

	t.Run("same external id is a no-op", func(t *testing.T) {
		appended, err := AppendConversationMessage(ctx, pool, newConv(), &models.ConversationMessage{
			ExternalID: "imap:INBOX:1:10",
			Direction:  models.DirectionReceived,
			SentAt:     t0.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.False(t, appended)

		conv, err := GetConversation(ctx, pool, userID, "conv-1")
		require.NoError(t, err)
		assert.Len(t, conv.Messages, 1)
		assert.True(t, conv.LastMessageAt.Equal(t0))
	})

	t.Run("local messages always append", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			appended, err := AppendConversationMessage(ctx, pool, newConv(), &models.ConversationMessage{
				Direction: models.DirectionSent,
				From:      "a@example.com",
				Content:   "sure",
				SentAt:    t0.Add(2 * time.Hour),
			})
			require.NoError(t, err)
			assert.True(t, appended)
		}
	})

	t.Run("older message keeps last_message_at", func(t *testing.T) {
		appended, err := AppendConversationMessage(ctx, pool, newConv(), &models.ConversationMessage{
			ExternalID: "imap:INBOX:1:5",
			Direction:  models.DirectionReceived,
			SentAt:     t0.Add(-24 * time.Hour),
		})
		require.NoError(t, err)
		assert.True(t, appended)

		conv, err := GetConversation(ctx, pool, userID, "conv-1")
		require.NoError(t, err)
		assert.Len(t, conv.Messages, 4)
		assert.True(t, conv.LastMessageAt.Equal(t0.Add(2*time.Hour)))
		assert.Equal(t, "imap:INBOX:1:5", conv.Messages[0].ExternalID)
		assert.Equal(t, models.ConversationActive, conv.Status)
	})
}

func TestListAndGetConversations(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	userID, err := GetOrCreateUser(ctx, pool, "owner@example.com")
	require.NoError(t, err)
	otherID, err := GetOrCreateUser(ctx, pool, "other@example.com")
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		_, err := AppendConversationMessage(ctx, pool,
			&models.Conversation{UserID: userID, ConversationID: id, Subject: id},
			&models.ConversationMessage{Direction: models.DirectionSent, SentAt: base.Add(time.Duration(i) * time.Hour)},
		)
		require.NoError(t, err)
	}
	_, err = AppendConversationMessage(ctx, pool,
		&models.Conversation{UserID: otherID, ConversationID: "foreign"},
		&models.ConversationMessage{Direction: models.DirectionSent, SentAt: base},
	)
	require.NoError(t, err)

	list, total, err := ListConversations(ctx, pool, userID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ConversationID)
	assert.Equal(t, "mid", list[1].ConversationID)

	list, _, err = ListConversations(ctx, pool, userID, 2, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "old", list[0].ConversationID)

	_, err = GetConversation(ctx, pool, userID, "foreign")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}
