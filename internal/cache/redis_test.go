package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/postbox/internal/logging"
	"github.com/vdavid/postbox/internal/testutil"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	r, err := NewRedis(ctx, testutil.NewTestRedis(t), logging.Component(logging.Discard(), "cache"))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	key := EmailsKey("u1", "inbox", 1, 10)
	_, ok := r.Get(ctx, key)
	assert.False(t, ok)

	r.Set(ctx, key, page("hello"), time.Minute)
	got, ok := r.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Emails[0].Subject)
	assert.Equal(t, 1, got.Pagination.Total)

	r.Set(ctx, EmailsKey("u1", "inbox", 2, 10), page("two"), time.Minute)
	r.Set(ctx, EmailsKey("u1", "sent", 1, 10), page("sent"), time.Minute)
	r.InvalidatePrefix(ctx, FolderPrefix("u1", "inbox"))

	_, ok = r.Get(ctx, key)
	assert.False(t, ok)
	_, ok = r.Get(ctx, EmailsKey("u1", "sent", 1, 10))
	assert.True(t, ok)

	r.Invalidate(ctx, EmailsKey("u1", "sent", 1, 10))
	_, ok = r.Get(ctx, EmailsKey("u1", "sent", 1, 10))
	assert.False(t, ok)

	r.Set(ctx, "ttl", page("ttl"), 50*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, ok := r.Get(ctx, "ttl")
		return !ok
	}, 2*time.Second, 25*time.Millisecond)
}

func TestRedisInvalidatePrefixWithGlobCharacters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	r, err := NewRedis(ctx, testutil.NewTestRedis(t), logging.Component(logging.Discard(), "cache"))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	gmailSent := EmailsKey("u1", "[Gmail]/Sent Mail", 1, 10)
	lookalike := EmailsKey("u1", "G/Sent Mail", 1, 10)
	starred := EmailsKey("u1", "a*b?", 1, 10)
	r.Set(ctx, gmailSent, page("sent"), time.Minute)
	r.Set(ctx, lookalike, page("other"), time.Minute)
	r.Set(ctx, starred, page("starred"), time.Minute)

	r.InvalidatePrefix(ctx, FolderPrefix("u1", "[Gmail]/Sent Mail"))

	_, ok := r.Get(ctx, gmailSent)
	assert.False(t, ok)
	_, ok = r.Get(ctx, lookalike)
	assert.True(t, ok)

	r.InvalidatePrefix(ctx, FolderPrefix("u1", "a*"))
	_, ok = r.Get(ctx, starred)
	assert.True(t, ok, "a literal * must not act as a wildcard")

	r.InvalidatePrefix(ctx, FolderPrefix("u1", "a*b?"))
	_, ok = r.Get(ctx, starred)
	assert.False(t, ok)
}

func TestMatchPrefix(t *testing.T) {
	assert.Equal(t, `emails:u1:inbox:*`, matchPrefix("emails:u1:inbox:"))
	assert.Equal(t, `emails:u1:\[gmail\]/sent mail:*`, matchPrefix("emails:u1:[gmail]/sent mail:"))
	assert.Equal(t, `a\*b\?c\\*`, matchPrefix(`a*b?c\`))
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not a url", logging.Component(logging.Discard(), "cache"))
	assert.Error(t, err)
}
