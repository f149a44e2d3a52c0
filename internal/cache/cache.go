// Package cache holds short-lived folder page results.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vdavid/postbox/internal/models"
)

// Store caches page results. Implementations are safe for concurrent use.
// Writes are last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) (*models.PageResult, bool)
	Set(ctx context.Context, key string, value *models.PageResult, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
	InvalidatePrefix(ctx context.Context, prefix string)
}

// EmailsKey is the cache key of one folder page.
func EmailsKey(userID, folder string, page, limit int) string {
	return fmt.Sprintf("emails:%s:%s:%d:%d", userID, strings.ToLower(folder), page, limit)
}

// FolderPrefix matches every cached page of one folder.
func FolderPrefix(userID, folder string) string {
	return fmt.Sprintf("emails:%s:%s:", userID, strings.ToLower(folder))
}

// UserPrefix matches every cached page of a user.
func UserPrefix(userID string) string {
	return fmt.Sprintf("emails:%s:", userID)
}
