package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/postbox/internal/models"
)

// Redis stores page results as JSON strings with a native TTL.
// Cache failures are logged and behave as misses.
type Redis struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewRedis connects to the Redis server at url (redis://host:port/db).
func NewRedis(ctx context.Context, url string, log *logrus.Entry) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Redis{client: client, log: log}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*models.PageResult, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.log.WithError(err).WithField("key", key).Warn("cache get failed")
		return nil, false
	}

	var value models.PageResult
	if err := json.Unmarshal(data, &value); err != nil {
		r.log.WithError(err).WithField("key", key).Warn("dropping undecodable cache entry")
		r.Invalidate(ctx, key)
		return nil, false
	}
	return &value, true
}

func (r *Redis) Set(ctx context.Context, key string, value *models.PageResult, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		r.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.log.WithError(err).WithField("key", key).Warn("cache set failed")
	}
}

func (r *Redis) Invalidate(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.WithError(err).WithField("key", key).Warn("cache delete failed")
	}
}

func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) {
	iter := r.client.Scan(ctx, 0, matchPrefix(prefix), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.log.WithError(err).WithField("prefix", prefix).Warn("cache scan failed")
	}
	if len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.WithError(err).WithField("prefix", prefix).Warn("cache prefix delete failed")
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// matchPrefix is a SCAN MATCH pattern for keys starting with prefix. Folder
// names such as "[Gmail]/Sent Mail" carry glob characters that must match
// literally.
func matchPrefix(prefix string) string {
	return globEscaper.Replace(prefix) + "*"
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
