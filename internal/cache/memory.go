package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vdavid/postbox/internal/models"
)

type memoryEntry struct {
	value     *models.PageResult
	expiresAt time.Time
}

// Memory is an in-process bounded LRU with per-entry expiry. A janitor
// goroutine sweeps expired entries every cleanupInterval.
type Memory struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMemory creates a cache holding at most size entries.
func NewMemory(size int, cleanupInterval time.Duration) (*Memory, error) {
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}

	m := &Memory{
		entries: entries,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if cleanupInterval > 0 {
		m.wg.Add(1)
		go m.janitor(cleanupInterval)
	}

	return m, nil
}

func (m *Memory) Get(_ context.Context, key string) (*models.PageResult, bool) {
	entry, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	if !m.now().Before(entry.expiresAt) {
		m.entries.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (m *Memory) Set(_ context.Context, key string, value *models.PageResult, ttl time.Duration) {
	m.entries.Add(key, memoryEntry{value: value, expiresAt: m.now().Add(ttl)})
}

func (m *Memory) Invalidate(_ context.Context, key string) {
	m.entries.Remove(key)
}

func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) {
	for _, key := range m.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.entries.Remove(key)
		}
	}
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	return m.entries.Len()
}

// Close stops the janitor.
func (m *Memory) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

func (m *Memory) janitor(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) sweep() {
	now := m.now()
	for _, key := range m.entries.Keys() {
		if entry, ok := m.entries.Peek(key); ok && !now.Before(entry.expiresAt) {
			m.entries.Remove(key)
		}
	}
}
