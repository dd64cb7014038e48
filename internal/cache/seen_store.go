// Package cache хранит недавно обработанные идентификаторы обновлений.
package cache

import (
	"context"
	"sync"
	"time"
)

// SeenStore запоминает идентификаторы обновлений на время ttl.
// Telegram повторяет доставку webhook, если не получил ответ вовремя,
// поэтому одно и то же update_id может прийти несколько раз.
type SeenStore struct {
	ttl   time.Duration
	items map[int64]time.Time
	mutex sync.Mutex
	now   func() time.Time
}

// NewSeenStore создает новое хранилище с указанным сроком хранения записей.
func NewSeenStore(ttl time.Duration) *SeenStore {
	return &SeenStore{
		ttl:   ttl,
		items: make(map[int64]time.Time),
		now:   time.Now,
	}
}

// MarkSeen атомарно отмечает id как обработанный.
// Возвращает false, если id уже встречался и срок записи не истек.
func (s *SeenStore) MarkSeen(id int64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	if expiresAt, exists := s.items[id]; exists && now.Before(expiresAt) {
		return false
	}

	s.items[id] = now.Add(s.ttl)
	return true
}

// Len возвращает число хранимых записей, включая просроченные.
func (s *SeenStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.items)
}

// CleanupExpired удаляет просроченные записи.
func (s *SeenStore) CleanupExpired() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	for id, expiresAt := range s.items {
		if !now.Before(expiresAt) {
			delete(s.items, id)
		}
	}
}

// StartCleanupTicker запускает периодическую очистку до отмены ctx.
func (s *SeenStore) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired()
			}
		}
	}()
}
