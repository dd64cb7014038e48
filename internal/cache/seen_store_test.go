package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock позволяет сдвигать время без ожидания.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStoreWithClock(ttl time.Duration) (*SeenStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewSeenStore(ttl)
	s.now = clock.Now
	return s, clock
}

func TestSeenStore(t *testing.T) {
	t.Run("Первая отметка успешна, повторная отклоняется", func(t *testing.T) {
		s, _ := newStoreWithClock(time.Minute)

		assert.True(t, s.MarkSeen(100))
		assert.False(t, s.MarkSeen(100))
		assert.True(t, s.MarkSeen(101))
		assert.Equal(t, 2, s.Len())
	})

	t.Run("Запись истекает по ttl", func(t *testing.T) {
		s, clock := newStoreWithClock(time.Minute)

		assert.True(t, s.MarkSeen(7))
		clock.Advance(59 * time.Second)
		assert.False(t, s.MarkSeen(7))

		clock.Advance(2 * time.Second)
		assert.True(t, s.MarkSeen(7), "после истечения срока обновление считается новым")
	})

	t.Run("Очистка просроченных записей", func(t *testing.T) {
		s, clock := newStoreWithClock(time.Minute)

		s.MarkSeen(1)
		clock.Advance(30 * time.Second)
		s.MarkSeen(2)
		clock.Advance(40 * time.Second)

		s.CleanupExpired()

		assert.Equal(t, 1, s.Len())
		assert.False(t, s.MarkSeen(2), "действительная запись не должна быть удалена")
	})
}

func TestSeenStore_ConcurrentMarkSeen(t *testing.T) {
	s := NewSeenStore(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkSeen(42) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "ровно одна горутина должна обработать обновление")
}

func TestStartCleanupTicker(t *testing.T) {
	s := NewSeenStore(50 * time.Millisecond)
	s.MarkSeen(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.StartCleanupTicker(ctx, 20*time.Millisecond)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond,
		"просроченная запись должна быть удалена таймером")
}
