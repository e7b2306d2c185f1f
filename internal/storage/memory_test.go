package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"workspace-realtime/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock é um relógio manual para controlar as janelas nos testes
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
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

func newTestMemoryStorage(t *testing.T, clock *fakeClock) *MemoryStorage {
	t.Helper()
	storage := NewMemoryStorageWithClock(logger.Nop(), time.Hour, clock.Now)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestMemoryStorage_CheckAndIncrement(t *testing.T) {
	tests := []struct {
		name              string
		calls             int
		max               int
		expectedAllowed   bool
		expectedCount     int
		expectedRemaining int
	}{
		{
			name:              "Should allow first call and open a window",
			calls:             1,
			max:               5,
			expectedAllowed:   true,
			expectedCount:     1,
			expectedRemaining: 4,
		},
		{
			name:              "Should allow call that reaches the limit",
			calls:             5,
			max:               5,
			expectedAllowed:   true,
			expectedCount:     5,
			expectedRemaining: 0,
		},
		{
			name:              "Should reject call beyond the limit",
			calls:             6,
			max:               5,
			expectedAllowed:   false,
			expectedCount:     6,
			expectedRemaining: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			clock := newFakeClock()
			storage := newTestMemoryStorage(t, clock)
			ctx := context.Background()

			// Act
			var err error
			var last = struct {
				allowed   bool
				count     int
				remaining int
				resetAt   time.Time
			}{}
			for i := 0; i < tt.calls; i++ {
				result, callErr := storage.CheckAndIncrement(ctx, "chat-send:user-1", time.Minute, tt.max)
				err = callErr
				require.NotNil(t, result)
				last.allowed, last.count, last.remaining, last.resetAt = result.Allowed, result.Count, result.Remaining, result.ResetAt
			}

			// Assert
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedAllowed, last.allowed)
			assert.Equal(t, tt.expectedCount, last.count)
			assert.Equal(t, tt.expectedRemaining, last.remaining)
			assert.Equal(t, clock.Now().Add(time.Minute), last.resetAt)
		})
	}
}

func TestMemoryStorage_WindowBoundary(t *testing.T) {
	// Arrange
	clock := newFakeClock()
	storage := newTestMemoryStorage(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := storage.CheckAndIncrement(ctx, "auth:10.0.0.1", time.Minute, 3)
		require.NoError(t, err)
	}

	// Act: ainda dentro da janela
	clock.Advance(59 * time.Second)
	inside, err := storage.CheckAndIncrement(ctx, "auth:10.0.0.1", time.Minute, 3)
	require.NoError(t, err)

	// Act: exatamente no fim da janela abre uma nova
	clock.Advance(time.Second)
	boundary, err := storage.CheckAndIncrement(ctx, "auth:10.0.0.1", time.Minute, 3)
	require.NoError(t, err)

	// Assert
	assert.False(t, inside.Allowed)
	assert.Equal(t, 4, inside.Count)
	assert.True(t, boundary.Allowed)
	assert.Equal(t, 1, boundary.Count)
	assert.Equal(t, clock.Now().Add(time.Minute), boundary.ResetAt)
}

func TestMemoryStorage_ConcurrentIncrements(t *testing.T) {
	// Arrange
	clock := newFakeClock()
	storage := newTestMemoryStorage(t, clock)
	ctx := context.Background()

	const goroutines = 50
	const perGoroutine = 20

	// Act
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, _ = storage.CheckAndIncrement(ctx, "global:1.2.3.4", time.Minute, 1000)
			}
		}()
	}
	wg.Wait()

	// Assert
	record, err := storage.Get(ctx, "global:1.2.3.4")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, goroutines*perGoroutine, record.Count)
}

func TestMemoryStorage_Decrement(t *testing.T) {
	tests := []struct {
		name          string
		increments    int
		decrements    int
		advance       time.Duration
		expectedCount int
		expectNil     bool
	}{
		{
			name:          "Should undo one increment",
			increments:    3,
			decrements:    1,
			expectedCount: 2,
		},
		{
			name:          "Should not go below zero",
			increments:    1,
			decrements:    3,
			expectNil:     true,
		},
		{
			name:       "Should ignore decrement after window elapsed",
			increments: 2,
			decrements: 1,
			advance:    2 * time.Minute,
			expectNil:  true,
		},
		{
			name:       "Should ignore unknown key",
			increments: 0,
			decrements: 1,
			expectNil:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			clock := newFakeClock()
			storage := newTestMemoryStorage(t, clock)
			ctx := context.Background()

			for i := 0; i < tt.increments; i++ {
				_, err := storage.CheckAndIncrement(ctx, "auth:ip", time.Minute, 5)
				require.NoError(t, err)
			}
			clock.Advance(tt.advance)

			// Act
			for i := 0; i < tt.decrements; i++ {
				assert.NoError(t, storage.Decrement(ctx, "auth:ip"))
			}

			// Assert
			record, err := storage.Get(ctx, "auth:ip")
			require.NoError(t, err)
			if tt.expectNil {
				assert.Nil(t, record)
				return
			}
			require.NotNil(t, record)
			assert.Equal(t, tt.expectedCount, record.Count)
		})
	}
}

func TestMemoryStorage_DecrementToZeroKeepsWindowStart(t *testing.T) {
	// Arrange
	clock := newFakeClock()
	storage := newTestMemoryStorage(t, clock)
	ctx := context.Background()

	first, err := storage.CheckAndIncrement(ctx, "auth:ip", time.Minute, 5)
	require.NoError(t, err)
	require.NoError(t, storage.Decrement(ctx, "auth:ip"))
	clock.Advance(40 * time.Second)

	// Act
	second, err := storage.CheckAndIncrement(ctx, "auth:ip", time.Minute, 5)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, second.Count)
	assert.True(t, first.ResetAt.Equal(second.ResetAt), "window must not restart after decrement")

	// A janela original expira 20s depois
	clock.Advance(20 * time.Second)
	third, err := storage.CheckAndIncrement(ctx, "auth:ip", time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Count)
	assert.True(t, clock.Now().Add(time.Minute).Equal(third.ResetAt))
}

func TestMemoryStorage_Get(t *testing.T) {
	// Arrange
	clock := newFakeClock()
	storage := newTestMemoryStorage(t, clock)
	ctx := context.Background()
	start := clock.Now()

	_, err := storage.CheckAndIncrement(ctx, "upload:user-9", time.Hour, 50)
	require.NoError(t, err)

	// Act
	record, err := storage.Get(ctx, "upload:user-9")
	missing, missingErr := storage.Get(ctx, "upload:user-10")

	// Assert
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "upload:user-9", record.Key)
	assert.Equal(t, 1, record.Count)
	assert.Equal(t, start, record.WindowStart)
	assert.Equal(t, time.Hour, record.Window)

	assert.NoError(t, missingErr)
	assert.Nil(t, missing)
}

func TestMemoryStorage_Reset(t *testing.T) {
	// Arrange
	clock := newFakeClock()
	storage := newTestMemoryStorage(t, clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := storage.CheckAndIncrement(ctx, "signup:ip", time.Hour, 3)
		require.NoError(t, err)
	}

	// Act
	err := storage.Reset(ctx, "signup:ip")
	result, incErr := storage.CheckAndIncrement(ctx, "signup:ip", time.Hour, 3)

	// Assert
	assert.NoError(t, err)
	require.NoError(t, incErr)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Count)
}

func TestMemoryStorage_CleanupExpiredEntries(t *testing.T) {
	// Arrange
	clock := newFakeClock()
	storage := newTestMemoryStorage(t, clock)
	ctx := context.Background()

	_, err := storage.CheckAndIncrement(ctx, "short", time.Minute, 10)
	require.NoError(t, err)
	_, err = storage.CheckAndIncrement(ctx, "long", time.Hour, 10)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	// Act
	removed := storage.cleanupExpiredEntries()

	// Assert
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, storage.GetStats()["data_entries"])

	record, err := storage.Get(ctx, "long")
	require.NoError(t, err)
	assert.NotNil(t, record)
}

func TestMemoryStorage_CleanupDoesNotLoseIncrements(t *testing.T) {
	// Arrange
	clock := newFakeClock()
	storage := newTestMemoryStorage(t, clock)
	ctx := context.Background()

	_, err := storage.CheckAndIncrement(ctx, "k", time.Minute, 10)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	// Act: a limpeza concorre com novos incrementos
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			storage.cleanupExpiredEntries()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = storage.CheckAndIncrement(ctx, "k", time.Minute, 1000)
		}
	}()
	wg.Wait()

	// Assert
	record, err := storage.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 100, record.Count)
}

func TestMemoryStorage_HealthAndClose(t *testing.T) {
	// Arrange
	storage := NewMemoryStorage(logger.Nop())
	ctx := context.Background()

	// Act & Assert
	assert.NoError(t, storage.Health(ctx))
	assert.NoError(t, storage.Close())
	assert.NoError(t, storage.Close())

	assert.ErrorIs(t, storage.Health(ctx), ErrStorageClosed)
	_, err := storage.CheckAndIncrement(ctx, "k", time.Minute, 1)
	assert.ErrorIs(t, err, ErrStorageClosed)
}
