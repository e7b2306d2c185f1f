package storage

import (
	"context"
	"testing"
	"time"

	"workspace-realtime/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      CounterConfig
		expectError bool
	}{
		{name: "Should default to memory", config: CounterConfig{}},
		{name: "Should accept uppercase backend", config: CounterConfig{Backend: "MEMORY"}},
		{name: "Should reject negative cleanup interval", config: CounterConfig{Backend: BackendMemory, CleanupInterval: -time.Second}, expectError: true},
		{name: "Should accept redis with address", config: CounterConfig{Backend: BackendRedis, Redis: RedisOptions{Host: "localhost", Port: "6379"}}},
		{name: "Should reject redis without host", config: CounterConfig{Backend: BackendRedis, Redis: RedisOptions{Port: "6379"}}, expectError: true},
		{name: "Should reject redis database out of range", config: CounterConfig{Backend: BackendRedis, Redis: RedisOptions{Host: "localhost", Port: "6379", DB: 16}}, expectError: true},
		{name: "Should reject unknown backend", config: CounterConfig{Backend: "etcd"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCounterConfig_UnknownBackendError(t *testing.T) {
	_, err := NewCounterStorage(CounterConfig{Backend: "etcd"}, logger.Nop())

	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestNewCounterStorage_MemoryUsesInjectedClock(t *testing.T) {
	// Arrange
	clock := newFakeClock()

	// Act
	counters, err := NewCounterStorage(CounterConfig{
		Backend:         BackendMemory,
		CleanupInterval: time.Hour,
		Now:             clock.Now,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = counters.Close() })

	// Assert
	require.IsType(t, &MemoryStorage{}, counters)
	result, err := counters.CheckAndIncrement(context.Background(), "rate_limit:public:ip:1.2.3.4", time.Minute, 10)
	require.NoError(t, err)
	assert.True(t, clock.Now().Add(time.Minute).Equal(result.ResetAt))
}

func TestNewCounterStorage_Redis(t *testing.T) {
	t.Run("Should open redis counters", func(t *testing.T) {
		// Arrange
		mr := miniredis.RunT(t)

		// Act
		counters, err := NewCounterStorage(CounterConfig{
			Backend: BackendRedis,
			Redis:   RedisOptions{Host: mr.Host(), Port: mr.Port()},
		}, logger.Nop())

		// Assert
		require.NoError(t, err)
		t.Cleanup(func() { _ = counters.Close() })
		assert.IsType(t, &RedisStorage{}, counters)
		assert.NoError(t, counters.Health(context.Background()))
	})

	t.Run("Should fail when redis is unreachable", func(t *testing.T) {
		// Arrange
		mr := miniredis.RunT(t)
		host, port := mr.Host(), mr.Port()
		mr.Close()

		// Act
		counters, err := NewCounterStorage(CounterConfig{
			Backend: BackendRedis,
			Redis:   RedisOptions{Host: host, Port: port},
		}, logger.Nop())

		// Assert
		assert.Error(t, err)
		assert.Nil(t, counters)
		assert.Contains(t, err.Error(), host)
	})
}

func TestRedisOptions_Addr(t *testing.T) {
	assert.Equal(t, "localhost:6379", RedisOptions{Host: "localhost", Port: "6379"}.Addr())
	assert.Equal(t, "[::1]:6379", RedisOptions{Host: "::1", Port: "6379"}.Addr())
}
