package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"workspace-realtime/internal/domain"

	"github.com/go-redis/redis/v8"
)

// checkAndIncrementScript abre a janela no primeiro hit (HSETNX) e incrementa atomicamente.
// A expiração da chave encerra a janela.
var checkAndIncrementScript = redis.NewScript(`
	local key = KEYS[1]
	local window = ARGV[1]
	local now = ARGV[2]

	if redis.call('HSETNX', key, 'start', now) == 1 then
		redis.call('HSET', key, 'window', window)
		redis.call('PEXPIRE', key, window)
	end

	local count = redis.call('HINCRBY', key, 'count', 1)
	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		redis.call('PEXPIRE', key, window)
		ttl = tonumber(window)
	end

	return {count, ttl}
`)

var decrementScript = redis.NewScript(`
	local key = KEYS[1]
	if redis.call('EXISTS', key) == 0 then
		return 0
	end
	local count = redis.call('HINCRBY', key, 'count', -1)
	if count < 0 then
		redis.call('HSET', key, 'count', 0)
		return 0
	end
	return count
`)

// RedisStorage implementa domain.CounterStorage usando Redis
type RedisStorage struct {
	client redis.Cmdable
	logger domain.Logger
}

// NewRedisStorage cria uma nova instância do RedisStorage
func NewRedisStorage(host, port, password string, db int, logger domain.Logger) (*RedisStorage, error) {
	// Configura cliente Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Info("Redis connection established", map[string]interface{}{
			"host": host,
			"port": port,
			"db":   db,
		})
	}

	return NewRedisStorageWithClient(rdb, logger), nil
}

// NewRedisStorageWithClient usa um cliente já configurado
func NewRedisStorageWithClient(client redis.Cmdable, logger domain.Logger) *RedisStorage {
	return &RedisStorage{
		client: client,
		logger: logger,
	}
}

// CheckAndIncrement abre uma nova janela ou incrementa a atual
func (r *RedisStorage) CheckAndIncrement(ctx context.Context, key string, window time.Duration, max int) (*domain.CounterResult, error) {
	start := time.Now()
	now := time.Now()

	result, err := checkAndIncrementScript.Run(ctx, r.client, []string{key}, window.Milliseconds(), now.UnixMilli()).Result()
	if err != nil {
		r.logStorageOperation("CHECK_AND_INCREMENT", key, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("failed to increment key %s: %w", key, err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		err := fmt.Errorf("invalid increment result for key %s", key)
		r.logStorageOperation("CHECK_AND_INCREMENT", key, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	count, err := toInt64(values[0])
	if err != nil {
		r.logStorageOperation("CHECK_AND_INCREMENT", key, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("invalid count in result for key %s: %w", key, err)
	}

	ttl, err := toInt64(values[1])
	if err != nil {
		r.logStorageOperation("CHECK_AND_INCREMENT", key, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("invalid ttl in result for key %s: %w", key, err)
	}

	r.logStorageOperation("CHECK_AND_INCREMENT", key, true, time.Since(start).Seconds()*1000, nil)
	return &domain.CounterResult{
		Allowed:   int(count) <= max,
		Count:     int(count),
		Remaining: remaining(max, int(count)),
		ResetAt:   now.Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Decrement desfaz um incremento na janela corrente
func (r *RedisStorage) Decrement(ctx context.Context, key string) error {
	start := time.Now()

	if err := decrementScript.Run(ctx, r.client, []string{key}).Err(); err != nil {
		r.logStorageOperation("DECREMENT", key, false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("failed to decrement key %s: %w", key, err)
	}

	r.logStorageOperation("DECREMENT", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Get recupera o registro atual de uma chave
func (r *RedisStorage) Get(ctx context.Context, key string) (*domain.CounterRecord, error) {
	start := time.Now()

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		r.logStorageOperation("GET", key, false, time.Since(start).Seconds()*1000, err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if len(fields) == 0 {
		// Chave não existe ou a janela já expirou
		r.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
		return nil, nil
	}

	count, errCount := strconv.Atoi(fields["count"])
	startMs, errStart := strconv.ParseInt(fields["start"], 10, 64)
	windowMs, errWindow := strconv.ParseInt(fields["window"], 10, 64)
	if errCount != nil || errStart != nil || errWindow != nil {
		err := fmt.Errorf("corrupted counter record for key %s", key)
		r.logStorageOperation("GET", key, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	r.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
	return &domain.CounterRecord{
		Key:         key,
		Count:       count,
		WindowStart: time.UnixMilli(startMs),
		Window:      time.Duration(windowMs) * time.Millisecond,
	}, nil
}

// Reset limpa os dados de uma chave
func (r *RedisStorage) Reset(ctx context.Context, key string) error {
	start := time.Now()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logStorageOperation("RESET", key, false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("failed to reset key %s: %w", key, err)
	}

	r.logStorageOperation("RESET", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Health verifica se o storage está saudável
func (r *RedisStorage) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logStorageOperation("HEALTH", "ping", false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("Redis health check failed: %w", err)
	}

	r.logStorageOperation("HEALTH", "ping", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close fecha a conexão com o storage
func (r *RedisStorage) Close() error {
	client, ok := r.client.(*redis.Client)
	if !ok {
		return nil
	}

	if err := client.Close(); err != nil {
		if r.logger != nil {
			r.logger.Error("Failed to close Redis connection", err, nil)
		}
		return err
	}

	if r.logger != nil {
		r.logger.Info("Redis connection closed", nil)
	}
	return nil
}

// logStorageOperation registra operações de storage
func (r *RedisStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if r.logger == nil {
		return
	}

	if success {
		r.logger.Debug("Storage operation completed", map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	} else {
		r.logger.Error("Storage operation failed", err, map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	}
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
