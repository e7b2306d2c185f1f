package storage

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"workspace-realtime/internal/domain"
)

// ErrUnsupportedBackend indica um STORAGE_TYPE desconhecido
var ErrUnsupportedBackend = errors.New("unsupported counter backend")

// Backend identifica onde os contadores de janela ficam guardados
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

const defaultCleanupInterval = time.Minute

// RedisOptions descreve a conexão com o Redis compartilhado entre réplicas
type RedisOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr retorna host:port
func (o RedisOptions) Addr() string {
	return net.JoinHostPort(o.Host, o.Port)
}

// CounterConfig escolhe e parametriza o storage de contadores.
// Backend vazio equivale a memória; CleanupInterval e Now só valem para memória.
type CounterConfig struct {
	Backend         Backend
	Redis           RedisOptions
	CleanupInterval time.Duration
	Now             func() time.Time
}

func (c CounterConfig) normalized() CounterConfig {
	c.Backend = Backend(strings.ToLower(strings.TrimSpace(string(c.Backend))))
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Validate confere a configuração sem abrir conexões
func (c CounterConfig) Validate() error {
	c = c.normalized()

	switch c.Backend {
	case BackendMemory:
		if c.CleanupInterval < 0 {
			return fmt.Errorf("cleanup interval must be positive, got %s", c.CleanupInterval)
		}
		return nil
	case BackendRedis:
		if c.Redis.Host == "" || c.Redis.Port == "" {
			return fmt.Errorf("redis backend requires host and port, got %q", c.Redis.Addr())
		}
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			return fmt.Errorf("redis database must be between 0 and 15, got %d", c.Redis.DB)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedBackend, c.Backend)
	}
}

// NewCounterStorage abre o backend configurado; Redis precisa responder ao PING inicial
func NewCounterStorage(c CounterConfig, logger domain.Logger) (domain.CounterStorage, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c = c.normalized()

	if c.Backend == BackendRedis {
		storage, err := NewRedisStorage(c.Redis.Host, c.Redis.Port, c.Redis.Password, c.Redis.DB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis counters at %s: %w", c.Redis.Addr(), err)
		}
		if logger != nil {
			logger.Info("Counter storage ready", map[string]interface{}{
				"backend":  string(c.Backend),
				"addr":     c.Redis.Addr(),
				"database": c.Redis.DB,
			})
		}
		return storage, nil
	}

	storage := NewMemoryStorageWithClock(logger, c.CleanupInterval, c.Now)
	if logger != nil {
		logger.Info("Counter storage ready", map[string]interface{}{
			"backend":          string(c.Backend),
			"cleanup_interval": c.CleanupInterval.String(),
		})
	}
	return storage, nil
}
