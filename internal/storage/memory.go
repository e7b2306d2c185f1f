package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"workspace-realtime/internal/domain"
)

// ErrStorageClosed é retornado por operações após Close
var ErrStorageClosed = errors.New("storage closed")

// counterEntry é o estado de uma janela; o mutex próprio evita contenção entre chaves distintas
type counterEntry struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	window      time.Duration
	evicted     bool
}

// MemoryStorage implementa domain.CounterStorage em memória
type MemoryStorage struct {
	data    map[string]*counterEntry
	mutex   sync.RWMutex
	logger  domain.Logger
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
	closed  bool
}

// NewMemoryStorage cria uma nova instância do MemoryStorage com limpeza a cada minuto
func NewMemoryStorage(logger domain.Logger) *MemoryStorage {
	return NewMemoryStorageWithClock(logger, defaultCleanupInterval, time.Now)
}

// NewMemoryStorageWithClock permite injetar o intervalo de limpeza e o relógio
func NewMemoryStorageWithClock(logger domain.Logger, cleanupInterval time.Duration, now func() time.Time) *MemoryStorage {
	storage := &MemoryStorage{
		data:   make(map[string]*counterEntry),
		logger: logger,
		now:    now,
		stopCh: make(chan struct{}),
	}

	// Inicia goroutine de limpeza
	go storage.cleanup(cleanupInterval)

	if logger != nil {
		logger.Info("Memory storage initialized", nil)
	}

	return storage
}

// CheckAndIncrement abre uma nova janela ou incrementa a atual
func (m *MemoryStorage) CheckAndIncrement(ctx context.Context, key string, window time.Duration, max int) (*domain.CounterResult, error) {
	start := time.Now()

	for {
		entry, err := m.getOrCreate(key)
		if err != nil {
			return nil, err
		}

		entry.mu.Lock()
		if entry.evicted {
			// A limpeza removeu a entrada entre a busca e o lock; busca novamente
			entry.mu.Unlock()
			continue
		}

		now := m.now()
		// A janela só reinicia ao expirar; um Decrement até zero mantém o início original
		if entry.windowStart.IsZero() || now.Sub(entry.windowStart) >= window {
			entry.count = 0
			entry.windowStart = now
			entry.window = window
		}
		entry.count++

		result := &domain.CounterResult{
			Allowed:   entry.count <= max,
			Count:     entry.count,
			Remaining: remaining(max, entry.count),
			ResetAt:   entry.windowStart.Add(entry.window),
		}
		entry.mu.Unlock()

		m.logStorageOperation("CHECK_AND_INCREMENT", key, true, time.Since(start).Seconds()*1000, nil)
		return result, nil
	}
}

// Decrement desfaz um incremento na janela corrente
func (m *MemoryStorage) Decrement(ctx context.Context, key string) error {
	start := time.Now()

	m.mutex.RLock()
	entry, exists := m.data[key]
	m.mutex.RUnlock()

	if exists {
		entry.mu.Lock()
		if !entry.evicted && entry.count > 0 && m.now().Sub(entry.windowStart) < entry.window {
			entry.count--
		}
		entry.mu.Unlock()
	}

	m.logStorageOperation("DECREMENT", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Get recupera o registro atual de uma chave
func (m *MemoryStorage) Get(ctx context.Context, key string) (*domain.CounterRecord, error) {
	start := time.Now()

	m.mutex.RLock()
	entry, exists := m.data[key]
	m.mutex.RUnlock()

	if !exists {
		m.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.evicted || entry.count == 0 || m.now().Sub(entry.windowStart) >= entry.window {
		m.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
		return nil, nil
	}

	// Cria cópia para evitar modificações concorrentes
	record := &domain.CounterRecord{
		Key:         key,
		Count:       entry.count,
		WindowStart: entry.windowStart,
		Window:      entry.window,
	}

	m.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
	return record, nil
}

// Reset limpa os dados de uma chave
func (m *MemoryStorage) Reset(ctx context.Context, key string) error {
	start := time.Now()

	m.mutex.Lock()
	if entry, exists := m.data[key]; exists {
		entry.mu.Lock()
		entry.evicted = true
		entry.mu.Unlock()
		delete(m.data, key)
	}
	m.mutex.Unlock()

	m.logStorageOperation("RESET", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Health verifica se o storage está saudável
func (m *MemoryStorage) Health(ctx context.Context) error {
	start := time.Now()

	m.mutex.RLock()
	closed := m.closed
	dataSize := len(m.data)
	m.mutex.RUnlock()

	if closed {
		m.logStorageOperation("HEALTH", "check", false, time.Since(start).Seconds()*1000, ErrStorageClosed)
		return ErrStorageClosed
	}

	if m.logger != nil {
		m.logger.Debug("Memory storage health check", map[string]interface{}{
			"data_entries": dataSize,
		})
	}

	m.logStorageOperation("HEALTH", "check", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close interrompe a limpeza e descarta os contadores
func (m *MemoryStorage) Close() error {
	m.stopped.Do(func() {
		close(m.stopCh)
	})

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.closed = true
	m.data = make(map[string]*counterEntry)

	if m.logger != nil {
		m.logger.Info("Memory storage closed", nil)
	}
	return nil
}

// GetStats retorna estatísticas do storage em memória
func (m *MemoryStorage) GetStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"data_entries": len(m.data),
		"type":         "memory",
	}
}

// getOrCreate usa double-checked locking para não serializar chaves já existentes
func (m *MemoryStorage) getOrCreate(key string) (*counterEntry, error) {
	m.mutex.RLock()
	entry, exists := m.data[key]
	closed := m.closed
	m.mutex.RUnlock()

	if closed {
		return nil, ErrStorageClosed
	}
	if exists {
		return entry, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	if entry, exists = m.data[key]; exists {
		return entry, nil
	}

	entry = &counterEntry{}
	m.data[key] = entry
	return entry, nil
}

// cleanup remove entradas expiradas periodicamente
func (m *MemoryStorage) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpiredEntries()
		case <-m.stopCh:
			return
		}
	}
}

// cleanupExpiredEntries remove entradas cuja janela já terminou
func (m *MemoryStorage) cleanupExpiredEntries() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	removed := 0

	for key, entry := range m.data {
		entry.mu.Lock()
		if now.Sub(entry.windowStart) >= entry.window {
			entry.evicted = true
			delete(m.data, key)
			removed++
		}
		entry.mu.Unlock()
	}

	if removed > 0 && m.logger != nil {
		m.logger.Debug("Memory storage cleanup completed", map[string]interface{}{
			"removed_data": removed,
		})
	}

	return removed
}

// logStorageOperation registra operações de storage
func (m *MemoryStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if m.logger == nil {
		return
	}

	if success {
		m.logger.Debug("Storage operation completed", map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	} else {
		m.logger.Error("Storage operation failed", err, map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	}
}

func remaining(max, count int) int {
	if count >= max {
		return 0
	}
	return max - count
}
