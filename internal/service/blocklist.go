package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/metrics"
)

// BlocklistConfig define o limiar de falhas e as durações do bloqueio
type BlocklistConfig struct {
	Threshold     int
	BlockDuration time.Duration
	RecordTTL     time.Duration
}

// DefaultBlocklistConfig retorna 10 falhas, 30 minutos de bloqueio e registros de 1 hora
func DefaultBlocklistConfig() BlocklistConfig {
	return BlocklistConfig{
		Threshold:     10,
		BlockDuration: 30 * time.Minute,
		RecordTTL:     time.Hour,
	}
}

// BlocklistStats é o retrato exposto na superfície administrativa
type BlocklistStats struct {
	Tracked int                  `json:"tracked"`
	Blocked int                  `json:"blocked"`
	Records []domain.BlockRecord `json:"records"`
}

type blockEntry struct {
	record domain.BlockRecord
	timer  *time.Timer
}

// IPBlocklist acumula falhas por IP e bloqueia ao atingir o limiar
type IPBlocklist struct {
	config  BlocklistConfig
	mu      sync.Mutex
	entries map[string]*blockEntry
	alerts  domain.AlertDispatcher
	logger  domain.Logger
	now     func() time.Time
}

// NewIPBlocklist cria a blocklist; alerts pode ser nil
func NewIPBlocklist(config BlocklistConfig, alerts domain.AlertDispatcher, logger domain.Logger) *IPBlocklist {
	defaults := DefaultBlocklistConfig()
	if config.Threshold <= 0 {
		config.Threshold = defaults.Threshold
	}
	if config.BlockDuration <= 0 {
		config.BlockDuration = defaults.BlockDuration
	}
	if config.RecordTTL <= 0 {
		config.RecordTTL = defaults.RecordTTL
	}

	return &IPBlocklist{
		config:  config,
		entries: make(map[string]*blockEntry),
		alerts:  alerts,
		logger:  logger,
		now:     time.Now,
	}
}

// RecordFailure soma uma falha e informa se o IP está bloqueado depois dela
func (b *IPBlocklist) RecordFailure(ip string) bool {
	b.mu.Lock()

	now := b.now()
	entry, exists := b.entries[ip]
	if exists && entry.record.BlockedUntil != nil && !now.Before(*entry.record.BlockedUntil) {
		// bloqueio anterior expirou; recomeça do zero
		b.removeLocked(ip, entry)
		exists = false
	}
	if !exists {
		entry = &blockEntry{record: domain.BlockRecord{IP: ip, CreatedAt: now}}
		b.entries[ip] = entry
		b.scheduleLocked(ip, entry, b.config.RecordTTL)
	}

	entry.record.FailureCount++
	failures := entry.record.FailureCount

	justBlocked := false
	if entry.record.BlockedUntil == nil && failures >= b.config.Threshold {
		until := now.Add(b.config.BlockDuration)
		entry.record.BlockedUntil = &until
		justBlocked = true
	}

	var blockedUntil time.Time
	blocked := entry.record.BlockedUntil != nil
	if blocked {
		blockedUntil = *entry.record.BlockedUntil
	}
	b.mu.Unlock()

	if justBlocked {
		metrics.BlockedIPsTotal.Inc()
		b.logger.Warn("IP blocked after repeated failures", map[string]interface{}{
			"ip":            ip,
			"failures":      failures,
			"blocked_until": blockedUntil,
		})
		if b.alerts != nil {
			ctx := context.Background()
			IPBlocked(ctx, b.alerts, ip, failures, blockedUntil)
			BruteForce(ctx, b.alerts, ip, failures)
		}
	} else {
		b.logger.Debug("Failure recorded", map[string]interface{}{
			"ip":        ip,
			"failures":  failures,
			"threshold": b.config.Threshold,
		})
	}

	return blocked
}

// RecordSuccess apaga o histórico de falhas do IP
func (b *IPBlocklist) RecordSuccess(ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.entries[ip]; ok {
		b.removeLocked(ip, entry)
	}
}

// IsBlocked indica se o IP está bloqueado agora; bloqueios vencidos são apagados
func (b *IPBlocklist) IsBlocked(ip string) bool {
	_, blocked := b.BlockedUntil(ip)
	return blocked
}

// BlockedUntil retorna o fim do bloqueio, se houver
func (b *IPBlocklist) BlockedUntil(ip string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[ip]
	if !ok || entry.record.BlockedUntil == nil {
		return time.Time{}, false
	}

	until := *entry.record.BlockedUntil
	if !b.now().Before(until) {
		b.removeLocked(ip, entry)
		return time.Time{}, false
	}
	return until, true
}

// Unblock remove o IP da blocklist
func (b *IPBlocklist) Unblock(ip string) bool {
	b.mu.Lock()
	entry, ok := b.entries[ip]
	if ok {
		b.removeLocked(ip, entry)
	}
	b.mu.Unlock()

	if ok {
		b.logger.Info("IP unblocked", map[string]interface{}{"ip": ip})
	}
	return ok
}

// Stats retorna os registros acompanhados, ordenados por IP
func (b *IPBlocklist) Stats() BlocklistStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	stats := BlocklistStats{Records: make([]domain.BlockRecord, 0, len(b.entries))}
	for _, entry := range b.entries {
		record := entry.record
		if record.BlockedUntil != nil {
			until := *record.BlockedUntil
			record.BlockedUntil = &until
			if now.Before(until) {
				stats.Blocked++
			}
		}
		stats.Records = append(stats.Records, record)
	}
	stats.Tracked = len(stats.Records)
	sort.Slice(stats.Records, func(i, j int) bool { return stats.Records[i].IP < stats.Records[j].IP })
	return stats
}

// Close cancela as remoções agendadas
func (b *IPBlocklist) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ip, entry := range b.entries {
		b.removeLocked(ip, entry)
	}
}

// scheduleLocked agenda a remoção do registro; exige b.mu
func (b *IPBlocklist) scheduleLocked(ip string, entry *blockEntry, after time.Duration) {
	entry.timer = time.AfterFunc(after, func() {
		b.expire(ip, entry)
	})
}

// expire remove registros não bloqueados; bloqueados são reagendados para o fim do bloqueio
func (b *IPBlocklist) expire(ip string, entry *blockEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.entries[ip]; !ok || current != entry {
		return
	}

	if entry.record.BlockedUntil != nil {
		if remaining := entry.record.BlockedUntil.Sub(b.now()); remaining > 0 {
			b.scheduleLocked(ip, entry, remaining)
			return
		}
	}

	delete(b.entries, ip)
}

// removeLocked exige b.mu
func (b *IPBlocklist) removeLocked(ip string, entry *blockEntry) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(b.entries, ip)
}
