package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/metrics"
)

// DefaultRules retorna as regras padrão de cada classe de rota
func DefaultRules() map[domain.RouteClass]domain.RateLimitRule {
	return map[domain.RouteClass]domain.RateLimitRule{
		domain.GlobalRoute: {
			Class:       domain.GlobalRoute,
			Window:      15 * time.Minute,
			MaxRequests: 1000,
			KeyStrategy: domain.KeyByIP,
			Message:     "Too many requests from this IP, please try again later.",
		},
		domain.AuthRoute: {
			Class:          domain.AuthRoute,
			Window:         15 * time.Minute,
			MaxRequests:    5,
			KeyStrategy:    domain.KeyByIP,
			SkipSuccessful: true,
			Message:        "Too many login attempts, please try again later.",
		},
		domain.SignupRoute: {
			Class:       domain.SignupRoute,
			Window:      time.Hour,
			MaxRequests: 3,
			KeyStrategy: domain.KeyByIP,
			Message:     "Too many accounts created from this IP, please try again later.",
		},
		domain.UploadRoute: {
			Class:       domain.UploadRoute,
			Window:      time.Hour,
			MaxRequests: 50,
			KeyStrategy: domain.KeyByUserElseIP,
			Message:     "Upload limit reached, please try again later.",
		},
		domain.InvoiceCreateRoute: {
			Class:       domain.InvoiceCreateRoute,
			Window:      time.Hour,
			MaxRequests: 20,
			KeyStrategy: domain.KeyByUser,
			Message:     "Invoice creation limit reached, please try again later.",
		},
		domain.EmailSendRoute: {
			Class:       domain.EmailSendRoute,
			Window:      time.Hour,
			MaxRequests: 10,
			KeyStrategy: domain.KeyByUser,
			Message:     "Email sending limit reached, please try again later.",
		},
		domain.ChatSendRoute: {
			Class:       domain.ChatSendRoute,
			Window:      time.Minute,
			MaxRequests: 30,
			KeyStrategy: domain.KeyByUserElseIP,
			Message:     "You are sending messages too quickly. Please slow down.",
		},
		domain.PublicRoute: {
			Class:       domain.PublicRoute,
			Window:      15 * time.Minute,
			MaxRequests: 100,
			KeyStrategy: domain.KeyByIP,
			Message:     "Too many requests, please try again later.",
		},
	}
}

// ApplyOverrides aplica as sobrescritas de configuração sobre as regras
func ApplyOverrides(rules map[domain.RouteClass]domain.RateLimitRule, overrides map[domain.RouteClass]domain.LimitOverride) {
	for class, override := range overrides {
		rule, ok := rules[class]
		if !ok {
			continue
		}
		if override.MaxRequests > 0 {
			rule.MaxRequests = override.MaxRequests
		}
		if override.Window > 0 {
			rule.Window = override.Window
		}
		if override.Message != "" {
			rule.Message = override.Message
		}
		rules[class] = rule
	}
}

// Limiter aplica uma única regra sobre o contador de janela deslizante
type Limiter struct {
	rule    domain.RateLimitRule
	storage domain.CounterStorage
	alerts  domain.AlertDispatcher
	logger  domain.Logger
}

// NewLimiter cria um limiter para uma regra; alerts pode ser nil
func NewLimiter(rule domain.RateLimitRule, storage domain.CounterStorage, alerts domain.AlertDispatcher, logger domain.Logger) *Limiter {
	return &Limiter{
		rule:    rule,
		storage: storage,
		alerts:  alerts,
		logger:  logger,
	}
}

// Rule retorna a regra aplicada
func (l *Limiter) Rule() domain.RateLimitRule {
	return l.rule
}

// Check conta a chamada e devolve ThrottleViolation quando o limite é excedido
func (l *Limiter) Check(ctx context.Context, key string) (*domain.RateLimitResult, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%s limiter: %w", l.rule.Class, domain.ErrMissingIdentity)
	}

	storageKey := buildStorageKey(l.rule.Class, key)

	counter, err := l.storage.CheckAndIncrement(ctx, storageKey, l.rule.Window, l.rule.MaxRequests)
	if err != nil {
		l.logger.Error("Failed to increment counter", err, map[string]interface{}{
			"storage_key": storageKey,
			"limit":       l.rule.MaxRequests,
		})
		return nil, fmt.Errorf("failed to increment counter: %w", err)
	}

	result := &domain.RateLimitResult{
		Allowed:   counter.Allowed,
		Class:     l.rule.Class,
		Key:       key,
		Limit:     l.rule.MaxRequests,
		Count:     counter.Count,
		Remaining: counter.Remaining,
		ResetTime: counter.ResetAt,
	}

	if counter.Allowed {
		l.logger.Debug("Request allowed", map[string]interface{}{
			"storage_key":   storageKey,
			"current_count": counter.Count,
			"limit":         l.rule.MaxRequests,
			"remaining":     counter.Remaining,
		})
		return result, nil
	}

	metrics.ThrottledTotal.WithLabelValues(string(l.rule.Class)).Inc()
	l.logger.Info("Rate limit exceeded", map[string]interface{}{
		"storage_key":   storageKey,
		"current_count": counter.Count,
		"limit":         l.rule.MaxRequests,
		"reset_time":    counter.ResetAt,
	})

	// Só a primeira rejeição da janela gera alerta
	if counter.Count == l.rule.MaxRequests+1 && l.alerts != nil {
		RateLimitViolation(ctx, l.alerts, l.rule.Class, key, l.rule.MaxRequests, l.rule.Window)
	}

	return result, &domain.ThrottleViolation{
		Class:      l.rule.Class,
		Key:        key,
		Limit:      l.rule.MaxRequests,
		Message:    l.rule.Message,
		RetryAfter: counter.ResetAt,
	}
}

// Forgive desfaz a contagem de uma chamada bem-sucedida quando a regra pede
func (l *Limiter) Forgive(ctx context.Context, key string) error {
	if !l.rule.SkipSuccessful || strings.TrimSpace(key) == "" {
		return nil
	}

	storageKey := buildStorageKey(l.rule.Class, key)
	if err := l.storage.Decrement(ctx, storageKey); err != nil {
		return fmt.Errorf("failed to forgive request: %w", err)
	}
	return nil
}

// RateLimiterService reúne um Limiter por classe de rota
type RateLimiterService struct {
	limiters map[domain.RouteClass]*Limiter
	storage  domain.CounterStorage
	logger   domain.Logger
}

// NewRateLimiterService cria os limiters a partir das regras padrão e das sobrescritas
func NewRateLimiterService(
	storage domain.CounterStorage,
	overrides map[domain.RouteClass]domain.LimitOverride,
	alerts domain.AlertDispatcher,
	logger domain.Logger,
) *RateLimiterService {
	rules := DefaultRules()
	ApplyOverrides(rules, overrides)

	limiters := make(map[domain.RouteClass]*Limiter, len(rules))
	for class, rule := range rules {
		limiters[class] = NewLimiter(rule, storage, alerts, logger.WithFields(map[string]interface{}{
			"route_class": string(class),
		}))
	}

	return &RateLimiterService{
		limiters: limiters,
		storage:  storage,
		logger:   logger,
	}
}

// Check aplica o limiter da classe à chave
func (s *RateLimiterService) Check(ctx context.Context, class domain.RouteClass, key string) (*domain.RateLimitResult, error) {
	limiter, err := s.limiter(class)
	if err != nil {
		return nil, err
	}
	return limiter.Check(ctx, key)
}

// Forgive desfaz a contagem em classes com SkipSuccessful
func (s *RateLimiterService) Forgive(ctx context.Context, class domain.RouteClass, key string) error {
	limiter, err := s.limiter(class)
	if err != nil {
		return err
	}
	return limiter.Forgive(ctx, key)
}

// Rule retorna a regra efetiva da classe
func (s *RateLimiterService) Rule(class domain.RouteClass) (*domain.RateLimitRule, bool) {
	limiter, ok := s.limiters[class]
	if !ok {
		return nil, false
	}
	rule := limiter.Rule()
	return &rule, true
}

// Rules lista as regras efetivas em ordem de classe
func (s *RateLimiterService) Rules() []domain.RateLimitRule {
	rules := make([]domain.RateLimitRule, 0, len(s.limiters))
	for _, limiter := range s.limiters {
		rules = append(rules, limiter.Rule())
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Class < rules[j].Class })
	return rules
}

// GetStatus retorna o registro atual de uma chave
func (s *RateLimiterService) GetStatus(ctx context.Context, class domain.RouteClass, key string) (*domain.CounterRecord, error) {
	if _, err := s.limiter(class); err != nil {
		return nil, err
	}

	record, err := s.storage.Get(ctx, buildStorageKey(class, key))
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return record, nil
}

// Reset limpa os dados de rate limit para uma chave
func (s *RateLimiterService) Reset(ctx context.Context, class domain.RouteClass, key string) error {
	if _, err := s.limiter(class); err != nil {
		return err
	}

	storageKey := buildStorageKey(class, key)
	if err := s.storage.Reset(ctx, storageKey); err != nil {
		return fmt.Errorf("failed to reset key: %w", err)
	}

	s.logger.Info("Rate limit reset", map[string]interface{}{
		"key":         key,
		"route_class": string(class),
		"storage_key": storageKey,
	})
	return nil
}

func (s *RateLimiterService) limiter(class domain.RouteClass) (*Limiter, error) {
	limiter, ok := s.limiters[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRouteClass, class)
	}
	return limiter, nil
}

// ResolveKey deriva a Identity Key segundo a estratégia da regra.
// Os prefixos separam usuários de IPs dentro da mesma classe.
func ResolveKey(strategy domain.KeyStrategy, userID, ip string) (string, error) {
	userID = strings.TrimSpace(userID)
	ip = strings.TrimSpace(ip)

	switch strategy {
	case domain.KeyByUser:
		if userID == "" {
			return "", domain.ErrMissingIdentity
		}
		return "user:" + userID, nil
	case domain.KeyByUserElseIP:
		if userID != "" {
			return "user:" + userID, nil
		}
	}

	if ip == "" {
		return "", domain.ErrMissingIdentity
	}
	return "ip:" + ip, nil
}

// buildStorageKey constrói a chave de storage no formato padrão
func buildStorageKey(class domain.RouteClass, key string) string {
	return fmt.Sprintf("rate_limit:%s:%s", class, key)
}
