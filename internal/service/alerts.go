package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	alertWindow          = time.Hour
	defaultAlertsPerHour = 10
	defaultAlertTimeout  = 10 * time.Second
)

// AlertChannels define os destinos configurados; canais vazios são ignorados
type AlertChannels struct {
	EmailTo    string
	WebhookURL string
}

// AlertDispatcherService registra todo alerta e entrega no máximo N por tipo e por hora
type AlertDispatcherService struct {
	storage    domain.CounterStorage
	transport  domain.AlertTransport
	channels   AlertChannels
	maxPerHour int
	timeout    time.Duration
	logger     domain.Logger
	now        func() time.Time
}

// NewAlertDispatcher cria o dispatcher; maxPerHour <= 0 usa o padrão de 10
func NewAlertDispatcher(
	storage domain.CounterStorage,
	transport domain.AlertTransport,
	channels AlertChannels,
	maxPerHour int,
	logger domain.Logger,
) *AlertDispatcherService {
	if maxPerHour <= 0 {
		maxPerHour = defaultAlertsPerHour
	}
	return &AlertDispatcherService{
		storage:    storage,
		transport:  transport,
		channels:   channels,
		maxPerHour: maxPerHour,
		timeout:    defaultAlertTimeout,
		logger:     logger.WithFields(map[string]interface{}{"subsystem": "alerts"}),
		now:        time.Now,
	}
}

// SendAlert registra o alerta e, se a janela do tipo permitir, entrega aos canais.
// Nunca retorna erro; falhas ficam no log.
func (d *AlertDispatcherService) SendAlert(ctx context.Context, alertType domain.AlertType, details map[string]string) {
	alert := domain.SecurityAlert{
		Type:      alertType,
		Details:   details,
		Timestamp: d.now().UTC(),
	}

	fields := map[string]interface{}{"alert_type": string(alertType)}
	for k, v := range details {
		fields["detail_"+k] = v
	}
	d.logger.Warn("Security alert", fields)

	// A entrega não depende do ciclo de vida da requisição que originou o alerta
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	counter, err := d.storage.CheckAndIncrement(dispatchCtx, alertKey(alertType), alertWindow, d.maxPerHour)
	if err != nil {
		metrics.AlertsTotal.WithLabelValues(string(alertType), "error").Inc()
		d.logger.Error("Failed to check alert throttle", err, map[string]interface{}{
			"alert_type": string(alertType),
		})
		return
	}

	if !counter.Allowed {
		metrics.AlertsTotal.WithLabelValues(string(alertType), "throttled").Inc()
		d.logger.Info("Security alert throttled", map[string]interface{}{
			"alert_type": string(alertType),
			"count":      counter.Count,
			"limit":      d.maxPerHour,
			"reset_time": counter.ResetAt,
		})
		return
	}

	if err := d.dispatch(dispatchCtx, alert); err != nil {
		metrics.AlertsTotal.WithLabelValues(string(alertType), "failed").Inc()
		d.logger.Warn("Security alert delivery failed", map[string]interface{}{
			"alert_type": string(alertType),
			"error":      err.Error(),
		})
		return
	}

	metrics.AlertsTotal.WithLabelValues(string(alertType), "delivered").Inc()
}

// dispatch entrega a todos os canais em paralelo; basta um sucesso
func (d *AlertDispatcherService) dispatch(ctx context.Context, alert domain.SecurityAlert) error {
	if d.transport == nil || (d.channels.EmailTo == "" && d.channels.WebhookURL == "") {
		d.logger.Debug("No alert channels configured", map[string]interface{}{
			"alert_type": string(alert.Type),
		})
		return nil
	}

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		attempts int
	)
	record := func(channel string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		failures[channel] = err
		mu.Unlock()
	}

	// errgroup sem contexto derivado: a falha de um canal não cancela os outros
	var g errgroup.Group

	if d.channels.EmailTo != "" {
		attempts++
		g.Go(func() error {
			err := d.transport.SendEmail(ctx, d.channels.EmailTo, alertSubject(alert), alertBody(alert))
			record("email", err)
			return err
		})
	}

	if d.channels.WebhookURL != "" {
		attempts++
		g.Go(func() error {
			err := d.transport.SendWebhook(ctx, d.channels.WebhookURL, alert)
			record("webhook", err)
			return err
		})
	}

	_ = g.Wait()

	for channel, err := range failures {
		d.logger.Warn("Alert channel failed", map[string]interface{}{
			"alert_type": string(alert.Type),
			"channel":    channel,
			"error":      err.Error(),
		})
	}

	if len(failures) == attempts {
		return &domain.AlertDispatchFailure{AlertType: alert.Type, Failures: failures}
	}
	return nil
}

func alertKey(alertType domain.AlertType) string {
	return fmt.Sprintf("alert:%s", alertType)
}

func alertSubject(alert domain.SecurityAlert) string {
	return fmt.Sprintf("[Security Alert] %s", alert.Type)
}

func alertBody(alert domain.SecurityAlert) string {
	keys := make([]string, 0, len(alert.Details))
	for k := range alert.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Security alert: %s\n", alert.Type)
	fmt.Fprintf(&b, "Time: %s\n\n", alert.Timestamp.Format(time.RFC3339))
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, alert.Details[k])
	}
	return b.String()
}

// SuspiciousLogin alerta sobre uma falha de login
func SuspiciousLogin(ctx context.Context, d domain.AlertDispatcher, email, ip, reason string) {
	d.SendAlert(ctx, domain.AlertSuspiciousLogin, map[string]string{
		"email":  email,
		"ip":     ip,
		"reason": reason,
	})
}

// IPBlocked alerta que um IP atingiu o limite de falhas
func IPBlocked(ctx context.Context, d domain.AlertDispatcher, ip string, failures int, until time.Time) {
	d.SendAlert(ctx, domain.AlertIPBlocked, map[string]string{
		"ip":            ip,
		"failures":      strconv.Itoa(failures),
		"blocked_until": until.UTC().Format(time.RFC3339),
	})
}

// BruteForce alerta sobre tentativas repetidas de um IP
func BruteForce(ctx context.Context, d domain.AlertDispatcher, ip string, attempts int) {
	d.SendAlert(ctx, domain.AlertBruteForce, map[string]string{
		"ip":       ip,
		"attempts": strconv.Itoa(attempts),
	})
}

// RateLimitViolation alerta sobre a primeira rejeição de uma janela
func RateLimitViolation(ctx context.Context, d domain.AlertDispatcher, class domain.RouteClass, key string, limit int, window time.Duration) {
	d.SendAlert(ctx, domain.AlertRateLimitViolation, map[string]string{
		"route_class": string(class),
		"key":         key,
		"limit":       strconv.Itoa(limit),
		"window":      window.String(),
	})
}

// UnauthorizedAccess alerta sobre acesso sem credenciais válidas
func UnauthorizedAccess(ctx context.Context, d domain.AlertDispatcher, userID, resource, ip string) {
	d.SendAlert(ctx, domain.AlertUnauthorizedAccess, map[string]string{
		"user_id":  userID,
		"resource": resource,
		"ip":       ip,
	})
}

// FileTypeSpoofing alerta sobre arquivo cujo conteúdo não bate com o tipo declarado
func FileTypeSpoofing(ctx context.Context, d domain.AlertDispatcher, userID, filename, declared, detected string) {
	d.SendAlert(ctx, domain.AlertFileTypeSpoofing, map[string]string{
		"user_id":       userID,
		"filename":      filename,
		"declared_type": declared,
		"detected_type": detected,
	})
}

// SuspiciousInvoice alerta sobre uma fatura fora do padrão
func SuspiciousInvoice(ctx context.Context, d domain.AlertDispatcher, userID, invoiceID, reason string) {
	d.SendAlert(ctx, domain.AlertSuspiciousInvoice, map[string]string{
		"user_id":    userID,
		"invoice_id": invoiceID,
		"reason":     reason,
	})
}
