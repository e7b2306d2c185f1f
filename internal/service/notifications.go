package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/metrics"
	"workspace-realtime/internal/realtime"
)

const (
	counterpartyTitle  = "New message from client"
	ownerTitle         = "New message"
	descriptionMaxLen  = 100
	defaultWorkers     = 4
	defaultQueueSize   = 1024
	defaultDeriveLimit = 5 * time.Second
)

// DeriverConfig define o pool de workers da derivação de notificações
type DeriverConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// NotificationDeriver transforma mensagens de chat em notificações fora do caminho da requisição
type NotificationDeriver struct {
	store       domain.NotificationStore
	broadcaster domain.Broadcaster
	config      DeriverConfig
	logger      domain.Logger
	now         func() time.Time

	queue   chan domain.ChatEvent
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewNotificationDeriver cria o deriver; Start deve ser chamado antes de Enqueue
func NewNotificationDeriver(
	store domain.NotificationStore,
	broadcaster domain.Broadcaster,
	config DeriverConfig,
	logger domain.Logger,
) *NotificationDeriver {
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultDeriveLimit
	}

	return &NotificationDeriver{
		store:       store,
		broadcaster: broadcaster,
		config:      config,
		logger:      logger.WithFields(map[string]interface{}{"subsystem": "notifications"}),
		now:         time.Now,
		queue:       make(chan domain.ChatEvent, config.QueueSize),
	}
}

// Start inicia os workers
func (d *NotificationDeriver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.logger.Info("Notification workers started", map[string]interface{}{
		"workers":    d.config.Workers,
		"queue_size": d.config.QueueSize,
	})
}

// Stop fecha a fila e espera os workers drenarem o que já foi aceito
func (d *NotificationDeriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Notification workers stopped", nil)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification workers did not drain: %w", ctx.Err())
	}
}

// Enqueue agenda a derivação sem bloquear; com a fila cheia o evento é descartado
func (d *NotificationDeriver) Enqueue(evt domain.ChatEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return false
	}

	select {
	case d.queue <- evt:
		return true
	default:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("Notification queue full, dropping derivation", map[string]interface{}{
			"workspace_id": evt.WorkspaceID,
			"sender":       string(evt.Sender),
			"queue_size":   d.config.QueueSize,
		})
		return false
	}
}

// Pending retorna quantos eventos aguardam na fila
func (d *NotificationDeriver) Pending() int {
	return len(d.queue)
}

func (d *NotificationDeriver) worker(id int) {
	defer d.wg.Done()

	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.Timeout)
		if err := d.Derive(ctx, evt); err != nil {
			d.logger.Error("Failed to derive notification", err, map[string]interface{}{
				"worker":       id,
				"workspace_id": evt.WorkspaceID,
				"sender":       string(evt.Sender),
			})
		}
		cancel()
	}
}

// Derive roteia a notificação pelo lado que enviou a mensagem.
// O dono recebe um registro persistido em user:<owner>; o cliente recebe um aviso efêmero no workspace.
func (d *NotificationDeriver) Derive(ctx context.Context, evt domain.ChatEvent) error {
	ownerID, err := d.store.FindWorkspaceOwner(ctx, evt.WorkspaceID)
	if err != nil {
		return d.fail(evt, "owner-lookup", err)
	}

	description := truncate(evt.Text, descriptionMaxLen)
	link := chatLink(evt.WorkspaceID)

	switch evt.Sender {
	case domain.SenderCounterparty:
		saved, err := d.store.CreateNotification(ctx, &domain.Notification{
			RecipientUserID: ownerID,
			Type:            domain.NotificationTypeMessage,
			Title:           counterpartyTitle,
			Description:     description,
			Link:            link,
			WorkspaceID:     evt.WorkspaceID,
			CreatedAt:       d.now().UTC(),
		})
		if err != nil {
			return d.fail(evt, "persist", err)
		}

		delivered := d.broadcaster.Broadcast(realtime.UserRoom(ownerID), domain.NotificationEvent(saved))
		metrics.NotificationsTotal.WithLabelValues("persisted").Inc()
		d.logger.Debug("Notification delivered to owner", map[string]interface{}{
			"workspace_id":    evt.WorkspaceID,
			"owner_id":        ownerID,
			"notification_id": saved.ID,
			"delivered":       delivered,
		})

	case domain.SenderOwner:
		delivered := d.broadcaster.Broadcast(realtime.WorkspaceRoom(evt.WorkspaceID), domain.ClientNotificationEvent(domain.ClientNotification{
			Type:        domain.NotificationTypeMessage,
			Title:       ownerTitle,
			Description: description,
			Link:        link,
			WorkspaceID: evt.WorkspaceID,
			CreatedAt:   d.now().UTC(),
		}))
		metrics.NotificationsTotal.WithLabelValues("ephemeral").Inc()
		d.logger.Debug("Client notification broadcast", map[string]interface{}{
			"workspace_id": evt.WorkspaceID,
			"delivered":    delivered,
		})

	default:
		return d.fail(evt, "route", fmt.Errorf("%w: sender %q", domain.ErrMalformedEvent, evt.Sender))
	}

	return nil
}

func (d *NotificationDeriver) fail(evt domain.ChatEvent, stage string, err error) error {
	metrics.NotificationsTotal.WithLabelValues("failed").Inc()
	return &domain.RelayFailure{WorkspaceID: evt.WorkspaceID, Stage: stage, Err: err}
}

func chatLink(workspaceID string) string {
	return fmt.Sprintf("/workspaces/%s/chat", workspaceID)
}

// truncate corta em max caracteres (runes) e acrescenta "..." quando o texto é maior
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
