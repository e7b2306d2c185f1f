package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/realtime"
)

// DerivationQueue recebe as mensagens que ainda precisam virar notificação
type DerivationQueue interface {
	Enqueue(evt domain.ChatEvent) bool
}

// Relay despacha os eventos de entrada para o registro de salas
type Relay struct {
	registry *realtime.Registry
	limiter  domain.RateLimiterService
	deriver  DerivationQueue
	logger   domain.Logger
	now      func() time.Time
}

// NewRelay cria o relay
func NewRelay(registry *realtime.Registry, limiter domain.RateLimiterService, deriver DerivationQueue, logger domain.Logger) *Relay {
	return &Relay{
		registry: registry,
		limiter:  limiter,
		deriver:  deriver,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle decodifica um frame da conexão e aplica o efeito do evento.
// Erros voltam apenas para a conexão que enviou o frame.
func (r *Relay) Handle(ctx context.Context, conn *realtime.Connection, raw []byte) {
	log := r.logger.WithContext(ctx)

	evt, err := domain.DecodeInbound(raw)
	if err != nil {
		log.Debug("Rejected inbound frame", map[string]interface{}{
			"connection_id": conn.ID,
			"error":         err.Error(),
		})
		conn.Send(domain.ErrorEvent(err))
		return
	}

	switch evt.Kind {
	case domain.EventJoinUserRoom:
		r.registry.Join(conn, realtime.UserRoom(evt.UserID))

	case domain.EventJoinWorkspace:
		r.registry.Join(conn, realtime.WorkspaceRoom(evt.WorkspaceID))

	case domain.EventLeaveWorkspace:
		r.registry.Leave(conn, realtime.WorkspaceRoom(evt.WorkspaceID))

	case domain.EventSendMessage:
		if _, err := r.SubmitMessage(ctx, conn.UserID, conn.IP, *evt.Message); err != nil {
			conn.Send(domain.ErrorEvent(err))
		}

	case domain.EventInvoicePaidIn:
		r.registry.Broadcast(realtime.WorkspaceRoom(evt.WorkspaceID), domain.InvoicePaidEvent(evt.InvoicePaid))

	case domain.EventTaskUpdatedIn:
		r.registry.Broadcast(realtime.WorkspaceRoom(evt.WorkspaceID), domain.TaskUpdatedEvent(evt.TaskUpdated))
	}
}

// SubmitMessage aplica o limite de chat, transmite a mensagem ao workspace e agenda a notificação.
// A transmissão acontece antes de qualquer persistência.
func (r *Relay) SubmitMessage(ctx context.Context, userID, ip string, msg domain.SendMessagePayload) (*domain.ChatEvent, error) {
	if msg.WorkspaceID == "" || strings.TrimSpace(msg.Text) == "" || !msg.Sender.Valid() {
		return nil, fmt.Errorf("%w: message requires workspaceId, text and a valid sender", domain.ErrMalformedEvent)
	}

	strategy := domain.KeyByUserElseIP
	if rule, ok := r.limiter.Rule(domain.ChatSendRoute); ok {
		strategy = rule.KeyStrategy
	}
	key, err := ResolveKey(strategy, userID, ip)
	if err != nil {
		return nil, err
	}

	if _, err := r.limiter.Check(ctx, domain.ChatSendRoute, key); err != nil {
		if _, throttled := domain.AsThrottleViolation(err); !throttled {
			r.logger.WithContext(ctx).Error("Chat limiter check failed", err, map[string]interface{}{
				"workspace_id": msg.WorkspaceID,
				"key":          key,
			})
		}
		return nil, err
	}

	chat := domain.ChatEvent{
		WorkspaceID: msg.WorkspaceID,
		Sender:      msg.Sender,
		Text:        msg.Text,
		CreatedAt:   r.now().UTC(),
	}

	delivered := r.registry.Broadcast(realtime.WorkspaceRoom(chat.WorkspaceID), domain.NewMessageEvent(chat))
	queued := r.deriver.Enqueue(chat)

	r.logger.WithContext(ctx).Debug("Chat message relayed", map[string]interface{}{
		"workspace_id": chat.WorkspaceID,
		"sender":       string(chat.Sender),
		"delivered":    delivered,
		"queued":       queued,
	})

	return &chat, nil
}
