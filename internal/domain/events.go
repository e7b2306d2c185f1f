package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// InboundKind enumera os eventos aceitos de uma conexão ao vivo
type InboundKind string

const (
	EventJoinUserRoom   InboundKind = "join-user-room"
	EventJoinWorkspace  InboundKind = "join-workspace"
	EventLeaveWorkspace InboundKind = "leave-workspace"
	EventSendMessage    InboundKind = "send-message"
	EventInvoicePaidIn  InboundKind = "invoice-paid"
	EventTaskUpdatedIn  InboundKind = "task-updated"
)

// OutboundKind enumera os eventos emitidos para as salas
type OutboundKind string

const (
	EventNewMessage         OutboundKind = "new-message"
	EventNotification       OutboundKind = "notification"
	EventClientNotification OutboundKind = "client-notification"
	EventInvoicePaid        OutboundKind = "invoice-paid"
	EventTaskUpdated        OutboundKind = "task-updated"
	EventError              OutboundKind = "error"
)

// Frame é o envelope trafegado no websocket
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SendMessagePayload struct {
	WorkspaceID string `json:"workspaceId"`
	Sender      Sender `json:"sender"`
	Text        string `json:"text"`
}

type InvoicePaidPayload struct {
	WorkspaceID   string  `json:"workspaceId"`
	Amount        float64 `json:"amount"`
	WorkspaceName string  `json:"workspaceName"`
}

type TaskUpdatedPayload struct {
	WorkspaceID string `json:"workspaceId"`
	TaskTitle   string `json:"taskTitle"`
	OldStatus   string `json:"oldStatus"`
	NewStatus   string `json:"newStatus"`
}

type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

// InboundEvent é a variante fechada dos eventos de entrada.
// Apenas o campo correspondente a Kind é preenchido.
type InboundEvent struct {
	Kind        InboundKind
	UserID      string
	WorkspaceID string
	Message     *SendMessagePayload
	InvoicePaid *InvoicePaidPayload
	TaskUpdated *TaskUpdatedPayload
}

// DecodeInbound converte um frame bruto em um InboundEvent validado
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	evt := InboundEvent{Kind: InboundKind(frame.Event)}

	switch evt.Kind {
	case EventJoinUserRoom:
		id, err := decodeID(frame.Data)
		if err != nil {
			return InboundEvent{}, err
		}
		evt.UserID = id

	case EventJoinWorkspace, EventLeaveWorkspace:
		id, err := decodeID(frame.Data)
		if err != nil {
			return InboundEvent{}, err
		}
		evt.WorkspaceID = id

	case EventSendMessage:
		var p SendMessagePayload
		if err := decodeData(frame.Data, &p); err != nil {
			return InboundEvent{}, err
		}
		if p.WorkspaceID == "" || strings.TrimSpace(p.Text) == "" || !p.Sender.Valid() {
			return InboundEvent{}, fmt.Errorf("%w: send-message requires workspaceId, text and a valid sender", ErrMalformedEvent)
		}
		evt.WorkspaceID = p.WorkspaceID
		evt.Message = &p

	case EventInvoicePaidIn:
		var p InvoicePaidPayload
		if err := decodeData(frame.Data, &p); err != nil {
			return InboundEvent{}, err
		}
		if p.WorkspaceID == "" {
			return InboundEvent{}, fmt.Errorf("%w: invoice-paid requires workspaceId", ErrMalformedEvent)
		}
		evt.WorkspaceID = p.WorkspaceID
		evt.InvoicePaid = &p

	case EventTaskUpdatedIn:
		var p TaskUpdatedPayload
		if err := decodeData(frame.Data, &p); err != nil {
			return InboundEvent{}, err
		}
		if p.WorkspaceID == "" {
			return InboundEvent{}, fmt.Errorf("%w: task-updated requires workspaceId", ErrMalformedEvent)
		}
		evt.WorkspaceID = p.WorkspaceID
		evt.TaskUpdated = &p

	default:
		return InboundEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Event)
	}

	return evt, nil
}

// decodeID aceita tanto uma string pura quanto um número como identificador
func decodeID(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
		return "", fmt.Errorf("%w: empty id", ErrMalformedEvent)
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil && n.String() != "" {
		return n.String(), nil
	}

	return "", fmt.Errorf("%w: id must be a string or number", ErrMalformedEvent)
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// OutboundEvent é um evento de saída com payload tipado por Kind
type OutboundEvent struct {
	Kind    OutboundKind
	Payload interface{}
}

// Encode serializa o evento no envelope {"event", "data"}
func (e OutboundEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Kind, err)
	}
	return json.Marshal(Frame{Event: string(e.Kind), Data: data})
}

func NewMessageEvent(evt ChatEvent) OutboundEvent {
	return OutboundEvent{Kind: EventNewMessage, Payload: evt}
}

func NotificationEvent(n *Notification) OutboundEvent {
	return OutboundEvent{Kind: EventNotification, Payload: n}
}

func ClientNotificationEvent(n ClientNotification) OutboundEvent {
	return OutboundEvent{Kind: EventClientNotification, Payload: n}
}

func InvoicePaidEvent(p *InvoicePaidPayload) OutboundEvent {
	return OutboundEvent{Kind: EventInvoicePaid, Payload: p}
}

func TaskUpdatedEvent(p *TaskUpdatedPayload) OutboundEvent {
	return OutboundEvent{Kind: EventTaskUpdated, Payload: p}
}

// ErrorEvent converte um erro de domínio no evento de erro enviado ao remetente
func ErrorEvent(err error) OutboundEvent {
	p := ErrorPayload{Code: CodeFromError(err), Message: err.Error()}
	if HTTPStatusFromError(err) >= http.StatusInternalServerError {
		// Falhas internas não expõem detalhes de storage ao cliente
		p.Message = "internal server error"
	}
	if tv, ok := AsThrottleViolation(err); ok {
		p.RetryAfter = tv.RetryAfter.Unix()
	}
	return OutboundEvent{Kind: EventError, Payload: p}
}
