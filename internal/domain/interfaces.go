package domain

import (
	"context"
	"time"
)

// CounterStorage define o armazenamento do Sliding-Window Counter.
// Implementa o Strategy Pattern: memória por padrão, Redis quando o estado precisa ser compartilhado.
type CounterStorage interface {
	// CheckAndIncrement abre uma nova janela ou incrementa a atual e informa se a chamada é permitida
	CheckAndIncrement(ctx context.Context, key string, window time.Duration, max int) (*CounterResult, error)

	// Decrement desfaz um incremento dentro da janela atual
	Decrement(ctx context.Context, key string) error

	// Get recupera o registro atual de uma chave (nil se não existir ou se a janela expirou)
	Get(ctx context.Context, key string) (*CounterRecord, error)

	// Reset limpa os dados de uma chave
	Reset(ctx context.Context, key string) error

	// Health verifica se o storage está saudável
	Health(ctx context.Context) error

	// Close libera os recursos do storage
	Close() error
}

// RateLimiterService reúne os limiters configurados por classe de rota
type RateLimiterService interface {
	// Check conta a chamada para a chave e retorna ThrottleViolation quando o limite é excedido
	Check(ctx context.Context, class RouteClass, key string) (*RateLimitResult, error)

	// Forgive desfaz a contagem de uma chamada bem-sucedida em classes com SkipSuccessful
	Forgive(ctx context.Context, class RouteClass, key string) error

	// Rule retorna a regra configurada para a classe
	Rule(class RouteClass) (*RateLimitRule, bool)

	// GetStatus retorna o registro atual de uma chave
	GetStatus(ctx context.Context, class RouteClass, key string) (*CounterRecord, error)

	// Reset limpa os dados de uma chave
	Reset(ctx context.Context, class RouteClass, key string) error
}

// IPBlocklist é a camada de escalonamento por falhas acumuladas
type IPBlocklist interface {
	RecordFailure(ip string) bool
	RecordSuccess(ip string)
	IsBlocked(ip string) bool
	BlockedUntil(ip string) (time.Time, bool)
}

// AlertDispatcher entrega alertas de segurança; nunca retorna erro ao chamador
type AlertDispatcher interface {
	SendAlert(ctx context.Context, alertType AlertType, details map[string]string)
}

// AlertTransport é o colaborador externo de envio (email e webhook)
type AlertTransport interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendWebhook(ctx context.Context, url string, payload interface{}) error
}

// NotificationStore é o colaborador de persistência da camada CRUD
type NotificationStore interface {
	FindWorkspaceOwner(ctx context.Context, workspaceID string) (string, error)
	CreateNotification(ctx context.Context, n *Notification) (*Notification, error)
}

// CredentialVerifier valida credenciais da rota de autenticação
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (string, error)
}

// Broadcaster entrega eventos a todas as conexões de uma sala
type Broadcaster interface {
	Broadcast(room string, evt OutboundEvent) int
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
	WithFields(fields map[string]interface{}) Logger
}
