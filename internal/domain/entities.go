package domain

import "time"

// RouteClass identifica uma classe de rota protegida por um limiter próprio
type RouteClass string

const (
	GlobalRoute        RouteClass = "global"
	AuthRoute          RouteClass = "auth"
	SignupRoute        RouteClass = "signup"
	UploadRoute        RouteClass = "upload"
	InvoiceCreateRoute RouteClass = "invoice-create"
	EmailSendRoute     RouteClass = "email-send"
	ChatSendRoute      RouteClass = "chat-send"
	PublicRoute        RouteClass = "public"
)

// AllRouteClasses lista as classes na ordem em que são configuradas
func AllRouteClasses() []RouteClass {
	return []RouteClass{
		GlobalRoute,
		AuthRoute,
		SignupRoute,
		UploadRoute,
		InvoiceCreateRoute,
		EmailSendRoute,
		ChatSendRoute,
		PublicRoute,
	}
}

// KeyStrategy define como a Identity Key é derivada da requisição
type KeyStrategy string

const (
	KeyByIP         KeyStrategy = "ip"
	KeyByUser       KeyStrategy = "user"
	KeyByUserElseIP KeyStrategy = "user_else_ip"
)

// RateLimitRule define as regras de uma classe de rota
type RateLimitRule struct {
	Class          RouteClass    `json:"class"`
	Window         time.Duration `json:"window"`
	MaxRequests    int           `json:"maxRequests"`
	KeyStrategy    KeyStrategy   `json:"keyStrategy"`
	SkipSuccessful bool          `json:"skipSuccessful"`
	Message        string        `json:"message"`
}

// CounterRecord é o estado de uma janela deslizante para uma Identity Key
type CounterRecord struct {
	Key         string        `json:"key"`
	Count       int           `json:"count"`
	WindowStart time.Time     `json:"windowStart"`
	Window      time.Duration `json:"window"`
}

// CounterResult é o retorno de CheckAndIncrement
type CounterResult struct {
	Allowed   bool      `json:"allowed"`
	Count     int       `json:"count"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// RateLimitResult representa o resultado de uma verificação de rate limit
type RateLimitResult struct {
	Allowed   bool       `json:"allowed"`
	Class     RouteClass `json:"class"`
	Key       string     `json:"key"`
	Limit     int        `json:"limit"`
	Count     int        `json:"count"`
	Remaining int        `json:"remaining"`
	ResetTime time.Time  `json:"resetTime"`
}

// BlockRecord acompanha falhas acumuladas de um IP
type BlockRecord struct {
	IP           string     `json:"ip"`
	FailureCount int        `json:"failureCount"`
	BlockedUntil *time.Time `json:"blockedUntil,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Sender identifica o lado que enviou uma mensagem de chat
type Sender string

const (
	SenderOwner        Sender = "owner"
	SenderCounterparty Sender = "counterparty"
)

// Valid indica se o sender é um dos valores conhecidos
func (s Sender) Valid() bool {
	return s == SenderOwner || s == SenderCounterparty
}

// ChatEvent é uma mensagem de chat em trânsito; a persistência pertence à camada CRUD
type ChatEvent struct {
	WorkspaceID string    `json:"workspaceId"`
	Sender      Sender    `json:"sender"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

const NotificationTypeMessage = "message"

// Notification é o registro persistido para o dono do workspace
type Notification struct {
	ID              string    `json:"id"`
	RecipientUserID string    `json:"recipientUserId"`
	Type            string    `json:"type"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Link            string    `json:"link"`
	WorkspaceID     string    `json:"workspaceId"`
	Read            bool      `json:"read"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ClientNotification é o payload efêmero enviado ao lado público, sem registro durável
type ClientNotification struct {
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	WorkspaceID string    `json:"workspaceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AlertType é a categoria de um alerta de segurança
type AlertType string

const (
	AlertSuspiciousLogin    AlertType = "suspicious-login"
	AlertIPBlocked          AlertType = "ip-blocked"
	AlertBruteForce         AlertType = "brute-force"
	AlertRateLimitViolation AlertType = "rate-limit-violation"
	AlertUnauthorizedAccess AlertType = "unauthorized-access"
	AlertFileTypeSpoofing   AlertType = "file-type-spoofing"
	AlertSuspiciousInvoice  AlertType = "suspicious-invoice"
)

// AllAlertTypes lista os tipos de alerta conhecidos
func AllAlertTypes() []AlertType {
	return []AlertType{
		AlertSuspiciousLogin,
		AlertIPBlocked,
		AlertBruteForce,
		AlertRateLimitViolation,
		AlertUnauthorizedAccess,
		AlertFileTypeSpoofing,
		AlertSuspiciousInvoice,
	}
}

// Valid indica se o tipo de alerta é conhecido
func (t AlertType) Valid() bool {
	for _, known := range AllAlertTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// SecurityAlert é o evento estruturado entregue aos canais externos
type SecurityAlert struct {
	Type      AlertType         `json:"type"`
	Details   map[string]string `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
}

// LimitOverride sobrescreve janela, limite e mensagem de uma classe de rota
type LimitOverride struct {
	MaxRequests int           `json:"maxRequests"`
	Window      time.Duration `json:"window"`
	Message     string        `json:"message"`
}
