package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	CodeRateLimited   = "RATE_LIMITED"
	CodeIPBlocked     = "IP_BLOCKED"
	CodeBadEvent      = "BAD_EVENT"
	CodeInternalError = "INTERNAL_ERROR"
	CodeUnauthorized  = "UNAUTHORIZED"
)

var (
	ErrUnknownEvent       = errors.New("unknown event")
	ErrMalformedEvent     = errors.New("malformed event")
	ErrWorkspaceNotFound  = errors.New("workspace not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingIdentity    = errors.New("identity key unavailable")
	ErrUnknownRouteClass  = errors.New("unknown route class")
	ErrUnknownAlertType   = errors.New("unknown alert type")
)

// ThrottleViolation indica que o chamador excedeu a taxa configurada
type ThrottleViolation struct {
	Class      RouteClass
	Key        string
	Limit      int
	Message    string
	RetryAfter time.Time
}

func (e *ThrottleViolation) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Class)
}

// BlockedIdentity indica que o IP está sob bloqueio de escalonamento
type BlockedIdentity struct {
	IP           string
	BlockedUntil time.Time
}

func (e *BlockedIdentity) Error() string {
	return fmt.Sprintf("ip %s is temporarily blocked", e.IP)
}

// RelayFailure envolve falhas na derivação de notificações; nunca chega ao usuário
type RelayFailure struct {
	WorkspaceID string
	Stage       string
	Err         error
}

func (e *RelayFailure) Error() string {
	return fmt.Sprintf("relay %s failed for workspace %s: %v", e.Stage, e.WorkspaceID, e.Err)
}

func (e *RelayFailure) Unwrap() error { return e.Err }

// AlertDispatchFailure agrega as falhas de todos os canais de alerta
type AlertDispatchFailure struct {
	AlertType AlertType
	Failures  map[string]error
}

func (e *AlertDispatchFailure) Error() string {
	return fmt.Sprintf("alert %s: all %d channels failed", e.AlertType, len(e.Failures))
}

// AsThrottleViolation extrai um ThrottleViolation da cadeia de erros
func AsThrottleViolation(err error) (*ThrottleViolation, bool) {
	var tv *ThrottleViolation
	if errors.As(err, &tv) {
		return tv, true
	}
	return nil, false
}

// AsBlockedIdentity extrai um BlockedIdentity da cadeia de erros
func AsBlockedIdentity(err error) (*BlockedIdentity, bool) {
	var bi *BlockedIdentity
	if errors.As(err, &bi) {
		return bi, true
	}
	return nil, false
}

// CodeFromError retorna o código estruturado exposto ao cliente
func CodeFromError(err error) string {
	switch {
	case err == nil:
		return ""
	case isThrottle(err):
		return CodeRateLimited
	case isBlocked(err):
		return CodeIPBlocked
	case errors.Is(err, ErrUnknownEvent), errors.Is(err, ErrMalformedEvent):
		return CodeBadEvent
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrMissingIdentity):
		return CodeUnauthorized
	default:
		return CodeInternalError
	}
}

// HTTPStatusFromError mapeia a taxonomia de erros para status HTTP
func HTTPStatusFromError(err error) int {
	switch {
	case isThrottle(err):
		return http.StatusTooManyRequests
	case isBlocked(err):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownEvent), errors.Is(err, ErrMalformedEvent),
		errors.Is(err, ErrUnknownRouteClass), errors.Is(err, ErrUnknownAlertType):
		return http.StatusBadRequest
	case errors.Is(err, ErrWorkspaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrMissingIdentity):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func isThrottle(err error) bool {
	_, ok := AsThrottleViolation(err)
	return ok
}

func isBlocked(err error) bool {
	_, ok := AsBlockedIdentity(err)
	return ok
}
