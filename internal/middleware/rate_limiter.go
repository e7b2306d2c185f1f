package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/logger"
	"workspace-realtime/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDKey = "request_id"
	clientIPKey  = "client_ip"

	checkTimeout = 5 * time.Second
)

// RequestContext gera o Request ID, resolve o IP do cliente e enriquece o contexto de log
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)

		// c.ClientIP só considera X-Forwarded-For vindo de proxies confiáveis (SetTrustedProxies)
		ip := c.ClientIP()
		c.Set(requestIDKey, requestID)
		c.Set(clientIPKey, ip)

		ctx := logger.ContextWithRequestInfo(c.Request.Context(), requestID, ip, "")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimiterMiddleware aplica o limiter de uma classe de rota
type RateLimiterMiddleware struct {
	class     domain.RouteClass
	service   domain.RateLimiterService
	logger    domain.Logger
	blocklist domain.IPBlocklist
}

// RateLimiterOption ajusta um RateLimiterMiddleware
type RateLimiterOption func(*RateLimiterMiddleware)

// WithBlocklistEscalation conta cada rejeição por limite como falha do IP no blocklist.
// Quando a falha atinge o limiar, a resposta passa a ser 403 IP_BLOCKED em vez de 429.
func WithBlocklistEscalation(blocklist domain.IPBlocklist) RateLimiterOption {
	return func(m *RateLimiterMiddleware) {
		m.blocklist = blocklist
	}
}

// NewRateLimiterMiddleware cria o middleware para a classe informada
func NewRateLimiterMiddleware(
	class domain.RouteClass,
	service domain.RateLimiterService,
	logger domain.Logger,
	opts ...RateLimiterOption,
) gin.HandlerFunc {
	middleware := &RateLimiterMiddleware{
		class:   class,
		service: service,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(middleware)
	}

	return middleware.Handle
}

// Handle é o handler principal do middleware
func (m *RateLimiterMiddleware) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	log := m.logger.WithContext(ctx)
	clientIP := ClientIP(c)
	userID := UserID(c)

	rule, ok := m.service.Rule(m.class)
	if !ok {
		log.Error("Route class without limiter", domain.ErrUnknownRouteClass, map[string]interface{}{
			"route_class": string(m.class),
		})
		abortInternal(c)
		return
	}

	key, err := service.ResolveKey(rule.KeyStrategy, userID, clientIP)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"code":    domain.CodeUnauthorized,
			"message": "authentication required",
		})
		c.Abort()
		return
	}

	result, err := m.service.Check(ctx, m.class, key)
	if tv, throttled := domain.AsThrottleViolation(err); throttled {
		if m.escalate(c, clientIP) {
			return
		}

		m.setRateLimitHeaders(c, result)
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(tv.RetryAfter)))

		log.Info("Request rate limited", map[string]interface{}{
			"client_ip":   clientIP,
			"route_class": string(m.class),
			"key":         key,
			"limit":       tv.Limit,
			"retry_after": tv.RetryAfter,
		})

		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"code":    domain.CodeRateLimited,
			"message": tv.Error(),
			"details": gin.H{
				"route_class": string(m.class),
				"limit":       tv.Limit,
				"remaining":   0,
				"retry_after": tv.RetryAfter.Unix(),
			},
		})
		c.Abort()
		return
	}
	if err != nil {
		log.Error("Rate limiter service error", err, map[string]interface{}{
			"client_ip":   clientIP,
			"route_class": string(m.class),
		})
		abortInternal(c)
		return
	}

	m.setRateLimitHeaders(c, result)

	log.Debug("Request allowed by rate limiter", map[string]interface{}{
		"client_ip":   clientIP,
		"route_class": string(m.class),
		"limit":       result.Limit,
		"remaining":   result.Remaining,
	})

	c.Next()

	if rule.SkipSuccessful && c.Writer.Status() < http.StatusBadRequest {
		if err := m.service.Forgive(context.WithoutCancel(ctx), m.class, key); err != nil {
			log.Warn("Failed to forgive successful request", map[string]interface{}{
				"route_class": string(m.class),
				"error":       err.Error(),
			})
		}
	}
}

// escalate registra a rejeição como falha e responde 403 se o IP acabou de ser bloqueado
func (m *RateLimiterMiddleware) escalate(c *gin.Context, clientIP string) bool {
	if m.blocklist == nil || !m.blocklist.RecordFailure(clientIP) {
		return false
	}
	until, blocked := m.blocklist.BlockedUntil(clientIP)
	if !blocked {
		return false
	}

	m.logger.WithContext(c.Request.Context()).Warn("Rate limited client escalated to block", map[string]interface{}{
		"client_ip":     clientIP,
		"route_class":   string(m.class),
		"blocked_until": until,
	})
	abortBlocked(c, clientIP, until)
	return true
}

// setRateLimitHeaders define headers informativos de rate limiting
func (m *RateLimiterMiddleware) setRateLimitHeaders(c *gin.Context, result *domain.RateLimitResult) {
	if result == nil {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	c.Header("X-RateLimit-Class", string(result.Class))
}

// NewBlocklistMiddleware rejeita com 403 IPs sob bloqueio de escalonamento
func NewBlocklistMiddleware(blocklist domain.IPBlocklist, log domain.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ClientIP(c)
		until, blocked := blocklist.BlockedUntil(ip)
		if !blocked {
			c.Next()
			return
		}

		log.WithContext(c.Request.Context()).Info("Request from blocked IP", map[string]interface{}{
			"client_ip":     ip,
			"blocked_until": until,
			"path":          c.Request.URL.Path,
		})
		abortBlocked(c, ip, until)
	}
}

func abortBlocked(c *gin.Context, ip string, until time.Time) {
	err := &domain.BlockedIdentity{IP: ip, BlockedUntil: until}
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(until)))
	c.JSON(http.StatusForbidden, gin.H{
		"error":   "ip_blocked",
		"code":    domain.CodeIPBlocked,
		"message": err.Error(),
		"details": gin.H{
			"blocked_until": until.Unix(),
		},
	})
	c.Abort()
}

// ClientIP retorna o IP resolvido por RequestContext ou, sem ele, o de c.ClientIP
func ClientIP(c *gin.Context) string {
	if ip := c.GetString(clientIPKey); ip != "" {
		return ip
	}
	return c.ClientIP()
}

// GetRequestID retorna o Request ID da requisição
func GetRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return c.GetHeader("X-Request-ID")
}

func retryAfterSeconds(until time.Time) int {
	seconds := int(math.Ceil(time.Until(until).Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func abortInternal(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal server error",
		"code":    domain.CodeInternalError,
		"message": "Unable to process rate limit check",
	})
	c.Abort()
}
