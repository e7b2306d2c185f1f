package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/metrics"
	"workspace-realtime/internal/middleware"
	"workspace-realtime/internal/realtime"
	"workspace-realtime/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serviceName       = "Workspace Realtime API"
	serviceVersion    = "1.0.0"
	healthTimeout     = 3 * time.Second
	notificationLimit = 50
)

// NotificationLister lê as notificações persistidas de um usuário
type NotificationLister interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]*domain.Notification, error)
}

// ResourceHandlers são as rotas CRUD externas; cada uma é montada atrás do limiter da sua classe
type ResourceHandlers struct {
	Register      gin.HandlerFunc
	Upload        gin.HandlerFunc
	InvoiceCreate gin.HandlerFunc
	EmailSend     gin.HandlerFunc
	PublicShare   gin.HandlerFunc
}

// Dependencies reúne os serviços usados pelos handlers
type Dependencies struct {
	Limiter        *service.RateLimiterService
	Blocklist      *service.IPBlocklist
	Alerts         domain.AlertDispatcher
	Registry       *realtime.Registry
	Relay          *service.Relay
	Deriver        *service.NotificationDeriver
	Storage        domain.CounterStorage
	Credentials    domain.CredentialVerifier
	Notifications  NotificationLister
	Tokens         *middleware.TokenIssuer
	AdminKey       string
	TrustedProxies []string
	QueueSize      int
	HealthChecks   map[string]func(ctx context.Context) error
	Resources      ResourceHandlers
	Logger         domain.Logger
}

// Handlers contém os handlers da API
type Handlers struct {
	deps      Dependencies
	logger    domain.Logger
	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewHandlers cria uma nova instância dos handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
}

// SetupRoutes configura as rotas da API.
// X-Forwarded-For e X-Real-IP só são aceitos quando o peer está em TrustedProxies.
func (h *Handlers) SetupRoutes(router *gin.Engine) error {
	if err := router.SetTrustedProxies(h.deps.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(middleware.RequestContext(), metrics.GinMiddleware())

	limit := func(class domain.RouteClass) gin.HandlerFunc {
		return middleware.NewRateLimiterMiddleware(class, h.deps.Limiter, h.logger)
	}
	blocklist := middleware.NewBlocklistMiddleware(h.deps.Blocklist, h.logger)
	// Tentativas de login barradas pelo limiter também contam para o bloqueio do IP
	authLimit := middleware.NewRateLimiterMiddleware(domain.AuthRoute, h.deps.Limiter, h.logger,
		middleware.WithBlocklistEscalation(h.deps.Blocklist))
	identity := middleware.NewIdentityMiddleware(h.deps.Tokens, h.deps.Alerts, h.logger)

	// Rotas públicas (sem rate limiting)
	router.GET("/health", h.HealthHandler)
	router.GET("/stats", h.StatsHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Conexão ao vivo
	router.GET("/ws", blocklist, identity, limit(domain.GlobalRoute), h.WebSocketHandler)

	api := router.Group("/api")
	api.Use(blocklist, identity, limit(domain.GlobalRoute))
	{
		api.POST("/auth/login", authLimit, h.LoginHandler)
		api.POST("/workspaces/:id/messages", h.MessageHandler)
		api.GET("/notifications", middleware.RequireIdentity(), h.NotificationsHandler)

		h.mountResource(api, http.MethodPost, "/auth/register", limit(domain.SignupRoute), h.deps.Resources.Register)
		h.mountResource(api, http.MethodPost, "/files", limit(domain.UploadRoute), h.deps.Resources.Upload)
		h.mountResource(api, http.MethodPost, "/invoices", limit(domain.InvoiceCreateRoute), h.deps.Resources.InvoiceCreate)
		h.mountResource(api, http.MethodPost, "/emails", limit(domain.EmailSendRoute), h.deps.Resources.EmailSend)
		h.mountResource(api, http.MethodGet, "/public/*path", limit(domain.PublicRoute), h.deps.Resources.PublicShare)
	}

	// Rotas administrativas (sem rate limiting)
	admin := router.Group("/admin")
	admin.Use(h.adminAuth())
	{
		admin.GET("/status", h.AdminStatusHandler)
		admin.POST("/reset", h.AdminResetHandler)
		admin.GET("/rules", h.AdminRulesHandler)
		admin.GET("/blocks", h.AdminBlocksHandler)
		admin.DELETE("/blocks/:ip", h.AdminUnblockHandler)
		admin.GET("/rooms", h.AdminRoomsHandler)
		admin.POST("/alerts", h.AdminAlertHandler)
	}

	return nil
}

func (h *Handlers) mountResource(group *gin.RouterGroup, method, path string, limiter, handler gin.HandlerFunc) {
	if handler == nil {
		return
	}
	group.Handle(method, path, limiter, handler)
}

// HealthHandler verifica o storage de contadores e os demais colaboradores configurados
func (h *Handlers) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := h.deps.Storage.Health(ctx); err != nil {
		healthy = false
		checks["counter_storage"] = err.Error()
	} else {
		checks["counter_storage"] = "ok"
	}

	for name, check := range h.deps.HealthChecks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
		h.logger.WithContext(ctx).Warn("Health check failed", map[string]interface{}{"checks": checks})
	}

	c.JSON(status, gin.H{
		"status":    state,
		"service":   serviceName,
		"version":   serviceVersion,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// StatsHandler expõe estatísticas de runtime e dos componentes
func (h *Handlers) StatsHandler(c *gin.Context) {
	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	blocks := h.deps.Blocklist.Stats()
	response := gin.H{
		"service":        serviceName,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"realtime":       h.deps.Registry.Stats(false),
		"blocklist": gin.H{
			"tracked": blocks.Tracked,
			"blocked": blocks.Blocked,
		},
		"system": gin.H{
			"go_version":   runtime.Version(),
			"goroutines":   runtime.NumGoroutine(),
			"memory_alloc": formatBytes(m.Alloc),
			"memory_total": formatBytes(m.TotalAlloc),
			"memory_sys":   formatBytes(m.Sys),
			"gc_runs":      m.NumGC,
		},
	}

	if h.deps.Deriver != nil {
		response["notifications_pending"] = h.deps.Deriver.Pending()
	}
	if s, ok := h.deps.Storage.(interface{ GetStats() map[string]interface{} }); ok {
		response["counter_storage"] = s.GetStats()
	}

	c.JSON(http.StatusOK, response)
}

// LoginRequest representa o corpo do login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler valida credenciais; falhas alimentam a blocklist e o alerta de login suspeito
func (h *Handlers) LoginHandler(c *gin.Context) {
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)
	ip := middleware.ClientIP(c)

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	userID, err := h.deps.Credentials.VerifyCredentials(ctx, req.Email, req.Password)
	if errors.Is(err, domain.ErrInvalidCredentials) {
		blocked := h.deps.Blocklist.RecordFailure(ip)
		service.SuspiciousLogin(ctx, h.deps.Alerts, req.Email, ip, "invalid credentials")

		log.Info("Login failed", map[string]interface{}{
			"client_ip": ip,
			"blocked":   blocked,
		})

		if until, isBlocked := h.deps.Blocklist.BlockedUntil(ip); blocked && isBlocked {
			renderError(c, &domain.BlockedIdentity{IP: ip, BlockedUntil: until})
			return
		}
		renderError(c, err)
		return
	}
	if err != nil {
		log.Error("Failed to verify credentials", err, map[string]interface{}{"client_ip": ip})
		renderError(c, err)
		return
	}

	h.deps.Blocklist.RecordSuccess(ip)

	token, expiresAt, err := h.deps.Tokens.Issue(userID)
	if err != nil {
		log.Error("Failed to issue token", err, map[string]interface{}{"user_id": userID})
		renderError(c, err)
		return
	}

	log.Info("Login succeeded", map[string]interface{}{
		"client_ip": ip,
		"user_id":   userID,
	})

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"userId":    userID,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

// MessageRequest é o corpo do envio de mensagem via REST
type MessageRequest struct {
	Sender domain.Sender `json:"sender" binding:"required"`
	Text   string        `json:"text" binding:"required"`
}

// MessageHandler alimenta o mesmo caminho de relay usado pelo websocket
func (h *Handlers) MessageHandler(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	chat, err := h.deps.Relay.SubmitMessage(c.Request.Context(), middleware.UserID(c), middleware.ClientIP(c), domain.SendMessagePayload{
		WorkspaceID: c.Param("id"),
		Sender:      req.Sender,
		Text:        req.Text,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, chat)
}

// NotificationsHandler lista as notificações do usuário autenticado
func (h *Handlers) NotificationsHandler(c *gin.Context) {
	if h.deps.Notifications == nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []*domain.Notification{}})
		return
	}

	limit := notificationLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= notificationLimit {
			limit = n
		}
	}

	list, err := h.deps.Notifications.ListNotifications(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("Failed to list notifications", err, nil)
		renderError(c, err)
		return
	}
	if list == nil {
		list = []*domain.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// adminAuth exige X-Admin-Key quando ADMIN_KEY está configurada
func (h *Handlers) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.deps.AdminKey == "" || c.GetHeader("X-Admin-Key") == h.deps.AdminKey {
			c.Next()
			return
		}

		ip := middleware.ClientIP(c)
		service.UnauthorizedAccess(c.Request.Context(), h.deps.Alerts, middleware.UserID(c), c.Request.URL.Path, ip)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"code":    domain.CodeUnauthorized,
			"message": "invalid admin key",
		})
		c.Abort()
	}
}

// AdminStatusHandler implementa endpoint de status administrativo
func (h *Handlers) AdminStatusHandler(c *gin.Context) {
	ctx := c.Request.Context()

	key := strings.TrimSpace(c.Query("key"))
	class := domain.RouteClass(strings.TrimSpace(c.Query("class")))

	h.logger.WithContext(ctx).Debug("Admin status endpoint accessed", map[string]interface{}{
		"key":   maskKey(key),
		"class": string(class),
	})

	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "key parameter is required",
		})
		return
	}

	if class == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "class parameter is required",
		})
		return
	}

	rule, ok := h.deps.Limiter.Rule(class)
	if !ok {
		renderError(c, domain.ErrUnknownRouteClass)
		return
	}

	record, err := h.deps.Limiter.GetStatus(ctx, class, key)
	if err != nil {
		h.logger.WithContext(ctx).Error("Failed to get rate limiter status", err, map[string]interface{}{
			"key":   maskKey(key),
			"class": string(class),
		})
		renderError(c, err)
		return
	}

	response := gin.H{
		"key":       key,
		"class":     string(class),
		"limit":     rule.MaxRequests,
		"window":    rule.Window.String(),
		"current":   0,
		"remaining": rule.MaxRequests,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if record != nil {
		response["current"] = record.Count
		response["remaining"] = max(0, rule.MaxRequests-record.Count)
		response["reset_time"] = record.WindowStart.Add(record.Window).Unix()
	}

	c.JSON(http.StatusOK, response)
}

// AdminResetRequest representa o corpo da requisição para reset
type AdminResetRequest struct {
	Key   string `json:"key" binding:"required"`
	Class string `json:"class" binding:"required"`
}

// AdminResetHandler implementa endpoint de reset administrativo
func (h *Handlers) AdminResetHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req AdminResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	req.Key = strings.TrimSpace(req.Key)
	class := domain.RouteClass(strings.TrimSpace(strings.ToLower(req.Class)))

	if err := h.deps.Limiter.Reset(ctx, class, req.Key); err != nil {
		h.logger.WithContext(ctx).Error("Failed to reset rate limiter", err, map[string]interface{}{
			"key":   maskKey(req.Key),
			"class": string(class),
		})
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Rate limiter reset successfully",
		"key":       maskKey(req.Key),
		"class":     string(class),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// AdminRulesHandler lista as regras efetivas
func (h *Handlers) AdminRulesHandler(c *gin.Context) {
	rules := h.deps.Limiter.Rules()
	out := make([]gin.H, 0, len(rules))
	for _, rule := range rules {
		out = append(out, gin.H{
			"class":          string(rule.Class),
			"window":         rule.Window.String(),
			"maxRequests":    rule.MaxRequests,
			"keyStrategy":    string(rule.KeyStrategy),
			"skipSuccessful": rule.SkipSuccessful,
			"message":        rule.Message,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}

// AdminBlocksHandler lista os IPs acompanhados pela blocklist
func (h *Handlers) AdminBlocksHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Blocklist.Stats())
}

// AdminUnblockHandler remove um IP da blocklist
func (h *Handlers) AdminUnblockHandler(c *gin.Context) {
	ip := c.Param("ip")
	if !h.deps.Blocklist.Unblock(ip) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "ip is not tracked",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "ip": ip})
}

// AdminRoomsHandler expõe o tamanho de cada sala
func (h *Handlers) AdminRoomsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Registry.Stats(true))
}

// AdminAlertRequest permite que as rotas CRUD externas reportem eventos de segurança
type AdminAlertRequest struct {
	Type    string            `json:"type" binding:"required"`
	Details map[string]string `json:"details"`
}

// AdminAlertHandler repassa um alerta ao dispatcher
func (h *Handlers) AdminAlertHandler(c *gin.Context) {
	var req AdminAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	alertType := domain.AlertType(req.Type)
	if !alertType.Valid() {
		renderError(c, domain.ErrUnknownAlertType)
		return
	}
	if req.Details == nil {
		req.Details = map[string]string{}
	}

	h.deps.Alerts.SendAlert(c.Request.Context(), alertType, req.Details)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "type": req.Type})
}

// renderError converte a taxonomia de erros no corpo JSON padrão
func renderError(c *gin.Context, err error) {
	status := domain.HTTPStatusFromError(err)
	body := gin.H{
		"error":   strings.ToLower(domain.CodeFromError(err)),
		"code":    domain.CodeFromError(err),
		"message": err.Error(),
	}

	if tv, ok := domain.AsThrottleViolation(err); ok {
		c.Header("Retry-After", strconv.Itoa(retryAfter(tv.RetryAfter)))
		body["details"] = gin.H{
			"route_class": string(tv.Class),
			"limit":       tv.Limit,
			"retry_after": tv.RetryAfter.Unix(),
		}
	}
	if bi, ok := domain.AsBlockedIdentity(err); ok {
		c.Header("Retry-After", strconv.Itoa(retryAfter(bi.BlockedUntil)))
		body["details"] = gin.H{"blocked_until": bi.BlockedUntil.Unix()}
	}
	if status == http.StatusInternalServerError {
		body["message"] = "internal server error"
	}

	c.JSON(status, body)
}

func retryAfter(until time.Time) int {
	seconds := int(time.Until(until).Seconds()) + 1
	if seconds < 1 {
		return 1
	}
	return seconds
}

// maskKey mascara chaves para logs de segurança
func maskKey(key string) string {
	if key == "" {
		return ""
	}

	if len(key) <= 8 {
		return key + "***"
	}

	return key[:8] + "***"
}

// formatBytes formata bytes em formato legível
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatUint(bytes, 10) + " B"
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return strconv.FormatFloat(float64(bytes)/float64(div), 'f', 1, 64) + " " + "KMGTPE"[exp:exp+1] + "B"
}
