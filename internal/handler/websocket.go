package handler

import (
	"context"
	"net/http"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/logger"
	"workspace-realtime/internal/middleware"
	"workspace-realtime/internal/realtime"
	"workspace-realtime/internal/service"

	"github.com/gin-gonic/gin"
)

// WebSocketHandler faz o upgrade e mantém a conexão até o fechamento.
// Navegadores não enviam Authorization no upgrade, então ?token= também é aceito.
func (h *Handlers) WebSocketHandler(c *gin.Context) {
	ip := middleware.ClientIP(c)
	userID := middleware.UserID(c)

	if userID == "" {
		if token := c.Query("token"); token != "" {
			id, err := h.deps.Tokens.Parse(token)
			if err != nil {
				service.UnauthorizedAccess(c.Request.Context(), h.deps.Alerts, "", c.Request.URL.Path, ip)
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"code":    domain.CodeUnauthorized,
					"message": "invalid or expired token",
				})
				return
			}
			userID = id
		}
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Warn("WebSocket upgrade failed", map[string]interface{}{
			"client_ip": ip,
			"error":     err.Error(),
		})
		return
	}

	conn := realtime.NewConnection(ws, ip, userID, h.deps.QueueSize)
	h.deps.Registry.Register(conn)

	ctx := logger.ContextWithRequestInfo(context.WithoutCancel(c.Request.Context()), middleware.GetRequestID(c), ip, userID)
	ctx = logger.ContextWithConnection(ctx, conn.ID)
	log := h.logger.WithContext(ctx)
	log.Info("WebSocket connected", nil)

	go conn.WritePump()
	conn.ReadPump(func(raw []byte) {
		h.deps.Relay.Handle(ctx, conn, raw)
	})

	rooms := h.deps.Registry.OnDisconnect(conn)
	log.Info("WebSocket disconnected", map[string]interface{}{
		"rooms": len(rooms),
	})
}
