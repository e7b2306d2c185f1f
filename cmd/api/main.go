package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"workspace-realtime/internal/alerting"
	"workspace-realtime/internal/config"
	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/handler"
	"workspace-realtime/internal/logger"
	"workspace-realtime/internal/middleware"
	"workspace-realtime/internal/realtime"
	"workspace-realtime/internal/service"
	"workspace-realtime/internal/storage"
)

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	cfg, err := configLoader.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Inicializar logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	appLogger.Info("Starting Workspace Realtime API", map[string]interface{}{
		"version":      "1.0.0",
		"log_level":    cfg.LogLevel,
		"port":         cfg.ServerPort,
		"storage_type": cfg.StorageType,
	})

	// Storage de contadores (memória por padrão, Redis quando configurado)
	counterStorage, err := storage.NewCounterStorage(storage.CounterConfig{
		Backend: storage.Backend(cfg.StorageType),
		Redis: storage.RedisOptions{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		CleanupInterval: cfg.StorageCleanupInterval,
	}, appLogger)
	if err != nil {
		appLogger.Error("Failed to create counter storage", err, nil)
		os.Exit(1)
	}

	// Notificações e credenciais: Postgres quando há DSN, seeds em memória caso contrário
	var (
		notificationStore domain.NotificationStore
		notificationList  handler.NotificationLister
		credentials       domain.CredentialVerifier
		healthChecks      = map[string]func(ctx context.Context) error{}
		pg                *storage.PostgresStore
	)

	if cfg.DatabaseDSN != "" {
		pg, err = storage.NewPostgresStore(context.Background(), storage.DefaultPostgresConfig(cfg.DatabaseDSN), appLogger)
		if err != nil {
			appLogger.Error("Failed to connect to Postgres", err, nil)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(context.Background()); err != nil {
			appLogger.Error("Failed to ensure notifications schema", err, nil)
			os.Exit(1)
		}
		notificationStore, notificationList, credentials = pg, pg, pg
		healthChecks["postgres"] = pg.Health
	} else {
		owners, err := storage.ParseWorkspaceOwners(cfg.DevWorkspaceOwners)
		if err != nil {
			appLogger.Error("Invalid DEV_WORKSPACE_OWNERS", err, nil)
			os.Exit(1)
		}
		users, err := storage.ParseDevUsers(cfg.DevUsers)
		if err != nil {
			appLogger.Error("Invalid DEV_USERS", err, nil)
			os.Exit(1)
		}
		verifier, err := storage.NewStaticCredentialVerifier(users)
		if err != nil {
			appLogger.Error("Failed to seed dev users", err, nil)
			os.Exit(1)
		}
		memoryStore := storage.NewMemoryNotificationStore(owners)
		notificationStore, notificationList, credentials = memoryStore, memoryStore, verifier
		appLogger.Info("Using in-memory notifications and credentials", map[string]interface{}{
			"workspaces": len(owners),
			"users":      len(users),
		})
	}

	ownerCache, err := storage.NewOwnerCache(notificationStore, cfg.OwnerCacheSize)
	if err != nil {
		appLogger.Error("Failed to create owner cache", err, nil)
		os.Exit(1)
	}

	// Alertas de segurança
	transport := alerting.NewTransport(alerting.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, nil, appLogger)
	alerts := service.NewAlertDispatcher(counterStorage, transport, service.AlertChannels{
		EmailTo:    cfg.AlertEmailTo,
		WebhookURL: cfg.AlertWebhookURL,
	}, cfg.AlertMaxPerHour, appLogger)

	// Serviços de domínio
	rateLimiterService := service.NewRateLimiterService(counterStorage, cfg.Limits, alerts, appLogger)
	blocklist := service.NewIPBlocklist(service.BlocklistConfig{
		Threshold:     cfg.BlockThreshold,
		BlockDuration: cfg.BlockDuration,
		RecordTTL:     cfg.BlockRecordTTL,
	}, alerts, appLogger)

	registry := realtime.NewRegistry(appLogger)
	deriver := service.NewNotificationDeriver(ownerCache, registry, service.DeriverConfig{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	}, appLogger)
	deriver.Start()
	relay := service.NewRelay(registry, rateLimiterService, deriver, appLogger)

	// Inicializar handlers
	handlers := handler.NewHandlers(handler.Dependencies{
		Limiter:        rateLimiterService,
		Blocklist:      blocklist,
		Alerts:         alerts,
		Registry:       registry,
		Relay:          relay,
		Deriver:        deriver,
		Storage:        counterStorage,
		Credentials:    credentials,
		Notifications:  notificationList,
		Tokens:         middleware.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		AdminKey:       cfg.AdminKey,
		TrustedProxies: cfg.TrustedProxies,
		QueueSize:      realtime.DefaultQueueSize,
		HealthChecks:   healthChecks,
		Logger:         appLogger,
	})

	// Configurar Gin
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Criar router
	router := gin.New()

	// Middlewares globais
	router.Use(gin.Recovery())

	// Middleware de logging customizado
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	// Configurar rotas
	if err := handlers.SetupRoutes(router); err != nil {
		appLogger.Error("Failed to configure routes", err, nil)
		os.Exit(1)
	}

	// Sem WriteTimeout: conexões websocket ficam abertas por mais tempo que qualquer requisição
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Iniciar servidor em goroutine
	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": cfg.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	// Aguardar sinais de interrupção
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("Workspace Realtime API is running", map[string]interface{}{
		"port": cfg.ServerPort,
		"endpoints": []string{
			"GET    /health",
			"GET    /stats",
			"GET    /metrics",
			"GET    /ws",
			"POST   /api/auth/login",
			"POST   /api/workspaces/:id/messages",
			"GET    /api/notifications",
			"GET    /admin/status",
			"POST   /admin/reset",
			"GET    /admin/blocks",
			"DELETE /admin/blocks/:ip",
		},
		"block_threshold": cfg.BlockThreshold,
		"trusted_proxies": cfg.TrustedProxies,
		"block_duration":  cfg.BlockDuration,
	})

	// Bloquear até receber sinal
	<-quit
	appLogger.Info("Shutting down server...", nil)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
	}

	if err := deriver.Stop(ctx); err != nil {
		appLogger.Warn("Notification workers did not drain", map[string]interface{}{
			"error":   err.Error(),
			"pending": deriver.Pending(),
		})
	}

	blocklist.Close()

	if err := counterStorage.Close(); err != nil {
		appLogger.Error("Failed to close counter storage", err, nil)
	}
	if pg != nil {
		pg.Close()
	}

	appLogger.Info("Server stopped gracefully", nil)
}
