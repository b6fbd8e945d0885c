package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telecare/internal/core/services"
	httphandlers "telecare/internal/handlers/http"
	"telecare/internal/infrastructure/avatar"
	"telecare/internal/infrastructure/middleware"
	"telecare/internal/infrastructure/monitoring"
	"telecare/internal/infrastructure/presence"
	signalws "telecare/internal/infrastructure/signal"
	"telecare/pkg/config"
	"telecare/pkg/logger"
	"telecare/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPath := os.Getenv("TELECARE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	presenceFactory, err := presence.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create presence factory", "error", err)
	}

	registry := services.NewRegistryService(presenceFactory.CreatePresence(), log)
	collector := monitoring.NewPrometheusCollector()

	signalServer := signalws.NewServer(registry, collector, signalws.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		ReadTimeout:       cfg.Signal.ReadTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MaxMessageBytes:   cfg.Signal.MaxMessageBytes,
		LowThresholdKbps:  cfg.Bandwidth.LowThresholdKbps,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
	}, log)

	avatarClient := avatar.NewClient(avatar.Config{
		BaseURL:        cfg.Avatar.BaseURL,
		APIKey:         cfg.Avatar.APIKey,
		DefaultAvatar:  cfg.Avatar.DefaultAvatar,
		DefaultVoice:   cfg.Avatar.DefaultVoice,
		RequestTimeout: cfg.Avatar.RequestTimeout,
		PollInterval:   cfg.Avatar.PollInterval,
		PollAttempts:   cfg.Avatar.PollAttempts,
	}, log)

	var validator *middleware.TokenValidator
	if cfg.Auth.Enabled {
		validator = middleware.NewTokenValidator(cfg.Auth.JWTSecret, 0)
	}

	consultationHandler := httphandlers.NewConsultationHandler(registry, validator)
	avatarHandler := httphandlers.NewAvatarHandler(avatarClient)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.RequestLoggingMiddleware(zapLogger))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	api := router.Group("/api/v1")
	if validator != nil {
		// Consultation creation stays open; everything else under the group
		// requires a token.
		router.POST("/api/v1/consultations", consultationHandler.CreateConsultation)
		api.Use(middleware.AuthMiddleware(validator))
		api.GET("/consultations/:id", consultationHandler.GetConsultation)
		api.POST("/consultations/:id/tokens", consultationHandler.IssueToken)
	} else {
		consultationHandler.SetupRoutes(api)
	}
	avatarHandler.SetupRoutes(api)

	wsHandler := gin.WrapF(signalServer.HandleWebSocket)
	if validator != nil {
		router.GET("/ws", middleware.AuthMiddleware(validator), wsHandler)
	} else {
		router.GET("/ws", wsHandler)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"rooms":     registry.RoomCount(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := presenceFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting telecare signaling server", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if err := presenceFactory.Close(); err != nil {
		log.Errorw("error closing presence store", "error", err)
	}
	if err := tracerProvider.Shutdown(context.Background()); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("telecare signaling server stopped")
}
