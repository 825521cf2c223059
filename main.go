package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"neighborhood-chat/internal/config"
	"neighborhood-chat/internal/db"
	"neighborhood-chat/internal/gateway"
	"neighborhood-chat/internal/handlers"
	"neighborhood-chat/internal/middleware"
	"neighborhood-chat/internal/observability"
	"neighborhood-chat/internal/presence"
	"neighborhood-chat/internal/rabbitmq"
	"neighborhood-chat/internal/repositories"
	"neighborhood-chat/internal/telemetry"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracer(ctx, "neighborhood-chat", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}

	var presenceStore presence.Store
	if cfg.RedisURL != "" {
		redisStore, err := presence.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisStore.Close()
		presenceStore = redisStore
	} else {
		log.Info().Msg("redis not configured, using in-memory presence store")
		presenceStore = presence.NewMemoryStore()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "neighborhood-chat", cfg.Env)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := gateway.NewHub()
	gatewayHandler := gateway.NewHandler(hub, chatRepo, messageRepo, presenceStore, publisher, audit, cfg.JWTSecret)
	messageHandler := handlers.NewMessageHandler(chatRepo, messageRepo, hub)
	presenceHandler := handlers.NewPresenceHandler(chatRepo, presenceStore)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("neighborhood-chat"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.Auth(cfg.JWTSecret)

	router.GET("/chat/messages", authMiddleware, messageHandler.GetMessages)
	router.POST("/chat/messages", authMiddleware, messageHandler.PostMessage)
	router.GET("/chat/typing", authMiddleware, presenceHandler.GetTyping)
	router.POST("/chat/typing", authMiddleware, presenceHandler.SetTyping)
	router.GET("/chat/online-status", authMiddleware, presenceHandler.GetOnline)
	router.POST("/chat/online-status", authMiddleware, presenceHandler.Heartbeat)

	router.GET("/ws/chat", gatewayHandler.Handle)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("port", cfg.Port).Msg("gateway listening")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
