package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/store"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "messaging-service", cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s %s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRouting, "messaging-service", cfg.Environment)

	var tracker presence.Tracker
	if cfg.RedisAddr != "" {
		tracker = presence.NewRedisTracker(
			redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
			time.Duration(cfg.PresenceTTLSecs)*time.Second,
		)
		log.Printf("presence tracker mode=redis addr=%s", cfg.RedisAddr)
	} else {
		tracker = presence.NewLocalTracker()
		log.Printf("presence tracker mode=local")
	}

	messageRepo := repositories.NewMessageRepo(database)
	directoryRepo := repositories.NewDirectoryRepo(database)

	messageStore := store.NewStore(messageRepo, cfg.MaxMessageRunes)
	messageStore.AcceptHook = func(ctx context.Context, msg models.Message) {
		_ = observability.PublishEvent(ctx, "messages.accepted", observability.EventEnvelope{
			EventType: "message_events",
			EventName: "message_accepted",
			Payload:   msg,
		}, nil)
	}

	hub := ws.NewHub()
	tokenParser := middleware.NewTokenParser(cfg.JWTSecret)

	messageHandler := handlers.NewMessageHandler(messageStore, messageRepo, directoryRepo, tracker)
	// Refresh presence at half the TTL so Redis entries never lapse mid-session.
	presenceRefresh := time.Duration(cfg.PresenceTTLSecs) * time.Second / 2
	sessionHandler := ws.NewSessionHandler(hub, messageStore, directoryRepo, tracker, presenceRefresh, tokenParser.Validate)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messaging-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", messageHandler.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(tokenParser)

	router.GET("/users", authMiddleware, messageHandler.ListDirectory)
	router.GET("/conversations", authMiddleware, messageHandler.ListConversations)
	router.GET("/conversations/:peer_id/messages", authMiddleware, messageHandler.GetConversationMessages)
	router.POST("/conversations/:peer_id/messages", authMiddleware, messageHandler.PostConversationMessage)
	router.POST("/conversations/:peer_id/read", authMiddleware, messageHandler.MarkConversationRead)

	router.GET("/ws", sessionHandler.Handle)

	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
