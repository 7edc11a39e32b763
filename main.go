package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/chat"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/repositories/kv"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

type stores struct {
	users    repositories.UserRepository
	groups   repositories.GroupRepository
	messages repositories.MessageRepository
	close    func() error
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.StoreDriver == config.StoreBadger {
		store, err := kv.Open(cfg.BadgerPath, logger)
		if err != nil {
			return stores{}, err
		}
		return stores{users: store, groups: store, messages: store, close: store.Close}, nil
	}

	database, err := db.Connect(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return stores{}, err
	}
	return stores{
		users:    repositories.NewUserRepo(database),
		groups:   repositories.NewGroupRepo(database),
		messages: repositories.NewMessageRepo(database),
		close:    database.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	audit := telemetry.NewAuditEmitter(publisher, observability.RoutingAuditEvents, cfg.ServiceName, cfg.Environment, logger)

	// no connection survives a restart
	if err := st.users.ResetPresence(ctx); err != nil {
		logger.Warn("reset persisted presence failed", zap.Error(err))
	}

	hub := ws.NewHub(logger)
	registry := presence.NewRegistry(st.users, hub, logger)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		mirror := presence.NewRedisMirror(rdb)
		if err := mirror.Reset(ctx); err != nil {
			logger.Warn("redis presence mirror unavailable", zap.Error(err))
		} else {
			registry.WithMirror(mirror)
		}
	}

	engine := chat.NewEngine(st.users, st.groups, st.messages, hub, logger)
	groupService := chat.NewGroupService(st.groups, st.users, hub, logger)
	authService := auth.NewService(cfg.JWTSecret, cfg.ServiceName)

	wsHandler := ws.NewHandler(hub, engine, registry, authService, ws.Options{
		EventTimeout: cfg.EventTimeout,
		QueueSize:    cfg.SendQueueSize,
	}, logger)
	messageHandler := handlers.NewMessageHandler(engine, st.users, audit)
	groupHandler := handlers.NewGroupHandler(groupService, audit)
	userHandler := handlers.NewUserHandler(st.users, registry)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", "X-Device-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": hub.ClientCount(),
			"online":      registry.OnlineCount(),
		})
	})
	router.GET("/ws", wsHandler.Handle)

	api := router.Group("/api", middleware.AuthMiddleware(authService))

	api.GET("/users", userHandler.ListUsers)
	api.GET("/users/:userId/status", userHandler.GetStatus)

	api.GET("/messages/user/:userId", messageHandler.ListDirectMessages)
	api.GET("/messages/group/:groupId", messageHandler.ListGroupMessages)
	api.POST("/messages", messageHandler.SendMessage)
	api.PUT("/messages/:messageId", messageHandler.EditMessage)
	api.DELETE("/messages/:messageId", messageHandler.DeleteMessage)
	api.POST("/messages/:messageId/forward", messageHandler.ForwardMessage)
	api.POST("/messages/:messageId/delivered", messageHandler.MarkDelivered)
	api.POST("/messages/:messageId/seen", messageHandler.MarkSeen)

	api.POST("/groups", groupHandler.CreateGroup)
	api.GET("/groups/my", groupHandler.ListGroups)
	api.GET("/groups/:groupId/members", groupHandler.GetMembers)
	api.POST("/groups/:groupId/members", groupHandler.AddMembers)
	api.PUT("/groups/:groupId", groupHandler.RenameGroup)
	api.DELETE("/groups/:groupId", groupHandler.DeleteGroup)
	api.POST("/groups/:groupId/leave", groupHandler.LeaveGroup)
	api.DELETE("/groups/:groupId/members/:userId", groupHandler.RemoveMember)

	handlers.RegisterDebugRoutes(router, handlers.DebugDeps{Audit: audit, Presence: registry, Hub: hub}, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("chat-realtime listening", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	hub.CloseAll()
	if err := wsHandler.Wait(shutdownCtx); err != nil {
		logger.Warn("websocket drain", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
