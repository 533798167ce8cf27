package main

import (
	"context"
	"time"

	"pulse-dm/config"
	"pulse-dm/internal/events"
	"pulse-dm/internal/handler"
	"pulse-dm/internal/jobs"
	"pulse-dm/internal/proxy"
	redisstore "pulse-dm/internal/redis"
	"pulse-dm/internal/repository"
	"pulse-dm/internal/server"
	"pulse-dm/internal/services"
	"pulse-dm/internal/storage"
	"pulse-dm/internal/websocket"
	"pulse-dm/pkg/database"
	"pulse-dm/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode, logger.WithLevel(cfg.LogLevel))
	logger.SetGlobalLogger(l)
	defer l.Sync()
	log := l.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := database.Migrate(pool, log); err != nil {
			log.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	rdb := redisstore.NewClient(redisstore.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	defer rdb.Close()
	if err := redisstore.Ping(ctx, rdb); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}

	// Stores
	users := repository.NewUserRepository(pool)
	follows := repository.NewFollowRepository(pool)
	conversations := repository.NewConversationRepository(pool)
	messages := repository.NewMessageRepository(pool)

	presenceStore := redisstore.NewPresenceStore(rdb, cfg.PresenceTTL)
	cache := redisstore.NewCacheStore(rdb, redisstore.DefaultCacheConfig())
	limits := redisstore.DefaultRateLimitConfig()
	limits.MessageLimit = cfg.MessageRateLimit
	rateLimiter := redisstore.NewRateLimiter(rdb, limits)

	// Delivery
	wsLogger := websocket.NewLogger(log)
	hub := websocket.NewHub(wsLogger)
	emitter := events.NewEmitter(redisstore.NewPublisher(rdb), log)
	bridge := websocket.NewRedisBridge(redisstore.NewSubscriber(rdb), hub, wsLogger)

	// Services
	access := proxy.NewAccessControl(conversations)
	identity := services.NewIdentityService(users, cache, cfg.JWTSecret, cfg.JWTIssuer, log)
	followService := services.NewFollowService(follows, cache, log)
	conversationService := services.NewConversationService(conversations, messages, users, followService, emitter, log,
		services.WithPresenceReader(presenceStore))

	opts := []services.MessageServiceOption{
		services.WithRateLimiter(rateLimiter),
		services.WithViewingTracker(presenceStore),
	}
	if cfg.AttachmentVerification() {
		media, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
		})
		if err != nil {
			log.Fatal("failed to create s3 client", zap.Error(err))
		}
		opts = append(opts, services.WithAttachmentVerifier(media))
		log.Info("attachment verification enabled", zap.String("bucket", cfg.S3Bucket))
	}
	messageService := services.NewMessageService(messages, conversations, conversationService, access, emitter, log, opts...)
	presenceService := services.NewPresenceService(presenceStore, conversations, access, emitter, log)

	commands := &websocket.Commands{
		Messages:   messageService,
		Presence:   presenceService,
		Authorizer: websocket.NewChannelAuthorizer(conversations),
	}
	wsHandler := websocket.NewHandler(ctx, identity, hub, commands, cfg.AllowedOrigins, wsLogger)

	go hub.Run(ctx)
	go wsHandler.ConnectionLimiter().RunCleanup(ctx, 5*time.Minute)
	go func() {
		if err := bridge.Run(ctx); err != nil {
			log.Error("redis bridge stopped", zap.Error(err))
			cancel()
		}
	}()

	// Background jobs
	runner := jobs.NewRunner(log)
	if err := runner.Add(cfg.PresenceSweepCron, jobs.PresenceSweep{Presence: presenceService, MaxAge: cfg.PresenceTTL, Logger: log}); err != nil {
		log.Fatal("invalid presence sweep schedule", zap.Error(err))
	}
	if err := runner.Add(cfg.PurgeCron, jobs.PurgeDeletedContent{Messages: messages, Retention: cfg.DeletedContentRetention, Logger: log}); err != nil {
		log.Fatal("invalid purge schedule", zap.Error(err))
	}
	runner.Start(ctx)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Conversations: handler.NewConversationHandler(conversationService),
		Messages:      handler.NewMessageHandler(messageService),
		WebSocket:     wsHandler,
	}, server.Dependencies{
		Auth:        identity,
		RateLimiter: rateLimiter,
		Health: map[string]server.HealthCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return redisstore.Ping(ctx, rdb) },
		},
	})

	if err := srv.Start(ctx); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
}
