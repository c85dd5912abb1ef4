package main

import (
	"context"
	"log"
	"os"
	"time"

	"squadlink/config"
	"squadlink/internal/changefeed"
	synccfg "squadlink/internal/config"
	"squadlink/internal/engine"
	"squadlink/internal/events"
	"squadlink/internal/handler"
	"squadlink/internal/metrics"
	"squadlink/internal/middleware"
	"squadlink/internal/outbox"
	"squadlink/internal/redis"
	"squadlink/internal/repository"
	"squadlink/internal/server"
	"squadlink/internal/services"
	"squadlink/internal/storage"
	"squadlink/internal/websocket"
	"squadlink/pkg/database"
	"squadlink/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	syncCfg, err := synccfg.Load(cfg.SyncConfigPath)
	if err != nil {
		log.Fatalf("Failed to load sync config: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := repository.InitSchema(db); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	store := repository.NewStore(db)
	metrics.Register()

	checks := map[string]func(ctx context.Context) error{
		"database": func(ctx context.Context) error { return database.HealthCheck() },
	}

	deps := engine.Deps{
		Store: store,
		Sync:  syncCfg,
		Log:   l.Named("engine"),
	}
	wsOpts := websocket.HandlerOptions{
		Log:  l.Named("websocket"),
		Node: hostname(),
	}
	var (
		publisher     events.Publisher
		uploadLimiter middleware.UploadLimiter
	)

	switch cfg.FeedDriver {
	case "memory":
		l.Infof("Using the in-process change feed; every viewer must connect to this node")
		feed := changefeed.NewMemoryFeed()
		deps.Feed = feed
		publisher = feed
	default:
		client := redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redis.Ping(ctx, client, 5*time.Second); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()

		deps.Feed = redis.NewFeed(client, l.Named("feed"))
		deps.Cache = redis.NewCacheStore(client, redis.CacheConfig{ListTTL: syncCfg.CacheTTL})
		publisher = redis.NewPublisher(client)

		limiter := redis.NewRateLimiter(client, redis.DefaultRateLimitConfig())
		presence := redis.NewPresenceStore(client, 0)
		wsOpts.Limiter = limiter
		wsOpts.Presence = presence
		uploadLimiter = limiter

		checks["redis"] = func(ctx context.Context) error { return redis.Ping(ctx, client, 2*time.Second) }
	}

	processor := outbox.NewProcessor(repository.NewOutboxRepository(db), publisher, outbox.Options{
		Interval:  time.Duration(cfg.OutboxPollMs) * time.Millisecond,
		BatchSize: cfg.OutboxBatchSize,
		Log:       l.Named("outbox"),
	})
	processor.Start(ctx)
	defer processor.Stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	verifier := services.NewTokenVerifier(cfg)
	wsOpts.Verifier = verifier
	wsOpts.Hub = hub
	wsOpts.Engine = deps

	handlers := &server.Handlers{
		Conversations: handler.NewConversationHandler(store),
		WebSocket:     websocket.NewHandler(wsOpts),
	}
	if cfg.S3Bucket != "" {
		s3Client, err := storage.NewClient(ctx, storage.S3Config{
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKeyID,
			SecretKey:    cfg.S3SecretAccessKey,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
			PublicBase:   cfg.S3PublicBaseURL,
			PresignTTL:   time.Duration(cfg.S3PresignExpiry) * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to configure object storage: %v", err)
		}
		handlers.Uploads = handler.NewUploadHandler(services.NewUploadService(s3Client))
	} else {
		l.Warnf("S3_BUCKET is not set; image uploads are disabled")
	}

	srv := server.New(cfg, l)
	srv.SetupRoutes(handlers, server.Dependencies{
		Verifier:      verifier,
		UploadLimiter: uploadLimiter,
		Checks:        checks,
	})

	if err := srv.Start(); err != nil {
		l.Logger.Error("server stopped with error", zap.Error(err))
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
