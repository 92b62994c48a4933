package main

import (
	"context"
	"os"
	"time"

	"chatgenius-backend/internal/config"
	"chatgenius-backend/internal/database"
	"chatgenius-backend/internal/discord"
	"chatgenius-backend/internal/handler"
	"chatgenius-backend/internal/logging"
	"chatgenius-backend/internal/middleware"
	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"
	"chatgenius-backend/internal/repository"
	"chatgenius-backend/internal/service"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
)

const (
	shutdownTimeout = 15 * time.Second
	guardSweep      = 5 * time.Minute
	assistantName   = "Assistant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "json")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	if err := database.RunMigrations(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	channelRepo := repository.NewChannelRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	reactionRepo := repository.NewReactionRepository(db)
	fileRepo := repository.NewFileRepository(db)

	// Nobody is connected yet; clear what a previous process left behind.
	if n, err := userRepo.ResetPresence(ctx); err != nil {
		log.Warn().Err(err).Msg("reset presence")
	} else if n > 0 {
		log.Info().Int64("users", n).Msg("cleared stale presence")
	}

	// Blob storage
	blobs, err := service.NewJetStreamBlobStore(cfg.NATSURL, cfg.BlobBucket, cfg.PublicBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect blob store")
	}
	if err := blobs.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("init blob store")
	}

	// Services
	verifier := service.NewJWTVerifier(cfg.JWTSecret)
	userSvc := service.NewUserService(userRepo)
	channelSvc := service.NewChannelService(channelRepo)
	messageSvc := service.NewMessageService(messageRepo, reactionRepo, channelRepo)
	fileSvc := service.NewFileService(fileRepo, channelRepo, blobs, int64(cfg.MaxUpload))

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := realtime.NewMetrics(registry)

	// Real-time core
	hubCfg := realtime.DefaultConfig()
	hubCfg.RateLimitEvents = cfg.RateLimitEvents
	hubCfg.RateLimitWindow = cfg.RateLimitWindow
	hubCfg.BatchCapacity = cfg.BatchCapacity
	hubCfg.BatchInterval = cfg.BatchInterval
	hubCfg.SendBuffer = cfg.SendBuffer

	hubOpts := []realtime.Option{
		realtime.WithStatusStore(userRepo),
		realtime.WithMetrics(metrics),
	}

	var assistant *service.AssistantClient
	if cfg.AssistantURL != "" {
		hubCfg.AssistantID = model.Identity(cfg.AssistantUserID)
		if _, err := userRepo.Ensure(ctx, cfg.AssistantUserID, assistantName); err != nil {
			log.Fatal().Err(err).Msg("record assistant user")
		}
		assistant = service.NewAssistantClient(service.AssistantConfig{
			BaseURL: cfg.AssistantURL,
			UserID:  hubCfg.AssistantID,
			Rate:    cfg.AssistantRate,
			Queue:   cfg.AssistantQueue,
			Workers: 4,
			Timeout: cfg.AssistantTimeout,
		}, messageSvc, channelRepo, nil, log)
		hubOpts = append(hubOpts, realtime.WithObserver(assistant))
	}

	hub := realtime.NewHub(hubCfg, messageSvc, logging.Component(log, "hub"), hubOpts...)
	gate := realtime.NewGate(verifier, cfg.HandshakeRate, cfg.HandshakeBurst, metrics, logging.Component(log, "gate"))

	messageSvc.SetPublisher(hub)
	fileSvc.SetPublisher(hub)
	userSvc.SetStatusSetter(hub)

	var drops handler.DropCounter
	if assistant != nil {
		assistant.SetPublisher(hub)
		fileSvc.SetIngester(assistant)
		assistant.Start(ctx)
		drops = assistant
	}

	// Discord bridge
	bot, err := discord.NewBot(cfg.DiscordToken, cfg.DiscordChannelID, hub, channelSvc, logging.Component(log, "discord"))
	if err != nil {
		log.Fatal().Err(err).Msg("create discord bot")
	}
	if err := bot.Start(); err != nil {
		log.Error().Err(err).Msg("start discord bot")
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           30 * time.Second,
		BodyLimit:             cfg.MaxUpload + 1024*1024,
		DisableStartupMessage: cfg.IsProduction(),
	})

	app.Use(recover.New())
	app.Use(middleware.Logger(logging.Component(log, "http")))
	app.Use(middleware.CORS(cfg.FrontendURL))

	var storage fiber.Storage
	if cfg.RedisURL != "" {
		redisStorage, err := middleware.RedisStorage(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect rate limit storage")
		}
		storage = redisStorage
	}

	handler.Mount(app, handler.Routes{
		Auth:      middleware.Auth(verifier),
		AdminKey:  middleware.AdminKey(cfg.AdminKey),
		RateLimit: middleware.RateLimit(120, time.Minute, storage),

		Health:   handler.NewHealthHandler(db, blobs),
		Metrics:  adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		Admin:    handler.NewAdminHandler(hub, drops, bot),
		Channels: handler.NewChannelHandler(channelSvc, log),
		Messages: handler.NewMessageHandler(messageSvc, log),
		Files:    handler.NewFileHandler(fileSvc, log),
		Users:    handler.NewUserHandler(userSvc, log),
		WS:       handler.NewWSHandler(hub, gate, userSvc, logging.Component(log, "ws")),
	})

	// Start hub
	go hub.Run(ctx)
	go sweepGuards(ctx, gate)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("chat backend running")

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
		"realtime": func(ctx context.Context) error {
			cancel()
			select {
			case <-hub.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		"integrations": func(ctx context.Context) error {
			if assistant != nil {
				assistant.Stop()
			}
			bot.Stop()
			return nil
		},
	})
	exitCode := <-wait

	blobs.Close()
	db.Close()
	log.Info().Int("code", exitCode).Msg("server stopped")
	os.Exit(exitCode)
}

func sweepGuards(ctx context.Context, gate *realtime.Gate) {
	ticker := time.NewTicker(guardSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gate.SweepGuards()
		}
	}
}
