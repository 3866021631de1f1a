package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lilseedabe/FlickMV-sub003/internal/client"
	"github.com/lilseedabe/FlickMV-sub003/internal/config"
	"github.com/lilseedabe/FlickMV-sub003/internal/engine"
	"github.com/lilseedabe/FlickMV-sub003/internal/handler"
	"github.com/lilseedabe/FlickMV-sub003/internal/logging"
	"github.com/lilseedabe/FlickMV-sub003/internal/middleware"
	"github.com/lilseedabe/FlickMV-sub003/internal/render"
	"github.com/lilseedabe/FlickMV-sub003/internal/service"
	"github.com/lilseedabe/FlickMV-sub003/internal/store"
	ws "github.com/lilseedabe/FlickMV-sub003/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logging.New(cfg.Server.LogLevel)

	// Redis backs the rate limiter and, optionally, the job store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis not available")
		redisAvailable = false
	}

	// Select the job store backend
	jobStore, err := buildStore(ctx, cfg, redisClient)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize job store")
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Render collaborator: external service when configured, simulator otherwise
	var renderer render.Renderer
	renderClient := render.NewServiceClient(&cfg.Render)
	if renderClient.IsConfigured() {
		renderer = renderClient
	} else {
		log.Info("Render service not configured, using simulator")
		renderer = render.NewSimulator(2 * time.Second)
	}

	// Initialize R2 storage (optional - continues if not configured)
	var storage client.ArtifactStorage
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2, err := client.NewR2Storage(&cfg.R2)
		if err != nil {
			log.WithError(err).Warn("R2 storage not initialized")
		} else {
			storage = r2
		}
	} else {
		log.Info("R2 storage not configured, downloads use stored output URLs")
	}

	// Lifecycle engine
	eng := engine.New(jobStore, renderer, hub, log, engine.Options{
		WorkerSlots:   cfg.Engine.WorkerSlots,
		PollInterval:  cfg.Engine.PollInterval,
		CancelTimeout: cfg.Engine.CancelTimeout,
	})

	engineCtx, stopEngine := context.WithCancel(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(engineCtx)
	}()

	// Reaper
	reaper := engine.NewReaper(jobStore, storage, log, cfg.Engine.ReapSchedule)
	if err := reaper.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start reaper")
	}

	// Service and handlers
	exportService := service.NewExportService(jobStore, eng, storage, log,
		cfg.Engine.MaxRetries, cfg.Engine.RetentionDays)
	exportHandler := handler.NewExportHandler(exportService, validate)

	var limiter *middleware.RateLimiter
	if redisAvailable {
		limiter = middleware.NewRateLimiter(redisClient)
	} else {
		limiter = middleware.NewRateLimiter(nil)
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-User-Id",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"store":   cfg.Store.Backend,
				"redis":   redisAvailable,
				"render":  renderClient.IsConfigured(),
				"storage": storage != nil,
			},
		})
	})

	// API routes. Behind the edge proxy identity comes from X-User-* headers;
	// without it requests run as a local development user.
	authMiddleware := middleware.GatewayAuthMiddleware()
	if !cfg.Gateway.Enabled {
		authMiddleware = middleware.DevAuthMiddleware()
	}
	api := app.Group("/api", authMiddleware)

	exports := api.Group("/exports")
	exports.Post("/", limiter.ExportLimit(cfg.RateLimit.ExportsPerHour), exportHandler.Create)
	exports.Get("/:jobId", exportHandler.Status)
	exports.Post("/:jobId/cancel", exportHandler.Cancel)
	exports.Post("/:jobId/retry", exportHandler.Retry)
	exports.Get("/:jobId/download", exportHandler.Download)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c)
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down server...")
		reaper.Stop()
		stopEngine()
		<-engineDone
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.WithField("addr", addr).Info("Server starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Server error")
	}
}

func buildStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (store.JobStore, error) {
	switch cfg.Store.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, err
		}
		pg := store.NewPostgresJobStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	case "redis":
		return store.NewRedisJobStore(redisClient), nil
	default:
		return store.NewMemoryJobStore(), nil
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
