package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/saeid-a/minicoachy/internal/cache"
	"github.com/saeid-a/minicoachy/internal/config"
	"github.com/saeid-a/minicoachy/internal/database"
	"github.com/saeid-a/minicoachy/internal/logger"
	"github.com/saeid-a/minicoachy/internal/mq"
	"github.com/saeid-a/minicoachy/internal/notify"
	"github.com/saeid-a/minicoachy/internal/obs"
	"github.com/saeid-a/minicoachy/internal/routes"
	sessionws "github.com/saeid-a/minicoachy/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load config", map[string]any{"error": err})
	}

	// 2. Tracing
	shutdownTracer := func(context.Context) error { return nil }
	if cfg.EnableTracing {
		shutdownTracer, err = obs.InitTracer(ctx, obs.TracerConfig{
			ServiceName: "minicoachy-api",
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal("failed to init tracer", map[string]any{"error": err})
		}
	}

	// 3. Connect to Database
	pool, err := database.ConnectDB(ctx, cfg.DBUrl, database.Options{
		MaxConns:     cfg.DBMaxConns,
		QueryTimeout: cfg.DBQueryTimeout,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", map[string]any{"error": err})
	}
	defer pool.Close()

	// 4. Session cache
	var sessionCache cache.Cache = cache.NopCache{}
	if cfg.CacheEnabled() {
		client, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, session cache disabled", map[string]any{"error": err})
		} else {
			defer client.Close()
			sessionCache = cache.NewRedisCache(client)
		}
	}

	// 5. Live updates and notifications
	hub := sessionws.NewHub()
	go hub.Run(ctx)

	sinks := []notify.Sink{notify.LogSink{}, notify.NewHubSink(hub)}
	var publisher *mq.Publisher
	if cfg.BrokerEnabled() {
		publisher, err = mq.NewPublisher(cfg.RabbitURL, cfg.MQExchange)
		if err != nil {
			logger.Warn("rabbitmq unavailable, broker notifications disabled", map[string]any{"error": err})
		} else {
			sinks = append(sinks, notify.NewMQSink(publisher))
		}
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyBuffer, 5*time.Second, sinks...)
	dispatcher.Start(ctx)

	// 6. Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(cors.New())
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := pool.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	routes.RegisterRoutes(app, cfg, routes.Dependencies{
		DB:     pool,
		Cache:  sessionCache,
		Events: dispatcher,
		Hub:    hub,
	})

	// 7. Start Server
	go func() {
		logger.Info("server starting", map[string]any{"port": cfg.Port, "env": cfg.AppEnv})
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("server stopped", map[string]any{"error": err})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("http shutdown", map[string]any{"error": err})
	}
	dispatcher.Wait()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("close publisher", map[string]any{"error": err})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", map[string]any{"error": err})
	}
}
