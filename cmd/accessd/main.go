package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/satyax/tempaccess"
	"github.com/satyax/tempaccess/internal/config"
	"github.com/satyax/tempaccess/internal/db"
	"github.com/satyax/tempaccess/zapLogger"
)

func main() {
	// Initialize zapLogger
	logFile := zapLogger.Init()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Log.Fatalf("Failed to load config: %v", err)
	}

	pgDB, err := db.NewPostgresDB(cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize PostgreSQL: %v", err)
	}
	zapLogger.Log.Info("Successfully connected to PostgreSQL database")
	defer pgDB.Close()

	redisDB, err := db.NewRedisClient(cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize Redis: %v", err)
	}
	zapLogger.Log.Info("Successfully connected to Redis")
	defer redisDB.Close()

	publisher, err := tempaccess.NewEventPublisher(cfg.AmqpURI, zapLogger.Log)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize event publisher: %v", err)
	}
	defer publisher.Close()

	service, err := tempaccess.New(tempaccess.Config{
		DB:          pgDB.GormDB,
		RedisClient: redisDB,
		CacheTTL:    cfg.CacheTTL,
		CachePrefix: "tempaccess:",
		AutoMigrate: true,
		Gate: tempaccess.GateConfig{
			Secret:    cfg.JWTSecret,
			Operators: cfg.RootOperators,
			TokenTTL:  cfg.TokenTTL,
		},
		LockoutThreshold: cfg.LockoutThreshold,
		SweepInterval:    cfg.SweepInterval,
		Publisher:        publisher,
		Log:              zapLogger.Log,
	})
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize access service: %v", err)
	}

	// Background expiry sweep
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.Sweeper.Run(ctx)

	// Set up Fiber app
	app := fiber.New()

	// Middleware
	app.Use(zapLogger.FiberLoggingMiddleware(logFile))

	// Set up routes
	service.API(cfg.ReadOnlyOpen).Register(app)

	// Start server
	addr := fmt.Sprintf(":%d", cfg.AppPort)
	zapLogger.Log.Infof("Server started on port %d", cfg.AppPort)
	log.Fatal(app.Listen(addr))
}
