// Package main provides the main entry point for the Kotodama chat system
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/Kotodama/app/handlers"
	"github.com/amirphl/Kotodama/app/queue"
	"github.com/amirphl/Kotodama/app/router"
	"github.com/amirphl/Kotodama/app/scheduler"
	"github.com/amirphl/Kotodama/app/services"
	businessflow "github.com/amirphl/Kotodama/business_flow"
	"github.com/amirphl/Kotodama/config"
	"github.com/amirphl/Kotodama/models"
	"github.com/amirphl/Kotodama/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting Kotodama application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Migrate the schema on startup
	if err := db.AutoMigrate(&models.Application{}, &models.Chat{}, &models.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeRedis initializes the Redis client and verifies connectivity.
// Redis backs both the counter cache and the creation queue.
func initializeRedis(cfg config.CacheConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startRedisHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startRedisHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeSearchIndexer initializes the message search indexer
func initializeSearchIndexer(cfg config.SearchConfig) (services.SearchIndexer, error) {
	if !cfg.Enabled {
		log.Println("Search disabled, using in-memory indexer")
		return services.NewMockSearchIndexer(), nil
	}

	indexer, err := services.NewElasticsearchIndexer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize search indexer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := indexer.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure search index: %w", err)
	}

	log.Printf("Search index %q ready", cfg.IndexName)
	return indexer, nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeRedis(cfg.Cache)
	if err != nil {
		return nil, err
	}

	cancel := startRedisHealthMonitor(context.Background(), rc, 30*time.Second)
	stopFuncs = append(stopFuncs, cancel)

	// Initialize repositories
	appRepo := repository.NewApplicationRepository(db)
	chatRepo := repository.NewChatRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	// Initialize counter cache
	var counterCache businessflow.CounterCache
	if cfg.Cache.Enabled {
		counterCache = businessflow.NewRedisCounterCache(rc, cfg.Cache.DefaultTTL)
	} else {
		counterCache = businessflow.NoopCounterCache{}
	}

	// Initialize creation queue
	creations := queue.NewRedisQueue(rc, cfg.Queue)

	// Initialize search indexer
	indexer, err := initializeSearchIndexer(cfg.Search)
	if err != nil {
		return nil, err
	}

	// Initialize sequencer
	sequencer := businessflow.NewSequencerFlow(appRepo, chatRepo, counterCache, cfg.Sequencer.LockWait, cfg.Cache.RedisPrefix)

	// Initialize flows
	applicationFlow := businessflow.NewApplicationFlow(appRepo)
	chatFlow := businessflow.NewChatFlow(appRepo, chatRepo, sequencer, creations)
	messageFlow := businessflow.NewMessageFlow(appRepo, chatRepo, msgRepo, sequencer, creations, indexer)

	// Initialize handlers
	applicationHandler := handlers.NewApplicationHandler(applicationFlow)
	chatHandler := handlers.NewChatHandler(chatFlow)
	messageHandler := handlers.NewMessageHandler(messageFlow)

	// Initialize router
	appRouter := router.NewFiberRouter(applicationHandler, chatHandler, messageHandler)

	if cfg.Queue.Enabled {
		// Start creation worker pool
		worker := scheduler.NewCreationWorker(creations, chatRepo, msgRepo, indexer, log.Default(), cfg.Queue.Workers, cfg.Queue.PollTimeout)
		stopWorker := worker.Start(context.Background())
		stopFuncs = append(stopFuncs, stopWorker)
	}

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
