package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/bitrix"
	"github.com/phamtuthu/bitrix-call-relay/internal/config"
	"github.com/phamtuthu/bitrix-call-relay/internal/handlers"
	"github.com/phamtuthu/bitrix-call-relay/internal/logger"
	"github.com/phamtuthu/bitrix-call-relay/internal/processor"
	"github.com/phamtuthu/bitrix-call-relay/internal/railway"
	"github.com/phamtuthu/bitrix-call-relay/internal/routes"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Wire token persistence when Railway is configured
	var persist bitrix.TokenPersistFunc
	if cfg.Railway.Enabled() {
		persister := railway.NewPersister(&cfg.Railway, cfg.Worker.HTTPTimeout, logger.Logger)
		persist = persister.PersistTokens
		logger.Info("Railway token persistence enabled")
	}

	// Create Bitrix client
	client := bitrix.NewClient(&cfg.Bitrix, cfg.Worker.HTTPTimeout, logger.Logger, persist)

	// Initialize and start event processor
	proc := processor.New(client, cfg.Fields, cfg.Worker.QueueCapacity, logger.Logger)
	if err := proc.Start(); err != nil {
		logger.Fatal("Failed to start event processor", zap.Error(err))
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Bitrix Call Relay",
		ServerHeader: "Fiber",
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Setup routes
	healthHandler := handlers.NewHealthHandler(proc)
	callHandler := handlers.NewCallEventHandler(proc, logger.Logger)
	routes.SetupRoutes(app, healthHandler, callHandler)

	// Start server in a goroutine
	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Info("Server starting",
			zap.String("address", addr),
		)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	// Stop event processor
	if err := proc.Stop(); err != nil {
		logger.Error("Error stopping event processor", zap.Error(err))
	}

	logger.Info("Server stopped")
}
