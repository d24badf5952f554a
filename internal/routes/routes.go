package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/phamtuthu/bitrix-call-relay/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, healthHandler *handlers.HealthHandler, callHandler *handlers.CallEventHandler) {
	// Liveness endpoint
	app.Get("/", handlers.Liveness)

	// Health check endpoint
	app.Get("/health", healthHandler.HealthCheck)

	// Bitrix24 telephony webhook
	app.Post("/bx24-event-handler", callHandler.HandleCallEvent)
}
