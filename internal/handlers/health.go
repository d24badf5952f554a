package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/phamtuthu/bitrix-call-relay/internal/processor"
)

// HealthHandler reports service health
type HealthHandler struct {
	Processor *processor.Processor
}

// NewHealthHandler creates a new health handler with dependencies
func NewHealthHandler(proc *processor.Processor) *HealthHandler {
	return &HealthHandler{
		Processor: proc,
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	services := map[string]string{
		"processor":   "healthy",
		"queue_depth": strconv.Itoa(h.Processor.QueueDepth()),
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	return c.JSON(response)
}

// Liveness handles the root liveness endpoint
func Liveness(c *fiber.Ctx) error {
	return c.SendString("App is running!")
}
