package handlers

import (
	"time"

	"parley/internal/health"
	"parley/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	health   *health.Service
	registry *services.ActorRegistry
	pipeline *services.SummarizationPipeline
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(healthService *health.Service, registry *services.ActorRegistry, pipeline *services.SummarizationPipeline) *HealthHandler {
	return &HealthHandler{health: healthService, registry: registry, pipeline: pipeline}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	report := h.health.Check(c.UserContext())

	status := fiber.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{
		"status":       report.Status,
		"dependencies": report.Dependencies,
		"timestamp":    report.Timestamp.Format(time.RFC3339),
	}
	if h.registry != nil {
		body["actors"] = h.registry.Count()
	}
	if h.pipeline != nil {
		body["pipeline_inflight"] = h.pipeline.InFlight()
	}

	return c.Status(status).JSON(body)
}
