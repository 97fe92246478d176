package handlers

import (
	"log"

	"parley/internal/middleware"
	"parley/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// Routes bundles the handlers mounted on the Fiber app
type Routes struct {
	Health     *HealthHandler
	Chat       *ChatHandler
	Agent      *AgentHandler
	RateLimits *middleware.RateLimitConfig
	TokenAuth  *auth.ServiceTokenAuth // nil disables internal RPC auth outside production
}

// Register mounts every route on app
func Register(app *fiber.App, r Routes) {
	// Health check (public)
	if r.Health != nil {
		app.Get("/health", r.Health.Handle)
	}

	// Global API rate limiter - excludes health checks and metrics
	if r.RateLimits != nil && r.RateLimits.GlobalAPIMax > 0 {
		app.Use("/api", middleware.GlobalAPIRateLimiter(r.RateLimits))
	}

	api := app.Group("/api")
	api.Post("/chat", r.Chat.SendMessage)
	api.Get("/history", r.Chat.GetHistory)

	// Internal actor RPC
	if r.Agent != nil {
		agent := app.Group("/agent", middleware.InternalAuthMiddleware(r.TokenAuth))
		agent.Post("/message", r.Agent.Message)
		agent.Post("/state", r.Agent.State)
		if r.TokenAuth == nil {
			log.Println("⚠️  [AGENT-RPC] INTERNAL_RPC_SECRET not set, /agent routes are unauthenticated")
		}
	}
}
