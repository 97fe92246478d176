package middleware

import (
	"log"
	"strconv"
	"time"

	"parley/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int           // Max requests per minute for all API endpoints
	GlobalAPIExpiration time.Duration // Expiration window

	// Per-conversation chat limits, enforced by the chat handler
	ChatMax    int
	ChatWindow time.Duration

	// Whether chat requests pass when the rate-limit store is unreachable
	FailOpen bool
}

// LoadRateLimitConfig derives rate limit settings from the application config
func LoadRateLimitConfig(cfg *config.Config) *RateLimitConfig {
	rl := &RateLimitConfig{
		GlobalAPIMax:        cfg.RateLimitGlobalAPIMax,
		GlobalAPIExpiration: 1 * time.Minute,
		ChatMax:             cfg.RateLimitChatMax,
		ChatWindow:          cfg.RateLimitChatWindow,
		FailOpen:            cfg.FailOpen(),
	}

	// Development mode: more lenient global limit
	if cfg.Environment == "development" && rl.GlobalAPIMax < 1000 {
		rl.GlobalAPIMax = 1000
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed global rate limit")
	}

	policy := "closed"
	if rl.FailOpen {
		policy = "open"
	}
	log.Printf("🛡️  [RATE-LIMIT] Chat: %d per %s per conversation, store failure policy: fail-%s", rl.ChatMax, rl.ChatWindow, policy)

	return rl
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
// This is the first line of defense against DDoS
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			retryAfter := int(config.GlobalAPIExpiration.Seconds())
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"code":        "rate_limited",
				"retry_after": retryAfter,
			})
		},
		SkipFailedRequests:     false,
		SkipSuccessfulRequests: false,
	})
}
