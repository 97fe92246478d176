package handlers

import (
	"errors"
	"log"
	"strconv"

	"parley/internal/services"

	"github.com/gofiber/fiber/v2"
)

// statusForKind maps the error taxonomy onto HTTP status codes
func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindRateLimited:
		return fiber.StatusTooManyRequests
	case services.KindInference:
		return fiber.StatusBadGateway
	case services.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err as {"error": message, "code": kind}
func writeError(c *fiber.Ctx, err error) error {
	kind := services.KindOf(err)
	status := statusForKind(kind)

	message := "Internal server error"
	var svcErr *services.ServiceError
	switch {
	case errors.As(err, &svcErr):
		message = svcErr.Message
	case kind == services.KindNotFound:
		message = "Conversation not found"
	case kind == services.KindStorage:
		message = "Storage failure, please retry"
	}

	// Rate-limit store down with fail-closed policy
	if errors.Is(err, services.ErrRateLimitStore) {
		status = fiber.StatusServiceUnavailable
		message = "Rate limiting unavailable, please retry"
	}

	body := fiber.Map{
		"error": message,
		"code":  kind,
	}

	if kind == services.KindRateLimited && svcErr != nil {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(svcErr.RetryAfter))
		body["retry_after"] = svcErr.RetryAfter
	}

	if status >= 500 {
		log.Printf("❌ [%s] %s %s failed: %v", kind, c.Method(), c.Path(), err)
	}

	return c.Status(status).JSON(body)
}

// writeErrorStatus renders an error outside the service taxonomy
func writeErrorStatus(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
