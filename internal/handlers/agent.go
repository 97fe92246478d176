package handlers

import (
	"context"
	"log"
	"strings"
	"time"

	"parley/internal/models"
	"parley/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// AgentHandler exposes the conversation actors to internal callers
// (the summarization workers of another node, operator tooling).
type AgentHandler struct {
	registry    *services.ActorRegistry
	turnTimeout time.Duration
}

// NewAgentHandler creates a new agent RPC handler
func NewAgentHandler(registry *services.ActorRegistry, turnTimeout time.Duration) *AgentHandler {
	if turnTimeout <= 0 {
		turnTimeout = 2 * time.Minute
	}
	return &AgentHandler{registry: registry, turnTimeout: turnTimeout}
}

// Message handles POST /agent/message, running one turn on the addressed actor
func (h *AgentHandler) Message(c *fiber.Ctx) error {
	var req models.AgentMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, services.NewValidationError("Invalid request body"))
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if _, err := uuid.Parse(conversationID); err != nil {
		return writeError(c, services.NewValidationError("conversationId must be a UUID"))
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return writeError(c, services.NewValidationError("message is required"))
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if caller, ok := c.Locals("caller_service").(string); ok {
		metadata["caller"] = caller
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), h.turnTimeout)
	defer cancel()

	result, err := h.registry.HandleMessage(ctx, conversationID, text, metadata)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// State handles POST /agent/state, applying a partial state update
func (h *AgentHandler) State(c *fiber.Ctx) error {
	var update models.StateUpdate
	if err := c.BodyParser(&update); err != nil {
		return writeError(c, services.NewValidationError("Invalid request body"))
	}

	update.ConversationID = strings.TrimSpace(update.ConversationID)
	if _, err := uuid.Parse(update.ConversationID); err != nil {
		return writeError(c, services.NewValidationError("conversationId must be a UUID"))
	}
	if update.PinnedFacts != nil && len(*update.PinnedFacts) > models.MaxPinnedFacts {
		return writeError(c, services.NewValidationError("at most %d pinned facts allowed", models.MaxPinnedFacts))
	}

	if err := h.registry.ApplyExternalStateUpdate(c.UserContext(), update); err != nil {
		return writeError(c, err)
	}

	state, err := h.registry.Snapshot(c.UserContext(), update.ConversationID)
	if err != nil {
		return writeError(c, err)
	}

	log.Printf("🔄 [AGENT-RPC] State updated for %s by %v", update.ConversationID, c.Locals("caller_service"))
	return c.JSON(state)
}
