package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	"parley/internal/audio"
	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Transcriber turns a voice attachment into text
type Transcriber interface {
	TranscribeBytes(ctx context.Context, audio []byte, mimeType string) (*audio.TranscribeResponse, error)
}

// ChatHandler serves the public chat gateway
type ChatHandler struct {
	registry     *services.ActorRegistry
	store        *services.TranscriptStore
	limiter      *services.RateLimiter
	rateLimits   *middleware.RateLimitConfig
	transcriber  Transcriber
	metrics      *services.Metrics
	turnTimeout  time.Duration
	historyLimit int
}

// ChatHandlerConfig collects the chat handler dependencies
type ChatHandlerConfig struct {
	Registry     *services.ActorRegistry
	Store        *services.TranscriptStore
	Limiter      *services.RateLimiter
	RateLimits   *middleware.RateLimitConfig
	Transcriber  Transcriber // optional; voice input is rejected when nil
	Metrics      *services.Metrics
	TurnTimeout  time.Duration
	HistoryLimit int
}

// NewChatHandler creates a new chat handler
func NewChatHandler(cfg ChatHandlerConfig) *ChatHandler {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}

	return &ChatHandler{
		registry:     cfg.Registry,
		store:        cfg.Store,
		limiter:      cfg.Limiter,
		rateLimits:   cfg.RateLimits,
		transcriber:  cfg.Transcriber,
		metrics:      cfg.Metrics,
		turnTimeout:  cfg.TurnTimeout,
		historyLimit: cfg.HistoryLimit,
	}
}

// SendMessage handles POST /api/chat
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	start := time.Now()
	h.metrics.RecordChatRequest()

	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		h.metrics.RecordChatError(string(services.KindValidation))
		return writeError(c, services.NewValidationError("Invalid request body"))
	}

	message := strings.TrimSpace(req.Message)
	voice := strings.TrimSpace(req.Voice)
	if message == "" && voice == "" {
		h.metrics.RecordChatError(string(services.KindValidation))
		return writeError(c, services.NewValidationError("message or voice is required"))
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID != "" {
		if _, err := uuid.Parse(conversationID); err != nil {
			h.metrics.RecordChatError(string(services.KindValidation))
			return writeError(c, services.NewValidationError("conversationId must be a UUID"))
		}
	}

	var voiceBytes []byte
	if voice != "" {
		var err error
		voiceBytes, err = decodeVoice(voice, req.VoiceMimeType)
		if err != nil {
			h.metrics.RecordChatError(string(services.KindValidation))
			return writeError(c, err)
		}
	}

	if err := h.enforceRateLimit(c, rateLimitIdentity(c, conversationID)); err != nil {
		h.metrics.RecordChatError(string(services.KindOf(err)))
		return writeError(c, err)
	}

	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	// Turns are never cancelled by a client disconnect
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), h.turnTimeout)
	defer cancel()

	text := message
	inputMode := "text"
	if voiceBytes != nil {
		transcript, status, err := h.transcribe(ctx, voiceBytes, req.VoiceMimeType)
		if err != nil {
			h.metrics.RecordChatError("transcription")
			code := "transcription_failed"
			if status == fiber.StatusUnprocessableEntity {
				code = "empty_transcript"
			}
			return writeErrorStatus(c, status, code, err.Error())
		}
		if text != "" {
			text = text + "\n\n" + transcript
		} else {
			text = transcript
		}
		inputMode = "voice"
	}

	metadata := make(map[string]interface{}, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["inputMode"] = inputMode

	result, err := h.registry.HandleMessage(ctx, conversationID, text, metadata)
	if err != nil {
		h.metrics.RecordChatError(string(services.KindOf(err)))
		return writeError(c, err)
	}

	h.metrics.RecordChatLatency(time.Since(start).Seconds())
	return c.JSON(result)
}

// GetHistory handles GET /api/history?conversationId=
func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	conversationID := strings.TrimSpace(c.Query("conversationId"))
	if conversationID == "" {
		return writeError(c, services.NewValidationError("conversationId is required"))
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return writeError(c, services.NewValidationError("conversationId must be a UUID"))
	}

	ctx := c.UserContext()

	exists, err := h.store.ConversationExists(ctx, conversationID)
	if err != nil {
		return writeError(c, err)
	}
	if !exists {
		return writeError(c, services.ErrConversationNotFound)
	}

	summary, err := h.store.GetSummary(ctx, conversationID)
	if err != nil {
		return writeError(c, err)
	}

	messages, err := h.store.RecentMessages(ctx, conversationID, h.historyLimit)
	if err != nil {
		return writeError(c, err)
	}

	state, err := h.registry.Snapshot(ctx, conversationID)
	if err != nil {
		return writeError(c, err)
	}

	resp := models.HistoryResponse{
		ConversationID: conversationID,
		PinnedFacts:    state.PinnedFacts,
		Messages:       messages,
	}
	if summary != nil {
		resp.Summary = &summary.Summary
		resp.LastUpdated = &summary.UpdatedAt
	}

	return c.JSON(resp)
}

// enforceRateLimit applies the per-identity chat window and the configured store-failure policy
func (h *ChatHandler) enforceRateLimit(c *fiber.Ctx, identity string) error {
	if h.limiter == nil || h.rateLimits == nil {
		return nil
	}

	allowed, resetAt, err := h.limiter.AllowWithReset(c.UserContext(), identity, h.rateLimits.ChatMax, h.rateLimits.ChatWindow)
	if err != nil {
		if h.rateLimits.FailOpen {
			log.Printf("⚠️  [RATE-LIMIT] Store unavailable, failing open for %s: %v", identity, err)
			h.metrics.RecordRateLimitDecision("fail_open")
			return nil
		}
		log.Printf("🚫 [RATE-LIMIT] Store unavailable, failing closed for %s: %v", identity, err)
		h.metrics.RecordRateLimitDecision("fail_closed")
		return err
	}

	if !allowed {
		h.metrics.RecordRateLimitDecision("denied")
		retryAfter := int(math.Ceil(time.Until(resetAt).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		log.Printf("⚠️  [RATE-LIMIT] Chat limit reached for %s (retry in %ds)", identity, retryAfter)
		return &services.ServiceError{
			Kind:       services.KindRateLimited,
			Message:    "Too many messages. Please wait before sending more.",
			RetryAfter: retryAfter,
		}
	}

	h.metrics.RecordRateLimitDecision("allowed")
	return nil
}

// transcribe returns the transcript, or the HTTP status to fail the request with
func (h *ChatHandler) transcribe(ctx context.Context, voice []byte, mimeType string) (string, int, error) {
	if h.transcriber == nil {
		return "", fiber.StatusBadGateway, audio.ErrNoProvider
	}

	resp, err := h.transcriber.TranscribeBytes(ctx, voice, mimeType)
	if err != nil {
		log.Printf("❌ [CHAT] Transcription failed: %v", err)
		return "", fiber.StatusBadGateway, errors.New("transcription failed")
	}

	transcript := strings.TrimSpace(resp.Text)
	if transcript == "" {
		return "", fiber.StatusUnprocessableEntity, errors.New("no speech detected in voice message")
	}
	return transcript, 0, nil
}

// rateLimitIdentity prefers the caller's conversation id, then its IP, then a random key
func rateLimitIdentity(c *fiber.Ctx, conversationID string) string {
	if conversationID != "" {
		return "conv:" + conversationID
	}
	if ip := c.IP(); ip != "" {
		return "ip:" + ip
	}
	return "anon:" + uuid.New().String()
}

func decodeVoice(encoded, mimeType string) ([]byte, error) {
	if !audio.IsSupportedFormat(mimeType) {
		return nil, services.NewValidationError("unsupported voice format %q, supported: %s",
			mimeType, strings.Join(audio.GetSupportedFormats(), ", "))
	}

	// Accept data URLs from browser recorders
	if idx := strings.Index(encoded, ";base64,"); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+len(";base64,"):]
	}

	if base64.StdEncoding.DecodedLen(len(encoded)) > audio.MaxAudioBytes+3 {
		return nil, services.NewValidationError("voice message exceeds 25MB limit")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, services.NewValidationError("voice must be base64-encoded")
	}
	if len(data) == 0 {
		return nil, services.NewValidationError("voice message is empty")
	}
	if len(data) > audio.MaxAudioBytes {
		return nil, services.NewValidationError("voice message exceeds 25MB limit")
	}
	return data, nil
}
