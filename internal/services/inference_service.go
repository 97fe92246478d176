package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"parley/internal/models"

	"golang.org/x/time/rate"
)

// InferenceBackend produces a completion for an ordered message list
type InferenceBackend interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
}

// InferenceConfig configures the OpenAI-compatible client
type InferenceConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	RPS         float64 // outbound requests per second, 0 disables throttling
	Temperature float64
}

// InferenceService calls an OpenAI-compatible /chat/completions endpoint
type InferenceService struct {
	cfg     InferenceConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewInferenceService creates a new inference client
func NewInferenceService(cfg InferenceConfig) *InferenceService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := int(cfg.RPS * 2)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &InferenceService{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

// Complete sends one non-streaming completion request.
// A whitespace-only answer is ErrEmptyCompletion; nothing is retried.
func (s *InferenceService) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", NewInferenceError("inference throttled", err)
	}

	requestBody := map[string]interface{}{
		"model":       s.cfg.Model,
		"messages":    messages,
		"stream":      false,
		"temperature": s.cfg.Temperature,
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.cfg.BaseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", NewInferenceError("inference request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewInferenceError("failed to read inference response", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️ [INFERENCE] API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
		return "", NewInferenceError(fmt.Sprintf("inference backend returned status %d", resp.StatusCode), nil)
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", NewInferenceError("failed to parse inference response", err)
	}

	if len(apiResponse.Choices) == 0 {
		return "", NewInferenceError("inference returned no choices", ErrEmptyCompletion)
	}

	content := strings.TrimSpace(apiResponse.Choices[0].Message.Content)
	if content == "" {
		return "", NewInferenceError("inference returned an empty completion", ErrEmptyCompletion)
	}

	return content, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
