package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// MaxAudioBytes bounds a single voice message
const MaxAudioBytes = 25 * 1024 * 1024

// Whisper-compatible endpoints
const (
	GroqTranscriptionURL   = "https://api.groq.com/openai/v1/audio/transcriptions"
	OpenAITranscriptionURL = "https://api.openai.com/v1/audio/transcriptions"
)

var (
	// ErrUnsupportedFormat is returned for MIME types outside the allow-list
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrAudioTooLarge is returned for payloads over MaxAudioBytes
	ErrAudioTooLarge = errors.New("audio exceeds 25MB limit")

	// ErrNoProvider is returned when no transcription provider has an API key
	ErrNoProvider = errors.New("no audio provider configured")
)

// Provider is one Whisper-compatible transcription backend
type Provider struct {
	Name   string
	URL    string
	Model  string
	APIKey string
}

// DefaultProviders returns the configured providers in priority order.
// Priority: Groq (cheaper) -> OpenAI (fallback)
func DefaultProviders(groqAPIKey, openaiAPIKey string) []Provider {
	var providers []Provider
	if groqAPIKey != "" {
		providers = append(providers, Provider{Name: "Groq", URL: GroqTranscriptionURL, Model: "whisper-large-v3", APIKey: groqAPIKey})
	}
	if openaiAPIKey != "" {
		providers = append(providers, Provider{Name: "OpenAI", URL: OpenAITranscriptionURL, Model: "whisper-1", APIKey: openaiAPIKey})
	}
	return providers
}

// Service handles audio transcription using Whisper API (Groq or OpenAI)
type Service struct {
	httpClient *http.Client
	providers  []Provider
}

// NewService creates a transcription service trying providers in order
func NewService(providers []Provider) *Service {
	return &Service{
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Whisper can take a while for long audio
		},
		providers: providers,
	}
}

// Enabled reports whether any provider is configured
func (s *Service) Enabled() bool {
	return len(s.providers) > 0
}

// TranscribeResponse contains the result of transcription
type TranscribeResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Provider string  `json:"provider,omitempty"` // Which provider was used
}

// TranscribeBytes transcribes an in-memory audio clip.
// Each provider is tried in order; the last error is returned when all fail.
func (s *Service) TranscribeBytes(ctx context.Context, audio []byte, mimeType string) (*TranscribeResponse, error) {
	canonical := NormalizeMIMEType(mimeType)
	if !IsSupportedFormat(canonical) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
	if len(audio) > MaxAudioBytes {
		return nil, ErrAudioTooLarge
	}
	if len(s.providers) == 0 {
		return nil, ErrNoProvider
	}

	log.Printf("🎵 [AUDIO] Transcribing %d bytes of %s", len(audio), canonical)

	var lastErr error
	for i, provider := range s.providers {
		resp, err := s.transcribeWithProvider(ctx, audio, canonical, provider)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if i < len(s.providers)-1 {
			log.Printf("[AUDIO] %s transcription failed, trying %s: %v", provider.Name, s.providers[i+1].Name, err)
		}
	}

	return nil, lastErr
}

// transcribeWithProvider is the common transcription logic for any Whisper-compatible API
func (s *Service) transcribeWithProvider(ctx context.Context, audio []byte, mimeType string, provider Provider) (*TranscribeResponse, error) {
	log.Printf("🔄 [AUDIO] Sending audio to %s Whisper API (%d bytes, model: %s)", provider.Name, len(audio), provider.Model)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "voice."+extensionFor(mimeType))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to copy audio data: %w", err)
	}

	if err := writer.WriteField("model", provider.Model); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("failed to write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", provider.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", provider.APIKey))

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ [AUDIO] %s Whisper API error: %d - %s", provider.Name, resp.StatusCode, string(respBody))

		var errorResp struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error.Message != "" {
			return nil, fmt.Errorf("%s Whisper API error: %s", provider.Name, errorResp.Error.Message)
		}

		return nil, fmt.Errorf("%s Whisper API error: %d", provider.Name, resp.StatusCode)
	}

	var apiResp struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	log.Printf("✅ [AUDIO] %s transcription successful (%d chars, %.1fs duration)", provider.Name, len(apiResp.Text), apiResp.Duration)

	return &TranscribeResponse{
		Text:     apiResp.Text,
		Language: apiResp.Language,
		Duration: apiResp.Duration,
		Provider: provider.Name,
	}, nil
}

var mimeAliases = map[string]string{
	"audio/mp3":    "audio/mpeg",
	"audio/mpga":   "audio/mpeg",
	"audio/x-wav":  "audio/wav",
	"audio/wave":   "audio/wav",
	"audio/x-m4a":  "audio/mp4",
	"audio/m4a":    "audio/mp4",
	"audio/x-flac": "audio/flac",
}

var supportedTypes = map[string]string{
	"audio/mpeg": "mp3",
	"audio/wav":  "wav",
	"audio/webm": "webm",
	"audio/ogg":  "ogg",
	"audio/mp4":  "m4a",
	"audio/flac": "flac",
}

// NormalizeMIMEType lowercases, strips parameters and maps aliases to the canonical type.
// "audio/webm;codecs=opus" -> "audio/webm", "audio/x-wav" -> "audio/wav"
func NormalizeMIMEType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if canonical, ok := mimeAliases[mimeType]; ok {
		return canonical
	}
	return mimeType
}

// IsSupportedFormat checks if a MIME type is supported for transcription
func IsSupportedFormat(mimeType string) bool {
	_, ok := supportedTypes[NormalizeMIMEType(mimeType)]
	return ok
}

// GetSupportedFormats returns the canonical MIME types accepted for transcription
func GetSupportedFormats() []string {
	return []string{"audio/mpeg", "audio/wav", "audio/webm", "audio/ogg", "audio/mp4", "audio/flac"}
}

func extensionFor(mimeType string) string {
	if ext, ok := supportedTypes[mimeType]; ok {
		return ext
	}
	return "bin"
}
