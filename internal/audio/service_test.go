package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// TestSupportedFormats verifies all expected audio formats are supported
func TestSupportedFormats(t *testing.T) {
	supportedMimeTypes := []string{
		"audio/mpeg",
		"audio/mp3",
		"audio/wav",
		"audio/x-wav",
		"audio/wave",
		"audio/mp4",
		"audio/x-m4a",
		"audio/webm",
		"audio/webm;codecs=opus",
		"Audio/OGG; codecs=vorbis",
		"audio/flac",
	}

	for _, mimeType := range supportedMimeTypes {
		if !IsSupportedFormat(mimeType) {
			t.Errorf("MIME type %s should be supported", mimeType)
		}
	}
}

// TestUnsupportedFormats verifies unsupported formats are rejected
func TestUnsupportedFormats(t *testing.T) {
	unsupportedMimeTypes := []string{
		"video/mp4",
		"image/jpeg",
		"application/pdf",
		"text/plain",
		"audio/midi",
		"audio/aiff",
		"",
	}

	for _, mimeType := range unsupportedMimeTypes {
		if IsSupportedFormat(mimeType) {
			t.Errorf("MIME type %s should NOT be supported", mimeType)
		}
	}
}

func TestNormalizeMIMEType(t *testing.T) {
	cases := map[string]string{
		"audio/mp3":              "audio/mpeg",
		"audio/x-wav":            "audio/wav",
		"audio/wave":             "audio/wav",
		"audio/x-m4a":            "audio/mp4",
		"audio/webm;codecs=opus": "audio/webm",
		" AUDIO/FLAC ":           "audio/flac",
	}
	for input, want := range cases {
		if got := NormalizeMIMEType(input); got != want {
			t.Errorf("NormalizeMIMEType(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestGetSupportedFormats(t *testing.T) {
	for _, format := range GetSupportedFormats() {
		if !IsSupportedFormat(format) {
			t.Errorf("Listed format %s is not accepted", format)
		}
	}
}

func whisperServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart body: %v", err)
		}
		if r.Header.Get("Authorization") == "" {
			t.Error("Missing Authorization header")
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribeBytes_FallsBackToSecondProvider(t *testing.T) {
	var groqHits, openaiHits atomic.Int32
	groq := whisperServer(t, http.StatusInternalServerError, `{"error":{"message":"overloaded"}}`, &groqHits)
	openai := whisperServer(t, http.StatusOK, `{"text":"hello there","language":"en","duration":1.5}`, &openaiHits)

	svc := NewService([]Provider{
		{Name: "Groq", URL: groq.URL, Model: "whisper-large-v3", APIKey: "g"},
		{Name: "OpenAI", URL: openai.URL, Model: "whisper-1", APIKey: "o"},
	})

	resp, err := svc.TranscribeBytes(context.Background(), []byte("RIFF...."), "audio/x-wav")
	if err != nil {
		t.Fatalf("TranscribeBytes failed: %v", err)
	}
	if resp.Text != "hello there" || resp.Provider != "OpenAI" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if groqHits.Load() != 1 || openaiHits.Load() != 1 {
		t.Errorf("Expected one call to each provider, got groq=%d openai=%d", groqHits.Load(), openaiHits.Load())
	}
}

func TestTranscribeBytes_AllProvidersFail(t *testing.T) {
	var hits atomic.Int32
	srv := whisperServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, &hits)
	svc := NewService([]Provider{{Name: "OpenAI", URL: srv.URL, Model: "whisper-1", APIKey: "x"}})

	_, err := svc.TranscribeBytes(context.Background(), []byte("data"), "audio/webm")
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("Expected provider error, got %v", err)
	}
}

func TestTranscribeBytes_Validation(t *testing.T) {
	svc := NewService(nil)

	if _, err := svc.TranscribeBytes(context.Background(), []byte("x"), "video/mp4"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := svc.TranscribeBytes(context.Background(), make([]byte, MaxAudioBytes+1), "audio/wav"); !errors.Is(err, ErrAudioTooLarge) {
		t.Errorf("Expected ErrAudioTooLarge, got %v", err)
	}
	if _, err := svc.TranscribeBytes(context.Background(), []byte("x"), "audio/wav"); !errors.Is(err, ErrNoProvider) {
		t.Errorf("Expected ErrNoProvider, got %v", err)
	}
	if svc.Enabled() {
		t.Error("Service without providers should report disabled")
	}
}

func TestDefaultProviders(t *testing.T) {
	providers := DefaultProviders("groq-key", "openai-key")
	if len(providers) != 2 || providers[0].Name != "Groq" || providers[1].Name != "OpenAI" {
		t.Errorf("Expected Groq then OpenAI, got %+v", providers)
	}
	if len(DefaultProviders("", "")) != 0 {
		t.Error("No keys should yield no providers")
	}
}
