package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithConversation returns a logger with the conversation id attached.
// Use this for all logging inside a conversation turn.
func WithConversation(conversationID string) *slog.Logger {
	return slog.With("conversation_id", conversationID)
}

// WithRun returns a logger scoped to one summarization pipeline run.
func WithRun(runID, conversationID string) *slog.Logger {
	return slog.With(
		"run_id", runID,
		"conversation_id", conversationID,
	)
}
