package models

import (
	"time"
)

// Message roles stored in the transcript
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MaxPinnedFacts bounds ActorState.PinnedFacts
const MaxPinnedFacts = 5

// Conversation is the identity row for a chat session
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a single immutable transcript entry
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Summary is the latest pipeline-produced summary of a conversation (one row per conversation)
type Summary struct {
	ConversationID string    `json:"conversationId"`
	Summary        string    `json:"summary"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ActorState is the conversation actor's cached derived knowledge.
// The transcript store stays authoritative for the summary text.
type ActorState struct {
	ConversationID string    `json:"conversationId"`
	Summary        string    `json:"summary,omitempty"`
	PinnedFacts    []string  `json:"pinnedFacts"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// StateUpdate is a partial update pushed into an actor.
// Nil fields leave the corresponding ActorState field untouched.
type StateUpdate struct {
	ConversationID string     `json:"conversationId"`
	Summary        *string    `json:"summary,omitempty"`
	PinnedFacts    *[]string  `json:"pinnedFacts,omitempty"`
	LastUpdated    *time.Time `json:"lastUpdated,omitempty"`
}

// ChatMessage is one entry of an inference request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnMetadata is returned alongside every reply
type TurnMetadata struct {
	MessageCount int       `json:"messageCount"`
	ReceivedAt   time.Time `json:"receivedAt"`
	InputMode    string    `json:"inputMode,omitempty"` // "text" or "voice"
}

// ChatTurnResult is the outcome of one synchronous conversation turn
type ChatTurnResult struct {
	ConversationID string       `json:"conversationId"`
	Reply          string       `json:"reply"`
	Summary        *string      `json:"summary"`
	Metadata       TurnMetadata `json:"metadata"`
}

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	ConversationID string                 `json:"conversationId,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Voice          string                 `json:"voice,omitempty"` // base64-encoded audio
	VoiceMimeType  string                 `json:"voiceMimeType,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// AgentMessageRequest is the body of POST /agent/message
type AgentMessageRequest struct {
	ConversationID string                 `json:"conversationId"`
	Message        string                 `json:"message"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// HistoryResponse is returned by GET /api/history
type HistoryResponse struct {
	ConversationID string     `json:"conversationId"`
	Summary        *string    `json:"summary"`
	PinnedFacts    []string   `json:"pinnedFacts"`
	LastUpdated    *time.Time `json:"lastUpdated"`
	Messages       []Message  `json:"messages"`
}

// RateLimitRecord is the fixed-window counter stored under rate:<identity>
type RateLimitRecord struct {
	Count     int   `json:"count"`
	WindowEnd int64 `json:"windowEnd"` // unix milliseconds
}
