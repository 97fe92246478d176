package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"parley/internal/logging"
	"parley/internal/models"
)

const (
	noSummaryMarker     = "No summary yet."
	noPinnedFactsMarker = "None recorded."
)

// SummaryScheduler queues a summarization run without blocking the caller
type SummaryScheduler interface {
	Enqueue(conversationID string, triggeredAt time.Time) error
}

// StateSink receives derived state pushed back by the summarization pipeline
type StateSink interface {
	ApplyExternalStateUpdate(ctx context.Context, update models.StateUpdate) error
}

// actorDeps are shared by every actor of a registry
type actorDeps struct {
	store        *TranscriptStore
	backend      InferenceBackend
	prompts      *PromptService
	historyLimit int
	scheduler    func() SummaryScheduler
	metrics      *Metrics
}

// ConversationActor owns the cached derived state of one conversation.
// turnMu serializes HandleMessage; stateMu guards the cached state so state
// updates from the pipeline never wait for an in-flight inference call.
type ConversationActor struct {
	id   string
	deps *actorDeps

	turnMu sync.Mutex
	clock  time.Time // last timestamp handed out, guarded by turnMu

	stateMu   sync.RWMutex
	state     models.ActorState
	summaryAt time.Time // UpdatedAt of the summary held in state
	hydrated  bool

	// guarded by the owning registry shard lock
	holders  int
	lastUsed time.Time
}

func newConversationActor(id string, deps *actorDeps) *ConversationActor {
	return &ConversationActor{
		id:   id,
		deps: deps,
		state: models.ActorState{
			ConversationID: id,
			PinnedFacts:    []string{},
		},
		lastUsed: time.Now(),
	}
}

// ID returns the conversation id this actor serves
func (a *ConversationActor) ID() string {
	return a.id
}

// HandleMessage runs one synchronous turn: ground, infer, persist, schedule summarization.
func (a *ConversationActor) HandleMessage(ctx context.Context, text string, metadata map[string]interface{}) (*models.ChatTurnResult, error) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	logger := logging.WithConversation(a.id)
	receivedAt := time.Now()
	store := a.deps.store

	if err := store.EnsureConversation(ctx, a.id, receivedAt); err != nil {
		return nil, err
	}

	summary, err := store.GetSummary(ctx, a.id)
	if err != nil {
		return nil, err
	}

	history, err := store.RecentMessages(ctx, a.id, a.deps.historyLimit)
	if err != nil {
		return nil, err
	}

	a.absorbStoredSummary(summary)
	if len(history) > 0 {
		a.seedClock(history[len(history)-1].CreatedAt)
	}

	state := a.Snapshot()
	prompt := buildGroundingContext(a.deps.prompts.System(), summary, state.PinnedFacts, history, text)

	reply, err := a.deps.backend.Complete(ctx, prompt)
	if err != nil {
		logger.Warn("inference failed", "error", err)
		var svcErr *ServiceError
		if !errors.As(err, &svcErr) {
			err = NewInferenceError("inference failed", err)
		}
		return nil, err
	}
	if strings.TrimSpace(reply) == "" {
		return nil, NewInferenceError("inference returned an empty completion", ErrEmptyCompletion)
	}

	userAt := a.nextTimestamp()
	if _, err := store.Append(ctx, a.id, models.RoleUser, text, userAt); err != nil {
		return nil, err
	}

	replyAt := a.nextTimestamp()
	if _, err := store.Append(ctx, a.id, models.RoleAssistant, reply, replyAt); err != nil {
		return nil, err
	}

	a.stateMu.Lock()
	a.state.LastUpdated = replyAt
	a.stateMu.Unlock()

	messageCount, err := store.CountMessages(ctx, a.id)
	if err != nil {
		return nil, err
	}

	if scheduler := a.deps.scheduler(); scheduler != nil {
		if err := scheduler.Enqueue(a.id, replyAt); err != nil {
			logger.Warn("summarization not scheduled", "error", err)
			if errors.Is(err, ErrPipelineQueueFull) {
				a.deps.metrics.RecordPipelineDrop()
			}
		}
	}

	var summaryText *string
	if summary != nil {
		summaryText = &summary.Summary
	}

	logger.Debug("turn completed", "message_count", messageCount, "history", len(history))

	return &models.ChatTurnResult{
		ConversationID: a.id,
		Reply:          reply,
		Summary:        summaryText,
		Metadata: models.TurnMetadata{
			MessageCount: messageCount,
			ReceivedAt:   receivedAt,
			InputMode:    inputMode(metadata),
		},
	}, nil
}

// ApplyExternalStateUpdate merges the fields present in update.
// Absent fields keep their cached value.
func (a *ConversationActor) ApplyExternalStateUpdate(ctx context.Context, update models.StateUpdate) error {
	if err := a.Hydrate(ctx); err != nil {
		// The update is newer than anything in the store, apply it regardless
		logging.WithConversation(a.id).Warn("hydrate before state update failed", "error", err)
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if update.Summary != nil {
		a.state.Summary = *update.Summary
		a.summaryAt = time.Now()
		if update.LastUpdated != nil {
			a.summaryAt = *update.LastUpdated
		}
	}
	if update.PinnedFacts != nil {
		a.state.PinnedFacts = capPinnedFacts(*update.PinnedFacts)
	}
	if update.LastUpdated != nil {
		a.state.LastUpdated = *update.LastUpdated
	}

	return nil
}

// Hydrate loads the stored summary once so a fresh actor starts from durable state
func (a *ConversationActor) Hydrate(ctx context.Context) error {
	a.stateMu.RLock()
	hydrated := a.hydrated
	a.stateMu.RUnlock()
	if hydrated {
		return nil
	}

	summary, err := a.deps.store.GetSummary(ctx, a.id)
	if err != nil {
		return fmt.Errorf("failed to hydrate actor %s: %w", a.id, err)
	}
	a.absorbStoredSummary(summary)
	return nil
}

// Snapshot returns a copy of the cached state
func (a *ConversationActor) Snapshot() models.ActorState {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()

	state := a.state
	state.PinnedFacts = append([]string{}, a.state.PinnedFacts...)
	return state
}

// absorbStoredSummary adopts a stored summary newer than the cached one
func (a *ConversationActor) absorbStoredSummary(summary *models.Summary) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	a.hydrated = true
	if summary == nil || !summary.UpdatedAt.After(a.summaryAt) {
		return
	}

	a.state.Summary = summary.Summary
	a.state.PinnedFacts = ExtractPinnedFacts(summary.Summary)
	a.summaryAt = summary.UpdatedAt
	if summary.UpdatedAt.After(a.state.LastUpdated) {
		a.state.LastUpdated = summary.UpdatedAt
	}
}

// seedClock moves the turn clock forward to a stored timestamp. Caller holds turnMu.
func (a *ConversationActor) seedClock(t time.Time) {
	if t.After(a.clock) {
		a.clock = t
	}
}

// nextTimestamp returns a microsecond timestamp strictly after the previous one. Caller holds turnMu.
func (a *ConversationActor) nextTimestamp() time.Time {
	now := time.Now().Truncate(time.Microsecond)
	if !now.After(a.clock) {
		now = a.clock.Add(time.Microsecond)
	}
	a.clock = now
	return now
}

// buildGroundingContext assembles the inference input for one turn
func buildGroundingContext(instructions string, summary *models.Summary, pinnedFacts []string, history []models.Message, text string) []models.ChatMessage {
	var grounding strings.Builder

	grounding.WriteString("Conversation summary:\n")
	if summary != nil && strings.TrimSpace(summary.Summary) != "" {
		grounding.WriteString(summary.Summary)
	} else {
		grounding.WriteString(noSummaryMarker)
	}

	grounding.WriteString("\n\nPinned facts:\n")
	if len(pinnedFacts) == 0 {
		grounding.WriteString(noPinnedFactsMarker)
	} else {
		for _, fact := range pinnedFacts {
			grounding.WriteString("- ")
			grounding.WriteString(fact)
			grounding.WriteString("\n")
		}
	}

	messages := make([]models.ChatMessage, 0, len(history)+3)
	messages = append(messages,
		models.ChatMessage{Role: models.RoleSystem, Content: instructions},
		models.ChatMessage{Role: models.RoleSystem, Content: strings.TrimRight(grounding.String(), "\n")},
	)
	for _, msg := range history {
		messages = append(messages, models.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: text})

	return messages
}

func inputMode(metadata map[string]interface{}) string {
	if mode, ok := metadata["inputMode"].(string); ok && mode != "" {
		return mode
	}
	return "text"
}
