package models

import (
	"fmt"
	"time"
)

// SummarizationRun is the step-log record of one pipeline run.
// Every completed step stores its output here before the next step starts,
// so a resumed run can skip straight past finished work.
type SummarizationRun struct {
	ID             string    `bson:"_id" json:"id"` // "<conversationId>:<triggeredAt unix micros>"
	ConversationID string    `bson:"conversationId" json:"conversation_id"`
	TriggeredAt    time.Time `bson:"triggeredAt" json:"triggered_at"`

	Status         string   `bson:"status" json:"status"`                 // "pending", "running", "completed", "failed"
	CompletedSteps []string `bson:"completedSteps" json:"completed_steps"` // in execution order
	FailedStep     string   `bson:"failedStep,omitempty" json:"failed_step,omitempty"`
	ErrorMessage   string   `bson:"errorMessage,omitempty" json:"error_message,omitempty"`
	AttemptCount   int      `bson:"attemptCount" json:"attempt_count"` // times the run was started or resumed

	// Step outputs
	Transcript  []ChatMessage `bson:"transcript,omitempty" json:"transcript,omitempty"`
	NoOp        bool          `bson:"noOp" json:"no_op"`
	SummaryText string        `bson:"summaryText,omitempty" json:"summary_text,omitempty"`
	PersistedAt *time.Time    `bson:"persistedAt,omitempty" json:"persisted_at,omitempty"`
	PinnedFacts []string      `bson:"pinnedFacts,omitempty" json:"pinned_facts,omitempty"`
	SyncFailed  bool          `bson:"syncFailed" json:"sync_failed"`

	CreatedAt   time.Time  `bson:"createdAt" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updated_at"`
	CompletedAt *time.Time `bson:"completedAt,omitempty" json:"completed_at,omitempty"`
}

// Summarization pipeline step names, in execution order
const (
	StepFetch     = "fetch"
	StepSummarize = "summarize"
	StepPersist   = "persist"
	StepExtract   = "extract"
	StepSync      = "sync"
)

// SummarizationSteps lists the pipeline steps in execution order
var SummarizationSteps = []string{StepFetch, StepSummarize, StepPersist, StepExtract, StepSync}

// SummarizationRun status values
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// SummarizationRunID builds the identity of a run from its trigger
func SummarizationRunID(conversationID string, triggeredAt time.Time) string {
	return fmt.Sprintf("%s:%d", conversationID, triggeredAt.UnixMicro())
}

// NewSummarizationRun creates a pending run record
func NewSummarizationRun(conversationID string, triggeredAt time.Time) *SummarizationRun {
	now := time.Now()
	return &SummarizationRun{
		ID:             SummarizationRunID(conversationID, triggeredAt),
		ConversationID: conversationID,
		TriggeredAt:    triggeredAt,
		Status:         RunStatusPending,
		CompletedSteps: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// StepDone reports whether a step already has a checkpoint
func (r *SummarizationRun) StepDone(step string) bool {
	for _, s := range r.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// MarkStep records a finished step
func (r *SummarizationRun) MarkStep(step string) {
	if !r.StepDone(step) {
		r.CompletedSteps = append(r.CompletedSteps, step)
	}
	r.UpdatedAt = time.Now()
}

// IsTerminal reports whether the run will not execute again
func (r *SummarizationRun) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
