package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"parley/internal/models"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []models.StateUpdate
	err     error
}

func (s *recordingSink) ApplyExternalStateUpdate(ctx context.Context, update models.StateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

const testSummary = `Summary:
The user greeted the assistant and asked about tea.

Action Items:
- Recommend a green tea

Facts:
* User likes tea
- User lives in Lisbon`

func newTestPipeline(t *testing.T, backend InferenceBackend, sink StateSink) (*SummarizationPipeline, *TranscriptStore, *MemoryStepLog) {
	t.Helper()
	store := newTestTranscriptStore(t)
	prompts, _ := NewPromptService("")
	stepLog := NewMemoryStepLog()
	pipeline := NewSummarizationPipeline(SummarizationPipelineConfig{
		Workers:     1,
		QueueSize:   1,
		MaxMessages: 25,
		StepTimeout: 5 * time.Second,
		StaleAfter:  time.Minute,
	}, store, backend, prompts, sink, stepLog, nil)
	return pipeline, store, stepLog
}

func seedTurn(t *testing.T, store *TranscriptStore, conversationID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := store.EnsureConversation(ctx, conversationID, now); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, conversationID, models.RoleUser, "hello, I like tea", now); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, conversationID, models.RoleAssistant, "Nice! Any favourite?", now.Add(time.Millisecond)); err != nil {
		t.Fatal(err)
	}
}

func TestSummarizationPipeline_EmptyTranscriptIsNoOp(t *testing.T) {
	backend := newFakeBackend(testSummary)
	sink := &recordingSink{}
	pipeline, store, stepLog := newTestPipeline(t, backend, sink)
	ctx := context.Background()

	run := models.NewSummarizationRun("conv-empty", time.Now())
	if err := pipeline.Run(ctx, run); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if backend.calls() != 0 {
		t.Error("Summarizer must not be called for an empty transcript")
	}
	if sink.count() != 0 {
		t.Error("No state update expected for an empty transcript")
	}
	summary, _ := store.GetSummary(ctx, "conv-empty")
	if summary != nil {
		t.Errorf("No summary row expected, got %+v", summary)
	}

	stored, _ := stepLog.Get(ctx, run.ID)
	if stored.Status != models.RunStatusCompleted || !stored.NoOp {
		t.Errorf("Expected completed no-op run, got status=%s noop=%v", stored.Status, stored.NoOp)
	}
}

func TestSummarizationPipeline_FullRun(t *testing.T) {
	backend := newFakeBackend(testSummary)
	sink := &recordingSink{}
	pipeline, store, stepLog := newTestPipeline(t, backend, sink)
	ctx := context.Background()
	seedTurn(t, store, "conv-full")

	run := models.NewSummarizationRun("conv-full", time.Now())
	if err := pipeline.Run(ctx, run); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	prompt := backend.lastPrompt()
	if prompt == nil || prompt[1].Content != "USER: hello, I like tea\nASSISTANT: Nice! Any favourite?" {
		t.Errorf("Unexpected summarizer transcript: %+v", prompt)
	}

	summary, err := store.GetSummary(ctx, "conv-full")
	if err != nil || summary == nil {
		t.Fatalf("Expected stored summary, got %v (%v)", summary, err)
	}
	if summary.Summary != testSummary {
		t.Errorf("Stored summary mismatch: %q", summary.Summary)
	}

	if sink.count() != 1 {
		t.Fatalf("Expected 1 state update, got %d", sink.count())
	}
	update := sink.updates[0]
	wantFacts := []string{"Recommend a green tea", "User likes tea", "User lives in Lisbon"}
	if update.PinnedFacts == nil || !reflect.DeepEqual(*update.PinnedFacts, wantFacts) {
		t.Errorf("Expected facts %q, got %v", wantFacts, update.PinnedFacts)
	}
	if update.LastUpdated == nil || update.LastUpdated.UnixMicro() != summary.UpdatedAt.UnixMicro() {
		t.Errorf("State update timestamp should match the persisted summary")
	}

	stored, _ := stepLog.Get(ctx, run.ID)
	if stored.Status != models.RunStatusCompleted {
		t.Errorf("Expected completed, got %s", stored.Status)
	}
	if !reflect.DeepEqual(stored.CompletedSteps, models.SummarizationSteps) {
		t.Errorf("Expected all steps checkpointed, got %v", stored.CompletedSteps)
	}
}

func TestSummarizationPipeline_SummarizeFailure(t *testing.T) {
	backend := newFakeBackend("")
	sink := &recordingSink{}
	pipeline, store, stepLog := newTestPipeline(t, backend, sink)
	ctx := context.Background()
	seedTurn(t, store, "conv-fail")

	run := models.NewSummarizationRun("conv-fail", time.Now())
	err := pipeline.Run(ctx, run)

	var stepErr *PipelineStepError
	if !errors.As(err, &stepErr) || stepErr.Step != models.StepSummarize {
		t.Fatalf("Expected summarize step error, got %v", err)
	}
	if KindOf(err) != KindPipelineStep {
		t.Errorf("Expected pipeline_step kind, got %s", KindOf(err))
	}

	summary, _ := store.GetSummary(ctx, "conv-fail")
	if summary != nil {
		t.Error("Failed run must not write a summary")
	}
	if sink.count() != 0 {
		t.Error("Failed run must not update actor state")
	}

	stored, _ := stepLog.Get(ctx, run.ID)
	if stored.Status != models.RunStatusFailed || stored.FailedStep != models.StepSummarize {
		t.Errorf("Expected failed at summarize, got status=%s step=%s", stored.Status, stored.FailedStep)
	}

	// Failed runs are abandoned, never resumed
	if err := pipeline.Run(ctx, run); err != nil {
		t.Errorf("Re-running a failed run should be a no-op, got %v", err)
	}
	if backend.calls() != 1 {
		t.Errorf("Failed run was retried, backend calls=%d", backend.calls())
	}
}

func TestSummarizationPipeline_SyncFailureStillCompletes(t *testing.T) {
	sink := &recordingSink{err: errors.New("actor unreachable")}
	pipeline, store, stepLog := newTestPipeline(t, newFakeBackend(testSummary), sink)
	ctx := context.Background()
	seedTurn(t, store, "conv-sync")

	run := models.NewSummarizationRun("conv-sync", time.Now())
	if err := pipeline.Run(ctx, run); err != nil {
		t.Fatalf("Sync failure must not fail the run, got %v", err)
	}

	summary, _ := store.GetSummary(ctx, "conv-sync")
	if summary == nil {
		t.Fatal("Persisted summary must survive a sync failure")
	}

	stored, _ := stepLog.Get(ctx, run.ID)
	if stored.Status != models.RunStatusCompleted || !stored.SyncFailed {
		t.Errorf("Expected completed run with SyncFailed, got status=%s syncFailed=%v", stored.Status, stored.SyncFailed)
	}
}

func TestSummarizationPipeline_ResumesAfterCheckpoint(t *testing.T) {
	backend := newFakeBackend("should not be called")
	sink := &recordingSink{}
	pipeline, store, stepLog := newTestPipeline(t, backend, sink)
	ctx := context.Background()
	seedTurn(t, store, "conv-resume")

	// A run that crashed after summarizing
	run := models.NewSummarizationRun("conv-resume", time.Now().Add(-time.Hour))
	run.Status = models.RunStatusRunning
	run.Transcript = []models.ChatMessage{{Role: models.RoleUser, Content: "hello"}}
	run.SummaryText = "Facts:\n- resumed fact"
	run.MarkStep(models.StepFetch)
	run.MarkStep(models.StepSummarize)
	run.UpdatedAt = time.Now().Add(-time.Hour)
	if err := stepLog.Checkpoint(ctx, run); err != nil {
		t.Fatal(err)
	}

	if err := pipeline.Run(ctx, models.NewSummarizationRun("conv-resume", run.TriggeredAt)); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	if backend.calls() != 0 {
		t.Error("Completed steps must not run again")
	}
	summary, _ := store.GetSummary(ctx, "conv-resume")
	if summary == nil || summary.Summary != "Facts:\n- resumed fact" {
		t.Errorf("Expected checkpointed summary to be persisted, got %+v", summary)
	}

	stored, _ := stepLog.Get(ctx, run.ID)
	if stored.AttemptCount != 1 || stored.Status != models.RunStatusCompleted {
		t.Errorf("Expected completed run after one attempt, got status=%s attempts=%d", stored.Status, stored.AttemptCount)
	}
}

func TestSummarizationPipeline_RecoverStale(t *testing.T) {
	pipeline, store, stepLog := newTestPipeline(t, newFakeBackend(testSummary), &recordingSink{})
	ctx := context.Background()
	seedTurn(t, store, "conv-stale")

	stale := models.NewSummarizationRun("conv-stale", time.Now().Add(-time.Hour))
	stale.Status = models.RunStatusRunning
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	stepLog.Checkpoint(ctx, stale)

	failed := models.NewSummarizationRun("conv-stale", time.Now().Add(-2*time.Hour))
	failed.Status = models.RunStatusFailed
	failed.UpdatedAt = time.Now().Add(-time.Hour)
	stepLog.Checkpoint(ctx, failed)

	fresh := models.NewSummarizationRun("conv-stale", time.Now())
	fresh.Status = models.RunStatusRunning
	stepLog.Checkpoint(ctx, fresh)

	requeued, err := pipeline.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("Expected only the stale running run to be requeued, got %d", requeued)
	}

	pipeline.Start()
	pipeline.Stop(ctx)

	stored, _ := stepLog.Get(ctx, stale.ID)
	if stored.Status != models.RunStatusCompleted {
		t.Errorf("Recovered run should complete, got %s", stored.Status)
	}
	if f, _ := stepLog.Get(ctx, failed.ID); f.Status != models.RunStatusFailed {
		t.Errorf("Failed run must stay failed, got %s", f.Status)
	}
}

func TestSummarizationPipeline_EnqueueNeverBlocks(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t, newFakeBackend(testSummary), &recordingSink{})

	// Workers not started: the single queue slot fills up
	if err := pipeline.Enqueue("conv-a", time.Now()); err != nil {
		t.Fatalf("First enqueue failed: %v", err)
	}
	triggered := time.Now().Add(time.Second)
	if err := pipeline.Enqueue("conv-b", triggered); !errors.Is(err, ErrPipelineQueueFull) {
		t.Fatalf("Expected ErrPipelineQueueFull, got %v", err)
	}
	if pipeline.InFlight() != 1 {
		t.Errorf("Dropped run must not stay in flight, got %d", pipeline.InFlight())
	}

	pipeline.Start()
	pipeline.Stop(context.Background())

	if err := pipeline.Enqueue("conv-c", time.Now()); err == nil || !strings.Contains(err.Error(), "stopped") {
		t.Errorf("Expected enqueue after stop to fail, got %v", err)
	}
}

func TestFormatTranscript(t *testing.T) {
	got := formatTranscript([]models.ChatMessage{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	})
	if got != "USER: hi\nASSISTANT: hello" {
		t.Errorf("Unexpected transcript %q", got)
	}
}
