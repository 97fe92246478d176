package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"parley/internal/logging"
	"parley/internal/models"
)

// SummarizationPipelineConfig configures the worker pool and step bounds
type SummarizationPipelineConfig struct {
	Workers     int
	QueueSize   int
	MaxMessages int
	StepTimeout time.Duration
	StaleAfter  time.Duration
}

// SummarizationPipeline runs checkpointed summarization jobs out of band.
// Each step's output lands in the step log before the next step starts, so
// a run interrupted by a crash resumes after its last finished step.
type SummarizationPipeline struct {
	cfg     SummarizationPipelineConfig
	store   *TranscriptStore
	backend InferenceBackend
	prompts *PromptService
	sink    StateSink
	stepLog PipelineStepLog
	metrics *Metrics

	queue chan *models.SummarizationRun

	mu       sync.RWMutex
	stopped  bool
	inflight map[string]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewSummarizationPipeline creates a pipeline; call Start to launch workers
func NewSummarizationPipeline(
	cfg SummarizationPipelineConfig,
	store *TranscriptStore,
	backend InferenceBackend,
	prompts *PromptService,
	sink StateSink,
	stepLog PipelineStepLog,
	metrics *Metrics,
) *SummarizationPipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 25
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 90 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SummarizationPipeline{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		prompts:  prompts,
		sink:     sink,
		stepLog:  stepLog,
		metrics:  metrics,
		queue:    make(chan *models.SummarizationRun, cfg.QueueSize),
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Start launches the worker goroutines
func (p *SummarizationPipeline) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("✅ [PIPELINE] Summarization pipeline started (%d workers, queue %d)", p.cfg.Workers, p.cfg.QueueSize)
}

// Stop rejects new runs and waits for queued runs to drain until ctx expires
func (p *SummarizationPipeline) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ [PIPELINE] Summarization workers drained")
	case <-ctx.Done():
		log.Println("⚠️  [PIPELINE] Shutdown deadline reached, abandoning in-flight runs (recovery will resume them)")
	}
	p.cancel()
}

// Enqueue schedules a run without blocking. A full queue drops the run.
func (p *SummarizationPipeline) Enqueue(conversationID string, triggeredAt time.Time) error {
	return p.submit(models.NewSummarizationRun(conversationID, triggeredAt))
}

func (p *SummarizationPipeline) submit(run *models.SummarizationRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return fmt.Errorf("summarization pipeline stopped")
	}
	if _, busy := p.inflight[run.ID]; busy {
		return nil
	}

	select {
	case p.queue <- run:
		p.inflight[run.ID] = struct{}{}
		return nil
	default:
		return ErrPipelineQueueFull
	}
}

func (p *SummarizationPipeline) done(runID string) {
	p.mu.Lock()
	delete(p.inflight, runID)
	p.mu.Unlock()
}

// InFlight reports how many runs are queued or executing
func (p *SummarizationPipeline) InFlight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.inflight)
}

func (p *SummarizationPipeline) worker(id int) {
	defer p.wg.Done()

	for run := range p.queue {
		if err := p.Run(p.ctx, run); err != nil {
			logging.WithRun(run.ID, run.ConversationID).Warn("summarization run did not complete", "worker", id, "error", err)
		}
		p.done(run.ID)
	}
}

// RecoverStale requeues unfinished runs whose last checkpoint is older than StaleAfter.
// Failed runs are never retried.
func (p *SummarizationPipeline) RecoverStale(ctx context.Context) (int, error) {
	runs, err := p.stepLog.Stale(ctx, p.now().Add(-p.cfg.StaleAfter), p.cfg.QueueSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, run := range runs {
		if err := p.submit(run); err != nil {
			log.Printf("⚠️  [PIPELINE] Could not requeue run %s: %v", run.ID, err)
			break
		}
		requeued++
	}

	if requeued > 0 {
		log.Printf("🔁 [PIPELINE] Requeued %d stale summarization runs", requeued)
	}
	return requeued, nil
}

// Run executes a run synchronously, resuming after its last checkpoint
func (p *SummarizationPipeline) Run(ctx context.Context, run *models.SummarizationRun) error {
	logger := logging.WithRun(run.ID, run.ConversationID)

	stored, err := p.stepLog.Begin(ctx, run)
	if err != nil {
		return err
	}
	run = stored
	if run.IsTerminal() {
		return nil
	}

	run.Status = models.RunStatusRunning
	run.AttemptCount++
	run.UpdatedAt = p.now()
	if err := p.stepLog.Checkpoint(ctx, run); err != nil {
		return err
	}

	if len(run.CompletedSteps) > 0 {
		logger.Info("resuming summarization run", "completed_steps", run.CompletedSteps, "attempt", run.AttemptCount)
	}

	steps := []struct {
		name string
		fn   func(context.Context, *models.SummarizationRun) error
	}{
		{models.StepFetch, p.fetchTranscript},
		{models.StepSummarize, p.summarize},
		{models.StepPersist, p.persistSummary},
		{models.StepExtract, p.extractPinnedFacts},
		{models.StepSync, p.syncActorState},
	}

	for _, step := range steps {
		if run.NoOp {
			break
		}
		if run.StepDone(step.name) {
			continue
		}

		stepCtx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
		err := step.fn(stepCtx, run)
		cancel()

		if err != nil {
			return p.fail(ctx, run, step.name, err)
		}

		run.MarkStep(step.name)
		if err := p.stepLog.Checkpoint(ctx, run); err != nil {
			// Left as running; recovery resumes from the previous checkpoint
			return err
		}
	}

	completedAt := p.now()
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &completedAt
	run.UpdatedAt = completedAt
	if err := p.stepLog.Checkpoint(ctx, run); err != nil {
		return err
	}

	switch {
	case run.NoOp:
		p.metrics.RecordPipelineRun("noop")
		logger.Debug("summarization skipped, empty transcript")
	case run.SyncFailed:
		p.metrics.RecordPipelineRun("sync_failed")
	default:
		p.metrics.RecordPipelineRun("completed")
		logger.Info("summarization completed", "pinned_facts", len(run.PinnedFacts))
	}
	return nil
}

func (p *SummarizationPipeline) fail(ctx context.Context, run *models.SummarizationRun, step string, err error) error {
	logging.WithRun(run.ID, run.ConversationID).Error("summarization step failed", "step", step, "error", err)

	run.Status = models.RunStatusFailed
	run.FailedStep = step
	run.ErrorMessage = err.Error()
	run.UpdatedAt = p.now()
	if cpErr := p.stepLog.Checkpoint(ctx, run); cpErr != nil {
		log.Printf("⚠️  [PIPELINE] Failed to record failure of run %s: %v", run.ID, cpErr)
	}

	p.metrics.RecordPipelineRun("failed")
	return &PipelineStepError{Step: step, Err: err}
}

func (p *SummarizationPipeline) fetchTranscript(ctx context.Context, run *models.SummarizationRun) error {
	messages, err := p.store.RecentMessages(ctx, run.ConversationID, p.cfg.MaxMessages)
	if err != nil {
		return err
	}

	run.Transcript = make([]models.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		run.Transcript = append(run.Transcript, models.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	if len(run.Transcript) == 0 {
		run.NoOp = true
	}
	return nil
}

func (p *SummarizationPipeline) summarize(ctx context.Context, run *models.SummarizationRun) error {
	prompt := []models.ChatMessage{
		{Role: models.RoleSystem, Content: p.prompts.Summarizer()},
		{Role: models.RoleUser, Content: formatTranscript(run.Transcript)},
	}

	summary, err := p.backend.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return ErrEmptyCompletion
	}

	run.SummaryText = summary
	return nil
}

func (p *SummarizationPipeline) persistSummary(ctx context.Context, run *models.SummarizationRun) error {
	persistedAt := p.now().Truncate(time.Microsecond)
	if err := p.store.UpsertSummary(ctx, run.ConversationID, run.SummaryText, persistedAt); err != nil {
		return err
	}
	run.PersistedAt = &persistedAt
	return nil
}

func (p *SummarizationPipeline) extractPinnedFacts(ctx context.Context, run *models.SummarizationRun) error {
	run.PinnedFacts = ExtractPinnedFacts(run.SummaryText)
	return nil
}

// syncActorState pushes the result into the actor. A failure is recorded on
// the run but never fails it; the persisted summary stays authoritative.
func (p *SummarizationPipeline) syncActorState(ctx context.Context, run *models.SummarizationRun) error {
	if p.sink == nil {
		return nil
	}

	summary := run.SummaryText
	facts := append([]string{}, run.PinnedFacts...)
	update := models.StateUpdate{
		ConversationID: run.ConversationID,
		Summary:        &summary,
		PinnedFacts:    &facts,
		LastUpdated:    run.PersistedAt,
	}

	if err := p.sink.ApplyExternalStateUpdate(ctx, update); err != nil {
		logging.WithRun(run.ID, run.ConversationID).Warn("actor state sync failed, summary already persisted", "error", err)
		run.SyncFailed = true
	}
	return nil
}

// formatTranscript renders messages as "ROLE: content" lines
func formatTranscript(messages []models.ChatMessage) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.ToUpper(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return b.String()
}
