package jobs

import (
	"context"
	"log"
	"time"
)

// StaleRunRecoverer re-queues summarization runs abandoned by a crash
type StaleRunRecoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

// PipelineRecoveryJob finds summarization runs stuck in "pending" or "running"
// (e.g., from a server crash) and hands them back to the pipeline.
type PipelineRecoveryJob struct {
	pipeline StaleRunRecoverer
	interval time.Duration
	lastRun  time.Time
}

// NewPipelineRecoveryJob creates a new pipeline recovery job
func NewPipelineRecoveryJob(pipeline StaleRunRecoverer, interval time.Duration) *PipelineRecoveryJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &PipelineRecoveryJob{pipeline: pipeline, interval: interval}
}

// Run requeues stale runs
func (j *PipelineRecoveryJob) Run(ctx context.Context) error {
	j.lastRun = time.Now()

	recovered, err := j.pipeline.RecoverStale(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.Printf("🔁 [PIPELINE-RECOVERY] Requeued %d stale summarization runs", recovered)
	}
	return nil
}

// Interval returns how often the job runs
func (j *PipelineRecoveryJob) Interval() time.Duration {
	return j.interval
}
