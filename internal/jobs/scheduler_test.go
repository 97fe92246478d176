package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingJob struct {
	runs     atomic.Int32
	interval time.Duration
	err      error
}

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func (j *countingJob) Interval() time.Duration { return j.interval }

type fakeRecoverer struct {
	recovered int
	err       error
	calls     int
}

func (f *fakeRecoverer) RecoverStale(ctx context.Context) (int, error) {
	f.calls++
	return f.recovered, f.err
}

type fakeEvicter struct{ calls int }

func (f *fakeEvicter) EvictIdle(now time.Time) int {
	f.calls++
	return 0
}

func TestJobScheduler_RunsOnInterval(t *testing.T) {
	scheduler, err := NewJobScheduler()
	if err != nil {
		t.Fatalf("NewJobScheduler failed: %v", err)
	}

	job := &countingJob{interval: 20 * time.Millisecond}
	if err := scheduler.Register("counter", job); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	scheduler.Start()

	deadline := time.Now().Add(2 * time.Second)
	for job.runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	scheduler.Stop()

	if job.runs.Load() < 2 {
		t.Errorf("Expected at least 2 runs, got %d", job.runs.Load())
	}
}

func TestJobScheduler_RejectsZeroInterval(t *testing.T) {
	scheduler, _ := NewJobScheduler()
	if err := scheduler.Register("broken", &countingJob{}); err == nil {
		t.Error("Expected error for zero interval")
	}
}

func TestJobScheduler_RunNow(t *testing.T) {
	scheduler, _ := NewJobScheduler()
	job := &countingJob{interval: time.Hour, err: errors.New("boom")}
	_ = scheduler.Register("hourly", job)

	if err := scheduler.RunNow("hourly"); err == nil || err.Error() != "boom" {
		t.Errorf("Expected job error to propagate, got %v", err)
	}
	if job.runs.Load() != 1 {
		t.Errorf("Expected 1 run, got %d", job.runs.Load())
	}
	if err := scheduler.RunNow("missing"); err == nil {
		t.Error("Expected error for unknown job")
	}

	status := scheduler.GetStatus()
	if !status["hourly"].Registered || status["hourly"].Interval != "1h0m0s" {
		t.Errorf("Unexpected status %+v", status["hourly"])
	}
}

func TestPipelineRecoveryJob(t *testing.T) {
	recoverer := &fakeRecoverer{recovered: 3}
	job := NewPipelineRecoveryJob(recoverer, 0)

	if job.Interval() != 5*time.Minute {
		t.Errorf("Expected default interval 5m, got %v", job.Interval())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if recoverer.calls != 1 {
		t.Errorf("Expected 1 RecoverStale call, got %d", recoverer.calls)
	}

	recoverer.err = errors.New("mongo unavailable")
	if err := job.Run(context.Background()); err == nil {
		t.Error("Expected error to propagate")
	}
}

func TestActorEvictionJob(t *testing.T) {
	evicter := &fakeEvicter{}
	job := NewActorEvictionJob(evicter, 0)
	if job.Interval() != time.Minute {
		t.Errorf("Expected default interval 1m, got %v", job.Interval())
	}
	_ = job.Run(context.Background())
	if evicter.calls != 1 {
		t.Errorf("Expected 1 EvictIdle call, got %d", evicter.calls)
	}
}
