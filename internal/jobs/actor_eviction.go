package jobs

import (
	"context"
	"time"
)

// IdleEvicter drops conversation actors that have gone quiet
type IdleEvicter interface {
	EvictIdle(now time.Time) int
}

// ActorEvictionJob bounds actor memory by evicting idle actors
type ActorEvictionJob struct {
	registry IdleEvicter
	interval time.Duration
}

func NewActorEvictionJob(registry IdleEvicter, interval time.Duration) *ActorEvictionJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ActorEvictionJob{registry: registry, interval: interval}
}

func (j *ActorEvictionJob) Run(ctx context.Context) error {
	j.registry.EvictIdle(time.Now())
	return nil
}

func (j *ActorEvictionJob) Interval() time.Duration {
	return j.interval
}
