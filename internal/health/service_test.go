package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheck_AllHealthy(t *testing.T) {
	svc := NewService(2, time.Second)
	svc.Register("store", true, func(ctx context.Context) error { return nil })
	svc.Register("redis", false, func(ctx context.Context) error { return nil })

	report := svc.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("Expected healthy, got %s", report.Status)
	}
	if len(report.Dependencies) != 2 || report.Dependencies[0].Name != "redis" {
		t.Errorf("Expected dependencies sorted by name, got %+v", report.Dependencies)
	}
}

func TestCheck_FailureThreshold(t *testing.T) {
	svc := NewService(2, time.Second)
	svc.Register("store", true, func(ctx context.Context) error { return errors.New("disk I/O error") })

	if got := svc.Check(context.Background()).Status; got != StatusDegraded {
		t.Errorf("First failure should degrade, got %s", got)
	}
	report := svc.Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Errorf("Second failure of a critical dependency should be unhealthy, got %s", report.Status)
	}
	if report.Dependencies[0].LastError != "disk I/O error" {
		t.Errorf("Unexpected last error %q", report.Dependencies[0].LastError)
	}
}

func TestCheck_OptionalDependencyOnlyDegrades(t *testing.T) {
	svc := NewService(1, time.Second)
	svc.Register("store", true, func(ctx context.Context) error { return nil })
	svc.Register("mongodb", false, func(ctx context.Context) error { return errors.New("no reachable servers") })

	if got := svc.Check(context.Background()).Status; got != StatusDegraded {
		t.Errorf("Expected degraded, got %s", got)
	}
}

func TestCheck_Recovery(t *testing.T) {
	fail := true
	svc := NewService(1, time.Second)
	svc.Register("store", true, func(ctx context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})

	svc.Check(context.Background())
	fail = false
	report := svc.Check(context.Background())
	if report.Status != StatusHealthy || report.Dependencies[0].FailureCount != 0 {
		t.Errorf("Expected recovery, got %+v", report)
	}
}

func TestCheck_ProbeTimeout(t *testing.T) {
	svc := NewService(1, 20*time.Millisecond)
	svc.Register("slow", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if got := svc.Check(context.Background()).Status; got != StatusUnhealthy {
		t.Errorf("Expected timed-out probe to be unhealthy, got %s", got)
	}
}
