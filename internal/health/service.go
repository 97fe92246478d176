package health

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 3
	defaultProbeTimeout     = 2 * time.Second
)

type registeredProbe struct {
	probe Probe
	state *DependencyHealth
}

// Service probes the server's backing dependencies and remembers their recent health
type Service struct {
	mu               sync.RWMutex
	probes           map[string]*registeredProbe
	failureThreshold int
	probeTimeout     time.Duration
}

// NewService creates a new health service
func NewService(failureThreshold int, probeTimeout time.Duration) *Service {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}

	return &Service{
		probes:           make(map[string]*registeredProbe),
		failureThreshold: failureThreshold,
		probeTimeout:     probeTimeout,
	}
}

// Register adds a dependency probe. A failing critical dependency makes the
// whole report unhealthy; a failing optional one only degrades it.
func (s *Service) Register(name string, critical bool, probe Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.probes[name]; exists {
		return
	}
	s.probes[name] = &registeredProbe{
		probe: probe,
		state: &DependencyHealth{Name: name, Critical: critical, Status: StatusUnknown},
	}
	log.Printf("[HEALTH] Registered dependency %s (critical=%v)", name, critical)
}

// Check runs every probe concurrently and returns the aggregate report
func (s *Service) Check(ctx context.Context) Report {
	s.mu.RLock()
	names := make([]string, 0, len(s.probes))
	for name := range s.probes {
		names = append(names, name)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.runProbe(ctx, name)
		}(name)
	}
	wg.Wait()

	return s.Snapshot()
}

func (s *Service) runProbe(ctx context.Context, name string) {
	s.mu.RLock()
	rp := s.probes[name]
	s.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	start := time.Now()
	err := rp.probe(probeCtx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		s.MarkUnhealthy(name, err.Error(), latency)
		return
	}
	s.MarkHealthy(name, latency)
}

// MarkHealthy records a successful probe
func (s *Service) MarkHealthy(name string, latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rp, exists := s.probes[name]
	if !exists {
		return
	}
	h := rp.state

	wasUnhealthy := h.Status == StatusUnhealthy
	h.Status = StatusHealthy
	h.FailureCount = 0
	h.LastError = ""
	h.LatencyMs = latencyMs
	h.LastChecked = time.Now()
	h.LastSuccessAt = h.LastChecked

	if wasUnhealthy {
		log.Printf("[HEALTH] %s recovered - now healthy", name)
	}
}

// MarkUnhealthy records a failure. Below the threshold the dependency is only degraded.
func (s *Service) MarkUnhealthy(name, errMsg string, latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rp, exists := s.probes[name]
	if !exists {
		return
	}
	h := rp.state

	h.FailureCount++
	h.LastError = truncateStr(errMsg, 200)
	h.LatencyMs = latencyMs
	h.LastChecked = time.Now()

	if h.FailureCount >= s.failureThreshold {
		if h.Status != StatusUnhealthy {
			log.Printf("[HEALTH] %s marked UNHEALTHY after %d failures: %s", name, h.FailureCount, h.LastError)
		}
		h.Status = StatusUnhealthy
	} else {
		h.Status = StatusDegraded
	}
}

// Snapshot returns the last known state without probing
func (s *Service) Snapshot() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := Report{Status: StatusHealthy, Timestamp: time.Now()}
	for _, rp := range s.probes {
		dep := *rp.state
		report.Dependencies = append(report.Dependencies, dep)

		switch {
		case dep.Status == StatusHealthy || dep.Status == StatusUnknown:
		case dep.Critical && dep.Status == StatusUnhealthy:
			report.Status = StatusUnhealthy
		case report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}

	sort.Slice(report.Dependencies, func(i, j int) bool {
		return report.Dependencies[i].Name < report.Dependencies[j].Name
	})
	return report
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
