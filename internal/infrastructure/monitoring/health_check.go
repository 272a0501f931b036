package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type healthCheck struct {
	name     string
	check    CheckFunc
	interval time.Duration
	timeout  time.Duration
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthStatus is the readiness report served on /ready.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthChecker runs the readiness probes of the signalling server: redis,
// room actors and the callback queue.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []healthCheck
	// last holds the latest background result per check.
	last map[string]CheckResult
	now  func() time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		last: make(map[string]CheckResult),
		now:  time.Now,
	}
}

// AddCheck registers a probe. A zero interval keeps it out of the background loop.
func (h *HealthChecker) AddCheck(name string, check CheckFunc, interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{
		name:     name,
		check:    check,
		interval: interval,
		timeout:  timeout,
	})
}

func (h *HealthChecker) snapshot() []healthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]healthCheck(nil), h.checks...)
}

func (h *HealthChecker) run(ctx context.Context, c healthCheck) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := h.now()
	err := c.check(checkCtx)
	result := CheckResult{Status: StatusHealthy, LatencyMs: h.now().Sub(start).Milliseconds()}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// CheckAll runs every probe concurrently. One failing probe makes the whole
// report unhealthy.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	checks := h.snapshot()
	results := make([]CheckResult, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			results[i] = h.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: h.now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, c := range checks {
		status.Checks[c.name] = results[i]
		if results[i].Status != StatusHealthy {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

// Last returns the latest background result of a check.
func (h *HealthChecker) Last(name string) (CheckResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.last[name]
	return r, ok
}

// record stores result and reports whether the check changed status.
func (h *HealthChecker) record(name string, result CheckResult) (changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, seen := h.last[name]
	h.last[name] = result
	if !seen {
		return result.Status != StatusHealthy
	}
	return prev.Status != result.Status
}

// StartBackgroundChecks runs every check with an interval until ctx ends.
// Only status changes are logged.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context, logger *zap.SugaredLogger) {
	for _, c := range h.snapshot() {
		if c.interval > 0 {
			go h.runPeriodically(ctx, c, logger)
		}
	}
}

func (h *HealthChecker) runPeriodically(ctx context.Context, c healthCheck, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := h.run(ctx, c)
			if !h.record(c.name, result) {
				continue
			}
			if result.Status == StatusHealthy {
				logger.Infow("Health check recovered", "check", c.name, "latency_ms", result.LatencyMs)
			} else {
				logger.Warnw("Health check failed", "check", c.name, "error", result.Error)
			}
		}
	}
}
