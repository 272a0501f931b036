package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTestError = errors.New("test error")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cb := New(cfg)
	cb.now = clock.Now
	cb.stateChangeTime = clock.Now()
	return cb, clock
}

func smallConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 2,
	}
}

func tripOpen(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return errTestError })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state Open, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return nil })

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ClosedState_Failure(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return errTestError })

	if !errors.Is(err, errTestError) {
		t.Errorf("Expected test error, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
	if stats := cb.GetStats(); stats.FailureCount != 1 {
		t.Errorf("Expected failure count 1, got: %d", stats.FailureCount)
	}
}

func TestCircuitBreaker_OpenState_RejectsRequests(t *testing.T) {
	cb, _ := newTestBreaker(smallConfig())
	tripOpen(t, cb)

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if called {
		t.Error("Function must not run while open")
	}
}

func TestCircuitBreaker_HalfOpen_TransitionToClosed(t *testing.T) {
	cb, clock := newTestBreaker(smallConfig())
	tripOpen(t, cb)

	clock.Advance(time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("Probe %d failed: %v", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpen_FailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(smallConfig())
	tripOpen(t, cb)

	clock.Advance(time.Second)

	_ = cb.Execute(context.Background(), func() error { return errTestError })
	if cb.GetState() != StateOpen {
		t.Errorf("Expected state Open, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpen_MaxRequestsLimit(t *testing.T) {
	cfg := smallConfig()
	cfg.SuccessThreshold = 5
	cb, clock := newTestBreaker(cfg)
	tripOpen(t, cb)
	clock.Advance(time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("Probe %d should pass: %v", i, err)
		}
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected rejection after max probes, got: %v", err)
	}
}

func TestCircuitBreaker_CancelledContextNotCounted(t *testing.T) {
	cb, _ := newTestBreaker(smallConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error {
			cancel()
			return context.Canceled
		})
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb, _ := newTestBreaker(smallConfig())

	got, err := ExecuteWithResult(context.Background(), cb, func() (string, error) {
		return "success", nil
	})
	if err != nil || got != "success" {
		t.Errorf("ExecuteWithResult = (%q, %v)", got, err)
	}

	tripOpen(t, cb)
	got, err = ExecuteWithResult(context.Background(), cb, func() (string, error) {
		return "late", nil
	})
	if !errors.Is(err, ErrOpen) || got != "" {
		t.Errorf("Expected rejection, got (%q, %v)", got, err)
	}
}

func TestCircuitBreaker_OnStateChange_Callback(t *testing.T) {
	cb, clock := newTestBreaker(smallConfig())

	changes := make(chan State, 8)
	cb.OnStateChange(func(from, to State) { changes <- to })

	tripOpen(t, cb)
	clock.Advance(time.Second)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return nil })
	}

	seen := map[State]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case s := <-changes:
			seen[s] = true
		case <-timeout:
			t.Fatalf("Expected open, half-open and closed transitions, saw %v", seen)
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(smallConfig())
	tripOpen(t, cb)

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed after reset, got: %v", cb.GetState())
	}
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("Expected no error after reset, got: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestGroup_IsolatesKeys(t *testing.T) {
	g := NewGroup(smallConfig())

	var mu sync.Mutex
	opened := map[string]bool{}
	done := make(chan struct{}, 1)
	g.OnStateChange(func(key string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		if to == StateOpen {
			opened[key] = true
			done <- struct{}{}
		}
	})

	for i := 0; i < 2; i++ {
		_ = g.Execute(context.Background(), "bad.example", func() error { return errTestError })
	}
	if err := g.Execute(context.Background(), "good.example", func() error { return nil }); err != nil {
		t.Errorf("Healthy host rejected: %v", err)
	}

	if g.Get("bad.example") != g.Get("bad.example") {
		t.Error("Get must return the same breaker for a key")
	}

	states := g.States()
	if states["bad.example"] != StateOpen || states["good.example"] != StateClosed {
		t.Errorf("Unexpected states: %v", states)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state change callback not called")
	}
	mu.Lock()
	defer mu.Unlock()
	if !opened["bad.example"] {
		t.Errorf("Expected callback for bad.example, got %v", opened)
	}
}
