package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/HatiCode/stepscaler/pkg/actuators"
	"github.com/HatiCode/stepscaler/pkg/adapters"
	"github.com/HatiCode/stepscaler/pkg/stepscaling"
	"github.com/HatiCode/stepscaler/pkg/storage"
)

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

type fakeAdapter struct {
	clock *fakeClock
	value float64
	age   time.Duration
	err   error
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) Collect(ctx context.Context, windowSeconds int) (*adapters.DataFrame, error) {
	if a.err != nil {
		return nil, a.err
	}
	ts := a.clock.Now().Add(-a.age)
	return &adapters.DataFrame{Rows: []adapters.Row{
		{"ts": ts.Add(-time.Minute).Format(time.RFC3339), "value": 0.0},
		{"ts": ts.Format(time.RFC3339), "value": a.value},
	}}, nil
}

type failingActuator struct {
	*actuators.MemoryActuator
	fail bool
}

func (a *failingActuator) Apply(ctx context.Context, desired int) error {
	if a.fail {
		return errors.New("service update rejected")
	}
	return a.MemoryActuator.Apply(ctx, desired)
}

type fakeRecorder struct {
	mu        sync.Mutex
	ticks     int
	errors    map[string]int
	decisions []stepscaling.Decision
}

func (r *fakeRecorder) ObserveTick(float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
}

func (r *fakeRecorder) RecordTickError(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errors == nil {
		r.errors = map[string]int{}
	}
	r.errors[stage]++
}

func (r *fakeRecorder) RecordDecision(d stepscaling.Decision, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

type harness struct {
	ctl      *Controller
	clock    *fakeClock
	adapter  *fakeAdapter
	actuator *failingActuator
	store    *storage.MemoryStore
	recorder *fakeRecorder
}

func newHarness(t *testing.T, initial int) *harness {
	t.Helper()
	policy, err := stepscaling.NewPolicy(stepscaling.PolicyConfig{
		Steps: []stepscaling.StepConfig{
			{Upper: stepscaling.Float(1), Change: -1},
			{Lower: stepscaling.Float(1), Upper: stepscaling.Float(2), Change: 0},
			{Lower: stepscaling.Float(2), Upper: stepscaling.Float(4), Change: 2},
			{Lower: stepscaling.Float(4), Upper: stepscaling.Float(8), Change: 4},
			{Lower: stepscaling.Float(8), Change: 10},
		},
		Cooldown:    10 * time.Second,
		MinCapacity: 1,
		MaxCapacity: 20,
	})
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}

	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		clock:    clock,
		adapter:  &fakeAdapter{clock: clock},
		actuator: &failingActuator{MemoryActuator: actuators.NewMemoryActuator(initial)},
		store:    storage.NewMemoryStore(),
		recorder: &fakeRecorder{},
	}
	guard := stepscaling.NewGuard(policy, stepscaling.WithClock(clock.Now))
	h.ctl = New(
		Config{Service: "fhr", Metric: "queue_depth", Window: time.Minute, MaxSampleAge: 5 * time.Minute},
		h.adapter, h.actuator, guard, h.store, h.recorder,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	h.ctl.now = clock.Now
	return h
}

func (h *harness) capacity(t *testing.T) int {
	t.Helper()
	c, err := h.actuator.Current(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestTick_AppliesStep(t *testing.T) {
	h := newHarness(t, 5)
	h.adapter.value = 3

	rec, err := h.ctl.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if h.capacity(t) != 7 {
		t.Errorf("capacity = %d, want 7", h.capacity(t))
	}
	if !rec.Applied || rec.DesiredCapacity != 7 || rec.CurrentCapacity != 5 {
		t.Errorf("decision = %+v", rec)
	}
	if rec.StepLower == nil || *rec.StepLower != 2 || rec.StepUpper == nil || *rec.StepUpper != 4 {
		t.Errorf("step bounds = %v, %v", rec.StepLower, rec.StepUpper)
	}

	latest, ok, _ := h.store.GetLatest(context.Background(), "fhr")
	if !ok || latest.DesiredCapacity != 7 {
		t.Errorf("stored decision = %+v, %v", latest, ok)
	}
	if h.recorder.ticks != 1 || len(h.recorder.decisions) != 1 {
		t.Errorf("recorder = %d ticks, %d decisions", h.recorder.ticks, len(h.recorder.decisions))
	}
}

func TestTick_CooldownSuppresses(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	h.adapter.value = 3
	if _, err := h.ctl.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(5 * time.Second)
	h.adapter.value = 25
	rec, err := h.ctl.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Suppressed || rec.Applied || h.capacity(t) != 7 {
		t.Errorf("decision in cooldown = %+v, capacity %d", rec, h.capacity(t))
	}

	h.clock.Advance(5 * time.Second)
	rec, err = h.ctl.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Suppressed || h.capacity(t) != 17 {
		t.Errorf("decision after cooldown = %+v, capacity %d", rec, h.capacity(t))
	}

	// The last change is the most recent applied decision, not the suppressed one.
	change, _, _ := h.store.GetLastChange(ctx, "fhr")
	if change.DesiredCapacity != 17 {
		t.Errorf("last change = %+v", change)
	}
}

func TestTick_ApplyFailureRollsBackCooldown(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	h.adapter.value = 3
	h.actuator.fail = true

	if _, err := h.ctl.Tick(ctx); err == nil {
		t.Fatal("expected apply error")
	}
	if h.ctl.Guard().InCooldown() {
		t.Error("guard in cooldown after failed apply")
	}
	if h.recorder.errors["apply"] != 1 {
		t.Errorf("apply errors = %d, want 1", h.recorder.errors["apply"])
	}
	if _, ok, _ := h.store.GetLatest(ctx, "fhr"); ok {
		t.Error("failed tick stored a decision")
	}

	h.actuator.fail = false
	if _, err := h.ctl.Tick(ctx); err != nil {
		t.Fatalf("retry Tick() error = %v", err)
	}
	if h.capacity(t) != 7 {
		t.Errorf("capacity after retry = %d, want 7", h.capacity(t))
	}
}

func TestTick_NoChangeIsNotApplied(t *testing.T) {
	h := newHarness(t, 5)
	h.adapter.value = 1.5

	rec, err := h.ctl.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Applied || h.actuator.Applied() != 0 {
		t.Errorf("no-op decision applied: %+v", rec)
	}
	if h.ctl.Guard().InCooldown() {
		t.Error("no-op decision started a cooldown")
	}
}

func TestTick_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*harness)
		stage string
	}{
		{"adapter error", func(h *harness) { h.adapter.err = errors.New("prometheus down") }, "collect"},
		{"stale sample", func(h *harness) { h.adapter.age = 10 * time.Minute }, "collect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 5)
			h.adapter.value = 3
			tt.setup(h)

			if _, err := h.ctl.Tick(context.Background()); err == nil {
				t.Fatal("expected error")
			}
			if h.recorder.errors[tt.stage] != 1 {
				t.Errorf("errors = %v, want one %q", h.recorder.errors, tt.stage)
			}
			if h.capacity(t) != 5 {
				t.Errorf("capacity changed to %d", h.capacity(t))
			}
		})
	}

	h := newHarness(t, 5)
	h.adapter.age = 10 * time.Minute
	if _, err := h.ctl.Tick(context.Background()); !errors.Is(err, ErrStaleSample) {
		t.Errorf("error = %v, want ErrStaleSample", err)
	}
}

func TestRestore(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	last := h.clock.Now().Add(-3 * time.Second)
	if err := h.store.Put(ctx, storage.Decision{
		Service: "fhr", CurrentCapacity: 3, DesiredCapacity: 5, Applied: true, Timestamp: last,
	}); err != nil {
		t.Fatal(err)
	}

	if err := h.ctl.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !h.ctl.Guard().LastChange().Equal(last) {
		t.Errorf("LastChange() = %v, want %v", h.ctl.Guard().LastChange(), last)
	}

	h.adapter.value = 25
	rec, err := h.ctl.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Suppressed {
		t.Error("decision after restore should be suppressed")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, 5)
	h.adapter.value = 3

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctl.Run(ctx, time.Hour) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok, _ := h.store.GetLatest(context.Background(), "fhr"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first tick did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
