// Package controller runs the scaling loop: collect the metric, evaluate the
// step-scaling policy behind its cooldown guard, apply the new capacity and
// record the decision.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/HatiCode/stepscaler/pkg/actuators"
	"github.com/HatiCode/stepscaler/pkg/adapters"
	"github.com/HatiCode/stepscaler/pkg/samples"
	"github.com/HatiCode/stepscaler/pkg/stepscaling"
	"github.com/HatiCode/stepscaler/pkg/storage"
)

// ErrStaleSample is returned by Tick when the newest sample is older than
// Config.MaxSampleAge.
var ErrStaleSample = errors.New("latest sample is stale")

// Recorder receives per-tick observations. The scaler backs it with
// Prometheus; a nil Recorder disables recording.
type Recorder interface {
	ObserveTick(seconds float64)
	RecordTickError(stage string)
	RecordDecision(d stepscaling.Decision, applied bool)
}

// Config holds the identity and timing of one controlled service.
type Config struct {
	Service string
	Metric  string

	// Window is passed to the adapter as the collection window.
	Window time.Duration
	// MaxSampleAge rejects samples older than this. Zero disables the check.
	MaxSampleAge time.Duration
}

// Controller drives one service. Tick calls are serialized.
type Controller struct {
	cfg      Config
	adapter  adapters.Adapter
	actuator actuators.Actuator
	guard    *stepscaling.Guard
	store    storage.Store
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// New creates a Controller. recorder may be nil.
func New(
	cfg Config,
	adapter adapters.Adapter,
	actuator actuators.Actuator,
	guard *stepscaling.Guard,
	store storage.Store,
	recorder Recorder,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		adapter:  adapter,
		actuator: actuator,
		guard:    guard,
		store:    store,
		recorder: recorder,
		logger:   logger.With("service", cfg.Service),
		now:      time.Now,
	}
}

// Restore seeds the cooldown guard from the last recorded capacity change so
// a restart does not reopen the window early.
func (c *Controller) Restore(ctx context.Context) error {
	d, ok, err := c.store.GetLastChange(ctx, c.cfg.Service)
	if err != nil {
		return fmt.Errorf("load last change: %w", err)
	}
	if !ok {
		c.logger.Debug("no previous capacity change to restore")
		return nil
	}
	c.guard.Restore(d.Timestamp)
	c.logger.Info("restored cooldown state",
		"last_change", d.Timestamp,
		"remaining", c.guard.Remaining(),
	)
	return nil
}

// Run ticks every interval until ctx is cancelled. Tick errors are logged and
// do not stop the loop.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	c.logger.Info("starting scaling loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := c.Tick(ctx); err != nil {
		c.logger.Error("scaling tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("scaling loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Tick(ctx); err != nil {
				c.logger.Error("scaling tick failed", "error", err)
			}
		}
	}
}

// Tick performs one scaling cycle and returns the recorded decision.
func (c *Controller) Tick(ctx context.Context) (storage.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()

	sample, err := c.collect(ctx)
	if err != nil {
		c.recordError("collect")
		return storage.Decision{}, fmt.Errorf("collect: %w", err)
	}

	current, err := c.actuator.Current(ctx)
	if err != nil {
		c.recordError("current")
		return storage.Decision{}, fmt.Errorf("read capacity: %w", err)
	}

	prev := c.guard.LastChange()
	d := c.guard.Decide(sample.Value, current)

	applied := false
	if d.Changed() && !d.Suppressed {
		if err := c.actuator.Apply(ctx, d.DesiredCapacity); err != nil {
			// The change never happened; let the next tick retry.
			c.guard.Reset(prev)
			c.recordError("apply")
			return storage.Decision{}, fmt.Errorf("apply capacity %d via %s: %w", d.DesiredCapacity, c.actuator.Name(), err)
		}
		applied = true
	}

	ts := start
	if applied {
		ts = c.guard.LastChange()
	}
	rec := c.record(d, applied, ts)
	if c.recorder != nil {
		c.recorder.RecordDecision(d, applied)
	}

	if err := c.store.Put(ctx, rec); err != nil {
		c.recordError("store")
		return rec, fmt.Errorf("store: %w", err)
	}

	if c.recorder != nil {
		c.recorder.ObserveTick(c.now().Sub(start).Seconds())
	}

	c.logger.Info("scaling tick complete",
		"metric_value", d.MetricValue,
		"current", d.CurrentCapacity,
		"desired", d.DesiredCapacity,
		"step", c.guard.Policy().StepFor(sample.Value).String(),
		"suppressed", d.Suppressed,
		"applied", applied,
		"total_ms", c.now().Sub(start).Milliseconds(),
	)
	return rec, nil
}

func (c *Controller) collect(ctx context.Context) (samples.Sample, error) {
	df, err := c.adapter.Collect(ctx, int(c.cfg.Window.Seconds()))
	if err != nil {
		return samples.Sample{}, err
	}
	s, err := samples.Latest(*df)
	if err != nil {
		return samples.Sample{}, err
	}
	if c.cfg.MaxSampleAge > 0 {
		if age := samples.Age(s, c.now()); age > c.cfg.MaxSampleAge {
			return samples.Sample{}, fmt.Errorf("%w: %s old", ErrStaleSample, age.Round(time.Second))
		}
	}
	c.logger.Debug("collected metric",
		"adapter", c.adapter.Name(),
		"rows", len(df.Rows),
		"value", s.Value,
	)
	return s, nil
}

func (c *Controller) record(d stepscaling.Decision, applied bool, ts time.Time) storage.Decision {
	step := c.guard.Policy().StepFor(d.MetricValue)
	rec := storage.Decision{
		Service:         c.cfg.Service,
		Metric:          c.cfg.Metric,
		MetricValue:     d.MetricValue,
		CurrentCapacity: d.CurrentCapacity,
		DesiredCapacity: d.DesiredCapacity,
		StepChange:      step.Change,
		Suppressed:      d.Suppressed,
		Applied:         applied,
		Timestamp:       ts,
	}
	if !math.IsInf(step.Lower, -1) {
		lo := step.Lower
		rec.StepLower = &lo
	}
	if !math.IsInf(step.Upper, 1) {
		hi := step.Upper
		rec.StepUpper = &hi
	}
	return rec
}

func (c *Controller) recordError(stage string) {
	if c.recorder != nil {
		c.recorder.RecordTickError(stage)
	}
}

// Service returns the controlled service name.
func (c *Controller) Service() string { return c.cfg.Service }

// Guard returns the cooldown guard, for status endpoints.
func (c *Controller) Guard() *stepscaling.Guard { return c.guard }

// Store returns the decision store.
func (c *Controller) Store() storage.Store { return c.store }
