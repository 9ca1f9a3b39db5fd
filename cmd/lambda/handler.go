package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aws/aws-lambda-go/events"

	"github.com/HatiCode/stepscaler/cmd/scaler/wiring"
	"github.com/HatiCode/stepscaler/pkg/storage"
)

// BuildFunc creates the scaler on the first invocation.
type BuildFunc func(ctx context.Context) (*wiring.Scaler, error)

// Handler keeps the scaler alive across warm invocations so the cooldown
// guard and store connection are reused.
type Handler struct {
	build  BuildFunc
	logger *slog.Logger

	mu     sync.Mutex
	scaler *wiring.Scaler
}

func NewHandler(build BuildFunc, logger *slog.Logger) *Handler {
	return &Handler{build: build, logger: logger}
}

// Handle runs a single tick. A failed build is retried on the next invocation.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (storage.Decision, error) {
	s, err := h.get(ctx)
	if err != nil {
		h.logger.Error("failed to initialize scaler", "error", err)
		return storage.Decision{}, err
	}

	h.logger.Debug("scheduled invocation", "id", event.ID, "time", event.Time)
	d, err := s.Controller.Tick(ctx)
	if err != nil {
		return storage.Decision{}, err
	}
	h.logger.Info("tick complete",
		"metric_value", d.MetricValue,
		"current", d.CurrentCapacity,
		"desired", d.DesiredCapacity,
		"applied", d.Applied,
		"suppressed", d.Suppressed,
	)
	return d, nil
}

func (h *Handler) get(ctx context.Context) (*wiring.Scaler, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scaler != nil {
		return h.scaler, nil
	}
	s, err := h.build(ctx)
	if err != nil {
		return nil, err
	}
	h.scaler = s
	return s, nil
}
