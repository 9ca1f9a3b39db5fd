// Package storage keeps the history of scaling decisions.
//
// The scaler records every evaluated decision so operators can inspect the
// latest one over HTTP and so the cooldown window survives restarts: on
// startup the controller seeds its guard from GetLastChange.
//
// Backends:
//
//   - MemoryStore: in process, lost on restart. Default.
//   - RedisStore: JSON values with a TTL, shared across replicas.
//   - PostgresStore: a scaling_decisions table, full history.
package storage

import (
	"context"
	"time"
)

// Decision is one evaluation of the step-scaling policy for a service.
type Decision struct {
	Service         string    `json:"service"`
	Metric          string    `json:"metric"`
	MetricValue     float64   `json:"metricValue"`
	CurrentCapacity int       `json:"currentCapacity"`
	DesiredCapacity int       `json:"desiredCapacity"`
	StepLower       *float64  `json:"stepLower,omitempty"`
	StepUpper       *float64  `json:"stepUpper,omitempty"`
	StepChange      int       `json:"stepChange"`
	Suppressed      bool      `json:"suppressed"`
	Applied         bool      `json:"applied"`
	Timestamp       time.Time `json:"timestamp"`
}

// Changed reports whether the decision moved capacity.
func (d Decision) Changed() bool {
	return d.Applied && d.DesiredCapacity != d.CurrentCapacity
}

// Store persists decisions per service.
type Store interface {
	Put(ctx context.Context, d Decision) error
	// GetLatest returns the most recent decision for service.
	GetLatest(ctx context.Context, service string) (Decision, bool, error)
	// GetLastChange returns the most recent decision that changed capacity.
	GetLastChange(ctx context.Context, service string) (Decision, bool, error)
}
