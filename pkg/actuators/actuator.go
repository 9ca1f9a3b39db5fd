// Package actuators applies desired capacity to the system being scaled.
//
// An Actuator reports the capacity currently in effect and sets a new one.
// ECSActuator drives the desired count of an ECS service; MemoryActuator
// keeps capacity in process for dry runs and tests.
package actuators

import (
	"context"
	"fmt"
	"sync"
)

// Actuator reads and sets the capacity of one scalable target.
type Actuator interface {
	// Name identifies the actuator in logs and metrics.
	Name() string
	// Current returns the capacity currently in effect.
	Current(ctx context.Context) (int, error)
	// Apply sets the capacity to desired.
	Apply(ctx context.Context, desired int) error
}

// MemoryActuator holds capacity in memory. Safe for concurrent use.
type MemoryActuator struct {
	mu       sync.Mutex
	capacity int
	applied  int
}

// NewMemoryActuator returns an actuator starting at initial capacity.
func NewMemoryActuator(initial int) *MemoryActuator {
	return &MemoryActuator{capacity: initial}
}

func (m *MemoryActuator) Name() string { return "memory" }

func (m *MemoryActuator) Current(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity, nil
}

func (m *MemoryActuator) Apply(ctx context.Context, desired int) error {
	if desired < 0 {
		return fmt.Errorf("negative capacity %d", desired)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = desired
	m.applied++
	return nil
}

// Applied returns how many times Apply succeeded.
func (m *MemoryActuator) Applied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}
