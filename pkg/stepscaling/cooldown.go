package stepscaling

import (
	"sync"
	"time"
)

// Guard applies a Policy's cooldown: after a capacity change, further
// changes are suppressed until the cooldown has elapsed.
//
// Guard is safe for concurrent use. Calls to Decide are serialized so two
// monitoring ticks cannot both apply a step inside the same window.
type Guard struct {
	policy *Policy
	now    func() time.Time

	mu         sync.Mutex
	lastChange time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		g.now = now
	}
}

// NewGuard wraps policy with a cooldown guard.
func NewGuard(policy *Policy, opts ...GuardOption) *Guard {
	g := &Guard{
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the wrapped policy.
func (g *Guard) Policy() *Policy {
	return g.policy
}

// Decide evaluates the policy unless a previous change happened less than
// the cooldown ago, in which case it returns the current capacity with
// Suppressed set. A decision that changes capacity starts a new window.
func (g *Guard) Decide(metricValue float64, currentCapacity int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.inCooldown(now) {
		return Decision{
			MetricValue:     metricValue,
			CurrentCapacity: currentCapacity,
			DesiredCapacity: currentCapacity,
			Suppressed:      true,
		}
	}

	d := g.policy.Decide(metricValue, currentCapacity)
	if d.Changed() {
		g.lastChange = now
	}
	return d
}

// Evaluate is Decide returning only the desired capacity.
func (g *Guard) Evaluate(metricValue float64, currentCapacity int) int {
	return g.Decide(metricValue, currentCapacity).DesiredCapacity
}

// InCooldown reports whether a change now would be suppressed.
func (g *Guard) InCooldown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inCooldown(g.now())
}

// Remaining returns how long the current cooldown window still lasts.
func (g *Guard) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastChange.IsZero() {
		return 0
	}
	left := g.policy.cooldown - g.now().Sub(g.lastChange)
	if left < 0 {
		return 0
	}
	return left
}

// LastChange returns the time of the last recorded capacity change, or the
// zero time if there was none.
func (g *Guard) LastChange() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastChange
}

// Restore seeds the last change time, e.g. from a persisted decision after a
// restart. Only moves the timestamp forward.
func (g *Guard) Restore(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.After(g.lastChange) {
		g.lastChange = t
	}
}

// Reset sets the last change time to t unconditionally. The zero time clears
// the cooldown. Used to roll back a change that could not be applied.
func (g *Guard) Reset(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastChange = t
}

func (g *Guard) inCooldown(now time.Time) bool {
	if g.lastChange.IsZero() || g.policy.cooldown <= 0 {
		return false
	}
	return now.Sub(g.lastChange) < g.policy.cooldown
}
