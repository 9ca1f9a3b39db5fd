// Package stepscaling converts a monitored metric (for example queue depth)
// into a desired worker count using a step-scaling policy: a table of
// disjoint metric intervals, each carrying a capacity adjustment.
//
// A Policy is validated once by NewPolicy and is immutable afterwards, so it
// can be evaluated concurrently. Cooldown between capacity changes is handled
// by Guard, the only stateful piece of the package.
package stepscaling

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrInvalidPolicy is returned (wrapped) for every configuration problem
// detected by NewPolicy and NormalizeSteps.
var ErrInvalidPolicy = errors.New("invalid scaling policy")

// AdjustmentType controls how a step's Change is applied to the current capacity.
type AdjustmentType string

const (
	// ChangeInCapacity adds Change to the current capacity.
	ChangeInCapacity AdjustmentType = "ChangeInCapacity"
	// ExactCapacity sets the capacity to Change.
	ExactCapacity AdjustmentType = "ExactCapacity"
	// PercentChangeInCapacity adds Change percent of the current capacity.
	PercentChangeInCapacity AdjustmentType = "PercentChangeInCapacity"
)

// ParseAdjustmentType accepts the Go names as well as the CDK constant
// spellings (CHANGE_IN_CAPACITY, EXACT_CAPACITY, PERCENT_CHANGE_IN_CAPACITY).
func ParseAdjustmentType(s string) (AdjustmentType, error) {
	switch s {
	case "", string(ChangeInCapacity), "CHANGE_IN_CAPACITY", "relative":
		return ChangeInCapacity, nil
	case string(ExactCapacity), "EXACT_CAPACITY", "absolute":
		return ExactCapacity, nil
	case string(PercentChangeInCapacity), "PERCENT_CHANGE_IN_CAPACITY", "percent":
		return PercentChangeInCapacity, nil
	default:
		return "", fmt.Errorf("%w: unknown adjustment type %q", ErrInvalidPolicy, s)
	}
}

// Step is one validated interval of the metric, [Lower, Upper).
// Lower is -Inf for an open lower end, Upper is +Inf for an open upper end.
type Step struct {
	Lower  float64
	Upper  float64
	Change int
}

// Contains reports whether v falls in [Lower, Upper).
func (s Step) Contains(v float64) bool {
	return v >= s.Lower && v < s.Upper
}

func (s Step) String() string {
	return fmt.Sprintf("[%s,%s):%+d", formatBound(s.Lower), formatBound(s.Upper), s.Change)
}

// StepConfig is the configuration form of a step. A nil bound is unbounded.
type StepConfig struct {
	Lower  *float64 `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper  *float64 `json:"upper,omitempty" yaml:"upper,omitempty"`
	Change int      `json:"change" yaml:"change"`
}

// PolicyConfig is the raw, unvalidated description of a step-scaling policy.
type PolicyConfig struct {
	Steps       []StepConfig
	Cooldown    time.Duration
	MinCapacity int
	MaxCapacity int

	// AdjustmentType defaults to ChangeInCapacity when empty.
	AdjustmentType AdjustmentType

	// MinAdjustmentMagnitude is the smallest absolute change applied by a
	// PercentChangeInCapacity policy. Ignored by the other adjustment types.
	MinAdjustmentMagnitude int
}

// Policy is a validated step-scaling policy. The zero value is not usable;
// build one with NewPolicy.
type Policy struct {
	steps        []Step
	cooldown     time.Duration
	minCapacity  int
	maxCapacity  int
	adjustment   AdjustmentType
	minMagnitude int
}

// NewPolicy validates cfg and returns an immutable Policy.
//
// Steps are sorted by lower bound and must tile the metric domain without
// gaps or overlaps. Only the first step may leave Lower unset and only the
// last may leave Upper unset; bounded ends are allowed and values beyond them
// resolve to the boundary step at evaluation time.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	adj := cfg.AdjustmentType
	if adj == "" {
		adj = ChangeInCapacity
	}
	if _, err := ParseAdjustmentType(string(adj)); err != nil {
		return nil, err
	}
	if cfg.MinCapacity < 0 {
		return nil, fmt.Errorf("%w: minCapacity %d is negative", ErrInvalidPolicy, cfg.MinCapacity)
	}
	if cfg.MinCapacity > cfg.MaxCapacity {
		return nil, fmt.Errorf("%w: minCapacity %d > maxCapacity %d", ErrInvalidPolicy, cfg.MinCapacity, cfg.MaxCapacity)
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("%w: cooldown %s is negative", ErrInvalidPolicy, cfg.Cooldown)
	}
	if cfg.MinAdjustmentMagnitude < 0 {
		return nil, fmt.Errorf("%w: minAdjustmentMagnitude %d is negative", ErrInvalidPolicy, cfg.MinAdjustmentMagnitude)
	}

	steps, err := buildSteps(cfg.Steps)
	if err != nil {
		return nil, err
	}
	if adj == ExactCapacity {
		for _, s := range steps {
			if s.Change < 0 {
				return nil, fmt.Errorf("%w: step %s sets a negative exact capacity", ErrInvalidPolicy, s)
			}
		}
	}

	return &Policy{
		steps:        steps,
		cooldown:     cfg.Cooldown,
		minCapacity:  cfg.MinCapacity,
		maxCapacity:  cfg.MaxCapacity,
		adjustment:   adj,
		minMagnitude: cfg.MinAdjustmentMagnitude,
	}, nil
}

func buildSteps(cfgs []StepConfig) ([]Step, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%w: no scaling steps", ErrInvalidPolicy)
	}

	steps := make([]Step, len(cfgs))
	for i, c := range cfgs {
		s := Step{Lower: math.Inf(-1), Upper: math.Inf(1), Change: c.Change}
		if c.Lower != nil {
			s.Lower = *c.Lower
		}
		if c.Upper != nil {
			s.Upper = *c.Upper
		}
		if math.IsNaN(s.Lower) || math.IsNaN(s.Upper) {
			return nil, fmt.Errorf("%w: step %d has a NaN bound", ErrInvalidPolicy, i)
		}
		if s.Lower >= s.Upper {
			return nil, fmt.Errorf("%w: step %d has lower %s >= upper %s", ErrInvalidPolicy, i, formatBound(s.Lower), formatBound(s.Upper))
		}
		steps[i] = s
	}

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Lower < steps[j].Lower })

	for i := 0; i < len(steps)-1; i++ {
		cur, next := steps[i], steps[i+1]
		switch {
		case cur.Upper > next.Lower:
			return nil, fmt.Errorf("%w: steps %s and %s overlap", ErrInvalidPolicy, cur, next)
		case cur.Upper < next.Lower:
			return nil, fmt.Errorf("%w: step set does not cover full metric domain: gap between %s and %s",
				ErrInvalidPolicy, formatBound(cur.Upper), formatBound(next.Lower))
		}
	}
	return steps, nil
}

// Steps returns a copy of the validated steps, sorted by lower bound.
func (p *Policy) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

func (p *Policy) Cooldown() time.Duration        { return p.cooldown }
func (p *Policy) MinCapacity() int               { return p.minCapacity }
func (p *Policy) MaxCapacity() int               { return p.maxCapacity }
func (p *Policy) AdjustmentType() AdjustmentType { return p.adjustment }
func (p *Policy) MinAdjustmentMagnitude() int    { return p.minMagnitude }

// Config returns a PolicyConfig that rebuilds an equivalent Policy.
func (p *Policy) Config() PolicyConfig {
	cfgs := make([]StepConfig, len(p.steps))
	for i, s := range p.steps {
		c := StepConfig{Change: s.Change}
		if !math.IsInf(s.Lower, -1) {
			lo := s.Lower
			c.Lower = &lo
		}
		if !math.IsInf(s.Upper, 1) {
			hi := s.Upper
			c.Upper = &hi
		}
		cfgs[i] = c
	}
	return PolicyConfig{
		Steps:                  cfgs,
		Cooldown:               p.cooldown,
		MinCapacity:            p.minCapacity,
		MaxCapacity:            p.maxCapacity,
		AdjustmentType:         p.adjustment,
		MinAdjustmentMagnitude: p.minMagnitude,
	}
}

// StepFor returns the step whose interval contains value. Values below the
// first step resolve to it, values at or above the last step's upper bound
// resolve to the last step. NaN resolves to the first step.
func (p *Policy) StepFor(value float64) Step {
	return p.steps[p.stepIndex(value)]
}

func (p *Policy) stepIndex(value float64) int {
	if math.IsNaN(value) {
		return 0
	}
	// first step whose upper bound lies above value
	i := sort.Search(len(p.steps), func(i int) bool { return p.steps[i].Upper > value })
	if i == len(p.steps) {
		return len(p.steps) - 1
	}
	return i
}

// Decision is the outcome of a single evaluation.
type Decision struct {
	MetricValue     float64
	CurrentCapacity int
	DesiredCapacity int
	Step            Step

	// Suppressed is true when a cooldown guard returned the current capacity
	// without evaluating the policy. Step is zero in that case.
	Suppressed bool
}

// Changed reports whether the decision asks for a different capacity.
func (d Decision) Changed() bool {
	return d.DesiredCapacity != d.CurrentCapacity
}

// Evaluate returns the desired capacity for metricValue given the current
// capacity. The result is always within [MinCapacity, MaxCapacity].
func (p *Policy) Evaluate(metricValue float64, currentCapacity int) int {
	return p.Decide(metricValue, currentCapacity).DesiredCapacity
}

// Decide is Evaluate that also reports the matched step.
func (p *Policy) Decide(metricValue float64, currentCapacity int) Decision {
	step := p.StepFor(metricValue)

	var desired int
	switch p.adjustment {
	case ExactCapacity:
		desired = step.Change
	case PercentChangeInCapacity:
		desired = currentCapacity + percentChange(currentCapacity, step.Change, p.minMagnitude)
	default:
		desired = currentCapacity + step.Change
	}

	return Decision{
		MetricValue:     metricValue,
		CurrentCapacity: currentCapacity,
		DesiredCapacity: clampBounds(desired, p.minCapacity, p.maxCapacity),
		Step:            step,
	}
}

// percentChange follows the Application Auto Scaling rounding rules: the raw
// change is truncated toward zero, except that magnitudes between 0 and 1 are
// rounded away from zero to 1.
func percentChange(current, pct, minMagnitude int) int {
	if pct == 0 {
		return 0
	}
	raw := float64(current) * float64(pct) / 100
	var delta int
	switch {
	case raw > 0 && raw < 1:
		delta = 1
	case raw < 0 && raw > -1:
		delta = -1
	default:
		delta = int(raw) // truncates toward zero
	}
	if minMagnitude > 0 && abs(delta) < minMagnitude {
		if pct < 0 {
			delta = -minMagnitude
		} else {
			delta = minMagnitude
		}
	}
	return delta
}

func clampBounds(x, lo, hi int) int {
	if x > hi {
		return hi
	}
	if x < lo {
		return lo
	}
	return x
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func formatBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	default:
		return fmt.Sprintf("%g", v)
	}
}
