package stepscaling

import (
	"fmt"
	"math"
	"sort"
)

// NormalizeSteps expands the shorthand used by CDK step-scaling tables, where
// each step names only a lower or only an upper bound:
//
//	{upper: 1, change: -1}, {lower: 2, change: +1}, {lower: 4, change: +2}
//
// A missing upper bound is taken from the next step's lower bound and a
// missing lower bound from the previous step's upper bound. Gaps left between
// explicit bounds become zero-change steps. The result still has to pass
// NewPolicy; in particular overlapping steps are not repaired.
//
// Gaps cannot be filled for ExactCapacity, where a zero change means "scale
// to zero", so adj == ExactCapacity turns a gap into an error.
func NormalizeSteps(steps []StepConfig, adj AdjustmentType) ([]StepConfig, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no scaling steps", ErrInvalidPolicy)
	}

	sorted := make([]StepConfig, len(steps))
	for i, s := range steps {
		if len(steps) > 1 && s.Lower == nil && s.Upper == nil {
			return nil, fmt.Errorf("%w: step %d has neither lower nor upper bound", ErrInvalidPolicy, i)
		}
		sorted[i] = StepConfig{Lower: copyBound(s.Lower), Upper: copyBound(s.Upper), Change: s.Change}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return anchor(sorted[i]) < anchor(sorted[j]) })

	n := len(sorted)
	for i := 0; i < n-1; i++ {
		if sorted[i].Upper == nil && sorted[i+1].Lower != nil {
			sorted[i].Upper = copyBound(sorted[i+1].Lower)
		}
	}
	for i := 1; i < n; i++ {
		if sorted[i].Lower == nil && sorted[i-1].Upper != nil {
			sorted[i].Lower = copyBound(sorted[i-1].Upper)
		}
	}
	for i := 0; i < n; i++ {
		if i > 0 && sorted[i].Lower == nil {
			return nil, fmt.Errorf("%w: cannot infer lower bound of step %d", ErrInvalidPolicy, i)
		}
		if i < n-1 && sorted[i].Upper == nil {
			return nil, fmt.Errorf("%w: cannot infer upper bound of step %d", ErrInvalidPolicy, i)
		}
	}

	out := make([]StepConfig, 0, n)
	for i, s := range sorted {
		if i > 0 {
			prevUpper := *sorted[i-1].Upper
			if prevUpper < *s.Lower {
				if adj == ExactCapacity {
					return nil, fmt.Errorf("%w: step set does not cover full metric domain: gap between %g and %g",
						ErrInvalidPolicy, prevUpper, *s.Lower)
				}
				out = append(out, StepConfig{Lower: copyBound(&prevUpper), Upper: copyBound(s.Lower)})
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Float returns a pointer to v, for building StepConfig literals.
func Float(v float64) *float64 {
	return &v
}

func anchor(s StepConfig) float64 {
	switch {
	case s.Lower != nil:
		return *s.Lower
	case s.Upper != nil:
		return *s.Upper
	default:
		return math.Inf(-1)
	}
}

func copyBound(b *float64) *float64 {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
