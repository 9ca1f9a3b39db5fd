package adapters

import (
	"context"
	"time"
)

// Row represents a single time-series observation.
// Example: {"ts": "2025-10-25T17:00:00Z", "value": 12}
type Row map[string]any

// DataFrame is a lightweight structure for tabular data returned by adapters.
// Each adapter collects data over a time window and returns it in this format.
type DataFrame struct {
	Rows []Row
}

// Adapter is the interface implemented by every metric source.
//
// Adapters fetch raw data from an external system (Prometheus, SQS,
// CloudWatch), shape it into a DataFrame and leave sample selection and
// policy evaluation to the upper layers.
//
// The Collect() call is synchronous and should respect context cancellation
// and deadlines.
type Adapter interface {
	// Collect fetches metric values for the last windowSeconds and returns
	// them as a DataFrame. Sources without history (queue attributes) return
	// a single row stamped with the collection time.
	Collect(ctx context.Context, windowSeconds int) (*DataFrame, error)

	// Name returns a short, unique identifier for the adapter.
	// Example: "prometheus", "sqs", "cloudwatch".
	Name() string
}

// AlignTimestamp truncates ts to a multiple of stepSec.
func AlignTimestamp(ts time.Time, stepSec int) time.Time {
	return ts.Truncate(time.Duration(stepSec) * time.Second)
}
