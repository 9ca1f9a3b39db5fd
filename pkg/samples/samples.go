// Package samples turns adapter DataFrames into timestamped metric samples,
// the values a scaling policy is evaluated against.
package samples

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/HatiCode/stepscaler/pkg/adapters"
)

// ErrNoSamples is returned when a frame holds no usable value.
var ErrNoSamples = errors.New("no metric samples")

// Sample is a single observation of the monitored metric, e.g. the
// approximate number of visible messages in a queue.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// FromDataFrame extracts samples from adapter rows of the form
// {"ts": <time>, "value": <number>}, sorted by timestamp.
//
// Rows without a numeric "value" are skipped. Rows whose "ts" is missing or
// unparseable keep a zero Timestamp and sort first.
func FromDataFrame(df adapters.DataFrame) ([]Sample, error) {
	if len(df.Rows) == 0 {
		return nil, fmt.Errorf("dataframe is empty: %w", ErrNoSamples)
	}

	out := make([]Sample, 0, len(df.Rows))
	for _, row := range df.Rows {
		valueRaw, hasValue := row["value"]
		if !hasValue {
			continue
		}
		value, ok := toFloat64(valueRaw)
		if !ok {
			continue
		}

		s := Sample{Value: value}
		if tsRaw, hasTs := row["ts"]; hasTs {
			if ts, err := parseTimestamp(tsRaw); err == nil {
				s.Timestamp = ts
			}
		}
		out = append(out, s)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no valid rows with 'value' field: %w", ErrNoSamples)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Latest returns the most recent sample with a finite value.
// NaN and infinite values, which CloudWatch and Prometheus both emit for
// missing data, are skipped in favour of the previous valid point.
func Latest(df adapters.DataFrame) (Sample, error) {
	all, err := FromDataFrame(df)
	if err != nil {
		return Sample{}, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if !math.IsNaN(all[i].Value) && !math.IsInf(all[i].Value, 0) {
			return all[i], nil
		}
	}
	return Sample{}, fmt.Errorf("only non-finite values: %w", ErrNoSamples)
}

// Age returns how old s is relative to now. A zero timestamp is treated as
// fresh, since single-shot sources (SQS attributes) carry no sample time.
func Age(s Sample, now time.Time) time.Duration {
	if s.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(s.Timestamp)
}

// toFloat64 attempts to convert any numeric type to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	default:
		return 0, false
	}
}

// parseTimestamp accepts RFC3339 strings, Unix seconds and time.Time.
func parseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, val)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp string: %w", err)
		}
		return t, nil

	case float64:
		return time.Unix(int64(val), 0), nil

	case int:
		return time.Unix(int64(val), 0), nil

	case int64:
		return time.Unix(val, 0), nil

	case time.Time:
		return val, nil

	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type: %T", v)
	}
}
