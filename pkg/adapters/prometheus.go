// Package adapters provides metric sources that retrieve the scaling metric
// (typically queue depth) from external systems and normalize it into a
// common DataFrame structure.
//
// Each adapter implements the Adapter interface:
//   - PrometheusAdapter: range queries against the Prometheus HTTP API
//   - SQSAdapter: reads queue attributes straight from SQS
//   - CloudWatchAdapter: reads the AWS/SQS metrics published to CloudWatch
//
// Adapters are intentionally lightweight. They focus on pulling raw data,
// shaping it into [DataFrame] objects, and leaving sample selection and
// policy evaluation to the upper layers.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// Series aggregation modes for PrometheusAdapter.
const (
	// AggregateSum adds series sharing a timestamp, e.g. one series per queue
	// of a worker pool.
	AggregateSum = "sum"
	// AggregateMax keeps the largest value, e.g. several exporter replicas
	// scraping the same queue.
	AggregateMax = "max"
)

// PrometheusAdapter reads queue depth from Prometheus, typically a gauge
// exported by an SQS or broker exporter such as
//
//	aws_sqs_approximate_number_of_messages_visible_average{queue_name="jobs"}
//
// It issues a /api/v1/query_range call over the collection window and
// returns rows of the form {"ts": RFC3339 string, "value": float64}. Series
// sharing a timestamp are combined according to Aggregate.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression yielding the queue depth.
	Query string
	// StepSeconds controls the resolution (defaults to 60s if <= 0).
	StepSeconds int
	// Aggregate is AggregateSum (default) or AggregateMax.
	Aggregate string
	// BearerToken is sent as an Authorization header when set (managed
	// Prometheus endpoints usually require one).
	BearerToken string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Collect implements Adapter. The window defaults to five steps.
func (p *PrometheusAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if p.ServerURL == "" || p.Query == "" {
		return &DataFrame{}, errors.New("prometheus adapter: ServerURL and Query are required")
	}
	combine, err := combiner(p.Aggregate)
	if err != nil {
		return &DataFrame{}, err
	}
	step := p.StepSeconds
	if step <= 0 {
		step = 60
	}
	if windowSeconds <= 0 {
		windowSeconds = 5 * step
	}
	end := time.Now().UTC().Truncate(time.Second)
	start := end.Add(-time.Duration(windowSeconds) * time.Second)

	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return &DataFrame{}, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u = u.JoinPath("/api/v1/query_range")
	u.RawQuery = url.Values{
		"query": {p.Query},
		"start": {strconv.FormatInt(start.Unix(), 10)},
		"end":   {strconv.FormatInt(end.Unix(), 10)},
		"step":  {strconv.Itoa(step)},
	}.Encode()

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &DataFrame{}, err
	}
	req.Header.Set("Accept", "application/json")
	if p.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.BearerToken)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return &DataFrame{}, fmt.Errorf("query queue depth: %w", err)
	}
	defer resp.Body.Close()

	var pr rangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &DataFrame{}, fmt.Errorf("prometheus: status %d", resp.StatusCode)
		}
		return &DataFrame{}, fmt.Errorf("decode prometheus response: %w", err)
	}
	if pr.Status != "success" {
		return &DataFrame{}, fmt.Errorf("prometheus: status %d: %s: %s", resp.StatusCode, pr.ErrorType, pr.Error)
	}
	if pr.Data.ResultType != "" && pr.Data.ResultType != "matrix" {
		return &DataFrame{}, fmt.Errorf("prometheus: unexpected result type %q", pr.Data.ResultType)
	}

	depth := make(map[int64]float64)
	for _, series := range pr.Data.Result {
		for _, pair := range series.Values {
			ts, v, err := parsePair(pair)
			if err != nil {
				return &DataFrame{}, fmt.Errorf("series %v: %w", series.Metric, err)
			}
			if prev, ok := depth[ts]; ok {
				v = combine(prev, v)
			}
			depth[ts] = v
		}
	}

	stamps := make([]int64, 0, len(depth))
	for ts := range depth {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	rows := make([]Row, 0, len(stamps))
	for _, ts := range stamps {
		rows = append(rows, Row{
			"ts":    time.Unix(ts, 0).UTC().Format(time.RFC3339),
			"value": depth[ts],
		})
	}
	return &DataFrame{Rows: rows}, nil
}

func combiner(mode string) (func(a, b float64) float64, error) {
	switch mode {
	case "", AggregateSum:
		return func(a, b float64) float64 { return a + b }, nil
	case AggregateMax:
		return math.Max, nil
	default:
		return nil, fmt.Errorf("prometheus adapter: unknown aggregate %q", mode)
	}
}

type rangeResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Values []samplePair      `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// samplePair is Prometheus' [ <unix seconds>, "<value>" ] encoding.
type samplePair [2]json.RawMessage

func parsePair(p samplePair) (int64, float64, error) {
	var ts float64
	if err := json.Unmarshal(p[0], &ts); err != nil {
		return 0, 0, fmt.Errorf("parse timestamp %s: %w", p[0], err)
	}
	var raw string
	if err := json.Unmarshal(p[1], &raw); err != nil {
		// Some proxies send bare numbers.
		var f float64
		if err := json.Unmarshal(p[1], &f); err != nil {
			return 0, 0, fmt.Errorf("parse value %s: %w", p[1], err)
		}
		return int64(ts), f, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse value %q: %w", raw, err)
	}
	return int64(ts), v, nil
}
