package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
)

const (
	defaultCloudWatchNamespace = "AWS/SQS"
	defaultCloudWatchMetric    = "ApproximateNumberOfMessagesVisible"
	defaultCloudWatchStat      = "Maximum"
)

// CloudWatchAdapter fetches a metric series with GetMetricData. The defaults
// match the queue-depth metric used by SQS-driven step scaling:
// AWS/SQS ApproximateNumberOfMessagesVisible, Maximum, 60s period.
type CloudWatchAdapter struct {
	Client cloudwatchiface.CloudWatchAPI

	Namespace  string
	MetricName string
	// Dimensions selects the series, e.g. {"QueueName": "jobs"}.
	Dimensions map[string]string
	Stat       string
	// PeriodSeconds must be a multiple of 60 (defaults to 60).
	PeriodSeconds int
}

func (a *CloudWatchAdapter) Name() string { return "cloudwatch" }

// Collect implements Adapter. Rows are sorted by timestamp and follow the
// {"ts": RFC3339, "value": float64} shape used by the other adapters.
func (a *CloudWatchAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if a.Client == nil {
		return &DataFrame{}, errors.New("cloudwatch adapter: Client is required")
	}
	if len(a.Dimensions) == 0 {
		return &DataFrame{}, errors.New("cloudwatch adapter: at least one dimension is required")
	}

	period := a.PeriodSeconds
	if period <= 0 {
		period = 60
	}
	if windowSeconds < period {
		windowSeconds = 5 * period
	}

	end := time.Now().UTC().Truncate(time.Minute)
	start := end.Add(-time.Duration(windowSeconds) * time.Second)

	input := &cloudwatch.GetMetricDataInput{
		MetricDataQueries: []*cloudwatch.MetricDataQuery{
			{
				Id: aws.String("m1"),
				MetricStat: &cloudwatch.MetricStat{
					Metric: &cloudwatch.Metric{
						Namespace:  aws.String(orDefault(a.Namespace, defaultCloudWatchNamespace)),
						MetricName: aws.String(orDefault(a.MetricName, defaultCloudWatchMetric)),
						Dimensions: a.dimensions(),
					},
					Period: aws.Int64(int64(period)),
					Stat:   aws.String(orDefault(a.Stat, defaultCloudWatchStat)),
				},
				ReturnData: aws.Bool(true),
			},
		},
		StartTime: aws.Time(start),
		EndTime:   aws.Time(end),
		ScanBy:    aws.String(cloudwatch.ScanByTimestampAscending),
	}

	var rows []Row
	for {
		out, err := a.Client.GetMetricDataWithContext(ctx, input)
		if err != nil {
			return &DataFrame{}, fmt.Errorf("get metric data: %w", err)
		}
		for _, res := range out.MetricDataResults {
			if len(res.Timestamps) != len(res.Values) {
				return &DataFrame{}, fmt.Errorf("cloudwatch: %d timestamps for %d values", len(res.Timestamps), len(res.Values))
			}
			for i := range res.Values {
				rows = append(rows, Row{
					"ts":    aws.TimeValue(res.Timestamps[i]).UTC(),
					"value": aws.Float64Value(res.Values[i]),
				})
			}
		}
		if aws.StringValue(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i]["ts"].(time.Time).Before(rows[j]["ts"].(time.Time))
	})
	for i := range rows {
		rows[i]["ts"] = rows[i]["ts"].(time.Time).Format(time.RFC3339)
	}

	return &DataFrame{Rows: rows}, nil
}

func (a *CloudWatchAdapter) dimensions() []*cloudwatch.Dimension {
	names := make([]string, 0, len(a.Dimensions))
	for k := range a.Dimensions {
		names = append(names, k)
	}
	sort.Strings(names)

	dims := make([]*cloudwatch.Dimension, 0, len(names))
	for _, k := range names {
		dims = append(dims, &cloudwatch.Dimension{
			Name:  aws.String(k),
			Value: aws.String(a.Dimensions[k]),
		})
	}
	return dims
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
