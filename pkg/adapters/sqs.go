package adapters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

// SQSAdapter reads the approximate queue depth directly from the SQS
// GetQueueAttributes API. Unlike the CloudWatch metric, which is published
// once a minute, the attribute reflects the queue within seconds.
//
// Collect returns a single row {"ts": now, "value": depth}; windowSeconds is
// ignored since SQS keeps no history.
type SQSAdapter struct {
	Client   sqsiface.SQSAPI
	QueueURL string

	// IncludeInFlight adds messages received but not yet deleted
	// (ApproximateNumberOfMessagesNotVisible) to the depth.
	IncludeInFlight bool

	// Now is optional; defaults to time.Now.
	Now func() time.Time
}

func (a *SQSAdapter) Name() string { return "sqs" }

// Collect implements Adapter.
func (a *SQSAdapter) Collect(ctx context.Context, _ int) (*DataFrame, error) {
	if a.Client == nil || a.QueueURL == "" {
		return &DataFrame{}, errors.New("sqs adapter: Client and QueueURL are required")
	}

	names := []*string{aws.String(sqs.QueueAttributeNameApproximateNumberOfMessages)}
	if a.IncludeInFlight {
		names = append(names, aws.String(sqs.QueueAttributeNameApproximateNumberOfMessagesNotVisible))
	}

	out, err := a.Client.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(a.QueueURL),
		AttributeNames: names,
	})
	if err != nil {
		return &DataFrame{}, fmt.Errorf("get queue attributes: %w", err)
	}

	depth := 0.0
	for _, name := range names {
		raw, ok := out.Attributes[*name]
		if !ok || raw == nil {
			return &DataFrame{}, fmt.Errorf("sqs: attribute %s missing from response", *name)
		}
		v, err := strconv.ParseFloat(*raw, 64)
		if err != nil {
			return &DataFrame{}, fmt.Errorf("parse %s: %w", *name, err)
		}
		depth += v
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return &DataFrame{Rows: []Row{{
		"ts":    now().UTC().Format(time.RFC3339),
		"value": depth,
	}}}, nil
}
