package awsscaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/applicationautoscaling"
	"github.com/aws/aws-sdk-go/service/applicationautoscaling/applicationautoscalingiface"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"

	"github.com/HatiCode/stepscaler/pkg/stepscaling"
)

// AlarmConfig describes the CloudWatch alarm that triggers a published
// policy. Step bounds are relative to the alarm threshold, and the policy only
// runs while the alarm is in ALARM state.
type AlarmConfig struct {
	// Name defaults to "<policy name>-alarm".
	Name string
	// Namespace defaults to AWS/SQS and MetricName to
	// ApproximateNumberOfMessagesVisible.
	Namespace  string
	MetricName string
	Dimensions map[string]string
	// Statistic defaults to Maximum.
	Statistic string
	// PeriodSeconds defaults to 60 and EvaluationPeriods to 1.
	PeriodSeconds     int
	EvaluationPeriods int
	// ComparisonOperator defaults to GreaterThanOrEqualToThreshold, which
	// only exercises steps at or above the threshold.
	ComparisonOperator string
}

// Publisher registers an ECS service as a scalable target and attaches a
// step-scaling policy to it. When Alarms is set it also puts the metric
// alarm that invokes the policy.
type Publisher struct {
	Client     applicationautoscalingiface.ApplicationAutoScalingAPI
	Alarms     cloudwatchiface.CloudWatchAPI
	Alarm      AlarmConfig
	Cluster    string
	Service    string
	PolicyName string
	Logger     *slog.Logger
}

// ResourceID returns the Application Auto Scaling resource id of the service.
func (p *Publisher) ResourceID() string {
	return fmt.Sprintf("service/%s/%s", p.Cluster, p.Service)
}

// Name returns the scaling policy name, "<service>-step-scaling" by default.
func (p *Publisher) Name() string {
	if p.PolicyName != "" {
		return p.PolicyName
	}
	return p.Service + "-step-scaling"
}

// Publish registers the scalable target with the policy's capacity bounds,
// puts the step-scaling policy and, when Alarms is set, the alarm on
// threshold that invokes it. It returns the policy ARN. Without Alarms the
// caller has to wire the ARN to an alarm or the policy never runs.
func (p *Publisher) Publish(ctx context.Context, policy *stepscaling.Policy, threshold float64) (string, error) {
	if p.Client == nil || p.Cluster == "" || p.Service == "" {
		return "", errors.New("publisher: client, cluster and service are required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := p.Name()

	_, err := p.Client.RegisterScalableTargetWithContext(ctx, &applicationautoscaling.RegisterScalableTargetInput{
		ServiceNamespace:  aws.String(applicationautoscaling.ServiceNamespaceEcs),
		ResourceId:        aws.String(p.ResourceID()),
		ScalableDimension: aws.String(applicationautoscaling.ScalableDimensionEcsServiceDesiredCount),
		MinCapacity:       aws.Int64(int64(policy.MinCapacity())),
		MaxCapacity:       aws.Int64(int64(policy.MaxCapacity())),
	})
	if err != nil {
		return "", fmt.Errorf("register scalable target %s: %w", p.ResourceID(), err)
	}

	out, err := p.Client.PutScalingPolicyWithContext(ctx, &applicationautoscaling.PutScalingPolicyInput{
		PolicyName:                     aws.String(name),
		PolicyType:                     aws.String(applicationautoscaling.PolicyTypeStepScaling),
		ServiceNamespace:               aws.String(applicationautoscaling.ServiceNamespaceEcs),
		ResourceId:                     aws.String(p.ResourceID()),
		ScalableDimension:              aws.String(applicationautoscaling.ScalableDimensionEcsServiceDesiredCount),
		StepScalingPolicyConfiguration: ToStepScalingConfiguration(policy, threshold),
	})
	if err != nil {
		return "", fmt.Errorf("put scaling policy %s: %w", name, err)
	}

	arn := aws.StringValue(out.PolicyARN)
	logger.Info("published step scaling policy",
		"resource", p.ResourceID(),
		"policy", name,
		"arn", arn,
		"steps", len(policy.Steps()),
	)

	if p.Alarms == nil {
		logger.Warn("no alarm published; attach the policy ARN to an alarm", "arn", arn)
		return arn, nil
	}
	alarm, err := p.putAlarm(ctx, name, arn, threshold)
	if err != nil {
		return arn, err
	}
	logger.Info("published scaling alarm", "alarm", alarm, "threshold", threshold)
	return arn, nil
}

// AlarmInput builds the PutMetricAlarm request for a policy ARN, applying the
// AlarmConfig defaults.
func (p *Publisher) AlarmInput(policyName, policyARN string, threshold float64) *cloudwatch.PutMetricAlarmInput {
	c := p.Alarm
	name := c.Name
	if name == "" {
		name = policyName + "-alarm"
	}
	namespace := c.Namespace
	if namespace == "" {
		namespace = "AWS/SQS"
	}
	metric := c.MetricName
	if metric == "" {
		metric = "ApproximateNumberOfMessagesVisible"
	}
	stat := c.Statistic
	if stat == "" {
		stat = cloudwatch.StatisticMaximum
	}
	period := c.PeriodSeconds
	if period <= 0 {
		period = 60
	}
	evals := c.EvaluationPeriods
	if evals <= 0 {
		evals = 1
	}
	op := c.ComparisonOperator
	if op == "" {
		op = cloudwatch.ComparisonOperatorGreaterThanOrEqualToThreshold
	}

	in := &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(name),
		AlarmDescription:   aws.String(fmt.Sprintf("Triggers step scaling of %s", p.ResourceID())),
		Namespace:          aws.String(namespace),
		MetricName:         aws.String(metric),
		Statistic:          aws.String(stat),
		Period:             aws.Int64(int64(period)),
		EvaluationPeriods:  aws.Int64(int64(evals)),
		Threshold:          aws.Float64(threshold),
		ComparisonOperator: aws.String(op),
		TreatMissingData:   aws.String("missing"),
		AlarmActions:       []*string{aws.String(policyARN)},
	}
	keys := make([]string, 0, len(c.Dimensions))
	for k := range c.Dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		in.Dimensions = append(in.Dimensions, &cloudwatch.Dimension{Name: aws.String(k), Value: aws.String(c.Dimensions[k])})
	}
	return in
}

func (p *Publisher) putAlarm(ctx context.Context, policyName, policyARN string, threshold float64) (string, error) {
	in := p.AlarmInput(policyName, policyARN, threshold)
	if _, err := p.Alarms.PutMetricAlarmWithContext(ctx, in); err != nil {
		return "", fmt.Errorf("put metric alarm %s: %w", aws.StringValue(in.AlarmName), err)
	}
	return aws.StringValue(in.AlarmName), nil
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
