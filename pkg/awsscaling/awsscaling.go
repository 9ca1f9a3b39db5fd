// Package awsscaling maps stepscaling policies onto AWS Application Auto
// Scaling step-scaling policies for ECS services.
//
// Application Auto Scaling expresses step bounds relative to the CloudWatch
// alarm threshold, so every conversion takes the threshold the policy is
// attached to. The outermost bounds of a policy are widened to unbounded on
// the way out, matching the local evaluation where values beyond the table
// resolve to the boundary step.
package awsscaling

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/applicationautoscaling"

	"github.com/HatiCode/stepscaler/pkg/stepscaling"
)

// ToStepScalingConfiguration converts p into the configuration accepted by
// PutScalingPolicy, with bounds expressed relative to threshold.
func ToStepScalingConfiguration(p *stepscaling.Policy, threshold float64) *applicationautoscaling.StepScalingPolicyConfiguration {
	steps := p.Steps()
	adjustments := make([]*applicationautoscaling.StepAdjustment, 0, len(steps))
	for i, s := range steps {
		adj := &applicationautoscaling.StepAdjustment{
			ScalingAdjustment: aws.Int64(int64(s.Change)),
		}
		if i > 0 {
			adj.MetricIntervalLowerBound = aws.Float64(s.Lower - threshold)
		}
		if i < len(steps)-1 {
			adj.MetricIntervalUpperBound = aws.Float64(s.Upper - threshold)
		}
		adjustments = append(adjustments, adj)
	}

	cfg := &applicationautoscaling.StepScalingPolicyConfiguration{
		AdjustmentType:        aws.String(string(p.AdjustmentType())),
		Cooldown:              aws.Int64(int64(p.Cooldown().Seconds())),
		MetricAggregationType: aws.String(applicationautoscaling.MetricAggregationTypeMaximum),
		StepAdjustments:       adjustments,
	}
	if p.AdjustmentType() == stepscaling.PercentChangeInCapacity && p.MinAdjustmentMagnitude() > 0 {
		cfg.MinAdjustmentMagnitude = aws.Int64(int64(p.MinAdjustmentMagnitude()))
	}
	return cfg
}

// FromStepScalingConfiguration builds a Policy from an Application Auto
// Scaling configuration. minCapacity and maxCapacity come from the scalable
// target, which AWS keeps separately from the policy.
func FromStepScalingConfiguration(cfg *applicationautoscaling.StepScalingPolicyConfiguration, threshold float64, minCapacity, maxCapacity int) (*stepscaling.Policy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil step scaling configuration", stepscaling.ErrInvalidPolicy)
	}
	adj, err := stepscaling.ParseAdjustmentType(aws.StringValue(cfg.AdjustmentType))
	if err != nil {
		return nil, err
	}

	steps := make([]stepscaling.StepConfig, 0, len(cfg.StepAdjustments))
	for _, sa := range cfg.StepAdjustments {
		if sa == nil {
			continue
		}
		sc := stepscaling.StepConfig{Change: int(aws.Int64Value(sa.ScalingAdjustment))}
		if sa.MetricIntervalLowerBound != nil {
			sc.Lower = stepscaling.Float(*sa.MetricIntervalLowerBound + threshold)
		}
		if sa.MetricIntervalUpperBound != nil {
			sc.Upper = stepscaling.Float(*sa.MetricIntervalUpperBound + threshold)
		}
		steps = append(steps, sc)
	}
	return stepscaling.NewPolicy(stepscaling.PolicyConfig{
		Steps:                  steps,
		Cooldown:               secondsToDuration(aws.Int64Value(cfg.Cooldown)),
		MinCapacity:            minCapacity,
		MaxCapacity:            maxCapacity,
		AdjustmentType:         adj,
		MinAdjustmentMagnitude: int(aws.Int64Value(cfg.MinAdjustmentMagnitude)),
	})
}
