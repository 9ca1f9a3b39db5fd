// Package stack provides the CDK stack for an SQS-driven Fargate worker
// service scaled on queue depth.
package stack

import (
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapplicationautoscaling"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsecs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssqs"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/HatiCode/stepscaler/pkg/stepscaling"
)

const (
	DefaultResourceTagKey   = "project"
	DefaultResourceTagValue = "stepscaler"
)

// ScalerMode selects who evaluates the step table.
type ScalerMode string

const (
	// ModeNative lets Application Auto Scaling run the policy.
	ModeNative ScalerMode = "native"
	// ModeLambda runs the stepscaler Lambda on a schedule instead.
	ModeLambda ScalerMode = "lambda"
)

// QueueWorkerStackProps defines the properties for the worker stack.
type QueueWorkerStackProps struct {
	awscdk.StackProps

	QueueName string
	// Image is the worker container image, e.g. an ECR URI with tag.
	Image  string
	Policy *stepscaling.Policy
	Mode   ScalerMode

	// LambdaAssetPath is the directory holding the compiled bootstrap binary
	// and policy.yaml. Required for ModeLambda.
	LambdaAssetPath string
	// LambdaEnvironment is merged into the scaler Lambda environment, e.g.
	// STORAGE and REDIS_ADDR for persistent cooldown state.
	LambdaEnvironment map[string]string
	Schedule          awscdk.Duration
}

// QueueWorkerStack holds the resources other stacks may reference.
type QueueWorkerStack struct {
	awscdk.Stack
	Queue   awssqs.IQueue
	Cluster awsecs.ICluster
	Service awsecs.FargateService
	Scaler  awslambda.IFunction
}

// NewQueueWorkerStack creates the queue, the Fargate service consuming it and
// the queue-depth scaling for the service.
func NewQueueWorkerStack(scope constructs.Construct, id string, props *QueueWorkerStackProps) (*QueueWorkerStack, error) {
	if props.Policy == nil {
		return nil, fmt.Errorf("stack %s: policy is required", id)
	}
	stack := awscdk.NewStack(scope, &id, &props.StackProps)

	queue := awssqs.NewQueue(stack, jsii.String("WorkerQueue"), &awssqs.QueueProps{
		QueueName:         optionalString(props.QueueName),
		VisibilityTimeout: awscdk.Duration_Seconds(jsii.Number(200)),
	})
	awscdk.Tags_Of(queue).Add(jsii.String(DefaultResourceTagKey), jsii.String(DefaultResourceTagValue), nil)

	cluster := awsecs.NewCluster(stack, jsii.String("WorkerCluster"), &awsecs.ClusterProps{
		EnableFargateCapacityProviders: jsii.Bool(true),
	})

	taskDef := awsecs.NewFargateTaskDefinition(stack, jsii.String("WorkerTaskDefinition"), &awsecs.FargateTaskDefinitionProps{
		Cpu:            jsii.Number(1024),
		MemoryLimitMiB: jsii.Number(2048),
		RuntimePlatform: &awsecs.RuntimePlatform{
			OperatingSystemFamily: awsecs.OperatingSystemFamily_LINUX(),
			CpuArchitecture:       awsecs.CpuArchitecture_X86_64(),
		},
	})
	taskDef.AddContainer(jsii.String("Worker"), &awsecs.ContainerDefinitionOptions{
		Image:        awsecs.ContainerImage_FromRegistry(jsii.String(props.Image), nil),
		StopTimeout:  awscdk.Duration_Seconds(jsii.Number(120)),
		StartTimeout: awscdk.Duration_Seconds(jsii.Number(120)),
		Logging: awsecs.LogDrivers_AwsLogs(&awsecs.AwsLogDriverProps{
			StreamPrefix: jsii.String("worker"),
		}),
		Environment: &map[string]*string{
			"QUEUE_URL": queue.QueueUrl(),
		},
	})
	queue.GrantConsumeMessages(taskDef.TaskRole())

	minCap := props.Policy.MinCapacity()
	if minCap < 1 {
		minCap = 1
	}
	service := awsecs.NewFargateService(stack, jsii.String("WorkerService"), &awsecs.FargateServiceProps{
		Cluster:        cluster,
		TaskDefinition: taskDef,
		DesiredCount:   jsii.Number(float64(minCap)),
		CapacityProviderStrategies: &[]*awsecs.CapacityProviderStrategy{
			{CapacityProvider: jsii.String("FARGATE"), Weight: jsii.Number(1)},
			{CapacityProvider: jsii.String("FARGATE_SPOT"), Weight: jsii.Number(0)},
		},
	})
	awscdk.Tags_Of(service).Add(jsii.String(DefaultResourceTagKey), jsii.String(DefaultResourceTagValue), nil)

	out := &QueueWorkerStack{Stack: stack, Queue: queue, Cluster: cluster, Service: service}

	switch props.Mode {
	case ModeNative, "":
		if err := addNativeScaling(service, queue, props.Policy); err != nil {
			return nil, err
		}
	case ModeLambda:
		fn, err := addScalerLambda(stack, cluster, service, queue, props)
		if err != nil {
			return nil, err
		}
		out.Scaler = fn
	default:
		return nil, fmt.Errorf("stack %s: unknown scaler mode %q", id, props.Mode)
	}

	awscdk.NewCfnOutput(stack, jsii.String("QueueURL"), &awscdk.CfnOutputProps{
		Value:       queue.QueueUrl(),
		Description: jsii.String("URL of the worker queue"),
	})
	awscdk.NewCfnOutput(stack, jsii.String("ServiceName"), &awscdk.CfnOutputProps{
		Value:       service.ServiceName(),
		Description: jsii.String("Name of the scaled ECS service"),
	})

	return out, nil
}

func addNativeScaling(service awsecs.FargateService, queue awssqs.IQueue, policy *stepscaling.Policy) error {
	intervals, err := ScalingIntervals(policy)
	if err != nil {
		return err
	}
	scaling := service.AutoScaleTaskCount(&awsapplicationautoscaling.EnableScalingProps{
		MinCapacity: jsii.Number(float64(policy.MinCapacity())),
		MaxCapacity: jsii.Number(float64(policy.MaxCapacity())),
	})
	stepProps := &awsapplicationautoscaling.BasicStepScalingPolicyProps{
		Metric:         queue.MetricApproximateNumberOfMessagesVisible(nil),
		ScalingSteps:   &intervals,
		AdjustmentType: AdjustmentType(policy.AdjustmentType()),
		Cooldown:       awscdk.Duration_Seconds(jsii.Number(policy.Cooldown().Seconds())),
	}
	if m := policy.MinAdjustmentMagnitude(); m > 0 && policy.AdjustmentType() == stepscaling.PercentChangeInCapacity {
		stepProps.MinAdjustmentMagnitude = jsii.Number(float64(m))
	}
	scaling.ScaleOnMetric(jsii.String("ScaleOnQueueLength"), stepProps)
	return nil
}

func addScalerLambda(stack awscdk.Stack, cluster awsecs.ICluster, service awsecs.FargateService, queue awssqs.IQueue, props *QueueWorkerStackProps) (awslambda.IFunction, error) {
	if props.LambdaAssetPath == "" {
		return nil, fmt.Errorf("lambda mode requires LambdaAssetPath")
	}

	env := map[string]*string{
		"SERVICE":       service.ServiceName(),
		"POLICY_FILE":   jsii.String("policy.yaml"),
		"SOURCE":        jsii.String("sqs"),
		"SQS_QUEUE_URL": queue.QueueUrl(),
		"ACTUATOR":      jsii.String("ecs"),
		"ECS_CLUSTER":   cluster.ClusterName(),
		"ECS_SERVICE":   service.ServiceName(),
		"LOG_FORMAT":    jsii.String("json"),
	}
	for k, v := range props.LambdaEnvironment {
		env[k] = jsii.String(v)
	}

	fn := awslambda.NewFunction(stack, jsii.String("StepScalerFunction"), &awslambda.FunctionProps{
		Runtime:                      awslambda.Runtime_PROVIDED_AL2023(),
		Architecture:                 awslambda.Architecture_ARM_64(),
		Handler:                      jsii.String("bootstrap"),
		Code:                         awslambda.AssetCode_FromAsset(jsii.String(props.LambdaAssetPath), nil),
		Environment:                  &env,
		Timeout:                      awscdk.Duration_Seconds(jsii.Number(30)),
		ReservedConcurrentExecutions: jsii.Number(1),
	})
	awscdk.Tags_Of(fn).Add(jsii.String(DefaultResourceTagKey), jsii.String(DefaultResourceTagValue), nil)

	queue.Grant(fn, jsii.String("sqs:GetQueueAttributes"))
	fn.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Effect:    awsiam.Effect_ALLOW,
		Actions:   jsii.Strings("ecs:DescribeServices", "ecs:UpdateService"),
		Resources: &[]*string{service.ServiceArn()},
	}))

	schedule := props.Schedule
	if schedule == nil {
		schedule = awscdk.Duration_Minutes(jsii.Number(1))
	}
	rule := awsevents.NewRule(stack, jsii.String("StepScalerSchedule"), &awsevents.RuleProps{
		Schedule: awsevents.Schedule_Rate(schedule),
	})
	rule.AddTarget(awseventstargets.NewLambdaFunction(fn, nil))

	return fn, nil
}

// ScalingIntervals converts a policy into CDK scaling intervals with absolute
// bounds. The first step never carries a lower bound and the last step never
// an upper bound, so metrics outside the table hit the boundary steps as they
// do in Policy.Evaluate. Zero-change steps are left out since CDK treats the
// gaps between intervals as no-ops, except for ExactCapacity where zero is a
// target.
func ScalingIntervals(p *stepscaling.Policy) ([]*awsapplicationautoscaling.ScalingInterval, error) {
	keepZero := p.AdjustmentType() == stepscaling.ExactCapacity
	steps := p.Steps()
	var out []*awsapplicationautoscaling.ScalingInterval
	for i, s := range steps {
		if s.Change == 0 && !keepZero {
			continue
		}
		iv := &awsapplicationautoscaling.ScalingInterval{Change: jsii.Number(float64(s.Change))}
		if i > 0 && !math.IsInf(s.Lower, -1) {
			iv.Lower = jsii.Number(s.Lower)
		}
		if i < len(steps)-1 && !math.IsInf(s.Upper, 1) {
			iv.Upper = jsii.Number(s.Upper)
		}
		out = append(out, iv)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("%w: CDK step scaling needs at least two non-zero steps, got %d", stepscaling.ErrInvalidPolicy, len(out))
	}
	return out, nil
}

// AdjustmentType maps a policy adjustment type to its CDK enum.
func AdjustmentType(t stepscaling.AdjustmentType) awsapplicationautoscaling.AdjustmentType {
	switch t {
	case stepscaling.ExactCapacity:
		return awsapplicationautoscaling.AdjustmentType_EXACT_CAPACITY
	case stepscaling.PercentChangeInCapacity:
		return awsapplicationautoscaling.AdjustmentType_PERCENT_CHANGE_IN_CAPACITY
	default:
		return awsapplicationautoscaling.AdjustmentType_CHANGE_IN_CAPACITY
	}
}

// DefaultPolicy is the queue-depth table the worker service has always run
// with: shrink by one when the queue is empty, grow faster as it backs up.
func DefaultPolicy() (*stepscaling.Policy, error) {
	steps, err := stepscaling.NormalizeSteps([]stepscaling.StepConfig{
		{Upper: stepscaling.Float(1), Change: -1},
		{Lower: stepscaling.Float(2), Change: 1},
		{Lower: stepscaling.Float(4), Change: 2},
		{Lower: stepscaling.Float(8), Change: 4},
		{Lower: stepscaling.Float(20), Change: 10},
	}, stepscaling.ChangeInCapacity)
	if err != nil {
		return nil, err
	}
	return stepscaling.NewPolicy(stepscaling.PolicyConfig{
		Steps:       steps,
		Cooldown:    10 * time.Second,
		MinCapacity: 1,
		MaxCapacity: 20,
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return jsii.String(s)
}
