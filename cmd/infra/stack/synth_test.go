package stack

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/assertions"
	"github.com/aws/jsii-runtime-go"
)

// synth builds the stack in a fresh app. Synthesis runs the jsii kernel,
// which needs node on PATH.
func synth(t *testing.T, props *QueueWorkerStackProps) assertions.Template {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping CDK synthesis in short mode")
	}
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not found, skipping CDK synthesis")
	}

	policy, err := DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy() error = %v", err)
	}
	props.Policy = policy
	props.Image = "public.ecr.aws/docker/library/busybox:latest"

	app := awscdk.NewApp(nil)
	s, err := NewQueueWorkerStack(app, "TestQueueWorkerStack", props)
	if err != nil {
		t.Fatalf("NewQueueWorkerStack() error = %v", err)
	}
	return assertions.Template_FromStack(s.Stack, nil)
}

func TestQueueWorkerStack_NativeScaling(t *testing.T) {
	template := synth(t, &QueueWorkerStackProps{Mode: ModeNative})

	template.HasResourceProperties(jsii.String("AWS::SQS::Queue"), map[string]any{
		"VisibilityTimeout": 200,
	})
	template.HasResourceProperties(jsii.String("AWS::ApplicationAutoScaling::ScalableTarget"), map[string]any{
		"MinCapacity":       1,
		"MaxCapacity":       20,
		"ScalableDimension": "ecs:service:DesiredCount",
		"ServiceNamespace":  "ecs",
	})
	template.HasResourceProperties(jsii.String("AWS::ApplicationAutoScaling::ScalingPolicy"), map[string]any{
		"PolicyType": "StepScaling",
		"StepScalingPolicyConfiguration": map[string]any{
			"AdjustmentType": "ChangeInCapacity",
			"Cooldown":       10,
		},
	})
	// One policy and alarm for scale-in, one for scale-out.
	template.ResourceCountIs(jsii.String("AWS::ApplicationAutoScaling::ScalingPolicy"), jsii.Number(2))
	template.ResourceCountIs(jsii.String("AWS::CloudWatch::Alarm"), jsii.Number(2))
	template.ResourceCountIs(jsii.String("AWS::Events::Rule"), jsii.Number(0))
}

func TestQueueWorkerStack_LambdaScaling(t *testing.T) {
	asset := t.TempDir()
	if err := os.WriteFile(filepath.Join(asset, "bootstrap"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	template := synth(t, &QueueWorkerStackProps{
		Mode:              ModeLambda,
		LambdaAssetPath:   asset,
		LambdaEnvironment: map[string]string{"STORAGE": "redis"},
	})

	template.ResourceCountIs(jsii.String("AWS::ApplicationAutoScaling::ScalableTarget"), jsii.Number(0))
	template.ResourceCountIs(jsii.String("AWS::Lambda::Function"), jsii.Number(1))
	template.HasResourceProperties(jsii.String("AWS::Lambda::Function"), map[string]any{
		"Handler": "bootstrap",
		"Runtime": "provided.al2023",
		"Environment": map[string]any{
			"Variables": assertions.Match_ObjectLike(&map[string]any{
				"POLICY_FILE": "policy.yaml",
				"SOURCE":      "sqs",
				"ACTUATOR":    "ecs",
				"STORAGE":     "redis",
			}),
		},
	})
	template.HasResourceProperties(jsii.String("AWS::Events::Rule"), map[string]any{
		"ScheduleExpression": "rate(1 minute)",
	})
}

func TestNewQueueWorkerStack_Validation(t *testing.T) {
	// Rejected before any construct is created, so no scope is needed.
	if _, err := NewQueueWorkerStack(nil, "NoPolicy", &QueueWorkerStackProps{}); err == nil {
		t.Error("NewQueueWorkerStack() expected error without a policy")
	}
}
