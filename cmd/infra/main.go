// Command infra synthesizes the queue-worker CDK stack.
package main

import (
	"fmt"
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"

	"github.com/HatiCode/stepscaler/cmd/infra/stack"
	"github.com/HatiCode/stepscaler/pkg/policyfile"
	"github.com/HatiCode/stepscaler/pkg/stepscaling"
)

func main() {
	defer jsii.Close()

	app := awscdk.NewApp(nil)

	policy, err := loadPolicy(os.Getenv("POLICY_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	props := &stack.QueueWorkerStackProps{
		StackProps: awscdk.StackProps{Env: env()},
		QueueName:  os.Getenv("QUEUE_NAME"),
		Image:      getEnv("WORKER_IMAGE", "public.ecr.aws/docker/library/busybox:latest"),
		Policy:     policy,
		Mode:       stack.ScalerMode(getEnv("SCALER_MODE", string(stack.ModeNative))),
	}
	if props.Mode == stack.ModeLambda {
		props.LambdaAssetPath = getEnv("LAMBDA_ASSET_PATH", "dist/lambda")
		props.LambdaEnvironment = map[string]string{}
		for _, k := range []string{"STORAGE", "REDIS_ADDR", "POSTGRES_DSN"} {
			if v := os.Getenv(k); v != "" {
				props.LambdaEnvironment[k] = v
			}
		}
	}

	if _, err := stack.NewQueueWorkerStack(app, getEnv("STACK_NAME", "QueueWorkerStack"), props); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	app.Synth(nil)
}

func loadPolicy(path string) (*stepscaling.Policy, error) {
	if path == "" {
		return stack.DefaultPolicy()
	}
	return policyfile.Load(path)
}

// env resolves the target account and region from the CDK CLI environment;
// nil synthesizes an environment-agnostic stack.
func env() *awscdk.Environment {
	account, region := os.Getenv("CDK_DEFAULT_ACCOUNT"), os.Getenv("CDK_DEFAULT_REGION")
	if account == "" || region == "" {
		return nil
	}
	return &awscdk.Environment{
		Account: jsii.String(account),
		Region:  jsii.String(region),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
