package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/applicationautoscaling"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/spf13/cobra"

	"github.com/HatiCode/stepscaler/pkg/awsscaling"
	"github.com/HatiCode/stepscaler/pkg/logging"
	"github.com/HatiCode/stepscaler/pkg/policyfile"
)

func NewPublishCommand() *cobra.Command {
	var (
		cluster    string
		service    string
		policyName string
		region     string
		threshold  float64
		dryRun     bool
		queueName  string
		comparison string
		noAlarm    bool
	)

	command := &cobra.Command{
		Use:   "publish <policy-file>",
		Short: "Register the policy with Application Auto Scaling for an ECS service",
		Long: `Register the ECS service as a scalable target, put the step-scaling
policy and a CloudWatch alarm on the SQS queue depth that invokes it.

Step bounds are relative to --threshold. The policy only runs while the alarm
is in ALARM state, so with the default GreaterThanOrEqualToThreshold operator
only steps at or above the threshold take effect. Use --no-alarm to wire the
printed policy ARN to an existing alarm instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cluster == "" || service == "" {
				return fmt.Errorf("--cluster and --service are required")
			}
			if !noAlarm && queueName == "" {
				return fmt.Errorf("--queue-name is required unless --no-alarm is set")
			}
			p, err := policyfile.Load(args[0])
			if err != nil {
				return err
			}

			pub := &awsscaling.Publisher{
				Alarm: awsscaling.AlarmConfig{
					Dimensions:         map[string]string{"QueueName": queueName},
					ComparisonOperator: comparison,
				},
				Cluster:    cluster,
				Service:    service,
				PolicyName: policyName,
				Logger:     logging.NewWithWriter(cmd.ErrOrStderr(), "text", "info"),
			}

			if dryRun {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, awsscaling.ToStepScalingConfiguration(p, threshold).String())
				if !noAlarm {
					fmt.Fprintln(out, pub.AlarmInput(pub.Name(), "<policy-arn>", threshold).String())
				}
				return nil
			}

			sess, err := awsscaling.NewSession(region)
			if err != nil {
				return err
			}
			pub.Client = applicationautoscaling.New(sess)
			if !noAlarm {
				pub.Alarms = cloudwatch.New(sess)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			arn, err := pub.Publish(ctx, p, threshold)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", arn)
			return nil
		},
	}
	command.Flags().StringVar(&cluster, "cluster", "", "ECS cluster name")
	command.Flags().StringVar(&service, "service", "", "ECS service name")
	command.Flags().StringVar(&policyName, "policy-name", "", "Scaling policy name (defaults to <service>-step-scaling)")
	command.Flags().StringVar(&region, "region", "", "AWS region")
	command.Flags().Float64Var(&threshold, "threshold", 0, "Alarm threshold the step bounds are relative to")
	command.Flags().BoolVar(&dryRun, "dry-run", false, "Print the Application Auto Scaling configuration instead of publishing")
	command.Flags().StringVar(&queueName, "queue-name", "", "SQS queue whose depth the alarm watches")
	command.Flags().StringVar(&comparison, "comparison", "", "Alarm comparison operator (default GreaterThanOrEqualToThreshold)")
	command.Flags().BoolVar(&noAlarm, "no-alarm", false, "Do not create the CloudWatch alarm")
	return command
}
