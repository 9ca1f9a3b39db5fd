package actuators

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
)

// ECSActuator scales an ECS service by updating its desired count.
type ECSActuator struct {
	Client  ecsiface.ECSAPI
	Cluster string
	Service string
}

func (a *ECSActuator) Name() string { return "ecs" }

// Current returns the service's desired count.
func (a *ECSActuator) Current(ctx context.Context) (int, error) {
	if err := a.validate(); err != nil {
		return 0, err
	}
	out, err := a.Client.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(a.Cluster),
		Services: []*string{aws.String(a.Service)},
	})
	if err != nil {
		return 0, fmt.Errorf("describe service %s/%s: %w", a.Cluster, a.Service, err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return 0, fmt.Errorf("describe service %s/%s: %s", a.Cluster, a.Service, aws.StringValue(f.Reason))
	}
	if len(out.Services) == 0 || out.Services[0].DesiredCount == nil {
		return 0, fmt.Errorf("service %s/%s not found", a.Cluster, a.Service)
	}
	return int(aws.Int64Value(out.Services[0].DesiredCount)), nil
}

// Apply sets the service's desired count.
func (a *ECSActuator) Apply(ctx context.Context, desired int) error {
	if err := a.validate(); err != nil {
		return err
	}
	if desired < 0 {
		return fmt.Errorf("negative capacity %d", desired)
	}
	_, err := a.Client.UpdateServiceWithContext(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(a.Cluster),
		Service:      aws.String(a.Service),
		DesiredCount: aws.Int64(int64(desired)),
	})
	if err != nil {
		return fmt.Errorf("update service %s/%s: %w", a.Cluster, a.Service, err)
	}
	return nil
}

func (a *ECSActuator) validate() error {
	if a.Client == nil || a.Cluster == "" || a.Service == "" {
		return errors.New("ecs actuator: client, cluster and service are required")
	}
	return nil
}
