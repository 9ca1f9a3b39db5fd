// Package wiring assembles a controller from the scaler configuration. It is
// shared by the long-running scaler and the Lambda handler.
package wiring

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/sqs"

	"github.com/HatiCode/stepscaler/cmd/scaler/config"
	"github.com/HatiCode/stepscaler/cmd/scaler/store"
	"github.com/HatiCode/stepscaler/pkg/actuators"
	"github.com/HatiCode/stepscaler/pkg/adapters"
	"github.com/HatiCode/stepscaler/pkg/awsscaling"
	"github.com/HatiCode/stepscaler/pkg/controller"
	"github.com/HatiCode/stepscaler/pkg/policyfile"
	"github.com/HatiCode/stepscaler/pkg/stepscaling"
	"github.com/HatiCode/stepscaler/pkg/storage"
)

// Scaler is a ready-to-run controller with the resources it owns.
type Scaler struct {
	Controller *controller.Controller
	Guard      *stepscaling.Guard
	Store      storage.Store
	Health     func() error
}

// Close releases the store connection.
func (s *Scaler) Close() error {
	if c, ok := s.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Build loads the policy, connects the store and AWS clients, and restores
// the cooldown window from the store.
func Build(ctx context.Context, cfg *config.Config, recorder controller.Recorder, logger *slog.Logger) (*Scaler, error) {
	policy, err := policyfile.Load(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded policy",
		"file", cfg.PolicyFile,
		"steps", len(policy.Steps()),
		"cooldown", policy.Cooldown(),
		"min", policy.MinCapacity(),
		"max", policy.MaxCapacity(),
	)

	var sess *session.Session
	if NeedsAWS(cfg) {
		sess, err = awsscaling.NewSession(cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
	}

	adapter, err := Adapter(cfg, sess)
	if err != nil {
		return nil, err
	}
	actuator, err := Actuator(cfg, sess)
	if err != nil {
		return nil, err
	}

	st, err := store.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	guard := stepscaling.NewGuard(policy)
	ctl := controller.New(
		controller.Config{
			Service:      cfg.Service,
			Metric:       cfg.Metric,
			Window:       cfg.Window,
			MaxSampleAge: cfg.MaxSampleAge,
		},
		adapter, actuator, guard, st, recorder, logger,
	)

	s := &Scaler{Controller: ctl, Guard: guard, Store: st, Health: store.HealthCheck(st)}
	if err := ctl.Restore(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NeedsAWS reports whether the configured source or actuator calls AWS.
func NeedsAWS(cfg *config.Config) bool {
	return cfg.Source == config.SourceSQS || cfg.Source == config.SourceCloudWatch || cfg.Actuator == "ecs"
}

// Adapter builds the configured metric source.
func Adapter(cfg *config.Config, sess *session.Session) (adapters.Adapter, error) {
	switch cfg.Source {
	case config.SourcePrometheus:
		return &adapters.PrometheusAdapter{
			ServerURL:   cfg.PromURL,
			Query:       cfg.PromQuery,
			Aggregate:   cfg.PromAggregate,
			BearerToken: cfg.PromToken,
		}, nil
	case config.SourceSQS:
		if sess == nil {
			return nil, fmt.Errorf("sqs source requires an aws session")
		}
		return &adapters.SQSAdapter{
			Client:          sqs.New(sess),
			QueueURL:        cfg.QueueURL,
			IncludeInFlight: cfg.IncludeInFlight,
		}, nil
	case config.SourceCloudWatch:
		if sess == nil {
			return nil, fmt.Errorf("cloudwatch source requires an aws session")
		}
		return &adapters.CloudWatchAdapter{
			Client:        cloudwatch.New(sess),
			Namespace:     cfg.CWNamespace,
			MetricName:    cfg.CWMetric,
			Dimensions:    map[string]string{"QueueName": cfg.CWQueueName},
			Stat:          cfg.CWStat,
			PeriodSeconds: int(cfg.CWPeriod.Seconds()),
		}, nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// Actuator builds the configured actuator.
func Actuator(cfg *config.Config, sess *session.Session) (actuators.Actuator, error) {
	switch cfg.Actuator {
	case "ecs":
		if sess == nil {
			return nil, fmt.Errorf("ecs actuator requires an aws session")
		}
		return &actuators.ECSActuator{
			Client:  ecs.New(sess),
			Cluster: cfg.ECSCluster,
			Service: cfg.ECSService,
		}, nil
	case "memory":
		return actuators.NewMemoryActuator(cfg.InitialCapacity), nil
	default:
		return nil, fmt.Errorf("unknown actuator %q", cfg.Actuator)
	}
}
