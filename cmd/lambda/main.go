// Command lambda runs one scaling tick per invocation. It is meant to be
// triggered by an EventBridge schedule and is configured through the same
// environment variables as the scaler.
package main

import (
	"context"
	"flag"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/HatiCode/stepscaler/cmd/scaler/config"
	"github.com/HatiCode/stepscaler/cmd/scaler/logger"
	"github.com/HatiCode/stepscaler/cmd/scaler/metrics"
	"github.com/HatiCode/stepscaler/cmd/scaler/wiring"
)

func main() {
	cfg, err := config.Parse(flag.NewFlagSet("lambda", flag.ContinueOnError), nil)
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg)
	m := metrics.New()

	h := NewHandler(func(ctx context.Context) (*wiring.Scaler, error) {
		return wiring.Build(ctx, cfg, m, log)
	}, log)
	lambda.Start(h.Handle)
}
