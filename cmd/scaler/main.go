package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/stepscaler/cmd/scaler/config"
	"github.com/HatiCode/stepscaler/cmd/scaler/logger"
	"github.com/HatiCode/stepscaler/cmd/scaler/metrics"
	"github.com/HatiCode/stepscaler/cmd/scaler/router"
	"github.com/HatiCode/stepscaler/cmd/scaler/wiring"
	"github.com/HatiCode/stepscaler/pkg/httpx"
)

func main() {
	cfg := config.ParseFlags()
	log := logger.New(cfg)
	m := metrics.New()

	log.Info("starting stepscaler",
		"listen", cfg.Listen,
		"service", cfg.Service,
		"source", cfg.Source,
		"actuator", cfg.Actuator,
		"storage", cfg.Storage,
		"interval", cfg.Interval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := wiring.Build(ctx, cfg, m, log)
	if err != nil {
		log.Error("failed to initialize scaler", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Error("store close error", "error", err)
		}
	}()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCListen)
	if err != nil {
		log.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	go func() {
		log.Info("grpc health server listening", "address", cfg.GRPCListen)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc server failed", "error", err)
			os.Exit(1)
		}
	}()

	mux := router.SetupRoutes(router.Deps{
		Service: cfg.Service,
		Store:   s.Store,
		Guard:   s.Guard,
		Health:  s.Health,
	}, log)
	httpServer := httpx.NewServer(cfg.Listen, httpx.Chain(mux, log), log)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error("http server failed", "error", err)
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := s.Controller.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("scaling loop failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("received shutdown signal", "signal", sig)

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	cancel()
	<-loopDone

	log.Info("shutting down grpc server")
	grpcServer.GracefulStop()

	log.Info("shutting down http server")
	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("http server shutdown error", "error", err)
	}

	log.Info("shutdown complete")
}
