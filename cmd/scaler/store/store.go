// Package store builds the decision store selected by the scaler
// configuration.
//
//   - memory: in process, the default. Cooldown state is lost on restart.
//   - redis: shared across replicas, keys expire after cfg.RedisTTL.
//   - postgres: full decision history in the scaling_decisions table.
//
// Remote backends are pinged during construction so a misconfigured store
// fails startup instead of the first tick.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/stepscaler/cmd/scaler/config"
	"github.com/HatiCode/stepscaler/pkg/storage"
)

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New creates and checks the configured store. Callers should close the
// result if it implements io.Closer.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case "redis":
		logger.Info("initializing redis storage",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"ttl", cfg.RedisTTL,
		)
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, fmt.Errorf("redis storage: %w", err)
		}
		if err := ping(ctx, s); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis health check: %w", err)
		}
		logger.Info("redis storage initialized")
		return s, nil

	case "postgres":
		logger.Info("initializing postgres storage")
		s, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres storage: %w", err)
		}
		if err := ping(ctx, s); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("postgres health check: %w", err)
		}
		logger.Info("postgres storage initialized")
		return s, nil

	case "memory", "":
		logger.Info("initializing in-memory storage")
		return storage.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("invalid storage type %q", cfg.Storage)
	}
}

// HealthCheck returns a check that pings s if it is remote. Memory stores
// are always healthy.
func HealthCheck(s storage.Store) func() error {
	p, ok := s.(Pinger)
	if !ok {
		return nil
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return p.Ping(ctx)
	}
}

func ping(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.Ping(ctx)
}
