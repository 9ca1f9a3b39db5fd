// Package logger builds the scaler's slog.Logger from its configuration.
package logger

import (
	"log/slog"

	"github.com/HatiCode/stepscaler/cmd/scaler/config"
	"github.com/HatiCode/stepscaler/pkg/logging"
)

func New(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.LogFormat, cfg.LogLevel)
}
