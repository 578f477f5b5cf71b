package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"screen-share/internal/config"
)

// newLogger builds a production logger, or a development one when
// APP_ENV=development, at LOG_LEVEL.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.AppEnv == "development" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
