package config

import (
	"fmt"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// NewLogger builds a production logger, or a development one for the console format.
func NewLogger(cfg strata.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return logger, nil
}
