package bootstrap

import (
	"index_trader/pkg/logging"
)

// InitLogger creates the zap logger at the configured level
func InitLogger(cfg *Config, opts ...logging.Option) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel, opts...)
	if err != nil {
		return nil, err
	}
	return logger, nil
}
