package app

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envProduction = "production"

// NewLogger создаёт логгер под окружение: JSON в production,
// цветной консольный вывод при разработке.
func NewLogger(env string) *zap.Logger {
	var cfg zap.Config

	if env == envProduction {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg.OutputPaths = []string{"stdout"}

	logger, err := cfg.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}

	return logger
}
