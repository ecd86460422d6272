package rebaser

import (
	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = logging.Logger("rebaser")

// NewLogger builds the service logger. An empty or unknown level keeps the
// config default.
func NewLogger(development bool, level string, outputPaths ...string) (*zap.Logger, error) {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	if l, err := zapcore.ParseLevel(level); err == nil && level != "" {
		config.Level = zap.NewAtomicLevelAt(l)
	}
	config.InitialFields = map[string]any{"service": "rebaser"}

	if len(outputPaths) > 0 {
		config.OutputPaths = outputPaths
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	return config.Build()
}
