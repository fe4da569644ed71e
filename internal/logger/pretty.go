package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// prettyEncoderConfig is the console encoder used in development mode:
// colored levels, wall clock timestamps, short caller paths.
func prettyEncoderConfig() zapcore.EncoderConfig {
	config := zap.NewDevelopmentEncoderConfig()
	config.TimeKey = "timestamp"
	config.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	config.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncodeDuration = zapcore.StringDurationEncoder
	config.EncodeCaller = zapcore.ShortCallerEncoder
	return config
}
