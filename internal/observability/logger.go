package observability

import (
	"os"
	"strings"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. LOG_LEVEL selects the level and
// LOG_FORMAT selects json (default), console or logfmt output.
func NewLogger() (*zap.Logger, error) {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	switch parseLogFormat(os.Getenv("LOG_FORMAT")) {
	case "logfmt":
		core := zapcore.NewCore(
			zaplogfmt.NewEncoder(encoderConfig()),
			zapcore.Lock(os.Stdout),
			level,
		)
		return zap.New(core, zap.AddCaller()), nil
	case "console":
		config := zap.NewDevelopmentConfig()
		config.Level = level
		return config.Build()
	}

	config := zap.NewProductionConfig()
	config.EncoderConfig = encoderConfig()
	config.Level = level
	return config.Build()
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

func parseLogFormat(s string) string {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "console", "logfmt":
		return f
	default:
		return "json"
	}
}
