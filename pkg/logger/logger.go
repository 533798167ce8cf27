package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap and adds the request and user ids carried by a context.
type Logger struct {
	Logger *zap.Logger
}

const (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

type Option func(*zap.Config)

// WithLevel overrides the level picked by the mode. Empty or unknown
// levels leave it alone.
func WithLevel(level string) Option {
	return func(cfg *zap.Config) {
		if level == "" {
			return
		}
		if lvl, err := zapcore.ParseLevel(level); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
}

// New builds a JSON logger for release and production modes and a console
// logger for everything else.
func New(mode string, opts ...Option) *Logger {
	var config zap.Config
	switch mode {
	case ProductionMode, "release":
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	for _, opt := range opts {
		opt(&config)
	}

	zapLogger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return &Logger{Logger: zapLogger}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

type ctxKey string

var RequestIdKey ctxKey = "request_id"
var UserIdKey ctxKey = "user_id"

// WithContext returns the zap logger tagged with the request and user ids
// found in ctx.
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.Logger
	}
	fields := make([]zap.Field, 0, 2)
	for _, key := range []ctxKey{RequestIdKey, UserIdKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	return l.Logger.With(fields...)
}

var logger *Logger

func SetGlobalLogger(l *Logger) {
	logger = l
	zap.ReplaceGlobals(l.Logger)
}

func GetGlobalLogger() *Logger {
	if logger == nil {
		return NewNop()
	}
	return logger
}

func (l *Logger) sugar() *zap.SugaredLogger {
	return l.Logger.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func (l *Logger) Infof(template string, args ...interface{}) {
	l.sugar().Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...interface{}) {
	l.sugar().Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.sugar().Errorf(template, args...)
}

func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}
