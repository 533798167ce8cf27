package websocket

import (
	"go.uber.org/zap"
)

// Logger provides structured logging for WebSocket events
type Logger struct {
	logger *zap.Logger
}

func NewLogger(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.L()
	}
	return &Logger{logger: base.With(zap.String("component", "websocket"))}
}

func (l *Logger) fields(event, userID, clientID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.String("user_id", userID),
		zap.String("client_id", clientID),
	}, extra...)
}

// Info logs info level event
func (l *Logger) Info(event, userID, clientID string, fields ...zap.Field) {
	l.logger.Info("websocket_event", l.fields(event, userID, clientID, fields)...)
}

// Error logs error level event
func (l *Logger) Error(event, userID, clientID string, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", l.fields(event, userID, clientID, append(fields, zap.Error(err)))...)
}

// Warn logs warning level event
func (l *Logger) Warn(event, userID, clientID string, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", l.fields(event, userID, clientID, fields)...)
}

func (l *Logger) Debug(event, userID, clientID string, fields ...zap.Field) {
	l.logger.Debug("websocket_event", l.fields(event, userID, clientID, fields)...)
}
