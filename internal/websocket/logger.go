package websocket

import (
	"go.uber.org/zap"
)

// Logger provides structured logging for websocket connection events
type Logger struct {
	logger *zap.Logger
}

func NewLogger(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.L()
	}
	return &Logger{
		logger: base.With(zap.String("component", "websocket")),
	}
}

func (l *Logger) fields(event, viewerID, clientID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.String("viewer_id", viewerID),
		zap.String("client_id", clientID),
	}, extra...)
}

func (l *Logger) Info(event, viewerID, clientID string, fields ...zap.Field) {
	l.logger.Info("websocket_event", l.fields(event, viewerID, clientID, fields)...)
}

func (l *Logger) Warn(event, viewerID, clientID string, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", l.fields(event, viewerID, clientID, fields)...)
}

func (l *Logger) Error(event, viewerID, clientID string, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", l.fields(event, viewerID, clientID, append(fields, zap.Error(err)))...)
}
