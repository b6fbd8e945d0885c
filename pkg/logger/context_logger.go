package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	// ContextKeyRoomID annotates log lines with the consultation room.
	ContextKeyRoomID contextKey = "room_id"
	// ContextKeyUserID annotates log lines with the acting participant.
	ContextKeyUserID contextKey = "user_id"
	// ContextKeyRequestID annotates log lines with the HTTP request id.
	ContextKeyRequestID contextKey = "request_id"
)

// ContextLogger enriches log lines with identifiers carried in the context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger annotated with whatever ids the context holds.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	for _, key := range []contextKey{ContextKeyRoomID, ContextKeyUserID, ContextKeyRequestID} {
		if v := ctx.Value(key); v != nil {
			if s, ok := v.(string); ok {
				fields = append(fields, zap.String(string(key), s))
			}
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithError adds an error field.
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}

// LogRequest logs one HTTP request with context ids attached.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, durationMillis int64) {
	cl.WithContext(ctx).Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMillis),
	)
}
