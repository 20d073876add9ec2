package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextField is a request-scoped value that WithContextLogger copies onto
// log entries under its own name.
type contextField string

const (
	fieldCorrelationID  contextField = "correlationId"
	fieldNotificationID contextField = "notificationId"
)

var loggedContextFields = []contextField{fieldCorrelationID, fieldNotificationID}

// NewLogger builds the JSON logger shared by the api and telemetryctl. An
// empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": "telemetry-engine"}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	text := strings.ToLower(strings.TrimSpace(level))
	if text == "" {
		return zapcore.InfoLevel, nil
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(text)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withField(ctx, fieldCorrelationID, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return fieldFrom(ctx, fieldCorrelationID)
}

// WithNotificationID tags ctx with the hub notification being inspected.
func WithNotificationID(ctx context.Context, notificationID string) context.Context {
	return withField(ctx, fieldNotificationID, notificationID)
}

func NotificationIDFromContext(ctx context.Context) (string, bool) {
	return fieldFrom(ctx, fieldNotificationID)
}

// WithContextLogger attaches the correlation and notification ids found in ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	var fields []zap.Field
	for _, f := range loggedContextFields {
		if v, ok := fieldFrom(ctx, f); ok {
			fields = append(fields, zap.String(string(f), v))
		}
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

func withField(ctx context.Context, f contextField, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, f, value)
}

func fieldFrom(ctx context.Context, f contextField) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(f).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
