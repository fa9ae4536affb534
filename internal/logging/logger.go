package logging

import (
	"context"

	"go.uber.org/zap"
)

type Logger struct {
	*zap.Logger
}

func New(level, format string) (*Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if level != "" {
		if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}
	lg, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{lg}, nil
}

// Nop 测试与未配置场景使用
func Nop() *Logger { return &Logger{zap.NewNop()} }

type ctxKey int

const (
	traceIDKey ctxKey = iota
	userIDKey
	loggerKey
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(traceIDKey).(string)
	return s
}

// WithContext 带上 trace_id / user_id 字段
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.Logger
	}
	fields := make([]zap.Field, 0, 2)
	if s, ok := ctx.Value(traceIDKey).(string); ok && s != "" {
		fields = append(fields, zap.String("trace_id", s))
	}
	if s, ok := ctx.Value(userIDKey).(string); ok && s != "" {
		fields = append(fields, zap.String("user_id", s))
	}
	if len(fields) == 0 {
		return l.Logger
	}
	return l.Logger.With(fields...)
}

// IntoContext 将请求级 logger 放入 context
func IntoContext(ctx context.Context, lg *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, lg)
}

// FromContext 取不到时退回 fallback（可为 nil，此时返回 Nop）
func FromContext(ctx context.Context, fallback *Logger) *zap.Logger {
	if lg, ok := ctx.Value(loggerKey).(*zap.Logger); ok && lg != nil {
		return lg
	}
	if fallback != nil {
		return fallback.WithContext(ctx)
	}
	return zap.NewNop()
}
