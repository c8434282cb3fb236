package middleware

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
)

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"x-csrf-token":  true,
	"cookie":        true,
	"set-cookie":    true,
}

type LoggingStage struct {
	logger types.Logger
	config *types.LoggingConfig
}

func NewLoggingStage(logger types.Logger, config *types.LoggingConfig) *LoggingStage {
	if config == nil {
		config = &types.LoggingConfig{LogLevel: "info"}
	}
	return &LoggingStage{logger: logger, config: config}
}

func (l *LoggingStage) Name() string { return StageLogging }

const RequestIDHeader = "X-Request-ID"

// scopedLogger is implemented by loggers that can carry per-request fields.
type scopedLogger interface {
	With(fields ...zap.Field) types.Logger
}

func (l *LoggingStage) Handle(ctx *types.RequestCtx) error {
	start := time.Now()

	requestID := string(ctx.Request.Header.Peek(RequestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
		ctx.Request.Header.Set(RequestIDHeader, requestID)
	}
	ctx.Response.Header.Set(RequestIDHeader, requestID)
	ctx.Locals["requestId"] = requestID

	logger := l.logger
	if scoped, ok := logger.(scopedLogger); ok {
		logger = scoped.With(zap.String("request_id", requestID))
	}

	l.logRequest(ctx, logger)

	ctx.OnFinish(func() {
		l.logResponse(ctx, logger, time.Since(start))
	})

	return nil
}

func (l *LoggingStage) logRequest(ctx *types.RequestCtx, logger types.Logger) {
	fields := []zap.Field{
		zap.String("method", string(ctx.Method())),
		zap.String("path", string(ctx.Path())),
		zap.String("remote_addr", remoteAddr(ctx)),
		zap.String("user_agent", string(ctx.UserAgent())),
	}

	if query := ctx.QueryArgs().QueryString(); len(query) > 0 {
		fields = append(fields, zap.String("query", string(query)))
	}

	if l.config.LogHeaders {
		fields = append(fields, zap.Any("headers", sanitizeHeaders(ctx)))
	}

	logWithLevel(logger, l.config.LogLevel, "Request started", fields...)
}

func (l *LoggingStage) logResponse(ctx *types.RequestCtx, logger types.Logger, duration time.Duration) {
	status := ctx.Response.StatusCode()

	fields := []zap.Field{
		zap.Duration("duration", duration),
		zap.String("method", string(ctx.Method())),
		zap.String("path", string(ctx.Path())),
		zap.Int("status", status),
	}

	if controller, ok := ctx.Locals["controller"].(string); ok {
		fields = append(fields,
			zap.String("controller", controller),
			zap.Any("action", ctx.Locals["action"]))
	}

	switch {
	case status >= 500:
		logger.Error("Request completed", fields...)
	case status >= 400:
		logger.Warn("Request completed", fields...)
	default:
		logWithLevel(logger, l.config.LogLevel, "Request completed", fields...)
	}
}

func sanitizeHeaders(ctx *types.RequestCtx) map[string]string {
	sanitized := make(map[string]string, 16)

	ctx.Request.Header.VisitAll(func(key, value []byte) {
		name := string(key)
		if sensitiveHeaders[strings.ToLower(name)] {
			sanitized[name] = "[REDACTED]"
			return
		}
		sanitized[name] = string(value)
	})

	return sanitized
}

func remoteAddr(ctx *types.RequestCtx) string {
	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return forwarded
	}

	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	return ctx.RemoteIP().String()
}

func logWithLevel(logger types.Logger, level, msg string, fields ...zap.Field) {
	switch level {
	case "debug":
		logger.Debug(msg, fields...)
	case "warn":
		logger.Warn(msg, fields...)
	case "error":
		logger.Error(msg, fields...)
	default:
		logger.Info(msg, fields...)
	}
}
