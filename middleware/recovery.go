package middleware

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
	"github.com/saiset-co/sai-web/utils"
)

var stackBufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 4096)
		return &buf
	},
}

func (m *Manager) runStage(ctx *types.RequestCtx, e *entry) (err error) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			m.logPanic(ctx, e.name, rec)
			err = types.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}

		if err != nil {
			m.logger.Debug("Stage failed",
				zap.String("stage", e.name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
		}
	}()

	return e.stage.Handle(ctx)
}

func (m *Manager) runErrorStage(ctx *types.RequestCtx, e *entry, in error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logPanic(ctx, e.name, rec)
			err = types.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
	}()

	return e.onErr.HandleError(ctx, in)
}

func (m *Manager) logPanic(ctx *types.RequestCtx, stage string, rec interface{}) {
	fields := []zap.Field{
		zap.Any("panic", rec),
		zap.String("stage", stage),
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.String("stack", stackTrace()),
	}

	if requestID := ctx.Request.Header.Peek(RequestIDHeader); len(requestID) > 0 {
		fields = append(fields, zap.ByteString("request_id", requestID))
	}

	if userAgent := ctx.UserAgent(); len(userAgent) > 0 {
		fields = append(fields, zap.ByteString("user_agent", userAgent))
	}

	m.logger.Error("Recovered from panic", fields...)
}

func stackTrace() string {
	buf := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(buf)

	n := runtime.Stack(*buf, false)
	if n < len(*buf) {
		return string((*buf)[:n])
	}

	bigger := make([]byte, 65536)
	n = runtime.Stack(bigger, false)
	return utils.BytesToString(bigger[:n])
}

func writeServerError(ctx *types.RequestCtx) {
	utils.CreateErrorResponse(ctx.RequestCtx, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}
