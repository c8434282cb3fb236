package middleware

import (
	"time"

	"github.com/saiset-co/sai-web/types"
)

func NewPoweredByStage(value string) types.Stage {
	return types.NewStage(StagePoweredBy, func(ctx *types.RequestCtx) error {
		ctx.Response.Header.Set("X-Powered-By", value)
		return nil
	})
}

// NewLocalsStage exposes request state to views through ctx.Locals.
func NewLocalsStage() types.Stage {
	return types.NewStage(StageLocals, func(ctx *types.RequestCtx) error {
		ctx.Locals["path"] = string(ctx.Path())
		ctx.Locals["method"] = string(ctx.Method())
		if ctx.Session != nil {
			ctx.Locals["session"] = ctx.Session.Values
		}
		if _, ok := ctx.Locals[csrfField]; !ok {
			ctx.Locals[csrfField] = ctx.CSRFToken()
		}
		return nil
	})
}

// NewMetricsStage records every request once the pipeline finishes.
func NewMetricsStage(metrics types.MetricsManager) types.Stage {
	return types.NewStage(StageMetrics, func(ctx *types.RequestCtx) error {
		start := time.Now()
		method := string(ctx.Method())
		ctx.OnFinish(func() {
			metrics.ObserveRequest(method, ctx.Response.StatusCode(), time.Since(start))
		})
		return nil
	})
}
