package middleware

import (
	"net/http"
	"testing"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-web/logger"
	"github.com/saiset-co/sai-web/metrics"
	"github.com/saiset-co/sai-web/types"
)

func TestLoggingStageScopesRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := testConfig(t, func(cfg *types.ServiceConfig) {
		cfg.HTTP.Logging.Enabled = true
		cfg.HTTP.Logging.LogHeaders = true
	})

	m := NewManager(cfg, logger.NewZapWrapper(zap.New(core)), metrics.NewNoopMetrics(), Options{
		Router: echoRouter(func(ctx *types.RequestCtx) error {
			return types.NewHTTPError(http.StatusNotFound, "Not Found")
		}),
	})
	if err := m.Configure(); err != nil {
		t.Fatalf("configure: %v", err)
	}

	fctx := serve(m, http.MethodGet, "/missing?q=1", func(req *fasthttp.Request) {
		req.Header.Set("Authorization", "Bearer secret")
	})

	requestID := string(fctx.Response.Header.Peek(RequestIDHeader))
	if requestID == "" {
		t.Fatal("response lacks a request id")
	}

	started := logs.FilterMessage("Request started").All()
	if len(started) != 1 {
		t.Fatalf("started entries = %d", len(started))
	}
	fields := started[0].ContextMap()
	if fields["request_id"] != requestID || fields["query"] != "q=1" {
		t.Errorf("start fields = %v", fields)
	}
	headers, _ := fields["headers"].(map[string]string)
	if headers["Authorization"] != "[REDACTED]" {
		t.Errorf("headers = %v", fields["headers"])
	}

	completed := logs.FilterMessage("Request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.WarnLevel {
		t.Fatalf("completed = %+v", completed)
	}
	if completed[0].ContextMap()["status"] != int64(http.StatusNotFound) {
		t.Errorf("status field = %v", completed[0].ContextMap()["status"])
	}
}

func TestLoggingStageKeepsIncomingRequestID(t *testing.T) {
	cfg := testConfig(t, func(cfg *types.ServiceConfig) { cfg.HTTP.Logging.Enabled = true })
	m := newPipeline(t, cfg, Options{Router: echoRouter(func(ctx *types.RequestCtx) error {
		return ctx.JSON(http.StatusOK, ctx.Locals["requestId"])
	})})

	fctx := serve(m, http.MethodGet, "/", func(req *fasthttp.Request) {
		req.Header.Set(RequestIDHeader, "abc-123")
	})

	if got := string(fctx.Response.Header.Peek(RequestIDHeader)); got != "abc-123" {
		t.Errorf("request id = %q", got)
	}
	if got := string(fctx.Response.Body()); got != "\"abc-123\"\n" {
		t.Errorf("body = %q", got)
	}
}
