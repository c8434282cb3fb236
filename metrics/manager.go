package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-web/types"
)

// NewManager builds the configured metrics backend, prometheus by default.
// Disabled metrics get a no-op manager.
func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics
	if metricsConfig == nil || !metricsConfig.Enabled {
		return NewNoopMetrics(), nil
	}

	switch metricsConfig.Type {
	case "", "prometheus":
		return NewPrometheusMetrics(ctx, logger, metricsConfig)
	case "memory":
		return NewMemoryMetrics(ctx, logger, metricsConfig)
	}

	return nil, types.Errorf(types.ErrMetricsConfigInvalid, "metrics type: %s", metricsConfig.Type)
}

type NoopMetrics struct {
	running int32
}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) Start() error {
	atomic.StoreInt32(&n.running, 1)
	return nil
}

func (n *NoopMetrics) Stop() error {
	atomic.StoreInt32(&n.running, 0)
	return nil
}

func (n *NoopMetrics) IsRunning() bool { return atomic.LoadInt32(&n.running) == 1 }

func (n *NoopMetrics) ObserveRequest(string, int, time.Duration) {}

func (n *NoopMetrics) ObservePolicy(string, string, string) {}

func (n *NoopMetrics) ObserveBodyParseFailure(bool) {}

func (n *NoopMetrics) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(http.StatusNotFound)
	}
}
