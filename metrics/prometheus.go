package metrics

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
)

type PrometheusMetrics struct {
	ctx       context.Context
	logger    types.Logger
	config    *types.MetricsConfig
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	policies  *prometheus.CounterVec
	parseFail *prometheus.CounterVec
	handler   fasthttp.RequestHandler
	running   int32
}

func NewPrometheusMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	if config == nil {
		return nil, types.ErrMetricsConfigInvalid
	}

	namespace := config.Namespace
	if namespace == "" {
		namespace = "sai_web"
	}

	registry := prometheus.NewRegistry()
	if config.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	p := &PrometheusMetrics{
		ctx:      ctx,
		logger:   logger,
		config:   config,
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "requests_total",
			Help:        "HTTP requests processed by the pipeline.",
			ConstLabels: config.Labels,
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "request_duration_seconds",
			Help:        "Time spent in the request pipeline.",
			ConstLabels: config.Labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
		policies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "policy_decisions_total",
			Help:        "Policy chain outcomes per controller action.",
			ConstLabels: config.Labels,
		}, []string{"controller", "action", "outcome"}),
		parseFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "body_parse_failures_total",
			Help:        "Request bodies the configured parser rejected.",
			ConstLabels: config.Labels,
		}, []string{"recovered"}),
	}

	for _, c := range []prometheus.Collector{p.requests, p.duration, p.policies, p.parseFail} {
		if err := registry.Register(c); err != nil {
			return nil, types.WrapError(err, "failed to register collector")
		}
	}

	p.handler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", namespace),
		zap.Bool("go_metrics", config.EnableGoMetrics))

	return p, nil
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	p.logger.Info("Prometheus metrics started")
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	p.logger.Info("Prometheus metrics stopped")
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func (p *PrometheusMetrics) ObserveRequest(method string, status int, duration time.Duration) {
	p.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	p.duration.WithLabelValues(method).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObservePolicy(controller, action, outcome string) {
	p.policies.WithLabelValues(controller, action, outcome).Inc()
}

func (p *PrometheusMetrics) ObserveBodyParseFailure(recovered bool) {
	p.parseFail.WithLabelValues(strconv.FormatBool(recovered)).Inc()
}

func (p *PrometheusMetrics) Handler() fasthttp.RequestHandler {
	return p.handler
}

func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// Value returns the current value of a counter or gauge series, or the sample
// count of a histogram. Unknown series read as zero.
func (p *PrometheusMetrics) Value(name string, labels map[string]string) float64 {
	families, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return 0
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			switch {
			case m.Counter != nil:
				return m.Counter.GetValue()
			case m.Gauge != nil:
				return m.Gauge.GetValue()
			case m.Histogram != nil:
				return float64(m.Histogram.GetSampleCount())
			}
		}
	}

	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range m.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if want != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}
