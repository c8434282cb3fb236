package metrics

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
	"github.com/saiset-co/sai-web/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

// MetricValue is one counter in a memory metrics snapshot.
type MetricValue struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

type MetricsSnapshot struct {
	Metrics   []MetricValue `json:"metrics"`
	Timestamp time.Time     `json:"timestamp"`
}

type memoryCounter struct {
	name   string
	kind   string
	labels map[string]string
	bits   uint64
}

func (c *memoryCounter) add(delta float64) {
	for {
		old := atomic.LoadUint64(&c.bits)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(&c.bits, old, next) {
			return
		}
	}
}

func (c *memoryCounter) get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.bits))
}

// MemoryMetrics keeps pipeline counters in process and serves them as JSON.
type MemoryMetrics struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	config   *types.MetricsConfig
	counters map[string]*memoryCounter
	state    atomic.Value
	mu       sync.RWMutex
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (*MemoryMetrics, error) {
	if config == nil {
		return nil, types.ErrMetricsConfigInvalid
	}

	metricsCtx, cancel := context.WithCancel(ctx)

	m := &MemoryMetrics{
		ctx:      metricsCtx,
		cancel:   cancel,
		logger:   logger,
		config:   config,
		counters: make(map[string]*memoryCounter),
	}
	m.state.Store(MemoryStateStopped)

	logger.Info("Memory metrics initialized")
	return m, nil
}

func (m *MemoryMetrics) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		return types.ErrServerAlreadyRunning
	}
	m.setState(MemoryStateRunning)
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		return types.ErrServerNotRunning
	}
	m.cancel()
	m.setState(MemoryStateStopped)
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryMetrics) ObserveRequest(method string, status int, duration time.Duration) {
	m.counter("requests_total", "counter", map[string]string{"method": method, "status": strconv.Itoa(status)}).add(1)
	m.counter("request_duration_seconds_sum", "summary", map[string]string{"method": method}).add(duration.Seconds())
}

func (m *MemoryMetrics) ObservePolicy(controller, action, outcome string) {
	m.counter("policy_decisions_total", "counter", map[string]string{
		"controller": controller,
		"action":     action,
		"outcome":    outcome,
	}).add(1)
}

func (m *MemoryMetrics) ObserveBodyParseFailure(recovered bool) {
	m.counter("body_parse_failures_total", "counter", map[string]string{
		"recovered": strconv.FormatBool(recovered),
	}).add(1)
}

// Value returns the counter named name with exactly labels, 0 when absent.
func (m *MemoryMetrics) Value(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.counters[m.buildKey(name, labels)]; ok {
		return c.get()
	}
	return 0
}

func (m *MemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	values := make([]MetricValue, 0, len(m.counters))
	for _, c := range m.counters {
		values = append(values, MetricValue{Name: c.name, Type: c.kind, Value: c.get(), Labels: c.labels})
	}
	m.mu.RUnlock()

	sort.Slice(values, func(i, j int) bool {
		if values[i].Name != values[j].Name {
			return values[i].Name < values[j].Name
		}
		return m.buildKey("", values[i].Labels) < m.buildKey("", values[j].Labels)
	})

	return MetricsSnapshot{Metrics: values, Timestamp: time.Now()}
}

func (m *MemoryMetrics) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !m.IsRunning() {
			utils.CreateErrorResponse(ctx, http.StatusServiceUnavailable, "metrics not running")
			return
		}

		body, err := utils.Marshal(m.Snapshot())
		if err != nil {
			m.logger.Error("Failed to encode metrics", zap.Error(err))
			utils.CreateErrorResponse(ctx, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		ctx.SetStatusCode(http.StatusOK)
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	}
}

func (m *MemoryMetrics) counter(name, kind string, labels map[string]string) *memoryCounter {
	for k, v := range m.config.Labels {
		if _, set := labels[k]; !set {
			labels[k] = v
		}
	}

	key := m.buildKey(name, labels)

	m.mu.RLock()
	c, ok := m.counters[key]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok = m.counters[key]; ok {
		return c
	}
	c = &memoryCounter{name: name, kind: kind, labels: labels}
	m.counters[key] = c
	return c
}

func (m *MemoryMetrics) buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64)
	buf = append(buf, name...)
	for _, k := range keys {
		buf = append(buf, '_')
		buf = append(buf, k...)
		buf = append(buf, '_')
		buf = append(buf, labels[k]...)
	}
	return string(buf)
}

func (m *MemoryMetrics) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryMetrics) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryMetrics) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}
