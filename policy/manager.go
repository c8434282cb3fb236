package policy

import (
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
)

// Manager owns the compiled policy table and gates controller actions with it.
type Manager struct {
	logger   types.Logger
	metrics  types.MetricsManager
	registry *Registry
	executor *Executor
	table    atomic.Pointer[Table]
	mu       sync.Mutex
}

func NewManager(logger types.Logger, metrics types.MetricsManager, registry *Registry) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}

	m := &Manager{
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		executor: NewExecutor(logger),
	}
	m.table.Store(EmptyTable())

	return m
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) Register(name string, fn types.Policy) error {
	return m.registry.Register(name, fn)
}

// Load compiles raw and swaps it in. On error the current table is kept.
func (m *Manager) Load(raw map[string]interface{}) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := Compile(cfg, m.registry)
	if err != nil {
		return err
	}

	m.table.Store(table)

	m.logger.Info("Policy table loaded",
		zap.Int("controllers", len(table.controllers)),
		zap.Bool("global", table.global != nil))

	return nil
}

func (m *Manager) Resolve(controller, action string) Resolution {
	return m.table.Load().Resolve(controller, action)
}

// Gate returns a route target that runs the resolved policy chain before act.
// The action result is written as JSON unless the action already responded.
func (m *Manager) Gate(controller, action string, act types.Action) types.Handler {
	return func(ctx *types.RequestCtx) error {
		resolution := m.Resolve(controller, action)
		outcome := m.executor.Run(ctx, resolution.Chain)

		m.metrics.ObservePolicy(controller, action, string(outcome.State))

		switch outcome.State {
		case StateAllowed:
			result, err := act(ctx)
			if err != nil {
				return err
			}
			if result == nil || ctx.Responded() {
				return nil
			}
			return ctx.JSON(http.StatusOK, result)

		case StateFaulted:
			m.logger.Error("Policy fault",
				zap.String("controller", controller),
				zap.String("action", action),
				zap.String("policy", outcome.Policy),
				zap.String("source", string(resolution.Source)),
				zap.Error(outcome.Err))
			return outcome.Err

		default:
			m.logger.Debug("Policy denied request",
				zap.String("controller", controller),
				zap.String("action", action),
				zap.String("policy", outcome.Policy),
				zap.String("source", string(resolution.Source)))
			return outcome.Err
		}
	}
}
