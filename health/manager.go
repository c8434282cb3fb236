package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-web/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	HealthPath  = "/health"
	VersionPath = "/version"
)

// Manager runs registered checkers in parallel and serves the report on
// /health and build details on /version.
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	config       types.ConfigManager
	logger       types.Logger
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	mu           sync.RWMutex
	state        atomic.Value
	checkTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	checkTimeout := 5 * time.Second
	if cfg := config.GetConfig().Health; cfg != nil && cfg.CheckTimeout > 0 {
		checkTimeout = time.Duration(cfg.CheckTimeout) * time.Second
	}

	manager := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		config:       config,
		logger:       logger,
		checkers:     make(map[string]types.HealthChecker),
		startTime:    time.Now(),
		checkTimeout: checkTimeout,
	}
	manager.state.Store(StateStopped)

	return manager
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// LifecycleChecker reports healthy while component is running.
func LifecycleChecker(component types.LifecycleManager) types.HealthChecker {
	return func(context.Context) types.HealthCheck {
		if component.IsRunning() {
			return types.HealthCheck{Status: types.StatusHealthy}
		}
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "not running"}
	}
}

// PingChecker reports the result of ping against the check deadline.
func PingChecker(ping func(ctx context.Context) error) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		if err := ping(ctx); err != nil {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: err.Error()}
		}
		return types.HealthCheck{Status: types.StatusHealthy}
	}
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return hm.buildReport(results)
}

func (hm *Manager) Start() error {
	if !hm.transitionState(StateStopped, StateStarting) {
		hm.logger.Warn("Health manager is already running")
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()
	hm.setState(StateRunning)

	hm.logger.Info("Health manager started")
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	hm.cancel()
	hm.setState(StateStopped)

	hm.logger.Info("Health manager stopped")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.getState() == StateRunning
}

func (hm *Manager) getState() State {
	return hm.state.Load().(State)
}

func (hm *Manager) setState(newState State) bool {
	currentState := hm.getState()
	return hm.state.CompareAndSwap(currentState, newState)
}

func (hm *Manager) transitionState(from, to State) bool {
	return hm.state.CompareAndSwap(from, to)
}

// Bind adds the health and version routes to table.
func (hm *Manager) Bind(table types.RouteTable) error {
	routes := []types.Route{
		{Verb: http.MethodGet, Path: HealthPath, Target: hm.handleHealth},
		{Verb: http.MethodGet, Path: VersionPath, Target: hm.handleVersion},
	}

	for _, route := range routes {
		if err := table.Bind(route); err != nil {
			return err
		}
	}
	return nil
}

func (hm *Manager) handleVersion(ctx *types.RequestCtx) error {
	return ctx.JSON(http.StatusOK, types.VersionInfo{
		Version: hm.config.GetConfig().Version,
		Build:   buildInfo(),
	})
}

func (hm *Manager) handleHealth(ctx *types.RequestCtx) error {
	if !hm.IsRunning() {
		return types.NewHTTPError(http.StatusServiceUnavailable, "health manager is not running")
	}

	report := hm.Check(ctx.Context())

	status := http.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	return ctx.JSON(status, report)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()
	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("Health check panicked: %v", r),
				}
			}
		}()

		resultChan <- checker(ctx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-hm.ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health manager shutting down"}
	case <-ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health check timeout"}
	}

	result.Name = name
	result.LastCheck = time.Now()
	result.Duration = time.Since(start)

	if result.Status == types.StatusUnhealthy {
		hm.logger.Warn("Health check failed", zap.String("check", name), zap.String("message", result.Message))
	}

	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	config := hm.config.GetConfig()

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := types.StatusHealthy
	for _, name := range names {
		switch results[name].Status {
		case types.StatusUnhealthy:
			overall = types.StatusUnhealthy
		case types.StatusUnknown:
			if overall == types.StatusHealthy {
				overall = types.StatusUnknown
			}
		}
	}

	return types.HealthReport{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime).Round(time.Second).String(),
		Service: types.ServiceInfo{
			Name:        config.Name,
			Version:     config.Version,
			Environment: config.Environment,
		},
		Checks: results,
	}
}
