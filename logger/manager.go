package logger

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-web/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	state  atomic.Value
}

var creatorsMu sync.RWMutex

var customLoggerCreators = make(map[string]types.LoggerCreator)

func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	creatorsMu.Lock()
	defer creatorsMu.Unlock()
	customLoggerCreators[loggerName] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager) (*Manager, error) {
	loggerConfig := config.GetConfig().Logger
	if loggerConfig == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	logger, err := createLogger(loggerConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	return NewManagerWithLogger(ctx, logger), nil
}

// NewManagerWithLogger wraps an already built logger, e.g. an observer in tests.
// Loggers that support it are shifted one frame so callers of the manager are
// reported instead of the manager.
func NewManagerWithLogger(ctx context.Context, logger types.Logger) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	if skipper, ok := logger.(interface {
		WithCallerSkip(int) types.Logger
	}); ok {
		logger = skipper.WithCallerSkip(1)
	}

	manager := &Manager{
		ctx:    managerCtx,
		cancel: cancel,
		logger: logger,
	}
	manager.state.Store(StateStopped)

	return manager
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}
	m.setState(StateRunning)
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(StateStopped)
		m.cancel()
	}()

	if syncer, ok := m.logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) Error(msg string, fields ...zap.Field) {
	m.logger.Error(msg, fields...)
}

func (m *Manager) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if stacked, ok := m.logger.(interface {
		ErrorWithErrStack(string, error, ...zap.Field)
	}); ok {
		stacked.ErrorWithErrStack(msg, err, fields...)
		return
	}
	m.logger.Error(msg, append(fields, zap.Error(err))...)
}

// With returns a logger carrying fields, or the manager itself when the
// underlying logger cannot scope fields.
func (m *Manager) With(fields ...zap.Field) types.Logger {
	if scoped, ok := m.logger.(interface {
		With(...zap.Field) types.Logger
	}); ok {
		return scoped.With(fields...)
	}
	return m
}

func (m *Manager) Warn(msg string, fields ...zap.Field) {
	m.logger.Warn(msg, fields...)
}

func (m *Manager) Info(msg string, fields ...zap.Field) {
	m.logger.Info(msg, fields...)
}

func (m *Manager) Debug(msg string, fields ...zap.Field) {
	m.logger.Debug(msg, fields...)
}

func (m *Manager) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	m.logger.Log(lvl, msg, fields...)
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func createLogger(loggerConfig *types.LoggerConfig) (types.Logger, error) {
	loggerName := "default"
	if loggerConfig.Type != "" {
		loggerName = loggerConfig.Type
	}

	if loggerName == "default" {
		return NewDefaultLogger(loggerConfig)
	}

	creatorsMu.RLock()
	creator, exists := customLoggerCreators[loggerName]
	creatorsMu.RUnlock()

	if !exists {
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerName)
	}
	return creator(loggerConfig.Config)
}
