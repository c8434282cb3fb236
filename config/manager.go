package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-web/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type snapshot struct {
	config *types.ServiceConfig
	parser *Parser
}

// ConfigurationManager holds the current configuration. Reloads replace the
// whole snapshot so readers never observe a partial config.
type ConfigurationManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	configPath  string
	loader      *Loader
	current     atomic.Pointer[snapshot]
	state       atomic.Value
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := newManager(ctx, configPath)

	if err := cm.Load(); err != nil {
		cm.cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager serves an in-memory configuration; Load re-validates it.
func NewStaticManager(ctx context.Context, config *types.ServiceConfig, raw map[string]interface{}) (*ConfigurationManager, error) {
	cm := newManager(ctx, "")

	if err := cm.loader.Validate(config); err != nil {
		cm.cancel()
		return nil, err
	}

	if raw == nil {
		raw = map[string]interface{}{"policies": config.Policies}
	}

	cm.current.Store(&snapshot{config: config, parser: NewParser(raw)})
	return cm, nil
}

func newManager(ctx context.Context, configPath string) *ConfigurationManager {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:         managerCtx,
		cancel:      cancel,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}
	cm.state.Store(StateStopped)

	return cm
}

func (cm *ConfigurationManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}
	cm.setState(StateRunning)
	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	cm.cancel()
	cm.setState(StateStopped)
	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *ConfigurationManager) Load() error {
	return cm.LoadWith(nil)
}

// LoadWith reads the configuration and hands it to accept before swapping it
// in. When accept fails the previous snapshot stays current.
func (cm *ConfigurationManager) LoadWith(accept func(*types.ServiceConfig) error) error {
	if cm.configPath == "" {
		snap := cm.current.Load()
		if snap == nil {
			return types.ErrConfigNotFound
		}
		if err := cm.loader.Validate(snap.config); err != nil {
			return err
		}
		if accept != nil {
			return accept(snap.config)
		}
		return nil
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, raw, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	if accept != nil {
		if err := accept(config); err != nil {
			return err
		}
	}

	cm.current.Store(&snapshot{config: config, parser: NewParser(raw)})
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	if snap := cm.current.Load(); snap != nil {
		return snap.config
	}
	return nil
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	snap := cm.current.Load()
	if snap == nil {
		return defaultValue
	}
	return snap.parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	snap := cm.current.Load()
	if snap == nil {
		return types.ErrConfigNotFound
	}
	return snap.parser.GetAs(path, target)
}

func (cm *ConfigurationManager) GetAllPaths() []string {
	snap := cm.current.Load()
	if snap == nil {
		return nil
	}
	return snap.parser.GetAllPaths()
}

func (cm *ConfigurationManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *ConfigurationManager) setState(newState State) bool {
	currentState := cm.getState()
	return cm.state.CompareAndSwap(currentState, newState)
}

func (cm *ConfigurationManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}
