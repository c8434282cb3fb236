package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
	"github.com/saiset-co/sai-web/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type MemoryConfig struct {
	MaxEntries int `json:"max_entries"`
}

type memoryEntry struct {
	session   *types.Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Expired entries are dropped lazily
// on read and periodically by a cron sweep.
type MemoryStore struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *MemoryConfig
	schedule        string
	cron            *cron.Cron
	data            map[string]*memoryEntry
	mu              sync.RWMutex
	state           atomic.Value
	shutdownTimeout time.Duration
	now             func() time.Time
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.SessionConfig) (*MemoryStore, error) {
	memConfig := &MemoryConfig{
		MaxEntries: 100000,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory session config")
		}
	}

	schedule := config.SweepSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}

	storeCtx, cancel := context.WithCancel(ctx)

	store := &MemoryStore{
		ctx:    storeCtx,
		cancel: cancel,
		logger: logger,
		config: memConfig,
		cron: cron.New(
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		schedule:        schedule,
		data:            make(map[string]*memoryEntry),
		shutdownTimeout: 5 * time.Second,
		now:             time.Now,
	}
	store.state.Store(StateStopped)

	if _, err := store.cron.AddFunc(schedule, func() { store.Sweep() }); err != nil {
		cancel()
		return nil, types.WrapError(err, "invalid session sweep schedule")
	}

	return store, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	entry, exists := m.data[id]
	m.mu.RUnlock()

	if !exists {
		return nil, types.ErrSessionNotFound
	}

	if m.expired(entry) {
		m.mu.Lock()
		if current, ok := m.data[id]; ok && m.expired(current) {
			delete(m.data, id)
		}
		m.mu.Unlock()
		return nil, types.ErrSessionNotFound
	}

	return cloneSession(entry.session), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *types.Session, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.ID == "" {
		return types.Errorf(types.ErrInvalidParameter, "session id is empty")
	}

	entry := &memoryEntry{session: cloneSession(s)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[s.ID]; !exists && m.config.MaxEntries > 0 && len(m.data) >= m.config.MaxEntries {
		m.sweepUnsafe()
		if len(m.data) >= m.config.MaxEntries {
			return types.NewErrorf("session store is full: %d entries", m.config.MaxEntries)
		}
	}

	m.data[s.ID] = entry
	return nil
}

func (m *MemoryStore) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.data, id)
	m.mu.Unlock()
	return nil
}

// Sweep removes expired sessions and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	removed := m.sweepUnsafe()
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Debug("Expired sessions swept", zap.Int("removed", removed))
	}
	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.cron.Start()
	m.setState(StateRunning)

	m.logger.Info("Memory session store started", zap.String("sweep_schedule", m.schedule))
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(StateStopped)
		m.cancel()
	}()

	stopCtx := m.cron.Stop()

	timer := time.NewTimer(m.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-stopCtx.Done():
		m.logger.Info("Memory session store stopped")
	case <-timer.C:
		m.logger.Warn("Memory session store sweeper shutdown timeout")
	}

	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryStore) sweepUnsafe() int {
	removed := 0
	for id, entry := range m.data {
		if m.expired(entry) {
			delete(m.data, id)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) expired(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt)
}

func (m *MemoryStore) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryStore) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(kvFields(keysAndValues), zap.Error(err))...)
}

func kvFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
