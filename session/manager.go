package session

import (
	"context"
	"sync"

	"github.com/saiset-co/sai-web/types"
)

// StoreCreator builds a custom session store from its raw config block.
type StoreCreator func(ctx context.Context, config interface{}) (types.SessionStore, error)

var (
	creatorsMu          sync.RWMutex
	customStoreCreators = make(map[string]StoreCreator)
)

func RegisterStore(storeName string, creator StoreCreator) {
	creatorsMu.Lock()
	defer creatorsMu.Unlock()
	customStoreCreators[storeName] = creator
}

func NewStore(ctx context.Context, config *types.SessionConfig, logger types.Logger) (types.SessionStore, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	switch config.Store {
	case "", "memory":
		return NewMemoryStore(ctx, logger, config)
	case "redis":
		return NewRedisStore(ctx, logger, config)
	}

	creatorsMu.RLock()
	creator, exists := customStoreCreators[config.Store]
	creatorsMu.RUnlock()

	if !exists {
		return nil, types.Errorf(types.ErrSessionStoreUnknown, "type: %s", config.Store)
	}

	return creator(ctx, config.Config)
}

func cloneSession(s *types.Session) *types.Session {
	clone := &types.Session{
		ID:        s.ID,
		CSRFToken: s.CSRFToken,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		Values:    make(map[string]interface{}, len(s.Values)),
	}
	for k, v := range s.Values {
		clone.Values[k] = v
	}
	return clone
}
