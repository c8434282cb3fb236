package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
	"github.com/saiset-co/sai-web/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

// RedisStore persists sessions as JSON documents with a redis TTL.
type RedisStore struct {
	ctx     context.Context
	logger  types.Logger
	config  *RedisConfig
	client  *redis.Client
	started int32
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.SessionConfig) (*RedisStore, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "sai-web:sess",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis session config")
		}
	}

	store := &RedisStore{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
		client: redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
			Password:     redisConfig.Password,
			DB:           redisConfig.DB,
			PoolSize:     redisConfig.PoolSize,
			MinIdleConns: redisConfig.MinIdleConnections,
			DialTimeout:  redisConfig.DialTimeout,
			ReadTimeout:  redisConfig.ReadTimeout,
			WriteTimeout: redisConfig.WriteTimeout,
		}),
	}

	if err := store.ping(); err != nil {
		_ = store.client.Close()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return store, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*types.Session, error) {
	if id == "" {
		return nil, types.ErrSessionNotFound
	}

	data, err := r.client.Get(ctx, r.buildKey(id)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, types.ErrSessionNotFound
		}
		return nil, types.WrapError(err, "failed to get session")
	}

	var s types.Session
	if err := utils.Unmarshal(data, &s); err != nil {
		r.logger.Error("failed to unmarshal session", zap.String("id", id), zap.Error(err))
		r.client.Del(ctx, r.buildKey(id))
		return nil, types.ErrSessionNotFound
	}

	if s.Values == nil {
		s.Values = make(map[string]interface{})
	}

	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *types.Session, ttl time.Duration) error {
	if s == nil || s.ID == "" {
		return types.Errorf(types.ErrInvalidParameter, "session id is empty")
	}

	data, err := utils.Marshal(s)
	if err != nil {
		return types.WrapError(err, "failed to marshal session")
	}

	if err := r.client.Set(ctx, r.buildKey(s.ID), data, ttl).Err(); err != nil {
		r.logger.Error("failed to save session", zap.String("id", s.ID), zap.Error(err))
		return types.WrapError(err, "failed to save session")
	}

	return nil
}

func (r *RedisStore) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	if err := r.client.Del(ctx, r.buildKey(id)).Err(); err != nil {
		return types.WrapError(err, "failed to destroy session")
	}
	return nil
}

func (r *RedisStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	r.logger.Info("Redis session store started", zap.String("prefix", r.config.KeyPrefix))
	return nil
}

func (r *RedisStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return nil
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis session store closed")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisStore) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.Ping(ctx)
}

// Ping reports whether the redis server answers.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) buildKey(id string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + id
	}
	return id
}
