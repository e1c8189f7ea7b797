// Package params is the parameter store shared between the server and its
// operators: per-robot state under "<prefix>/drone_<id>/state" and the
// "<prefix>/shutdown" request flag.
package params

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-mdp/internal/config"
	"github.com/teslashibe/go-mdp/internal/log"
)

// ErrNotSet is returned by Get for a missing parameter.
var ErrNotSet = errors.New("params: not set")

// Store reads and writes string parameters.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Keys builds parameter names under a common prefix.
type Keys struct {
	Prefix string
}

func (k Keys) join(parts ...string) string {
	if k.Prefix == "" {
		return strings.Join(parts, "/")
	}
	return k.Prefix + "/" + strings.Join(parts, "/")
}

// State is the key holding a robot's state name.
func (k Keys) State(id uint32) string {
	return k.join(fmt.Sprintf("drone_%d", id), "state")
}

// Shutdown is the key operators set to "true" to stop the server.
func (k Keys) Shutdown() string {
	return k.join("shutdown")
}

// Open connects to Redis when an address is configured. If the server is
// unreachable the parameters are kept in memory instead.
func Open(ctx context.Context, cfg config.RedisConfig) Store {
	if cfg.Address == "" {
		return NewMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis not available, keeping parameters in memory", "addr", cfg.Address, "error", err)
		client.Close()
		return NewMemory()
	}
	log.Info("redis connected", "addr", cfg.Address)
	return NewRedisStore(client)
}

// RedisStore keeps parameters as plain Redis strings.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotSet
	}
	return v, err
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotSet
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Bool reads key as a boolean. Missing or unparsable values are false.
func Bool(ctx context.Context, s Store, key string) bool {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// WatchShutdown polls the shutdown flag every interval and calls fn once
// when it reads true. The flag is cleared so the next start is not stopped
// immediately. It returns when ctx is done or after fn ran.
func WatchShutdown(ctx context.Context, s Store, keys Keys, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !Bool(ctx, s, keys.Shutdown()) {
				continue
			}
			log.Info("shutdown requested through parameter", "key", keys.Shutdown())
			if err := s.Set(ctx, keys.Shutdown(), "false"); err != nil {
				log.Warn("failed to clear shutdown parameter", "error", err)
			}
			fn()
			return
		}
	}
}
