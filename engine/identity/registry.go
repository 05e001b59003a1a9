package identity

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry records which unique key owns an ID. Claim returns true when the
// id is free or already owned by key.
type Registry interface {
	Claim(ctx context.Context, id uint64, key string) (bool, error)
	Reset(ctx context.Context) error
}

// MemoryRegistry lives for the process lifetime.
type MemoryRegistry struct {
	mu     sync.Mutex
	owners map[uint64]string
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{owners: make(map[uint64]string)}
}

func (m *MemoryRegistry) Claim(_ context.Context, id uint64, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[id]
	if !ok {
		m.owners[id] = key
		return true, nil
	}
	return owner == key, nil
}

func (m *MemoryRegistry) Reset(_ context.Context) error {
	m.mu.Lock()
	m.owners = make(map[uint64]string)
	m.mu.Unlock()
	return nil
}

// Len returns the number of claimed IDs.
func (m *MemoryRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.owners)
}

// RedisRegistry shares claims between processes through one Redis hash per
// collection.
type RedisRegistry struct {
	rdb  redis.Cmdable
	hash string
}

// NewRedisRegistry wraps an existing client.
func NewRedisRegistry(rdb redis.Cmdable, collection string) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, hash: "consolidator:ids:" + collection}
}

// DialRedis connects and pings, closing the client when the ping fails.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("identity: redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisRegistry) Claim(ctx context.Context, id uint64, key string) (bool, error) {
	field := strconv.FormatUint(id, 10)
	set, err := r.rdb.HSetNX(ctx, r.hash, field, key).Result()
	if err != nil {
		return false, fmt.Errorf("identity: hsetnx: %w", err)
	}
	if set {
		return true, nil
	}
	owner, err := r.rdb.HGet(ctx, r.hash, field).Result()
	if err != nil {
		return false, fmt.Errorf("identity: hget: %w", err)
	}
	return owner == key, nil
}

func (r *RedisRegistry) Reset(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.hash).Err(); err != nil {
		return fmt.Errorf("identity: del: %w", err)
	}
	return nil
}
