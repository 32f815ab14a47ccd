package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// SessionStore caches login tokens per backend.  Readers may get a token
// the remote side has already expired; Client handles that with one
// forced refresh.
type SessionStore interface {
	Get(ctx context.Context, key string) (token string, ok bool, err error)
	Set(ctx context.Context, key, token string) error
	Delete(ctx context.Context, key string) error
}

//
// Redis
//

// keyPrefix namespaces session keys in Redis.
const keyPrefix = "treehole:social:session:"

// RedisSessions shares tokens between all processes using one Redis.
type RedisSessions struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisSessions stores tokens in rdb for ttl.
func NewRedisSessions(rdb redis.Cmdable, ttl time.Duration) *RedisSessions {
	return &RedisSessions{rdb: rdb, ttl: ttl}
}

func (s *RedisSessions) Get(ctx context.Context, key string) (string, bool, error) {
	tok, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session GET: %w", err)
	}
	return tok, true, nil
}

func (s *RedisSessions) Set(ctx context.Context, key, token string) error {
	if err := s.rdb.Set(ctx, keyPrefix+key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("session SET: %w", err)
	}
	return nil
}

func (s *RedisSessions) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("session DEL: %w", err)
	}
	return nil
}

//
// In-process
//

// MemorySessions keeps tokens in a bounded LRU with TTL.  Each process
// logs in on its own.
type MemorySessions struct {
	cache *expirable.LRU[string, string]
}

// NewMemorySessions holds up to size tokens for ttl each.
func NewMemorySessions(size int, ttl time.Duration) *MemorySessions {
	return &MemorySessions{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (s *MemorySessions) Get(_ context.Context, key string) (string, bool, error) {
	tok, ok := s.cache.Get(key)
	return tok, ok, nil
}

func (s *MemorySessions) Set(_ context.Context, key, token string) error {
	s.cache.Add(key, token)
	return nil
}

func (s *MemorySessions) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}
