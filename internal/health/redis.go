package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"knowledgeworkspace/internal/config"
)

// RedisCache is a Redis-backed Cache, for multi-instance deployments
// that want to share one health cache instead of each instance probing
// independently. Grounded on the teacher's
// internal/skills/redis_cache.go RedisSkillsCache: same
// Ping-on-construct, same "err != redis.Nil is the only error worth
// logging" Get behavior, same nil-receiver safety.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache builds a Redis-backed cache when cfg.RedisAddr is set.
// Returns nil, nil when disabled so callers fall back to MemoryCache.
func NewRedisCache(cfg config.HealthConfig) (*RedisCache, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("health redis cache ping: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (ServiceStatus, bool) {
	if c == nil || c.client == nil {
		return ServiceStatus{}, false
	}
	val, err := c.client.Get(ctx, "health:"+key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("health_redis_cache_get_error")
		}
		return ServiceStatus{}, false
	}
	var status ServiceStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("health_redis_cache_unmarshal_error")
		return ServiceStatus{}, false
	}
	return status, true
}

func (c *RedisCache) Set(ctx context.Context, key string, status ServiceStatus, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("health_redis_cache_marshal_error")
		return
	}
	if err := c.client.Set(ctx, "health:"+key, data, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("health_redis_cache_set_error")
	}
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
