package redis

import (
	"context"
	"time"

	"storyboard-ai-generation/internal/domain/model"
)

// HealthCache shares probe outcomes between orchestrator instances so a
// freshly probed backend is not re-probed everywhere at once. Entries expire
// quickly: a cached "offline" must not outlive a recovering backend.
type HealthCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewHealthCache(client RedisClient, ttl time.Duration) *HealthCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &HealthCache{client: client, ttl: ttl}
}

func (c *HealthCache) key(backendID string) string { return "backend_health:" + backendID }

func (c *HealthCache) Get(ctx context.Context, backendID string) (model.HealthState, bool) {
	v, err := c.client.Get(ctx, c.key(backendID))
	if err != nil {
		return model.HealthUnknown, false
	}
	switch model.HealthState(v) {
	case model.HealthOnline, model.HealthOffline:
		return model.HealthState(v), true
	default:
		return model.HealthUnknown, false
	}
}

func (c *HealthCache) Set(ctx context.Context, backendID string, state model.HealthState) error {
	return c.client.Set(ctx, c.key(backendID), string(state), c.ttl)
}
