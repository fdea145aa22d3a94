package preference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tribeapp/notification-service/internal/domain"
	"go.uber.org/zap"
)

const defaultCacheTTL = 5 * time.Minute

// Cache decorates a Resolver with a redis read-through cache. Cache
// failures are soft: the store stays authoritative and misbehaving redis
// only costs the extra query.
type Cache struct {
	inner  Resolver
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(inner Resolver, client *goredis.Client, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner resolver is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func cacheKey(userID string) string {
	return "notifications:prefs:" + userID
}

func (c *Cache) EnsurePreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err == nil {
		var cached domain.Preferences
		if unmarshalErr := json.Unmarshal(payload, &cached); unmarshalErr == nil {
			return &cached, nil
		}
		c.logger.Warn("discarding corrupt preference cache entry", zap.String("userId", userID))
	} else if !errors.Is(err, goredis.Nil) {
		c.logger.Warn("preference cache read failed", zap.String("userId", userID), zap.Error(err))
	}

	prefs, err := c.inner.EnsurePreferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, marshalErr := json.Marshal(prefs); marshalErr == nil {
		if setErr := c.client.Set(ctx, cacheKey(userID), data, c.ttl).Err(); setErr != nil {
			c.logger.Warn("preference cache write failed", zap.String("userId", userID), zap.Error(setErr))
		}
	}

	return prefs, nil
}

func (c *Cache) ChannelsFor(ctx context.Context, userID string, t domain.NotificationType) ([]domain.Channel, error) {
	prefs, err := c.EnsurePreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	return prefs.EnabledChannels(t), nil
}

func (c *Cache) Update(ctx context.Context, p *domain.Preferences) (*domain.Preferences, error) {
	updated, err := c.inner.Update(ctx, p)
	if err != nil {
		return nil, err
	}

	if delErr := c.client.Del(ctx, cacheKey(updated.UserID)).Err(); delErr != nil {
		c.logger.Warn("preference cache invalidation failed",
			zap.String("userId", updated.UserID),
			zap.Error(delErr),
		)
	}

	return updated, nil
}
