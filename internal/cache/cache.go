package cache

import (
	"context"
	"time"

	"bonus_system/internal/model"
	"bonus_system/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const DefaultTTL = 5 * time.Minute

// BalanceCache keeps computed balances until the ledger of a user changes.
type BalanceCache interface {
	Get(ctx context.Context, userID uuid.UUID) (*model.Balance, bool)
	Set(ctx context.Context, balance *model.Balance)
	Invalidate(ctx context.Context, userIDs ...uuid.UUID) error
}

type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "bonus:balance"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(userID uuid.UUID) string {
	return c.prefix + ":" + userID.String()
}

func (c *RedisCache) Get(ctx context.Context, userID uuid.UUID) (*model.Balance, bool) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Logger().Warn("balance cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var b model.Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		logger.Logger().Warn("balance cache entry is corrupt", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, false
	}
	return &b, true
}

func (c *RedisCache) Set(ctx context.Context, balance *model.Balance) {
	raw, err := json.Marshal(balance)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(balance.UserID), raw, c.ttl).Err(); err != nil {
		logger.Logger().Warn("balance cache write failed", zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userIDs ...uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = c.key(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

// LRUCache is the in-process fallback when Redis is not configured.
type LRUCache struct {
	lru *expirable.LRU[uuid.UUID, model.Balance]
}

func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRUCache{lru: expirable.NewLRU[uuid.UUID, model.Balance](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, userID uuid.UUID) (*model.Balance, bool) {
	b, ok := c.lru.Get(userID)
	if !ok {
		return nil, false
	}
	return &b, true
}

func (c *LRUCache) Set(_ context.Context, balance *model.Balance) {
	c.lru.Add(balance.UserID, *balance)
}

func (c *LRUCache) Invalidate(_ context.Context, userIDs ...uuid.UUID) error {
	for _, id := range userIDs {
		c.lru.Remove(id)
	}
	return nil
}
