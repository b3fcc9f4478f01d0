package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"dexvault.com/internal/escrow/domain"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

// BalanceCache 投影缓存接口，实现必须和全量折叠逐位一致
type BalanceCache interface {
	Get(ctx context.Context, wallet, campaignID string) (*domain.Balance, bool, error)
	Set(ctx context.Context, b *domain.Balance, ttl time.Duration) error
	Del(ctx context.Context, wallet, campaignID string) error
}

type redisCache struct {
	client *redis.Client
}

func NewRedisCache(c *redis.Client) BalanceCache {
	return &redisCache{client: c}
}

func (r *redisCache) Get(ctx context.Context, wallet, campaignID string) (*domain.Balance, bool, error) {
	key := balKey(wallet, campaignID)

	b, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var bal domain.Balance
	if err := json.Unmarshal(b, &bal); err != nil {
		// 缓存脏了就删掉，避免持续命中错误
		_ = r.client.Del(ctx, key).Err()
		return nil, false, err
	}
	return &bal, true, nil
}

func (r *redisCache) Set(ctx context.Context, bal *domain.Balance, ttl time.Duration) error {
	b, err := json.Marshal(bal)
	if err != nil {
		return err
	}
	// 加入随机时间 防止集中过期抖动
	return r.client.Set(ctx, balKey(bal.Wallet, bal.CampaignID), b, withJitter(ttl, 300*time.Millisecond)).Err()
}

func (r *redisCache) Del(ctx context.Context, wallet, campaignID string) error {
	return r.client.Del(ctx, balKey(wallet, campaignID)).Err()
}

func balKey(wallet, campaignID string) string {
	return fmt.Sprintf("escrow:bal:%s:%s", wallet, campaignID)
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	j := time.Duration(rand.Int63n(int64(jitter)))
	return ttl + j
}
