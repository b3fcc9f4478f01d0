package service

import (
	"context"
	"sync"
	"time"

	"dexvault.com/internal/escrow/domain"
	"dexvault.com/pkg/logger"
	"dexvault.com/pkg/metrics"
	"dexvault.com/pkg/xerr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Projector 余额投影
// 正确性定义是账本全量折叠；缓存只是加速，作废契约绑定在 LedgerService.Append 上，
// 任何改变 CONFIRMED 集合的写都会打掉对应 key
type Projector struct {
	ledger domain.LedgerRepo
	cache  BalanceCache
	sf     singleflight.Group
	ttl    time.Duration

	mu           sync.Mutex
	inconsistent map[string]struct{} // 派生出负余额的 key，健康检查要上报
}

func NewProjector(ledger domain.LedgerRepo, cache BalanceCache, ttl time.Duration) *Projector {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Projector{
		ledger:       ledger,
		cache:        cache,
		ttl:          ttl,
		inconsistent: make(map[string]struct{}),
	}
}

// BalanceOf 查单个 key 的派生余额
// 缓存 -> singleflight 防击穿 -> 全量折叠
// 没有 CONFIRMED 交易返回 InsufficientData 标记，不算错误
// 折叠出负数是账本矛盾，上报 INCONSISTENT_LEDGER，绝不悄悄截断成 0
func (p *Projector) BalanceOf(ctx context.Context, wallet, campaignID string) (*domain.Balance, error) {
	if bal, ok, err := p.cache.Get(ctx, wallet, campaignID); err == nil && ok {
		return bal, nil
	}

	key := wallet + ":" + campaignID
	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		metrics.ProjectionRebuildTotal.WithLabelValues("cache_miss").Inc()
		bal, err := p.fold(ctx, wallet, campaignID)
		if err != nil {
			return nil, err
		}
		_ = p.cache.Set(ctx, bal, p.ttl)
		return bal, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Balance), nil
}

// Rederive 跳过缓存直接折叠，等价性校验和对账工具用
func (p *Projector) Rederive(ctx context.Context, wallet, campaignID string) (*domain.Balance, error) {
	metrics.ProjectionRebuildTotal.WithLabelValues("rederive").Inc()
	return p.fold(ctx, wallet, campaignID)
}

func (p *Projector) fold(ctx context.Context, wallet, campaignID string) (*domain.Balance, error) {
	fold, err := p.ledger.FoldConfirmed(ctx, wallet, campaignID)
	if err != nil {
		return nil, err
	}
	key := wallet + ":" + campaignID
	if net := fold.Net(); net < 0 {
		p.markInconsistent(key)
		logger.Error(ctx, "inconsistent ledger: negative derived balance",
			zap.String("wallet", wallet),
			zap.String("campaign", campaignID),
			zap.Int64("net", net),
		)
		return nil, xerr.Newf(xerr.KindInconsistent,
			"derived balance for %s is negative (%d)", key, net)
	}
	p.clearInconsistent(key)

	bal := &domain.Balance{
		Wallet:     wallet,
		CampaignID: campaignID,
		Amount:     fold.Net(),
		AsOfTxID:   fold.LastTxID,
		ComputedAt: time.Now().UTC(),
	}
	if fold.Count == 0 {
		bal.InsufficientData = true
	}
	return bal, nil
}

// WalletBalances 跨 campaign 的余额汇总
// 个别 key 账本矛盾不拖垮整个响应，单独标出来
type WalletBalances struct {
	Wallet   string
	Balances map[string]*domain.Balance
	Errors   map[string]xerr.Kind
}

// BalancesOf 钱包名下所有 campaign 的余额
// 钱包在账本里不存在时返回空 map（和 0 余额是两回事，见 InsufficientData）
func (p *Projector) BalancesOf(ctx context.Context, wallet string) (*WalletBalances, error) {
	campaigns, err := p.ledger.CampaignsOf(ctx, wallet)
	if err != nil {
		return nil, err
	}
	out := &WalletBalances{
		Wallet:   wallet,
		Balances: make(map[string]*domain.Balance, len(campaigns)),
		Errors:   make(map[string]xerr.Kind),
	}
	for _, cid := range campaigns {
		bal, err := p.BalanceOf(ctx, wallet, cid)
		if err != nil {
			out.Errors[cid] = xerr.KindOf(err)
			continue
		}
		out.Balances[cid] = bal
	}
	return out, nil
}

// Invalidate 实现 service.Invalidator，由 LedgerService 在写路径调用
func (p *Projector) Invalidate(ctx context.Context, wallet, campaignID string) {
	if err := p.cache.Del(ctx, wallet, campaignID); err != nil {
		// 删缓存失败只能靠 TTL 兜底，记一笔
		logger.Warn(ctx, "invalidate balance cache failed",
			zap.String("wallet", wallet),
			zap.String("campaign", campaignID),
			zap.Error(err),
		)
	}
}

// InconsistentCount 健康检查上报用
func (p *Projector) InconsistentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inconsistent)
}

func (p *Projector) markInconsistent(key string) {
	p.mu.Lock()
	p.inconsistent[key] = struct{}{}
	metrics.InconsistentKeyGauge.Set(float64(len(p.inconsistent)))
	p.mu.Unlock()
}

func (p *Projector) clearInconsistent(key string) {
	p.mu.Lock()
	if _, ok := p.inconsistent[key]; ok {
		delete(p.inconsistent, key)
		metrics.InconsistentKeyGauge.Set(float64(len(p.inconsistent)))
	}
	p.mu.Unlock()
}
