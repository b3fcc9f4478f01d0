package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"dexvault.com/internal/escrow/domain"
	"dexvault.com/internal/escrow/service"
	"dexvault.com/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache 内存版余额缓存
type fakeCache struct {
	mu   sync.Mutex
	data map[string]*domain.Balance
	hits int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]*domain.Balance)}
}

func (f *fakeCache) Get(ctx context.Context, wallet, campaignID string) (*domain.Balance, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.data[wallet+":"+campaignID]; ok {
		f.hits++
		cp := *b
		return &cp, true, nil
	}
	return nil, false, nil
}

func (f *fakeCache) Set(ctx context.Context, b *domain.Balance, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.data[b.Wallet+":"+b.CampaignID] = &cp
	return nil
}

func (f *fakeCache) Del(ctx context.Context, wallet, campaignID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, wallet+":"+campaignID)
	return nil
}

func txWith(id string, dir domain.Direction, amount int64, state domain.ConfirmState, at time.Time) *domain.EscrowTx {
	return &domain.EscrowTx{
		ID:         id,
		Wallet:     testWallet,
		CampaignID: testCampaign,
		Direction:  dir,
		Amount:     amount,
		ObservedAt: at,
		State:      state,
	}
}

func TestProjector_BalanceFold(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	cache := newFakeCache()
	proj := service.NewProjector(repo, cache, time.Hour)
	svc := service.NewLedgerService(repo, proj)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seed := []*domain.EscrowTx{
		txWith("d1", domain.DirectionDeposit, 5000, domain.StateConfirmed, base),
		txWith("d2", domain.DirectionDeposit, 3000, domain.StateConfirmed, base.Add(time.Minute)),
		txWith("w1", domain.DirectionWithdrawal, 2000, domain.StateConfirmed, base.Add(2*time.Minute)),
		txWith("r1", domain.DirectionRefund, 500, domain.StateConfirmed, base.Add(3*time.Minute)),
		// PENDING 和 REVERTED 不参与折叠
		txWith("p1", domain.DirectionDeposit, 9999, domain.StatePending, base.Add(4*time.Minute)),
		txWith("x1", domain.DirectionDeposit, 8888, domain.StateReverted, base.Add(5*time.Minute)),
	}
	for _, tx := range seed {
		_, err := svc.Append(ctx, tx)
		require.NoError(t, err)
	}

	bal, err := proj.BalanceOf(ctx, testWallet, testCampaign)
	require.NoError(t, err)
	assert.Equal(t, int64(5000+3000-2000-500), bal.Amount)
	assert.Equal(t, "r1", bal.AsOfTxID)
	assert.False(t, bal.InsufficientData)
}

func TestProjector_CacheEquivalence(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	cache := newFakeCache()
	proj := service.NewProjector(repo, cache, time.Hour)
	svc := service.NewLedgerService(repo, proj)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Append(ctx, txWith("d1", domain.DirectionDeposit, 1000, domain.StateConfirmed, base))
	require.NoError(t, err)

	// 第一次走折叠并落缓存，第二次命中缓存
	first, err := proj.BalanceOf(ctx, testWallet, testCampaign)
	require.NoError(t, err)
	second, err := proj.BalanceOf(ctx, testWallet, testCampaign)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	// 缓存命中和绕过缓存直接折叠必须逐位一致
	direct, err := proj.Rederive(ctx, testWallet, testCampaign)
	require.NoError(t, err)
	assert.Equal(t, first.Amount, second.Amount)
	assert.Equal(t, direct.Amount, second.Amount)
	assert.Equal(t, direct.AsOfTxID, second.AsOfTxID)
}

func TestProjector_InvalidationOnAppend(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	cache := newFakeCache()
	proj := service.NewProjector(repo, cache, time.Hour)
	svc := service.NewLedgerService(repo, proj)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Append(ctx, txWith("d1", domain.DirectionDeposit, 1000, domain.StateConfirmed, base))
	require.NoError(t, err)

	bal, err := proj.BalanceOf(ctx, testWallet, testCampaign)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Amount)

	// 新的 CONFIRMED 写入必须打掉缓存，下一次读到新余额
	_, err = svc.Append(ctx, txWith("d2", domain.DirectionDeposit, 500, domain.StateConfirmed, base.Add(time.Minute)))
	require.NoError(t, err)

	bal, err = proj.BalanceOf(ctx, testWallet, testCampaign)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), bal.Amount)

	// 回滚离开 CONFIRMED 集合，同样打掉缓存
	_, err = svc.Append(ctx, txWith("d2", domain.DirectionDeposit, 500, domain.StateReverted, base.Add(time.Minute)))
	require.NoError(t, err)

	bal, err = proj.BalanceOf(ctx, testWallet, testCampaign)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Amount)
}

func TestProjector_InsufficientData(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	proj := service.NewProjector(repo, newFakeCache(), time.Hour)
	svc := service.NewLedgerService(repo, proj)

	// 只有 PENDING，没有任何 CONFIRMED：标记而不是报错，更不是 0 余额
	base := time.Now().UTC()
	_, err := svc.Append(ctx, txWith("p1", domain.DirectionDeposit, 777, domain.StatePending, base))
	require.NoError(t, err)

	bal, err := proj.BalanceOf(ctx, testWallet, testCampaign)
	require.NoError(t, err)
	assert.True(t, bal.InsufficientData)
	assert.Equal(t, int64(0), bal.Amount)
}

func TestProjector_InconsistentLedger(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	proj := service.NewProjector(repo, newFakeCache(), time.Hour)
	svc := service.NewLedgerService(repo, proj)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Append(ctx, txWith("d1", domain.DirectionDeposit, 100, domain.StateConfirmed, base))
	require.NoError(t, err)
	_, err = svc.Append(ctx, txWith("w1", domain.DirectionWithdrawal, 500, domain.StateConfirmed, base.Add(time.Minute)))
	require.NoError(t, err)

	// 提取超过存入，折叠出负数：显式报矛盾，绝不截断成 0
	_, err = proj.BalanceOf(ctx, testWallet, testCampaign)
	require.Error(t, err)
	assert.True(t, xerr.IsKind(err, xerr.KindInconsistent))
	assert.Equal(t, 1, proj.InconsistentCount())

	// 补上缺失的存入后矛盾消除
	_, err = svc.Append(ctx, txWith("d2", domain.DirectionDeposit, 1000, domain.StateConfirmed, base.Add(2*time.Minute)))
	require.NoError(t, err)

	bal, err := proj.BalanceOf(ctx, testWallet, testCampaign)
	require.NoError(t, err)
	assert.Equal(t, int64(600), bal.Amount)
	assert.Equal(t, 0, proj.InconsistentCount())
}

func TestProjector_BalancesOf(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	proj := service.NewProjector(repo, newFakeCache(), time.Hour)
	svc := service.NewLedgerService(repo, proj)

	t.Run("unknown_wallet_empty_map", func(t *testing.T) {
		all, err := proj.BalancesOf(ctx, testWallet)
		require.NoError(t, err)
		assert.Empty(t, all.Balances)
		assert.Empty(t, all.Errors)
	})

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	otherCampaign := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	_, err := svc.Append(ctx, txWith("d1", domain.DirectionDeposit, 100, domain.StateConfirmed, base))
	require.NoError(t, err)
	bad := txWith("w1", domain.DirectionWithdrawal, 999, domain.StateConfirmed, base.Add(time.Minute))
	bad.CampaignID = otherCampaign
	_, err = svc.Append(ctx, bad)
	require.NoError(t, err)

	// 一个 campaign 正常，另一个账本矛盾：单独标错，不拖垮整个响应
	all, err := proj.BalancesOf(ctx, testWallet)
	require.NoError(t, err)
	require.Contains(t, all.Balances, testCampaign)
	assert.Equal(t, int64(100), all.Balances[testCampaign].Amount)
	assert.Equal(t, xerr.KindInconsistent, all.Errors[otherCampaign])
}
