package service_test

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"dexvault.com/internal/escrow/domain"
	"dexvault.com/internal/escrow/service"
	"dexvault.com/pkg/logger"
	"dexvault.com/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init("test", "error")
	os.Exit(m.Run())
}

// fakeLedgerRepo 内存版账本，按接口语义实现，测试不依赖 MySQL
type fakeLedgerRepo struct {
	mu  sync.Mutex
	txs map[string]*domain.EscrowTx
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{txs: make(map[string]*domain.EscrowTx)}
}

func (f *fakeLedgerRepo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeLedgerRepo) GetForUpdate(ctx context.Context, id string) (*domain.EscrowTx, error) {
	if tx, ok := f.txs[id]; ok {
		cp := *tx
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeLedgerRepo) Create(ctx context.Context, tx *domain.EscrowTx) error {
	cp := *tx
	f.txs[tx.ID] = &cp
	return nil
}

func (f *fakeLedgerRepo) UpdateState(ctx context.Context, id string, state domain.ConfirmState) error {
	tx, ok := f.txs[id]
	if !ok {
		return xerr.Newf(xerr.KindNotFound, "tx %s not found", id)
	}
	tx.State = state
	return nil
}

func (f *fakeLedgerRepo) List(ctx context.Context, q domain.ListQuery) ([]*domain.EscrowTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*domain.EscrowTx
	for _, tx := range f.txs {
		if tx.Wallet != q.Wallet {
			continue
		}
		if q.CampaignID != "" && tx.CampaignID != q.CampaignID {
			continue
		}
		cp := *tx
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].ObservedAt.Equal(all[j].ObservedAt) {
			return all[i].ObservedAt.Before(all[j].ObservedAt)
		}
		return all[i].ID < all[j].ID
	})
	if q.After != nil {
		cut := time.Unix(0, q.After.ObservedAt)
		kept := all[:0]
		for _, tx := range all {
			if tx.ObservedAt.After(cut) || (tx.ObservedAt.Equal(cut) && tx.ID > q.After.ID) {
				kept = append(kept, tx)
			}
		}
		all = kept
	}
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, nil
}

func (f *fakeLedgerRepo) FoldConfirmed(ctx context.Context, wallet, campaignID string) (*domain.Fold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var confirmed []*domain.EscrowTx
	for _, tx := range f.txs {
		if tx.Wallet == wallet && tx.CampaignID == campaignID && tx.State == domain.StateConfirmed {
			confirmed = append(confirmed, tx)
		}
	}
	sort.Slice(confirmed, func(i, j int) bool {
		if !confirmed[i].ObservedAt.Equal(confirmed[j].ObservedAt) {
			return confirmed[i].ObservedAt.Before(confirmed[j].ObservedAt)
		}
		return confirmed[i].ID < confirmed[j].ID
	})
	fold := &domain.Fold{}
	for _, tx := range confirmed {
		switch tx.Direction {
		case domain.DirectionDeposit:
			fold.Deposits += tx.Amount
		case domain.DirectionWithdrawal:
			fold.Withdrawals += tx.Amount
		case domain.DirectionRefund:
			fold.Refunds += tx.Amount
		}
		fold.Count++
		fold.LastTxID = tx.ID
	}
	return fold, nil
}

func (f *fakeLedgerRepo) CampaignsOf(ctx context.Context, wallet string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, tx := range f.txs {
		if tx.Wallet != wallet {
			continue
		}
		if _, ok := seen[tx.CampaignID]; ok {
			continue
		}
		seen[tx.CampaignID] = struct{}{}
		out = append(out, tx.CampaignID)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeLedgerRepo) Ping(ctx context.Context) error { return nil }

// fakeInvalidator 记录作废回调，验证缓存契约
type fakeInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, wallet, campaignID string) {
	f.mu.Lock()
	f.calls = append(f.calls, wallet+":"+campaignID)
	f.mu.Unlock()
}

func (f *fakeInvalidator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const (
	testWallet   = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	testCampaign = "So11111111111111111111111111111111111111112"
)

func depositTx(id string, amount int64, state domain.ConfirmState, at time.Time) *domain.EscrowTx {
	return &domain.EscrowTx{
		ID:         id,
		Wallet:     testWallet,
		CampaignID: testCampaign,
		Direction:  domain.DirectionDeposit,
		Amount:     amount,
		ObservedAt: at,
		State:      state,
	}
}

func TestLedgerAppend_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	inv := &fakeInvalidator{}
	svc := service.NewLedgerService(repo, inv)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tx := depositTx("sig-1", 1000, domain.StateConfirmed, at)

	res, err := svc.Append(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, domain.AppendCreated, res)
	assert.Equal(t, 1, inv.count())

	// 同一 id 重复提交：no-op，账本不变，缓存不作废
	res, err = svc.Append(ctx, depositTx("sig-1", 1000, domain.StateConfirmed, at))
	require.NoError(t, err)
	assert.Equal(t, domain.AppendDuplicate, res)
	assert.Equal(t, 1, inv.count())

	page, err := svc.List(ctx, testWallet, testCampaign, "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestLedgerAppend_StateTransitions(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("pending_to_confirmed", func(t *testing.T) {
		repo := newFakeLedgerRepo()
		inv := &fakeInvalidator{}
		svc := service.NewLedgerService(repo, inv)

		res, err := svc.Append(ctx, depositTx("sig-1", 500, domain.StatePending, at))
		require.NoError(t, err)
		assert.Equal(t, domain.AppendCreated, res)
		// PENDING 新建没动 CONFIRMED 集合，不作废
		assert.Equal(t, 0, inv.count())

		res, err = svc.Append(ctx, depositTx("sig-1", 500, domain.StateConfirmed, at))
		require.NoError(t, err)
		assert.Equal(t, domain.AppendUpdated, res)
		assert.Equal(t, 1, inv.count())

		stored, _ := repo.GetForUpdate(ctx, "sig-1")
		assert.Equal(t, domain.StateConfirmed, stored.State)
	})

	t.Run("reverted_is_terminal", func(t *testing.T) {
		repo := newFakeLedgerRepo()
		svc := service.NewLedgerService(repo, &fakeInvalidator{})

		_, err := svc.Append(ctx, depositTx("sig-2", 500, domain.StateConfirmed, at))
		require.NoError(t, err)

		res, err := svc.Append(ctx, depositTx("sig-2", 500, domain.StateReverted, at))
		require.NoError(t, err)
		assert.Equal(t, domain.AppendUpdated, res)

		// 回滚后任何状态都顶不回来
		res, err = svc.Append(ctx, depositTx("sig-2", 500, domain.StateConfirmed, at))
		require.NoError(t, err)
		assert.Equal(t, domain.AppendDuplicate, res)

		stored, _ := repo.GetForUpdate(ctx, "sig-2")
		assert.Equal(t, domain.StateReverted, stored.State)
	})

	t.Run("no_downgrade_to_pending", func(t *testing.T) {
		repo := newFakeLedgerRepo()
		svc := service.NewLedgerService(repo, &fakeInvalidator{})

		_, err := svc.Append(ctx, depositTx("sig-3", 500, domain.StateConfirmed, at))
		require.NoError(t, err)

		res, err := svc.Append(ctx, depositTx("sig-3", 500, domain.StatePending, at))
		require.NoError(t, err)
		assert.Equal(t, domain.AppendDuplicate, res)

		stored, _ := repo.GetForUpdate(ctx, "sig-3")
		assert.Equal(t, domain.StateConfirmed, stored.State)
	})
}

func TestLedgerAppend_Validation(t *testing.T) {
	ctx := context.Background()
	svc := service.NewLedgerService(newFakeLedgerRepo(), nil)
	at := time.Now().UTC()

	_, err := svc.Append(ctx, depositTx("", 100, domain.StateConfirmed, at))
	assert.True(t, xerr.IsKind(err, xerr.KindValidation))

	_, err = svc.Append(ctx, depositTx("sig-neg", -1, domain.StateConfirmed, at))
	assert.True(t, xerr.IsKind(err, xerr.KindValidation))
}

func TestLedgerMarkReverted(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	inv := &fakeInvalidator{}
	svc := service.NewLedgerService(repo, inv)
	at := time.Now().UTC()

	found, err := svc.MarkReverted(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = svc.Append(ctx, depositTx("sig-1", 100, domain.StateConfirmed, at))
	require.NoError(t, err)

	found, err = svc.MarkReverted(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, found)

	// 再标一次是幂等命中，不再作废缓存
	before := inv.count()
	found, err = svc.MarkReverted(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, before, inv.count())
}

func TestLedgerList_CursorPagination(t *testing.T) {
	ctx := context.Background()
	repo := newFakeLedgerRepo()
	svc := service.NewLedgerService(repo, nil)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// 同一时刻两笔，靠 id 破平局，翻页不抖
	ids := []string{"sig-a", "sig-b", "sig-c", "sig-d", "sig-e"}
	for i, id := range ids {
		at := base.Add(time.Duration(i/2) * time.Minute)
		_, err := svc.Append(ctx, depositTx(id, 100, domain.StateConfirmed, at))
		require.NoError(t, err)
	}

	var got []string
	cursor := ""
	for {
		page, err := svc.List(ctx, testWallet, testCampaign, cursor, 2)
		require.NoError(t, err)
		for _, tx := range page.Items {
			got = append(got, tx.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, ids, got)

	t.Run("bad_cursor", func(t *testing.T) {
		_, err := svc.List(ctx, testWallet, testCampaign, "!!!not-base64!!!", 10)
		assert.True(t, xerr.IsKind(err, xerr.KindValidation))
	})
}
