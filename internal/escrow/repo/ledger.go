package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dexvault.com/internal/escrow/domain"
	"dexvault.com/pkg/orm"
	"dexvault.com/pkg/xerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetForUpdate 按签名查一笔交易并加行锁
// 必须在 Transaction 内调用，同一 id 的并发写在这里串行化
// 不存在返回 (nil, nil)
func (r *Repo) GetForUpdate(ctx context.Context, id string) (*domain.EscrowTx, error) {
	var tx domain.EscrowTx
	err := r.getDb(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, xerr.Wrap(err, xerr.KindInternal, "get tx for update")
	}
	return &tx, nil
}

func (r *Repo) Create(ctx context.Context, tx *domain.EscrowTx) error {
	if err := r.getDb(ctx).WithContext(ctx).Create(tx).Error; err != nil {
		return xerr.Wrap(err, xerr.KindInternal, "create escrow tx")
	}
	return nil
}

// UpdateState 只改状态字段，其余字段不可变
func (r *Repo) UpdateState(ctx context.Context, id string, state domain.ConfirmState) error {
	res := r.getDb(ctx).WithContext(ctx).Model(&domain.EscrowTx{}).
		Where("id = ?", id).
		Update("state", state)
	if res.Error != nil {
		return xerr.Wrap(res.Error, xerr.KindInternal, "update tx state")
	}
	if res.RowsAffected == 0 {
		return xerr.Newf(xerr.KindNotFound, "transaction %s not found", id)
	}
	return nil
}

// List 游标分页，排序 (observed_at asc, id asc)
// keyset 条件: (observed_at, id) > (cursor.observed_at, cursor.id)
func (r *Repo) List(ctx context.Context, q domain.ListQuery) ([]*domain.EscrowTx, error) {
	limit := orm.ClampLimit(q.Limit)
	db := r.getDb(ctx).WithContext(ctx).Model(&domain.EscrowTx{}).
		Where("wallet = ?", q.Wallet)
	if q.CampaignID != "" {
		db = db.Where("campaign_id = ?", q.CampaignID)
	}
	if q.After != nil {
		after := time.Unix(0, q.After.ObservedAt)
		db = db.Where("observed_at > ? OR (observed_at = ? AND id > ?)", after, after, q.After.ID)
	}
	txs := make([]*domain.EscrowTx, 0, limit)
	err := db.Order("observed_at ASC, id ASC").Limit(limit).Find(&txs).Error
	if err != nil {
		return nil, xerr.Wrap(err, xerr.KindInternal, "list escrow txs")
	}
	return txs, nil
}

// FoldConfirmed 全量折叠该 key 下所有 CONFIRMED 交易
// 派生余额的正确性以这条查询为准，缓存必须和它逐位一致
// 聚合和 as-of 指针必须出自同一条语句：拆成两条查询的话，
// 中间挤进来一笔并发 append 就会把金额配上错位的 last_id
func (r *Repo) FoldConfirmed(ctx context.Context, wallet, campaignID string) (*domain.Fold, error) {
	var fold domain.Fold
	row := r.getDb(ctx).WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN direction = %d THEN amount ELSE 0 END), 0) AS deposits,
			COALESCE(SUM(CASE WHEN direction = %d THEN amount ELSE 0 END), 0) AS withdrawals,
			COALESCE(SUM(CASE WHEN direction = %d THEN amount ELSE 0 END), 0) AS refunds,
			COUNT(*) AS cnt,
			COALESCE((
				SELECT id FROM escrow_transactions
				WHERE wallet = ? AND campaign_id = ? AND state = ?
				ORDER BY observed_at DESC, id DESC
				LIMIT 1
			), '') AS last_id
		FROM escrow_transactions
		WHERE wallet = ? AND campaign_id = ? AND state = ?`,
		domain.DirectionDeposit, domain.DirectionWithdrawal, domain.DirectionRefund),
		wallet, campaignID, domain.StateConfirmed,
		wallet, campaignID, domain.StateConfirmed).Row()
	if err := row.Scan(&fold.Deposits, &fold.Withdrawals, &fold.Refunds, &fold.Count, &fold.LastTxID); err != nil {
		return nil, xerr.Wrap(err, xerr.KindInternal, "fold confirmed txs")
	}
	return &fold, nil
}

// CampaignsOf 该钱包在账本里出现过的所有 campaign
func (r *Repo) CampaignsOf(ctx context.Context, wallet string) ([]string, error) {
	var ids []string
	err := r.getDb(ctx).WithContext(ctx).Model(&domain.EscrowTx{}).
		Distinct("campaign_id").
		Where("wallet = ?", wallet).
		Order("campaign_id ASC").
		Pluck("campaign_id", &ids).Error
	if err != nil {
		return nil, xerr.Wrap(err, xerr.KindInternal, "campaigns of wallet")
	}
	return ids, nil
}
