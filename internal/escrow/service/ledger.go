package service

import (
	"context"
	"time"

	"dexvault.com/internal/escrow/domain"
	"dexvault.com/pkg/logger"
	"dexvault.com/pkg/metrics"
	"dexvault.com/pkg/orm"
	"dexvault.com/pkg/xerr"
	"go.uber.org/zap"
)

// Invalidator append 改变了某 key 的 CONFIRMED 集合时，通知投影层作废缓存
type Invalidator interface {
	Invalidate(ctx context.Context, wallet, campaignID string)
}

// LedgerService 账本写入口
// 所有写（摄入、状态推进、回滚标记）都走 Append 的状态迁移规则，
// 这是并发纪律的唯一落点，别处不许改账本
type LedgerService struct {
	repo        domain.LedgerRepo
	invalidator Invalidator
}

func NewLedgerService(repo domain.LedgerRepo, invalidator Invalidator) *LedgerService {
	return &LedgerService{repo: repo, invalidator: invalidator}
}

// Append 幂等写入
// 状态迁移规则：
//   - id 不存在            -> Created
//   - 已 REVERTED          -> Duplicate (终态，禁止任何回退)
//   - 来的是 REVERTED      -> Updated   (唯一允许的降级)
//   - PENDING -> CONFIRMED -> Updated
//   - 其余                 -> Duplicate
func (s *LedgerService) Append(ctx context.Context, tx *domain.EscrowTx) (domain.AppendResult, error) {
	if tx.ID == "" {
		return 0, xerr.New(xerr.KindValidation, "transaction id is empty")
	}
	if tx.Amount < 0 {
		return 0, xerr.Newf(xerr.KindValidation, "negative amount %d on %s", tx.Amount, tx.ID)
	}
	if tx.IngestedAt.IsZero() {
		tx.IngestedAt = time.Now().UTC()
	}

	var result domain.AppendResult
	err := s.repo.Transaction(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.GetForUpdate(txCtx, tx.ID)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			result = domain.AppendCreated
			return s.repo.Create(txCtx, tx)
		case existing.State == domain.StateReverted:
			result = domain.AppendDuplicate
			return nil
		case tx.State == domain.StateReverted:
			result = domain.AppendUpdated
			return s.repo.UpdateState(txCtx, tx.ID, domain.StateReverted)
		case existing.State == domain.StatePending && tx.State == domain.StateConfirmed:
			result = domain.AppendUpdated
			return s.repo.UpdateState(txCtx, tx.ID, domain.StateConfirmed)
		default:
			result = domain.AppendDuplicate
			return nil
		}
	})
	if err != nil {
		return 0, err
	}

	metrics.AppendResultTotal.WithLabelValues(result.String()).Inc()

	// CONFIRMED 集合变了才需要作废投影缓存：
	// 新建 CONFIRMED 记录，或状态推进（推进要么进入要么离开 CONFIRMED 集合）
	changed := result == domain.AppendUpdated ||
		(result == domain.AppendCreated && tx.State == domain.StateConfirmed)
	if changed && s.invalidator != nil {
		s.invalidator.Invalidate(ctx, tx.Wallet, tx.CampaignID)
	}
	if result != domain.AppendDuplicate {
		logger.Debug(ctx, "ledger append",
			zap.String("tx", tx.ID),
			zap.String("result", result.String()),
			zap.String("state", tx.State.String()),
		)
	}
	return result, nil
}

// MarkReverted 回滚标记，复用 Append 的迁移规则保证单一写路径
// 返回 true 表示该交易现在处于 REVERTED (包括早已 REVERTED 的幂等命中)
func (s *LedgerService) MarkReverted(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.repo.Transaction(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.GetForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		found = true
		if existing.State == domain.StateReverted {
			return nil
		}
		if err := s.repo.UpdateState(txCtx, id, domain.StateReverted); err != nil {
			return err
		}
		if s.invalidator != nil {
			s.invalidator.Invalidate(txCtx, existing.Wallet, existing.CampaignID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// ListPage 一页账本历史 + 下一页游标
type ListPage struct {
	Items      []*domain.EscrowTx
	NextCursor string
}

// List 按 (observed_at, id) 稳定全序翻页
// cursorStr 非法算 VALIDATION_ERROR，立刻 4xx
func (s *LedgerService) List(ctx context.Context, wallet, campaignID, cursorStr string, limit int) (*ListPage, error) {
	q := domain.ListQuery{
		Wallet:     wallet,
		CampaignID: campaignID,
		Limit:      orm.ClampLimit(limit),
	}
	if cursorStr != "" {
		cur, err := domain.DecodeCursor(cursorStr)
		if err != nil {
			return nil, xerr.Wrap(err, xerr.KindValidation, "invalid cursor")
		}
		q.After = cur
	}

	items, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	page := &ListPage{Items: items}
	// 满一页才给 next_cursor，最后一页自然断流
	if len(items) == q.Limit {
		last := items[len(items)-1]
		cur := domain.Cursor{ObservedAt: last.ObservedAt.UnixNano(), ID: last.ID}
		page.NextCursor = cur.Encode()
	}
	return page, nil
}
