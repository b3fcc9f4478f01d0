package repo

import (
	"context"
	"errors"

	"dexvault.com/internal/escrow/domain"
	"dexvault.com/pkg/xerr"
	"gorm.io/gorm"
)

// Get 按 token 合约地址查活动元数据
// 活动由管理路径维护，引擎侧只读
func (r *Repo) Get(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := r.getDb(ctx).WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.Newf(xerr.KindNotFound, "campaign %s not found", campaignID)
		}
		return nil, xerr.Wrap(err, xerr.KindInternal, "get campaign")
	}
	return &c, nil
}

// ListActive 摄入引擎启动时按 active 活动建 master
func (r *Repo) ListActive(ctx context.Context) ([]*domain.Campaign, error) {
	var list []*domain.Campaign
	err := r.getDb(ctx).WithContext(ctx).
		Where("status = ?", domain.CampaignActive).
		Find(&list).Error
	if err != nil {
		return nil, xerr.Wrap(err, xerr.KindInternal, "list active campaigns")
	}
	return list, nil
}
