package repo

import (
	"context"
	"errors"

	"dexvault.com/internal/watcher/domain"
	"dexvault.com/pkg/xerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.WatchCursor{})
}

// GetLastCursor 没有游标返回空串，表示从最新开始拉
func (r *Repo) GetLastCursor(ctx context.Context, wallet, campaignID string) (string, error) {
	var c domain.WatchCursor
	err := r.db.WithContext(ctx).
		Where("wallet = ? AND campaign_id = ?", wallet, campaignID).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", xerr.Wrap(err, xerr.KindInternal, "get watch cursor")
	}
	return c.LastSignature, nil
}

// UpdateCursor upsert 游标
func (r *Repo) UpdateCursor(ctx context.Context, wallet, campaignID, signature string) error {
	c := domain.WatchCursor{
		Wallet:        wallet,
		CampaignID:    campaignID,
		LastSignature: signature,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet"}, {Name: "campaign_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_signature", "updated_at"}),
		}).
		Create(&c).Error
	if err != nil {
		return xerr.Wrap(err, xerr.KindInternal, "update watch cursor")
	}
	return nil
}
