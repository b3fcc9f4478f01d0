package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type CampaignStatus string

const (
	CampaignDraft  CampaignStatus = "draft"
	CampaignActive CampaignStatus = "active"
	CampaignClosed CampaignStatus = "closed"
)

// Campaign 活动元数据，管理路径在引擎之外维护，这里只读
// CampaignID 即 token 合约地址，账本只按值引用它
type Campaign struct {
	CampaignID   string          `gorm:"primaryKey;size:44"` // token合约地址
	Name         string          `gorm:"size:255"`
	Symbol       string          `gorm:"size:20"`
	Creator      string          `gorm:"size:44"` // 创建者钱包
	EscrowWallet string          `gorm:"size:44;index"`
	GoalUSD      decimal.Decimal `gorm:"type:decimal(15,2)"` // 募集目标(USD)
	Status       CampaignStatus  `gorm:"size:20"`
	CreatedAt    time.Time
}

func (Campaign) TableName() string {
	return "campaigns"
}

// Directory 活动目录查询接口
type Directory interface {
	Get(ctx context.Context, campaignID string) (*Campaign, error)
}
