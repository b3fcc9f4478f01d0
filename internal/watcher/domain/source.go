package domain

import (
	"context"
	"time"

	escrow "dexvault.com/internal/escrow/domain"
)

// RawTransfer 链上原始转账，尚未进入引擎的 shape
// 这一层之外的代码不许直接碰 RPC 返回的松散结构
type RawTransfer struct {
	Signature string    // 交易签名，全局唯一
	Slot      uint64    // 所在slot
	BlockTime time.Time // 链上时间
	From      string    // 来源地址
	To        string    // 目标地址
	Lamports  int64     // 金额（最小面额，非负）
	Inbound   bool      // 是否打入托管钱包
	Failed    bool      // 链上执行失败（对应 REVERTED）
	Finalized bool      // 已终局确认
}

// ChainSource 链上数据源
// Pull 从 untilSig 游标往后拉该钱包的转账，容忍乱序和重复，
// 去重交给账本的幂等 append，不在这里做
// 数据源不可用时返回 SOURCE_UNAVAILABLE 分类错误，由调用方退避重试
type ChainSource interface {
	Pull(ctx context.Context, wallet string, untilSig string) ([]*RawTransfer, string, error)
	Healthy(ctx context.Context) error
}

// CampaignLister 当前需要监控的活动集合
// 引擎定期对齐：新激活的活动立刻开始拉取，关停的活动停掉 master
type CampaignLister interface {
	ListActive(ctx context.Context) ([]*escrow.Campaign, error)
}

// CursorRepo 摄入游标，断点续拉
type CursorRepo interface {
	GetLastCursor(ctx context.Context, wallet, campaignID string) (string, error)
	UpdateCursor(ctx context.Context, wallet, campaignID, signature string) error
}

// WatchCursor 对应数据库表 watch_cursors
type WatchCursor struct {
	Wallet        string `gorm:"primaryKey;size:44"`
	CampaignID    string `gorm:"primaryKey;size:44"`
	LastSignature string `gorm:"size:88"`
	UpdatedAt     time.Time
}

func (WatchCursor) TableName() string {
	return "watch_cursors"
}
