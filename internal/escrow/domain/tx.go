package domain

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Direction uint8

// 资金方向枚举（封闭集合，链上原始数据在 watcher 边界归一化到这里）
const (
	DirectionDeposit    Direction = iota // 存入托管
	DirectionWithdrawal                  // 创建者提取
	DirectionRefund                      // 退回出资人
)

func (d Direction) String() string {
	switch d {
	case DirectionDeposit:
		return "DEPOSIT"
	case DirectionWithdrawal:
		return "WITHDRAWAL"
	case DirectionRefund:
		return "REFUND"
	}
	return "UNKNOWN"
}

type ConfirmState uint8

// 链上确认状态枚举
const (
	StatePending   ConfirmState = iota // 待确认
	StateConfirmed                     // 已确认
	StateReverted                      // 已回滚（唯一允许的降级，终态）
)

func (s ConfirmState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateConfirmed:
		return "CONFIRMED"
	case StateReverted:
		return "REVERTED"
	}
	return "UNKNOWN"
}

type AppendResult uint8

const (
	AppendCreated   AppendResult = iota // 新记录
	AppendUpdated                       // 状态推进 (PENDING->CONFIRMED 或 ->REVERTED)
	AppendDuplicate                     // 幂等命中，no-op
)

func (r AppendResult) String() string {
	switch r {
	case AppendCreated:
		return "created"
	case AppendUpdated:
		return "updated"
	case AppendDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// EscrowTx 一笔观测到的托管资金变动
// 核心唯一标识: ID (链上签名)，重复摄入靠它去重
// 审计要求：只追加，除 ->REVERTED 外不可变，永不删除
type EscrowTx struct {
	ID         string       `gorm:"primaryKey;size:88"`                          // 链上签名
	Wallet     string       `gorm:"size:44;index:idx_wallet_campaign,priority:1"` // 托管钱包地址
	CampaignID string       `gorm:"size:44;index:idx_wallet_campaign,priority:2"` // token合约地址
	Direction  Direction    // 资金方向
	Amount     int64        // lamports，绝不用浮点
	ObservedAt time.Time    `gorm:"index"` // 链上时间
	IngestedAt time.Time    // 本地摄入时间
	State      ConfirmState `gorm:"index"` // 确认状态
}

func (EscrowTx) TableName() string {
	return "escrow_transactions"
}

// Fold CONFIRMED 交易的聚合结果，余额派生的唯一依据
type Fold struct {
	Deposits    int64
	Withdrawals int64
	Refunds     int64
	Count       int64
	LastTxID    string // 排序最后一笔 CONFIRMED 的签名
}

func (f *Fold) Net() int64 {
	return f.Deposits - f.Withdrawals - f.Refunds
}

// ListQuery 游标分页查询
// 排序固定：observed_at asc, id asc，稳定全序，翻页不抖
type ListQuery struct {
	Wallet     string
	CampaignID string // 可选，空则跨 campaign
	After      *Cursor
	Limit      int
}

type Cursor struct {
	ObservedAt int64 // unix nano
	ID         string
}

func (c *Cursor) Encode() string {
	raw := strconv.FormatInt(c.ObservedAt, 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed cursor")
	}
	nano, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	return &Cursor{ObservedAt: nano, ID: parts[1]}, nil
}

// LedgerRepo 账本存储接口
// GetForUpdate 必须在 Transaction 内调用并对该 id 行加锁，
// 同一 id 的并发 append 靠它串行化，不同 id 互不阻塞
type LedgerRepo interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error
	GetForUpdate(ctx context.Context, id string) (*EscrowTx, error)
	Create(ctx context.Context, tx *EscrowTx) error
	UpdateState(ctx context.Context, id string, state ConfirmState) error
	List(ctx context.Context, q ListQuery) ([]*EscrowTx, error)
	FoldConfirmed(ctx context.Context, wallet, campaignID string) (*Fold, error)
	CampaignsOf(ctx context.Context, wallet string) ([]string, error)
	Ping(ctx context.Context) error
}
