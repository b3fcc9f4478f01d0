package domain

import "time"

// Balance 派生余额，永远可以从账本全量折叠重算出来
// InsufficientData: 该 key 还没有任何 CONFIRMED 交易，和真实的 0 余额区分开，
// 前端提示文案不一样
type Balance struct {
	Wallet           string    `json:"wallet"`
	CampaignID       string    `json:"campaign_id"`
	Amount           int64     `json:"amount"`
	AsOfTxID         string    `json:"as_of_transaction_id"`
	ComputedAt       time.Time `json:"computed_at"`
	InsufficientData bool      `json:"insufficient_data,omitempty"`
}
