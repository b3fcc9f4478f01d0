package domain

import (
	"time"

	escrow "dexvault.com/internal/escrow/domain"
)

// Normalize 把链上原始转账归一化成账本记录
// 唯一的归一化路径：首次摄入和后续的状态升级 (PENDING->CONFIRMED, ->REVERTED)
// 都从这里走，账本变更逻辑不允许有第二个入口
//
// 方向判定：
//   - 打入托管钱包            -> DEPOSIT
//   - 托管钱包打给活动创建者   -> WITHDRAWAL
//   - 托管钱包打给其他地址     -> REFUND (退回出资人)
func Normalize(raw *RawTransfer, campaign *escrow.Campaign) *escrow.EscrowTx {
	direction := escrow.DirectionDeposit
	if !raw.Inbound {
		if raw.To == campaign.Creator {
			direction = escrow.DirectionWithdrawal
		} else {
			direction = escrow.DirectionRefund
		}
	}

	state := escrow.StatePending
	switch {
	case raw.Failed:
		state = escrow.StateReverted
	case raw.Finalized:
		state = escrow.StateConfirmed
	}

	return &escrow.EscrowTx{
		ID:         raw.Signature,
		Wallet:     campaign.EscrowWallet,
		CampaignID: campaign.CampaignID,
		Direction:  direction,
		Amount:     raw.Lamports,
		ObservedAt: raw.BlockTime,
		IngestedAt: time.Now().UTC(),
		State:      state,
	}
}
