package handler

import (
	"time"

	"dexvault.com/internal/escrow/domain"
	"dexvault.com/internal/escrow/service"
	"dexvault.com/pkg/common"
	"dexvault.com/pkg/xerr"
	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Staleness 摄入引擎的降级判定，campaign-detail 用它打 stale 标记
type Staleness interface {
	Degraded(campaignID string) bool
}

// EscrowHandler 查询面，纯只读
// 余额一律从投影层取，账本历史走游标分页，绝不在请求里碰链上数据源
type EscrowHandler struct {
	directory domain.Directory
	ledger    *service.LedgerService
	projector *service.Projector
	staleness Staleness
	// SOL 报价用于目标进度估算，价格源不在系统边界内，配置给死
	solPriceUSD decimal.Decimal
}

func NewEscrowHandler(directory domain.Directory, ledger *service.LedgerService,
	projector *service.Projector, staleness Staleness, solPriceUSD decimal.Decimal) *EscrowHandler {
	return &EscrowHandler{
		directory:   directory,
		ledger:      ledger,
		projector:   projector,
		staleness:   staleness,
		solPriceUSD: solPriceUSD,
	}
}

// txView 账本记录的对外形状，枚举转成字符串
type txView struct {
	ID         string    `json:"id"`
	Wallet     string    `json:"wallet"`
	CampaignID string    `json:"campaign_id"`
	Direction  string    `json:"direction"`
	Amount     int64     `json:"amount"`
	ObservedAt time.Time `json:"observed_at"`
	IngestedAt time.Time `json:"ingested_at"`
	State      string    `json:"state"`
}

func toTxView(tx *domain.EscrowTx) txView {
	return txView{
		ID:         tx.ID,
		Wallet:     tx.Wallet,
		CampaignID: tx.CampaignID,
		Direction:  tx.Direction.String(),
		Amount:     tx.Amount,
		ObservedAt: tx.ObservedAt,
		IngestedAt: tx.IngestedAt,
		State:      tx.State.String(),
	}
}

type campaignDetailResp struct {
	CampaignID    string          `json:"campaign_id"`
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	Creator       string          `json:"creator"`
	EscrowWallet  string          `json:"escrow_wallet"`
	GoalUSD       decimal.Decimal `json:"goal_usd"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	Balance       *domain.Balance `json:"balance"`
	ProgressPct   decimal.Decimal `json:"progress_pct"`
	Stale         bool            `json:"stale,omitempty"`
}

// CampaignDetail GET /api/campaign-detail/:campaign_id
// 活动元数据 + 托管余额 + 募集进度
// 数据源降级时余额照常返回（最后已知状态），带 stale 标记
func (h *EscrowHandler) CampaignDetail(c *gin.Context) {
	campaignID := c.Param("campaign_id")
	if _, err := solana.PublicKeyFromBase58(campaignID); err != nil {
		common.Fail(c, xerr.KindValidation, "invalid campaign id")
		return
	}

	campaign, err := h.directory.Get(c.Request.Context(), campaignID)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	bal, err := h.projector.BalanceOf(c.Request.Context(), campaign.EscrowWallet, campaignID)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	resp := campaignDetailResp{
		CampaignID:   campaign.CampaignID,
		Name:         campaign.Name,
		Symbol:       campaign.Symbol,
		Creator:      campaign.Creator,
		EscrowWallet: campaign.EscrowWallet,
		GoalUSD:      campaign.GoalUSD,
		Status:       string(campaign.Status),
		CreatedAt:    campaign.CreatedAt,
		Balance:      bal,
		ProgressPct:  progressPct(bal, campaign.GoalUSD, h.solPriceUSD),
		Stale:        h.staleness != nil && h.staleness.Degraded(campaignID),
	}
	common.OK(c, resp)
}

// progressPct lamports 换算成 USD 再对比目标，全程 decimal 不碰浮点
func progressPct(bal *domain.Balance, goalUSD, solPriceUSD decimal.Decimal) decimal.Decimal {
	if bal == nil || bal.InsufficientData || goalUSD.IsZero() {
		return decimal.Zero
	}
	lamportsPerSol := decimal.NewFromInt(1_000_000_000)
	usd := decimal.NewFromInt(bal.Amount).Div(lamportsPerSol).Mul(solPriceUSD)
	return usd.Div(goalUSD).Mul(decimal.NewFromInt(100)).Round(2)
}

type txListResp struct {
	Items      []txView `json:"items"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type listReq struct {
	CampaignID string `form:"campaign_id"`
	Cursor     string `form:"cursor"`
	Limit      int    `form:"limit"`
}

// Transactions GET /api/escrow-transactions/:wallet
// 稳定全序游标分页；没见过的钱包返回 200 空页，不算错
func (h *EscrowHandler) Transactions(c *gin.Context) {
	wallet := c.Param("wallet")
	if _, err := solana.PublicKeyFromBase58(wallet); err != nil {
		common.Fail(c, xerr.KindValidation, "invalid wallet address")
		return
	}
	var req listReq
	if err := c.ShouldBindQuery(&req); err != nil {
		common.Fail(c, xerr.KindValidation, "invalid query params")
		return
	}
	if req.CampaignID != "" {
		if _, err := solana.PublicKeyFromBase58(req.CampaignID); err != nil {
			common.Fail(c, xerr.KindValidation, "invalid campaign id")
			return
		}
	}

	page, err := h.ledger.List(c.Request.Context(), wallet, req.CampaignID, req.Cursor, req.Limit)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	resp := txListResp{
		Items:      make([]txView, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, tx := range page.Items {
		resp.Items = append(resp.Items, toTxView(tx))
	}
	common.OK(c, resp)
}

type walletBalancesResp struct {
	Wallet   string                     `json:"wallet"`
	Balances map[string]*domain.Balance `json:"balances"`
	Errors   map[string]xerr.Kind       `json:"errors,omitempty"`
}

// Balance GET /api/escrow-balance?wallet=W[&campaign_id=C]
// 带 campaign_id 查单个 key，否则汇总该钱包名下所有 campaign
// 派生出负余额按 INCONSISTENT_LEDGER 报 409，绝不静默返回
func (h *EscrowHandler) Balance(c *gin.Context) {
	wallet := c.Query("wallet")
	if wallet == "" {
		common.Fail(c, xerr.KindValidation, "wallet is required")
		return
	}
	if _, err := solana.PublicKeyFromBase58(wallet); err != nil {
		common.Fail(c, xerr.KindValidation, "invalid wallet address")
		return
	}

	if campaignID := c.Query("campaign_id"); campaignID != "" {
		if _, err := solana.PublicKeyFromBase58(campaignID); err != nil {
			common.Fail(c, xerr.KindValidation, "invalid campaign id")
			return
		}
		bal, err := h.projector.BalanceOf(c.Request.Context(), wallet, campaignID)
		if err != nil {
			common.FailErr(c, err)
			return
		}
		common.OK(c, bal)
		return
	}

	all, err := h.projector.BalancesOf(c.Request.Context(), wallet)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	resp := walletBalancesResp{
		Wallet:   all.Wallet,
		Balances: all.Balances,
	}
	if len(all.Errors) > 0 {
		resp.Errors = all.Errors
	}
	common.OK(c, resp)
}
