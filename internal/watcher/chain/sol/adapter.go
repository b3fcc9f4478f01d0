package sol

import (
	"context"
	"time"

	"dexvault.com/internal/watcher/domain"
	"dexvault.com/pkg/xerr"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// Adapter Solana 链上数据源
// 只负责拉数据和归一化前的形状整理，去重和状态迁移都交给账本
type Adapter struct {
	client *rpc.Client
}

// New endpoint 例如 rpc.MainNetBeta.RPC
// 自带限速，公共 RPC 节点对高频轮询很敏感
func New(endpoint string) *Adapter {
	client := rpc.NewWithCustomRPCClient(rpc.NewWithLimiter(
		endpoint,
		rate.Every(time.Second), // time frame
		5,                       // limit of requests per time frame
	))
	return &Adapter{client: client}
}

// Pull 从 untilSig 之后拉该钱包的转账，旧到新返回
// 游标只推进到"从最旧开始连续 finalized"的最后一笔：
// 没终局的交易留在游标之后，下一轮重拉才能捕捉 PENDING->CONFIRMED 升级
func (a *Adapter) Pull(ctx context.Context, wallet string, untilSig string) ([]*domain.RawTransfer, string, error) {
	pk, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return nil, "", xerr.Wrap(err, xerr.KindValidation, "bad wallet address")
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Commitment: rpc.CommitmentConfirmed,
	}
	if untilSig != "" {
		sig, err := solana.SignatureFromBase58(untilSig)
		if err != nil {
			return nil, "", xerr.Wrap(err, xerr.KindValidation, "bad cursor signature")
		}
		opts.Until = sig
	}

	sigs, err := a.client.GetSignaturesForAddressWithOpts(ctx, pk, opts)
	if err != nil {
		return nil, "", xerr.Wrap(err, xerr.KindSourceUnavailable, "get signatures")
	}

	transfers := make([]*domain.RawTransfer, 0, len(sigs))
	newCursor := untilSig
	cursorStuck := false

	// RPC 返回新到旧，这里倒序成旧到新
	for i := len(sigs) - 1; i >= 0; i-- {
		s := sigs[i]
		rt := &domain.RawTransfer{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
			Failed:    s.Err != nil,
			Finalized: s.ConfirmationStatus == rpc.ConfirmationStatusFinalized,
		}
		if s.BlockTime != nil {
			rt.BlockTime = s.BlockTime.Time().UTC()
		}

		// 失败交易没有资金变动，金额留 0 即可，账本只需要 REVERTED 标记
		if !rt.Failed {
			if err := a.fillAmount(ctx, s.Signature, pk, wallet, rt); err != nil {
				return nil, "", err
			}
		}
		transfers = append(transfers, rt)

		if !cursorStuck && (rt.Finalized || rt.Failed) {
			newCursor = rt.Signature
		} else {
			cursorStuck = true
		}
	}

	return transfers, newCursor, nil
}

// fillAmount 拉完整交易，用托管钱包的 pre/post balance 差值算金额和方向
func (a *Adapter) fillAmount(ctx context.Context, sig solana.Signature, pk solana.PublicKey, wallet string, rt *domain.RawTransfer) error {
	maxVersion := uint64(0)
	res, err := a.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return xerr.Wrap(err, xerr.KindSourceUnavailable, "get transaction")
	}
	if res.Meta == nil || res.Transaction == nil {
		return nil
	}
	ptx, err := res.Transaction.GetTransaction()
	if err != nil {
		return xerr.Wrap(err, xerr.KindSourceUnavailable, "decode transaction")
	}

	keys := ptx.Message.AccountKeys
	idx := -1
	for i, k := range keys {
		if k.Equals(pk) {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(res.Meta.PreBalances) || idx >= len(res.Meta.PostBalances) {
		return nil
	}

	delta := int64(res.Meta.PostBalances[idx]) - int64(res.Meta.PreBalances[idx])
	rt.Inbound = delta > 0
	if delta < 0 {
		delta = -delta
	}
	rt.Lamports = delta

	// 对手方：资金变动方向相反且变动最大的账户
	best, bestAbs := -1, int64(0)
	for j := range keys {
		if j == idx || j >= len(res.Meta.PreBalances) || j >= len(res.Meta.PostBalances) {
			continue
		}
		d := int64(res.Meta.PostBalances[j]) - int64(res.Meta.PreBalances[j])
		if rt.Inbound == (d > 0) || d == 0 {
			continue
		}
		if d < 0 {
			d = -d
		}
		if d > bestAbs {
			best, bestAbs = j, d
		}
	}
	if rt.Inbound {
		rt.To = wallet
		if best >= 0 {
			rt.From = keys[best].String()
		}
	} else {
		rt.From = wallet
		if best >= 0 {
			rt.To = keys[best].String()
		}
	}
	return nil
}

// Healthy RPC 节点健康探测，健康检查端点用
func (a *Adapter) Healthy(ctx context.Context) error {
	if _, err := a.client.GetHealth(ctx); err != nil {
		return xerr.Wrap(err, xerr.KindSourceUnavailable, "rpc health")
	}
	return nil
}
