package domain

import (
	"testing"
	"time"

	escrow "dexvault.com/internal/escrow/domain"
)

var testCampaign = &escrow.Campaign{
	CampaignID:   "So11111111111111111111111111111111111111112",
	Creator:      "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
	EscrowWallet: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
}

func TestNormalize_Directions(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("inbound_is_deposit", func(t *testing.T) {
		tx := Normalize(&RawTransfer{
			Signature: "sig-in",
			From:      "someone",
			To:        testCampaign.EscrowWallet,
			Lamports:  1000,
			Inbound:   true,
			Finalized: true,
			BlockTime: at,
		}, testCampaign)
		if tx.Direction != escrow.DirectionDeposit {
			t.Fatalf("want DEPOSIT got %s", tx.Direction)
		}
		if tx.State != escrow.StateConfirmed {
			t.Fatalf("want CONFIRMED got %s", tx.State)
		}
		if tx.Wallet != testCampaign.EscrowWallet || tx.CampaignID != testCampaign.CampaignID {
			t.Fatalf("key mismatch: %+v", tx)
		}
	})

	t.Run("outbound_to_creator_is_withdrawal", func(t *testing.T) {
		tx := Normalize(&RawTransfer{
			Signature: "sig-out",
			From:      testCampaign.EscrowWallet,
			To:        testCampaign.Creator,
			Lamports:  500,
		}, testCampaign)
		if tx.Direction != escrow.DirectionWithdrawal {
			t.Fatalf("want WITHDRAWAL got %s", tx.Direction)
		}
	})

	t.Run("outbound_elsewhere_is_refund", func(t *testing.T) {
		tx := Normalize(&RawTransfer{
			Signature: "sig-back",
			From:      testCampaign.EscrowWallet,
			To:        "some-backer-wallet",
			Lamports:  300,
		}, testCampaign)
		if tx.Direction != escrow.DirectionRefund {
			t.Fatalf("want REFUND got %s", tx.Direction)
		}
	})
}

func TestNormalize_States(t *testing.T) {
	t.Run("unfinalized_is_pending", func(t *testing.T) {
		tx := Normalize(&RawTransfer{Signature: "s", Inbound: true}, testCampaign)
		if tx.State != escrow.StatePending {
			t.Fatalf("want PENDING got %s", tx.State)
		}
	})

	t.Run("failed_is_reverted_even_if_finalized", func(t *testing.T) {
		tx := Normalize(&RawTransfer{Signature: "s", Inbound: true, Failed: true, Finalized: true}, testCampaign)
		if tx.State != escrow.StateReverted {
			t.Fatalf("want REVERTED got %s", tx.State)
		}
	})
}
