package api

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BuildPortfolio aggregates every account's balance and positions into one
// snapshot. Reads go through the broker cache, so a snapshot costs at most
// one fetch per account per TTL window.
func BuildPortfolio(ctx context.Context, provider Provider) PortfolioSnapshot {
	ids := provider.AccountIDs()
	accounts := make([]AccountSummary, 0, len(ids))
	totalKRW := decimal.Zero

	for _, id := range ids {
		info, ok := provider.AccountInfo(id)
		if !ok {
			continue
		}
		bal, balMeta, ok := provider.Balance(ctx, id)
		if !ok {
			continue
		}
		positions, _, _ := provider.Positions(ctx, id)

		posValue := decimal.Zero
		unrealized := decimal.Zero
		for _, p := range positions {
			posValue = posValue.Add(p.CurrentValue)
			unrealized = unrealized.Add(p.UnrealizedPnL)
		}
		if bal.Currency == "KRW" && balMeta.Reliable() {
			totalKRW = totalKRW.Add(bal.Total)
		}

		accounts = append(accounts, AccountSummary{
			AccountID:     id,
			Class:         info.Class,
			IsVirtual:     info.IsVirtual,
			TotalBalance:  bal.Total.String(),
			Available:     bal.Available.String(),
			Currency:      bal.Currency,
			BalanceStatus: balMeta.Status,
			PositionCount: len(positions),
			PositionValue: posValue.String(),
			UnrealizedPnL: unrealized.String(),
		})
	}

	return PortfolioSnapshot{
		Timestamp:     time.Now(),
		Accounts:      accounts,
		TotalValueKRW: totalKRW.String(),
		EmergencyStop: provider.Stopped(),
	}
}
