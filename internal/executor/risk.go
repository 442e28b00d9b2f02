// risk.go is the pre-trade risk gate. Every order passes four checks before
// placement: the account must be active, the balance backing the order must
// be reliable and sufficient, the position must stay inside the strategy's
// ratio limit, and the day's realized loss must not have exhausted the
// strategy's loss budget.
package executor

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"kis-router/internal/account"
	"kis-router/internal/config"
	"kis-router/internal/store"
	"kis-router/pkg/types"
)

// Machine-readable refusal reasons, surfaced in the execution result.
const (
	reasonBalanceUnreliable = "balance_unreliable"
	reasonInsufficientFunds = "insufficient_balance"
	reasonPositionLimit     = "position_limit_exceeded"
	reasonDailyLossLimit    = "daily_loss_limit_exceeded"
)

// riskGate evaluates the pre-trade checks for one account against the
// strategies attached to it.
type riskGate struct {
	pnl    *store.Store
	logger *slog.Logger
}

func newRiskGate(pnl *store.Store, logger *slog.Logger) *riskGate {
	return &riskGate{pnl: pnl, logger: logger.With("component", "risk")}
}

// limits are the effective risk parameters for one account. When several
// strategies share an account the smallest ratio and loss budget win; the
// original system folds them the same way, limit by limit, which can combine
// bounds no single strategy asked for.
type limits struct {
	maxPositionRatio decimal.Decimal
	maxDailyLoss     decimal.Decimal
	leverage         decimal.Decimal
}

func effectiveLimits(strategies []config.StrategyConfig) limits {
	l := limits{
		maxPositionRatio: decimal.NewFromFloat(config.DefaultMaxPositionRatio),
		maxDailyLoss:     decimal.NewFromInt(config.DefaultMaxDailyLoss),
		leverage:         decimal.NewFromFloat(config.DefaultLeverage),
	}
	for i, s := range strategies {
		ratio := decimal.NewFromFloat(s.MaxPositionRatio)
		loss := decimal.NewFromFloat(s.MaxDailyLoss)
		lev := decimal.NewFromFloat(s.Leverage)
		if i == 0 {
			l.maxPositionRatio, l.maxDailyLoss, l.leverage = ratio, loss, lev
			continue
		}
		if ratio.LessThan(l.maxPositionRatio) {
			l.maxPositionRatio = ratio
		}
		if loss.LessThan(l.maxDailyLoss) {
			l.maxDailyLoss = loss
		}
		if lev.LessThan(l.leverage) {
			l.leverage = lev
		}
	}
	return l
}

// check runs the four pre-trade checks. notional is the order's estimated
// value; zero means it could not be estimated and the balance checks are
// skipped. The returned error names the failed check.
func (g *riskGate) check(acc *account.Account, lim limits, notional decimal.Decimal, bal types.Balance, balMeta types.ReadMeta) *types.ExecError {
	if !acc.IsActive {
		return types.NewExecError(types.ErrRisk, types.ReasonAccountInactive, nil)
	}

	if notional.IsPositive() {
		if !balMeta.Reliable() {
			return types.NewExecError(types.ErrRisk, reasonBalanceUnreliable,
				fmt.Errorf("balance read status %s", balMeta.Status))
		}
		buyingPower := bal.Available.Mul(lim.leverage)
		if notional.GreaterThan(buyingPower) {
			return types.NewExecError(types.ErrRisk, reasonInsufficientFunds,
				fmt.Errorf("notional %s exceeds buying power %s", notional, buyingPower))
		}
		if bal.Total.IsPositive() {
			ratio := notional.Div(bal.Total)
			if ratio.GreaterThan(lim.maxPositionRatio) {
				return types.NewExecError(types.ErrRisk, reasonPositionLimit,
					fmt.Errorf("position ratio %s exceeds limit %s", ratio.StringFixed(4), lim.maxPositionRatio))
			}
		}
	}

	dailyPnL := g.pnl.DailyPnL(acc.ID)
	if !dailyPnL.GreaterThan(lim.maxDailyLoss.Neg()) {
		return types.NewExecError(types.ErrRisk, reasonDailyLossLimit,
			fmt.Errorf("daily realized pnl %s at or below -%s", dailyPnL, lim.maxDailyLoss))
	}
	return nil
}

// recordRealized books the realized P&L of a closing fill into the daily
// ledger. Booking failures are logged, not fatal; the order already filled.
func (g *riskGate) recordRealized(accountID string, delta decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	total, err := g.pnl.AddRealized(accountID, delta)
	if err != nil {
		g.logger.Warn("failed to record realized pnl", "account", accountID, "delta", delta, "error", err)
		return
	}
	g.logger.Info("realized pnl recorded", "account", accountID, "delta", delta, "day_total", total)
}
