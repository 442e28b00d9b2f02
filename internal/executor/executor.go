// Package executor drives a trading signal from webhook intake to fill
// confirmation.
//
// The pipeline for one signal:
//
//  1. Emergency gate     — a process-wide halt flag blocks everything.
//  2. Validation         — shape checks on the normalized signal.
//  3. Routing            — webhook token → account, both must be active.
//  4. Symbol translation — futures underlyings become front-month codes.
//  5. Position read      — current net position in the instrument (cached).
//  6. Quantity           — explicit quantities pass through; 0/-1 means
//     "full trade": close what is open, or open a default-sized position.
//  7. Transition         — ENTRY, EXIT or REVERSE from position vs. order.
//  8. Risk gate          — active account, funded balance, position ratio,
//     daily loss budget.
//  9. Placement          — one order, or close-then-enter for a reversal.
//  10. Fill wait         — poll order status until terminal or timeout.
//
// The first failing stage short-circuits with a typed error result. The
// executor never retries within a request; retry policy belongs to the
// signal source.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kis-router/internal/account"
	"kis-router/internal/api"
	"kis-router/internal/broker"
	"kis-router/internal/config"
	"kis-router/internal/metrics"
	"kis-router/internal/store"
	"kis-router/pkg/types"
)

// fullTradeOrderableShare sizes non-futures default entries as a tenth of
// the orderable quantity.
const fullTradeOrderableShare = 10

// EventFunc receives execution lifecycle events for the dashboard stream.
type EventFunc func(eventType string, data any)

// Executor orchestrates the signal pipeline over the credential store and
// the per-account broker clients.
type Executor struct {
	accounts *account.Store
	brokers  *broker.Registry
	cfg      config.ExecutorConfig
	strats   func(accountID string) []config.StrategyConfig
	gate     *riskGate
	metrics  *metrics.Metrics
	logger   *slog.Logger
	emit     EventFunc

	stopped atomic.Bool
	now     func() time.Time

	// fill-wait pacing, shortened in tests
	initialPollDelay time.Duration
	pollInterval     time.Duration
}

// New wires the executor. cfg supplies the fill-wait budgets and the
// strategy metadata; pnl backs the daily loss check.
func New(accounts *account.Store, brokers *broker.Registry, cfg *config.Config, pnl *store.Store, m *metrics.Metrics, logger *slog.Logger) *Executor {
	return &Executor{
		accounts:         accounts,
		brokers:          brokers,
		cfg:              cfg.Executor,
		strats:           cfg.StrategiesFor,
		gate:             newRiskGate(pnl, logger),
		metrics:          m,
		logger:           logger.With("component", "executor"),
		now:              time.Now,
		initialPollDelay: time.Second,
		pollInterval:     4 * time.Second,
	}
}

// SetEventFunc installs the dashboard event sink. Safe to leave unset.
func (e *Executor) SetEventFunc(fn EventFunc) { e.emit = fn }

func (e *Executor) publish(eventType string, data any) {
	if e.emit != nil {
		e.emit(eventType, data)
	}
}

// EmergencyStop halts all signal execution until Resume.
func (e *Executor) EmergencyStop() {
	e.stopped.Store(true)
	e.metrics.EmergencyStop.Set(1)
	e.logger.Warn("emergency stop engaged")
	e.publish(api.EventEmergencyStop, map[string]bool{"stopped": true})
}

// Resume lifts the emergency stop.
func (e *Executor) Resume() {
	e.stopped.Store(false)
	e.metrics.EmergencyStop.Set(0)
	e.logger.Info("trading resumed")
	e.publish(api.EventEmergencyStop, map[string]bool{"stopped": false})
}

// Stopped reports whether the emergency stop is engaged.
func (e *Executor) Stopped() bool { return e.stopped.Load() }

// Execute runs one signal through the pipeline and returns its outcome.
// All failures come back inside the result, never as a Go error.
func (e *Executor) Execute(ctx context.Context, sig types.Signal) *types.ExecutionResult {
	execID := uuid.NewString()
	sig.Normalize()
	logger := e.logger.With("execution", execID, "symbol", sig.Symbol, "action", sig.Action)

	// Stage 1: emergency gate
	if e.stopped.Load() {
		return e.fail(logger, execID, "", sig,
			types.NewExecError(types.ErrEmergencyStop, "trading halted by emergency stop", nil))
	}

	// Stage 2: validation
	if err := sig.Validate(); err != nil {
		return e.fail(logger, execID, "", sig, err.(*types.ExecError))
	}

	// Stage 3: routing
	acc, ok := e.accounts.ByToken(sig.WebhookToken)
	if !ok {
		return e.fail(logger, execID, "", sig,
			types.NewExecError(types.ErrValidation, types.ReasonUnknownToken, nil))
	}
	logger = logger.With("account", acc.ID)
	if !acc.IsActive {
		return e.fail(logger, execID, acc.ID, sig,
			types.NewExecError(types.ErrValidation, types.ReasonAccountInactive, nil))
	}
	strategies := e.strats(acc.ID)
	if len(strategies) > 0 && !anyActive(strategies) {
		return e.fail(logger, execID, acc.ID, sig,
			types.NewExecError(types.ErrValidation, types.ReasonStrategyInactive, nil))
	}
	client, ok := e.brokers.Client(acc.ID)
	if !ok {
		return e.fail(logger, execID, acc.ID, sig,
			types.NewExecError(types.ErrSystem, "no broker client for account", nil))
	}
	e.publish(api.EventSignalReceived, map[string]any{
		"execution_id": execID, "account": acc.ID,
		"symbol": sig.Symbol, "action": sig.Action, "quantity": sig.Quantity,
	})

	// Stage 4: symbol translation
	symbol := sig.Symbol
	if acc.Class() == types.ClassFutures {
		symbol = broker.TranslateFuturesSymbol(sig.Symbol, e.now())
	}

	// Stage 5: current position
	pos, posMeta := client.GetPositionFor(ctx, symbol)
	if posMeta.Status == types.ReadErrorFallback {
		logger.Warn("position read degraded to zero fallback", "error", posMeta.Err)
	}
	current := pos.Quantity

	// Stage 6: quantity resolution
	lim := effectiveLimits(activeStrategies(strategies))
	qty, execErr := e.resolveQuantity(ctx, acc, client, &sig, symbol, current, lim)
	if execErr != nil {
		return e.fail(logger, execID, acc.ID, sig, execErr)
	}

	// Stage 7: transition inference
	transition := inferTransition(current, sig.Side(), qty)

	order := types.NormalizedOrder{
		AccountID:      acc.ID,
		Symbol:         symbol,
		OriginalSymbol: sig.Symbol,
		Side:           sig.Side(),
		Quantity:       qty,
		Price:          sig.Price,
		Transition:     transition,
	}
	logger = logger.With("instrument", symbol, "quantity", qty, "transition", transition)

	// Stage 8: risk gate
	notional := e.estimateNotional(ctx, acc, order)
	bal, balMeta := client.GetBalance(ctx)
	if err := e.gate.check(acc, lim, notional, bal, balMeta); err != nil {
		return e.fail(logger, execID, acc.ID, sig, err)
	}

	// Stages 9–10: placement and fill wait
	result := e.place(ctx, logger, execID, client, pos, order)
	e.metrics.Executions.WithLabelValues(acc.ID, string(transition), resultLabel(result)).Inc()
	if result.Success {
		logger.Info("execution complete", "order_id", result.OrderID, "filled", result.Filled)
		e.publish(api.EventExecutionCompleted, result)
	} else {
		logger.Warn("execution failed", "error", result.Error, "error_type", result.ErrorType)
		e.publish(api.EventExecutionFailed, result)
	}
	return result
}

// place submits the order (two legs for a reversal) and waits for fills.
func (e *Executor) place(ctx context.Context, logger *slog.Logger, execID string, client *broker.Client, pos types.Position, order types.NormalizedOrder) *types.ExecutionResult {
	res := types.Ok(execID)
	res.AccountID = order.AccountID
	res.Symbol = order.OriginalSymbol
	res.Side = order.Side
	res.Quantity = order.Quantity
	res.Transition = order.Transition

	entry := order
	if order.Transition == types.TransitionReverse {
		// Close the open position at market first; the entry leg is only
		// placed once the close fills.
		closeQty := abs(pos.Quantity)
		closeLeg := order
		closeLeg.Quantity = closeQty
		closeLeg.Price = 0

		closeID, err := client.PlaceOrder(ctx, closeLeg)
		if err != nil {
			return e.failResult(res, types.NewExecError(types.ErrBroker, "reverse close rejected", err))
		}
		res.CloseID = closeID
		e.metrics.OrdersPlaced.WithLabelValues(order.AccountID, string(order.Side)).Inc()
		logger.Info("reverse close placed", "order_id", closeID, "quantity", closeQty)

		detail, execErr := e.waitForFill(ctx, client, closeID, e.cfg.CloseWait)
		if execErr != nil {
			res.Status = detail.Status
			return e.failResult(res, execErr)
		}
		if detail.Status != types.StatusFilled {
			res.Status = detail.Status
			return e.failResult(res, types.NewExecError(types.ErrBroker,
				fmt.Sprintf("reverse close not filled: %s", detail.Status), nil))
		}
		e.bookRealized(order.AccountID, order.Symbol, pos, detail, closeQty)

		entry.Quantity = order.Quantity - closeQty
		res.Quantity = entry.Quantity
	}

	orderID, err := client.PlaceOrder(ctx, entry)
	if err != nil {
		return e.failResult(res, types.NewExecError(types.ErrBroker, "order rejected", err))
	}
	res.OrderID = orderID
	e.metrics.OrdersPlaced.WithLabelValues(order.AccountID, string(order.Side)).Inc()
	logger.Info("order placed", "order_id", orderID)

	detail, execErr := e.waitForFill(ctx, client, orderID, e.cfg.FillWait)
	res.Status = detail.Status
	if execErr != nil {
		return e.failResult(res, execErr)
	}
	switch detail.Status {
	case types.StatusFilled:
		res.Filled = true
		if detail.Price.IsPositive() {
			res.FilledPrice, _ = detail.Price.Float64()
		}
		if order.Transition == types.TransitionExit {
			e.bookRealized(order.AccountID, order.Symbol, pos, detail, entry.Quantity)
		}
		return res
	case types.StatusRejected, types.StatusCancelled:
		return e.failResult(res, types.NewExecError(types.ErrBroker,
			fmt.Sprintf("order %s: %s", orderID, detail.Status), nil))
	default:
		return e.failResult(res, types.NewExecError(types.ErrBroker,
			fmt.Sprintf("order %s not filled within %s, last status %s", orderID, e.cfg.FillWait, detail.Status), nil))
	}
}

// waitForFill polls order status until it is terminal, the budget runs out,
// or the request is cancelled. The last observed detail is always returned.
func (e *Executor) waitForFill(ctx context.Context, client *broker.Client, orderID string, wait time.Duration) (types.OrderDetail, *types.ExecError) {
	started := e.now()
	deadline := started.Add(wait)
	detail := types.OrderDetail{OrderID: orderID, Status: types.StatusPending}
	defer func() {
		e.metrics.FillWaitSeconds.Observe(e.now().Sub(started).Seconds())
	}()

	delay := e.initialPollDelay
	for {
		if err := sleepCtx(ctx, delay); err != nil {
			return detail, types.NewExecError(types.ErrSystem, "request cancelled during fill wait", err)
		}
		delay = e.pollInterval

		d, err := client.GetOrderStatus(ctx, orderID)
		if err != nil {
			// Transient inquiry failures do not abandon the wait; the order
			// may still be working at the broker.
			e.logger.Warn("order status poll failed", "order_id", orderID, "error", err)
		} else {
			detail = d
			if d.Status.Terminal() {
				return detail, nil
			}
		}
		if !e.now().Add(delay).Before(deadline) {
			return detail, nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// resolveQuantity turns the signal quantity into a positive order size.
// Explicit quantities pass through; full-trade signals close the open
// position or open a default-sized one.
func (e *Executor) resolveQuantity(ctx context.Context, acc *account.Account, client *broker.Client, sig *types.Signal, symbol string, current int64, lim limits) (int64, *types.ExecError) {
	if sig.Quantity > 0 {
		return sig.Quantity, nil
	}

	side := sig.Side()
	switch {
	case side == types.SELL && current > 0:
		return current, nil
	case side == types.SELL && current < 0:
		return 0, types.NewExecError(types.ErrValidation,
			"already short, full-trade sell cannot add to a short position", nil)
	case side == types.BUY && current < 0:
		return -current, nil
	case side == types.SELL && current == 0 && acc.Class() != types.ClassFutures:
		return 0, types.NewExecError(types.ErrValidation,
			"full-trade sell with no position is only supported for futures", nil)
	}

	// Flat (or long BUY): open a default-sized position.
	if acc.Class() == types.ClassFutures {
		return e.defaultFuturesSize(ctx, acc, client, symbol, lim)
	}
	return e.defaultOrderableSize(ctx, client, symbol, sig.Price)
}

// defaultFuturesSize sizes a futures entry from buying power:
// balance × leverage × max_position_ratio over one contract's value.
func (e *Executor) defaultFuturesSize(ctx context.Context, acc *account.Account, client *broker.Client, symbol string, lim limits) (int64, *types.ExecError) {
	price, err := e.brokers.QuoteClient(acc).GetCurrentPrice(ctx, symbol)
	if err != nil {
		return 0, types.NewExecError(types.ErrBroker, "cannot size order without a price quote", err)
	}
	bal, meta := client.GetBalance(ctx)
	if !meta.Reliable() {
		return 0, types.NewExecError(types.ErrRisk, reasonBalanceUnreliable,
			fmt.Errorf("balance read status %s", meta.Status))
	}

	contract := price.Mul(decimal.NewFromInt(broker.FuturesMultiplier(symbol)))
	if !contract.IsPositive() {
		return 0, types.NewExecError(types.ErrSystem, "non-positive contract value", nil)
	}
	budget := bal.Total.Mul(lim.leverage).Mul(lim.maxPositionRatio)
	size := budget.Div(contract).IntPart()
	if size < 1 {
		size = 1
	}
	return size, nil
}

// defaultOrderableSize sizes a stock entry as a share of the orderable
// quantity. An error_safe read means sizing must not guess.
func (e *Executor) defaultOrderableSize(ctx context.Context, client *broker.Client, symbol string, price float64) (int64, *types.ExecError) {
	ord, meta := client.GetOrderable(ctx, symbol, price)
	if !meta.Reliable() {
		return 0, types.NewExecError(types.ErrRisk, "orderable_unavailable",
			fmt.Errorf("orderable read status %s: %s", meta.Status, meta.Err))
	}
	size := ord.Quantity / fullTradeOrderableShare
	if size < 1 {
		size = 1
	}
	return size, nil
}

// estimateNotional values the order for the risk gate. Zero means the value
// could not be estimated and the balance checks are skipped.
func (e *Executor) estimateNotional(ctx context.Context, acc *account.Account, order types.NormalizedOrder) decimal.Decimal {
	price := decimal.NewFromFloat(order.Price)
	if !price.IsPositive() && acc.Class() == types.ClassFutures {
		if quoted, err := e.brokers.QuoteClient(acc).GetCurrentPrice(ctx, order.Symbol); err == nil {
			price = quoted
		}
	}
	if !price.IsPositive() {
		return decimal.Zero
	}
	notional := price.Mul(decimal.NewFromInt(order.Quantity))
	if acc.Class() == types.ClassFutures {
		notional = notional.Mul(decimal.NewFromInt(broker.FuturesMultiplier(order.Symbol)))
	}
	return notional
}

// bookRealized records the realized P&L of a closing fill when the inquiry
// exposed a usable fill price.
func (e *Executor) bookRealized(accountID, symbol string, pos types.Position, detail types.OrderDetail, qty int64) {
	if !detail.Price.IsPositive() || !pos.AvgPrice.IsPositive() {
		return
	}
	perUnit := detail.Price.Sub(pos.AvgPrice)
	if pos.Quantity < 0 {
		perUnit = perUnit.Neg() // closing a short profits when price fell
	}
	delta := perUnit.Mul(decimal.NewFromInt(qty))
	if mult := broker.FuturesMultiplier(symbol); mult > 1 {
		delta = delta.Mul(decimal.NewFromInt(mult))
	}
	e.gate.recordRealized(accountID, delta)
}

// inferTransition classifies the position change an order induces. It is a
// pure function of the current signed position, the side, and the order
// quantity.
func inferTransition(current int64, side types.Side, qty int64) types.Transition {
	switch {
	case current == 0:
		return types.TransitionEntry
	case current > 0:
		if side == types.BUY {
			return types.TransitionEntry
		}
		if qty > current {
			return types.TransitionReverse
		}
		return types.TransitionExit
	default: // short
		if side == types.SELL {
			return types.TransitionEntry
		}
		if qty > -current {
			return types.TransitionReverse
		}
		return types.TransitionExit
	}
}

// fail finalizes a short-circuited execution.
func (e *Executor) fail(logger *slog.Logger, execID, accountID string, sig types.Signal, execErr *types.ExecError) *types.ExecutionResult {
	res := types.Fail(execID, execErr)
	res.AccountID = accountID
	res.Symbol = sig.Symbol
	e.metrics.Executions.WithLabelValues(orLabel(accountID), "", resultLabel(res)).Inc()
	logger.Warn("execution refused", "error_type", execErr.Type, "reason", execErr.Reason)
	e.publish(api.EventExecutionFailed, res)
	return res
}

// failResult marks an in-flight result failed, keeping order identifiers.
func (e *Executor) failResult(res *types.ExecutionResult, execErr *types.ExecError) *types.ExecutionResult {
	res.Success = false
	res.Error = execErr.Reason
	if execErr.Err != nil {
		res.Error = fmt.Sprintf("%s: %v", execErr.Reason, execErr.Err)
	}
	res.ErrorType = execErr.Type
	return res
}

func anyActive(strategies []config.StrategyConfig) bool {
	for _, s := range strategies {
		if s.IsActive {
			return true
		}
	}
	return false
}

func activeStrategies(strategies []config.StrategyConfig) []config.StrategyConfig {
	out := make([]config.StrategyConfig, 0, len(strategies))
	for _, s := range strategies {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out
}

func resultLabel(res *types.ExecutionResult) string {
	if res.Success {
		return "success"
	}
	return string(res.ErrorType)
}

func orLabel(accountID string) string {
	if accountID == "" {
		return "unknown"
	}
	return accountID
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
