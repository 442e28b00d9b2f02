package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"kis-router/internal/account"
	"kis-router/internal/broker"
	"kis-router/internal/config"
	"kis-router/internal/metrics"
	"kis-router/internal/store"
	"kis-router/pkg/types"
)

func TestInferTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current int64
		side    types.Side
		qty     int64
		want    types.Transition
	}{
		{"flat buy", 0, types.BUY, 3, types.TransitionEntry},
		{"flat sell", 0, types.SELL, 3, types.TransitionEntry},
		{"long add", 5, types.BUY, 2, types.TransitionEntry},
		{"long partial close", 5, types.SELL, 3, types.TransitionExit},
		{"long full close", 5, types.SELL, 5, types.TransitionExit},
		{"long reverse", 5, types.SELL, 8, types.TransitionReverse},
		{"short add", -5, types.SELL, 2, types.TransitionEntry},
		{"short partial close", -5, types.BUY, 3, types.TransitionExit},
		{"short full close", -5, types.BUY, 5, types.TransitionExit},
		{"short reverse", -5, types.BUY, 8, types.TransitionReverse},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := inferTransition(tt.current, tt.side, tt.qty); got != tt.want {
				t.Errorf("inferTransition(%d, %s, %d) = %s, want %s", tt.current, tt.side, tt.qty, got, tt.want)
			}
		})
	}
}

// ————————————————————————————————————————————————————————————————————————
// Pipeline tests against a fake broker
// ————————————————————————————————————————————————————————————————————————

// fakeKIS is a minimal futures-account broker stub. Placed orders fill
// according to fillMode on the next status poll.
type fakeKIS struct {
	t *testing.T

	mu       sync.Mutex
	orderSeq int
	placed   []placedOrder
	fillMode string // "fill" or "never"

	symbol       string // front-month code served in positions and fills
	totalBalance string
	usableMoney  string
	netPosition  string // signed btal_qty; "" for flat
	avgPrice     string
	quotePrice   string

	hits map[string]int
}

type placedOrder struct {
	id  string
	qty string
}

func newFakeKIS(t *testing.T) *fakeKIS {
	return &fakeKIS{
		t: t,
		// The executor translates logical futures symbols against the real
		// clock, so the fake must serve the same front-month code.
		symbol:       broker.TranslateFuturesSymbol("USDKRW", time.Now()),
		fillMode:     "fill",
		totalBalance: "100000000",
		usableMoney:  "80000000",
		avgPrice:     "1300",
		quotePrice:   "1350",
		hits:         make(map[string]int),
	}
}

func (f *fakeKIS) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeKIS) totalHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.hits {
		n += c
	}
	return n
}

func (f *fakeKIS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[r.URL.Path]++
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/oauth2/tokenP":
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":               "tok",
			"expires_in":                 86400,
			"access_token_token_expired": "2099-12-31 23:59:59",
		})
	case "/uapi/domestic-futureoption/v1/trading/order":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.orderSeq++
		id := fmt.Sprintf("%07d", f.orderSeq)
		f.placed = append(f.placed, placedOrder{id: id, qty: body["ORD_QTY"]})
		fmt.Fprintf(w, `{"rt_cd":"0","msg_cd":"0000","msg1":"ok","output":{"odno":%q}}`, id)
	case "/uapi/domestic-futureoption/v1/trading/inquire-ccnl":
		recs := make([]string, 0, len(f.placed))
		for _, o := range f.placed {
			filled := "0"
			if f.fillMode == "fill" {
				filled = o.qty
			}
			recs = append(recs, fmt.Sprintf(
				`{"odno":%q,"pdno":%q,"ord_qty":%q,"tot_ccld_qty":%q,"ord_unpr":%q,"sll_buy_dvsn_cd":"01"}`,
				o.id, f.symbol, o.qty, filled, f.quotePrice))
		}
		fmt.Fprintf(w, `{"rt_cd":"0","msg_cd":"0000","msg1":"ok","output1":[%s]}`, strings.Join(recs, ","))
	case "/uapi/domestic-futureoption/v1/trading/inquire-balance":
		positions := ""
		if f.netPosition != "" {
			positions = fmt.Sprintf(`{"pdno":%q,"btal_qty":%q,"mkt_mny":%q,"evlu_amt":"0","evlu_pfls_amt":"0"}`,
				f.symbol, f.netPosition, f.avgPrice)
		}
		fmt.Fprintf(w, `{"rt_cd":"0","msg_cd":"0000","msg1":"ok","output2":{"tot_evlu_amt":%q,"use_psbl_mney":%q},"output1":[%s]}`,
			f.totalBalance, f.usableMoney, positions)
	case "/uapi/domestic-futureoption/v1/quotations/inquire-price":
		fmt.Fprintf(w, `{"rt_cd":"0","msg_cd":"0000","msg1":"ok","output1":{"futs_prpr":%q}}`, f.quotePrice)
	default:
		f.t.Errorf("unexpected broker path %s", r.URL.Path)
		http.NotFound(w, r)
	}
}

type harness struct {
	exec     *Executor
	fake     *fakeKIS
	accounts *account.Store
	brokers  *broker.Registry
	pnl      *store.Store
}

const futuresAccountBlob = `[{
	"id": "fut1",
	"webhook_token": "tok-fut",
	"app_key": "k",
	"app_secret": "s",
	"account_number": "12345678",
	"account_product": "03",
	"account_type": "FUTURES",
	"is_active": true
}]`

func newHarness(t *testing.T, accountsBlob string, strategies []config.StrategyConfig) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fake := newFakeKIS(t)
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	accounts, err := account.Load(accountsBlob, logger)
	if err != nil {
		t.Fatalf("load accounts: %v", err)
	}
	brokers := broker.NewRegistry(accounts, srv.URL, srv.URL, logger)
	for _, id := range accounts.IDs() {
		c, _ := brokers.Client(id)
		c.ForceSession(types.SessionDay)
	}

	pnl, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open pnl store: %v", err)
	}

	cfg := &config.Config{
		Executor:   config.ExecutorConfig{FillWait: 200 * time.Millisecond, CloseWait: 100 * time.Millisecond},
		Strategies: strategies,
	}
	m := metrics.New(prometheus.NewRegistry())

	exec := New(accounts, brokers, cfg, pnl, m, logger)
	exec.initialPollDelay = time.Millisecond
	exec.pollInterval = 5 * time.Millisecond

	return &harness{exec: exec, fake: fake, accounts: accounts, brokers: brokers, pnl: pnl}
}

func futuresSignal(qty int64, action string) types.Signal {
	return types.Signal{
		Symbol:       "USDKRW",
		Action:       action,
		Quantity:     qty,
		WebhookToken: "tok-fut",
	}
}

func TestExecuteUnknownToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, futuresAccountBlob, nil)

	sig := futuresSignal(1, "BUY")
	sig.WebhookToken = "nope"
	res := h.exec.Execute(t.Context(), sig)

	if res.Success {
		t.Fatal("expected refusal")
	}
	if res.ErrorType != types.ErrValidation || res.Error != types.ReasonUnknownToken {
		t.Errorf("error = %s/%s, want validation/%s", res.ErrorType, res.Error, types.ReasonUnknownToken)
	}
	if h.fake.totalHits() != 0 {
		t.Error("unknown tokens must be refused without any broker call")
	}
}

func TestExecuteValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, futuresAccountBlob, nil)

	sig := futuresSignal(1, "HOLD")
	res := h.exec.Execute(t.Context(), sig)
	if res.Success || res.ErrorType != types.ErrValidation {
		t.Errorf("result = %+v, want validation failure", res)
	}
	if h.fake.totalHits() != 0 {
		t.Error("invalid signals must not reach the broker")
	}
}

func TestExecuteInactiveAccount(t *testing.T) {
	t.Parallel()
	blob := strings.Replace(futuresAccountBlob, `"is_active": true`, `"is_active": false`, 1)
	h := newHarness(t, blob, nil)

	res := h.exec.Execute(t.Context(), futuresSignal(1, "BUY"))
	if res.Success || res.Error != types.ReasonAccountInactive {
		t.Errorf("result = %s/%s, want %s", res.ErrorType, res.Error, types.ReasonAccountInactive)
	}
}

func TestExecuteInactiveStrategy(t *testing.T) {
	t.Parallel()
	strategies := []config.StrategyConfig{
		{Name: "trend", AccountID: "fut1", MaxPositionRatio: 1, MaxDailyLoss: 5_000_000, Leverage: 1, IsActive: false},
	}
	h := newHarness(t, futuresAccountBlob, strategies)

	res := h.exec.Execute(t.Context(), futuresSignal(1, "BUY"))
	if res.Success || res.Error != types.ReasonStrategyInactive {
		t.Errorf("result = %s/%s, want %s", res.ErrorType, res.Error, types.ReasonStrategyInactive)
	}
}

func TestExecuteEmergencyStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, futuresAccountBlob, nil)

	h.exec.EmergencyStop()
	if !h.exec.Stopped() {
		t.Fatal("Stopped() should report the halt")
	}
	res := h.exec.Execute(t.Context(), futuresSignal(1, "BUY"))
	if res.Success || res.ErrorType != types.ErrEmergencyStop {
		t.Errorf("result = %+v, want emergency_stop refusal", res)
	}
	if h.fake.totalHits() != 0 {
		t.Error("halted executor must not touch the broker")
	}

	h.exec.Resume()
	if h.exec.Stopped() {
		t.Error("Resume should lift the halt")
	}
}

func TestExecuteEntryFilled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, futuresAccountBlob, nil)

	res := h.exec.Execute(t.Context(), futuresSignal(2, "SELL"))
	if !res.Success {
		t.Fatalf("execution failed: %s/%s", res.ErrorType, res.Error)
	}
	if res.OrderID == "" {
		t.Error("success must carry the broker order id")
	}
	if res.Transition != types.TransitionEntry {
		t.Errorf("transition = %s, want ENTRY", res.Transition)
	}
	if !res.Filled || res.Status != types.StatusFilled {
		t.Errorf("filled = %t status = %s, want filled", res.Filled, res.Status)
	}
	if res.Quantity != 2 {
		t.Errorf("quantity = %d, want 2", res.Quantity)
	}
	if h.fake.orderCount() != 1 {
		t.Errorf("orders placed = %d, want 1", h.fake.orderCount())
	}
}

func TestExecuteReverse(t *testing.T) {
	t.Parallel()
	h := newHarness(t, futuresAccountBlob, nil)
	h.fake.netPosition = "2" // long 2 contracts

	res := h.exec.Execute(t.Context(), futuresSignal(5, "SELL"))
	if !res.Success {
		t.Fatalf("execution failed: %s/%s", res.ErrorType, res.Error)
	}
	if res.Transition != types.TransitionReverse {
		t.Fatalf("transition = %s, want REVERSE", res.Transition)
	}
	if res.CloseID == "" || res.OrderID == "" || res.CloseID == res.OrderID {
		t.Errorf("leg ids = close %q entry %q, want two distinct orders", res.CloseID, res.OrderID)
	}
	if res.Quantity != 3 {
		t.Errorf("entry quantity = %d, want 3 (5 minus the 2 closed)", res.Quantity)
	}
	if h.fake.orderCount() != 2 {
		t.Errorf("orders placed = %d, want 2", h.fake.orderCount())
	}
}

func TestExecuteReverseAbortsWhenCloseUnfilled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, futuresAccountBlob, nil)
	h.fake.netPosition = "2"
	h.fake.fillMode = "never"

	res := h.exec.Execute(t.Context(), futuresSignal(5, "SELL"))
	if res.Success {
		t.Fatal("expected failure when the close leg never fills")
	}
	if res.ErrorType != types.ErrBroker {
		t.Errorf("error type = %s, want broker", res.ErrorType)
	}
	if res.CloseID == "" {
		t.Error("result should keep the close leg's order id")
	}
	if h.fake.orderCount() != 1 {
		t.Errorf("orders placed = %d, want 1: the entry leg must never be placed", h.fake.orderCount())
	}
}

func TestExecuteRiskInsufficientBalance(t *testing.T) {
	t.Parallel()
	h := newHarness(t, futuresAccountBlob, nil)
	h.fake.usableMoney = "1000" // notional 1350 × 10000 dwarfs this

	res := h.exec.Execute(t.Context(), futuresSignal(1, "BUY"))
	if res.Success {
		t.Fatal("expected risk refusal")
	}
	if res.ErrorType != types.ErrRisk || res.Error != reasonInsufficientFunds {
		t.Errorf("error = %s/%s, want risk/%s", res.ErrorType, res.Error, reasonInsufficientFunds)
	}
	if h.fake.orderCount() != 0 {
		t.Error("risk-refused signals must not place orders")
	}
}

func TestExecuteDailyLossLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, futuresAccountBlob, nil)
	if _, err := h.pnl.AddRealized("fut1", decimal.NewFromInt(-6_000_000)); err != nil {
		t.Fatalf("seed pnl: %v", err)
	}

	res := h.exec.Execute(t.Context(), futuresSignal(1, "BUY"))
	if res.Success {
		t.Fatal("expected loss-limit refusal")
	}
	if res.ErrorType != types.ErrRisk || res.Error != reasonDailyLossLimit {
		t.Errorf("error = %s/%s, want risk/%s", res.ErrorType, res.Error, reasonDailyLossLimit)
	}
	if h.fake.orderCount() != 0 {
		t.Error("loss-capped accounts must not place orders")
	}
}

// ————————————————————————————————————————————————————————————————————————
// Quantity resolution
// ————————————————————————————————————————————————————————————————————————

func TestResolveQuantity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, futuresAccountBlob, nil)
	acc, _ := h.accounts.ByID("fut1")
	client, _ := h.brokers.Client("fut1")
	lim := effectiveLimits(nil)

	resolve := func(sig types.Signal, current int64) (int64, *types.ExecError) {
		t.Helper()
		return h.exec.resolveQuantity(t.Context(), acc, client, &sig, "175W06", current, lim)
	}

	if qty, err := resolve(futuresSignal(3, "BUY"), 0); err != nil || qty != 3 {
		t.Errorf("explicit quantity = (%d, %v), want (3, nil)", qty, err)
	}
	if qty, err := resolve(futuresSignal(0, "SELL"), 5); err != nil || qty != 5 {
		t.Errorf("full-trade sell of a long = (%d, %v), want (5, nil)", qty, err)
	}
	if qty, err := resolve(futuresSignal(0, "BUY"), -4); err != nil || qty != 4 {
		t.Errorf("full-trade buy of a short = (%d, %v), want (4, nil)", qty, err)
	}
	if _, err := resolve(futuresSignal(0, "SELL"), -2); err == nil || err.Type != types.ErrValidation {
		t.Errorf("full-trade sell while short = %v, want validation refusal", err)
	}
	if _, err := resolve(futuresSignal(-1, "SELL"), 7); err != nil {
		t.Errorf("quantity -1 should behave like 0: %v", err)
	}

	// Flat full-trade entry sizes from balance × leverage ÷ contract value:
	// 100,000,000 × 1 × 1 ÷ (1350 × 10000) = 7.
	qty, execErr := resolve(futuresSignal(0, "BUY"), 0)
	if execErr != nil {
		t.Fatalf("default futures size: %v", execErr)
	}
	if qty != 7 {
		t.Errorf("default futures size = %d, want 7", qty)
	}
}

func TestResolveQuantityStockSellFlat(t *testing.T) {
	t.Parallel()
	blob := `[{
		"id": "stk1", "webhook_token": "tok-stk", "app_key": "k", "app_secret": "s",
		"account_number": "12345678", "account_product": "01",
		"account_type": "STOCK", "is_active": true
	}]`
	h := newHarness(t, blob, nil)
	acc, _ := h.accounts.ByID("stk1")
	client, _ := h.brokers.Client("stk1")

	sig := types.Signal{Symbol: "005930", Action: "SELL", Quantity: 0, WebhookToken: "tok-stk"}
	_, err := h.exec.resolveQuantity(t.Context(), acc, client, &sig, "005930", 0, effectiveLimits(nil))
	if err == nil || err.Type != types.ErrValidation {
		t.Errorf("flat full-trade stock sell = %v, want validation refusal", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Effective limits
// ————————————————————————————————————————————————————————————————————————

func TestEffectiveLimits(t *testing.T) {
	t.Parallel()

	defaults := effectiveLimits(nil)
	if !defaults.maxPositionRatio.Equal(decimal.NewFromFloat(config.DefaultMaxPositionRatio)) {
		t.Errorf("default ratio = %s", defaults.maxPositionRatio)
	}
	if !defaults.maxDailyLoss.Equal(decimal.NewFromInt(config.DefaultMaxDailyLoss)) {
		t.Errorf("default loss = %s", defaults.maxDailyLoss)
	}

	// Each limit is folded independently: the result can combine bounds no
	// single strategy asked for.
	lim := effectiveLimits([]config.StrategyConfig{
		{MaxPositionRatio: 0.8, MaxDailyLoss: 1_000_000, Leverage: 3},
		{MaxPositionRatio: 0.3, MaxDailyLoss: 4_000_000, Leverage: 2},
	})
	if !lim.maxPositionRatio.Equal(decimal.NewFromFloat(0.3)) {
		t.Errorf("ratio = %s, want 0.3", lim.maxPositionRatio)
	}
	if !lim.maxDailyLoss.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("loss = %s, want 1000000", lim.maxDailyLoss)
	}
	if !lim.leverage.Equal(decimal.NewFromInt(2)) {
		t.Errorf("leverage = %s, want 2", lim.leverage)
	}
}
