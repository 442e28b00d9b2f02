// Package broker adapts order routing onto the Korea Investment & Securities
// (KIS) Open API. One Client serves one account: it owns the account's OAuth
// token, request pacing, circuit breaker, and read cache, and dispatches each
// operation to the stock, futures, or overseas endpoint family.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"kis-router/internal/account"
	"kis-router/pkg/types"
)

const (
	realBaseURL    = "https://openapi.koreainvestment.com:9443"
	virtualBaseURL = "https://openapivts.koreainvestment.com:29443"

	requestTimeout = 30 * time.Second
)

// BrokerError is a rejection reported in the broker's response envelope,
// as opposed to a transport or HTTP failure.
type BrokerError struct {
	Code    string
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// kisEnvelope carries the result fields present on every trading response.
// Response types embed it so call can verify outcomes uniformly.
type kisEnvelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

func (e *kisEnvelope) check() error {
	if e.RtCd == "0" {
		return nil
	}
	return &BrokerError{Code: e.MsgCd, Message: strings.TrimSpace(e.Msg1)}
}

type envelope interface {
	check() error
}

// Client is the per-account broker adapter.
type Client struct {
	acc     *account.Account
	http    *resty.Client
	auth    *Auth
	limiter *RateLimiter
	breaker *gobreaker.CircuitBreaker
	cache   *ttlCache
	logger  *slog.Logger

	now           func() time.Time
	forcedSession types.Session
}

// NewClient builds the adapter for one account. baseURL overrides the
// environment URL derived from the account's virtual flag, which lets tests
// point the client at a local server.
func NewClient(acc *account.Account, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		if acc.IsVirtual {
			baseURL = virtualBaseURL
		} else {
			baseURL = realBaseURL
		}
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout)

	c := &Client{
		acc:     acc,
		http:    httpClient,
		limiter: NewRateLimiter(acc.IsVirtual),
		cache:   newTTLCache(),
		logger:  logger.With("component", "broker", "account", acc.ID),
		now:     time.Now,
	}
	c.auth = NewAuth(acc, httpClient, logger)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "kis-" + acc.ID,
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

func (c *Client) Account() *account.Account { return c.acc }

// ForceSession pins the session used for TR selection, bypassing the clock.
func (c *Client) ForceSession(s types.Session) { c.forcedSession = s }

// TokenValid reports whether the account holds an unexpired access token.
func (c *Client) TokenValid() bool { return c.auth.Valid() }

func (c *Client) session() types.Session {
	return EffectiveSession(c.now(), c.forcedSession)
}

// selectTR resolves the TR for an action under the current effective session.
func (c *Client) selectTR(action types.TRAction) (string, error) {
	return SelectTR(c.acc.Class(), c.session(), c.acc.IsVirtual, action)
}

// call performs one authenticated broker request. Transport errors and
// non-200 statuses count against the circuit breaker; envelope-level
// rejections (rt_cd != "0") do not, since those are the broker answering.
func (c *Client) call(ctx context.Context, method, path, trID string, query map[string]string, body any, out envelope) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	headers, err := c.auth.Headers(ctx, trID)
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (any, error) {
		req := c.http.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetResult(out)
		if len(query) > 0 {
			req.SetQueryParams(query)
		}
		if body != nil {
			req.SetBody(body)
		}

		var resp *resty.Response
		var rerr error
		if method == http.MethodGet {
			resp, rerr = req.Get(path)
		} else {
			resp, rerr = req.Post(path)
		}
		if rerr != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, rerr)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	return out.check()
}

// ——————————————————————————————————————————————————————————————————————
// Orders (never cached)
// ——————————————————————————————————————————————————————————————————————

// PlaceOrder submits a market or limit order and returns the broker order ID.
func (c *Client) PlaceOrder(ctx context.Context, order types.NormalizedOrder) (string, error) {
	switch c.acc.Class() {
	case types.ClassFutures:
		return c.placeFuturesOrder(ctx, order)
	case types.ClassOverseas:
		return c.placeOverseasOrder(ctx, order)
	default:
		return c.placeStockOrder(ctx, order)
	}
}

// CancelOrder cancels the full remaining quantity of an open order. symbol
// is required for overseas accounts, whose cancel endpoint needs the venue
// and product of the original order.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	switch c.acc.Class() {
	case types.ClassFutures:
		return c.cancelFuturesOrder(ctx, orderID)
	case types.ClassOverseas:
		return c.cancelOverseasOrder(ctx, orderID, symbol)
	default:
		return c.cancelStockOrder(ctx, orderID)
	}
}

// GetOrderStatus looks up today's orders and canonicalizes the match. A
// malformed ID reports INVALID and a clean miss NOT_FOUND, neither of which
// is an error; the error return covers broker and transport failures, with
// the detail's status set to ERROR.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (types.OrderDetail, error) {
	if _, ok := orderIDNum(bareOrderNo(orderID)); !ok {
		return types.OrderDetail{OrderID: orderID, Status: types.StatusInvalid}, nil
	}

	var (
		detail types.OrderDetail
		err    error
	)
	switch c.acc.Class() {
	case types.ClassFutures:
		detail, err = c.futuresOrderStatus(ctx, orderID)
	case types.ClassOverseas:
		detail, err = c.overseasOrderStatus(ctx, orderID)
	default:
		detail, err = c.stockOrderStatus(ctx, orderID)
	}
	if err != nil {
		return types.OrderDetail{OrderID: orderID, Status: types.StatusError}, err
	}
	return detail, nil
}

// ——————————————————————————————————————————————————————————————————————
// Reads (cached, degrade to last-known-good)
// ——————————————————————————————————————————————————————————————————————

// GetBalance returns account equity and spendable cash. Failures degrade to
// the last cached value, then to a zero balance.
func (c *Client) GetBalance(ctx context.Context) (types.Balance, types.ReadMeta) {
	const key = "balance"
	if v, ok := c.cache.fresh(key); ok {
		return v.(types.Balance), types.ReadMeta{Status: types.ReadSuccess}
	}

	bal, err := c.fetchBalance(ctx)
	if err == nil {
		c.cache.put(key, bal, balanceTTL)
		return bal, types.ReadMeta{Status: types.ReadSuccess}
	}
	c.logger.Warn("balance fetch failed", "error", err)

	if v, age, ok := c.cache.stale(key); ok {
		return v.(types.Balance), types.ReadMeta{Status: types.ReadCached, CacheAge: age, Err: err.Error()}
	}
	return types.Balance{Currency: c.currency()}, types.ReadMeta{Status: types.ReadErrorFallback, Err: err.Error()}
}

// GetPositions returns open positions. Failures degrade like GetBalance.
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, types.ReadMeta) {
	const key = "positions"
	if v, ok := c.cache.fresh(key); ok {
		return v.([]types.Position), types.ReadMeta{Status: types.ReadSuccess}
	}

	positions, err := c.fetchPositions(ctx)
	if err == nil {
		c.cache.put(key, positions, positionsTTL)
		return positions, types.ReadMeta{Status: types.ReadSuccess}
	}
	c.logger.Warn("positions fetch failed", "error", err)

	if v, age, ok := c.cache.stale(key); ok {
		return v.([]types.Position), types.ReadMeta{Status: types.ReadCached, CacheAge: age, Err: err.Error()}
	}
	return nil, types.ReadMeta{Status: types.ReadErrorFallback, Err: err.Error()}
}

// GetPositionFor returns the position in one instrument; a flat account
// yields a zero-quantity position rather than a miss.
func (c *Client) GetPositionFor(ctx context.Context, symbol string) (types.Position, types.ReadMeta) {
	positions, meta := c.GetPositions(ctx)
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, meta
		}
	}
	return types.Position{Symbol: symbol}, meta
}

// GetOrderable returns how much of symbol the account could buy right now.
// Unlike balance reads, a total failure here reports error_safe: sizing
// decisions must not proceed on a guess.
func (c *Client) GetOrderable(ctx context.Context, symbol string, price float64) (types.Orderable, types.ReadMeta) {
	if c.acc.Class() == types.ClassOverseas {
		return types.Orderable{Symbol: symbol}, types.ReadMeta{
			Status: types.ReadErrorSafe,
			Err:    "orderable inquiry unsupported for overseas accounts",
		}
	}

	key := "orderable:" + symbol
	if v, ok := c.cache.fresh(key); ok {
		return v.(types.Orderable), types.ReadMeta{Status: types.ReadSuccess}
	}

	var (
		ord types.Orderable
		err error
	)
	if c.acc.Class() == types.ClassFutures {
		ord, err = c.fetchFuturesOrderable(ctx, symbol, price)
	} else {
		ord, err = c.fetchStockOrderable(ctx, symbol, price)
	}
	if err == nil {
		c.cache.put(key, ord, orderableTTL)
		return ord, types.ReadMeta{Status: types.ReadSuccess}
	}
	c.logger.Warn("orderable fetch failed", "symbol", symbol, "error", err)

	if v, age, ok := c.cache.stale(key); ok {
		return v.(types.Orderable), types.ReadMeta{Status: types.ReadCached, CacheAge: age, Err: err.Error()}
	}
	return types.Orderable{Symbol: symbol}, types.ReadMeta{Status: types.ReadErrorSafe, Err: err.Error()}
}

func (c *Client) fetchBalance(ctx context.Context) (types.Balance, error) {
	switch c.acc.Class() {
	case types.ClassFutures:
		return c.fetchFuturesBalance(ctx)
	case types.ClassOverseas:
		return c.fetchOverseasBalance(ctx)
	default:
		return c.fetchStockBalance(ctx)
	}
}

func (c *Client) fetchPositions(ctx context.Context) ([]types.Position, error) {
	switch c.acc.Class() {
	case types.ClassFutures:
		return c.fetchFuturesPositions(ctx)
	case types.ClassOverseas:
		return c.fetchOverseasPositions(ctx)
	default:
		return c.fetchStockPositions(ctx)
	}
}

func (c *Client) currency() string {
	if c.acc.Class() == types.ClassOverseas {
		return "USD"
	}
	return "KRW"
}

// GetCurrentPrice quotes the current traded price of a futures contract.
// Virtual environments serve no market data, so callers route quotes for
// virtual accounts through a referenced real account's client.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c.acc.Class() != types.ClassFutures {
		return decimal.Zero, fmt.Errorf("price quotes only supported for futures accounts")
	}
	return c.fetchFuturesPrice(ctx, symbol)
}

// SweepCache drops cached reads older than maxAge.
func (c *Client) SweepCache(maxAge time.Duration) int {
	return c.cache.sweep(maxAge)
}

// FlushCache clears all cached reads, forcing fresh fetches.
func (c *Client) FlushCache() {
	c.cache.flush()
}
