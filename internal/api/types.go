package api

import (
	"context"
	"time"

	"kis-router/pkg/types"
)

// Provider is the engine-side surface the HTTP layer talks to. Handlers
// never touch the broker clients directly; everything routes through here.
type Provider interface {
	// Signal path
	ExecuteSignal(ctx context.Context, sig types.Signal) *types.ExecutionResult
	OrderStatus(ctx context.Context, accountID, orderID string) (types.OrderDetail, error)
	CancelOrder(ctx context.Context, accountID, orderID, symbol string) error

	// Emergency controls
	EmergencyStop()
	Resume()
	Stopped() bool

	// Account reads
	AccountIDs() []string
	AccountInfo(accountID string) (AccountInfo, bool)
	Balance(ctx context.Context, accountID string) (types.Balance, types.ReadMeta, bool)
	Positions(ctx context.Context, accountID string) ([]types.Position, types.ReadMeta, bool)

	// Events feeds the WebSocket stream; may return nil when disabled.
	Events() <-chan ExecutionEvent
}

// WebhookResponse is the body returned to the signal source.
type WebhookResponse struct {
	Success     bool      `json:"success"`
	OrderID     string    `json:"order_id,omitempty"`
	CloseID     string    `json:"close_order_id,omitempty"`
	Filled      bool      `json:"filled"`
	ExecutionID string    `json:"execution_id"`
	Error       string    `json:"error,omitempty"`
	ErrorType   string    `json:"error_type,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// AccountInfo is the sanitized account view: no keys, no secrets, account
// number masked down to its tail.
type AccountInfo struct {
	ID            string             `json:"id"`
	Class         types.AccountClass `json:"class"`
	AccountNumber string             `json:"account_number"` // masked, e.g. "****5678"
	IsVirtual     bool               `json:"is_virtual"`
	IsActive      bool               `json:"is_active"`
	TokenValid    bool               `json:"token_valid"` // unexpired broker access token held
}

// AccountBalance wraps a cached balance read with its reliability status.
type AccountBalance struct {
	AccountID string           `json:"account_id"`
	Balance   types.Balance    `json:"balance"`
	Status    types.ReadStatus `json:"status"`
	CacheAge  float64          `json:"cache_age_seconds,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// AccountPositions wraps a cached positions read.
type AccountPositions struct {
	AccountID string           `json:"account_id"`
	Positions []types.Position `json:"positions"`
	Status    types.ReadStatus `json:"status"`
	CacheAge  float64          `json:"cache_age_seconds,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// AccountSummary is one account's row in the portfolio view.
type AccountSummary struct {
	AccountID     string             `json:"account_id"`
	Class         types.AccountClass `json:"class"`
	IsVirtual     bool               `json:"is_virtual"`
	TotalBalance  string             `json:"total_balance"`
	Available     string             `json:"available_balance"`
	Currency      string             `json:"currency"`
	BalanceStatus types.ReadStatus   `json:"balance_status"`
	PositionCount int                `json:"position_count"`
	PositionValue string             `json:"position_value"`
	UnrealizedPnL string             `json:"unrealized_pnl"`
}

// PortfolioSnapshot aggregates every account's summary. The total only sums
// accounts reporting in KRW; mixing currencies would be meaningless.
type PortfolioSnapshot struct {
	Timestamp     time.Time        `json:"timestamp"`
	Accounts      []AccountSummary `json:"accounts"`
	TotalValueKRW string           `json:"total_value_krw"`
	EmergencyStop bool             `json:"emergency_stop"`
}

// errorResponse is the uniform error body for all endpoints.
type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}
