// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the router — signals, normalized
// orders, canonical order status, account classes, market sessions, and the
// executor's error taxonomy. It has no dependencies on internal packages, so
// it can be imported by any layer.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side. Used for the close leg of a reversal.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// AccountClass identifies which broker API family an account trades through.
type AccountClass string

const (
	ClassStock    AccountClass = "STOCK"
	ClassFutures  AccountClass = "FUTURES"
	ClassOverseas AccountClass = "OVERSEAS"
)

// Session is the domestic market session derived from wallclock time.
// Futures transaction IDs differ between the day and night sessions;
// CLOSED is never used for TR selection (it falls back to DAY).
type Session string

const (
	SessionDay    Session = "DAY"
	SessionNight  Session = "NIGHT"
	SessionClosed Session = "CLOSED"
)

// TRAction is the operation category a broker transaction ID is selected for.
type TRAction string

const (
	ActionOrder     TRAction = "ORDER"
	ActionCancel    TRAction = "CANCEL"
	ActionBalance   TRAction = "BALANCE"
	ActionInquiry   TRAction = "INQUIRY"
	ActionOrderable TRAction = "ORDERABLE"
)

// OrderStatus is the canonical status vocabulary the adapter projects
// broker-specific responses onto. The broker reports status through a mix of
// locale-sensitive display text and quantity fields; only the canonical
// values below ever leave the broker package.
type OrderStatus string

const (
	StatusPending       OrderStatus = "PENDING"
	StatusPartialFilled OrderStatus = "PARTIAL_FILLED"
	StatusFilled        OrderStatus = "FILLED"
	StatusRejected      OrderStatus = "REJECTED"
	StatusCancelled     OrderStatus = "CANCELLED"
	StatusNotFound      OrderStatus = "NOT_FOUND"
	StatusInvalid       OrderStatus = "INVALID"
	StatusError         OrderStatus = "ERROR"
	StatusUnknown       OrderStatus = "UNKNOWN"
)

// Terminal reports whether the status ends a fill-wait loop.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// Transition describes the change an order induces in the net position.
type Transition string

const (
	TransitionEntry   Transition = "ENTRY"
	TransitionExit    Transition = "EXIT"
	TransitionReverse Transition = "REVERSE"
)

// ReadStatus qualifies the result of a cached broker read.
//
//	success        — fresh fetch or within TTL
//	cached         — fetch failed, serving last-known-good past TTL
//	error_fallback — fetch failed with no prior value; payload is a zero value
//	error_safe     — orderable-amount fetch failed; treat as "cannot trade"
type ReadStatus string

const (
	ReadSuccess       ReadStatus = "success"
	ReadCached        ReadStatus = "cached"
	ReadErrorFallback ReadStatus = "error_fallback"
	ReadErrorSafe     ReadStatus = "error_safe"
)

// ReadMeta accompanies every cached broker read.
type ReadMeta struct {
	Status   ReadStatus    `json:"status"`
	CacheAge time.Duration `json:"cache_age,omitempty"` // only set for cached reads
	Err      string        `json:"error,omitempty"`     // fetch failure description
}

// Reliable reports whether a risk decision may be based on this read.
// A stale last-known-good value is still usable; a zero-value fallback is not.
func (m ReadMeta) Reliable() bool {
	return m.Status == ReadSuccess || m.Status == ReadCached
}

// ————————————————————————————————————————————————————————————————————————
// Signals and orders
// ————————————————————————————————————————————————————————————————————————

// Signal is one externally produced trading instruction, as received on the
// webhook. Quantity 0 or -1 means "full trade": close the open position, or
// open a default-sized one when flat.
type Signal struct {
	Symbol       string    `json:"symbol"`
	Action       string    `json:"action"` // BUY or SELL, normalized upper
	Quantity     int64     `json:"quantity"`
	WebhookToken string    `json:"webhook_token"`
	Price        float64   `json:"price,omitempty"` // 0 = market order
	ReceivedAt   time.Time `json:"-"`
}

// Normalize trims and uppercases the free-form fields in place.
// Serialize→deserialize of a normalized signal yields an equal signal.
func (s *Signal) Normalize() {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	s.Action = strings.ToUpper(strings.TrimSpace(s.Action))
	s.WebhookToken = strings.TrimSpace(s.WebhookToken)
}

// Validate checks the normalized signal's shape. It does not consult any
// account state; routing failures are reported separately.
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return NewExecError(ErrValidation, "symbol is required", nil)
	}
	if s.WebhookToken == "" {
		return NewExecError(ErrValidation, "webhook_token is required", nil)
	}
	if s.Action != string(BUY) && s.Action != string(SELL) {
		return NewExecError(ErrValidation, fmt.Sprintf("action must be BUY or SELL, got %q", s.Action), nil)
	}
	if s.Quantity < -1 {
		return NewExecError(ErrValidation, fmt.Sprintf("quantity must be >= -1, got %d", s.Quantity), nil)
	}
	if s.Price < 0 {
		return NewExecError(ErrValidation, fmt.Sprintf("price must not be negative, got %v", s.Price), nil)
	}
	return nil
}

// Side returns the normalized action as a typed side.
// Only meaningful after Validate has passed.
func (s *Signal) Side() Side {
	return Side(s.Action)
}

// FullTrade reports whether the signal requests full-trade quantity
// resolution (close what is open, or open a default-sized position).
func (s *Signal) FullTrade() bool {
	return s.Quantity == 0 || s.Quantity == -1
}

// NormalizedOrder is the broker-ready order derived from a signal and its
// resolved account: symbol translated, quantity resolved to a positive
// integer, and the position transition classified.
type NormalizedOrder struct {
	AccountID      string     `json:"account_id"`
	Symbol         string     `json:"symbol"`          // after futures-code translation
	OriginalSymbol string     `json:"original_symbol"` // as received on the wire
	Side           Side       `json:"side"`
	Quantity       int64      `json:"quantity"`
	Price          float64    `json:"price,omitempty"` // 0 = market
	Transition     Transition `json:"transition"`
}

// ————————————————————————————————————————————————————————————————————————
// Broker read models
// ————————————————————————————————————————————————————————————————————————

// Position is one holding as reported by the broker. Quantity is signed:
// positive long, negative short (shorts occur only on futures accounts).
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Balance is the account-level money snapshot used for sizing and risk.
type Balance struct {
	Total     decimal.Decimal `json:"total_balance"`
	Available decimal.Decimal `json:"available_balance"`
	Currency  string          `json:"currency"`
}

// Orderable is the broker-computed purchasing capacity for one symbol.
type Orderable struct {
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"orderable_quantity"`
	Cash      decimal.Decimal `json:"orderable_amount"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderDetail is the canonicalized view of one broker order record.
type OrderDetail struct {
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Status    OrderStatus     `json:"status"`
	Quantity  int64           `json:"quantity"`
	FilledQty int64           `json:"filled_quantity"`
	Price     decimal.Decimal `json:"price"`
	OrderTime string          `json:"order_time,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Execution results and error taxonomy
// ————————————————————————————————————————————————————————————————————————

// ErrorType categorizes execution failures for HTTP mapping and clients.
type ErrorType string

const (
	ErrValidation    ErrorType = "validation"
	ErrEmergencyStop ErrorType = "emergency_stop"
	ErrRisk          ErrorType = "risk"
	ErrBroker        ErrorType = "broker"
	ErrSystem        ErrorType = "system"
)

// Routing refusal reasons. The HTTP layer maps these onto status codes
// (unknown token → 401, inactive account or strategy → 403).
const (
	ReasonUnknownToken     = "unknown_webhook_token"
	ReasonAccountInactive  = "account_inactive"
	ReasonStrategyInactive = "strategy_inactive"
)

// ExecError is a typed execution failure. Reason is machine-readable for
// risk refusals (e.g. "position_limit_exceeded") and human-readable otherwise.
type ExecError struct {
	Type   ErrorType
	Reason string
	Err    error
}

// NewExecError builds a typed error; err may be nil.
func NewExecError(t ErrorType, reason string, err error) *ExecError {
	return &ExecError{Type: t, Reason: reason, Err: err}
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ExecutionResult is the outcome of one signal execution.
type ExecutionResult struct {
	Success     bool        `json:"success"`
	ExecutionID string      `json:"execution_id"`
	AccountID   string      `json:"account_id,omitempty"`
	Symbol      string      `json:"symbol,omitempty"`
	Side        Side        `json:"action,omitempty"`
	Quantity    int64       `json:"quantity,omitempty"`
	Transition  Transition  `json:"transition,omitempty"`
	OrderID     string      `json:"order_id,omitempty"`
	CloseID     string      `json:"close_order_id,omitempty"` // close leg of a reversal
	Status      OrderStatus `json:"status,omitempty"`
	Filled      bool        `json:"filled"`
	FilledPrice float64     `json:"filled_price,omitempty"`
	Error       string      `json:"error,omitempty"`
	ErrorType   ErrorType   `json:"error_type,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Ok builds a success result; callers fill order identifiers afterward.
func Ok(executionID string) *ExecutionResult {
	return &ExecutionResult{Success: true, ExecutionID: executionID, Timestamp: time.Now()}
}

// Fail builds a failure result from a typed error.
func Fail(executionID string, err *ExecError) *ExecutionResult {
	return &ExecutionResult{
		Success:     false,
		ExecutionID: executionID,
		Error:       err.Reason,
		ErrorType:   err.Type,
		Timestamp:   time.Now(),
	}
}
