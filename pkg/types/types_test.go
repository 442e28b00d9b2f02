package types

import (
	"errors"
	"testing"
)

func TestSignalNormalizeAndValidate(t *testing.T) {
	t.Parallel()

	sig := Signal{Symbol: " usdkrw ", Action: " buy ", WebhookToken: " tok ", Quantity: 1}
	sig.Normalize()
	if sig.Symbol != "USDKRW" || sig.Action != "BUY" || sig.WebhookToken != "tok" {
		t.Errorf("normalized = %+v", sig)
	}
	if err := sig.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if sig.Side() != BUY {
		t.Errorf("Side() = %s, want BUY", sig.Side())
	}
}

func TestSignalValidateRejects(t *testing.T) {
	t.Parallel()

	valid := Signal{Symbol: "USDKRW", Action: "SELL", WebhookToken: "tok", Quantity: 0}

	tests := []struct {
		name   string
		mutate func(*Signal)
	}{
		{"missing symbol", func(s *Signal) { s.Symbol = "" }},
		{"missing token", func(s *Signal) { s.WebhookToken = "" }},
		{"bad action", func(s *Signal) { s.Action = "HOLD" }},
		{"quantity below -1", func(s *Signal) { s.Quantity = -2 }},
		{"negative price", func(s *Signal) { s.Price = -1 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig := valid
			tt.mutate(&sig)
			err := sig.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var execErr *ExecError
			if !errors.As(err, &execErr) || execErr.Type != ErrValidation {
				t.Errorf("error = %v, want a validation ExecError", err)
			}
		})
	}
}

func TestSignalFullTrade(t *testing.T) {
	t.Parallel()

	for _, qty := range []int64{0, -1} {
		if !(&Signal{Quantity: qty}).FullTrade() {
			t.Errorf("quantity %d should be a full trade", qty)
		}
	}
	if (&Signal{Quantity: 3}).FullTrade() {
		t.Error("explicit quantity is not a full trade")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []OrderStatus{StatusFilled, StatusRejected, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []OrderStatus{StatusPending, StatusPartialFilled, StatusNotFound, StatusUnknown, StatusError}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not end a fill wait", s)
		}
	}
}

func TestReadMetaReliable(t *testing.T) {
	t.Parallel()

	if !(ReadMeta{Status: ReadSuccess}).Reliable() {
		t.Error("success reads are reliable")
	}
	if !(ReadMeta{Status: ReadCached}).Reliable() {
		t.Error("last-known-good reads are reliable")
	}
	if (ReadMeta{Status: ReadErrorFallback}).Reliable() {
		t.Error("zero-value fallbacks are not reliable")
	}
	if (ReadMeta{Status: ReadErrorSafe}).Reliable() {
		t.Error("error_safe reads are not reliable")
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()
	if BUY.Opposite() != SELL || SELL.Opposite() != BUY {
		t.Error("Opposite should swap sides")
	}
}
