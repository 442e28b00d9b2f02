package broker

import (
	"testing"
	"time"
)

func TestTranslateFuturesSymbol(t *testing.T) {
	t.Parallel()

	// June 2025: third Thursday is the 19th, second Thursday the 12th.
	tests := []struct {
		name   string
		symbol string
		now    time.Time
		want   string
	}{
		{"before expiry", "USDKRW", kstTime(2025, time.June, 18, 10, 0, 0), "175W06"},
		{"on expiry day rolls", "USDKRW", kstTime(2025, time.June, 19, 0, 0, 1), "175W07"},
		{"after expiry", "USDKRW", kstTime(2025, time.June, 25, 10, 0, 0), "175W07"},
		{"lowercase accepted", "usdkrw", kstTime(2025, time.June, 18, 10, 0, 0), "175W06"},
		{"december rolls to january", "USDKRW", kstTime(2025, time.December, 31, 10, 0, 0), "175W01"},
		{"kospi second thursday holds", "KOSPI200", kstTime(2025, time.June, 11, 10, 0, 0), "101W06"},
		{"kospi second thursday rolls", "KOSPI200", kstTime(2025, time.June, 12, 9, 0, 0), "101W07"},
		{"month-end rule", "KTB3Y", kstTime(2025, time.June, 29, 10, 0, 0), "167W06"},
		{"month-end rolls on last day", "KTB3Y", kstTime(2025, time.June, 30, 10, 0, 0), "167W07"},
		{"unknown passes through", "175W09", kstTime(2025, time.June, 18, 10, 0, 0), "175W09"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TranslateFuturesSymbol(tt.symbol, tt.now); got != tt.want {
				t.Errorf("TranslateFuturesSymbol(%q, %s) = %q, want %q", tt.symbol, tt.now, got, tt.want)
			}
		})
	}
}

func TestFuturesMultiplier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		symbol string
		want   int64
	}{
		{"USDKRW", 10000},
		{"KOSPI200", 250000},
		{"MINIKOSPI200", 50000},
		{"KTB3Y", 1000000},
		{"175W06", 10000},   // product code with month suffix
		{"101W09", 250000},  // resolves through the base code
		{"175W", 10000},     // bare base code
		{"MYSTERY", 10000},  // unknown gets the currency default
	}
	for _, tt := range tests {
		if got := FuturesMultiplier(tt.symbol); got != tt.want {
			t.Errorf("FuturesMultiplier(%q) = %d, want %d", tt.symbol, got, tt.want)
		}
	}
}

func TestResolveExchange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		symbol string
		want   string
	}{
		{"AAPL", "NASD"},  // curated
		{"IBM", "NYSE"},   // curated
		{"aapl", "NASD"},  // case-insensitive
		{"BRK.B", "NYSE"}, // class suffix
		{"BF-B", "NYSE"},
		{"ABCD", "NASD"},  // 4 letters leans NASDAQ
		{"XYZ", "NYSE"},   // short bare ticker leans NYSE
		{"TOOLONGX", "NASD"},
	}
	for _, tt := range tests {
		if got := ResolveExchange(tt.symbol); got != tt.want {
			t.Errorf("ResolveExchange(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}
