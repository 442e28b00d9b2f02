// symbols.go translates logical instrument names into broker product codes.
//
// Futures signals arrive with a logical underlying ("USDKRW", "KOSPI200");
// the broker wants the front-month contract code ("175W09"). Overseas stock
// orders need an exchange code the signal never carries.
package broker

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type expiryRule int

const (
	expiryThirdThursday expiryRule = iota
	expirySecondThursday
	expiryMonthEnd
)

type futuresInstrument struct {
	base       string
	rule       expiryRule
	multiplier int64 // contract value per point, in KRW
}

var futuresInstruments = map[string]futuresInstrument{
	"USDKRW":       {base: "175W", rule: expiryThirdThursday, multiplier: 10000},
	"JPYKRW":       {base: "176W", rule: expiryThirdThursday, multiplier: 10000},
	"EURKRW":       {base: "177W", rule: expiryThirdThursday, multiplier: 10000},
	"KOSPI200":     {base: "101W", rule: expirySecondThursday, multiplier: 250000},
	"MINIKOSPI200": {base: "105W", rule: expirySecondThursday, multiplier: 50000},
	"KOSDAQ150":    {base: "106W", rule: expirySecondThursday, multiplier: 10000},
	"KTB3Y":        {base: "167W", rule: expiryMonthEnd, multiplier: 1000000},
}

const defaultFuturesMultiplier = 10000

// TranslateFuturesSymbol maps a logical underlying to the front-month
// contract code: base code plus a two-digit month, rolling to the next month
// once the current contract has expired. Unrecognized symbols pass through
// unchanged so raw product codes keep working.
func TranslateFuturesSymbol(symbol string, now time.Time) string {
	inst, ok := futuresInstruments[strings.ToUpper(symbol)]
	if !ok {
		return symbol
	}
	now = now.In(seoul)
	year, month := now.Year(), now.Month()
	expiry := contractExpiry(inst.rule, year, month)
	if !now.Before(expiry) {
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return fmt.Sprintf("%s%02d", inst.base, int(month))
}

// contractExpiry returns the start of the contract month's expiry day in
// KST; the roll to next month happens on the expiry day itself.
func contractExpiry(rule expiryRule, year int, month time.Month) time.Time {
	var day time.Time
	switch rule {
	case expirySecondThursday:
		day = nthWeekday(year, month, time.Thursday, 2)
	case expiryMonthEnd:
		day = time.Date(year, month+1, 1, 0, 0, 0, 0, seoul).AddDate(0, 0, -1)
	default:
		day = nthWeekday(year, month, time.Thursday, 3)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, seoul)
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, seoul)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+(n-1)*7)
}

// FuturesMultiplier returns the contract multiplier for a logical symbol or
// product code (with or without the month suffix). Unknown instruments get
// the currency-futures default of 10000.
func FuturesMultiplier(symbol string) int64 {
	sym := strings.ToUpper(symbol)
	if inst, ok := futuresInstruments[sym]; ok {
		return inst.multiplier
	}
	base := sym
	if len(base) > 2 && isDigits(base[len(base)-2:]) {
		base = base[:len(base)-2]
	}
	for _, inst := range futuresInstruments {
		if inst.base == base {
			return inst.multiplier
		}
	}
	return defaultFuturesMultiplier
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// ——————————————————————————————————————————————————————————————————————
// Overseas exchange resolution
// ——————————————————————————————————————————————————————————————————————

// curatedExchanges pins well-known US tickers to their venue; everything
// else falls through to the pattern ladder below.
var curatedExchanges = map[string]string{
	// NASDAQ
	"AAPL": "NASD", "MSFT": "NASD", "GOOGL": "NASD", "GOOG": "NASD",
	"AMZN": "NASD", "META": "NASD", "TSLA": "NASD", "NVDA": "NASD",
	"NFLX": "NASD", "AMD": "NASD", "INTC": "NASD", "CSCO": "NASD",
	"AVGO": "NASD", "QCOM": "NASD", "ADBE": "NASD", "PYPL": "NASD",
	// NYSE
	"IBM": "NYSE", "JPM": "NYSE", "BAC": "NYSE", "WMT": "NYSE",
	"DIS": "NYSE", "KO": "NYSE", "PFE": "NYSE", "XOM": "NYSE",
	"CVX": "NYSE", "GE": "NYSE", "F": "NYSE", "GM": "NYSE",
	"T": "NYSE", "VZ": "NYSE", "NKE": "NYSE", "MCD": "NYSE",
	"V": "NYSE", "MA": "NYSE", "UBER": "NYSE",
}

var (
	nasdaqPattern = regexp.MustCompile(`^[A-Z]{4,5}$`)
	nysePattern   = regexp.MustCompile(`^[A-Z]{1,3}$`)
)

// ResolveExchange guesses the venue for a US ticker. Class-suffixed symbols
// (BRK.B, BF-B) trade on NYSE; short bare tickers lean NYSE, longer ones
// NASDAQ.
func ResolveExchange(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if ex, ok := curatedExchanges[sym]; ok {
		return ex
	}
	switch {
	case strings.ContainsAny(sym, ".-"):
		return "NYSE"
	case nasdaqPattern.MatchString(sym):
		return "NASD"
	case nysePattern.MatchString(sym):
		return "NYSE"
	default:
		return "NASD"
	}
}

// nccsExchanges is the venue scan order for unfilled-order lookups when the
// venue of the original order is unknown.
var nccsExchanges = []string{"NASD", "NYSE", "SEHK"}
