// session.go derives the domestic market session from wallclock time and
// selects broker transaction IDs (TR IDs).
//
// Futures endpoints use different TR IDs for the day and night sessions;
// stock and overseas TR IDs are fixed. Virtual (paper-trading) accounts use
// V-prefixed TR IDs: most are the mechanical first-character rewrite of the
// real ID, but a few differ outright and are kept as explicit table entries.
package broker

import (
	"fmt"
	"time"

	"kis-router/pkg/types"
)

// seoul is the exchange's timezone. Session boundaries are defined in KST.
var seoul = loadSeoul()

func loadSeoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// MarketSession classifies a wallclock instant:
//
//	Sat/Sun                     → CLOSED
//	weekday 09:00:00–15:30:00   → DAY
//	weekday ≥18:00:00 or ≤06:00:00 → NIGHT
//	otherwise                   → CLOSED
func MarketSession(t time.Time) types.Session {
	t = t.In(seoul)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return types.SessionClosed
	}

	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	const (
		dayOpen    = 9 * 3600
		dayClose   = 15*3600 + 30*60
		nightOpen  = 18 * 3600
		nightClose = 6 * 3600
	)
	switch {
	case sec >= dayOpen && sec <= dayClose:
		return types.SessionDay
	case sec >= nightOpen || sec <= nightClose:
		return types.SessionNight
	default:
		return types.SessionClosed
	}
}

// EffectiveSession resolves the session used for TR selection. A forced
// session wins; an unforced CLOSED clock falls back to DAY so that selection
// never keys on CLOSED.
func EffectiveSession(now time.Time, forced types.Session) types.Session {
	if forced != "" {
		return forced
	}
	if s := MarketSession(now); s != types.SessionClosed {
		return s
	}
	return types.SessionDay
}

type trKey struct {
	class   types.AccountClass
	session types.Session
	virtual bool
	action  types.TRAction
}

// trTable maps (class, session, virtual, action) to a TR ID. Stock and
// overseas rows are keyed under DAY; the DAY fallback in SelectTR serves
// them for any session. Virtual futures night trading is unsupported by the
// broker, so those keys are absent and also resolve through the DAY fallback.
var trTable = map[trKey]string{
	// Futures, real, day session
	{types.ClassFutures, types.SessionDay, false, types.ActionOrder}:     "TTTO1101U",
	{types.ClassFutures, types.SessionDay, false, types.ActionCancel}:    "TTTO1103U",
	{types.ClassFutures, types.SessionDay, false, types.ActionBalance}:   "CTFO6118R",
	{types.ClassFutures, types.SessionDay, false, types.ActionInquiry}:   "TTTO5201R",
	{types.ClassFutures, types.SessionDay, false, types.ActionOrderable}: "TTTO5105R",

	// Futures, real, night session
	{types.ClassFutures, types.SessionNight, false, types.ActionOrder}:     "TTTN1101U",
	{types.ClassFutures, types.SessionNight, false, types.ActionCancel}:    "TTTN1103U",
	{types.ClassFutures, types.SessionNight, false, types.ActionBalance}:   "CTFN6118R",
	{types.ClassFutures, types.SessionNight, false, types.ActionInquiry}:   "STTN5201R",
	{types.ClassFutures, types.SessionNight, false, types.ActionOrderable}: "STTN5105R",

	// Futures, virtual, day session
	{types.ClassFutures, types.SessionDay, true, types.ActionOrder}:     "VTTO1101U",
	{types.ClassFutures, types.SessionDay, true, types.ActionCancel}:    "VTTO1103U",
	{types.ClassFutures, types.SessionDay, true, types.ActionBalance}:   "VTFO6118R",
	{types.ClassFutures, types.SessionDay, true, types.ActionInquiry}:   "VTTO5201R",
	{types.ClassFutures, types.SessionDay, true, types.ActionOrderable}: "VTTO5105R",

	// Stock (session-independent; order TRs are side-specific, see StockOrderTR)
	{types.ClassStock, types.SessionDay, false, types.ActionCancel}:    "TTTC0013U",
	{types.ClassStock, types.SessionDay, false, types.ActionBalance}:   "TTTC8434R",
	{types.ClassStock, types.SessionDay, false, types.ActionInquiry}:   "TTTC8001R",
	{types.ClassStock, types.SessionDay, false, types.ActionOrderable}: "TTTC8908R",
	{types.ClassStock, types.SessionDay, true, types.ActionCancel}:     "VTTC0013U",
	{types.ClassStock, types.SessionDay, true, types.ActionBalance}:    "VTTC8434R",
	{types.ClassStock, types.SessionDay, true, types.ActionInquiry}:    "VTTC8001R",
	{types.ClassStock, types.SessionDay, true, types.ActionOrderable}:  "VTTC8908R",

	// Overseas (session-independent; order TRs are side-specific, see
	// OverseasOrderTR; orderable inquiry is not offered by the broker)
	{types.ClassOverseas, types.SessionDay, false, types.ActionCancel}:  "TTTT1004U",
	{types.ClassOverseas, types.SessionDay, false, types.ActionBalance}: "TTTS3012R",
	{types.ClassOverseas, types.SessionDay, false, types.ActionInquiry}: "TTTS3035R",
	{types.ClassOverseas, types.SessionDay, true, types.ActionCancel}:   "VTTT1004U",
	{types.ClassOverseas, types.SessionDay, true, types.ActionBalance}:  "VTTS3012R",
	{types.ClassOverseas, types.SessionDay, true, types.ActionInquiry}:  "VTTS3035R",
}

// SelectTR resolves the TR ID for an operation. A missing key retries the
// same tuple under DAY before failing.
func SelectTR(class types.AccountClass, session types.Session, virtual bool, action types.TRAction) (string, error) {
	if tr, ok := trTable[trKey{class, session, virtual, action}]; ok {
		return tr, nil
	}
	if tr, ok := trTable[trKey{class, types.SessionDay, virtual, action}]; ok {
		return tr, nil
	}
	return "", fmt.Errorf("no TR ID for %s/%s/virtual=%t/%s", class, session, virtual, action)
}

// VirtualizeTR applies the broker's virtual-mode convention: TR IDs starting
// with T, J, or C get their first character rewritten to V. IDs already in
// V-form (or market-data IDs outside that alphabet) pass through unchanged.
func VirtualizeTR(trID string, virtual bool) string {
	if !virtual || trID == "" {
		return trID
	}
	switch trID[0] {
	case 'T', 'J', 'C':
		return "V" + trID[1:]
	}
	return trID
}

// Stock and overseas order TR IDs vary by side, not session. Virtual stock
// order IDs follow the mechanical rewrite; the virtual overseas sell does
// not, so it is spelled out.
const (
	trStockBuy  = "TTTC0012U"
	trStockSell = "TTTC0011U"

	trOverseasBuyUS      = "TTTT1002U"
	trOverseasSellUS     = "TTTT1006U"
	trOverseasSellUSVirt = "VTTT1001U"
	trOverseasCancelAsia = "TTTS1003U"
)

// StockOrderTR returns the real-form cash order TR for a side; the virtual
// rewrite is applied at header construction.
func StockOrderTR(side types.Side) string {
	if side == types.BUY {
		return trStockBuy
	}
	return trStockSell
}

// OverseasOrderTR returns the order TR for a US-venue order. The virtual
// sell ID is an explicit entry rather than a rewrite of the real one.
func OverseasOrderTR(side types.Side, virtual bool) string {
	if side == types.BUY {
		return VirtualizeTR(trOverseasBuyUS, virtual)
	}
	if virtual {
		return trOverseasSellUSVirt
	}
	return trOverseasSellUS
}
