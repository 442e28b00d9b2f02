// status.go canonicalizes broker order-inquiry records.
//
// The broker reports execution state through quantity columns whose names
// differ between the day and night inquiry endpoints, and order IDs come
// back zero-padded to inconsistent widths. Everything here works on the
// string values as returned.
package broker

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"kis-router/pkg/types"
)

// statusRecord is the field subset shared by every order-inquiry response
// shape. Absent fields unmarshal to "" and parse as zero.
type statusRecord struct {
	OrderNo       string `json:"odno"`
	Symbol        string `json:"pdno"`
	OrderQty      string `json:"ord_qty"`
	TotalFilled   string `json:"tot_ccld_qty"`
	Filled        string `json:"ccld_qty"`
	RejectedQty   string `json:"rjct_qty"`
	CancelConfQty string `json:"cncl_cfrm_qty"`
	CancelFlag    string `json:"cncl_yn"`
	OrderPrice    string `json:"ord_unpr"`
	OrderTime     string `json:"ord_tmd"`
	StatusCode    string `json:"ord_stat_cd"`
	SideCode      string `json:"sll_buy_dvsn_cd"`
	SideCodeAlt   string `json:"sll_buy_dvsn"`
}

func (r statusRecord) sideCode() string {
	if r.SideCode != "" {
		return r.SideCode
	}
	return r.SideCodeAlt
}

// ordersResponse accepts both inquiry shapes: day endpoints report under
// output1, some night and overseas endpoints under output.
type ordersResponse struct {
	kisEnvelope
	Output1 []statusRecord `json:"output1"`
	Output  []statusRecord `json:"output"`
}

func (r *ordersResponse) records() []statusRecord {
	if len(r.Output1) > 0 {
		return r.Output1
	}
	return r.Output
}

// filledQty prefers the cumulative column and falls back to the per-row one.
func (r statusRecord) filledQty() (int64, bool) {
	if strings.TrimSpace(r.TotalFilled) != "" {
		return parseQty(r.TotalFilled)
	}
	return parseQty(r.Filled)
}

// parseQty reads a broker quantity string. Missing fields ("") count as
// zero; anything non-numeric is unparsable.
func parseQty(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseSigned reads a broker quantity that may be negative, as futures net
// positions are.
func parseSigned(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseDecimal reads a broker money or price string; missing or malformed
// values come back zero.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// canonicalStatus derives the order state from the record's quantity
// columns. Cancellation markers win, then rejections; otherwise the filled
// quantity against the ordered quantity decides. Unparsable numbers, and
// shapes carrying no ord_qty at all, yield UNKNOWN rather than a guess.
func canonicalStatus(rec statusRecord) types.OrderStatus {
	cancelConf, cancelOK := parseQty(rec.CancelConfQty)
	if strings.EqualFold(strings.TrimSpace(rec.CancelFlag), "Y") || (cancelOK && cancelConf > 0) {
		return types.StatusCancelled
	}

	rejected, ok := parseQty(rec.RejectedQty)
	if !ok {
		return types.StatusUnknown
	}
	if rejected > 0 {
		return types.StatusRejected
	}

	// Some overseas shapes omit the quantity columns entirely and report
	// state only through ord_stat_cd; without an ordered quantity the
	// quantity rule cannot decide.
	if strings.TrimSpace(rec.OrderQty) == "" {
		return types.StatusUnknown
	}
	ordered, ok := parseQty(rec.OrderQty)
	if !ok {
		return types.StatusUnknown
	}
	filled, ok := rec.filledQty()
	if !ok {
		return types.StatusUnknown
	}

	switch {
	case filled == 0:
		return types.StatusPending
	case ordered > 0 && filled >= ordered:
		return types.StatusFilled
	default:
		return types.StatusPartialFilled
	}
}

// ordStatCodes maps the overseas inquiry's status column to canonical
// states, used when a record carries no usable quantity columns.
var ordStatCodes = map[string]types.OrderStatus{
	"02": types.StatusPending,
	"10": types.StatusFilled,
	"11": types.StatusPartialFilled,
	"31": types.StatusCancelled,
	"32": types.StatusRejected,
}

// statusOf canonicalizes from quantities first and falls back to the status
// code column for shapes that omit quantity detail.
func statusOf(rec statusRecord) types.OrderStatus {
	st := canonicalStatus(rec)
	if st == types.StatusUnknown {
		if mapped, ok := ordStatCodes[strings.TrimSpace(rec.StatusCode)]; ok {
			return mapped
		}
	}
	return st
}

// orderIDNum parses an order ID as a number, tolerating zero padding.
func orderIDNum(id string) (uint64, bool) {
	id = strings.TrimSpace(id)
	trimmed := strings.TrimLeft(id, "0")
	if trimmed == "" {
		if id == "" {
			return 0, false
		}
		return 0, true
	}
	n, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// sameOrderID compares broker order IDs numerically so "0000123" matches
// "123". Non-numeric IDs fall back to exact comparison.
func sameOrderID(a, b string) bool {
	na, aok := orderIDNum(a)
	nb, bok := orderIDNum(b)
	if aok && bok {
		return na == nb
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// bareOrderNo strips the forwarding-org prefix from a composed stock order
// ID ("91252-0000123" → "0000123"); IDs without a prefix pass through.
func bareOrderNo(orderID string) string {
	if i := strings.LastIndexByte(orderID, '-'); i >= 0 {
		return orderID[i+1:]
	}
	return orderID
}

// detailFromRecord converts a matched inquiry record into the canonical
// order detail, keeping the caller's (possibly composed) order ID.
func detailFromRecord(orderID string, rec statusRecord) types.OrderDetail {
	qty, _ := parseQty(rec.OrderQty)
	filled, _ := rec.filledQty()
	side := types.SELL
	if rec.sideCode() == "02" {
		side = types.BUY
	}
	return types.OrderDetail{
		OrderID:   orderID,
		Symbol:    rec.Symbol,
		Side:      side,
		Status:    statusOf(rec),
		Quantity:  qty,
		FilledQty: filled,
		Price:     parseDecimal(rec.OrderPrice),
		OrderTime: rec.OrderTime,
	}
}
