// overseas.go implements the overseas stock endpoint family (US venues).
// Orders carry an exchange code the signal never includes, so the venue is
// resolved from the ticker; cancels first locate the resting order by
// scanning the unfilled-order endpoint across venues.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"kis-router/pkg/types"
)

const (
	overseasOrderPath   = "/uapi/overseas-stock/v1/trading/order"
	overseasCancelPath  = "/uapi/overseas-stock/v1/trading/order-rvsecncl"
	overseasBalancePath = "/uapi/overseas-stock/v1/trading/inquire-balance"
	overseasCcnlPath    = "/uapi/overseas-stock/v1/trading/inquire-ccnl"
	overseasNccsPath    = "/uapi/overseas-stock/v1/trading/inquire-nccs"

	trOverseasNccs = "TTTS3018R"
)

type overseasOrderResponse struct {
	kisEnvelope
	Output struct {
		OrderNoUpper string `json:"ODNO"`
		OrderNo      string `json:"odno"`
		OrderTime    string `json:"ORD_TMD"`
	} `json:"output"`
}

func (r *overseasOrderResponse) orderNo() string {
	if r.Output.OrderNoUpper != "" {
		return r.Output.OrderNoUpper
	}
	return r.Output.OrderNo
}

func (c *Client) placeOverseasOrder(ctx context.Context, order types.NormalizedOrder) (string, error) {
	exchange := ResolveExchange(order.Symbol)
	trID := OverseasOrderTR(order.Side, c.acc.IsVirtual)

	sellType := "" // buy
	if order.Side == types.SELL {
		sellType = "00"
	}
	unitPrice := "0"
	if order.Price > 0 {
		unitPrice = formatPrice(order.Price)
	}
	body := map[string]string{
		"CANO":            c.acc.AccountNumber,
		"ACNT_PRDT_CD":    c.acc.AccountProduct,
		"OVRS_EXCG_CD":    exchange,
		"PDNO":            order.Symbol,
		"ORD_DVSN":        "00",
		"ORD_QTY":         strconv.FormatInt(order.Quantity, 10),
		"OVRS_ORD_UNPR":   unitPrice,
		"SLL_TYPE":        sellType,
		"ORD_SVR_DVSN_CD": "0",
	}

	var out overseasOrderResponse
	if err := c.call(ctx, http.MethodPost, overseasOrderPath, trID, nil, body, &out); err != nil {
		return "", err
	}
	orderNo := out.orderNo()
	if orderNo == "" {
		return "", fmt.Errorf("order accepted without order id")
	}
	return orderNo, nil
}

// findPendingOrder scans the unfilled-order endpoint across the major venues
// for a resting order, returning its record and the venue it was found on.
func (c *Client) findPendingOrder(ctx context.Context, orderID string) (statusRecord, string, error) {
	var lastErr error
	for _, exchange := range nccsExchanges {
		query := map[string]string{
			"CANO":           c.acc.AccountNumber,
			"ACNT_PRDT_CD":   c.acc.AccountProduct,
			"OVRS_EXCG_CD":   exchange,
			"SORT_SQN":       "DS",
			"CTX_AREA_FK200": "",
			"CTX_AREA_NK200": "",
		}
		var out ordersResponse
		if err := c.call(ctx, http.MethodGet, overseasNccsPath, trOverseasNccs, query, nil, &out); err != nil {
			lastErr = err
			continue
		}
		for _, rec := range out.records() {
			if sameOrderID(rec.OrderNo, orderID) {
				return rec, exchange, nil
			}
		}
	}
	if lastErr != nil {
		return statusRecord{}, "", fmt.Errorf("pending order %s not found: %w", orderID, lastErr)
	}
	return statusRecord{}, "", fmt.Errorf("pending order %s not found", orderID)
}

func (c *Client) cancelOverseasOrder(ctx context.Context, orderID, symbol string) error {
	rec, exchange, err := c.findPendingOrder(ctx, orderID)
	if err != nil {
		return err
	}
	product := rec.Symbol
	if product == "" {
		product = symbol
	}

	var trID string
	switch exchange {
	case "NASD", "NYSE", "AMEX":
		trID, err = c.selectTR(types.ActionCancel)
		if err != nil {
			return err
		}
	default:
		trID = trOverseasCancelAsia
	}

	body := map[string]string{
		"CANO":              c.acc.AccountNumber,
		"ACNT_PRDT_CD":      c.acc.AccountProduct,
		"OVRS_EXCG_CD":      exchange,
		"PDNO":              product,
		"ORGN_ODNO":         orderID,
		"RVSE_CNCL_DVSN_CD": "02",
		"ORD_QTY":           "0",
		"OVRS_ORD_UNPR":     "0",
		"MGCO_APTM_ODNO":    "",
		"ORD_SVR_DVSN_CD":   "0",
	}

	var out overseasOrderResponse
	if err := c.call(ctx, http.MethodPost, overseasCancelPath, trID, nil, body, &out); err != nil {
		return err
	}
	if out.orderNo() == "" {
		return fmt.Errorf("cancel not confirmed for order %s", orderID)
	}
	return nil
}

type overseasBalanceResponse struct {
	kisEnvelope
	Output2 struct {
		TotalEvalPnL    string `json:"tot_evlu_pfls_amt"`
		OrderableAmount string `json:"psbl_ord_amt"`
	} `json:"output2"`
	Output1 []overseasPositionItem `json:"output1"`
}

type overseasPositionItem struct {
	Symbol        string `json:"ovrs_pdno"`
	HoldingQty    string `json:"ovrs_cblc_qty"`
	AvgPrice      string `json:"pchs_avg_pric"`
	EvalAmount    string `json:"ovrs_stck_evlu_amt"`
	UnrealizedPnL string `json:"frcr_evlu_pfls_amt"`
}

func (c *Client) fetchOverseasBalance(ctx context.Context) (types.Balance, error) {
	trID, err := c.selectTR(types.ActionBalance)
	if err != nil {
		return types.Balance{}, err
	}
	query := map[string]string{
		"CANO":         c.acc.AccountNumber,
		"ACNT_PRDT_CD": c.acc.AccountProduct,
		"OVRS_EXCG_CD": "NASD",
		"TR_CRCY_CD":   "",
	}
	var out overseasBalanceResponse
	if err := c.call(ctx, http.MethodGet, overseasBalancePath, trID, query, nil, &out); err != nil {
		return types.Balance{}, err
	}
	return types.Balance{
		Total:     parseDecimal(out.Output2.TotalEvalPnL),
		Available: parseDecimal(out.Output2.OrderableAmount),
		Currency:  "USD",
	}, nil
}

func (c *Client) fetchOverseasPositions(ctx context.Context) ([]types.Position, error) {
	trID, err := c.selectTR(types.ActionBalance)
	if err != nil {
		return nil, err
	}
	query := map[string]string{
		"CANO":         c.acc.AccountNumber,
		"ACNT_PRDT_CD": c.acc.AccountProduct,
		"OVRS_EXCG_CD": "",
		"TR_CRCY_CD":   "",
	}
	var out overseasBalanceResponse
	if err := c.call(ctx, http.MethodGet, overseasBalancePath, trID, query, nil, &out); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(out.Output1))
	for _, item := range out.Output1 {
		qty, ok := parseQty(item.HoldingQty)
		if !ok || qty == 0 {
			continue
		}
		positions = append(positions, types.Position{
			Symbol:        item.Symbol,
			Quantity:      qty,
			AvgPrice:      parseDecimal(item.AvgPrice),
			CurrentValue:  parseDecimal(item.EvalAmount),
			UnrealizedPnL: parseDecimal(item.UnrealizedPnL),
		})
	}
	return positions, nil
}

func (c *Client) overseasOrderStatus(ctx context.Context, orderID string) (types.OrderDetail, error) {
	trID, err := c.selectTR(types.ActionInquiry)
	if err != nil {
		return types.OrderDetail{}, err
	}

	today := c.today()
	query := map[string]string{
		"CANO":           c.acc.AccountNumber,
		"ACNT_PRDT_CD":   c.acc.AccountProduct,
		"PDNO":           "%",
		"ORD_STRT_DT":    today,
		"ORD_END_DT":     today,
		"SLL_BUY_DVSN":   "00",
		"CCLD_NCCS_DVSN": "00",
		"OVRS_EXCG_CD":   "%",
		"SORT_SQN":       "DS",
		"ORD_DT":         "",
		"ORD_GNO_BRNO":   "",
		"ODNO":           "",
		"CTX_AREA_FK200": "",
		"CTX_AREA_NK200": "",
	}

	var out ordersResponse
	if err := c.call(ctx, http.MethodGet, overseasCcnlPath, trID, query, nil, &out); err != nil {
		return types.OrderDetail{}, err
	}
	for _, rec := range out.records() {
		if sameOrderID(rec.OrderNo, orderID) {
			return detailFromRecord(orderID, rec), nil
		}
	}
	return types.OrderDetail{OrderID: orderID, Status: types.StatusNotFound}, nil
}
