// stock.go implements the domestic stock (cash equity) endpoint family.
// Order IDs are composed as "<forwarding org>-<order no>" because the cancel
// endpoint needs both halves back.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"kis-router/pkg/types"
)

const (
	stockOrderPath     = "/uapi/domestic-stock/v1/trading/order-cash"
	stockCancelPath    = "/uapi/domestic-stock/v1/trading/order-rvsecncl"
	stockBalancePath   = "/uapi/domestic-stock/v1/trading/inquire-balance"
	stockOrderablePath = "/uapi/domestic-stock/v1/trading/inquire-psbl-order"
	stockCcldPath      = "/uapi/domestic-stock/v1/trading/inquire-daily-ccld"
)

type stockOrderResponse struct {
	kisEnvelope
	Output struct {
		ForwardingOrgNo string `json:"KRX_FWDG_ORD_ORGNO"`
		OrderNo         string `json:"ODNO"`
		OrderTime       string `json:"ORD_TMD"`
	} `json:"output"`
}

func (c *Client) placeStockOrder(ctx context.Context, order types.NormalizedOrder) (string, error) {
	trID := StockOrderTR(order.Side)

	unitPrice, ordDvsn := "0", "01" // market
	if order.Price > 0 {
		unitPrice, ordDvsn = formatPrice(order.Price), "00" // limit
	}
	body := map[string]string{
		"CANO":         c.acc.AccountNumber,
		"ACNT_PRDT_CD": c.acc.AccountProduct,
		"PDNO":         order.Symbol,
		"ORD_DVSN":     ordDvsn,
		"ORD_QTY":      strconv.FormatInt(order.Quantity, 10),
		"ORD_UNPR":     unitPrice,
	}

	var out stockOrderResponse
	if err := c.call(ctx, http.MethodPost, stockOrderPath, trID, nil, body, &out); err != nil {
		return "", err
	}
	if out.Output.OrderNo == "" {
		return "", fmt.Errorf("order accepted without order id")
	}
	if out.Output.ForwardingOrgNo == "" {
		return out.Output.OrderNo, nil
	}
	return out.Output.ForwardingOrgNo + "-" + out.Output.OrderNo, nil
}

func (c *Client) cancelStockOrder(ctx context.Context, orderID string) error {
	// Only resting orders can be cancelled; confirm before sending.
	detail, err := c.stockOrderStatus(ctx, orderID)
	if err != nil {
		return err
	}
	switch detail.Status {
	case types.StatusPending, types.StatusPartialFilled:
	default:
		return fmt.Errorf("order %s not cancellable in status %s", orderID, detail.Status)
	}

	trID, err := c.selectTR(types.ActionCancel)
	if err != nil {
		return err
	}

	orgNo := ""
	if i := strings.IndexByte(orderID, '-'); i >= 0 {
		orgNo = orderID[:i]
	}
	body := map[string]string{
		"CANO":               c.acc.AccountNumber,
		"ACNT_PRDT_CD":       c.acc.AccountProduct,
		"KRX_FWDG_ORD_ORGNO": orgNo,
		"ORGN_ODNO":          bareOrderNo(orderID),
		"ORD_DVSN":           "00",
		"RVSE_CNCL_DVSN_CD":  "02",
		"ORD_QTY":            "0",
		"ORD_UNPR":           "0",
		"QTY_ALL_ORD_YN":     "Y",
	}

	var out struct {
		kisEnvelope
		Output struct {
			OrderNo string `json:"odno"`
		} `json:"output"`
	}
	if err := c.call(ctx, http.MethodPost, stockCancelPath, trID, nil, body, &out); err != nil {
		return err
	}
	if out.Output.OrderNo == "" {
		return fmt.Errorf("cancel not confirmed for order %s", orderID)
	}
	return nil
}

type stockBalanceResponse struct {
	kisEnvelope
	Output2 []struct {
		TotalEval      string `json:"tot_evlu_amt"`
		SettledDeposit string `json:"prvs_rcdl_excc_amt"`
	} `json:"output2"`
	Output1 []stockPositionItem `json:"output1"`
}

type stockPositionItem struct {
	Symbol        string `json:"pdno"`
	HoldingQty    string `json:"hldg_qty"`
	AvgPrice      string `json:"pchs_avg_pric"`
	EvalAmount    string `json:"evlu_amt"`
	UnrealizedPnL string `json:"evlu_pfls_amt"`
}

func (c *Client) stockBalanceQuery() map[string]string {
	return map[string]string{
		"CANO":                  c.acc.AccountNumber,
		"ACNT_PRDT_CD":          c.acc.AccountProduct,
		"AFHR_FLPR_YN":          "N",
		"OFL_YN":                "",
		"INQR_DVSN":             "02",
		"UNPR_DVSN":             "01",
		"FUND_STTL_ICLD_YN":     "N",
		"FNCG_AMT_AUTO_RDPT_YN": "N",
		"PRCS_DVSN":             "01",
		"CTX_AREA_FK100":        "",
		"CTX_AREA_NK100":        "",
	}
}

func (c *Client) fetchStockBalance(ctx context.Context) (types.Balance, error) {
	trID, err := c.selectTR(types.ActionBalance)
	if err != nil {
		return types.Balance{}, err
	}
	var out stockBalanceResponse
	if err := c.call(ctx, http.MethodGet, stockBalancePath, trID, c.stockBalanceQuery(), nil, &out); err != nil {
		return types.Balance{}, err
	}

	bal := types.Balance{Currency: "KRW"}
	if len(out.Output2) > 0 {
		bal.Total = parseDecimal(out.Output2[0].TotalEval)
		bal.Available = parseDecimal(out.Output2[0].SettledDeposit)
	}
	return bal, nil
}

func (c *Client) fetchStockPositions(ctx context.Context) ([]types.Position, error) {
	trID, err := c.selectTR(types.ActionBalance)
	if err != nil {
		return nil, err
	}
	var out stockBalanceResponse
	if err := c.call(ctx, http.MethodGet, stockBalancePath, trID, c.stockBalanceQuery(), nil, &out); err != nil {
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

type stockOrderableResponse struct {
	kisEnvelope
	Output struct {
		MaxBuyQty     string `json:"max_buy_qty"`
		OrderableCash string `json:"ord_psbl_cash"`
		CalcUnitPrice string `json:"psbl_qty_calc_unpr"`
	} `json:"output"`
}

func (c *Client) fetchStockOrderable(ctx context.Context, symbol string, price float64) (types.Orderable, error) {
	trID, err := c.selectTR(types.ActionOrderable)
	if err != nil {
		return types.Orderable{}, err
	}

	unitPrice, ordDvsn := "", "01"
	if price > 0 {
		unitPrice, ordDvsn = formatPrice(price), "00"
	}
	query := map[string]string{
		"CANO":                 c.acc.AccountNumber,
		"ACNT_PRDT_CD":         c.acc.AccountProduct,
		"PDNO":                 symbol,
		"ORD_UNPR":             unitPrice,
		"ORD_DVSN":             ordDvsn,
		"CMA_EVLU_AMT_ICLD_YN": "N",
		"OVRS_ICLD_YN":         "N",
	}

	var out stockOrderableResponse
	if err := c.call(ctx, http.MethodGet, stockOrderablePath, trID, query, nil, &out); err != nil {
		return types.Orderable{}, err
	}

	qty, _ := parseQty(out.Output.MaxBuyQty)
	unit := parseDecimal(out.Output.CalcUnitPrice)
	if price > 0 {
		unit = parseDecimal(formatPrice(price))
	}
	return types.Orderable{
		Symbol:    symbol,
		Quantity:  qty,
		Cash:      parseDecimal(out.Output.OrderableCash),
		UnitPrice: unit,
	}, nil
}

func (c *Client) stockOrderStatus(ctx context.Context, orderID string) (types.OrderDetail, error) {
	trID, err := c.selectTR(types.ActionInquiry)
	if err != nil {
		return types.OrderDetail{}, err
	}

	today := c.today()
	odno := bareOrderNo(orderID)
	query := map[string]string{
		"CANO":            c.acc.AccountNumber,
		"ACNT_PRDT_CD":    c.acc.AccountProduct,
		"INQR_STRT_DT":    today,
		"INQR_END_DT":     today,
		"SLL_BUY_DVSN_CD": "00",
		"INQR_DVSN":       "00",
		"PDNO":            "",
		"CCLD_DVSN":       "00",
		"ORD_GNO_BRNO":    "",
		"ODNO":            odno,
		"INQR_DVSN_3":     "00",
		"INQR_DVSN_1":     "",
		"CTX_AREA_FK100":  "",
		"CTX_AREA_NK100":  "",
	}

	var out ordersResponse
	if err := c.call(ctx, http.MethodGet, stockCcldPath, trID, query, nil, &out); err != nil {
		return types.OrderDetail{}, err
	}
	for _, rec := range out.records() {
		if sameOrderID(rec.OrderNo, odno) {
			return detailFromRecord(orderID, rec), nil
		}
	}
	return types.OrderDetail{OrderID: orderID, Status: types.StatusNotFound}, nil
}
