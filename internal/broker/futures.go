// futures.go implements the domestic futures/options endpoint family.
// Balance and fill inquiries have separate night-session paths; order and
// cancel share one path with session-specific TR IDs.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"kis-router/pkg/types"
)

const (
	futuresOrderPath      = "/uapi/domestic-futureoption/v1/trading/order"
	futuresCancelPath     = "/uapi/domestic-futureoption/v1/trading/order-rvsecncl"
	futuresBalancePath    = "/uapi/domestic-futureoption/v1/trading/inquire-balance"
	futuresNgtBalancePath = "/uapi/domestic-futureoption/v1/trading/inquire-ngt-balance"
	futuresCcnlPath       = "/uapi/domestic-futureoption/v1/trading/inquire-ccnl"
	futuresNgtCcnlPath    = "/uapi/domestic-futureoption/v1/trading/inquire-ngt-ccnl"
	futuresOrderablePath  = "/uapi/domestic-futureoption/v1/trading/inquire-psbl-order"
	futuresPricePath      = "/uapi/domestic-futureoption/v1/quotations/inquire-price"

	// Quote TR, identical across sessions and environments.
	trFuturesPrice = "FHMIF10000000"
)

type futuresOrderResponse struct {
	kisEnvelope
	Output struct {
		OrderNo      string `json:"odno"`
		OrderNoUpper string `json:"ODNO"`
		OrderTime    string `json:"ord_tmd"`
	} `json:"output"`
}

func (r *futuresOrderResponse) orderNo() string {
	if r.Output.OrderNo != "" {
		return r.Output.OrderNo
	}
	return r.Output.OrderNoUpper
}

func (c *Client) placeFuturesOrder(ctx context.Context, order types.NormalizedOrder) (string, error) {
	trID, err := c.selectTR(types.ActionOrder)
	if err != nil {
		return "", err
	}

	sllBuy := "01" // sell
	if order.Side == types.BUY {
		sllBuy = "02"
	}
	unitPrice, ordDvsn := "0", "02" // market
	if order.Price > 0 {
		unitPrice, ordDvsn = formatPrice(order.Price), "01" // limit
	}

	body := map[string]string{
		"ORD_PRCS_DVSN_CD": "02",
		"CANO":             c.acc.AccountNumber,
		"ACNT_PRDT_CD":     c.acc.AccountProduct,
		"SLL_BUY_DVSN_CD":  sllBuy,
		"SHTN_PDNO":        order.Symbol,
		"ORD_QTY":          strconv.FormatInt(order.Quantity, 10),
		"UNIT_PRICE":       unitPrice,
		"ORD_DVSN_CD":      ordDvsn,
	}

	var out futuresOrderResponse
	if err := c.call(ctx, http.MethodPost, futuresOrderPath, trID, nil, body, &out); err != nil {
		return "", err
	}
	orderNo := out.orderNo()
	if orderNo == "" {
		return "", fmt.Errorf("order accepted without order id")
	}
	return orderNo, nil
}

func (c *Client) cancelFuturesOrder(ctx context.Context, orderID string) error {
	trID, err := c.selectTR(types.ActionCancel)
	if err != nil {
		return err
	}

	body := map[string]string{
		"ORD_PRCS_DVSN_CD":  "02",
		"CANO":              c.acc.AccountNumber,
		"ACNT_PRDT_CD":      c.acc.AccountProduct,
		"RVSE_CNCL_DVSN_CD": "02",
		"ORGN_ODNO":         orderID,
		"ORD_QTY":           "0",
		"UNIT_PRICE":        "0",
		"NMPR_TYPE_CD":      "",
		"KRX_NMPR_CNDT_CD":  "",
		"RMN_QTY_YN":        "Y",
		"FUOP_ITEM_DVSN_CD": "",
		"ORD_DVSN_CD":       "02",
	}

	var out futuresOrderResponse
	if err := c.call(ctx, http.MethodPost, futuresCancelPath, trID, nil, body, &out); err != nil {
		return err
	}
	if out.orderNo() == "" {
		return fmt.Errorf("cancel not confirmed for order %s", orderID)
	}
	return nil
}

type futuresBalanceResponse struct {
	kisEnvelope
	Output2 struct {
		TotalEval     string `json:"tot_evlu_amt"`
		UsableMoney   string `json:"use_psbl_mney"`
		DepositAmount string `json:"dnca_cash"`
	} `json:"output2"`
	Output1 []futuresPositionItem `json:"output1"`
}

type futuresPositionItem struct {
	Symbol        string `json:"pdno"`
	NetQty        string `json:"btal_qty"`
	AvgPrice      string `json:"mkt_mny"`
	EvalAmount    string `json:"evlu_amt"`
	UnrealizedPnL string `json:"evlu_pfls_amt"`
}

func (c *Client) futuresBalanceQuery() map[string]string {
	return map[string]string{
		"CANO":         c.acc.AccountNumber,
		"ACNT_PRDT_CD": c.acc.AccountProduct,
		"MGNA_DVSN":    "01",
		"EXCC_STAT_CD": "1",
	}
}

func (c *Client) futuresBalancePathForSession() string {
	if c.session() == types.SessionNight {
		return futuresNgtBalancePath
	}
	return futuresBalancePath
}

func (c *Client) fetchFuturesBalance(ctx context.Context) (types.Balance, error) {
	trID, err := c.selectTR(types.ActionBalance)
	if err != nil {
		return types.Balance{}, err
	}
	var out futuresBalanceResponse
	if err := c.call(ctx, http.MethodGet, c.futuresBalancePathForSession(), trID, c.futuresBalanceQuery(), nil, &out); err != nil {
		return types.Balance{}, err
	}
	return types.Balance{
		Total:     parseDecimal(out.Output2.TotalEval),
		Available: parseDecimal(out.Output2.UsableMoney),
		Currency:  "KRW",
	}, nil
}

func (c *Client) fetchFuturesPositions(ctx context.Context) ([]types.Position, error) {
	trID, err := c.selectTR(types.ActionBalance)
	if err != nil {
		return nil, err
	}
	var out futuresBalanceResponse
	if err := c.call(ctx, http.MethodGet, c.futuresBalancePathForSession(), trID, c.futuresBalanceQuery(), nil, &out); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(out.Output1))
	for _, item := range out.Output1 {
		qty := parseSigned(item.NetQty)
		if qty == 0 {
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

type futuresOrderableResponse struct {
	kisEnvelope
	Output struct {
		MaxOrderQty     string `json:"max_ord_qty"`
		OrderableAmount string `json:"ord_psbl_amt"`
		NowPrice        string `json:"nw_unpr"`
	} `json:"output"`
}

func (c *Client) fetchFuturesOrderable(ctx context.Context, symbol string, price float64) (types.Orderable, error) {
	trID, err := c.selectTR(types.ActionOrderable)
	if err != nil {
		return types.Orderable{}, err
	}

	unitPrice, ordDvsn := "0", "02"
	if price > 0 {
		unitPrice, ordDvsn = formatPrice(price), "01"
	}
	query := map[string]string{
		"CANO":            c.acc.AccountNumber,
		"ACNT_PRDT_CD":    c.acc.AccountProduct,
		"PDNO":            symbol,
		"PRDT_TYPE_CD":    "301",
		"SLL_BUY_DVSN_CD": "02",
		"UNIT_PRICE":      unitPrice,
		"ORD_DVSN_CD":     ordDvsn,
	}

	var out futuresOrderableResponse
	if err := c.call(ctx, http.MethodGet, futuresOrderablePath, trID, query, nil, &out); err != nil {
		return types.Orderable{}, err
	}

	qty, _ := parseQty(out.Output.MaxOrderQty)
	unit := parseDecimal(out.Output.NowPrice)
	if price > 0 {
		unit = decimal.NewFromFloat(price)
	}
	return types.Orderable{
		Symbol:    symbol,
		Quantity:  qty,
		Cash:      parseDecimal(out.Output.OrderableAmount),
		UnitPrice: unit,
	}, nil
}

func (c *Client) futuresOrderStatus(ctx context.Context, orderID string) (types.OrderDetail, error) {
	trID, err := c.selectTR(types.ActionInquiry)
	if err != nil {
		return types.OrderDetail{}, err
	}

	today := c.today()
	query := map[string]string{
		"CANO":            c.acc.AccountNumber,
		"ACNT_PRDT_CD":    c.acc.AccountProduct,
		"STRT_ORD_DT":     today,
		"END_ORD_DT":      today,
		"SLL_BUY_DVSN_CD": "00",
		"CCLD_NCCS_DVSN":  "00",
		"SORT_SQN":        "DS",
		"STRT_ODNO":       "",
		"PDNO":            "",
		"MKET_ID_CD":      "",
		"FUOP_DVSN_CD":    "",
		"SCRN_DVSN":       "02",
		"CTX_AREA_FK200":  "",
		"CTX_AREA_NK200":  "",
	}

	path := futuresCcnlPath
	if c.session() == types.SessionNight {
		path = futuresNgtCcnlPath
	}

	var out ordersResponse
	if err := c.call(ctx, http.MethodGet, path, trID, query, nil, &out); err != nil {
		return types.OrderDetail{}, err
	}
	for _, rec := range out.records() {
		if sameOrderID(rec.OrderNo, orderID) {
			return detailFromRecord(orderID, rec), nil
		}
	}
	return types.OrderDetail{OrderID: orderID, Status: types.StatusNotFound}, nil
}

type futuresPriceResponse struct {
	kisEnvelope
	Output1 struct {
		CurrentPrice string `json:"futs_prpr"`
	} `json:"output1"`
}

func (c *Client) fetchFuturesPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	query := map[string]string{
		"FID_COND_MRKT_DIV_CODE": "F",
		"FID_INPUT_ISCD":         symbol,
	}
	var out futuresPriceResponse
	if err := c.call(ctx, http.MethodGet, futuresPricePath, trFuturesPrice, query, nil, &out); err != nil {
		return decimal.Zero, err
	}
	price := parseDecimal(out.Output1.CurrentPrice)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no tradable price for %s", symbol)
	}
	return price, nil
}

func (c *Client) today() string {
	return c.now().In(seoul).Format("20060102")
}

// formatPrice renders a price the way the broker expects, without trailing
// zeros.
func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
