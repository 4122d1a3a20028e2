package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/model"
)

// -----------------------------
// BINANCE SPOT CLIENT
// -----------------------------

const binanceAPIPrefix = "/api/v3"

type BinanceConnector struct {
	apiKey    string
	apiSecret string
	exec      *restExecutor
}

func NewBinanceConnector(cfg Config) *BinanceConnector {
	baseURL := strings.TrimRight(cfg.BinanceBaseURL, "/")
	return &BinanceConnector{
		apiKey:    cfg.BinanceAPIKey,
		apiSecret: cfg.BinanceAPISecret,
		exec:      newRestExecutor("binance", baseURL, cfg),
	}
}

func (c *BinanceConnector) Name() string { return "binance" }

// -----------------------------
// AUTH
// -----------------------------
//
// Binance signs the exact query string sent: HMAC-SHA256(secret, queryString),
// hex-encoded, appended as &signature=. Keys are emitted in sorted order so
// the signed string and the sent string are the same bytes.

func signBinanceQuery(params url.Values, secret string) string {
	encoded := encodeSortedValues(params)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

func encodeSortedValues(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, val := range v[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(val))
		}
	}
	return strings.Join(parts, "&")
}

type binanceAPIErr struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *BinanceConnector) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}

	req, err := c.exec.request(ctx)
	if err != nil {
		return err
	}

	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", "5000")
		sig := signBinanceQuery(params, c.apiSecret)
		params.Set("signature", sig)
		req.SetHeader("X-MBX-APIKEY", c.apiKey)
	}

	query := encodeSortedValues(params)
	if query != "" {
		req.SetQueryString(query)
	}

	resp, err := req.Execute(method, binanceAPIPrefix+endpoint)
	if err != nil {
		return fmt.Errorf("binance %s %s failed: %w", method, endpoint, err)
	}

	raw := resp.Body()
	if resp.StatusCode() != 200 {
		var apiErr binanceAPIErr
		_ = json.Unmarshal(raw, &apiErr)

		kind := KindRejected
		if resp.StatusCode() >= 500 || resp.StatusCode() == 429 || resp.StatusCode() == 408 {
			kind = KindTransient
		}
		return &APIError{
			Kind:      kind,
			Venue:     "binance",
			Code:      apiErr.Code,
			Message:   apiErr.Msg,
			HTTPState: resp.StatusCode(),
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("binance response unmarshal failed: %w. raw=%s", err, string(raw))
		}
	}
	return nil
}

// -----------------------------
// MARKET DATA
// -----------------------------

func (c *BinanceConnector) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.doRequest(ctx, "GET", "/ticker/price", params, false, &out); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(out.Price, 64)
}

func (c *BinanceConnector) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var rows [][]json.RawMessage
	if err := c.doRequest(ctx, "GET", "/klines", params, false, &rows); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		var openTime, closeTime int64
		var o, h, l, cl, v string
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		_ = json.Unmarshal(row[1], &o)
		_ = json.Unmarshal(row[2], &h)
		_ = json.Unmarshal(row[3], &l)
		_ = json.Unmarshal(row[4], &cl)
		_ = json.Unmarshal(row[5], &v)
		_ = json.Unmarshal(row[6], &closeTime)

		candles = append(candles, model.Candle{
			OpenTime:  openTime,
			Open:      parseF(o),
			High:      parseF(h),
			Low:       parseF(l),
			Close:     parseF(cl),
			Volume:    parseF(v),
			CloseTime: closeTime,
		})
	}
	return candles, nil
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func (c *BinanceConnector) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	var out struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				TickSize    string `json:"tickSize"`
				StepSize    string `json:"stepSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := c.doRequest(ctx, "GET", "/exchangeInfo", params, false, &out); err != nil {
		return nil, err
	}
	if len(out.Symbols) == 0 {
		return nil, fmt.Errorf("binance exchangeInfo returned no entry for %s", symbol)
	}

	info := out.Symbols[0]
	filters := &SymbolFilters{
		Symbol:     info.Symbol,
		BaseAsset:  info.BaseAsset,
		QuoteAsset: info.QuoteAsset,
	}
	for _, f := range info.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			filters.TickSize = parseF(f.TickSize)
		case "LOT_SIZE":
			filters.StepSize = parseF(f.StepSize)
		case "NOTIONAL", "MIN_NOTIONAL":
			filters.MinNotional = parseF(f.MinNotional)
		}
	}
	return filters, nil
}

// -----------------------------
// ACCOUNT
// -----------------------------

func (c *BinanceConnector) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	var out struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := c.doRequest(ctx, "GET", "/account", url.Values{}, true, &out); err != nil {
		return 0, err
	}

	asset = strings.ToUpper(asset)
	for _, b := range out.Balances {
		if b.Asset == asset {
			return strconv.ParseFloat(b.Free, 64)
		}
	}
	return 0, nil
}

// -----------------------------
// TRADING
// -----------------------------

type binanceOrderResponse struct {
	OrderID             int64  `json:"orderId"`
	Symbol              string `json:"symbol"`
	Side                string `json:"side"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

func (r binanceOrderResponse) toResult() *OrderResult {
	executed := parseF(r.ExecutedQty)

	// Prefer the fill line-items for the average price; fall back to the
	// cumulative quote / executed quantity ratio when fills are absent.
	var avg float64
	if len(r.Fills) > 0 {
		var qtySum, quoteSum float64
		for _, f := range r.Fills {
			q := parseF(f.Qty)
			qtySum += q
			quoteSum += parseF(f.Price) * q
		}
		if qtySum > 0 {
			avg = quoteSum / qtySum
		}
	}
	if avg == 0 && executed > 0 {
		avg = parseF(r.CummulativeQuoteQty) / executed
	}

	return &OrderResult{
		OrderID:     strconv.FormatInt(r.OrderID, 10),
		Symbol:      r.Symbol,
		Side:        r.Side,
		Status:      r.Status,
		ExecutedQty: executed,
		AvgPrice:    avg,
	}
}

func (c *BinanceConnector) MarketBuyQuote(ctx context.Context, symbol string, quoteAmount float64) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("side", "BUY")
	params.Set("type", "MARKET")
	params.Set("quoteOrderQty", formatF(quoteAmount))

	var out binanceOrderResponse
	if err := c.doRequest(ctx, "POST", "/order", params, true, &out); err != nil {
		return nil, err
	}

	result := out.toResult()
	logger.WithFields(map[string]interface{}{
		"venue":    "binance",
		"symbol":   result.Symbol,
		"order_id": result.OrderID,
		"qty":      result.ExecutedQty,
		"avg":      result.AvgPrice,
	}).Info("Market buy executed")
	return result, nil
}

func (c *BinanceConnector) MarketSell(ctx context.Context, symbol string, qty float64) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("side", "SELL")
	params.Set("type", "MARKET")
	params.Set("quantity", formatF(qty))

	var out binanceOrderResponse
	if err := c.doRequest(ctx, "POST", "/order", params, true, &out); err != nil {
		return nil, err
	}

	result := out.toResult()
	logger.WithFields(map[string]interface{}{
		"venue":    "binance",
		"symbol":   result.Symbol,
		"order_id": result.OrderID,
		"qty":      result.ExecutedQty,
		"avg":      result.AvgPrice,
	}).Info("Market sell executed")
	return result, nil
}

func (c *BinanceConnector) LimitSell(ctx context.Context, symbol string, qty, price float64) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("side", "SELL")
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", formatF(qty))
	params.Set("price", formatF(price))

	var out binanceOrderResponse
	if err := c.doRequest(ctx, "POST", "/order", params, true, &out); err != nil {
		return nil, err
	}
	return out.toResult(), nil
}

type binanceOCOResponse struct {
	OrderListID int64 `json:"orderListId"`
	Orders      []struct {
		OrderID int64 `json:"orderId"`
	} `json:"orders"`
	OrderReports []struct {
		OrderID int64  `json:"orderId"`
		Type    string `json:"type"`
		Status  string `json:"status"`
		Price   string `json:"price"`
	} `json:"orderReports"`
}

// PlaceBracketSell arms a Binance OCO: a LIMIT_MAKER take-profit leg and a
// STOP_LOSS_LIMIT leg. Leg ids are extracted from orderReports by order type,
// falling back to positional extraction from the raw order list when the
// reports are missing.
func (c *BinanceConnector) PlaceBracketSell(ctx context.Context, symbol string, qty, tpPrice, slStopPrice, slLimitPrice float64) (*BracketResult, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("side", "SELL")
	params.Set("quantity", formatF(qty))
	params.Set("price", formatF(tpPrice))
	params.Set("stopPrice", formatF(slStopPrice))
	params.Set("stopLimitPrice", formatF(slLimitPrice))
	params.Set("stopLimitTimeInForce", "GTC")

	var out binanceOCOResponse
	if err := c.doRequest(ctx, "POST", "/order/oco", params, true, &out); err != nil {
		return nil, err
	}

	result := &BracketResult{}
	for _, report := range out.OrderReports {
		id := strconv.FormatInt(report.OrderID, 10)
		result.Reports = append(result.Reports, OrderReport{
			OrderID: id,
			Type:    report.Type,
			Status:  report.Status,
			Price:   parseF(report.Price),
		})
		if strings.Contains(strings.ToUpper(report.Type), "STOP") {
			result.SLOrderID = id
		} else {
			result.TPOrderID = id
		}
	}

	if (result.TPOrderID == "" || result.SLOrderID == "") && len(out.Orders) >= 2 {
		// Binance lists the stop leg first in the raw order list.
		if result.SLOrderID == "" {
			result.SLOrderID = strconv.FormatInt(out.Orders[0].OrderID, 10)
		}
		if result.TPOrderID == "" {
			result.TPOrderID = strconv.FormatInt(out.Orders[1].OrderID, 10)
		}
	}

	logger.WithFields(map[string]interface{}{
		"venue":    "binance",
		"symbol":   symbol,
		"tp_order": result.TPOrderID,
		"sl_order": result.SLOrderID,
		"qty":      qty,
	}).Info("Bracket sell placed")

	return result, nil
}

func (c *BinanceConnector) GetOrderStatus(ctx context.Context, symbol, orderID string) (string, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", orderID)

	var out struct {
		Status string `json:"status"`
	}
	if err := c.doRequest(ctx, "GET", "/order", params, true, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *BinanceConnector) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	err := c.doRequest(ctx, "DELETE", "/openOrders", params, true, nil)
	if err != nil {
		// Binance answers -2011 when there was nothing to cancel. That is the
		// desired end state, not a failure.
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.Code == -2011 {
			return nil
		}
		return err
	}

	logger.WithFields(map[string]interface{}{
		"venue":  "binance",
		"symbol": symbol,
	}).Info("Open orders canceled")
	return nil
}

func formatF(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
