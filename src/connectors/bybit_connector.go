package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/model"
)

// -----------------------------
// BYBIT V5 SPOT CLIENT
// -----------------------------

type BybitConnector struct {
	apiKey     string
	apiSecret  string
	recvWindow string
	exec       *restExecutor
}

func NewBybitConnector(cfg Config) *BybitConnector {
	baseURL := strings.TrimRight(cfg.BybitBaseURL, "/")
	return &BybitConnector{
		apiKey:     cfg.BybitAPIKey,
		apiSecret:  cfg.BybitAPISecret,
		recvWindow: strconv.Itoa(cfg.BybitRecvWindow),
		exec:       newRestExecutor("bybit", baseURL, cfg),
	}
}

func (c *BybitConnector) Name() string { return "bybit" }

// -----------------------------
// AUTH
// -----------------------------
//
// Bybit v5 signs timestamp + apiKey + recvWindow + payload, where payload is
// the query string for GET and the raw JSON body for POST. The signature goes
// into X-BAPI-SIGN alongside the key, timestamp and recv window headers.

func signBybit(timestamp, apiKey, recvWindow, payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *BybitConnector) doRequest(ctx context.Context, method, endpoint string, query url.Values, body any, signed bool, out any) error {
	req, err := c.exec.request(ctx)
	if err != nil {
		return err
	}

	queryString := ""
	if query != nil {
		queryString = query.Encode()
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bybit request marshal failed: %w", err)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(bodyBytes)
	}

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		payload := queryString
		if method == "POST" {
			payload = string(bodyBytes)
		}
		req.
			SetHeader("X-BAPI-API-KEY", c.apiKey).
			SetHeader("X-BAPI-TIMESTAMP", timestamp).
			SetHeader("X-BAPI-RECV-WINDOW", c.recvWindow).
			SetHeader("X-BAPI-SIGN", signBybit(timestamp, c.apiKey, c.recvWindow, payload, c.apiSecret))
	}

	if queryString != "" {
		req.SetQueryString(queryString)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return fmt.Errorf("bybit %s %s failed: %w", method, endpoint, err)
	}
	if resp.StatusCode() != 200 {
		kind := KindRejected
		if resp.StatusCode() >= 500 || resp.StatusCode() == 429 || resp.StatusCode() == 408 {
			kind = KindTransient
		}
		return &APIError{
			Kind:      kind,
			Venue:     "bybit",
			Message:   string(resp.Body()),
			HTTPState: resp.StatusCode(),
		}
	}

	var envelope bybitEnvelope
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("bybit response unmarshal failed: %w. raw=%s", err, string(resp.Body()))
	}
	if envelope.RetCode != 0 {
		kind := KindRejected
		// 10006 is Bybit's rate-limit verdict, 10016 internal error.
		if envelope.RetCode == 10006 || envelope.RetCode == 10016 {
			kind = KindTransient
		}
		return &APIError{
			Kind:      kind,
			Venue:     "bybit",
			Code:      envelope.RetCode,
			Message:   envelope.RetMsg,
			HTTPState: resp.StatusCode(),
		}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("bybit result unmarshal failed: %w. raw=%s", err, string(envelope.Result))
		}
	}
	return nil
}

// -----------------------------
// MARKET DATA
// -----------------------------

func (c *BybitConnector) GetPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", strings.ToUpper(symbol))

	var out struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := c.doRequest(ctx, "GET", "/v5/market/tickers", query, nil, false, &out); err != nil {
		return 0, err
	}
	if len(out.List) == 0 {
		return 0, fmt.Errorf("bybit ticker returned no entry for %s", symbol)
	}
	return strconv.ParseFloat(out.List[0].LastPrice, 64)
}

// bybitInterval maps the shared interval notation ("1m", "1h", "1d") onto
// Bybit's minute-count form.
func bybitInterval(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	}
	return interval
}

func (c *BybitConnector) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", strings.ToUpper(symbol))
	query.Set("interval", bybitInterval(interval))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		List [][]string `json:"list"`
	}
	if err := c.doRequest(ctx, "GET", "/v5/market/kline", query, nil, false, &out); err != nil {
		return nil, err
	}

	intervalMs := intervalMillis(interval)

	// Bybit reports newest first; callers expect ascending open time.
	candles := make([]model.Candle, 0, len(out.List))
	for i := len(out.List) - 1; i >= 0; i-- {
		row := out.List[i]
		if len(row) < 6 {
			continue
		}
		openTime, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		candles = append(candles, model.Candle{
			OpenTime:  openTime,
			Open:      parseF(row[1]),
			High:      parseF(row[2]),
			Low:       parseF(row[3]),
			Close:     parseF(row[4]),
			Volume:    parseF(row[5]),
			CloseTime: openTime + intervalMs - 1,
		})
	}
	return candles, nil
}

func intervalMillis(interval string) int64 {
	switch interval {
	case "1m":
		return 60_000
	case "5m":
		return 5 * 60_000
	case "15m":
		return 15 * 60_000
	case "30m":
		return 30 * 60_000
	case "1h":
		return 60 * 60_000
	case "4h":
		return 4 * 60 * 60_000
	case "1d":
		return 24 * 60 * 60_000
	}
	return 60_000
}

func (c *BybitConnector) GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error) {
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", strings.ToUpper(symbol))

	var out struct {
		List []struct {
			Symbol        string `json:"symbol"`
			BaseCoin      string `json:"baseCoin"`
			QuoteCoin     string `json:"quoteCoin"`
			LotSizeFilter struct {
				BasePrecision string `json:"basePrecision"`
				MinOrderAmt   string `json:"minOrderAmt"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := c.doRequest(ctx, "GET", "/v5/market/instruments-info", query, nil, false, &out); err != nil {
		return nil, err
	}
	if len(out.List) == 0 {
		return nil, fmt.Errorf("bybit instruments-info returned no entry for %s", symbol)
	}

	info := out.List[0]
	return &SymbolFilters{
		Symbol:      info.Symbol,
		BaseAsset:   info.BaseCoin,
		QuoteAsset:  info.QuoteCoin,
		TickSize:    parseF(info.PriceFilter.TickSize),
		StepSize:    parseF(info.LotSizeFilter.BasePrecision),
		MinNotional: parseF(info.LotSizeFilter.MinOrderAmt),
	}, nil
}

// -----------------------------
// ACCOUNT
// -----------------------------

func (c *BybitConnector) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")
	query.Set("coin", strings.ToUpper(asset))

	var out struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				AvailableToWith string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := c.doRequest(ctx, "GET", "/v5/account/wallet-balance", query, nil, true, &out); err != nil {
		return 0, err
	}

	asset = strings.ToUpper(asset)
	for _, account := range out.List {
		for _, coin := range account.Coin {
			if coin.Coin != asset {
				continue
			}
			if coin.AvailableToWith != "" {
				return strconv.ParseFloat(coin.AvailableToWith, 64)
			}
			return strconv.ParseFloat(coin.WalletBalance, 64)
		}
	}
	return 0, nil
}

// -----------------------------
// TRADING
// -----------------------------

type bybitOrderCreate struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	MarketUnit  string `json:"marketUnit,omitempty"`
	OrderFilter string `json:"orderFilter,omitempty"`
	TriggerP    string `json:"triggerPrice,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

type bybitOrderIDResult struct {
	OrderID string `json:"orderId"`
}

// fetchOrderResult reads back the order after placement since Bybit's create
// response carries only the id, not fill figures.
func (c *BybitConnector) fetchOrderResult(ctx context.Context, symbol, orderID, side string) (*OrderResult, error) {
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", strings.ToUpper(symbol))
	query.Set("orderId", orderID)

	var out struct {
		List []struct {
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			CumExecVal  string `json:"cumExecValue"`
			AvgPrice    string `json:"avgPrice"`
		} `json:"list"`
	}
	if err := c.doRequest(ctx, "GET", "/v5/order/realtime", query, nil, true, &out); err != nil {
		return nil, err
	}

	result := &OrderResult{
		OrderID: orderID,
		Symbol:  strings.ToUpper(symbol),
		Side:    side,
	}
	if len(out.List) == 0 {
		return result, nil
	}

	o := out.List[0]
	result.Status = o.OrderStatus
	result.ExecutedQty = parseF(o.CumExecQty)
	result.AvgPrice = parseF(o.AvgPrice)
	if result.AvgPrice == 0 && result.ExecutedQty > 0 {
		result.AvgPrice = parseF(o.CumExecVal) / result.ExecutedQty
	}
	return result, nil
}

func (c *BybitConnector) placeOrder(ctx context.Context, order bybitOrderCreate) (string, error) {
	// A client-side id makes the create idempotent across retried requests.
	if order.OrderLinkID == "" {
		order.OrderLinkID = uuid.NewString()
	}

	var out bybitOrderIDResult
	if err := c.doRequest(ctx, "POST", "/v5/order/create", nil, order, true, &out); err != nil {
		return "", err
	}
	return out.OrderID, nil
}

func (c *BybitConnector) MarketBuyQuote(ctx context.Context, symbol string, quoteAmount float64) (*OrderResult, error) {
	orderID, err := c.placeOrder(ctx, bybitOrderCreate{
		Category:   "spot",
		Symbol:     strings.ToUpper(symbol),
		Side:       "Buy",
		OrderType:  "Market",
		Qty:        formatF(quoteAmount),
		MarketUnit: "quoteCoin",
	})
	if err != nil {
		return nil, err
	}

	result, err := c.fetchOrderResult(ctx, symbol, orderID, "BUY")
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"venue":    "bybit",
		"symbol":   result.Symbol,
		"order_id": result.OrderID,
		"qty":      result.ExecutedQty,
		"avg":      result.AvgPrice,
	}).Info("Market buy executed")
	return result, nil
}

func (c *BybitConnector) MarketSell(ctx context.Context, symbol string, qty float64) (*OrderResult, error) {
	orderID, err := c.placeOrder(ctx, bybitOrderCreate{
		Category:   "spot",
		Symbol:     strings.ToUpper(symbol),
		Side:       "Sell",
		OrderType:  "Market",
		Qty:        formatF(qty),
		MarketUnit: "baseCoin",
	})
	if err != nil {
		return nil, err
	}

	result, err := c.fetchOrderResult(ctx, symbol, orderID, "SELL")
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"venue":    "bybit",
		"symbol":   result.Symbol,
		"order_id": result.OrderID,
		"qty":      result.ExecutedQty,
		"avg":      result.AvgPrice,
	}).Info("Market sell executed")
	return result, nil
}

func (c *BybitConnector) LimitSell(ctx context.Context, symbol string, qty, price float64) (*OrderResult, error) {
	orderID, err := c.placeOrder(ctx, bybitOrderCreate{
		Category:    "spot",
		Symbol:      strings.ToUpper(symbol),
		Side:        "Sell",
		OrderType:   "Limit",
		Qty:         formatF(qty),
		Price:       formatF(price),
		TimeInForce: "GTC",
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: orderID, Symbol: strings.ToUpper(symbol), Side: "SELL", Status: "NEW"}, nil
}

// PlaceBracketSell arms the bracket as two legs: a resting take-profit limit
// and a stop-limit conditional order. Bybit spot has no atomic OCO, so a
// partially placed bracket is returned alongside the error and the caller
// decides whether the result is an invariant violation.
func (c *BybitConnector) PlaceBracketSell(ctx context.Context, symbol string, qty, tpPrice, slStopPrice, slLimitPrice float64) (*BracketResult, error) {
	result := &BracketResult{}

	tpID, err := c.placeOrder(ctx, bybitOrderCreate{
		Category:    "spot",
		Symbol:      strings.ToUpper(symbol),
		Side:        "Sell",
		OrderType:   "Limit",
		Qty:         formatF(qty),
		Price:       formatF(tpPrice),
		TimeInForce: "GTC",
	})
	if err != nil {
		return result, fmt.Errorf("bybit take-profit leg failed: %w", err)
	}
	result.TPOrderID = tpID
	result.Reports = append(result.Reports, OrderReport{OrderID: tpID, Type: "LIMIT", Status: "NEW", Price: tpPrice})

	slID, err := c.placeOrder(ctx, bybitOrderCreate{
		Category:    "spot",
		Symbol:      strings.ToUpper(symbol),
		Side:        "Sell",
		OrderType:   "Limit",
		Qty:         formatF(qty),
		Price:       formatF(slLimitPrice),
		TimeInForce: "GTC",
		OrderFilter: "StopOrder",
		TriggerP:    formatF(slStopPrice),
	})
	if err != nil {
		return result, fmt.Errorf("bybit stop leg failed: %w", err)
	}
	result.SLOrderID = slID
	result.Reports = append(result.Reports, OrderReport{OrderID: slID, Type: "STOP_LIMIT", Status: "NEW", Price: slLimitPrice})

	logger.WithFields(map[string]interface{}{
		"venue":    "bybit",
		"symbol":   symbol,
		"tp_order": result.TPOrderID,
		"sl_order": result.SLOrderID,
		"qty":      qty,
	}).Info("Bracket sell placed")

	return result, nil
}

func (c *BybitConnector) GetOrderStatus(ctx context.Context, symbol, orderID string) (string, error) {
	query := url.Values{}
	query.Set("category", "spot")
	query.Set("symbol", strings.ToUpper(symbol))
	query.Set("orderId", orderID)

	var out struct {
		List []struct {
			OrderStatus string `json:"orderStatus"`
		} `json:"list"`
	}
	if err := c.doRequest(ctx, "GET", "/v5/order/realtime", query, nil, true, &out); err != nil {
		return "", err
	}
	if len(out.List) == 0 {
		// Bybit moves terminal orders out of the realtime view; check history.
		if err := c.doRequest(ctx, "GET", "/v5/order/history", query, nil, true, &out); err != nil {
			return "", err
		}
		if len(out.List) == 0 {
			return "", fmt.Errorf("bybit order %s not found for %s", orderID, symbol)
		}
	}
	return out.List[0].OrderStatus, nil
}

func (c *BybitConnector) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]string{
		"category": "spot",
		"symbol":   strings.ToUpper(symbol),
	}
	if err := c.doRequest(ctx, "POST", "/v5/order/cancel-all", nil, body, true, nil); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"venue":  "bybit",
		"symbol": symbol,
	}).Info("Open orders canceled")
	return nil
}
