package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestBybit(baseURL string) *BybitConnector {
	cfg := Config{RatePerSec: 1000, Burst: 1000, HTTPTimeoutSeconds: 5}
	return &BybitConnector{
		apiKey:     "test-key",
		apiSecret:  "test-secret",
		recvWindow: "5000",
		exec:       newRestExecutor("bybit", baseURL, cfg),
	}
}

func bybitOK(result interface{}) map[string]interface{} {
	return map[string]interface{}{"retCode": 0, "retMsg": "OK", "result": result}
}

// TestSignBybit checks the v5 signing payload order: ts + key + recv + payload.
func TestSignBybit(t *testing.T) {
	expectedMac := hmac.New(sha256.New, []byte("secret"))
	expectedMac.Write([]byte("1700000000000" + "key" + "5000" + "category=spot"))
	expected := hex.EncodeToString(expectedMac.Sum(nil))

	got := signBybit("1700000000000", "key", "5000", "category=spot", "secret")
	if got != expected {
		t.Fatalf("expected signature %s, got %s", expected, got)
	}
}

// TestBybitIntervalMapping maps shared interval notation to v5 values.
func TestBybitIntervalMapping(t *testing.T) {
	cases := map[string]string{
		"1m": "1",
		"1h": "60",
		"4h": "240",
		"1d": "D",
	}
	for in, want := range cases {
		if got := bybitInterval(in); got != want {
			t.Fatalf("bybitInterval(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestBybitGetKlinesAscending reverses the newest-first venue ordering.
func TestBybitGetKlinesAscending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(bybitOK(map[string]interface{}{
			"list": [][]string{
				{"1700003600000", "101", "103", "100", "102", "5", "500"},
				{"1700000000000", "100", "102", "99", "101", "4", "400"},
			},
		}))
	}))
	defer server.Close()

	client := newTestBybit(server.URL)
	candles, err := client.GetKlines(context.Background(), "BTCUSDT", "1h", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].OpenTime != 1700000000000 || candles[1].OpenTime != 1700003600000 {
		t.Fatalf("candles not ascending: %+v", candles)
	}
	if candles[0].Close != 101 {
		t.Fatalf("unexpected close on first candle: %f", candles[0].Close)
	}
}

// TestBybitRejectionRetCode maps a non-zero retCode to a rejected APIError.
func TestBybitRejectionRetCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 170131,
			"retMsg":  "Insufficient balance",
			"result":  map[string]interface{}{},
		})
	}))
	defer server.Close()

	client := newTestBybit(server.URL)
	_, err := client.MarketSell(context.Background(), "BTCUSDT", 5)
	if err == nil {
		t.Fatal("expected rejection error")
	}

	var apiErr *APIError
	if !asAPIError(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Kind != KindRejected || apiErr.Code != 170131 {
		t.Fatalf("unexpected error mapping: %+v", apiErr)
	}
}

// TestBybitRateLimitRetCodeIsTransient maps 10006 to the transient kind.
func TestBybitRateLimitRetCodeIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 10006,
			"retMsg":  "Too many visits",
			"result":  map[string]interface{}{},
		})
	}))
	defer server.Close()

	client := newTestBybit(server.URL)
	_, err := client.GetPrice(context.Background(), "BTCUSDT")
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindTransient {
		t.Fatalf("expected transient kind, got %s", KindOf(err))
	}
}

// TestBybitHardHTTPErrorIsRejected classifies a non-retryable 4xx as a
// rejection so callers do not hold and retry a hopeless request.
func TestBybitHardHTTPErrorIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"retCode":10003,"retMsg":"API key is invalid"}`))
	}))
	defer server.Close()

	client := newTestBybit(server.URL)
	_, err := client.GetFreeBalance(context.Background(), "USDT")
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindRejected {
		t.Fatalf("expected rejected kind for 401, got %s", KindOf(err))
	}

	var apiErr *APIError
	if !asAPIError(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.HTTPState != http.StatusUnauthorized {
		t.Fatalf("expected HTTP state 401, got %d", apiErr.HTTPState)
	}
}

// TestBybitPlaceBracketSellTwoLegs arms the TP limit and the stop-limit
// conditional as separate orders.
func TestBybitPlaceBracketSellTwoLegs(t *testing.T) {
	orderCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/order/create" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		orderCount++
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch orderCount {
		case 1:
			if body["orderFilter"] != nil {
				t.Errorf("first leg should be a plain limit, got %+v", body)
			}
			_ = json.NewEncoder(w).Encode(bybitOK(map[string]string{"orderId": "tp-1"}))
		case 2:
			if body["orderFilter"] != "StopOrder" || body["triggerPrice"] == nil {
				t.Errorf("second leg should be a stop order, got %+v", body)
			}
			_ = json.NewEncoder(w).Encode(bybitOK(map[string]string{"orderId": "sl-1"}))
		}
	}))
	defer server.Close()

	client := newTestBybit(server.URL)
	result, err := client.PlaceBracketSell(context.Background(), "BTCUSDT", 0.5, 106, 97, 96.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TPOrderID != "tp-1" || result.SLOrderID != "sl-1" {
		t.Fatalf("unexpected leg ids: %+v", result)
	}
	if orderCount != 2 {
		t.Fatalf("expected 2 order creates, got %d", orderCount)
	}
}

// TestBybitPlaceBracketSellPartialFailure returns the partially placed bracket
// alongside the error so the caller can detect the missing leg.
func TestBybitPlaceBracketSellPartialFailure(t *testing.T) {
	orderCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orderCount++
		if orderCount == 1 {
			_ = json.NewEncoder(w).Encode(bybitOK(map[string]string{"orderId": "tp-1"}))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 170140,
			"retMsg":  "Order value below minimum",
			"result":  map[string]interface{}{},
		})
	}))
	defer server.Close()

	client := newTestBybit(server.URL)
	result, err := client.PlaceBracketSell(context.Background(), "BTCUSDT", 0.5, 106, 97, 96.5)
	if err == nil {
		t.Fatal("expected error from failed stop leg")
	}
	if result.TPOrderID != "tp-1" {
		t.Fatalf("expected placed TP leg in partial result, got %+v", result)
	}
	if result.SLOrderID != "" {
		t.Fatalf("expected empty SL leg id, got %s", result.SLOrderID)
	}
}

// TestBybitGetOrderStatusFallsBackToHistory reads history when the realtime
// view no longer lists the order.
func TestBybitGetOrderStatusFallsBackToHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/realtime":
			_ = json.NewEncoder(w).Encode(bybitOK(map[string]interface{}{"list": []interface{}{}}))
		case "/v5/order/history":
			_ = json.NewEncoder(w).Encode(bybitOK(map[string]interface{}{
				"list": []map[string]string{{"orderStatus": "Filled"}},
			}))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestBybit(server.URL)
	status, err := client.GetOrderStatus(context.Background(), "BTCUSDT", "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "Filled" {
		t.Fatalf("expected Filled from history fallback, got %s", status)
	}
}
