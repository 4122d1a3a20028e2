package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/model"
)

// ClosedCandle is one confirmed kline delivered by a venue stream. Only
// closed candles are published; in-progress updates are dropped at this layer
// so the lifecycle engine never acts on a partial bar.
type ClosedCandle struct {
	Symbol string
	Candle model.Candle
}

const (
	wsBackoffInitial = 500 * time.Millisecond
	wsBackoffMax     = 10 * time.Second
	wsReadDeadline   = 90 * time.Second
)

// BinanceKlineStream subscribes to kline updates for a fixed symbol+interval
// set and republishes closed candles. The reconnect loop never abandons the
// subscription set: every successful dial is followed by a full resubscribe.
type BinanceKlineStream struct {
	url      string
	symbols  []string
	interval string
	out      chan ClosedCandle
}

func NewBinanceKlineStream(cfg Config, symbols []string, interval string) *BinanceKlineStream {
	return &BinanceKlineStream{
		url:      cfg.BinanceWSURL,
		symbols:  symbols,
		interval: interval,
		out:      make(chan ClosedCandle, 64),
	}
}

func (s *BinanceKlineStream) Candles() <-chan ClosedCandle { return s.out }

// Run blocks until ctx is canceled, reconnecting with capped exponential
// backoff on any stream failure.
func (s *BinanceKlineStream) Run(ctx context.Context) {
	defer close(s.out)

	backoff := wsBackoffInitial
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		logger.WithFields(map[string]interface{}{
			"venue":   "binance",
			"backoff": backoff.String(),
		}).WithError(err).Warn("Kline stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsBackoffMax {
			backoff = wsBackoffMax
		}
	}
}

func (s *BinanceKlineStream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("binance ws dial failed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	params := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		params = append(params, fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), s.interval))
	}
	sub := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("binance ws subscribe failed: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"venue":   "binance",
		"streams": params,
	}).Info("Kline stream subscribed")

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg struct {
			EventType string `json:"e"`
			Symbol    string `json:"s"`
			Kline     struct {
				StartTime int64  `json:"t"`
				EndTime   int64  `json:"T"`
				Open      string `json:"o"`
				High      string `json:"h"`
				Low       string `json:"l"`
				Close     string `json:"c"`
				Volume    string `json:"v"`
				Closed    bool   `json:"x"`
			} `json:"k"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.EventType != "kline" || !msg.Kline.Closed {
			continue
		}

		candle := ClosedCandle{
			Symbol: msg.Symbol,
			Candle: model.Candle{
				OpenTime:  msg.Kline.StartTime,
				Open:      parseF(msg.Kline.Open),
				High:      parseF(msg.Kline.High),
				Low:       parseF(msg.Kline.Low),
				Close:     parseF(msg.Kline.Close),
				Volume:    parseF(msg.Kline.Volume),
				CloseTime: msg.Kline.EndTime,
			},
		}

		select {
		case s.out <- candle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
