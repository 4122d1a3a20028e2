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

// BybitKlineStream is the Bybit v5 public spot kline stream. Same contract as
// the Binance stream: closed candles only, reconnect with capped backoff,
// resubscribe after every dial.
type BybitKlineStream struct {
	url      string
	symbols  []string
	interval string
	out      chan ClosedCandle
}

func NewBybitKlineStream(cfg Config, symbols []string, interval string) *BybitKlineStream {
	return &BybitKlineStream{
		url:      cfg.BybitWSURL,
		symbols:  symbols,
		interval: interval,
		out:      make(chan ClosedCandle, 64),
	}
}

func (s *BybitKlineStream) Candles() <-chan ClosedCandle { return s.out }

func (s *BybitKlineStream) Run(ctx context.Context) {
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
			"venue":   "bybit",
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

func (s *BybitKlineStream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("bybit ws dial failed: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	args := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		args = append(args, fmt.Sprintf("kline.%s.%s", bybitInterval(s.interval), strings.ToUpper(symbol)))
	}
	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("bybit ws subscribe failed: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"venue":  "bybit",
		"topics": args,
	}).Info("Kline stream subscribed")

	// Bybit expects an application-level ping every 20s or it drops the
	// connection.
	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		for {
			select {
			case <-pingTicker.C:
				_ = conn.WriteJSON(map[string]string{"op": "ping"})
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	intervalMs := intervalMillis(s.interval)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg struct {
			Topic string `json:"topic"`
			Data  []struct {
				Start   int64  `json:"start"`
				End     int64  `json:"end"`
				Open    string `json:"open"`
				High    string `json:"high"`
				Low     string `json:"low"`
				Close   string `json:"close"`
				Volume  string `json:"volume"`
				Confirm bool   `json:"confirm"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if !strings.HasPrefix(msg.Topic, "kline.") {
			continue
		}

		topicParts := strings.Split(msg.Topic, ".")
		if len(topicParts) != 3 {
			continue
		}
		symbol := topicParts[2]

		for _, bar := range msg.Data {
			if !bar.Confirm {
				continue
			}
			closeTime := bar.End
			if closeTime == 0 {
				closeTime = bar.Start + intervalMs - 1
			}

			candle := ClosedCandle{
				Symbol: symbol,
				Candle: model.Candle{
					OpenTime:  bar.Start,
					Open:      parseF(bar.Open),
					High:      parseF(bar.High),
					Low:       parseF(bar.Low),
					Close:     parseF(bar.Close),
					Volume:    parseF(bar.Volume),
					CloseTime: closeTime,
				},
			}

			select {
			case s.out <- candle:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
