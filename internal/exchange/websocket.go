package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koofree/trading-bot/internal/logging"
)

const defaultWSURL = "wss://api.upbit.com/websocket/v1"

// TickerStream subscribes to real-time ticker updates over the exchange
// websocket and delivers them on a channel. It reconnects with backoff
// until the context is cancelled.
type TickerStream struct {
	wsURL   string
	markets []string
	logger  *logging.Logger

	tickers chan *Ticker
}

// NewTickerStream creates a ticker stream for the given markets
func NewTickerStream(wsURL string, markets []string, logger *logging.Logger) *TickerStream {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TickerStream{
		wsURL:   wsURL,
		markets: markets,
		logger:  logger.WithComponent("upbit-ws"),
		tickers: make(chan *Ticker, 64),
	}
}

// Tickers returns the channel updates are delivered on. It is closed
// when Run returns.
func (s *TickerStream) Tickers() <-chan *Ticker {
	return s.tickers
}

// Run connects and pumps ticker updates until ctx is cancelled
func (s *TickerStream) Run(ctx context.Context) {
	defer close(s.tickers)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("websocket disconnected, reconnecting",
				"error", err,
				"backoff", backoff.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type wsTicker struct {
	Type             string  `json:"type"`
	Code             string  `json:"code"`
	TradePrice       float64 `json:"trade_price"`
	Change           string  `json:"change"`
	SignedChangeRate float64 `json:"signed_change_rate"`
	AccTradeVolume   float64 `json:"acc_trade_volume_24h"`
	TimestampMillis  int64   `json:"timestamp"`
}

func (s *TickerStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing websocket: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context is cancelled so the
	// blocking ReadMessage below returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	subscription := []interface{}{
		map[string]string{"ticket": uuid.NewString()},
		map[string]interface{}{"type": "ticker", "codes": s.markets},
	}
	if err := conn.WriteJSON(subscription); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	s.logger.Info("websocket subscribed", "markets", s.markets)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}

		var t wsTicker
		if err := json.Unmarshal(message, &t); err != nil || t.Type != "ticker" {
			continue
		}

		ticker := &Ticker{
			Market:            t.Code,
			TradePrice:        t.TradePrice,
			Change:            t.Change,
			ChangeRate:        t.SignedChangeRate,
			AccTradeVolume24h: t.AccTradeVolume,
			Timestamp:         time.UnixMilli(t.TimestampMillis),
		}

		select {
		case s.tickers <- ticker:
		case <-ctx.Done():
			return nil
		default:
			// slow consumer, drop the update
		}
	}
}
