package exchange

import (
	"context"
)

// Client is the exchange interface consumed by the trading engine
// and the signal pipeline. UpbitClient implements it against the real
// exchange; MockClient implements it for dry-run and tests.
type Client interface {
	// GetCandles returns up to count minute candles for the market,
	// oldest first.
	GetCandles(ctx context.Context, market string, unit, count int) ([]Candle, error)

	// GetTicker returns the current price snapshot for the market.
	GetTicker(ctx context.Context, market string) (*Ticker, error)

	// GetAccounts returns all non-zero balances.
	GetAccounts(ctx context.Context) ([]Account, error)

	// PlaceOrder submits an order and returns the created order.
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)

	// GetOrder returns the current state of an order by UUID.
	GetOrder(ctx context.Context, uuid string) (*Order, error)

	// CancelOrder cancels an open order by UUID.
	CancelOrder(ctx context.Context, uuid string) error
}
