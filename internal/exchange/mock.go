package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient is an in-memory exchange used for dry-run trading and tests.
// Orders fill immediately at the current ticker price unless FillRatio
// is set below 1.
type MockClient struct {
	mu sync.Mutex

	candles  map[string][]Candle
	tickers  map[string]*Ticker
	accounts []Account
	orders   map[string]*Order

	// FillRatio is the fraction of each order that executes
	// immediately. 1 (default) means complete fills.
	FillRatio float64

	// Errors to inject per method name, e.g. "PlaceOrder"
	failures map[string]error

	PlacedOrders []*OrderRequest
}

// NewMockClient creates a mock exchange with a default KRW balance
func NewMockClient() *MockClient {
	return &MockClient{
		candles: make(map[string][]Candle),
		tickers: make(map[string]*Ticker),
		orders:  make(map[string]*Order),
		accounts: []Account{
			{Currency: "KRW", Balance: 1_000_000, UnitCurrency: "KRW"},
		},
		FillRatio: 1,
		failures:  make(map[string]error),
	}
}

// SetCandles sets the candle history returned for a market
func (m *MockClient) SetCandles(market string, candles []Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[market] = candles
	if len(candles) > 0 {
		last := candles[len(candles)-1]
		m.tickers[market] = &Ticker{
			Market:     market,
			TradePrice: last.Close,
			Timestamp:  last.Timestamp,
		}
	}
}

// SetTicker sets the current price for a market
func (m *MockClient) SetTicker(market string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[market] = &Ticker{
		Market:     market,
		TradePrice: price,
		Timestamp:  time.Now(),
	}
}

// SetBalance replaces the balance for a currency
func (m *MockClient) SetBalance(currency string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.accounts {
		if m.accounts[i].Currency == currency {
			m.accounts[i].Balance = balance
			return
		}
	}
	m.accounts = append(m.accounts, Account{
		Currency: currency, Balance: balance, UnitCurrency: "KRW",
	})
}

// FailWith injects an error for the named method ("PlaceOrder",
// "GetCandles", ...). Pass nil to clear.
func (m *MockClient) FailWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *MockClient) failureFor(method string) error {
	return m.failures[method]
}

// GetCandles returns configured candle history
func (m *MockClient) GetCandles(ctx context.Context, market string, unit, count int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failureFor("GetCandles"); err != nil {
		return nil, err
	}
	candles, ok := m.candles[market]
	if !ok {
		return nil, fmt.Errorf("no candle data for %s", market)
	}
	if count > 0 && len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// GetTicker returns the configured price snapshot
func (m *MockClient) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failureFor("GetTicker"); err != nil {
		return nil, err
	}
	ticker, ok := m.tickers[market]
	if !ok {
		return nil, fmt.Errorf("no ticker data for %s", market)
	}
	copied := *ticker
	return &copied, nil
}

// GetAccounts returns current balances
func (m *MockClient) GetAccounts(ctx context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failureFor("GetAccounts"); err != nil {
		return nil, err
	}
	out := make([]Account, len(m.accounts))
	copy(out, m.accounts)
	return out, nil
}

// PlaceOrder records the order and fills it at the ticker price
func (m *MockClient) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failureFor("PlaceOrder"); err != nil {
		return nil, err
	}

	m.PlacedOrders = append(m.PlacedOrders, req)

	price := req.Price
	if ticker, ok := m.tickers[req.Market]; ok && (req.Type == OrderTypeMarket || req.Type == OrderTypePrice) {
		price = ticker.TradePrice
	}

	volume := req.Volume
	if req.Type == OrderTypePrice && price > 0 {
		// market buy specifies the quote amount
		volume = req.Price / price
	}

	fillRatio := m.FillRatio
	if fillRatio <= 0 || fillRatio > 1 {
		fillRatio = 1
	}
	executed := volume * fillRatio

	state := OrderStateDone
	if fillRatio < 1 {
		state = OrderStateWait
	}

	order := &Order{
		UUID:            uuid.NewString(),
		Market:          req.Market,
		Side:            req.Side,
		Type:            req.Type,
		State:           state,
		Price:           price,
		Volume:          volume,
		ExecutedVolume:  executed,
		RemainingVolume: volume - executed,
		CreatedAt:       time.Now(),
	}
	m.orders[order.UUID] = order

	copied := *order
	return &copied, nil
}

// GetOrder returns a previously placed order
func (m *MockClient) GetOrder(ctx context.Context, orderUUID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failureFor("GetOrder"); err != nil {
		return nil, err
	}
	order, ok := m.orders[orderUUID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderUUID)
	}
	copied := *order
	return &copied, nil
}

// CompleteOrder marks a partially filled order as fully executed
func (m *MockClient) CompleteOrder(orderUUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.orders[orderUUID]; ok {
		order.ExecutedVolume = order.Volume
		order.RemainingVolume = 0
		order.State = OrderStateDone
	}
}

// CancelOrder cancels an open order
func (m *MockClient) CancelOrder(ctx context.Context, orderUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failureFor("CancelOrder"); err != nil {
		return err
	}
	order, ok := m.orders[orderUUID]
	if !ok {
		return fmt.Errorf("order %s not found", orderUUID)
	}
	order.State = OrderStateCancel
	return nil
}
