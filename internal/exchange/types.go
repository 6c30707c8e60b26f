package exchange

import (
	"time"
)

// Candle represents a single OHLCV candle
type Candle struct {
	Market    string    `json:"market"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// IsValid reports whether the candle satisfies basic OHLC consistency
func (c *Candle) IsValid() bool {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	if c.Volume < 0 {
		return false
	}
	maxOC := c.Open
	if c.Close > maxOC {
		maxOC = c.Close
	}
	minOC := c.Open
	if c.Close < minOC {
		minOC = c.Close
	}
	return c.High >= maxOC && c.Low <= minOC
}

// Ticker represents the current market price snapshot
type Ticker struct {
	Market            string    `json:"market"`
	TradePrice        float64   `json:"trade_price"`
	Change            string    `json:"change"`      // RISE, FALL, EVEN
	ChangeRate        float64   `json:"change_rate"` // signed fractional 24h change
	AccTradeVolume24h float64   `json:"acc_trade_volume_24h"`
	Timestamp         time.Time `json:"timestamp"`
}

// Account represents a balance entry for a single currency
type Account struct {
	Currency     string  `json:"currency"`
	Balance      float64 `json:"balance"`
	Locked       float64 `json:"locked"`
	AvgBuyPrice  float64 `json:"avg_buy_price"`
	UnitCurrency string  `json:"unit_currency"`
}

// OrderSide is the order direction in exchange terms
type OrderSide string

const (
	SideBid OrderSide = "bid" // buy
	SideAsk OrderSide = "ask" // sell
)

// OrderType is the exchange order type
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypePrice  OrderType = "price"  // market buy, amount in quote currency
	OrderTypeMarket OrderType = "market" // market sell, amount in base currency
)

// OrderState is the lifecycle state of an order
type OrderState string

const (
	OrderStateWait   OrderState = "wait"
	OrderStateDone   OrderState = "done"
	OrderStateCancel OrderState = "cancel"
)

// OrderRequest describes an order submission
type OrderRequest struct {
	Market  string    `json:"market"`
	Side    OrderSide `json:"side"`
	Type    OrderType `json:"ord_type"`
	Volume  float64   `json:"volume,omitempty"` // base currency amount
	Price   float64   `json:"price,omitempty"`  // limit price, or quote amount for market buys
}

// Order represents an order as reported by the exchange
type Order struct {
	UUID            string     `json:"uuid"`
	Market          string     `json:"market"`
	Side            OrderSide  `json:"side"`
	Type            OrderType  `json:"ord_type"`
	State           OrderState `json:"state"`
	Price           float64    `json:"price"`
	Volume          float64    `json:"volume"`
	ExecutedVolume  float64    `json:"executed_volume"`
	RemainingVolume float64    `json:"remaining_volume"`
	PaidFee         float64    `json:"paid_fee"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Filled reports whether the order is completely executed
func (o *Order) Filled() bool {
	return o.State == OrderStateDone
}
