package trading

import (
	"context"
	"time"
)

// PositionStatus is the lifecycle state of a position
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionPartial PositionStatus = "PARTIAL"
	PositionClosed  PositionStatus = "CLOSED"
)

// Position tracks one market entry from open to close
type Position struct {
	PositionID    string         `json:"position_id"`
	Market        string         `json:"market"`
	Side          string         `json:"side"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	Volume        float64        `json:"volume"`
	FilledVolume  float64        `json:"filled_volume"`
	StopLoss      float64        `json:"stop_loss,omitempty"`
	TakeProfit    float64        `json:"take_profit,omitempty"`
	PnL           float64        `json:"pnl"`
	PnLPercentage float64        `json:"pnl_percentage"`
	Status        PositionStatus `json:"status"`
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	Orders        []string       `json:"orders"`
}

// UpdatePnL recomputes profit against the given price. PnL keys off
// the filled volume, so an unfilled position carries zero PnL until
// the monitor loop reconciles the fill.
func (p *Position) UpdatePnL(currentPrice float64) {
	p.CurrentPrice = currentPrice
	if p.EntryPrice == 0 {
		return
	}
	if p.Side == "buy" {
		p.PnL = (currentPrice - p.EntryPrice) * p.FilledVolume
		p.PnLPercentage = (currentPrice/p.EntryPrice - 1) * 100
	} else {
		p.PnL = (p.EntryPrice - currentPrice) * p.FilledVolume
		if currentPrice != 0 {
			p.PnLPercentage = (p.EntryPrice/currentPrice - 1) * 100
		}
	}
}

// IsOpen reports whether the position still holds market exposure
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen || p.Status == PositionPartial
}

// RiskMetrics are rolling portfolio counters derived from trade history
type RiskMetrics struct {
	DailyPnL         float64 `json:"daily_pnl"`
	DailyTrades      int     `json:"daily_trades"`
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	CurrentExposure  float64 `json:"current_exposure"`
	AvailableBalance float64 `json:"available_balance"`
}

// TradeAction distinguishes entries from exits in the trade log
type TradeAction string

const (
	TradeOpen  TradeAction = "OPEN"
	TradeClose TradeAction = "CLOSE"
)

// TradeRecord is one entry in the bounded trade history
type TradeRecord struct {
	PositionID     string      `json:"position_id"`
	Action         TradeAction `json:"action"`
	Market         string      `json:"market"`
	Side           string      `json:"side"`
	Price          float64     `json:"price"`
	Volume         float64     `json:"volume"`
	PnL            float64     `json:"pnl,omitempty"`
	PnLPercentage  float64     `json:"pnl_percentage,omitempty"`
	SignalStrength float64     `json:"signal_strength"`
	Reasoning      string      `json:"reasoning,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Recorder persists trade records. Implementations must be fail-soft;
// the engine never blocks trading on recorder errors.
type Recorder interface {
	RecordTrade(ctx context.Context, trade TradeRecord) error
}

// ExecutionStatus is the outcome class of a signal execution
type ExecutionStatus string

const (
	StatusSuccess  ExecutionStatus = "success"
	StatusRejected ExecutionStatus = "rejected"
	StatusSkipped  ExecutionStatus = "skipped"
	StatusHold     ExecutionStatus = "hold"
	StatusFailed   ExecutionStatus = "failed"
	StatusError    ExecutionStatus = "error"
)

// ExecutionResult reports what a signal execution did
type ExecutionResult struct {
	Status        ExecutionStatus `json:"status"`
	Action        string          `json:"action,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Position      *Position       `json:"position,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`
	PnL           float64         `json:"pnl,omitempty"`
	PnLPercentage float64         `json:"pnl_percentage,omitempty"`
}
