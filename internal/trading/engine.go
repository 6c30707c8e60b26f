package trading

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
	"github.com/koofree/trading-bot/internal/logging"
	"github.com/koofree/trading-bot/internal/signal"
)

const (
	// defaultBalance is used when the balance fetch fails or comes
	// back empty, so risk checks stay meaningful in dry runs
	defaultBalance = 1000000

	maxTradeHistory = 1000
)

// CorrelationKeyFunc maps a market symbol to a correlation bucket.
// Positions sharing a bucket count against max_correlated_positions.
type CorrelationKeyFunc func(market string) string

// BaseAssetCorrelationKey buckets markets by the first three characters
// of the traded asset, e.g. KRW-ETH and BTC-ETH both map to "ETH".
// A symbol prefix is a crude stand-in for price correlation.
func BaseAssetCorrelationKey(market string) string {
	parts := strings.SplitN(market, "-", 2)
	base := parts[len(parts)-1]
	if len(base) > 3 {
		base = base[:3]
	}
	return base
}

// Config holds the engine's risk management parameters
type Config struct {
	MaxPositions           int
	RiskPerTrade           float64
	DailyLossLimit         float64
	StopLossPct            float64
	TakeProfitPct          float64
	MaxPositionSize        float64 // fraction of balance per position
	MinOrderSize           float64 // quote currency floor
	MaxCorrelatedPositions int
	PositionCheckInterval  time.Duration
	QuoteCurrency          string
	AllowPositionScaling   bool
	AllowShortSelling      bool
}

func (c *Config) applyDefaults() {
	if c.MaxPositions == 0 {
		c.MaxPositions = 5
	}
	if c.RiskPerTrade == 0 {
		c.RiskPerTrade = 0.01
	}
	if c.DailyLossLimit == 0 {
		c.DailyLossLimit = 0.05
	}
	if c.StopLossPct == 0 {
		c.StopLossPct = 0.03
	}
	if c.TakeProfitPct == 0 {
		c.TakeProfitPct = 0.06
	}
	if c.MaxPositionSize == 0 {
		c.MaxPositionSize = 0.1
	}
	if c.MinOrderSize == 0 {
		c.MinOrderSize = 5000
	}
	if c.MaxCorrelatedPositions == 0 {
		c.MaxCorrelatedPositions = 2
	}
	if c.PositionCheckInterval == 0 {
		c.PositionCheckInterval = 10 * time.Second
	}
	if c.QuoteCurrency == "" {
		c.QuoteCurrency = "KRW"
	}
}

// Engine executes trading signals under risk limits and monitors the
// resulting positions. All portfolio state lives behind its mutex.
type Engine struct {
	mu sync.Mutex

	cfg            Config
	client         exchange.Client
	logger         *logging.Logger
	recorder       Recorder
	correlationKey CorrelationKeyFunc

	positions       map[string]*Position
	balance         map[string]float64
	riskMetrics     RiskMetrics
	tradeHistory    []TradeRecord
	positionCounter int

	cancelMonitor context.CancelFunc
	wg            sync.WaitGroup
}

// NewEngine creates a trading engine. The recorder may be nil.
func NewEngine(cfg Config, client exchange.Client, recorder Recorder, logger *logging.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		cfg:            cfg,
		client:         client,
		logger:         logger.WithComponent("trading-engine"),
		recorder:       recorder,
		correlationKey: BaseAssetCorrelationKey,
		positions:      make(map[string]*Position),
		balance:        make(map[string]float64),
	}
}

// SetCorrelationKey swaps the correlation bucketing policy
func (e *Engine) SetCorrelationKey(fn CorrelationKeyFunc) {
	if fn != nil {
		e.correlationKey = fn
	}
}

// Initialize fetches the account balance and starts the position
// monitor loop. Call Shutdown to stop it.
func (e *Engine) Initialize(ctx context.Context) error {
	e.UpdateBalance(ctx)

	monitorCtx, cancel := context.WithCancel(context.Background())
	e.cancelMonitor = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitorLoop(monitorCtx)
	}()

	e.logger.Info("Trading engine initialized",
		"max_positions", e.cfg.MaxPositions,
		"risk_per_trade", e.cfg.RiskPerTrade)
	return nil
}

// Shutdown stops the monitor loop and waits for it to exit
func (e *Engine) Shutdown() {
	if e.cancelMonitor != nil {
		e.cancelMonitor()
	}
	e.wg.Wait()
	e.logger.Info("Trading engine shutdown")
}

// UpdateBalance refreshes balances from the exchange. On failure or an
// empty response it falls back to a fixed default so downstream risk
// checks keep working; the fallback is logged, never silent.
func (e *Engine) UpdateBalance(ctx context.Context) {
	accounts, err := e.client.GetAccounts(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil || len(accounts) == 0 {
		e.balance = map[string]float64{e.cfg.QuoteCurrency: defaultBalance}
		e.riskMetrics.AvailableBalance = defaultBalance
		if err != nil {
			e.logger.Warn("Balance fetch failed, using default balance",
				"default", defaultBalance, "error", err)
		} else {
			e.logger.Warn("Empty account response, using default balance",
				"default", defaultBalance)
		}
		return
	}

	e.balance = make(map[string]float64, len(accounts))
	for _, acc := range accounts {
		e.balance[acc.Currency] = acc.Balance
	}
	e.riskMetrics.AvailableBalance = e.balance[e.cfg.QuoteCurrency]
	e.logger.Info("Balance updated", "available", e.riskMetrics.AvailableBalance)
}

// ExecuteSignal runs a trading signal through admission control and
// the position lifecycle.
func (e *Engine) ExecuteSignal(ctx context.Context, sig *signal.TradingSignal) ExecutionResult {
	if sig == nil {
		return ExecutionResult{Status: StatusError, Reason: "nil signal"}
	}

	if sig.Type == signal.SignalHold {
		return ExecutionResult{Status: StatusHold, Reason: "Hold signal - no action taken"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if reason := e.checkRiskLimits(sig); reason != "" {
		e.logger.Warn("Signal rejected", "market", sig.Market, "reason", reason)
		return ExecutionResult{Status: StatusRejected, Reason: reason}
	}

	existing := e.openPositionLocked(sig.Market)

	switch sig.Type {
	case signal.SignalBuy:
		if existing != nil {
			if e.cfg.AllowPositionScaling {
				return ExecutionResult{Status: StatusSkipped, Reason: "Position scaling not implemented"}
			}
			snapshot := *existing
			return ExecutionResult{Status: StatusSkipped, Reason: "Already in position", Position: &snapshot}
		}
		return e.openPosition(ctx, sig)

	case signal.SignalSell:
		if existing != nil {
			return e.closePosition(ctx, existing, sig.Price, sig.Strength, sig.Reasoning)
		}
		if e.cfg.AllowShortSelling {
			return ExecutionResult{Status: StatusSkipped, Reason: "Short selling not implemented"}
		}
		return ExecutionResult{Status: StatusSkipped, Reason: "No position to sell"}
	}

	return ExecutionResult{Status: StatusError, Reason: fmt.Sprintf("unknown signal type %s", sig.Type)}
}

// checkRiskLimits returns the first failing admission reason, or ""
// if the signal may trade. Caller holds the mutex.
func (e *Engine) checkRiskLimits(sig *signal.TradingSignal) string {
	available := e.balance[e.cfg.QuoteCurrency]

	if e.riskMetrics.DailyPnL < -(available * e.cfg.DailyLossLimit) {
		return "Daily loss limit reached"
	}

	if e.countOpenLocked() >= e.cfg.MaxPositions {
		return "Maximum positions reached"
	}

	key := e.correlationKey(sig.Market)
	correlated := 0
	for _, p := range e.positions {
		if p.IsOpen() && e.correlationKey(p.Market) == key {
			correlated++
		}
	}
	if correlated >= e.cfg.MaxCorrelatedPositions {
		return "Correlated position limit reached"
	}

	if available < sig.Price*sig.Volume {
		return "Insufficient balance"
	}
	return ""
}

// orderParams holds risk-sized order values
type orderParams struct {
	volume     float64
	price      float64
	stopLoss   float64
	takeProfit float64
}

// calculateOrderParams sizes the position from the per-trade risk
// budget and the stop distance, clamped to the max position fraction
// and floored at the exchange minimum order value.
func (e *Engine) calculateOrderParams(price float64) orderParams {
	available := e.balance[e.cfg.QuoteCurrency]
	riskAmount := available * e.cfg.RiskPerTrade

	stopDistance := price * e.cfg.StopLossPct
	volume := riskAmount / stopDistance

	maxValue := available * e.cfg.MaxPositionSize
	value := volume * price
	if value > maxValue {
		value = maxValue
	}
	volume = value / price

	if value < e.cfg.MinOrderSize {
		volume = e.cfg.MinOrderSize / price
	}

	return orderParams{
		volume:     volume,
		price:      price,
		stopLoss:   price * (1 - e.cfg.StopLossPct),
		takeProfit: price * (1 + e.cfg.TakeProfitPct),
	}
}

// openPosition places an entry order and creates the position record.
// Caller holds the mutex.
func (e *Engine) openPosition(ctx context.Context, sig *signal.TradingSignal) ExecutionResult {
	params := e.calculateOrderParams(sig.Price)

	order, err := e.client.PlaceOrder(ctx, &exchange.OrderRequest{
		Market: sig.Market,
		Side:   exchange.SideBid,
		Type:   exchange.OrderTypeLimit,
		Volume: params.volume,
		Price:  params.price,
	})
	if err != nil {
		e.logger.Error("Order placement failed", "market", sig.Market, "error", err)
		return ExecutionResult{Status: StatusFailed, Reason: err.Error()}
	}

	e.positionCounter++
	position := &Position{
		PositionID:   fmt.Sprintf("POS_%06d", e.positionCounter),
		Market:       sig.Market,
		Side:         "buy",
		EntryPrice:   params.price,
		CurrentPrice: params.price,
		Volume:       params.volume,
		FilledVolume: 0, // reconciled by the monitor loop
		StopLoss:     params.stopLoss,
		TakeProfit:   params.takeProfit,
		Status:       PositionOpen,
		OpenedAt:     time.Now(),
		Orders:       []string{order.UUID},
	}
	e.positions[position.PositionID] = position

	e.recordTrade(ctx, TradeRecord{
		PositionID:     position.PositionID,
		Action:         TradeOpen,
		Market:         sig.Market,
		Side:           "buy",
		Price:          params.price,
		Volume:         params.volume,
		SignalStrength: sig.Strength,
		Reasoning:      sig.Reasoning,
		Timestamp:      time.Now(),
	})

	e.logger.Info("Position opened",
		"position_id", position.PositionID,
		"market", sig.Market,
		"volume", params.volume,
		"stop_loss", params.stopLoss,
		"take_profit", params.takeProfit)

	snapshot := *position
	return ExecutionResult{
		Status:   StatusSuccess,
		Action:   "position_opened",
		Position: &snapshot,
		OrderID:  order.UUID,
	}
}

// closePosition sells out a position at market and finalizes its PnL.
// Caller holds the mutex.
func (e *Engine) closePosition(ctx context.Context, position *Position, price, strength float64, reasoning string) ExecutionResult {
	volume := position.FilledVolume
	if volume == 0 {
		volume = position.Volume
	}

	order, err := e.client.PlaceOrder(ctx, &exchange.OrderRequest{
		Market: position.Market,
		Side:   exchange.SideAsk,
		Type:   exchange.OrderTypeMarket,
		Volume: volume,
	})
	if err != nil {
		e.logger.Error("Close order failed",
			"position_id", position.PositionID, "error", err)
		return ExecutionResult{Status: StatusFailed, Reason: err.Error()}
	}

	now := time.Now()
	position.Status = PositionClosed
	position.ClosedAt = &now
	position.Orders = append(position.Orders, order.UUID)
	position.UpdatePnL(price)

	e.updateRiskMetricsLocked(position)

	e.recordTrade(ctx, TradeRecord{
		PositionID:     position.PositionID,
		Action:         TradeClose,
		Market:         position.Market,
		Side:           "sell",
		Price:          price,
		Volume:         volume,
		PnL:            position.PnL,
		PnLPercentage:  position.PnLPercentage,
		SignalStrength: strength,
		Reasoning:      reasoning,
		Timestamp:      now,
	})

	e.logger.Info("Position closed",
		"position_id", position.PositionID,
		"pnl", fmt.Sprintf("%.2f", position.PnL))

	snapshot := *position
	return ExecutionResult{
		Status:        StatusSuccess,
		Action:        "position_closed",
		Position:      &snapshot,
		OrderID:       order.UUID,
		PnL:           position.PnL,
		PnLPercentage: position.PnLPercentage,
	}
}

// monitorLoop periodically refreshes open positions: reconciles fills,
// updates PnL, enforces stop-loss/take-profit, and recomputes exposure.
func (e *Engine) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PositionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Position monitor stopped")
			return
		case <-ticker.C:
			e.monitorTick(ctx)
		}
	}
}

// MonitorOnce runs a single monitoring pass
func (e *Engine) MonitorOnce(ctx context.Context) {
	e.monitorTick(ctx)
}

func (e *Engine) monitorTick(ctx context.Context) {
	e.mu.Lock()
	open := make([]*Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	e.mu.Unlock()

	for _, position := range open {
		e.reconcileFill(ctx, position)

		tickerData, err := e.client.GetTicker(ctx, position.Market)
		if err != nil {
			e.logger.Warn("Ticker refresh failed",
				"market", position.Market, "error", err)
			continue
		}
		price := tickerData.TradePrice

		e.mu.Lock()
		if !position.IsOpen() {
			e.mu.Unlock()
			continue
		}
		position.UpdatePnL(price)

		switch {
		case position.StopLoss > 0 && price <= position.StopLoss:
			e.logger.Info("Stop-loss triggered",
				"position_id", position.PositionID, "price", price)
			e.closePosition(ctx, position, price, 0, "Stop-loss triggered")
		case position.TakeProfit > 0 && price >= position.TakeProfit:
			e.logger.Info("Take-profit triggered",
				"position_id", position.PositionID, "price", price)
			e.closePosition(ctx, position, price, 0, "Take-profit triggered")
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.recalculateExposureLocked()
	e.mu.Unlock()
}

// reconcileFill pulls the entry order's executed volume from the
// exchange so PnL and exposure reflect actual fills.
func (e *Engine) reconcileFill(ctx context.Context, position *Position) {
	e.mu.Lock()
	needsReconcile := position.IsOpen() &&
		position.FilledVolume < position.Volume && len(position.Orders) > 0
	orderID := ""
	if needsReconcile {
		orderID = position.Orders[0]
	}
	e.mu.Unlock()

	if !needsReconcile {
		return
	}

	order, err := e.client.GetOrder(ctx, orderID)
	if err != nil {
		e.logger.Warn("Fill reconciliation failed",
			"position_id", position.PositionID, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !position.IsOpen() {
		return
	}
	position.FilledVolume = order.ExecutedVolume
	if order.ExecutedVolume > 0 && order.ExecutedVolume < position.Volume {
		position.Status = PositionPartial
	} else if order.ExecutedVolume >= position.Volume {
		position.Status = PositionOpen
	}
}

// recalculateExposureLocked sums open notional. Caller holds the mutex.
func (e *Engine) recalculateExposureLocked() {
	total := 0.0
	for _, p := range e.positions {
		if p.IsOpen() {
			total += p.CurrentPrice * p.FilledVolume
		}
	}
	e.riskMetrics.CurrentExposure = total
}

// updateRiskMetricsLocked folds a freshly closed position into the
// rolling counters. Caller holds the mutex; call before appending the
// CLOSE record so averages cover prior history plus this close.
func (e *Engine) updateRiskMetricsLocked(position *Position) {
	e.riskMetrics.DailyPnL += position.PnL
	e.riskMetrics.DailyTrades++

	var wins, losses []float64
	for _, t := range e.tradeHistory {
		if t.Action != TradeClose {
			continue
		}
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
		} else if t.PnL < 0 {
			losses = append(losses, t.PnL)
		}
	}
	if position.PnL > 0 {
		wins = append(wins, position.PnL)
	} else if position.PnL < 0 {
		losses = append(losses, position.PnL)
	}

	if len(wins) > 0 {
		sum := 0.0
		for _, w := range wins {
			sum += w
		}
		e.riskMetrics.AvgWin = sum / float64(len(wins))
	}
	if len(losses) > 0 {
		sum := 0.0
		for _, l := range losses {
			sum += l
		}
		e.riskMetrics.AvgLoss = sum / float64(len(losses))
	}

	closed := len(wins) + len(losses)
	for _, t := range e.tradeHistory {
		if t.Action == TradeClose && t.PnL == 0 {
			closed++
		}
	}
	if position.PnL == 0 {
		closed++
	}
	if closed > 0 {
		e.riskMetrics.WinRate = float64(len(wins)) / float64(closed)
	}
}

// recordTrade appends to the bounded history and hands the record to
// the recorder if one is wired. Caller holds the mutex.
func (e *Engine) recordTrade(ctx context.Context, trade TradeRecord) {
	e.tradeHistory = append(e.tradeHistory, trade)
	if len(e.tradeHistory) > maxTradeHistory {
		e.tradeHistory = e.tradeHistory[len(e.tradeHistory)-maxTradeHistory:]
	}

	if e.recorder != nil {
		if err := e.recorder.RecordTrade(ctx, trade); err != nil {
			e.logger.Warn("Trade persistence failed",
				"position_id", trade.PositionID, "error", err)
		}
	}
}

func (e *Engine) countOpenLocked() int {
	count := 0
	for _, p := range e.positions {
		if p.IsOpen() {
			count++
		}
	}
	return count
}

func (e *Engine) openPositionLocked(market string) *Position {
	for _, p := range e.positions {
		if p.Market == market && p.IsOpen() {
			return p
		}
	}
	return nil
}

// OpenPositions returns snapshots of all currently open positions
func (e *Engine) OpenPositions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Position
	for _, p := range e.positions {
		if p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out
}

// Positions returns snapshots of every tracked position, closed included
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// RiskSnapshot returns a copy of the current risk metrics
func (e *Engine) RiskSnapshot() RiskMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.riskMetrics
}

// TradeHistory returns a copy of the bounded trade log
func (e *Engine) TradeHistory() []TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]TradeRecord, len(e.tradeHistory))
	copy(out, e.tradeHistory)
	return out
}

// Balance returns the tracked balance for the quote currency
func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance[e.cfg.QuoteCurrency]
}
