// Package bot wires the analysis pipeline, signal generator, and
// trading engine into a running system with its background loops.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koofree/trading-bot/config"
	"github.com/koofree/trading-bot/internal/ai/llm"
	"github.com/koofree/trading-bot/internal/cache"
	"github.com/koofree/trading-bot/internal/exchange"
	"github.com/koofree/trading-bot/internal/logging"
	"github.com/koofree/trading-bot/internal/signal"
	"github.com/koofree/trading-bot/internal/trading"
)

const (
	defaultCandleCount = 200

	defaultSignalInterval     = 15 * time.Second
	defaultMarketDataInterval = 5 * time.Second
	errorBackoff              = 30 * time.Second
)

// Broadcaster pushes live updates to connected clients. The WebSocket
// hub implements it; a nil broadcaster disables pushes.
type Broadcaster interface {
	Broadcast(msgType string, data interface{})
}

// SignalRecorder persists generated signals. Implementations must be
// fail-soft.
type SignalRecorder interface {
	RecordSignal(ctx context.Context, sig *signal.TradingSignal) error
}

// TradingSystem runs the full pipeline: fetch market data, analyze,
// generate signals, and hand them to the execution engine. Three
// background loops run while the system is started: the signal loop,
// the market data loop, and the engine's position monitor.
type TradingSystem struct {
	cfg         *config.Config
	client      exchange.Client
	generator   *signal.Generator
	engine      *trading.Engine
	analyzer    *llm.Analyzer
	cache       *cache.MarketCache
	broadcast   Broadcaster
	recorder    SignalRecorder
	liveTickers bool
	logger      *logging.Logger

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	latestSignals map[string]*signal.TradingSignal
}

// Options carries the optional collaborators for NewSystem
type Options struct {
	Analyzer    *llm.Analyzer
	Cache       *cache.MarketCache
	Broadcaster Broadcaster
	Recorder    SignalRecorder

	// LiveTickers subscribes to the exchange websocket for price
	// updates instead of polling GetTicker. Used with the real
	// exchange client; the mock has no websocket endpoint.
	LiveTickers bool
}

// NewSystem assembles the trading system. Optional collaborators may
// be nil.
func NewSystem(
	cfg *config.Config,
	client exchange.Client,
	generator *signal.Generator,
	engine *trading.Engine,
	opts Options,
	logger *logging.Logger,
) *TradingSystem {
	return &TradingSystem{
		cfg:           cfg,
		client:        client,
		generator:     generator,
		engine:        engine,
		analyzer:      opts.Analyzer,
		cache:         opts.Cache,
		broadcast:     opts.Broadcaster,
		recorder:      opts.Recorder,
		liveTickers:   opts.LiveTickers,
		logger:        logger.WithComponent("trading-system"),
		latestSignals: make(map[string]*signal.TradingSignal),
	}
}

// SetBroadcaster attaches the push channel. The WebSocket hub is
// built after the system, so this is called during wiring, before
// Start.
func (ts *TradingSystem) SetBroadcaster(b Broadcaster) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.broadcast = b
}

// Start launches the background loops. Returns an error when already
// running or when no markets are configured.
func (ts *TradingSystem) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.running {
		return fmt.Errorf("trading system already running")
	}
	if len(ts.cfg.Trading.Markets) == 0 {
		return fmt.Errorf("no markets configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts.cancel = cancel

	if err := ts.engine.Initialize(ctx); err != nil {
		cancel()
		return fmt.Errorf("initialize trading engine: %w", err)
	}

	ts.wg.Add(2)
	go ts.signalLoop(ctx)
	go ts.marketDataLoop(ctx)

	if ts.liveTickers {
		// A fresh stream per Start: the ticker channel is closed when
		// its Run exits, so streams do not survive a restart.
		stream := exchange.NewTickerStream(ts.cfg.Upbit.WSUrl, ts.cfg.Trading.Markets, ts.logger)
		ts.wg.Add(1)
		go ts.streamLoop(ctx, stream)
	}

	ts.running = true
	ts.logger.Info("Trading system started", "markets", ts.cfg.Trading.Markets)
	return nil
}

// Stop cancels the loops and waits for them to drain
func (ts *TradingSystem) Stop() error {
	ts.mu.Lock()
	if !ts.running {
		ts.mu.Unlock()
		return fmt.Errorf("trading system not running")
	}
	ts.running = false
	cancel := ts.cancel
	ts.mu.Unlock()

	cancel()
	ts.wg.Wait()
	ts.engine.Shutdown()
	ts.logger.Info("Trading system stopped")
	return nil
}

// Running reports whether the loops are active
func (ts *TradingSystem) Running() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.running
}

// signalLoop periodically analyzes each market and executes the
// resulting signal. After a cycle with errors the next run is delayed
// to avoid hammering a failing exchange API.
func (ts *TradingSystem) signalLoop(ctx context.Context) {
	defer ts.wg.Done()

	interval := ts.cfg.Trading.SignalCheckInterval
	if interval <= 0 {
		interval = defaultSignalInterval
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := interval
		if err := ts.runSignalCycle(ctx); err != nil {
			ts.logger.WithError(err).Warn("Signal cycle had errors, backing off")
			next = errorBackoff
		}
		timer.Reset(next)
	}
}

// runSignalCycle processes every configured market once
func (ts *TradingSystem) runSignalCycle(ctx context.Context) error {
	var firstErr error
	for _, market := range ts.cfg.Trading.Markets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := ts.processMarket(ctx, market); err != nil {
			ts.logger.WithError(err).Warn("Market analysis failed", "market", market)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (ts *TradingSystem) processMarket(ctx context.Context, market string) error {
	candles, err := ts.fetchCandles(ctx, market)
	if err != nil {
		return fmt.Errorf("fetch candles for %s: %w", market, err)
	}

	currentPrice := 0.0
	if ticker, err := ts.fetchTicker(ctx, market); err == nil {
		currentPrice = ticker.TradePrice
	}

	sig := ts.generator.Generate(market, candles, currentPrice, nil)

	// A configured LLM refines the signal with a sentiment read over
	// the same analysis context.
	if ts.analyzer != nil && ts.analyzer.Available() && sig.LLMContext != "" {
		sentiment, err := ts.analyzer.AnalyzeSentiment(ctx, sig.LLMContext)
		if err != nil {
			ts.logger.WithError(err).Warn("Sentiment analysis failed, using technical signal", "market", market)
		} else {
			sig = ts.generator.Generate(market, candles, currentPrice, sentiment)
		}
	}

	ts.mu.Lock()
	ts.latestSignals[market] = sig
	ts.mu.Unlock()

	if ts.cache != nil {
		if err := ts.cache.SetSignal(ctx, market, sig); err != nil {
			ts.logger.Debug("Signal cache write failed", "market", market, "error", err.Error())
		}
	}
	if ts.recorder != nil {
		if err := ts.recorder.RecordSignal(ctx, sig); err != nil {
			ts.logger.WithError(err).Warn("Failed to persist signal", "market", market)
		}
	}
	if ts.broadcast != nil {
		ts.broadcast.Broadcast("signal", sig)
	}

	result := ts.engine.ExecuteSignal(ctx, sig)
	ts.logger.Info("Signal processed",
		"market", market,
		"signal", string(sig.Type),
		"strength", sig.Strength,
		"status", string(result.Status),
		"reason", result.Reason,
	)

	if result.Status == trading.StatusSuccess && ts.broadcast != nil {
		ts.broadcast.Broadcast("positions", ts.engine.OpenPositions())
		ts.broadcast.Broadcast("trade", result)
	}
	return nil
}

// marketDataLoop streams price snapshots to WebSocket clients
func (ts *TradingSystem) marketDataLoop(ctx context.Context) {
	defer ts.wg.Done()

	interval := ts.cfg.Trading.MarketDataInterval
	if interval <= 0 {
		interval = defaultMarketDataInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.broadcastMarketData(ctx)
		}
	}
}

func (ts *TradingSystem) broadcastMarketData(ctx context.Context) {
	if ts.broadcast == nil {
		return
	}
	// With a live websocket stream the streamLoop delivers prices;
	// polling would double them up.
	if !ts.liveTickers {
		for _, market := range ts.cfg.Trading.Markets {
			ticker, err := ts.fetchTicker(ctx, market)
			if err != nil {
				ts.logger.Debug("Ticker fetch failed", "market", market, "error", err.Error())
				continue
			}
			ts.broadcast.Broadcast("ticker", ticker)
		}
	}
	ts.broadcast.Broadcast("positions", ts.engine.OpenPositions())
}

// streamLoop consumes websocket ticker updates, feeding the cache and
// connected clients. The stream reconnects internally; the loop ends
// when cancellation closes its channel.
func (ts *TradingSystem) streamLoop(ctx context.Context, stream *exchange.TickerStream) {
	defer ts.wg.Done()

	go stream.Run(ctx)
	for ticker := range stream.Tickers() {
		if ts.cache != nil {
			if err := ts.cache.SetTicker(ctx, ticker.Market, ticker); err != nil {
				ts.logger.Debug("Ticker cache write failed", "market", ticker.Market, "error", err.Error())
			}
		}
		if ts.broadcast != nil {
			ts.broadcast.Broadcast("ticker", ticker)
		}
	}
}

// fetchCandles serves candles from the cache when possible
func (ts *TradingSystem) fetchCandles(ctx context.Context, market string) ([]exchange.Candle, error) {
	unit := ts.cfg.Trading.CandleUnit
	if unit <= 0 {
		unit = 15
	}
	count := ts.cfg.Trading.CandleCount
	if count <= 0 {
		count = defaultCandleCount
	}

	if ts.cache != nil {
		if candles, err := ts.cache.GetCandles(ctx, market, unit); err == nil {
			return candles, nil
		}
	}

	candles, err := ts.client.GetCandles(ctx, market, unit, count)
	if err != nil {
		return nil, err
	}
	if ts.cache != nil {
		if err := ts.cache.SetCandles(ctx, market, unit, candles); err != nil {
			ts.logger.Debug("Candle cache write failed", "market", market, "error", err.Error())
		}
	}
	return candles, nil
}

func (ts *TradingSystem) fetchTicker(ctx context.Context, market string) (*exchange.Ticker, error) {
	if ts.cache != nil {
		if ticker, err := ts.cache.GetTicker(ctx, market); err == nil {
			return ticker, nil
		}
	}

	ticker, err := ts.client.GetTicker(ctx, market)
	if err != nil {
		return nil, err
	}
	if ts.cache != nil {
		if err := ts.cache.SetTicker(ctx, market, ticker); err != nil {
			ts.logger.Debug("Ticker cache write failed", "market", market, "error", err.Error())
		}
	}
	return ticker, nil
}

// Status summarizes the system for the status endpoint
func (ts *TradingSystem) Status() map[string]interface{} {
	ts.mu.Lock()
	running := ts.running
	signalCount := len(ts.latestSignals)
	ts.mu.Unlock()

	risk := ts.engine.RiskSnapshot()
	return map[string]interface{}{
		"running":           running,
		"dry_run":           ts.cfg.Upbit.DryRun,
		"markets":           ts.cfg.Trading.Markets,
		"signals_tracked":   signalCount,
		"open_positions":    len(ts.engine.OpenPositions()),
		"daily_pnl":         risk.DailyPnL,
		"daily_trades":      risk.DailyTrades,
		"available_balance": risk.AvailableBalance,
	}
}

// LatestSignals returns the most recent signal per market
func (ts *TradingSystem) LatestSignals() []*signal.TradingSignal {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	signals := make([]*signal.TradingSignal, 0, len(ts.latestSignals))
	for _, sig := range ts.latestSignals {
		signals = append(signals, sig)
	}
	return signals
}

// OpenPositions exposes the engine's open position snapshot
func (ts *TradingSystem) OpenPositions() []trading.Position {
	return ts.engine.OpenPositions()
}

// RiskSnapshot exposes the engine's risk metrics
func (ts *TradingSystem) RiskSnapshot() trading.RiskMetrics {
	return ts.engine.RiskSnapshot()
}

// TradeHistory returns up to limit recent trade records
func (ts *TradingSystem) TradeHistory(limit int) []trading.TradeRecord {
	history := ts.engine.TradeHistory()
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
