// Package cache provides Redis-based caching for market data with
// graceful degradation: when Redis is unavailable, callers fall back
// to the exchange API.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/koofree/trading-bot/config"
	"github.com/koofree/trading-bot/internal/exchange"
	"github.com/koofree/trading-bot/internal/signal"
)

// Key formats per cached entity
const (
	keyCandles = "market:%s:candles:%d" // market, unit
	keyTicker  = "market:%s:ticker"
	keySignal  = "market:%s:signal"
)

// ErrCacheMiss reports an absent key, as opposed to a Redis failure
var ErrCacheMiss = redis.Nil

// MarketCache caches candle windows, tickers, and the latest signal
// per market. A small circuit breaker marks Redis unhealthy after
// repeated failures and probes for recovery in the background.
type MarketCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger

	mu            sync.RWMutex
	healthy       bool
	failureCount  int
	lastCheck     time.Time
	maxFailures   int
	checkInterval time.Duration
}

// New connects to Redis and returns the cache. A failed initial
// connection returns the cache in degraded mode, not an error.
func New(cfg config.RedisConfig, log zerolog.Logger) *MarketCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}

	mc := &MarketCache{
		client:        client,
		ttl:           ttl,
		log:           log.With().Str("component", "market-cache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		mc.log.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unavailable, cache degraded")
		return mc
	}

	mc.healthy = true
	mc.lastCheck = time.Now()
	mc.log.Info().Str("addr", cfg.Addr).Msg("redis connected")
	return mc
}

// IsHealthy reports whether Redis is currently usable
func (mc *MarketCache) IsHealthy() bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.healthy
}

func (mc *MarketCache) recordFailure() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failureCount++
	if mc.failureCount >= mc.maxFailures {
		if mc.healthy {
			mc.log.Warn().Int("failures", mc.failureCount).Msg("redis marked unhealthy")
		}
		mc.healthy = false
	}
}

func (mc *MarketCache) recordSuccess() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.healthy {
		mc.log.Info().Msg("redis recovered")
	}
	mc.healthy = true
	mc.failureCount = 0
	mc.lastCheck = time.Now()
}

// checkHealth probes for recovery when unhealthy and enough time passed
func (mc *MarketCache) checkHealth() {
	mc.mu.RLock()
	shouldCheck := !mc.healthy && time.Since(mc.lastCheck) >= mc.checkInterval
	mc.mu.RUnlock()
	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := mc.client.Ping(ctx).Err(); err == nil {
			mc.recordSuccess()
		} else {
			mc.mu.Lock()
			mc.lastCheck = time.Now()
			mc.mu.Unlock()
		}
	}()
}

func (mc *MarketCache) getJSON(ctx context.Context, key string, dest interface{}) error {
	mc.checkHealth()
	if !mc.IsHealthy() {
		return fmt.Errorf("redis unavailable")
	}

	data, err := mc.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return err
		}
		mc.recordFailure()
		return fmt.Errorf("redis get failed: %w", err)
	}
	mc.recordSuccess()

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal cached value: %w", err)
	}
	return nil
}

func (mc *MarketCache) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	mc.checkHealth()
	if !mc.IsHealthy() {
		return fmt.Errorf("redis unavailable")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	if err := mc.client.Set(ctx, key, data, ttl).Err(); err != nil {
		mc.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	mc.recordSuccess()
	return nil
}

// GetCandles returns a cached candle window, or ErrCacheMiss
func (mc *MarketCache) GetCandles(ctx context.Context, market string, unit int) ([]exchange.Candle, error) {
	var candles []exchange.Candle
	if err := mc.getJSON(ctx, fmt.Sprintf(keyCandles, market, unit), &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// SetCandles caches a candle window under the market TTL
func (mc *MarketCache) SetCandles(ctx context.Context, market string, unit int, candles []exchange.Candle) error {
	return mc.setJSON(ctx, fmt.Sprintf(keyCandles, market, unit), candles, mc.ttl)
}

// GetTicker returns the cached price snapshot, or ErrCacheMiss
func (mc *MarketCache) GetTicker(ctx context.Context, market string) (*exchange.Ticker, error) {
	var ticker exchange.Ticker
	if err := mc.getJSON(ctx, fmt.Sprintf(keyTicker, market), &ticker); err != nil {
		return nil, err
	}
	return &ticker, nil
}

// SetTicker caches the price snapshot with a short TTL
func (mc *MarketCache) SetTicker(ctx context.Context, market string, ticker *exchange.Ticker) error {
	ttl := mc.ttl
	if ttl > 10*time.Second {
		ttl = 10 * time.Second
	}
	return mc.setJSON(ctx, fmt.Sprintf(keyTicker, market), ticker, ttl)
}

// GetSignal returns the most recent signal for a market, or ErrCacheMiss
func (mc *MarketCache) GetSignal(ctx context.Context, market string) (*signal.TradingSignal, error) {
	var sig signal.TradingSignal
	if err := mc.getJSON(ctx, fmt.Sprintf(keySignal, market), &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// SetSignal caches the latest signal; kept an hour for observability
func (mc *MarketCache) SetSignal(ctx context.Context, market string, sig *signal.TradingSignal) error {
	return mc.setJSON(ctx, fmt.Sprintf(keySignal, market), sig, time.Hour)
}

// Ping checks Redis connectivity
func (mc *MarketCache) Ping(ctx context.Context) error {
	if err := mc.client.Ping(ctx).Err(); err != nil {
		mc.recordFailure()
		return err
	}
	mc.recordSuccess()
	return nil
}

// Close closes the Redis connection
func (mc *MarketCache) Close() error {
	return mc.client.Close()
}
