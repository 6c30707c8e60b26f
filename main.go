package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/koofree/trading-bot/config"
	"github.com/koofree/trading-bot/internal/ai/llm"
	"github.com/koofree/trading-bot/internal/api"
	"github.com/koofree/trading-bot/internal/bot"
	"github.com/koofree/trading-bot/internal/cache"
	"github.com/koofree/trading-bot/internal/database"
	"github.com/koofree/trading-bot/internal/exchange"
	"github.com/koofree/trading-bot/internal/logging"
	signalgen "github.com/koofree/trading-bot/internal/signal"
	"github.com/koofree/trading-bot/internal/trading"
)

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file")
	flag.Parse()

	// .env is optional; environment overrides still apply without it
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized", "level", cfg.Logging.Level)

	// Storage-facing packages log through zerolog
	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx := context.Background()

	// Database is optional; trades stay in memory without it
	var recorder *database.Repository
	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database, zlog)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		recorder = database.NewRepository(db)
		logger.Info("Database connected", "name", cfg.Database.Name)
	}

	// Redis is optional; market data is fetched fresh without it
	var marketCache *cache.MarketCache
	if cfg.Redis.Enabled {
		marketCache = cache.New(cfg.Redis, zlog)
		defer marketCache.Close()
	}

	var analyzer *llm.Analyzer
	if cfg.LLM.Enabled {
		client := llm.NewClient(&llm.ClientConfig{
			Provider: llm.Provider(cfg.LLM.Provider),
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
			BaseURL:  cfg.LLM.BaseURL,
			Timeout:  cfg.LLM.Timeout,
		})
		analyzer = llm.NewAnalyzer(client, logger)
		logger.Info("LLM sentiment analysis enabled", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	}

	var client exchange.Client
	if cfg.Upbit.DryRun {
		mock := exchange.NewMockClient()
		seedMockMarkets(mock, cfg.Trading.Markets)
		client = mock
		logger.Warn("Dry-run mode: trading against the mock exchange")
	} else {
		client = exchange.NewUpbitClient(&exchange.UpbitConfig{
			AccessKey: cfg.Upbit.AccessKey,
			SecretKey: cfg.Upbit.SecretKey,
			BaseURL:   cfg.Upbit.BaseURL,
		}, logger)
		logger.Info("Upbit client initialized")
	}

	generator := signalgen.NewGenerator(signalgen.Config{
		Weights:          cfg.Signals.Weights,
		MinConfidence:    cfg.Signals.MinConfidence,
		BasePositionSize: cfg.Signals.BasePositionSize,
		MaxPositionSize:  cfg.Signals.MaxPositionSize,
	}, logger)

	var engineRecorder trading.Recorder
	if recorder != nil {
		engineRecorder = recorder
	}
	engine := trading.NewEngine(trading.Config{
		MaxPositions:           cfg.Trading.MaxPositions,
		RiskPerTrade:           cfg.Trading.RiskPerTrade,
		DailyLossLimit:         cfg.Trading.DailyLossLimit,
		StopLossPct:            cfg.Trading.StopLossPct,
		TakeProfitPct:          cfg.Trading.TakeProfitPct,
		MinOrderSize:           cfg.Trading.MinOrderSize,
		MaxCorrelatedPositions: cfg.Trading.MaxCorrelatedPositions,
		PositionCheckInterval:  cfg.Trading.PositionCheckInterval,
	}, client, engineRecorder, logger)

	opts := bot.Options{
		Analyzer:    analyzer,
		Cache:       marketCache,
		LiveTickers: !cfg.Upbit.DryRun,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}

	system := bot.NewSystem(cfg, client, generator, engine, opts, logger)
	server := api.NewServer(cfg.Server, system, logger)
	system.SetBroadcaster(server.Hub())

	if err := system.Start(); err != nil {
		log.Fatalf("Failed to start trading system: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("API server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := system.Stop(); err != nil {
		logger.WithError(err).Warn("Trading system stop reported an error")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server shutdown reported an error")
	}
	logger.Info("Shutdown complete")
}

// seedMockMarkets gives the mock exchange a starting price history so
// dry runs produce signals immediately.
func seedMockMarkets(mock *exchange.MockClient, markets []string) {
	base := 100.0
	for _, market := range markets {
		candles := make([]exchange.Candle, 200)
		price := base
		ts := time.Now().Add(-200 * 15 * time.Minute)
		for i := range candles {
			next := price * 1.001
			candles[i] = exchange.Candle{
				Market:    market,
				Open:      price,
				High:      next * 1.001,
				Low:       price * 0.999,
				Close:     next,
				Volume:    100,
				Timestamp: ts.Add(time.Duration(i) * 15 * time.Minute),
			}
			price = next
		}
		mock.SetCandles(market, candles)
		base *= 10
	}
	mock.SetBalance("KRW", 10000000)
}
