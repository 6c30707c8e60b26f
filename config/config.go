package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Upbit    UpbitConfig    `json:"upbit"`
	Trading  TradingConfig  `json:"trading"`
	Signals  SignalConfig   `json:"signals"`
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	LLM      LLMConfig      `json:"llm"`
	Logging  LoggingConfig  `json:"logging"`
}

// UpbitConfig holds Upbit exchange API configuration
type UpbitConfig struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	WSUrl     string `json:"ws_url"`
	DryRun    bool   `json:"dry_run"` // paper trading against the mock client
}

// TradingConfig holds execution engine parameters
type TradingConfig struct {
	Markets                []string      `json:"markets"`          // e.g. ["KRW-ETH"]
	MaxPositions           int           `json:"max_positions"`    // concurrent open position cap
	RiskPerTrade           float64       `json:"risk_per_trade"`   // fraction of balance risked per trade
	DailyLossLimit         float64       `json:"daily_loss_limit"` // fraction of balance, halts new entries
	StopLossPct            float64       `json:"stop_loss_pct"`    // 0.03 = 3%
	TakeProfitPct          float64       `json:"take_profit_pct"`  // 0.06 = 6%
	MinOrderSize           float64       `json:"min_order_size"`   // exchange minimum notional in KRW
	MaxCorrelatedPositions int           `json:"max_correlated_positions"`
	SignalCheckInterval    time.Duration `json:"signal_check_interval"`
	PositionCheckInterval  time.Duration `json:"position_check_interval"`
	MarketDataInterval     time.Duration `json:"market_data_interval"`
	CandleUnit             int           `json:"candle_unit"`  // minutes per candle
	CandleCount            int           `json:"candle_count"` // candles fetched per analysis cycle
}

// SignalConfig holds signal generation parameters
type SignalConfig struct {
	MinConfidence    float64            `json:"min_confidence"`
	BasePositionSize float64            `json:"base_position_size"`
	MaxPositionSize  float64            `json:"max_position_size"`
	Weights          map[string]float64 `json:"weights"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	CORSOrigins  []string      `json:"cors_origins"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int32  `json:"max_conns"`
}

// ConnString returns a pgx connection string
func (d *DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisConfig holds Redis cache configuration
type RedisConfig struct {
	Enabled  bool          `json:"enabled"`
	Addr     string        `json:"addr"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
}

// LLMConfig holds the sentiment analysis service configuration
type LLMConfig struct {
	Enabled  bool          `json:"enabled"`
	Provider string        `json:"provider"`
	BaseURL  string        `json:"base_url"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"`
	JSONFormat bool   `json:"json_format"`
}

// Default returns a Config populated with sane defaults
func Default() *Config {
	return &Config{
		Upbit: UpbitConfig{
			BaseURL: "https://api.upbit.com",
			WSUrl:   "wss://api.upbit.com/websocket/v1",
			DryRun:  true,
		},
		Trading: TradingConfig{
			Markets:                []string{"KRW-ETH"},
			MaxPositions:           5,
			RiskPerTrade:           0.01,
			DailyLossLimit:         0.05,
			StopLossPct:            0.03,
			TakeProfitPct:          0.06,
			MinOrderSize:           5000,
			MaxCorrelatedPositions: 2,
			SignalCheckInterval:    15 * time.Second,
			PositionCheckInterval:  10 * time.Second,
			MarketDataInterval:     5 * time.Second,
			CandleUnit:             60,
			CandleCount:            200,
		},
		Signals: SignalConfig{
			MinConfidence:    0.6,
			BasePositionSize: 0.02,
			MaxPositionSize:  0.1,
			Weights: map[string]float64{
				"candlestick":  0.15,
				"volume":       0.15,
				"price_action": 0.25,
				"trend":        0.25,
				"volatility":   0.10,
				"llm":          0.10,
			},
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "trading",
			Password: "trading",
			Name:     "trading_bot",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
			TTL:     30 * time.Second,
		},
		LLM: LLMConfig{
			Enabled:  false,
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// Load reads configuration from a JSON file and applies environment
// variable overrides. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Upbit.AccessKey = getEnvOrDefault("UPBIT_ACCESS_KEY", c.Upbit.AccessKey)
	c.Upbit.SecretKey = getEnvOrDefault("UPBIT_SECRET_KEY", c.Upbit.SecretKey)
	c.Upbit.BaseURL = getEnvOrDefault("UPBIT_BASE_URL", c.Upbit.BaseURL)
	c.Upbit.DryRun = getEnvBoolOrDefault("UPBIT_DRY_RUN", c.Upbit.DryRun)

	if markets := os.Getenv("TRADING_MARKETS"); markets != "" {
		c.Trading.Markets = splitAndTrim(markets)
	}
	c.Trading.MaxPositions = getEnvIntOrDefault("TRADING_MAX_POSITIONS", c.Trading.MaxPositions)
	c.Trading.RiskPerTrade = getEnvFloatOrDefault("TRADING_RISK_PER_TRADE", c.Trading.RiskPerTrade)
	c.Trading.DailyLossLimit = getEnvFloatOrDefault("TRADING_DAILY_LOSS_LIMIT", c.Trading.DailyLossLimit)
	c.Trading.StopLossPct = getEnvFloatOrDefault("TRADING_STOP_LOSS_PCT", c.Trading.StopLossPct)
	c.Trading.TakeProfitPct = getEnvFloatOrDefault("TRADING_TAKE_PROFIT_PCT", c.Trading.TakeProfitPct)
	c.Trading.SignalCheckInterval = getEnvDurationOrDefault("TRADING_SIGNAL_INTERVAL", c.Trading.SignalCheckInterval)
	c.Trading.PositionCheckInterval = getEnvDurationOrDefault("TRADING_POSITION_INTERVAL", c.Trading.PositionCheckInterval)

	c.Signals.MinConfidence = getEnvFloatOrDefault("SIGNALS_MIN_CONFIDENCE", c.Signals.MinConfidence)

	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvIntOrDefault("SERVER_PORT", c.Server.Port)

	c.Database.Enabled = getEnvBoolOrDefault("DATABASE_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnvOrDefault("DATABASE_HOST", c.Database.Host)
	c.Database.Port = getEnvIntOrDefault("DATABASE_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DATABASE_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DATABASE_PASSWORD", c.Database.Password)
	c.Database.Name = getEnvOrDefault("DATABASE_NAME", c.Database.Name)

	c.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)

	c.LLM.Enabled = getEnvBoolOrDefault("LLM_ENABLED", c.LLM.Enabled)
	c.LLM.Provider = getEnvOrDefault("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.BaseURL = getEnvOrDefault("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnvOrDefault("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnvOrDefault("LLM_MODEL", c.LLM.Model)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if len(c.Trading.Markets) == 0 {
		return fmt.Errorf("at least one trading market is required")
	}
	if c.Trading.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive, got %d", c.Trading.MaxPositions)
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_pct must be in (0, 1), got %f", c.Trading.StopLossPct)
	}
	if c.Trading.TakeProfitPct <= 0 || c.Trading.TakeProfitPct >= 1 {
		return fmt.Errorf("take_profit_pct must be in (0, 1), got %f", c.Trading.TakeProfitPct)
	}
	if c.Signals.MinConfidence < 0 || c.Signals.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0, 1], got %f", c.Signals.MinConfidence)
	}
	if c.Signals.MaxPositionSize < c.Signals.BasePositionSize {
		return fmt.Errorf("max_position_size must be >= base_position_size")
	}
	if !c.Upbit.DryRun && (c.Upbit.AccessKey == "" || c.Upbit.SecretKey == "") {
		return fmt.Errorf("upbit access_key and secret_key are required for live trading")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
