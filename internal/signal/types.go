package signal

import (
	"time"

	"github.com/koofree/trading-bot/internal/preprocessor"
)

// SignalType is the trading action a signal recommends
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// TaggedSignal is an analyzer finding tagged with its source processor
type TaggedSignal struct {
	Processor string `json:"processor"`
	Signal    string `json:"signal"`
}

// CandlestickSummary is the candlestick analyzer's headline output
type CandlestickSummary struct {
	CurrentCandle  preprocessor.CurrentCandle  `json:"current_pattern"`
	PatternsFound  []preprocessor.Pattern      `json:"patterns_found"`
	CandleStrength preprocessor.CandleStrength `json:"candle_strength"`
}

// VolumeSummary is the volume analyzer's headline output
type VolumeSummary struct {
	OBVTrend    string  `json:"obv_trend"`
	VolumePhase string  `json:"volume_phase"`
	VolumeTrend string  `json:"volume_trend"`
	MFI         float64 `json:"mfi"`
}

// PriceActionSummary is the price action analyzer's headline output
type PriceActionSummary struct {
	Breakouts       preprocessor.Breakouts       `json:"breakouts"`
	KeyLevels       preprocessor.PriceLevels     `json:"key_levels"`
	MarketStructure preprocessor.MarketStructure `json:"market_structure"`
}

// TrendSummary is the trend analyzer's headline output
type TrendSummary struct {
	Direction    string                    `json:"direction"`
	Strength     float64                   `json:"strength"`
	MACrossovers preprocessor.Crossovers   `json:"ma_crossovers"`
	TrendChannel preprocessor.TrendChannel `json:"trend_channel"`
}

// VolatilitySummary is the volatility analyzer's headline output
type VolatilitySummary struct {
	Regime            string                      `json:"regime"`
	CurrentVolatility float64                     `json:"current_volatility"`
	BollingerBands    preprocessor.BollingerBands `json:"bollinger_bands"`
	ATR               preprocessor.ATRInfo        `json:"atr"`
}

// AnalysisSummary condenses the analyzer results a signal was built from
type AnalysisSummary struct {
	Signals     []TaggedSignal                `json:"signals"`
	Metrics     map[string]map[string]float64 `json:"metrics"`
	Candlestick *CandlestickSummary           `json:"candlestick,omitempty"`
	Volume      *VolumeSummary                `json:"volume,omitempty"`
	PriceAction *PriceActionSummary           `json:"price_action,omitempty"`
	Trend       *TrendSummary                 `json:"trend,omitempty"`
	Volatility  *VolatilitySummary            `json:"volatility,omitempty"`
}

// Sentiment is an LLM market sentiment assessment
type Sentiment struct {
	Score      float64 `json:"score"` // -1 (bearish) to 1 (bullish)
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// TradingSignal is a fused trading decision with its supporting analysis
type TradingSignal struct {
	Market     string           `json:"market"`
	Type       SignalType       `json:"signal_type"`
	Strength   float64          `json:"strength"`
	Price      float64          `json:"price"`
	Volume     float64          `json:"volume"` // position size as balance fraction
	Analysis   *AnalysisSummary `json:"preprocessor_analysis,omitempty"`
	LLMContext string           `json:"llm_context,omitempty"`
	Reasoning  string           `json:"reasoning"`
	Timestamp  time.Time        `json:"timestamp"`
}
