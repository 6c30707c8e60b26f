package signal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
	"github.com/koofree/trading-bot/internal/logging"
	"github.com/koofree/trading-bot/internal/preprocessor"
)

// DefaultWeights is the per-processor contribution to the fused score
var DefaultWeights = map[string]float64{
	"candlestick":  0.15,
	"volume":       0.15,
	"price_action": 0.25,
	"trend":        0.25,
	"volatility":   0.10,
	"llm":          0.10,
}

var bullishWords = []string{"bullish", "buy", "uptrend", "accumulation"}
var bearishWords = []string{"bearish", "sell", "downtrend", "distribution"}

// Config controls signal fusion thresholds and sizing
type Config struct {
	Processors       []string
	Weights          map[string]float64
	MinConfidence    float64
	MinCandles       int
	BasePositionSize float64
	MaxPositionSize  float64
}

// Generator fuses analyzer results and LLM sentiment into trading signals
type Generator struct {
	cfg          Config
	orchestrator *preprocessor.Orchestrator
	logger       *logging.Logger
}

// NewGenerator creates a signal generator with the given fusion config.
// Zero-valued config fields fall back to defaults.
func NewGenerator(cfg Config, logger *logging.Logger) *Generator {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.6
	}
	if cfg.MinCandles == 0 {
		cfg.MinCandles = 50
	}
	if cfg.BasePositionSize == 0 {
		cfg.BasePositionSize = 0.02
	}
	if cfg.MaxPositionSize == 0 {
		cfg.MaxPositionSize = 0.1
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Generator{
		cfg:          cfg,
		orchestrator: preprocessor.NewOrchestrator(cfg.Processors),
		logger:       logger.WithComponent("signal-generator"),
	}
}

func (g *Generator) weight(processor string) float64 {
	if w, ok := g.cfg.Weights[processor]; ok {
		return w
	}
	return 0.1
}

// Generate fuses analyzer output over the candle window, optionally
// blended with LLM sentiment, into a trading signal. currentPrice of 0
// falls back to the last close.
func (g *Generator) Generate(market string, candles []exchange.Candle, currentPrice float64, sentiment *Sentiment) *TradingSignal {
	price := currentPrice
	if price == 0 && len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}

	if len(candles) < g.cfg.MinCandles {
		g.logger.Warn("Window too short for analysis",
			"market", market, "candles", len(candles), "required", g.cfg.MinCandles)
		return &TradingSignal{
			Market:    market,
			Type:      SignalHold,
			Strength:  0,
			Price:     price,
			Volume:    0,
			Reasoning: "HOLD signal based on insufficient data",
			Timestamp: time.Now(),
		}
	}

	results := g.orchestrator.ProcessAll(candles)
	analysis := g.extractSummary(results)
	llmContext := g.formatForLLM(analysis, candles)

	buyScore, sellScore, reasons := g.calculateScores(analysis, sentiment)
	signalType, strength := g.determineSignal(buyScore, sellScore)

	g.logger.Info("Signal determined",
		"market", market,
		"signal", string(signalType),
		"buy_score", fmt.Sprintf("%.2f", buyScore),
		"sell_score", fmt.Sprintf("%.2f", sellScore),
		"strength", fmt.Sprintf("%.2f", strength))

	return &TradingSignal{
		Market:     market,
		Type:       signalType,
		Strength:   strength,
		Price:      price,
		Volume:     g.positionSize(strength),
		Analysis:   analysis,
		LLMContext: llmContext,
		Reasoning:  g.buildReasoning(signalType, reasons, analysis),
		Timestamp:  time.Now(),
	}
}

// extractSummary pulls the headline fields each analyzer produced
func (g *Generator) extractSummary(results map[string]*preprocessor.Result) *AnalysisSummary {
	summary := &AnalysisSummary{Metrics: make(map[string]map[string]float64)}

	for _, name := range g.orchestrator.Processors() {
		result, ok := results[name]
		if !ok || !result.IsValid() {
			continue
		}

		for _, s := range result.Signals {
			summary.Signals = append(summary.Signals, TaggedSignal{Processor: name, Signal: s})
		}
		summary.Metrics[name] = result.Metrics

		switch name {
		case "candlestick":
			cs := &CandlestickSummary{}
			if v, ok := result.Data["current_candle"].(preprocessor.CurrentCandle); ok {
				cs.CurrentCandle = v
			}
			if v, ok := result.Data["patterns"].([]preprocessor.Pattern); ok {
				cs.PatternsFound = v
			}
			if v, ok := result.Data["candle_strength"].(preprocessor.CandleStrength); ok {
				cs.CandleStrength = v
			}
			summary.Candlestick = cs

		case "volume":
			vs := &VolumeSummary{}
			if v, ok := result.Data["indicators"].(preprocessor.VolumeIndicators); ok {
				vs.OBVTrend = v.OBVTrend
				vs.MFI = v.MFI
			}
			if v, ok := result.Data["patterns"].(preprocessor.VolumePatterns); ok {
				vs.VolumePhase = v.Phase
				vs.VolumeTrend = v.VolumeTrend
			}
			summary.Volume = vs

		case "price_action":
			pa := &PriceActionSummary{}
			if v, ok := result.Data["breakouts"].(preprocessor.Breakouts); ok {
				pa.Breakouts = v
			}
			if v, ok := result.Data["key_levels"].(preprocessor.PriceLevels); ok {
				pa.KeyLevels = v
			}
			if v, ok := result.Data["market_structure"].(preprocessor.MarketStructure); ok {
				pa.MarketStructure = v
			}
			summary.PriceAction = pa

		case "trend":
			ts := &TrendSummary{}
			if v, ok := result.Data["trend_direction"].(string); ok {
				ts.Direction = v
			}
			if v, ok := result.Data["trend_strength"].(float64); ok {
				ts.Strength = v
			}
			if v, ok := result.Data["ma_crossovers"].(preprocessor.Crossovers); ok {
				ts.MACrossovers = v
			}
			if v, ok := result.Data["trend_channel"].(preprocessor.TrendChannel); ok {
				ts.TrendChannel = v
			}
			summary.Trend = ts

		case "volatility":
			vo := &VolatilitySummary{}
			if v, ok := result.Data["volatility_regime"].(string); ok {
				vo.Regime = v
			}
			if v, ok := result.Data["current_volatility"].(float64); ok {
				vo.CurrentVolatility = v
			}
			if v, ok := result.Data["bollinger_bands"].(preprocessor.BollingerBands); ok {
				vo.BollingerBands = v
			}
			if v, ok := result.Data["atr"].(preprocessor.ATRInfo); ok {
				vo.ATR = v
			}
			summary.Volatility = vo
		}
	}

	return summary
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// calculateScores accumulates weighted buy and sell evidence
func (g *Generator) calculateScores(analysis *AnalysisSummary, sentiment *Sentiment) (float64, float64, []string) {
	var buyScore, sellScore float64
	var reasons []string

	for _, tagged := range analysis.Signals {
		text := strings.ToLower(tagged.Signal)
		w := g.weight(tagged.Processor)

		if containsAny(text, bullishWords) {
			buyScore += w
			reasons = append(reasons, fmt.Sprintf("[%s] %s", tagged.Processor, tagged.Signal))
		} else if containsAny(text, bearishWords) {
			sellScore += w
			reasons = append(reasons, fmt.Sprintf("[%s] %s", tagged.Processor, tagged.Signal))
		}
	}

	if trend := analysis.Trend; trend != nil {
		strength := math.Abs(trend.Strength)
		if trend.Direction == "uptrend" && strength > 50 {
			buyScore += g.weight("trend") * strength / 100
			reasons = append(reasons, fmt.Sprintf("Strong uptrend (strength: %.1f)", strength))
		} else if trend.Direction == "downtrend" && strength > 50 {
			sellScore += g.weight("trend") * strength / 100
			reasons = append(reasons, fmt.Sprintf("Strong downtrend (strength: %.1f)", strength))
		}
	}

	if pa := analysis.PriceAction; pa != nil {
		if pa.Breakouts.ResistanceBreak != nil {
			buyScore += g.weight("price_action") * 0.5
			reasons = append(reasons, "Resistance breakout detected")
		} else if pa.Breakouts.SupportBreak != nil {
			sellScore += g.weight("price_action") * 0.5
			reasons = append(reasons, "Support breakdown detected")
		}
	}

	if vol := analysis.Volume; vol != nil {
		if vol.VolumePhase == "accumulation" {
			buyScore += g.weight("volume") * 0.5
			reasons = append(reasons, "Volume accumulation phase")
		} else if vol.VolumePhase == "distribution" {
			sellScore += g.weight("volume") * 0.5
			reasons = append(reasons, "Volume distribution phase")
		}
	}

	if v := analysis.Volatility; v != nil && (v.Regime == "high" || v.Regime == "extreme") {
		buyScore *= 0.8
		sellScore *= 0.8
		reasons = append(reasons, fmt.Sprintf("Signal adjusted for %s volatility", v.Regime))
	}

	if sentiment != nil {
		llmWeight := g.weight("llm")
		switch {
		case sentiment.Score > 0.3:
			buyScore += sentiment.Score * llmWeight
			reasons = append(reasons, fmt.Sprintf("Positive LLM sentiment (%.2f)", sentiment.Score))
		case sentiment.Score < -0.3:
			sellScore += math.Abs(sentiment.Score) * llmWeight
			reasons = append(reasons, fmt.Sprintf("Negative LLM sentiment (%.2f)", sentiment.Score))
		default:
			reasons = append(reasons, fmt.Sprintf("LLM sentiment analysis (%.2f)", sentiment.Score))
		}
	}

	return buyScore, sellScore, reasons
}

// determineSignal picks the signal type; a side must clear min
// confidence and beat the other side by 20% to fire.
func (g *Generator) determineSignal(buyScore, sellScore float64) (SignalType, float64) {
	if buyScore > g.cfg.MinConfidence && buyScore > sellScore*1.2 {
		return SignalBuy, math.Min(buyScore, 1.0)
	}
	if sellScore > g.cfg.MinConfidence && sellScore > buyScore*1.2 {
		return SignalSell, math.Min(sellScore, 1.0)
	}
	// keep the near-miss magnitude visible
	return SignalHold, math.Max(buyScore, sellScore)
}

// positionSize scales the base size with strength: 50% fixed plus
// 50% variable, capped at the maximum.
func (g *Generator) positionSize(strength float64) float64 {
	size := g.cfg.BasePositionSize * (0.5 + strength*0.5)
	return math.Min(size, g.cfg.MaxPositionSize)
}

// buildReasoning renders the signal rationale, LLM sentiment first
func (g *Generator) buildReasoning(signalType SignalType, reasons []string, analysis *AnalysisSummary) string {
	if len(reasons) == 0 {
		return fmt.Sprintf("%s signal based on neutral market conditions", signalType)
	}

	parts := []string{fmt.Sprintf("%s signal generated based on:", signalType)}

	var llmReasons, otherReasons []string
	for _, r := range reasons {
		if strings.Contains(strings.ToLower(r), "llm sentiment") {
			llmReasons = append(llmReasons, r)
		} else {
			otherReasons = append(otherReasons, r)
		}
	}
	prioritized := append(llmReasons, otherReasons...)
	if len(prioritized) > 5 {
		prioritized = prioritized[:5]
	}
	for _, r := range prioritized {
		parts = append(parts, "- "+r)
	}

	regime := ""
	if analysis.Volatility != nil {
		regime = analysis.Volatility.Regime
	}
	if regime != "" {
		parts = append(parts, fmt.Sprintf("- Market volatility: %s", regime))
	}

	if signalType != SignalHold {
		if regime == "high" || regime == "extreme" {
			parts = append(parts, "Warning: high volatility - use strict risk management")
		} else if len(reasons) < 2 {
			parts = append(parts, "Warning: limited confirming signals - consider smaller position")
		}
	}

	return strings.Join(parts, "\n")
}

// formatForLLM renders the analysis as a prompt for sentiment review
func (g *Generator) formatForLLM(analysis *AnalysisSummary, candles []exchange.Candle) string {
	currentPrice := candles[len(candles)-1].Close
	var change24h float64
	if len(candles) >= 24 {
		base := candles[len(candles)-24].Close
		if base != 0 {
			change24h = (currentPrice - base) / base * 100
		}
	}

	phase := "Unknown"
	if analysis.Volume != nil && analysis.Volume.VolumePhase != "" {
		phase = analysis.Volume.VolumePhase
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Market Analysis Summary\n\n")
	fmt.Fprintf(&b, "### Current Market State\n")
	fmt.Fprintf(&b, "- Current Price: %.2f\n", currentPrice)
	fmt.Fprintf(&b, "- 24h Change: %+.2f%%\n", change24h)
	fmt.Fprintf(&b, "- Market Phase: %s\n\n", phase)
	fmt.Fprintf(&b, "### Technical Indicators\n")

	if t := analysis.Trend; t != nil {
		fmt.Fprintf(&b, "\n#### Trend\n- Direction: %s\n- Strength: %.1f\n", t.Direction, t.Strength)
	}
	if v := analysis.Volume; v != nil {
		fmt.Fprintf(&b, "\n#### Volume\n- OBV Trend: %s\n- Volume Phase: %s\n- MFI: %.1f\n",
			v.OBVTrend, v.VolumePhase, v.MFI)
	}
	if v := analysis.Volatility; v != nil {
		fmt.Fprintf(&b, "\n#### Volatility\n- Regime: %s\n- Current Volatility: %.2f%%\n",
			v.Regime, v.CurrentVolatility)
	}

	fmt.Fprintf(&b, "\n### Key Patterns Detected\n")
	if c := analysis.Candlestick; c != nil && len(c.PatternsFound) > 0 {
		fmt.Fprintf(&b, "#### Candlestick Patterns\n")
		patterns := c.PatternsFound
		if len(patterns) > 3 {
			patterns = patterns[:3]
		}
		for _, p := range patterns {
			fmt.Fprintf(&b, "- %s (%s)\n", p.Name, p.Type)
		}
	}
	if pa := analysis.PriceAction; pa != nil {
		bo := pa.Breakouts
		if bo.ResistanceBreak != nil || bo.SupportBreak != nil || bo.RangeBreak != nil {
			fmt.Fprintf(&b, "#### Breakouts\n")
			if bo.ResistanceBreak != nil {
				fmt.Fprintf(&b, "- resistance_break: level %.2f\n", bo.ResistanceBreak.Level)
			}
			if bo.SupportBreak != nil {
				fmt.Fprintf(&b, "- support_break: level %.2f\n", bo.SupportBreak.Level)
			}
			if bo.RangeBreak != nil {
				fmt.Fprintf(&b, "- range_break: %s (%.2f%%)\n", bo.RangeBreak.Direction, bo.RangeBreak.Magnitude)
			}
		}
	}

	fmt.Fprintf(&b, "\n### Trading Signals\n")
	signals := analysis.Signals
	if len(signals) > 5 {
		signals = signals[:5]
	}
	for _, s := range signals {
		fmt.Fprintf(&b, "- [%s] %s\n", s.Processor, s.Signal)
	}

	b.WriteString(`
### Analysis Request
Based on the above technical analysis, provide:
1. Market sentiment assessment (bullish/bearish/neutral)
2. Key support and resistance levels to watch
3. Recommended trading action with risk assessment
4. Any additional insights or warnings
`)

	return b.String()
}
