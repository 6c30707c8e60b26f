package preprocessor

import (
	"fmt"
	"math"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

// Pattern is a detected candlestick formation
type Pattern struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Strength string `json:"strength"`
	Position int    `json:"position"`
}

// KeyLevels holds support/resistance levels from recent extremes
type KeyLevels struct {
	Support     float64 `json:"support"`
	Resistance  float64 `json:"resistance"`
	Pivot       float64 `json:"pivot"`
	Support2    float64 `json:"support_2"`
	Resistance2 float64 `json:"resistance_2"`
}

// CurrentCandle describes the most recent candle's anatomy
type CurrentCandle struct {
	Type           string  `json:"type"`
	BodySize       float64 `json:"body_size"`
	BodyPercentage float64 `json:"body_percentage"`
	Range          float64 `json:"range"`
	UpperWick      float64 `json:"upper_wick"`
	LowerWick      float64 `json:"lower_wick"`
	ClosePosition  float64 `json:"close_position"`
}

// CandleStrength summarizes directional pressure over the window
type CandleStrength struct {
	BullishRatio    float64 `json:"bullish_ratio"`
	BearishRatio    float64 `json:"bearish_ratio"`
	AverageBodySize float64 `json:"average_body_size"`
	TrendSlope      float64 `json:"trend_slope"`
	TrendStrength   float64 `json:"trend_strength"`
	Momentum        string  `json:"momentum"`
}

// CandlestickProcessor identifies candlestick patterns and key levels
type CandlestickProcessor struct{}

// NewCandlestickProcessor creates a candlestick analyzer
func NewCandlestickProcessor() *CandlestickProcessor {
	return &CandlestickProcessor{}
}

func (p *CandlestickProcessor) Name() string { return "candlestick" }

func (p *CandlestickProcessor) Validate(candles []exchange.Candle) bool {
	return len(candles) > 0
}

func (p *CandlestickProcessor) Process(candles []exchange.Candle) *Result {
	patterns := p.identifyPatterns(candles)
	levels := p.findKeyLevels(candles)

	return &Result{
		ProcessorName: p.Name(),
		Timestamp:     time.Now(),
		Data: map[string]interface{}{
			"patterns":           patterns,
			"support_resistance": levels,
			"current_candle":     p.analyzeCurrentCandle(candles[len(candles)-1]),
			"candle_strength":    p.calculateCandleStrength(candles),
		},
		Metrics: p.calculateMetrics(candles),
		Signals: p.generateSignals(patterns, candles, levels),
		Metadata: map[string]interface{}{
			"total_candles": len(candles),
		},
	}
}

func bodyOf(c exchange.Candle) float64 {
	return math.Abs(c.Close - c.Open)
}

// shadows returns the upper and lower shadow lengths, measured from
// whichever of open/close is higher.
func shadows(c exchange.Candle) (upper, lower float64) {
	if c.Close > c.Open {
		return c.High - c.Close, c.Open - c.Low
	}
	return c.High - c.Open, c.Close - c.Low
}

func (p *CandlestickProcessor) calculateMetrics(candles []exchange.Candle) map[string]float64 {
	current := candles[len(candles)-1]

	body := bodyOf(current)
	fullRange := current.High - current.Low
	upper, lower := shadows(current)

	rangeSum := 0.0
	for _, c := range candles {
		rangeSum += c.High - c.Low
	}
	avgRange := rangeSum / float64(len(candles))

	return map[string]float64{
		"body_size":                body,
		"body_ratio":               safeDivide(body, fullRange, 0),
		"upper_shadow":             upper,
		"lower_shadow":             lower,
		"full_range":               fullRange,
		"average_range":            avgRange,
		"current_vs_average_range": safeDivide(fullRange, avgRange, 0),
	}
}

func (p *CandlestickProcessor) identifyPatterns(candles []exchange.Candle) []Pattern {
	var patterns []Pattern

	if len(candles) < 3 {
		return patterns
	}

	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	if isDoji(last) {
		patterns = append(patterns, Pattern{
			Name:     "doji",
			Type:     "reversal",
			Strength: "medium",
			Position: len(candles) - 1,
		})
	}

	if hammer := detectHammer(last, prev); hammer != nil {
		patterns = append(patterns, *hammer)
	}

	if engulfing := detectEngulfing(prev, last); engulfing != nil {
		patterns = append(patterns, *engulfing)
	}

	if three := detectThreePattern(candles[len(candles)-3:]); three != nil {
		patterns = append(patterns, *three)
	}

	return patterns
}

func isDoji(c exchange.Candle) bool {
	fullRange := c.High - c.Low
	if fullRange == 0 {
		return false
	}
	return bodyOf(c)/fullRange < 0.1
}

// detectHammer returns a hammer after a bearish candle or a hanging
// man after a bullish one.
func detectHammer(c, prev exchange.Candle) *Pattern {
	if c.High-c.Low == 0 {
		return nil
	}

	body := bodyOf(c)
	upper, lower := shadows(c)

	if lower > body*2 && upper < body {
		if prev.Close < prev.Open {
			return &Pattern{Name: "hammer", Type: "reversal_bullish", Strength: "strong", Position: -1}
		}
		return &Pattern{Name: "hanging_man", Type: "reversal_bearish", Strength: "medium", Position: -1}
	}
	return nil
}

func detectEngulfing(prev, current exchange.Candle) *Pattern {
	if prev.Close < prev.Open && current.Close > current.Open &&
		current.Open <= prev.Close && current.Close >= prev.Open {
		return &Pattern{Name: "bullish_engulfing", Type: "reversal_bullish", Strength: "strong", Position: -1}
	}

	if prev.Close > prev.Open && current.Close < current.Open &&
		current.Open >= prev.Close && current.Close <= prev.Open {
		return &Pattern{Name: "bearish_engulfing", Type: "reversal_bearish", Strength: "strong", Position: -1}
	}

	return nil
}

func detectThreePattern(last3 []exchange.Candle) *Pattern {
	if len(last3) != 3 {
		return nil
	}

	allBullish := true
	allBearish := true
	for _, c := range last3 {
		if c.Close <= c.Open {
			allBullish = false
		}
		if c.Close >= c.Open {
			allBearish = false
		}
	}

	if allBullish && last3[1].Close > last3[0].Close && last3[2].Close > last3[1].Close {
		return &Pattern{Name: "three_white_soldiers", Type: "continuation_bullish", Strength: "very_strong", Position: -1}
	}

	if allBearish && last3[1].Close < last3[0].Close && last3[2].Close < last3[1].Close {
		return &Pattern{Name: "three_black_crows", Type: "continuation_bearish", Strength: "very_strong", Position: -1}
	}

	return nil
}

func (p *CandlestickProcessor) findKeyLevels(candles []exchange.Candle) KeyLevels {
	hs := highs(candles)
	ls := lows(candles)
	currentPrice := candles[len(candles)-1].Close

	rollingHighs := rollingWindowMax(hs, 20)
	rollingLows := rollingWindowMin(ls, 20)

	// nearest support: most recent rolling low below current price
	support := minFloat(ls)
	for i := len(rollingLows) - 1; i >= 0; i-- {
		if !math.IsNaN(rollingLows[i]) && rollingLows[i] < currentPrice {
			support = rollingLows[i]
			break
		}
	}

	resistance := maxFloat(hs)
	for i := len(rollingHighs) - 1; i >= 0; i-- {
		if !math.IsNaN(rollingHighs[i]) && rollingHighs[i] > currentPrice {
			resistance = rollingHighs[i]
			break
		}
	}

	last := candles[len(candles)-1]

	support2 := minFloat(ls)
	resistance2 := maxFloat(hs)
	if len(candles) >= 50 {
		support2 = minFloat(tail(ls, 50))
		resistance2 = maxFloat(tail(hs, 50))
	}

	return KeyLevels{
		Support:     support,
		Resistance:  resistance,
		Pivot:       (last.High + last.Low + last.Close) / 3,
		Support2:    support2,
		Resistance2: resistance2,
	}
}

func rollingWindowMax(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = maxFloat(values[i-window+1 : i+1])
	}
	return out
}

func rollingWindowMin(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = minFloat(values[i-window+1 : i+1])
	}
	return out
}

func (p *CandlestickProcessor) analyzeCurrentCandle(c exchange.Candle) CurrentCandle {
	body := c.Close - c.Open

	candleType := "neutral"
	if body > 0 {
		candleType = "bullish"
	} else if body < 0 {
		candleType = "bearish"
	}

	closePosition := 0.5
	if c.High != c.Low {
		closePosition = (c.Close - c.Low) / (c.High - c.Low)
	}

	return CurrentCandle{
		Type:           candleType,
		BodySize:       math.Abs(body),
		BodyPercentage: math.Abs(body) / c.Open * 100,
		Range:          c.High - c.Low,
		UpperWick:      c.High - math.Max(c.Open, c.Close),
		LowerWick:      math.Min(c.Open, c.Close) - c.Low,
		ClosePosition:  closePosition,
	}
}

func (p *CandlestickProcessor) calculateCandleStrength(candles []exchange.Candle) CandleStrength {
	bullish, bearish := 0, 0
	bodySum := 0.0
	for _, c := range candles {
		if c.Close > c.Open {
			bullish++
		} else if c.Close < c.Open {
			bearish++
		}
		bodySum += bodyOf(c)
	}

	var trendSlope, trendStrength float64
	if len(candles) >= 5 {
		cs := closes(candles)
		trendSlope, _, _ = linearRegression(cs)
		trendStrength = math.Abs(trendSlope) / mean(cs) * 100
	}

	momentum := "neutral"
	if trendSlope > 0 {
		momentum = "bullish"
	} else if trendSlope < 0 {
		momentum = "bearish"
	}

	n := float64(len(candles))
	return CandleStrength{
		BullishRatio:    float64(bullish) / n,
		BearishRatio:    float64(bearish) / n,
		AverageBodySize: bodySum / n,
		TrendSlope:      trendSlope,
		TrendStrength:   trendStrength,
		Momentum:        momentum,
	}
}

func (p *CandlestickProcessor) generateSignals(patterns []Pattern, candles []exchange.Candle, levels KeyLevels) []string {
	var signals []string

	for _, pattern := range patterns {
		switch pattern.Type {
		case "reversal_bullish":
			signals = append(signals, fmt.Sprintf("Bullish reversal pattern detected: %s", pattern.Name))
		case "reversal_bearish":
			signals = append(signals, fmt.Sprintf("Bearish reversal pattern detected: %s", pattern.Name))
		case "continuation_bullish":
			signals = append(signals, fmt.Sprintf("Bullish continuation pattern: %s", pattern.Name))
		case "continuation_bearish":
			signals = append(signals, fmt.Sprintf("Bearish continuation pattern: %s", pattern.Name))
		}
	}

	currentPrice := candles[len(candles)-1].Close
	if currentPrice <= levels.Support*1.01 {
		signals = append(signals, "Price near support level")
	} else if currentPrice >= levels.Resistance*0.99 {
		signals = append(signals, "Price near resistance level")
	}

	return signals
}
