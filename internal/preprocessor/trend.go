package preprocessor

import (
	"math"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

// LinearRegressionFit summarizes an OLS fit of close vs bar index
type LinearRegressionFit struct {
	Slope      float64 `json:"slope"`
	Intercept  float64 `json:"intercept"`
	RSquared   float64 `json:"r_squared"`
	Prediction float64 `json:"prediction"`
}

// TrendChange marks a direction flip between adjacent sliding windows
type TrendChange struct {
	Position  int    `json:"position"`
	FromTrend string `json:"from_trend"`
	ToTrend   string `json:"to_trend"`
}

// Crossover marks an SMA20/SMA50 crossing
type Crossover struct {
	Position int     `json:"position"`
	Type     string  `json:"type"`
	MA20     float64 `json:"ma20"`
	MA50     float64 `json:"ma50"`
}

// Crossovers holds the most recent golden/death crosses, if any
type Crossovers struct {
	GoldenCross *Crossover `json:"golden_cross,omitempty"`
	DeathCross  *Crossover `json:"death_cross,omitempty"`
}

// TrendChannel is the regression line plus/minus two residual sigmas
type TrendChannel struct {
	Upper             float64 `json:"upper_channel"`
	Lower             float64 `json:"lower_channel"`
	Width             float64 `json:"channel_width"`
	PositionInChannel float64 `json:"position_in_channel"`
}

// TimeframeAlignment reports trend agreement across window sizes
type TimeframeAlignment struct {
	Trend     string  `json:"trend"`
	Strength  float64 `json:"strength"`
	Alignment string  `json:"alignment"`
}

// TrendProcessor analyzes market trends with regression-based methods
type TrendProcessor struct{}

// NewTrendProcessor creates a trend analyzer
func NewTrendProcessor() *TrendProcessor {
	return &TrendProcessor{}
}

func (p *TrendProcessor) Name() string { return "trend" }

func (p *TrendProcessor) Validate(candles []exchange.Candle) bool {
	return len(candles) > 0
}

func (p *TrendProcessor) Process(candles []exchange.Candle) *Result {
	cs := closes(candles)
	direction := classifyTrend(cs)

	return &Result{
		ProcessorName: p.Name(),
		Timestamp:     time.Now(),
		Data: map[string]interface{}{
			"trend":            direction,
			"trend_direction":  direction,
			"moving_averages":  p.calculateMovingAverages(cs),
			"trend_strength":   trendStrength(cs),
			"linear_regression": p.calculateLinearRegression(cs),
			"trend_changes":    p.detectTrendChanges(cs),
			"ma_crossovers":    p.detectMACrossovers(cs),
			"trend_channel":    p.calculateTrendChannel(cs),
			"higher_timeframe": p.analyzeHigherTimeframe(cs),
		},
		Metrics: map[string]float64{
			"trend_score":       p.calculateTrendScore(cs),
			"trend_consistency": trendConsistency(cs),
			"trend_momentum":    trendMomentum(cs),
		},
		Signals: p.generateSignals(cs),
	}
}

// classifyTrend labels the series uptrend/downtrend/sideways. An OLS
// fit must explain at least half the variance and its slope must clear
// a volatility-scaled threshold before a trend is called.
func classifyTrend(cs []float64) string {
	if len(cs) < 20 {
		return "insufficient_data"
	}

	slope, _, rSquared := linearRegression(cs)

	priceRange := maxFloat(cs) - minFloat(cs)
	volatility := stdDev(pctChanges(cs)) * 100

	baseThreshold := priceRange / float64(len(cs)) * 0.1
	threshold := baseThreshold * (1 + volatility*0.02)

	if rSquared < 0.5 {
		return "sideways"
	}
	if slope > threshold {
		return "uptrend"
	}
	if slope < -threshold {
		return "downtrend"
	}
	return "sideways"
}

// trendStrength is the signed R-squared in [-100, 100]
func trendStrength(cs []float64) float64 {
	if len(cs) < 20 {
		return 0
	}

	slope, _, rSquared := linearRegression(cs)
	strength := rSquared * 100
	if slope < 0 {
		strength = -strength
	}
	return clamp(strength, -100, 100)
}

func (p *TrendProcessor) calculateMovingAverages(cs []float64) map[string]float64 {
	mas := make(map[string]float64)

	for _, period := range []int{10, 20, 50, 200} {
		if len(cs) >= period {
			value := mean(tail(cs, period))
			mas[maKey("ma", period)] = value
			mas[maKey("sma", period)] = value
		}
	}

	for _, period := range []int{20, 50} {
		if len(cs) >= period {
			mas[maKey("ema", period)] = ema(cs, period)
		}
	}

	return mas
}

func maKey(prefix string, period int) string {
	switch period {
	case 10:
		return prefix + "_10"
	case 20:
		return prefix + "_20"
	case 50:
		return prefix + "_50"
	default:
		return prefix + "_200"
	}
}

func (p *TrendProcessor) calculateTrendScore(cs []float64) float64 {
	if len(cs) < 20 {
		return 0
	}

	score := 0.0
	current := cs[len(cs)-1]

	ma20 := mean(tail(cs, 20))
	if current > ma20 {
		score += 25
	} else {
		score -= 25
	}

	if len(cs) >= 50 {
		ma50 := mean(tail(cs, 50))
		if current > ma50 {
			score += 25
		} else {
			score -= 25
		}
	}

	switch classifyTrend(cs) {
	case "uptrend":
		score += 50
	case "downtrend":
		score -= 50
	}

	return score
}

func (p *TrendProcessor) calculateLinearRegression(cs []float64) LinearRegressionFit {
	if len(cs) < 10 {
		return LinearRegressionFit{}
	}

	slope, intercept, rSquared := linearRegression(cs)
	return LinearRegressionFit{
		Slope:      slope,
		Intercept:  intercept,
		RSquared:   clamp(rSquared, 0, 1),
		Prediction: slope*float64(len(cs)) + intercept,
	}
}

// detectTrendChanges slope-classifies half-overlapping sliding windows
// and reports direction flips between adjacent windows.
func (p *TrendProcessor) detectTrendChanges(cs []float64) []TrendChange {
	var changes []TrendChange

	if len(cs) < 30 {
		return changes
	}

	windowSize := len(cs) / 4
	if windowSize > 20 {
		windowSize = 20
	}

	type windowTrend struct {
		direction string
		position  int
	}
	var trends []windowTrend

	for i := windowSize; i < len(cs); i += windowSize / 2 {
		slope, _, _ := linearRegression(cs[i-windowSize : i])

		direction := "sideways"
		if slope > 0.1 {
			direction = "uptrend"
		} else if slope < -0.1 {
			direction = "downtrend"
		}
		trends = append(trends, windowTrend{direction, i})
	}

	for i := 1; i < len(trends); i++ {
		if trends[i].direction != trends[i-1].direction {
			changes = append(changes, TrendChange{
				Position:  trends[i].position,
				FromTrend: trends[i-1].direction,
				ToTrend:   trends[i].direction,
			})
		}
	}

	if len(changes) > 5 {
		changes = changes[len(changes)-5:]
	}
	return changes
}

func (p *TrendProcessor) detectMACrossovers(cs []float64) Crossovers {
	var crossovers Crossovers

	if len(cs) < 50 {
		return crossovers
	}

	ma20 := rollingMean(cs, 20)
	ma50 := rollingMean(cs, 50)

	for i := len(cs) - 10; i < len(cs); i++ {
		if i <= 0 || math.IsNaN(ma50[i]) || math.IsNaN(ma50[i-1]) {
			continue
		}

		if ma20[i] > ma50[i] && ma20[i-1] <= ma50[i-1] {
			crossovers.GoldenCross = &Crossover{
				Position: i, Type: "golden_cross", MA20: ma20[i], MA50: ma50[i],
			}
		} else if ma20[i] < ma50[i] && ma20[i-1] >= ma50[i-1] {
			crossovers.DeathCross = &Crossover{
				Position: i, Type: "death_cross", MA20: ma20[i], MA50: ma50[i],
			}
		}
	}

	return crossovers
}

func (p *TrendProcessor) calculateTrendChannel(cs []float64) TrendChannel {
	if len(cs) < 20 {
		return TrendChannel{PositionInChannel: 0.5}
	}

	slope, intercept, _ := linearRegression(cs)

	residuals := make([]float64, len(cs))
	for i, v := range cs {
		residuals[i] = v - (slope*float64(i) + intercept)
	}
	sigma := popStdDev(residuals)

	trendEnd := slope*float64(len(cs)-1) + intercept
	upper := trendEnd + 2*sigma
	lower := trendEnd - 2*sigma
	width := upper - lower

	position := 0.5
	if width > 0 {
		position = (cs[len(cs)-1] - lower) / width
	}

	return TrendChannel{
		Upper:             upper,
		Lower:             lower,
		Width:             width,
		PositionInChannel: clamp(position, 0, 1),
	}
}

func (p *TrendProcessor) analyzeHigherTimeframe(cs []float64) TimeframeAlignment {
	if len(cs) < 50 {
		return TimeframeAlignment{Trend: "insufficient_data", Alignment: "neutral"}
	}

	trends := []string{
		classifyTrend(tail(cs, 20)),
		classifyTrend(tail(cs, 50)),
		classifyTrend(cs),
	}

	up, down := 0, 0
	for _, t := range trends {
		if t == "uptrend" {
			up++
		} else if t == "downtrend" {
			down++
		}
	}

	alignment := "neutral"
	strength := 30.0
	switch {
	case up == len(trends):
		alignment = "bullish_aligned"
		strength = 90
	case down == len(trends):
		alignment = "bearish_aligned"
		strength = 90
	case up > down:
		alignment = "bullish_mixed"
		strength = 60
	case down > up:
		alignment = "bearish_mixed"
		strength = 60
	}

	return TimeframeAlignment{
		Trend:     trends[2],
		Strength:  strength,
		Alignment: alignment,
	}
}

func trendConsistency(cs []float64) float64 {
	if len(cs) < 20 {
		return 0
	}
	_, _, rSquared := linearRegression(cs)
	return clamp(rSquared, 0, 1)
}

func trendMomentum(cs []float64) float64 {
	if len(cs) < 10 {
		return 0
	}

	recent := tail(cs, 10)
	var older []float64
	if len(cs) >= 20 {
		older = cs[len(cs)-20 : len(cs)-10]
	} else {
		older = cs[:10]
	}

	recentSlope, _, _ := linearRegression(recent)
	olderSlope, _, _ := linearRegression(older)

	return clamp((recentSlope-olderSlope)*10, -100, 100)
}

func (p *TrendProcessor) generateSignals(cs []float64) []string {
	var signals []string

	trend := classifyTrend(cs)
	strength := math.Abs(trendStrength(cs))

	switch trend {
	case "uptrend":
		if strength > 70 {
			signals = append(signals, "Strong bullish uptrend detected")
		} else {
			signals = append(signals, "Bullish uptrend in progress")
		}
	case "downtrend":
		if strength > 70 {
			signals = append(signals, "Strong bearish downtrend detected")
		} else {
			signals = append(signals, "Bearish downtrend in progress")
		}
	case "sideways":
		signals = append(signals, "Market ranging sideways")
	}

	if len(cs) >= 50 {
		mas := p.calculateMovingAverages(cs)
		if mas["ma_20"] > mas["ma_50"] {
			signals = append(signals, "Short MA above long MA - bullish")
		} else {
			signals = append(signals, "Short MA below long MA - bearish")
		}
	}

	return signals
}
