package preprocessor

import (
	"fmt"
	"math"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

// BollingerBands is the SMA20 plus/minus two sigma envelope
type BollingerBands struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	Width    float64 `json:"width"`
	Position float64 `json:"position"` // 0 = lower band, 1 = upper band
}

// ATRInfo holds Average True Range statistics
type ATRInfo struct {
	Current    float64 `json:"current"`
	Average    float64 `json:"average"`
	Percentile float64 `json:"percentile"`
}

// VolatilityTrend describes how realized volatility is evolving
type VolatilityTrend struct {
	Direction    string  `json:"direction"`
	Strength     float64 `json:"strength"`
	RateOfChange float64 `json:"rate_of_change"`
}

// VolatilityEvent is a rolling-volatility spike above two sigmas
type VolatilityEvent struct {
	Type       string  `json:"type"`
	Position   int     `json:"position"`
	Magnitude  float64 `json:"magnitude"`
	Volatility float64 `json:"volatility"`
}

// VolatilityComparison relates current volatility to historical levels
type VolatilityComparison struct {
	VsAverage float64 `json:"vs_average"`
	VsMedian  float64 `json:"vs_median"`
	VsRecent  float64 `json:"vs_recent"`
}

// VolatilityProcessor analyzes market volatility
type VolatilityProcessor struct{}

// NewVolatilityProcessor creates a volatility analyzer
func NewVolatilityProcessor() *VolatilityProcessor {
	return &VolatilityProcessor{}
}

func (p *VolatilityProcessor) Name() string { return "volatility" }

func (p *VolatilityProcessor) Validate(candles []exchange.Candle) bool {
	return len(candles) > 0
}

func (p *VolatilityProcessor) Process(candles []exchange.Candle) *Result {
	cs := closes(candles)

	return &Result{
		ProcessorName: p.Name(),
		Timestamp:     time.Now(),
		Data: map[string]interface{}{
			"current_volatility":    currentVolatility(cs),
			"bollinger_bands":       p.calculateBollingerBands(cs),
			"atr":                   p.calculateATR(candles),
			"historical_volatility": p.calculateHistoricalVolatility(cs),
			"volatility_regime":     p.determineRegime(cs),
			"volatility_trend":      p.analyzeVolatilityTrend(cs),
			"volatility_events":     p.detectEvents(cs),
			"volatility_comparison": p.compareVolatility(cs),
		},
		Metrics: map[string]float64{
			"current_volatility":    currentVolatility(cs),
			"average_volatility":    averageVolatility(cs),
			"volatility_percentile": volatilityPercentile(cs),
			"volatility_zscore":     volatilityZScore(cs),
		},
		Signals: p.generateSignals(cs),
	}
}

// currentVolatility is the annualized percent volatility of the last
// 20 bars' returns.
func currentVolatility(cs []float64) float64 {
	if len(cs) < 20 {
		return 0
	}
	returns := pctChanges(cs)
	return stdDev(tail(returns, 20)) * math.Sqrt(252) * 100
}

func averageVolatility(cs []float64) float64 {
	if len(cs) < 20 {
		return 0
	}
	vols := dropNaN(rollingStd(pctChanges(cs), 20))
	scaled := make([]float64, len(vols))
	for i, v := range vols {
		scaled[i] = v * math.Sqrt(252) * 100
	}
	return mean(scaled)
}

func volatilityPercentile(cs []float64) float64 {
	if len(cs) < 50 {
		return 50
	}

	vols := dropNaN(rollingStd(pctChanges(cs), 20))
	if len(vols) == 0 {
		return 50
	}
	current := vols[len(vols)-1]

	count := 0
	for _, v := range vols {
		if v <= current {
			count++
		}
	}
	return float64(count) / float64(len(vols)) * 100
}

func volatilityZScore(cs []float64) float64 {
	if len(cs) < 30 {
		return 0
	}

	vols := dropNaN(rollingStd(pctChanges(cs), 20))
	if len(vols) < 2 {
		return 0
	}

	current := vols[len(vols)-1]
	sigma := stdDev(vols)
	if sigma == 0 {
		return 0
	}
	return (current - mean(vols)) / sigma
}

func (p *VolatilityProcessor) determineRegime(cs []float64) string {
	vol := currentVolatility(cs)

	switch {
	case vol < 15:
		return "low"
	case vol < 30:
		return "normal"
	case vol < 50:
		return "high"
	default:
		return "extreme"
	}
}

func (p *VolatilityProcessor) calculateBollingerBands(cs []float64) BollingerBands {
	if len(cs) < 20 {
		return BollingerBands{Position: 0.5}
	}

	window := tail(cs, 20)
	sma := mean(window)
	sigma := stdDev(window)
	current := cs[len(cs)-1]

	upper := sma + 2*sigma
	lower := sma - 2*sigma
	width := upper - lower

	position := 0.5
	if width > 0 {
		position = (current - lower) / width
	}

	return BollingerBands{
		Upper:    upper,
		Middle:   sma,
		Lower:    lower,
		Width:    width,
		Position: clamp(position, 0, 1),
	}
}

func (p *VolatilityProcessor) calculateATR(candles []exchange.Candle) ATRInfo {
	if len(candles) < 14 {
		return ATRInfo{Percentile: 50}
	}

	tr := make([]float64, len(candles))
	for i, c := range candles {
		hl := c.High - c.Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(hl, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}

	atr := dropNaN(rollingMean(tr, 14))
	if len(atr) == 0 {
		return ATRInfo{Percentile: 50}
	}
	current := atr[len(atr)-1]

	count := 0
	for _, v := range atr {
		if v <= current {
			count++
		}
	}

	return ATRInfo{
		Current:    current,
		Average:    mean(atr),
		Percentile: float64(count) / float64(len(atr)) * 100,
	}
}

func (p *VolatilityProcessor) calculateHistoricalVolatility(cs []float64) map[string]float64 {
	returns := pctChanges(cs)
	out := make(map[string]float64)

	for _, period := range []int{10, 20, 50} {
		if len(cs) > period {
			out[fmt.Sprintf("hv_%d", period)] = stdDev(tail(returns, period)) * math.Sqrt(252) * 100
		}
	}
	return out
}

func (p *VolatilityProcessor) analyzeVolatilityTrend(cs []float64) VolatilityTrend {
	if len(cs) < 40 {
		return VolatilityTrend{Direction: "neutral"}
	}

	returns := pctChanges(cs)
	volSeries := dropNaN(rollingStd(returns, 10))
	for i := range volSeries {
		volSeries[i] *= math.Sqrt(252) * 100
	}

	if len(volSeries) < 20 {
		return VolatilityTrend{Direction: "neutral"}
	}

	slope, _, _ := linearRegression(volSeries)

	rateOfChange := 0.0
	if m := mean(volSeries); m > 0 {
		rateOfChange = slope * float64(len(volSeries)) / m * 100
	}

	direction := "stable"
	strength := math.Abs(rateOfChange)
	if rateOfChange > 5 {
		direction = "increasing"
		strength = math.Min(100, strength)
	} else if rateOfChange < -5 {
		direction = "decreasing"
		strength = math.Min(100, strength)
	}

	return VolatilityTrend{
		Direction:    direction,
		Strength:     strength,
		RateOfChange: rateOfChange,
	}
}

func (p *VolatilityProcessor) detectEvents(cs []float64) []VolatilityEvent {
	var events []VolatilityEvent

	if len(cs) < 30 {
		return events
	}

	volSeries := rollingStd(pctChanges(cs), 10)
	valid := dropNaN(volSeries)
	volMean := mean(valid)
	volStd := stdDev(valid)
	threshold := volMean + 2*volStd

	for i, v := range volSeries {
		if math.IsNaN(v) || v <= threshold {
			continue
		}

		magnitude := 0.0
		if volStd > 0 {
			magnitude = (v - volMean) / volStd
		}

		events = append(events, VolatilityEvent{
			Type:       "volatility_spike",
			Position:   i,
			Magnitude:  magnitude,
			Volatility: v * 100,
		})
	}

	if len(events) > 5 {
		events = events[len(events)-5:]
	}
	return events
}

func (p *VolatilityProcessor) compareVolatility(cs []float64) VolatilityComparison {
	neutral := VolatilityComparison{VsAverage: 1, VsMedian: 1, VsRecent: 1}
	if len(cs) < 50 {
		return neutral
	}

	returns := pctChanges(cs)
	current := stdDev(tail(returns, 20)) * math.Sqrt(252) * 100

	allVol := dropNaN(rollingStd(returns, 20))
	for i := range allVol {
		allVol[i] *= math.Sqrt(252) * 100
	}
	if len(allVol) == 0 {
		return neutral
	}

	comparison := neutral
	if m := mean(allVol); m > 0 {
		comparison.VsAverage = current / m
	}
	if m := median(allVol); m > 0 {
		comparison.VsMedian = current / m
	}

	recent := mean(allVol)
	if len(allVol) >= 40 {
		recent = mean(allVol[len(allVol)-40 : len(allVol)-20])
	}
	if recent > 0 {
		comparison.VsRecent = current / recent
	}

	return comparison
}

func (p *VolatilityProcessor) generateSignals(cs []float64) []string {
	var signals []string

	switch p.determineRegime(cs) {
	case "low":
		signals = append(signals, "Low volatility - potential breakout ahead")
	case "high":
		signals = append(signals, "High volatility - increased risk")
	case "extreme":
		signals = append(signals, "Extreme volatility detected - use caution")
	}

	events := p.detectEvents(cs)
	if len(events) > 0 {
		signals = append(signals, fmt.Sprintf("Volatility spike detected - magnitude %.1f", events[len(events)-1].Magnitude))
	}

	bands := p.calculateBollingerBands(cs)
	if len(cs) >= 20 && bands.Width < cs[len(cs)-1]*0.02 {
		signals = append(signals, "Bollinger Band squeeze - volatility expansion expected")
	}

	volTrend := p.analyzeVolatilityTrend(cs)
	if volTrend.Direction == "increasing" && volTrend.RateOfChange > 20 {
		signals = append(signals, "Volatility rapidly increasing")
	} else if volTrend.Direction == "decreasing" && volTrend.RateOfChange < -20 {
		signals = append(signals, "Volatility rapidly decreasing")
	}

	return signals
}
