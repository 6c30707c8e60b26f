package preprocessor

import (
	"fmt"
	"math"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

// Breakout describes a price break past a reference level
type Breakout struct {
	Level        float64 `json:"level"`
	Strength     float64 `json:"strength"`
	CurrentPrice float64 `json:"current_price"`
}

// RangeBreak describes a shift between the two halves of the window
type RangeBreak struct {
	Type      string  `json:"type"`
	Magnitude float64 `json:"magnitude"`
	Direction string  `json:"direction"`
}

// Breakouts groups the breakout detections; nil fields mean not detected
type Breakouts struct {
	ResistanceBreak *Breakout   `json:"resistance_break,omitempty"`
	SupportBreak    *Breakout   `json:"support_break,omitempty"`
	RangeBreak      *RangeBreak `json:"range_break,omitempty"`
}

// SwingPoint is a local price extremum
type SwingPoint struct {
	Index int     `json:"index"`
	Price float64 `json:"price"`
}

// MarketStructure classifies the swing sequence
type MarketStructure struct {
	Structure  string       `json:"structure"`
	SwingHighs []SwingPoint `json:"swing_highs"`
	SwingLows  []SwingPoint `json:"swing_lows"`
}

// RecentLevels are the rolling 24-bar and 168-bar extremes
type RecentLevels struct {
	High24h float64 `json:"high_24h"`
	Low24h  float64 `json:"low_24h"`
	High7d  float64 `json:"high_7d"`
	Low7d   float64 `json:"low_7d"`
}

// PsychologicalLevels are the nearest round-thousand prices
type PsychologicalLevels struct {
	Below   float64 `json:"below"`
	Current float64 `json:"current"`
	Above   float64 `json:"above"`
}

// PriceLevels aggregates the key level computations
type PriceLevels struct {
	Fibonacci        map[string]float64  `json:"fibonacci"`
	Psychological    PsychologicalLevels `json:"psychological"`
	VWAP             float64             `json:"vwap"`
	Recent           RecentLevels        `json:"recent"`
	StrongResistance float64             `json:"strong_resistance"`
	StrongSupport    float64             `json:"strong_support"`
	WeakResistance   float64             `json:"weak_resistance"`
	WeakSupport      float64             `json:"weak_support"`
}

// RangeAnalysis positions the current price within the close range
type RangeAnalysis struct {
	RangeHigh       float64 `json:"range_high"`
	RangeLow        float64 `json:"range_low"`
	RangeWidth      float64 `json:"range_width"`
	CurrentPosition float64 `json:"current_position"`
}

// PullbackAnalysis measures decline from the recent high
type PullbackAnalysis struct {
	IsPullback    bool    `json:"is_pullback"`
	PullbackDepth float64 `json:"pullback_depth"`
	PullbackLevel float64 `json:"pullback_level"`
}

// PricePattern is a simple half-window trend classification
type PricePattern struct {
	Type     string `json:"type"`
	Strength string `json:"strength"`
	Location int    `json:"location"`
}

// SwingPoints holds the most recent local extrema
type SwingPoints struct {
	SwingHighs []SwingPoint `json:"swing_highs"`
	SwingLows  []SwingPoint `json:"swing_lows"`
}

// PriceActionProcessor analyzes price movements and key price levels
type PriceActionProcessor struct{}

// NewPriceActionProcessor creates a price action analyzer
func NewPriceActionProcessor() *PriceActionProcessor {
	return &PriceActionProcessor{}
}

func (p *PriceActionProcessor) Name() string { return "price_action" }

func (p *PriceActionProcessor) Validate(candles []exchange.Candle) bool {
	return len(candles) > 0
}

func (p *PriceActionProcessor) Process(candles []exchange.Candle) *Result {
	levels := p.findPriceLevels(candles)
	breakouts := p.detectBreakouts(candles, levels)
	structure := p.analyzeMarketStructure(candles)

	return &Result{
		ProcessorName: p.Name(),
		Timestamp:     time.Now(),
		Data: map[string]interface{}{
			"key_levels":        levels,
			"breakouts":         breakouts,
			"market_structure":  structure,
			"fibonacci":         levels.Fibonacci,
			"range_analysis":    p.analyzeRange(candles),
			"pullback_analysis": p.analyzePullbacks(candles),
			"patterns":          p.identifyPatterns(candles),
			"swing_points":      p.findSwingPoints(candles),
		},
		Metrics: p.calculateMetrics(candles),
		Signals: p.generateSignals(candles, levels, breakouts, structure),
	}
}

func (p *PriceActionProcessor) calculateMetrics(candles []exchange.Candle) map[string]float64 {
	cs := closes(candles)
	current := cs[len(cs)-1]

	priceChange := 0.0
	if len(cs) > 1 && cs[0] != 0 {
		priceChange = (current - cs[0]) / cs[0] * 100
	}

	return map[string]float64{
		"price_range":    maxFloat(cs) - minFloat(cs),
		"price_change":   priceChange,
		"price_momentum": priceVelocity(cs),
		"current_price":  current,
	}
}

// priceVelocity is the per-bar price change over the last 5 periods
func priceVelocity(cs []float64) float64 {
	if len(cs) < 2 {
		return 0
	}
	periods := 5
	if len(cs)-1 < periods {
		periods = len(cs) - 1
	}
	return (cs[len(cs)-1] - cs[len(cs)-periods-1]) / float64(periods)
}

func (p *PriceActionProcessor) findPriceLevels(candles []exchange.Candle) PriceLevels {
	cs := closes(candles)
	hs := highs(candles)
	ls := lows(candles)
	current := cs[len(cs)-1]

	high := maxFloat(hs)
	low := minFloat(ls)
	diff := high - low

	fib := map[string]float64{
		"0.0":   low,
		"0.236": low + diff*0.236,
		"0.382": low + diff*0.382,
		"0.5":   low + diff*0.5,
		"0.618": low + diff*0.618,
		"0.786": low + diff*0.786,
		"1.0":   high,
	}

	roundLevel := math.Round(current/1000) * 1000

	var volumeSum, weightedSum float64
	for _, c := range candles {
		weightedSum += c.Close * c.Volume
		volumeSum += c.Volume
	}
	vwap := 0.0
	if volumeSum > 0 {
		vwap = weightedSum / volumeSum
	}

	recent := RecentLevels{High24h: current, Low24h: current, High7d: current, Low7d: current}
	if len(candles) >= 24 {
		recent.High24h = maxFloat(tail(hs, 24))
		recent.Low24h = minFloat(tail(ls, 24))
	}
	if len(candles) >= 168 {
		recent.High7d = maxFloat(tail(hs, 168))
		recent.Low7d = minFloat(tail(ls, 168))
	}

	weakResistance, weakSupport := current, current
	if len(cs) > 4 {
		weakResistance = quantile(cs, 0.75)
		weakSupport = quantile(cs, 0.25)
	}

	return PriceLevels{
		Fibonacci: fib,
		Psychological: PsychologicalLevels{
			Below:   roundLevel - 1000,
			Current: roundLevel,
			Above:   roundLevel + 1000,
		},
		VWAP:             vwap,
		Recent:           recent,
		StrongResistance: high,
		StrongSupport:    low,
		WeakResistance:   weakResistance,
		WeakSupport:      weakSupport,
	}
}

// detectBreakouts applies the detection rules in precedence order:
// 24h extremes with a 0.1% margin, then the 10-bar range, then a half
// window mean shift over 2%, then a 1% first-vs-last-5-bar fallback.
func (p *PriceActionProcessor) detectBreakouts(candles []exchange.Candle, levels PriceLevels) Breakouts {
	var breakouts Breakouts

	cs := closes(candles)
	current := cs[len(cs)-1]

	resistanceLevel := levels.Recent.High24h
	supportLevel := levels.Recent.Low24h

	if current > resistanceLevel*0.999 {
		breakouts.ResistanceBreak = &Breakout{
			Level:        resistanceLevel,
			Strength:     (current - resistanceLevel) / resistanceLevel * 100,
			CurrentPrice: current,
		}
	}
	if current < supportLevel*1.001 {
		breakouts.SupportBreak = &Breakout{
			Level:        supportLevel,
			Strength:     (supportLevel - current) / supportLevel * 100,
			CurrentPrice: current,
		}
	}

	if len(candles) >= 10 {
		recentHigh := maxFloat(tail(highs(candles), 10))
		recentLow := minFloat(tail(lows(candles), 10))

		if current > recentHigh && breakouts.ResistanceBreak == nil {
			breakouts.ResistanceBreak = &Breakout{
				Level:        recentHigh,
				Strength:     (current - recentHigh) / recentHigh * 100,
				CurrentPrice: current,
			}
		}
		if current < recentLow && breakouts.SupportBreak == nil {
			breakouts.SupportBreak = &Breakout{
				Level:        recentLow,
				Strength:     (recentLow - current) / recentLow * 100,
				CurrentPrice: current,
			}
		}
	}

	if len(cs) >= 20 {
		firstHalf := mean(cs[:len(cs)/2])
		secondHalf := mean(cs[len(cs)/2:])

		change := math.Abs(secondHalf-firstHalf) / firstHalf * 100
		if change > 2 {
			direction := "up"
			if secondHalf < firstHalf {
				direction = "down"
			}
			breakouts.RangeBreak = &RangeBreak{
				Type:      "trend_breakout",
				Magnitude: change,
				Direction: direction,
			}
		}
	}

	if len(cs) >= 5 && breakouts.ResistanceBreak == nil && breakouts.SupportBreak == nil && breakouts.RangeBreak == nil {
		start := mean(cs[:5])
		end := mean(cs[len(cs)-5:])
		change := math.Abs(end-start) / start * 100

		if change > 1 {
			if end > start {
				breakouts.ResistanceBreak = &Breakout{Level: start, Strength: change, CurrentPrice: end}
			} else {
				breakouts.SupportBreak = &Breakout{Level: start, Strength: change, CurrentPrice: end}
			}
		}
	}

	return breakouts
}

func (p *PriceActionProcessor) analyzeMarketStructure(candles []exchange.Candle) MarketStructure {
	if len(candles) < 20 {
		return MarketStructure{Structure: "insufficient_data"}
	}

	var swingHighs, swingLows []SwingPoint

	for i := 1; i < len(candles)-1; i++ {
		if candles[i].High > candles[i-1].High && candles[i].High > candles[i+1].High {
			swingHighs = append(swingHighs, SwingPoint{Index: i, Price: candles[i].High})
		}
		if candles[i].Low < candles[i-1].Low && candles[i].Low < candles[i+1].Low {
			swingLows = append(swingLows, SwingPoint{Index: i, Price: candles[i].Low})
		}
	}

	structure := "ranging"
	if len(swingHighs) >= 2 && len(swingLows) >= 2 {
		hh := swingHighs[len(swingHighs)-1].Price > swingHighs[len(swingHighs)-2].Price
		hl := swingLows[len(swingLows)-1].Price > swingLows[len(swingLows)-2].Price

		if hh && hl {
			structure = "uptrend"
		} else if !hh && !hl {
			structure = "downtrend"
		}
	}

	if len(swingHighs) > 3 {
		swingHighs = swingHighs[len(swingHighs)-3:]
	}
	if len(swingLows) > 3 {
		swingLows = swingLows[len(swingLows)-3:]
	}

	return MarketStructure{
		Structure:  structure,
		SwingHighs: swingHighs,
		SwingLows:  swingLows,
	}
}

func (p *PriceActionProcessor) analyzeRange(candles []exchange.Candle) RangeAnalysis {
	if len(candles) < 10 {
		return RangeAnalysis{CurrentPosition: 0.5}
	}

	cs := closes(candles)
	high := maxFloat(cs)
	low := minFloat(cs)
	width := high - low
	current := cs[len(cs)-1]

	position := 0.5
	if width > 0 {
		position = (current - low) / width
	}

	return RangeAnalysis{
		RangeHigh:       high,
		RangeLow:        low,
		RangeWidth:      width,
		CurrentPosition: position,
	}
}

func (p *PriceActionProcessor) analyzePullbacks(candles []exchange.Candle) PullbackAnalysis {
	if len(candles) < 20 {
		return PullbackAnalysis{}
	}

	cs := closes(candles)
	recentHigh := maxFloat(tail(cs, 20))
	current := cs[len(cs)-1]
	depth := (recentHigh - current) / recentHigh * 100

	return PullbackAnalysis{
		IsPullback:    depth > 2,
		PullbackDepth: depth,
		PullbackLevel: recentHigh,
	}
}

func (p *PriceActionProcessor) identifyPatterns(candles []exchange.Candle) []PricePattern {
	var patterns []PricePattern

	if len(candles) < 20 {
		return patterns
	}

	cs := closes(candles)
	firstHalf := mean(cs[:len(cs)/2])
	secondHalf := mean(cs[len(cs)/2:])

	if secondHalf > firstHalf*1.02 {
		patterns = append(patterns, PricePattern{Type: "uptrend", Strength: "medium", Location: len(cs) - 1})
	} else if secondHalf < firstHalf*0.98 {
		patterns = append(patterns, PricePattern{Type: "downtrend", Strength: "medium", Location: len(cs) - 1})
	}

	return patterns
}

func (p *PriceActionProcessor) findSwingPoints(candles []exchange.Candle) SwingPoints {
	var points SwingPoints

	if len(candles) < 5 {
		return points
	}

	for i := 2; i < len(candles)-2; i++ {
		if candles[i].High > candles[i-1].High && candles[i].High > candles[i+1].High {
			points.SwingHighs = append(points.SwingHighs, SwingPoint{Index: i, Price: candles[i].High})
		}
		if candles[i].Low < candles[i-1].Low && candles[i].Low < candles[i+1].Low {
			points.SwingLows = append(points.SwingLows, SwingPoint{Index: i, Price: candles[i].Low})
		}
	}

	if len(points.SwingHighs) > 10 {
		points.SwingHighs = points.SwingHighs[len(points.SwingHighs)-10:]
	}
	if len(points.SwingLows) > 10 {
		points.SwingLows = points.SwingLows[len(points.SwingLows)-10:]
	}

	return points
}

func (p *PriceActionProcessor) generateSignals(candles []exchange.Candle, levels PriceLevels, breakouts Breakouts, structure MarketStructure) []string {
	var signals []string

	switch structure.Structure {
	case "uptrend":
		signals = append(signals, "Market in uptrend - higher highs and higher lows")
	case "downtrend":
		signals = append(signals, "Market in downtrend - lower highs and lower lows")
	}

	if breakouts.ResistanceBreak != nil {
		signals = append(signals, fmt.Sprintf("Resistance breakout at %.2f", breakouts.ResistanceBreak.Level))
	}
	if breakouts.SupportBreak != nil {
		signals = append(signals, fmt.Sprintf("Support breakdown at %.2f", breakouts.SupportBreak.Level))
	}
	if breakouts.RangeBreak != nil {
		signals = append(signals, fmt.Sprintf("Range breakout to the %s", breakouts.RangeBreak.Direction))
	}

	current := candles[len(candles)-1].Close
	for level, price := range levels.Fibonacci {
		if price > 0 && math.Abs(current-price)/price < 0.01 {
			signals = append(signals, fmt.Sprintf("Price near Fibonacci %s%% level", level))
		}
	}

	return signals
}
