package preprocessor

import (
	"math"
	"testing"
)

// alternatingCloses produces a series with returns of roughly +/- size
func alternatingCloses(n int, base, size float64) []float64 {
	out := make([]float64, n)
	price := base
	for i := range out {
		if i%2 == 0 {
			price *= 1 + size
		} else {
			price *= 1 - size
		}
		out[i] = price
	}
	return out
}

func TestLowVolatilityRegime(t *testing.T) {
	candles := candlesFromCloses(flatCloses(60, 100), 1000)
	result := Run(NewVolatilityProcessor(), candles)

	if regime := result.Data["volatility_regime"].(string); regime != "low" {
		t.Errorf("regime = %s, want low for a flat series", regime)
	}
}

func TestHighVolatilityRegime(t *testing.T) {
	// ~3% alternating returns: annualized well above the 30% threshold
	candles := candlesFromCloses(alternatingCloses(60, 100, 0.03), 1000)
	result := Run(NewVolatilityProcessor(), candles)

	regime := result.Data["volatility_regime"].(string)
	if regime != "high" && regime != "extreme" {
		t.Errorf("regime = %s, want high or extreme", regime)
	}

	vol := result.Metrics["current_volatility"]
	if vol < 30 {
		t.Errorf("current_volatility = %f, want > 30", vol)
	}
}

func TestCurrentVolatilityAnnualization(t *testing.T) {
	candles := candlesFromCloses(flatCloses(30, 100), 1000)
	if vol := currentVolatility(closes(candles)); vol != 0 {
		t.Errorf("volatility = %f, want 0 for constant closes", vol)
	}

	if vol := currentVolatility([]float64{100}); vol != 0 {
		t.Errorf("short window volatility = %f, want 0", vol)
	}
}

func TestBollingerBandsFlatSeries(t *testing.T) {
	candles := candlesFromCloses(flatCloses(30, 100), 1000)
	result := Run(NewVolatilityProcessor(), candles)

	bands := result.Data["bollinger_bands"].(BollingerBands)
	if !approxEqual(bands.Middle, 100, 0.001) {
		t.Errorf("middle band = %f, want 100", bands.Middle)
	}
	if !approxEqual(bands.Width, 0, 0.001) {
		t.Errorf("width = %f, want 0 on a flat series", bands.Width)
	}
	if bands.Position != 0.5 {
		t.Errorf("position = %f, want 0.5 when the band has no width", bands.Position)
	}
}

func TestBollingerPositionBounds(t *testing.T) {
	candles := candlesFromCloses(alternatingCloses(60, 100, 0.02), 1000)
	result := Run(NewVolatilityProcessor(), candles)

	bands := result.Data["bollinger_bands"].(BollingerBands)
	if bands.Position < 0 || bands.Position > 1 {
		t.Errorf("position %f out of [0, 1]", bands.Position)
	}
	if bands.Upper < bands.Lower {
		t.Errorf("upper band %f below lower %f", bands.Upper, bands.Lower)
	}
}

func TestATRReflectsRange(t *testing.T) {
	candles := candlesFromCloses(flatCloses(30, 100), 1000)
	// widen one candle's range
	candles[28].High = 110
	candles[28].Low = 95

	result := Run(NewVolatilityProcessor(), candles)
	atr := result.Data["atr"].(ATRInfo)

	if atr.Current <= 0 {
		t.Errorf("ATR = %f, want > 0", atr.Current)
	}
	// the widened bar is inside the last 14-bar window
	if atr.Current <= atr.Average {
		t.Errorf("current ATR %f should exceed average %f", atr.Current, atr.Average)
	}
}

func TestVolatilityRegimeThresholds(t *testing.T) {
	cases := []struct {
		vol    float64
		regime string
	}{
		{5, "low"},
		{14.9, "low"},
		{15, "normal"},
		{29.9, "normal"},
		{30, "high"},
		{49.9, "high"},
		{50, "extreme"},
		{120, "extreme"},
	}

	// build a series whose last-20 return std produces the target
	// annualized volatility
	p := NewVolatilityProcessor()
	for _, tc := range cases {
		size := tc.vol / 100 / math.Sqrt(252)
		cs := alternatingCloses(60, 100, size)
		regime := p.determineRegime(cs)

		// alternating multiplicative returns land slightly off target;
		// only assert cases away from the boundary
		vol := currentVolatility(cs)
		if math.Abs(vol-tc.vol) > 1 {
			continue
		}
		if regime != tc.regime {
			t.Errorf("vol %f classified %s, want %s", vol, regime, tc.regime)
		}
	}
}

func TestVolatilityEventsDetected(t *testing.T) {
	closes := flatCloses(60, 100)
	// inject a burst of movement near the end
	for i := 50; i < 60; i++ {
		if i%2 == 0 {
			closes[i] = 108
		} else {
			closes[i] = 93
		}
	}

	result := Run(NewVolatilityProcessor(), candlesFromCloses(closes, 1000))
	events := result.Data["volatility_events"].([]VolatilityEvent)

	if len(events) == 0 {
		t.Fatal("expected volatility events after the burst")
	}
	last := events[len(events)-1]
	if last.Magnitude <= 2 {
		t.Errorf("event magnitude = %f, want > 2 sigmas", last.Magnitude)
	}
}
