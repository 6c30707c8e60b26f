package preprocessor

import (
	"testing"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

// flatBodyCandles builds zero-body candles (open == close) with a
// half-point wick on each side, so highs and lows track the closes.
func flatBodyCandles(closes []float64) []exchange.Candle {
	candles := make([]exchange.Candle, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candles[i] = exchange.Candle{
			Market: "KRW-ETH",
			Open:   c, High: c + 0.5, Low: c - 0.5, Close: c,
			Volume:    1000,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
		}
	}
	return candles
}

func TestFibonacciLevels(t *testing.T) {
	candles := candlesFromCloses(risingCloses(30, 100, 1), 1000)
	result := Run(NewPriceActionProcessor(), candles)

	fib := result.Data["fibonacci"].(map[string]float64)
	low := fib["0.0"]
	high := fib["1.0"]

	if low >= high {
		t.Fatalf("fib low %f not below high %f", low, high)
	}
	if !approxEqual(fib["0.5"], (low+high)/2, 0.001) {
		t.Errorf("fib 0.5 = %f, want midpoint %f", fib["0.5"], (low+high)/2)
	}
	if fib["0.236"] >= fib["0.382"] || fib["0.382"] >= fib["0.618"] {
		t.Error("fibonacci levels out of order")
	}
}

func TestResistanceBreakout(t *testing.T) {
	// flat series with a final candle punching above the 24h high
	closes := flatCloses(40, 100)
	closes[39] = 103
	candles := candlesFromCloses(closes, 1000)

	result := Run(NewPriceActionProcessor(), candles)
	breakouts := result.Data["breakouts"].(Breakouts)

	if breakouts.ResistanceBreak == nil {
		t.Fatal("expected resistance breakout")
	}
	if breakouts.SupportBreak != nil {
		t.Error("upward move should not flag a support break")
	}
}

func TestSupportBreakdown(t *testing.T) {
	// a final candle closing on its low at the bottom of the window
	candles := flatBodyCandles(flatCloses(40, 100))
	candles[39] = exchange.Candle{
		Market: "KRW-ETH",
		Open:   100, High: 100, Low: 97, Close: 97,
		Volume: 1000, Timestamp: candles[38].Timestamp.Add(time.Hour),
	}

	result := Run(NewPriceActionProcessor(), candles)
	breakouts := result.Data["breakouts"].(Breakouts)

	if breakouts.SupportBreak == nil {
		t.Fatal("expected support breakdown")
	}
	if breakouts.ResistanceBreak != nil {
		t.Error("downward move should not flag a resistance break")
	}
}

func TestRangeBreakDirection(t *testing.T) {
	// second half trades well above the first half
	closes := append(flatCloses(20, 100), flatCloses(20, 105)...)
	candles := candlesFromCloses(closes, 1000)

	result := Run(NewPriceActionProcessor(), candles)
	breakouts := result.Data["breakouts"].(Breakouts)

	if breakouts.RangeBreak == nil {
		t.Fatal("expected range break")
	}
	if breakouts.RangeBreak.Direction != "up" {
		t.Errorf("direction = %s, want up", breakouts.RangeBreak.Direction)
	}
	if breakouts.RangeBreak.Magnitude <= 2 {
		t.Errorf("magnitude = %f, want > 2", breakouts.RangeBreak.Magnitude)
	}
}

func TestShortWindowDefaultsToCurrentPriceLevels(t *testing.T) {
	// under 24 bars the 24h levels default to the current price, which
	// always sits within the 0.1% breakout margin
	closes := []float64{100, 100, 100, 100, 100, 102, 102, 102, 102}
	candles := candlesFromCloses(closes, 1000)

	result := Run(NewPriceActionProcessor(), candles)
	levels := result.Data["key_levels"].(PriceLevels)
	if levels.Recent.High24h != 102 {
		t.Errorf("high_24h = %f, want current price 102", levels.Recent.High24h)
	}

	breakouts := result.Data["breakouts"].(Breakouts)
	if breakouts.ResistanceBreak == nil {
		t.Error("expected the default 24h level to flag a breakout")
	}
}

func TestPullbackDetection(t *testing.T) {
	// rally to 112 then fall back to 105
	closes := risingCloses(25, 100, 0.5)
	closes = append(closes, 105)
	candles := candlesFromCloses(closes, 1000)

	result := Run(NewPriceActionProcessor(), candles)
	pullback := result.Data["pullback_analysis"].(PullbackAnalysis)

	if !pullback.IsPullback {
		t.Errorf("expected a pullback, depth = %f", pullback.PullbackDepth)
	}
	if pullback.PullbackDepth <= 2 {
		t.Errorf("pullback depth = %f, want > 2", pullback.PullbackDepth)
	}
}

func TestSwingPoints(t *testing.T) {
	// a clear local top at index 5 and bottom at index 10
	closes := []float64{100, 101, 102, 103, 104, 108, 104, 103, 102, 101, 97, 101, 102, 103, 104}
	candles := flatBodyCandles(closes)

	result := Run(NewPriceActionProcessor(), candles)
	points := result.Data["swing_points"].(SwingPoints)

	foundHigh := false
	for _, p := range points.SwingHighs {
		if p.Index == 5 {
			foundHigh = true
		}
	}
	if !foundHigh {
		t.Errorf("expected swing high at index 5, got %+v", points.SwingHighs)
	}

	foundLow := false
	for _, p := range points.SwingLows {
		if p.Index == 10 {
			foundLow = true
		}
	}
	if !foundLow {
		t.Errorf("expected swing low at index 10, got %+v", points.SwingLows)
	}
}

func TestRangePositionBounds(t *testing.T) {
	candles := candlesFromCloses(risingCloses(30, 100, 1), 1000)
	result := Run(NewPriceActionProcessor(), candles)

	rng := result.Data["range_analysis"].(RangeAnalysis)
	if rng.CurrentPosition < 0 || rng.CurrentPosition > 1 {
		t.Errorf("current_position %f out of [0, 1]", rng.CurrentPosition)
	}
	// the latest close of a rising series sits at the top of its range
	if rng.CurrentPosition != 1 {
		t.Errorf("current_position = %f, want 1", rng.CurrentPosition)
	}
}

func TestStrongLevelsAreExtremes(t *testing.T) {
	candles := candlesFromCloses(risingCloses(30, 100, 1), 1000)
	result := Run(NewPriceActionProcessor(), candles)

	levels := result.Data["key_levels"].(PriceLevels)
	if levels.StrongSupport > levels.StrongResistance {
		t.Errorf("strong support %f above strong resistance %f", levels.StrongSupport, levels.StrongResistance)
	}
	if levels.WeakSupport > levels.WeakResistance {
		t.Errorf("weak support %f above weak resistance %f", levels.WeakSupport, levels.WeakResistance)
	}
}
