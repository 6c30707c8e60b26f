package signal

import (
	"strings"
	"testing"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
	"github.com/koofree/trading-bot/internal/preprocessor"
)

func risingCandles(n int, start, step float64) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		open := price
		if i > 0 {
			open = candles[i-1].Close
		}
		close := price
		high := close
		if open > high {
			high = open
		}
		low := close
		if open < low {
			low = open
		}
		candles[i] = exchange.Candle{
			Market: "KRW-ETH",
			Open:   open, High: high * 1.001, Low: low * 0.999, Close: close,
			Volume:    1000,
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
		}
		price += step
	}
	return candles
}

func TestDetermineSignalBuy(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	signalType, strength := g.determineSignal(0.75, 0.1)
	if signalType != SignalBuy {
		t.Fatalf("signal = %s, want BUY", signalType)
	}
	if strength != 0.75 {
		t.Errorf("strength = %f, want 0.75", strength)
	}
}

func TestDetermineSignalSell(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	signalType, strength := g.determineSignal(0.1, 0.8)
	if signalType != SignalSell {
		t.Fatalf("signal = %s, want SELL", signalType)
	}
	if strength != 0.8 {
		t.Errorf("strength = %f, want 0.8", strength)
	}
}

func TestDetermineSignalStrengthCappedAtOne(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	_, strength := g.determineSignal(1.4, 0.1)
	if strength != 1.0 {
		t.Errorf("strength = %f, want 1.0", strength)
	}
}

func TestHoldKeepsNearMissMagnitude(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	signalType, strength := g.determineSignal(0.5, 0.45)
	if signalType != SignalHold {
		t.Fatalf("signal = %s, want HOLD", signalType)
	}
	if strength != 0.5 {
		t.Errorf("strength = %f, want 0.5", strength)
	}
}

func TestHoldWhenSidesTooClose(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	// buy clears min confidence but not the 1.2x dominance requirement
	signalType, _ := g.determineSignal(0.7, 0.65)
	if signalType != SignalHold {
		t.Errorf("signal = %s, want HOLD", signalType)
	}
}

func TestHoldOnShortWindow(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	sig := g.Generate("KRW-ETH", risingCandles(10, 100, 1), 0, nil)
	if sig.Type != SignalHold {
		t.Fatalf("signal = %s, want HOLD", sig.Type)
	}
	if !strings.Contains(sig.Reasoning, "insufficient data") {
		t.Errorf("reasoning %q should mention insufficient data", sig.Reasoning)
	}
	if sig.Volume != 0 {
		t.Errorf("position size = %f, want 0", sig.Volume)
	}
	// No ticker price was supplied, so the last close stands in.
	if !approx(sig.Price, 109) {
		t.Errorf("price = %f, want last close 109", sig.Price)
	}
}

func TestShortWindowHoldKeepsTickerPrice(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	sig := g.Generate("KRW-ETH", risingCandles(10, 100, 1), 123.45, nil)
	if sig.Type != SignalHold {
		t.Fatalf("signal = %s, want HOLD", sig.Type)
	}
	if !approx(sig.Price, 123.45) {
		t.Errorf("price = %f, want ticker price 123.45", sig.Price)
	}
}

func TestPositionSizeScalesWithStrength(t *testing.T) {
	g := NewGenerator(Config{BasePositionSize: 0.02, MaxPositionSize: 0.1}, nil)

	zero := g.positionSize(0)
	half := g.positionSize(0.5)
	full := g.positionSize(1)

	if zero != 0.01 {
		t.Errorf("size at strength 0 = %f, want 0.01", zero)
	}
	if !(zero < half && half < full) {
		t.Errorf("sizes not monotonic: %f, %f, %f", zero, half, full)
	}
	if full != 0.02 {
		t.Errorf("size at strength 1 = %f, want 0.02", full)
	}
}

func TestPositionSizeCappedAtMaximum(t *testing.T) {
	g := NewGenerator(Config{BasePositionSize: 0.3, MaxPositionSize: 0.1}, nil)

	if size := g.positionSize(1); size != 0.1 {
		t.Errorf("size = %f, want cap 0.1", size)
	}
}

func TestVolatilityDampensBothScores(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	analysis := &AnalysisSummary{
		Signals: []TaggedSignal{
			{Processor: "trend", Signal: "Bullish momentum building"},
			{Processor: "volume", Signal: "Bearish divergence forming"},
		},
	}

	calmBuy, calmSell, _ := g.calculateScores(analysis, nil)

	analysis.Volatility = &VolatilitySummary{Regime: "extreme"}
	stormBuy, stormSell, reasons := g.calculateScores(analysis, nil)

	if !approx(stormBuy, calmBuy*0.8) || !approx(stormSell, calmSell*0.8) {
		t.Errorf("scores %f/%f not dampened from %f/%f", stormBuy, stormSell, calmBuy, calmSell)
	}
	found := false
	for _, r := range reasons {
		if strings.Contains(r, "extreme volatility") {
			found = true
		}
	}
	if !found {
		t.Error("expected a volatility adjustment reason")
	}
}

func TestTrendBoostRequiresStrength(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	weak := &AnalysisSummary{Trend: &TrendSummary{Direction: "uptrend", Strength: 40}}
	buy, _, _ := g.calculateScores(weak, nil)
	if buy != 0 {
		t.Errorf("weak trend should not score, got %f", buy)
	}

	strong := &AnalysisSummary{Trend: &TrendSummary{Direction: "uptrend", Strength: 80}}
	buy, _, _ = g.calculateScores(strong, nil)
	if !approx(buy, 0.25*0.8) {
		t.Errorf("buy = %f, want %f", buy, 0.25*0.8)
	}
}

func TestBreakoutAndPhaseScoring(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	analysis := &AnalysisSummary{
		PriceAction: &PriceActionSummary{
			Breakouts: preprocessor.Breakouts{
				ResistanceBreak: &preprocessor.Breakout{Level: 100},
			},
		},
		Volume: &VolumeSummary{VolumePhase: "accumulation"},
	}

	buy, sell, _ := g.calculateScores(analysis, nil)
	if !approx(buy, 0.25*0.5+0.15*0.5) {
		t.Errorf("buy = %f, want %f", buy, 0.25*0.5+0.15*0.5)
	}
	if sell != 0 {
		t.Errorf("sell = %f, want 0", sell)
	}
}

func TestSentimentScoring(t *testing.T) {
	g := NewGenerator(Config{}, nil)
	analysis := &AnalysisSummary{}

	buy, _, _ := g.calculateScores(analysis, &Sentiment{Score: 0.8})
	if !approx(buy, 0.08) {
		t.Errorf("positive sentiment buy = %f, want 0.08", buy)
	}

	_, sell, _ := g.calculateScores(analysis, &Sentiment{Score: -0.5})
	if !approx(sell, 0.05) {
		t.Errorf("negative sentiment sell = %f, want 0.05", sell)
	}

	buy, sell, reasons := g.calculateScores(analysis, &Sentiment{Score: 0.1})
	if buy != 0 || sell != 0 {
		t.Errorf("neutral sentiment should not score, got %f/%f", buy, sell)
	}
	if len(reasons) != 1 || !strings.Contains(reasons[0], "LLM sentiment analysis") {
		t.Errorf("neutral sentiment should still be noted, got %v", reasons)
	}
}

func TestReasoningPutsSentimentFirst(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	reasons := []string{
		"Resistance breakout detected",
		"Strong uptrend (strength: 85.0)",
		"Positive LLM sentiment (0.50)",
	}
	reasoning := g.buildReasoning(SignalBuy, reasons, &AnalysisSummary{})

	lines := strings.Split(reasoning, "\n")
	if !strings.HasPrefix(lines[0], "BUY signal generated based on:") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "LLM sentiment") {
		t.Errorf("second line %q should carry the LLM reason", lines[1])
	}
}

func TestReasoningWarnsOnThinEvidence(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	reasoning := g.buildReasoning(SignalBuy, []string{"Resistance breakout detected"}, &AnalysisSummary{})
	if !strings.Contains(reasoning, "limited confirming signals") {
		t.Errorf("expected a thin-evidence warning in %q", reasoning)
	}

	// HOLD never warns
	reasoning = g.buildReasoning(SignalHold, []string{"Resistance breakout detected"}, &AnalysisSummary{})
	if strings.Contains(reasoning, "limited confirming signals") {
		t.Errorf("HOLD should not warn, got %q", reasoning)
	}
}

func TestGenerateBuySignalOnStrongUptrend(t *testing.T) {
	g := NewGenerator(Config{}, nil)
	candles := risingCandles(60, 100, 0.5)

	sig := g.Generate("KRW-ETH", candles, 0, &Sentiment{Score: 0.8})

	if sig.Type != SignalBuy {
		t.Fatalf("signal = %s (strength %.2f), want BUY", sig.Type, sig.Strength)
	}
	if sig.Strength <= 0 || sig.Strength > 1 {
		t.Errorf("strength %f out of (0, 1]", sig.Strength)
	}
	if sig.Price != candles[len(candles)-1].Close {
		t.Errorf("price = %f, want last close %f", sig.Price, candles[len(candles)-1].Close)
	}
	if sig.Volume <= 0 {
		t.Errorf("position size = %f, want > 0", sig.Volume)
	}
	if sig.Analysis == nil || sig.Analysis.Trend == nil {
		t.Fatal("analysis summary missing trend section")
	}
	if sig.Analysis.Trend.Direction != "uptrend" {
		t.Errorf("trend direction = %s, want uptrend", sig.Analysis.Trend.Direction)
	}
}

func TestGenerateUsesTickerPriceWhenGiven(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	sig := g.Generate("KRW-ETH", risingCandles(60, 100, 0.5), 131.5, nil)
	if sig.Price != 131.5 {
		t.Errorf("price = %f, want ticker price 131.5", sig.Price)
	}
}

func TestLLMContextCarriesMarketState(t *testing.T) {
	g := NewGenerator(Config{}, nil)

	sig := g.Generate("KRW-ETH", risingCandles(60, 100, 0.5), 0, nil)
	for _, want := range []string{"Current Price", "24h Change", "Trading Signals", "Analysis Request"} {
		if !strings.Contains(sig.LLMContext, want) {
			t.Errorf("llm context missing %q", want)
		}
	}
}

func approx(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
