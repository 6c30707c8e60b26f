package preprocessor

import (
	"testing"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

func candle(open, high, low, close float64) exchange.Candle {
	return exchange.Candle{
		Open: open, High: high, Low: low, Close: close,
		Volume: 1000, Timestamp: time.Now(),
	}
}

func TestBodyRatioBounds(t *testing.T) {
	p := NewCandlestickProcessor()

	windows := [][]exchange.Candle{
		candlesFromCloses(risingCloses(30, 100, 1), 1000),
		candlesFromCloses(flatCloses(30, 100), 1000),
		{candle(100, 110, 95, 105), candle(105, 106, 99, 100), candle(100, 101, 100, 101)},
	}

	for _, candles := range windows {
		result := Run(p, candles)
		if !result.IsValid() {
			t.Fatalf("expected valid result, errors: %v", result.Errors)
		}
		ratio := result.Metrics["body_ratio"]
		if ratio < 0 || ratio > 1 {
			t.Errorf("body_ratio %f out of [0, 1]", ratio)
		}
	}
}

func TestDojiDetection(t *testing.T) {
	// body well under 10% of the range
	candles := []exchange.Candle{
		candle(100, 105, 95, 101),
		candle(101, 104, 96, 100),
		candle(100, 105, 95, 100.4),
	}

	result := Run(NewCandlestickProcessor(), candles)
	patterns := result.Data["patterns"].([]Pattern)

	found := false
	for _, p := range patterns {
		if p.Name == "doji" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected doji pattern, got %+v", patterns)
	}
}

func TestBullishEngulfing(t *testing.T) {
	// bearish candle fully contained by the following bullish candle
	candles := []exchange.Candle{
		candle(104, 106, 103, 105),
		candle(105, 105.5, 103, 103.5),
		candle(103, 107, 102.5, 106),
	}

	result := Run(NewCandlestickProcessor(), candles)
	patterns := result.Data["patterns"].([]Pattern)

	found := false
	for _, p := range patterns {
		if p.Name == "bullish_engulfing" {
			found = true
			if p.Type != "reversal_bullish" {
				t.Errorf("bullish_engulfing should be reversal_bullish, got %s", p.Type)
			}
		}
	}
	if !found {
		t.Errorf("expected bullish_engulfing, got %+v", patterns)
	}
}

func TestHammerAfterBearishCandle(t *testing.T) {
	candles := []exchange.Candle{
		candle(108, 109, 106, 107),
		candle(107, 107.5, 105, 105.5), // bearish
		candle(105, 105.6, 100, 105.5), // long lower shadow, small body
	}

	result := Run(NewCandlestickProcessor(), candles)
	patterns := result.Data["patterns"].([]Pattern)

	found := false
	for _, p := range patterns {
		if p.Name == "hammer" {
			found = true
		}
		if p.Name == "hanging_man" {
			t.Error("hammer after a bearish candle misclassified as hanging_man")
		}
	}
	if !found {
		t.Errorf("expected hammer, got %+v", patterns)
	}
}

func TestHangingManAfterBullishCandle(t *testing.T) {
	candles := []exchange.Candle{
		candle(103, 105, 102, 104),
		candle(104, 106.5, 103.5, 106), // bullish
		candle(106, 106.6, 101, 106.5), // hammer shape after an up candle
	}

	result := Run(NewCandlestickProcessor(), candles)
	patterns := result.Data["patterns"].([]Pattern)

	found := false
	for _, p := range patterns {
		if p.Name == "hanging_man" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected hanging_man, got %+v", patterns)
	}
}

func TestThreeWhiteSoldiers(t *testing.T) {
	candles := []exchange.Candle{
		candle(100, 103, 99, 102),
		candle(102, 105, 101, 104),
		candle(104, 107, 103, 106),
	}

	result := Run(NewCandlestickProcessor(), candles)
	patterns := result.Data["patterns"].([]Pattern)

	found := false
	for _, p := range patterns {
		if p.Name == "three_white_soldiers" {
			found = true
			if p.Strength != "very_strong" {
				t.Errorf("expected very_strong, got %s", p.Strength)
			}
		}
	}
	if !found {
		t.Errorf("expected three_white_soldiers, got %+v", patterns)
	}
}

func TestThreeBlackCrows(t *testing.T) {
	candles := []exchange.Candle{
		candle(106, 107, 103, 104),
		candle(104, 105, 101, 102),
		candle(102, 103, 99, 100),
	}

	result := Run(NewCandlestickProcessor(), candles)
	patterns := result.Data["patterns"].([]Pattern)

	found := false
	for _, p := range patterns {
		if p.Name == "three_black_crows" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected three_black_crows, got %+v", patterns)
	}
}

func TestSupportBelowResistance(t *testing.T) {
	windows := [][]exchange.Candle{
		candlesFromCloses(risingCloses(60, 100, 0.5), 1000),
		candlesFromCloses(risingCloses(60, 200, -0.5), 1000),
		candlesFromCloses(flatCloses(60, 100), 1000),
	}

	for _, candles := range windows {
		result := Run(NewCandlestickProcessor(), candles)
		levels := result.Data["support_resistance"].(KeyLevels)
		if levels.Support > levels.Resistance {
			t.Errorf("support %f above resistance %f", levels.Support, levels.Resistance)
		}
	}
}

func TestValidationFailureOnEmptyInput(t *testing.T) {
	result := Run(NewCandlestickProcessor(), nil)
	if result.IsValid() {
		t.Error("empty input should produce an invalid result")
	}
	if len(result.Errors) == 0 {
		t.Error("invalid result should carry errors")
	}
}
