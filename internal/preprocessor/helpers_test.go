package preprocessor

import (
	"math"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

// candlesFromCloses builds a candle series from close prices, with
// each candle opening at the previous close and a constant volume.
func candlesFromCloses(closes []float64, volume float64) []exchange.Candle {
	candles := make([]exchange.Candle, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, close := range closes {
		open := close
		if i > 0 {
			open = closes[i-1]
		}
		high := math.Max(open, close) * 1.001
		low := math.Min(open, close) * 0.999

		candles[i] = exchange.Candle{
			Market:    "KRW-ETH",
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
		}
	}
	return candles
}

func flatCloses(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func risingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func approxEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}
