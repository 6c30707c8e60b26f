package preprocessor

import (
	"fmt"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

// Result is the output of a single analyzer run. Data holds analyzer
// specific structures keyed by name, Metrics holds flat numeric values,
// and Signals holds human-readable observations consumed by the fusion
// engine.
type Result struct {
	ProcessorName string                 `json:"processor_name"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data"`
	Metrics       map[string]float64     `json:"metrics"`
	Signals       []string               `json:"signals"`
	Errors        []string               `json:"errors,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// IsValid reports whether the analyzer produced usable output
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0 && len(r.Data) > 0
}

// Processor is one market analyzer. Implementations are pure functions
// of the candle window and hold no mutable state.
type Processor interface {
	Name() string
	Validate(candles []exchange.Candle) bool
	Process(candles []exchange.Candle) *Result
}

// Run executes a processor inside a guard: a failed validation or a
// panic inside Process is converted into an errors-populated result
// instead of propagating to the caller.
func Run(p Processor, candles []exchange.Candle) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result = &Result{
				ProcessorName: p.Name(),
				Timestamp:     time.Now(),
				Data:          map[string]interface{}{},
				Metrics:       map[string]float64{},
				Errors:        []string{fmt.Sprintf("processor panic: %v", r)},
			}
		}
	}()

	if !p.Validate(candles) {
		return &Result{
			ProcessorName: p.Name(),
			Timestamp:     time.Now(),
			Data:          map[string]interface{}{},
			Metrics:       map[string]float64{},
			Errors:        []string{"input validation failed"},
		}
	}

	return p.Process(candles)
}

func closes(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func highs(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func lows(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func volumes(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func tailCandles(candles []exchange.Candle, n int) []exchange.Candle {
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}
