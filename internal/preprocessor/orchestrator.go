package preprocessor

import (
	"strings"

	"github.com/koofree/trading-bot/internal/exchange"
)

// DefaultProcessors is the standard analyzer set, in run order
var DefaultProcessors = []string{"candlestick", "volume", "price_action", "trend", "volatility"}

// registry maps processor names to constructors
var registry = map[string]func() Processor{
	"candlestick":  func() Processor { return NewCandlestickProcessor() },
	"volume":       func() Processor { return NewVolumeProcessor() },
	"price_action": func() Processor { return NewPriceActionProcessor() },
	"trend":        func() Processor { return NewTrendProcessor() },
	"volatility":   func() Processor { return NewVolatilityProcessor() },
}

// Register adds a processor constructor to the registry
func Register(name string, constructor func() Processor) {
	registry[name] = constructor
}

// Available lists registered processor names
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Create builds a processor by name, or nil if unknown
func Create(name string) Processor {
	if constructor, ok := registry[name]; ok {
		return constructor()
	}
	return nil
}

// Orchestrator runs a configured set of analyzers against one candle
// window and merges their results.
type Orchestrator struct {
	order      []string
	processors map[string]Processor
}

// NewOrchestrator creates an orchestrator with the named processors.
// Unknown names are skipped; nil or empty selects the default set.
func NewOrchestrator(names []string) *Orchestrator {
	if len(names) == 0 {
		names = DefaultProcessors
	}

	o := &Orchestrator{processors: make(map[string]Processor)}
	for _, name := range names {
		if p := Create(name); p != nil {
			o.order = append(o.order, name)
			o.processors[name] = p
		}
	}
	return o
}

// Processors returns the configured processor names in run order
func (o *Orchestrator) Processors() []string {
	return o.order
}

// ProcessAll runs every configured analyzer against the candle window.
// A failing analyzer never blocks the others; its result carries the
// error.
func (o *Orchestrator) ProcessAll(candles []exchange.Candle) map[string]*Result {
	results := make(map[string]*Result, len(o.processors))
	for _, name := range o.order {
		results[name] = Run(o.processors[name], candles)
	}
	return results
}

// CombinedSignals merges valid results' signals, each prefixed with
// its processor name, deduplicated preserving first-seen order.
func (o *Orchestrator) CombinedSignals(results map[string]*Result) []string {
	seen := make(map[string]bool)
	var combined []string

	for _, name := range o.order {
		result, ok := results[name]
		if !ok || !result.IsValid() {
			continue
		}
		for _, signal := range result.Signals {
			tagged := "[" + name + "] " + signal
			if !seen[tagged] {
				seen[tagged] = true
				combined = append(combined, tagged)
			}
		}
	}
	return combined
}

// CombinedMetrics merges valid results' metrics with processor-name
// prefixed keys.
func (o *Orchestrator) CombinedMetrics(results map[string]*Result) map[string]float64 {
	combined := make(map[string]float64)
	for _, name := range o.order {
		result, ok := results[name]
		if !ok || !result.IsValid() {
			continue
		}
		for key, value := range result.Metrics {
			combined[name+"_"+key] = value
		}
	}
	return combined
}

// Summary condenses a result set into headline findings
type Summary struct {
	TotalProcessors  int                `json:"total_processors"`
	Successful       int                `json:"successful"`
	Failed           int                `json:"failed"`
	Signals          []string           `json:"signals"`
	SignalCount      int                `json:"signal_count"`
	KeyMetrics       map[string]float64 `json:"key_metrics"`
	DominantPattern  string             `json:"dominant_pattern,omitempty"`
	OverallSentiment string             `json:"overall_sentiment"`
}

// Summarize reports success/failure counts, the dominant candlestick
// pattern, and an overall sentiment from signal keyword counts with a
// 1.5x dominance requirement.
func (o *Orchestrator) Summarize(results map[string]*Result) Summary {
	signals := o.CombinedSignals(results)

	summary := Summary{
		TotalProcessors:  len(results),
		Signals:          signals,
		SignalCount:      len(signals),
		KeyMetrics:       make(map[string]float64),
		OverallSentiment: "neutral",
	}

	for _, result := range results {
		if result.IsValid() {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	bullish, bearish := 0, 0
	for _, s := range signals {
		lower := strings.ToLower(s)
		if strings.Contains(lower, "bullish") || strings.Contains(lower, "buy") {
			bullish++
		}
		if strings.Contains(lower, "bearish") || strings.Contains(lower, "sell") {
			bearish++
		}
	}
	if float64(bullish) > float64(bearish)*1.5 {
		summary.OverallSentiment = "bullish"
	} else if float64(bearish) > float64(bullish)*1.5 {
		summary.OverallSentiment = "bearish"
	}

	if result, ok := results["candlestick"]; ok && result.IsValid() {
		if patterns, ok := result.Data["patterns"].([]Pattern); ok && len(patterns) > 0 {
			summary.DominantPattern = patterns[0].Name
		}
	}

	metrics := o.CombinedMetrics(results)
	for _, key := range []string{
		"volume_volume_ratio",
		"trend_trend_score",
		"volatility_current_volatility",
		"candlestick_body_ratio",
	} {
		if value, ok := metrics[key]; ok {
			summary.KeyMetrics[key] = value
		}
	}

	return summary
}
