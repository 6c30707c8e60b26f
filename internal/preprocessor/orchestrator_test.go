package preprocessor

import (
	"errors"
	"testing"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

// stubProcessor returns canned results for orchestrator tests
type stubProcessor struct {
	name    string
	signals []string
	metrics map[string]float64
	err     error
	panics  bool
}

func (s *stubProcessor) Name() string { return s.name }

func (s *stubProcessor) Validate(candles []exchange.Candle) bool { return true }

func (s *stubProcessor) Process(candles []exchange.Candle) *Result {
	if s.panics {
		panic("stub panic")
	}
	if s.err != nil {
		return &Result{
			ProcessorName: s.name,
			Timestamp:     time.Now(),
			Data:          map[string]interface{}{},
			Metrics:       map[string]float64{},
			Errors:        []string{s.err.Error()},
		}
	}
	return &Result{
		ProcessorName: s.name,
		Timestamp:     time.Now(),
		Data:          map[string]interface{}{"stub": true},
		Metrics:       s.metrics,
		Signals:       s.signals,
	}
}

func registerStub(t *testing.T, s *stubProcessor) {
	t.Helper()
	Register(s.name, func() Processor { return s })
	t.Cleanup(func() { delete(registry, s.name) })
}

func TestProcessAllRunsFullDefaultSet(t *testing.T) {
	o := NewOrchestrator(nil)
	candles := candlesFromCloses(risingCloses(60, 100, 0.5), 1000)

	results := o.ProcessAll(candles)
	if len(results) != len(DefaultProcessors) {
		t.Fatalf("got %d results, want %d", len(results), len(DefaultProcessors))
	}
	for _, name := range DefaultProcessors {
		result, ok := results[name]
		if !ok {
			t.Fatalf("missing result for %s", name)
		}
		if !result.IsValid() {
			t.Errorf("%s result invalid: %v", name, result.Errors)
		}
	}
}

func TestFailingProcessorDoesNotBlockOthers(t *testing.T) {
	registerStub(t, &stubProcessor{name: "broken", err: errors.New("boom")})
	registerStub(t, &stubProcessor{name: "healthy", signals: []string{"all good"}})

	o := NewOrchestrator([]string{"broken", "healthy"})
	results := o.ProcessAll(candlesFromCloses(flatCloses(30, 100), 1000))

	if results["broken"].IsValid() {
		t.Error("broken processor result should be invalid")
	}
	if len(results["broken"].Errors) == 0 {
		t.Error("broken processor result should carry the error")
	}
	if !results["healthy"].IsValid() {
		t.Error("healthy processor should still succeed")
	}
}

func TestPanickingProcessorIsContained(t *testing.T) {
	registerStub(t, &stubProcessor{name: "panicky", panics: true})
	registerStub(t, &stubProcessor{name: "steady", signals: []string{"ok"}})

	o := NewOrchestrator([]string{"panicky", "steady"})
	results := o.ProcessAll(candlesFromCloses(flatCloses(30, 100), 1000))

	if results["panicky"].IsValid() {
		t.Error("panicking processor result should be invalid")
	}
	if !results["steady"].IsValid() {
		t.Error("steady processor should still succeed")
	}
}

func TestCombinedSignalsPrefixAndDedupe(t *testing.T) {
	registerStub(t, &stubProcessor{name: "alpha", signals: []string{"momentum rising", "momentum rising", "volume surge"}})
	registerStub(t, &stubProcessor{name: "beta", signals: []string{"momentum rising"}})

	o := NewOrchestrator([]string{"alpha", "beta"})
	results := o.ProcessAll(candlesFromCloses(flatCloses(30, 100), 1000))

	combined := o.CombinedSignals(results)
	want := []string{
		"[alpha] momentum rising",
		"[alpha] volume surge",
		"[beta] momentum rising",
	}
	if len(combined) != len(want) {
		t.Fatalf("got %d signals %v, want %d", len(combined), combined, len(want))
	}
	for i, s := range want {
		if combined[i] != s {
			t.Errorf("signal[%d] = %q, want %q", i, combined[i], s)
		}
	}
}

func TestCombinedMetricsPrefixesProcessorName(t *testing.T) {
	registerStub(t, &stubProcessor{name: "gamma", metrics: map[string]float64{"score": 42}})

	o := NewOrchestrator([]string{"gamma"})
	results := o.ProcessAll(candlesFromCloses(flatCloses(30, 100), 1000))

	metrics := o.CombinedMetrics(results)
	if metrics["gamma_score"] != 42 {
		t.Errorf("gamma_score = %f, want 42", metrics["gamma_score"])
	}
}

func TestSummarizeSentimentNeedsDominance(t *testing.T) {
	registerStub(t, &stubProcessor{name: "mixed", signals: []string{
		"bullish engulfing detected",
		"bullish volume spike",
		"bearish divergence forming",
	}})

	o := NewOrchestrator([]string{"mixed"})
	results := o.ProcessAll(candlesFromCloses(flatCloses(30, 100), 1000))

	// 2 bullish vs 1 bearish does not clear the 1.5x bar
	summary := o.Summarize(results)
	if summary.OverallSentiment != "neutral" {
		t.Errorf("sentiment = %s, want neutral", summary.OverallSentiment)
	}
}

func TestSummarizeBullishSentiment(t *testing.T) {
	registerStub(t, &stubProcessor{name: "bullcase", signals: []string{
		"bullish engulfing detected",
		"bullish volume spike",
		"buy pressure building",
		"bearish divergence forming",
	}})

	o := NewOrchestrator([]string{"bullcase"})
	results := o.ProcessAll(candlesFromCloses(flatCloses(30, 100), 1000))

	summary := o.Summarize(results)
	if summary.OverallSentiment != "bullish" {
		t.Errorf("sentiment = %s, want bullish", summary.OverallSentiment)
	}
}

func TestSummarizeCountsAndDominantPattern(t *testing.T) {
	registerStub(t, &stubProcessor{name: "failing", err: errors.New("no data")})

	o := NewOrchestrator([]string{"candlestick", "failing"})

	// bullish engulfing setup gives the candlestick analyzer a pattern
	candles := candlesFromCloses(flatCloses(30, 100), 1000)
	candles[28] = candle(105, 105.5, 103, 103.5)
	candles[29] = candle(103, 107, 102.5, 106)

	results := o.ProcessAll(candles)
	summary := o.Summarize(results)

	if summary.Successful != 1 || summary.Failed != 1 {
		t.Errorf("successful/failed = %d/%d, want 1/1", summary.Successful, summary.Failed)
	}
	if summary.DominantPattern == "" {
		t.Error("expected a dominant pattern from the candlestick analyzer")
	}
	if summary.SignalCount != len(summary.Signals) {
		t.Errorf("signal count %d != len(signals) %d", summary.SignalCount, len(summary.Signals))
	}
}
