package preprocessor

import (
	"fmt"
	"time"

	"github.com/koofree/trading-bot/internal/exchange"
)

// VolumeSpike is a bar whose volume exceeds mean + 2 std deviations
type VolumeSpike struct {
	Index       int     `json:"index"`
	Volume      float64 `json:"volume"`
	Ratio       float64 `json:"ratio"`
	PriceChange float64 `json:"price_change"`
	Type        string  `json:"type"`
}

// VolumeDryup is a bar trading below half the average volume
type VolumeDryup struct {
	Index  int     `json:"index"`
	Volume float64 `json:"volume"`
	Ratio  float64 `json:"ratio"`
}

// VolumePatterns groups the detected volume behaviors
type VolumePatterns struct {
	VolumeTrend   string        `json:"volume_trend"`
	TrendStrength float64       `json:"trend_strength"`
	Spikes        []VolumeSpike `json:"spikes"`
	Dryups        []VolumeDryup `json:"dryups"`
	Phase         string        `json:"phase"`
}

// VolumeIndicators holds volume-derived technical indicators
type VolumeIndicators struct {
	OBV         float64 `json:"obv"`
	OBVTrend    string  `json:"obv_trend"`
	VWAP        float64 `json:"vwap"`
	PriceVsVWAP float64 `json:"price_vs_vwap"`
	MFI         float64 `json:"mfi"`
	VROC        float64 `json:"vroc"`
	ADL         float64 `json:"adl"`
	ADLTrend    string  `json:"adl_trend"`
}

// ProfileLevel is one price bin of the volume profile
type ProfileLevel struct {
	PriceLow   float64 `json:"price_low"`
	PriceHigh  float64 `json:"price_high"`
	Volume     float64 `json:"volume"`
	Percentage float64 `json:"percentage"`
}

// VolumeProfile buckets traded volume into price bins
type VolumeProfile struct {
	Levels    []ProfileLevel `json:"levels"`
	POC       float64        `json:"poc"` // midpoint of the highest-volume bin
	POCVolume float64        `json:"poc_volume"`
}

// VolumeProcessor analyzes volume patterns and volume-price relationships
type VolumeProcessor struct{}

// NewVolumeProcessor creates a volume analyzer
func NewVolumeProcessor() *VolumeProcessor {
	return &VolumeProcessor{}
}

func (p *VolumeProcessor) Name() string { return "volume" }

func (p *VolumeProcessor) Validate(candles []exchange.Candle) bool {
	return len(candles) > 0
}

func (p *VolumeProcessor) Process(candles []exchange.Candle) *Result {
	patterns := p.analyzePatterns(candles)
	indicators := p.calculateIndicators(candles)

	totalVolume := 0.0
	for _, c := range candles {
		totalVolume += c.Volume
	}

	return &Result{
		ProcessorName: p.Name(),
		Timestamp:     time.Now(),
		Data: map[string]interface{}{
			"patterns":                 patterns,
			"indicators":               indicators,
			"volume_profile":           p.calculateVolumeProfile(candles),
			"price_volume_correlation": p.calculatePVCorrelation(candles),
		},
		Metrics: p.calculateMetrics(candles),
		Signals: p.generateSignals(candles, patterns, indicators),
		Metadata: map[string]interface{}{
			"total_periods": len(candles),
			"total_volume":  totalVolume,
		},
	}
}

func (p *VolumeProcessor) calculateMetrics(candles []exchange.Candle) map[string]float64 {
	vols := volumes(candles)
	current := vols[len(vols)-1]
	avg := mean(vols)
	std := stdDev(vols)

	volMA5 := avg
	if len(vols) >= 5 {
		volMA5 = mean(tail(vols, 5))
	}
	volMA20 := avg
	if len(vols) >= 20 {
		volMA20 = mean(tail(vols, 20))
	}

	belowOrEqual := 0
	for _, v := range vols {
		if v <= current {
			belowOrEqual++
		}
	}

	return map[string]float64{
		"current_volume":    current,
		"average_volume":    avg,
		"volume_ratio":      safeDivide(current, avg, 1.0),
		"volume_ma5":        volMA5,
		"volume_ma20":       volMA20,
		"volume_std":        std,
		"volume_zscore":     safeDivide(current-avg, std, 0),
		"max_volume":        maxFloat(vols),
		"min_volume":        minFloat(vols),
		"volume_percentile": float64(belowOrEqual) / float64(len(vols)) * 100,
	}
}

func (p *VolumeProcessor) analyzePatterns(candles []exchange.Candle) VolumePatterns {
	vols := volumes(candles)
	patterns := VolumePatterns{VolumeTrend: "stable"}

	if len(vols) >= 10 {
		recentAvg := mean(vols[len(vols)-5:])
		olderAvg := mean(vols[len(vols)-10 : len(vols)-5])

		if recentAvg > olderAvg*1.2 {
			patterns.VolumeTrend = "increasing"
			patterns.TrendStrength = (recentAvg/olderAvg - 1) * 100
		} else if recentAvg < olderAvg*0.8 {
			patterns.VolumeTrend = "decreasing"
			patterns.TrendStrength = (1 - recentAvg/olderAvg) * 100
		}
	}

	patterns.Spikes = p.detectSpikes(candles)
	patterns.Dryups = p.detectDryups(candles)
	patterns.Phase = p.detectPhase(candles)

	return patterns
}

func (p *VolumeProcessor) detectSpikes(candles []exchange.Candle) []VolumeSpike {
	var spikes []VolumeSpike

	vols := volumes(candles)
	avg := mean(vols)
	std := stdDev(vols)
	threshold := avg + 2*std

	for i, c := range candles {
		if c.Volume <= threshold {
			continue
		}

		prevClose := c.Close
		if i > 0 {
			prevClose = candles[i-1].Close
		}
		priceChange := safeDivide(c.Close-prevClose, prevClose, 0) * 100

		spikeType := "neutral_spike"
		if priceChange > 1 {
			spikeType = "bullish_spike"
		} else if priceChange < -1 {
			spikeType = "bearish_spike"
		}

		spikes = append(spikes, VolumeSpike{
			Index:       i,
			Volume:      c.Volume,
			Ratio:       safeDivide(c.Volume, avg, 0),
			PriceChange: priceChange,
			Type:        spikeType,
		})
	}

	if len(spikes) > 5 {
		spikes = spikes[len(spikes)-5:]
	}
	return spikes
}

func (p *VolumeProcessor) detectDryups(candles []exchange.Candle) []VolumeDryup {
	var dryups []VolumeDryup
	avg := mean(volumes(candles))

	for i, c := range candles {
		if c.Volume < avg*0.5 {
			dryups = append(dryups, VolumeDryup{
				Index:  i,
				Volume: c.Volume,
				Ratio:  safeDivide(c.Volume, avg, 0),
			})
		}
	}

	if len(dryups) > 5 {
		dryups = dryups[len(dryups)-5:]
	}
	return dryups
}

// detectPhase classifies the last 20 bars by price and volume direction
func (p *VolumeProcessor) detectPhase(candles []exchange.Candle) string {
	if len(candles) < 20 {
		return "insufficient_data"
	}

	recent := candles[len(candles)-20:]

	priceRising := recent[len(recent)-1].Close > recent[0].Close

	vols := volumes(recent)
	volumeIncreasing := mean(vols[10:]) > mean(vols[:10])

	switch {
	case priceRising && volumeIncreasing:
		return "accumulation"
	case !priceRising && volumeIncreasing:
		return "distribution"
	case priceRising && !volumeIncreasing:
		return "markup"
	default:
		return "markdown"
	}
}

func (p *VolumeProcessor) calculateIndicators(candles []exchange.Candle) VolumeIndicators {
	obv := calculateOBV(candles)
	adl := calculateADL(candles)

	obvTrend := "neutral"
	if len(obv) >= 5 {
		if obv[len(obv)-1] > obv[len(obv)-5] {
			obvTrend = "up"
		} else {
			obvTrend = "down"
		}
	}

	vwap := calculateVWAP(candles)
	priceVsVWAP := 0.0
	if vwap > 0 {
		priceVsVWAP = (candles[len(candles)-1].Close/vwap - 1) * 100
	}

	adlLast := 0.0
	if len(adl) > 0 {
		adlLast = adl[len(adl)-1]
	}

	return VolumeIndicators{
		OBV:         obv[len(obv)-1],
		OBVTrend:    obvTrend,
		VWAP:        vwap,
		PriceVsVWAP: priceVsVWAP,
		MFI:         calculateMFI(candles, 14),
		VROC:        calculateVROC(candles, 10),
		ADL:         adlLast,
		ADLTrend:    seriesTrend(adl),
	}
}

func calculateOBV(candles []exchange.Candle) []float64 {
	obv := make([]float64, len(candles))
	obv[0] = candles[0].Volume

	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv[i] = obv[i-1] + candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			obv[i] = obv[i-1] - candles[i].Volume
		default:
			obv[i] = obv[i-1]
		}
	}
	return obv
}

func calculateVWAP(candles []exchange.Candle) float64 {
	var volumeSum, weightedSum float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		weightedSum += typical * c.Volume
		volumeSum += c.Volume
	}
	if volumeSum == 0 {
		return 0
	}
	return weightedSum / volumeSum
}

// calculateMFI computes a simplified Money Flow Index. Returns 100
// when there is no negative flow in the window, 50 on short input.
func calculateMFI(candles []exchange.Candle, period int) float64 {
	if len(candles) < period {
		return 50
	}

	typical := func(c exchange.Candle) float64 {
		return (c.High + c.Low + c.Close) / 3
	}

	var positiveFlow, negativeFlow float64
	n := len(candles)
	limit := period + 1
	if limit > n {
		limit = n
	}
	for i := 1; i < limit; i++ {
		cur := candles[n-i]
		prev := candles[n-i-1]
		flow := typical(cur) * cur.Volume
		if typical(cur) > typical(prev) {
			positiveFlow += flow
		} else {
			negativeFlow += flow
		}
	}

	if negativeFlow == 0 {
		return 100
	}

	ratio := positiveFlow / negativeFlow
	return 100 - 100/(1+ratio)
}

func calculateVROC(candles []exchange.Candle, period int) float64 {
	if len(candles) <= period {
		return 0
	}
	current := candles[len(candles)-1].Volume
	past := candles[len(candles)-period-1].Volume
	if past == 0 {
		return 0
	}
	return (current - past) / past * 100
}

// calculateADL computes the cumulative Accumulation/Distribution Line
func calculateADL(candles []exchange.Candle) []float64 {
	adl := make([]float64, len(candles))
	cumulative := 0.0

	for i, c := range candles {
		hlRange := c.High - c.Low
		mfm := 0.0
		if hlRange != 0 {
			mfm = ((c.Close - c.Low) - (c.High - c.Close)) / hlRange
		}
		cumulative += mfm * c.Volume
		adl[i] = cumulative
	}
	return adl
}

func seriesTrend(series []float64) string {
	if len(series) < 5 {
		return "neutral"
	}

	recent := mean(series[len(series)-5:])
	var older float64
	if len(series) >= 10 {
		older = mean(series[len(series)-10 : len(series)-5])
	} else {
		older = mean(series[:len(series)-5])
	}

	if recent > older*1.05 {
		return "up"
	}
	if recent < older*0.95 {
		return "down"
	}
	return "neutral"
}

func (p *VolumeProcessor) calculateVolumeProfile(candles []exchange.Candle) VolumeProfile {
	if len(candles) < 10 {
		return VolumeProfile{}
	}

	cs := closes(candles)
	lo := minFloat(cs)
	hi := maxFloat(cs)

	if hi == lo {
		return VolumeProfile{POC: lo}
	}

	nBins := len(candles) / 2
	if nBins > 10 {
		nBins = 10
	}

	binWidth := (hi - lo) / float64(nBins)
	levels := make([]ProfileLevel, nBins)

	totalVolume := 0.0
	for _, c := range candles {
		totalVolume += c.Volume
	}

	for i := 0; i < nBins; i++ {
		levels[i].PriceLow = lo + binWidth*float64(i)
		levels[i].PriceHigh = lo + binWidth*float64(i+1)
	}

	for _, c := range candles {
		bin := int((c.Close - lo) / binWidth)
		if bin >= nBins {
			// the exact maximum lands past the last half-open bin
			continue
		}
		levels[bin].Volume += c.Volume
	}

	pocIdx := 0
	for i := range levels {
		if totalVolume > 0 {
			levels[i].Percentage = levels[i].Volume / totalVolume * 100
		}
		if levels[i].Volume > levels[pocIdx].Volume {
			pocIdx = i
		}
	}

	return VolumeProfile{
		Levels:    levels,
		POC:       (levels[pocIdx].PriceLow + levels[pocIdx].PriceHigh) / 2,
		POCVolume: levels[pocIdx].Volume,
	}
}

func (p *VolumeProcessor) calculatePVCorrelation(candles []exchange.Candle) float64 {
	if len(candles) < 5 {
		return 0
	}

	changes := pctChanges(closes(candles))
	vols := volumes(candles)[1:]

	return pearson(changes, vols)
}

func (p *VolumeProcessor) generateSignals(candles []exchange.Candle, patterns VolumePatterns, indicators VolumeIndicators) []string {
	var signals []string

	if patterns.VolumeTrend == "increasing" && patterns.TrendStrength > 50 {
		signals = append(signals, "Strong volume increase detected")
	} else if patterns.VolumeTrend == "decreasing" {
		signals = append(signals, "Volume drying up - potential reversal")
	}

	for _, spike := range patterns.Spikes {
		if spike.Index < len(candles)-5 {
			continue
		}
		switch spike.Type {
		case "bullish_spike":
			signals = append(signals, fmt.Sprintf("Bullish volume spike: %.1fx average", spike.Ratio))
		case "bearish_spike":
			signals = append(signals, fmt.Sprintf("Bearish volume spike: %.1fx average", spike.Ratio))
		}
	}

	switch patterns.Phase {
	case "accumulation":
		signals = append(signals, "Accumulation phase detected - bullish")
	case "distribution":
		signals = append(signals, "Distribution phase detected - bearish")
	}

	if indicators.MFI > 80 {
		signals = append(signals, "MFI overbought (>80)")
	} else if indicators.MFI < 20 {
		signals = append(signals, "MFI oversold (<20)")
	}

	if indicators.PriceVsVWAP > 2 {
		signals = append(signals, "Price significantly above VWAP")
	} else if indicators.PriceVsVWAP < -2 {
		signals = append(signals, "Price significantly below VWAP")
	}

	return signals
}
