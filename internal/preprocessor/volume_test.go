package preprocessor

import (
	"strings"
	"testing"
)

func TestVolumeSpikeDetection(t *testing.T) {
	// 50 flat-volume candles plus one closing candle at 5x volume
	closes := flatCloses(51, 100)
	closes[50] = 103 // spike comes with a price jump
	candles := candlesFromCloses(closes, 1000)
	candles[50].Volume = 5000

	result := Run(NewVolumeProcessor(), candles)
	if !result.IsValid() {
		t.Fatalf("expected valid result, errors: %v", result.Errors)
	}

	patterns := result.Data["patterns"].(VolumePatterns)
	if len(patterns.Spikes) == 0 {
		t.Fatal("expected a volume spike")
	}

	spike := patterns.Spikes[len(patterns.Spikes)-1]
	if spike.Index != 50 {
		t.Errorf("spike index = %d, want 50", spike.Index)
	}
	// mean volume is (50*1000 + 5000) / 51, so the ratio is just under 5
	if !approxEqual(spike.Ratio, 5.0, 0.5) {
		t.Errorf("spike ratio = %f, want ~5.0", spike.Ratio)
	}
	if spike.Type != "bullish_spike" {
		t.Errorf("spike with +3%% price change should be bullish_spike, got %s", spike.Type)
	}

	spikeSignal := false
	for _, s := range result.Signals {
		if strings.Contains(strings.ToLower(s), "spike") {
			spikeSignal = true
		}
	}
	if !spikeSignal {
		t.Errorf("expected a spike signal, got %v", result.Signals)
	}
}

func TestVolumeDryups(t *testing.T) {
	candles := candlesFromCloses(flatCloses(30, 100), 1000)
	candles[28].Volume = 100 // well under half the average

	result := Run(NewVolumeProcessor(), candles)
	patterns := result.Data["patterns"].(VolumePatterns)

	found := false
	for _, d := range patterns.Dryups {
		if d.Index == 28 {
			found = true
			if d.Ratio >= 0.5 {
				t.Errorf("dryup ratio = %f, want < 0.5", d.Ratio)
			}
		}
	}
	if !found {
		t.Errorf("expected dryup at index 28, got %+v", patterns.Dryups)
	}
}

func TestAccumulationPhase(t *testing.T) {
	// rising price over the last 20 bars with rising volume
	candles := candlesFromCloses(risingCloses(30, 100, 1), 1000)
	for i := 20; i < 30; i++ {
		candles[i].Volume = 2000
	}

	result := Run(NewVolumeProcessor(), candles)
	patterns := result.Data["patterns"].(VolumePatterns)

	if patterns.Phase != "accumulation" {
		t.Errorf("phase = %s, want accumulation", patterns.Phase)
	}
}

func TestDistributionPhase(t *testing.T) {
	// falling price with rising volume
	candles := candlesFromCloses(risingCloses(30, 200, -1), 1000)
	for i := 20; i < 30; i++ {
		candles[i].Volume = 2000
	}

	result := Run(NewVolumeProcessor(), candles)
	patterns := result.Data["patterns"].(VolumePatterns)

	if patterns.Phase != "distribution" {
		t.Errorf("phase = %s, want distribution", patterns.Phase)
	}
}

func TestPhaseInsufficientData(t *testing.T) {
	candles := candlesFromCloses(flatCloses(10, 100), 1000)
	result := Run(NewVolumeProcessor(), candles)
	patterns := result.Data["patterns"].(VolumePatterns)

	if patterns.Phase != "insufficient_data" {
		t.Errorf("phase = %s, want insufficient_data for short window", patterns.Phase)
	}
}

func TestOBVAccumulatesSignedVolume(t *testing.T) {
	// up, up, down closes
	candles := candlesFromCloses([]float64{100, 101, 102, 101}, 1000)

	obv := calculateOBV(candles)
	// 1000 start, +1000, +1000, -1000
	want := []float64{1000, 2000, 3000, 2000}
	for i := range want {
		if obv[i] != want[i] {
			t.Errorf("obv[%d] = %f, want %f", i, obv[i], want[i])
		}
	}
}

func TestMFIWithoutNegativeFlow(t *testing.T) {
	candles := candlesFromCloses(risingCloses(20, 100, 1), 1000)
	mfi := calculateMFI(candles, 14)
	if mfi != 100 {
		t.Errorf("MFI = %f, want 100 with no negative flow", mfi)
	}
}

func TestMFIShortWindowIsNeutral(t *testing.T) {
	candles := candlesFromCloses(risingCloses(5, 100, 1), 1000)
	if mfi := calculateMFI(candles, 14); mfi != 50 {
		t.Errorf("MFI = %f, want neutral 50", mfi)
	}
}

func TestVROC(t *testing.T) {
	candles := candlesFromCloses(flatCloses(15, 100), 1000)
	candles[14].Volume = 1500

	vroc := calculateVROC(candles, 10)
	if !approxEqual(vroc, 50, 0.001) {
		t.Errorf("VROC = %f, want 50", vroc)
	}
}

func TestVolumeProfilePOC(t *testing.T) {
	// most volume trades around 100, a few bars near 110
	closes := append(flatCloses(16, 100), 110, 110, 110, 110)
	candles := candlesFromCloses(closes, 1000)
	for i := 0; i < 16; i++ {
		candles[i].Volume = 5000
	}

	result := Run(NewVolumeProcessor(), candles)
	profile := result.Data["volume_profile"].(VolumeProfile)

	if len(profile.Levels) == 0 {
		t.Fatal("expected profile levels")
	}
	// POC should sit in the lowest bin, near 100
	if profile.POC > 102 {
		t.Errorf("POC = %f, want near 100", profile.POC)
	}
}

func TestVolumeMetricsRatio(t *testing.T) {
	candles := candlesFromCloses(flatCloses(20, 100), 1000)
	candles[19].Volume = 2000

	result := Run(NewVolumeProcessor(), candles)

	// mean = (19*1000 + 2000) / 20 = 1050
	if !approxEqual(result.Metrics["volume_ratio"], 2000.0/1050.0, 0.001) {
		t.Errorf("volume_ratio = %f", result.Metrics["volume_ratio"])
	}
	if result.Metrics["max_volume"] != 2000 {
		t.Errorf("max_volume = %f, want 2000", result.Metrics["max_volume"])
	}
}
