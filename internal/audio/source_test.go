package audio

import (
	"testing"
	"time"
)

func TestApplyMeterSamplePeakDecay(t *testing.T) {
	samples := []float64{0.2, 0.9, 0.1, 0.1, 0.1}
	wantPeaks := []float64{0.2, 0.9, 0.855, 0.81225, 0.7716375}

	src := &Source{Name: "Mic"}
	now := time.Now()
	for i, amplitude := range samples {
		src.applyMeterSample(amplitude, AmplitudeToDb(amplitude), now)
		if !almostEqual(src.PeakLevel, wantPeaks[i]) {
			t.Errorf("peak after sample %d (%v) = %v, want %v", i, amplitude, src.PeakLevel, wantPeaks[i])
		}
	}
}

func TestApplyMeterSampleNewPeakOvertakesDecay(t *testing.T) {
	src := &Source{Name: "Mic"}
	now := time.Now()
	src.applyMeterSample(0.5, AmplitudeToDb(0.5), now)
	src.applyMeterSample(0.9, AmplitudeToDb(0.9), now)

	if !almostEqual(src.PeakLevel, 0.9) {
		t.Errorf("peak = %v, want the louder new sample 0.9", src.PeakLevel)
	}
}

func TestAverageDividesByFullWindow(t *testing.T) {
	src := &Source{Name: "Mic"}
	now := time.Now()

	// The history starts primed with silence, so a single sample is
	// averaged against 29 zeros.
	src.applyMeterSample(0.3, AmplitudeToDb(0.3), now)
	if want := 0.3 / historySize; !almostEqual(src.AverageLevel, want) {
		t.Errorf("average after one sample = %v, want %v", src.AverageLevel, want)
	}

	// A full window of identical samples converges to the sample value.
	for i := 0; i < historySize; i++ {
		src.applyMeterSample(0.5, AmplitudeToDb(0.5), now)
	}
	if !almostEqual(src.AverageLevel, 0.5) {
		t.Errorf("average after full window = %v, want 0.5", src.AverageLevel)
	}
}

func TestLevelRingOverwritesOldest(t *testing.T) {
	var r levelRing
	for i := 0; i < historySize; i++ {
		r.push(1.0)
	}
	r.push(0)

	want := float64(historySize-1) / historySize
	if !almostEqual(r.mean(), want) {
		t.Errorf("mean = %v, want %v", r.mean(), want)
	}
}

func TestApplyMeterSampleRecordsInstantaneous(t *testing.T) {
	src := &Source{Name: "Mic"}
	now := time.Now()
	src.applyMeterSample(0.25, AmplitudeToDb(0.25), now)

	if src.LevelAmplitude != 0.25 {
		t.Errorf("amplitude = %v, want 0.25", src.LevelAmplitude)
	}
	if !almostEqual(src.LevelDb, AmplitudeToDb(0.25)) {
		t.Errorf("db = %v, want %v", src.LevelDb, AmplitudeToDb(0.25))
	}
	if !src.LastUpdate.Equal(now) {
		t.Errorf("last update = %v, want %v", src.LastUpdate, now)
	}
}
