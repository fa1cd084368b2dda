package audio

import "time"

const (
	// historySize is the number of meter samples kept per source for
	// smoothing.
	historySize = 30
	// peakDecay is applied to the running peak on every meter update.
	peakDecay = 0.95
)

// Source is one tracked remote audio input.
type Source struct {
	Name string
	Kind string

	Volume float64
	Muted  bool

	LevelAmplitude float64
	LevelDb        float64
	PeakLevel      float64
	AverageLevel   float64

	// MidiMapping is the control id mapped to this source, if any. Relation
	// only; the mapping store owns the mapping itself.
	MidiMapping string

	LastUpdate time.Time

	history levelRing
}

// applyMeterSample records one instantaneous meter reading and refreshes the
// derived smoothing values.
func (s *Source) applyMeterSample(amplitude, db float64, now time.Time) {
	s.LevelAmplitude = amplitude
	s.LevelDb = db
	s.LastUpdate = now

	s.history.push(amplitude)
	s.AverageLevel = s.history.mean()

	decayed := s.PeakLevel * peakDecay
	if amplitude > decayed {
		s.PeakLevel = amplitude
	} else {
		s.PeakLevel = decayed
	}
}

// levelRing is a fixed-capacity ring of the most recent meter samples. It
// starts primed with silence, so the mean always divides by the full
// capacity.
type levelRing struct {
	samples [historySize]float64
	next    int
}

func (r *levelRing) push(v float64) {
	r.samples[r.next] = v
	r.next = (r.next + 1) % historySize
}

func (r *levelRing) mean() float64 {
	var sum float64
	for _, v := range r.samples {
		sum += v
	}
	return sum / historySize
}

// Scene is one remote switchable output configuration.
type Scene struct {
	Name  string
	Index int
}
