package audio

import (
	"fmt"
	"math"
)

// dbFloor stands in for negative infinity on the dB scale.
const dbFloor = -100

// silenceThreshold is the amplitude below which a signal is treated as
// silence and mapped to the dB floor.
const silenceThreshold = 1e-4

// AmplitudeToDb converts a linear amplitude (0..1) to decibels, clamped to
// [-100, 0]. Amplitudes at or below the silence threshold map to the floor.
func AmplitudeToDb(amplitude float64) float64 {
	if amplitude <= silenceThreshold {
		return dbFloor
	}
	db := 20 * math.Log10(amplitude)
	return math.Max(dbFloor, math.Min(0, db))
}

// DbToAmplitude is the inverse of AmplitudeToDb. The floor maps to zero.
func DbToAmplitude(db float64) float64 {
	if db <= dbFloor {
		return 0
	}
	return math.Pow(10, db/20)
}

// Meter curve breakpoints. The loud end gets proportionally more visual space
// than a straight dB scale would give it, the way hardware meters behave.
const (
	meterFloorDb = -60.0
	meterKneeDb  = -20.0
	meterKneePos = 0.6
)

// DbToMeterPosition maps decibels to a [0,1] meter-bar position with a
// two-segment piecewise-linear curve: [-60,-20] dB fills [0,0.6] and
// [-20,0] dB fills [0.6,1.0].
func DbToMeterPosition(db float64) float64 {
	if db <= meterFloorDb {
		return 0
	}
	if db >= 0 {
		return 1
	}
	if db > meterKneeDb {
		return meterKneePos + (db-meterKneeDb)/(0-meterKneeDb)*(1-meterKneePos)
	}
	return (db - meterFloorDb) / (meterKneeDb - meterFloorDb) * meterKneePos
}

// LevelBand is the categorical color band for a level.
type LevelBand string

const (
	LevelHot  LevelBand = "hot"  // above -10 dB
	LevelWarm LevelBand = "warm" // -20 .. -10 dB
	LevelCool LevelBand = "cool" // below -20 dB
)

// LevelBandForDb classifies a dB level into its color band.
func LevelBandForDb(db float64) LevelBand {
	switch {
	case db > -10:
		return LevelHot
	case db > -20:
		return LevelWarm
	default:
		return LevelCool
	}
}

// MeterPositionForAmplitude is a convenience composition of AmplitudeToDb and
// DbToMeterPosition.
func MeterPositionForAmplitude(amplitude float64) float64 {
	return DbToMeterPosition(AmplitudeToDb(amplitude))
}

// FormatLevelDb renders an amplitude for display, showing "-inf dB" below the
// audible range.
func FormatLevelDb(amplitude float64) string {
	db := AmplitudeToDb(amplitude)
	if db <= meterFloorDb {
		return "-inf dB"
	}
	return fmt.Sprintf("%.1f dB", db)
}

// FormatVolumePercent renders a normalized volume as a percentage.
func FormatVolumePercent(volume float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(volume*100)))
}
