package features

import (
	"math"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/domain/repository"
)

const minutesPerYear = 365 * 24 * 60

// VolatilityBands are the annualized sigma cut-offs for the informational volatility state.
type VolatilityBands struct {
	Window int     `yaml:"window" default:"20" validate:"gte=2"`
	Low    float64 `yaml:"low" default:"0.15" validate:"gt=0"`
	High   float64 `yaml:"high" default:"0.45" validate:"gtfield=Low"`
}

// ClassifyVolatility labels the latest realized volatility. The label never feeds gating or direction.
func ClassifyVolatility(bars []models.Bar, tf repository.Timeframe, bands VolatilityBands) models.VolatilityState {
	sigma, ok := Sigma(bars, bands.Window, PeriodsPerYear(tf))
	switch {
	case !ok:
		return models.VolatilityUnknown
	case sigma < bands.Low:
		return models.VolatilityLow
	case sigma > bands.High:
		return models.VolatilityHigh
	default:
		return models.VolatilityNormal
	}
}

// Sigma is the annualized sample deviation of the last window close-to-close log returns.
// ok is false until window+1 bars are available.
func Sigma(bars []models.Bar, window int, periodsPerYear float64) (sigma float64, ok bool) {
	if window < 2 || len(bars) < window+1 {
		return 0, false
	}
	var mean, m2 float64
	tail := bars[len(bars)-window-1:]
	for i := 1; i < len(tail); i++ {
		r := logReturn(tail[i-1].Close, tail[i].Close)
		// Welford
		delta := r - mean
		mean += delta / float64(i)
		m2 += delta * (r - mean)
	}
	variance := m2 / float64(window-1)
	return math.Sqrt(math.Max(variance, 0) * periodsPerYear), true
}

// logReturn is ln(cur/prev); a non-positive price contributes a flat return.
func logReturn(prev, cur float64) float64 {
	if prev <= 0 || cur <= 0 {
		return 0
	}
	return math.Log(cur / prev)
}

// PeriodsPerYear counts bars of tf in a calendar year, on a round-the-clock clock.
func PeriodsPerYear(tf repository.Timeframe) float64 {
	mins := tf.Duration().Minutes()
	if mins <= 0 {
		return minutesPerYear
	}
	return minutesPerYear / mins
}
