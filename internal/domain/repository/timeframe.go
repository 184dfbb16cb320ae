package repository

import "time"

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// DefaultTimeframe returns the default signal timeframe.
func DefaultTimeframe() Timeframe { return TF5m }

// BaseTimeframe is the resolution bars are ingested and stored at.
func BaseTimeframe() Timeframe { return TF1m }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// Duration returns the bucket width, or 0 for unknown timeframes.
func (tf Timeframe) Duration() time.Duration { return timeframeDurations[tf] }

// BaseBars returns how many 1m bars make up one bar of tf.
func (tf Timeframe) BaseBars() int {
	d := tf.Duration()
	if d == 0 {
		return 0
	}
	return int(d / time.Minute)
}

func (tf Timeframe) String() string { return string(tf) }
