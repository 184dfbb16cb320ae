package models

import "time"

// Bar is an OHLCV record for one symbol and timeframe bucket.
// Count is the number of base (1m) bars aggregated into this bar; it is 1 for base bars.
type Bar struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Timestamp time.Time `json:"ts" db:"ts"`
	Open      float64   `json:"open" db:"open"`
	High      float64   `json:"high" db:"high"`
	Low       float64   `json:"low" db:"low"`
	Close     float64   `json:"close" db:"close"`
	Volume    float64   `json:"volume" db:"volume"`
	Count     int       `json:"count,omitempty" db:"cnt"`
}

// IsBullish reports whether the bar closed above its open.
func (b Bar) IsBullish() bool { return b.Close > b.Open }

// IsBearish reports whether the bar closed below its open.
func (b Bar) IsBearish() bool { return b.Close < b.Open }

// Touches reports whether the bar's high/low range overlaps [low, high].
func (b Bar) Touches(low, high float64) bool {
	return b.Low <= high && b.High >= low
}
