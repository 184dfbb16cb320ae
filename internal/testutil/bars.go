// Package testutil holds bar fixtures shared by package tests.
package testutil

import (
	"time"

	"SignalForge/internal/domain/models"
)

// Epoch is the timestamp of the first fixture bar.
var Epoch = time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)

// NewBar builds a bar at Epoch + i*step.
func NewBar(symbol string, i int, step time.Duration, o, h, l, c, v float64) models.Bar {
	return models.Bar{
		Symbol:    symbol,
		Timestamp: Epoch.Add(time.Duration(i) * step),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		Count:     1,
	}
}

// UptrendWithPullback returns 60 bars: a 30-bar rally peaking at index 29, a four-bar bearish
// pullback troughing at 33, a recovery that breaks the peak close at 36, a hammer at 37 whose
// wick retests the index-33 candle, and a steady rally to the end.
//
// With a swing lookback of 2 the series yields exactly one bullish BOS (index 36) and one
// bullish order block (index 33, range 127.5-128.2) that is never mitigated.
func UptrendWithPullback(symbol string, step time.Duration) []models.Bar {
	bars := make([]models.Bar, 0, 60)
	add := func(o, h, l, c float64) {
		bars = append(bars, NewBar(symbol, len(bars), step, o, h, l, c, 1000))
	}

	for i := 0; i < 30; i++ {
		o := 100 + float64(i)
		add(o, o+1, o-0.2, o+0.8)
	}
	for j := 0; j < 4; j++ {
		o := 129.6 - 0.5*float64(j)
		c := o - 0.5
		add(o, o+0.1, c-0.1, c)
	}
	for m := 0; m < 3; m++ {
		o := 127.7 + 0.8*float64(m)
		c := o + 0.8
		add(o, c+0.1, o-0.1, c)
	}
	add(130.1, 130.6, 128.1, 130.5)
	for len(bars) < 60 {
		o := bars[len(bars)-1].Close
		c := o + 0.8
		add(o, c+0.1, o-0.1, c)
	}
	return bars
}

// Flat returns n identical bars, which can never form a swing.
func Flat(symbol string, n int, step time.Duration, price float64) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = NewBar(symbol, i, step, price, price, price, price, 100)
	}
	return bars
}
