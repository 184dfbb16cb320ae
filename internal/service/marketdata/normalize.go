package marketdata

import (
	"math"
	"sort"
	"strings"
	"time"

	"SignalForge/internal/domain/models"
)

// highVolume tickers are refreshed more often and get the short cache TTL.
var highVolume = map[string]struct{}{
	"AAPL": {}, "MSFT": {}, "GOOGL": {}, "AMZN": {}, "META": {}, "TSLA": {}, "NVDA": {},
	"BTC-USD": {}, "ETH-USD": {}, "^GSPC": {}, "^IXIC": {}, "^DJI": {},
}

// IsHighVolume reports whether symbol uses the short cache TTL.
func IsHighVolume(symbol string) bool {
	_, ok := highVolume[strings.ToUpper(symbol)]
	return ok
}

// Normalize sorts raw bars ascending, drops duplicate minutes (first wins), truncates timestamps
// to the minute, rounds prices and rejects bars with non-positive prices or an inverted range.
// It returns the kept bars and the number rejected.
func Normalize(symbol string, raw []models.Bar, decimals int) ([]models.Bar, int) {
	if decimals <= 0 {
		decimals = 2
	}
	sorted := make([]models.Bar, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	out := make([]models.Bar, 0, len(sorted))
	rejected := 0
	var last time.Time
	for _, b := range sorted {
		ts := b.Timestamp.UTC().Truncate(time.Minute)
		if len(out) > 0 && ts.Equal(last) {
			rejected++
			continue
		}
		nb := models.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      round(b.Open, decimals),
			High:      round(b.High, decimals),
			Low:       round(b.Low, decimals),
			Close:     round(b.Close, decimals),
			Volume:    math.Max(b.Volume, 0),
			Count:     1,
		}
		if nb.Open <= 0 || nb.High <= 0 || nb.Low <= 0 || nb.Close <= 0 || nb.High < nb.Low {
			rejected++
			continue
		}
		out = append(out, nb)
		last = ts
	}
	return out, rejected
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
