package momentum

import (
	"math"

	"SignalForge/internal/domain/models"
)

const (
	oversold   = -80.0
	overbought = -20.0
)

type Config struct {
	FastPeriod int `yaml:"fast_period" default:"14" validate:"gte=2"`
	SlowPeriod int `yaml:"slow_period" default:"34" validate:"gtfield=FastPeriod"`
	FlowWindow int `yaml:"flow_window" default:"5" validate:"gte=2"`
}

// Confirmer computes the dual Williams %R crossover gate and the on-balance-volume slope.
type Confirmer struct {
	cfg Config
}

func NewConfirmer(cfg Config) *Confirmer {
	if cfg.FastPeriod < 2 {
		cfg.FastPeriod = 14
	}
	if cfg.SlowPeriod <= cfg.FastPeriod {
		cfg.SlowPeriod = cfg.FastPeriod * 2
	}
	if cfg.FlowWindow < 2 {
		cfg.FlowWindow = 5
	}
	return &Confirmer{cfg: cfg}
}

// Compute returns one MomentumState per bar. Undefined oscillator values are NaN and never pass the gate.
func (c *Confirmer) Compute(bars []models.Bar) []models.MomentumState {
	fast := WilliamsR(bars, c.cfg.FastPeriod)
	slow := WilliamsR(bars, c.cfg.SlowPeriod)
	flow := OnBalanceVolume(bars)

	out := make([]models.MomentumState, len(bars))
	for i := range bars {
		slope := math.NaN()
		if i >= c.cfg.FlowWindow-1 {
			slope = Slope(flow[i-c.cfg.FlowWindow+1 : i+1])
		}
		st := models.MomentumState{
			Index:          i,
			Fast:           fast[i],
			Slow:           slow[i],
			CumulativeFlow: flow[i],
			FlowSlope:      slope,
			Defined:        defined(fast[i], slow[i], slope),
		}
		if st.Defined && i > 0 && defined(fast[i-1], slow[i-1]) {
			pf, ps := fast[i-1], slow[i-1]
			st.LongOK = pf <= ps && fast[i] > slow[i] && pf < oversold && ps < oversold && slope > 0
			st.ShortOK = pf >= ps && fast[i] < slow[i] && pf > overbought && ps > overbought && slope < 0
		}
		out[i] = st
	}
	return out
}

// Confirms reports the momentum flag matching dir.
func Confirms(st models.MomentumState, dir models.Direction) bool {
	switch dir {
	case models.DirectionBullish:
		return st.LongOK
	case models.DirectionBearish:
		return st.ShortOK
	default:
		return false
	}
}

// WilliamsR returns %R over period for each bar, bounded to [-100, 0]. NaN where the window is
// incomplete or the range is zero.
func WilliamsR(bars []models.Bar, period int) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		if period <= 0 || i < period-1 {
			out[i] = math.NaN()
			continue
		}
		hh, ll := bars[i].High, bars[i].Low
		for j := i - period + 1; j < i; j++ {
			hh = math.Max(hh, bars[j].High)
			ll = math.Min(ll, bars[j].Low)
		}
		if hh == ll {
			out[i] = math.NaN()
			continue
		}
		r := (hh - bars[i].Close) / (hh - ll) * -100
		out[i] = math.Max(-100, math.Min(0, r))
	}
	return out
}

// OnBalanceVolume returns the cumulative signed volume, starting at 0.
func OnBalanceVolume(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		out[i] = out[i-1]
		if bars[i].Close > bars[i-1].Close {
			out[i] += bars[i].Volume
		} else if bars[i].Close < bars[i-1].Close {
			out[i] -= bars[i].Volume
		}
	}
	return out
}

// Slope is the least-squares slope of ys against 0..n-1. NaN when fewer than two points.
func Slope(ys []float64) float64 {
	n := float64(len(ys))
	if len(ys) < 2 {
		return math.NaN()
	}
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return math.NaN()
	}
	return (n*sxy - sx*sy) / den
}

func defined(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
