package momentum

import (
	"math"
	"testing"
	"time"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWilliamsR_BoundsAndUndefined(t *testing.T) {
	bars := testutil.UptrendWithPullback("AAPL", time.Minute)
	r := WilliamsR(bars, 14)
	require.Len(t, r, len(bars))

	for i, v := range r {
		if i < 13 {
			assert.True(t, math.IsNaN(v), "index %d should be undefined", i)
			continue
		}
		assert.False(t, math.IsNaN(v))
		assert.GreaterOrEqual(t, v, -100.0)
		assert.LessOrEqual(t, v, 0.0)
	}
}

func TestCompute_FlatSeriesNeverOK(t *testing.T) {
	c := NewConfirmer(Config{FastPeriod: 3, SlowPeriod: 5, FlowWindow: 3})
	for _, st := range c.Compute(testutil.Flat("X", 20, time.Minute, 10)) {
		assert.False(t, st.Defined)
		assert.False(t, st.LongOK)
		assert.False(t, st.ShortOK)
	}
}

func TestCompute_LongCrossover(t *testing.T) {
	bars := []models.Bar{
		{High: 9, Low: 8.6, Close: 8.8, Volume: 1000},
		{High: 9.5, Low: 8, Close: 8.1, Volume: 1000},
		{High: 8.5, Low: 7, Close: 7.1, Volume: 1000},
		{High: 8, Low: 7.2, Close: 7.9, Volume: 1000},
	}
	c := NewConfirmer(Config{FastPeriod: 2, SlowPeriod: 3, FlowWindow: 2})
	states := c.Compute(bars)
	require.Len(t, states, 4)

	prev, cur := states[2], states[3]
	assert.InDelta(t, -96.0, prev.Fast, 1e-9)
	assert.InDelta(t, -96.0, prev.Slow, 1e-9)
	assert.InDelta(t, -40.0, cur.Fast, 1e-9)
	assert.InDelta(t, -64.0, cur.Slow, 1e-9)
	assert.InDelta(t, 1000.0, cur.FlowSlope, 1e-9)

	assert.True(t, cur.Defined)
	assert.True(t, cur.LongOK)
	assert.False(t, cur.ShortOK)
	assert.True(t, Confirms(cur, models.DirectionBullish))
	assert.False(t, Confirms(cur, models.DirectionBearish))
	assert.False(t, Confirms(cur, models.DirectionNone))

	for _, st := range states[:3] {
		assert.False(t, st.LongOK)
	}
}

func TestOnBalanceVolume(t *testing.T) {
	bars := []models.Bar{{Close: 1, Volume: 5}, {Close: 2, Volume: 7}, {Close: 2, Volume: 9}, {Close: 1, Volume: 3}}
	assert.Equal(t, []float64{0, 7, 7, 4}, OnBalanceVolume(bars))
}

func TestSlope(t *testing.T) {
	assert.InDelta(t, 2.0, Slope([]float64{1, 3, 5, 7}), 1e-12)
	assert.InDelta(t, 0.0, Slope([]float64{4, 4, 4}), 1e-12)
	assert.True(t, math.IsNaN(Slope([]float64{1})))
}
