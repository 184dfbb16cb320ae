package structure

import (
	"sort"

	"SignalForge/internal/domain/models"
)

// DefaultSwingLookback is the symmetric window used when none is configured.
const DefaultSwingLookback = 3

// Detector finds swing points and Break-of-Structure events on an ordered bar series.
// It holds no per-run state; every Run returns a fresh StructureState.
type Detector struct {
	lookback int
}

func NewDetector(lookback int) *Detector {
	if lookback <= 0 {
		lookback = DefaultSwingLookback
	}
	return &Detector{lookback: lookback}
}

// Lookback returns the swing window k.
func (d *Detector) Lookback() int { return d.lookback }

// MinBars is the shortest series that can contain a swing (2k+1).
func (d *Detector) MinBars() int { return 2*d.lookback + 1 }

// Run detects swings, BOS events and order blocks. htfBias is injected as a constant.
func (d *Detector) Run(bars []models.Bar, htfBias models.Direction) *models.StructureState {
	st := &models.StructureState{HTFBias: htfBias}
	st.Swings = d.FindSwings(bars)
	st.BOSHistory = d.DetectBOS(bars, st.Swings)
	if n := len(st.BOSHistory); n > 0 {
		st.LTFBias = st.BOSHistory[n-1].Direction
	}
	st.OrderBlocks = BuildOrderBlocks(bars, st.BOSHistory)
	return st
}

// Bias returns the direction of the latest BOS in bars, used as HTF bias for a lower timeframe.
func (d *Detector) Bias(bars []models.Bar) models.Direction {
	bos := d.DetectBOS(bars, d.FindSwings(bars))
	if len(bos) == 0 {
		return models.DirectionNone
	}
	return bos[len(bos)-1].Direction
}

// FindSwings returns swing highs and lows ordered by index.
// A bar is a swing high when its high is strictly greater than every high within k bars on each side.
func (d *Detector) FindSwings(bars []models.Bar) []models.SwingPoint {
	k := d.lookback
	if len(bars) < 2*k+1 {
		return nil
	}

	var swings []models.SwingPoint
	for i := k; i < len(bars)-k; i++ {
		isHigh, isLow := true, true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if bars[j].High >= bars[i].High {
				isHigh = false
			}
			if bars[j].Low <= bars[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			swings = append(swings, models.SwingPoint{Index: i, Kind: models.SwingHigh, Price: bars[i].High, Close: bars[i].Close})
		}
		if isLow {
			swings = append(swings, models.SwingPoint{Index: i, Kind: models.SwingLow, Price: bars[i].Low, Close: bars[i].Close})
		}
	}
	return swings
}

// DetectBOS walks the bars in order. A swing at s becomes visible at bar s+k; the first later close
// beyond its close produces one BOS and consumes the swing.
func (d *Detector) DetectBOS(bars []models.Bar, swings []models.SwingPoint) []models.BOSEvent {
	if len(swings) == 0 {
		return nil
	}
	ordered := make([]models.SwingPoint, len(swings))
	copy(ordered, swings)
	sort.SliceStable(ordered, func(a, b int) bool { return ordered[a].Index < ordered[b].Index })

	var (
		events            []models.BOSEvent
		lastHigh, lastLow *models.SwingPoint
		next              int
	)
	for i := range bars {
		for next < len(ordered) && ordered[next].Index+d.lookback <= i {
			sp := ordered[next]
			if sp.Kind == models.SwingHigh {
				lastHigh = &sp
			} else {
				lastLow = &sp
			}
			next++
		}

		c := bars[i].Close
		if lastHigh != nil && i > lastHigh.Index && c > lastHigh.Close {
			events = append(events, models.BOSEvent{Index: i, Price: c, Direction: models.DirectionBullish, SwingIndex: lastHigh.Index})
			lastHigh = nil
		}
		if lastLow != nil && i > lastLow.Index && c < lastLow.Close {
			events = append(events, models.BOSEvent{Index: i, Price: c, Direction: models.DirectionBearish, SwingIndex: lastLow.Index})
			lastLow = nil
		}
	}
	return events
}
