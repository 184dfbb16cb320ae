package structure

import "SignalForge/internal/domain/models"

// BuildOrderBlocks derives one zone per BOS from the last opposite-colored candle strictly
// before the BOS bar, deduplicated by source index, then runs the mitigation scan.
func BuildOrderBlocks(bars []models.Bar, events []models.BOSEvent) []models.OrderBlock {
	seen := make(map[int]struct{}, len(events))
	var blocks []models.OrderBlock

	for _, ev := range events {
		idx := sourceCandle(bars, ev)
		if idx < 0 {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		blocks = append(blocks, models.OrderBlock{
			Direction:   ev.Direction,
			Index:       idx,
			High:        bars[idx].High,
			Low:         bars[idx].Low,
			BOSIndex:    ev.Index,
			MitigatedAt: -1,
		})
	}

	for i := range blocks {
		Mitigate(bars, &blocks[i])
	}
	return blocks
}

func sourceCandle(bars []models.Bar, ev models.BOSEvent) int {
	for j := ev.Index - 1; j >= 0; j-- {
		switch ev.Direction {
		case models.DirectionBullish:
			if bars[j].IsBearish() {
				return j
			}
		case models.DirectionBearish:
			if bars[j].IsBullish() {
				return j
			}
		}
	}
	return -1
}

// Mitigate scans forward from the zone bar and marks the first close through the midpoint.
// A mitigated zone is never reverted.
func Mitigate(bars []models.Bar, ob *models.OrderBlock) {
	if ob.Mitigated {
		return
	}
	mid := ob.Midpoint()
	for j := ob.Index + 1; j < len(bars); j++ {
		c := bars[j].Close
		if (ob.Direction == models.DirectionBullish && c <= mid) ||
			(ob.Direction == models.DirectionBearish && c >= mid) {
			ob.Mitigated = true
			ob.MitigatedAt = j
			return
		}
	}
}

// ZoneMitigatedBy reports whether any close in bars crosses the midpoint of [low, high] against dir.
// Used for persisted zones where only the price range is known.
func ZoneMitigatedBy(bars []models.Bar, dir models.Direction, low, high float64) bool {
	mid := (low + high) / 2
	for _, b := range bars {
		if (dir == models.DirectionBullish && b.Close <= mid) ||
			(dir == models.DirectionBearish && b.Close >= mid) {
			return true
		}
	}
	return false
}
