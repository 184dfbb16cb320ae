package entry

import (
	"sort"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/services/momentum"
)

const (
	scoreHTF       = 40
	scoreZone      = 30
	scoreMomentum  = 20
	scoreStructure = 10

	structureRun = 3
)

type Config struct {
	// RequireMomentum drops zones whose matching momentum flag is false.
	RequireMomentum bool
}

// Evaluator scores entry candidates from a structure run and per-bar momentum.
type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate returns the candidates for bar i. Zones must be active at i and touched by the bar's range.
func (e *Evaluator) Evaluate(bars []models.Bar, i int, st *models.StructureState, mom []models.MomentumState) []models.EntryCandidate {
	if st == nil || i < 0 || i >= len(bars) {
		return nil
	}

	var out []models.EntryCandidate
	for _, ob := range st.OrderBlocks {
		if !ob.ActiveAt(i) || !bars[i].Touches(ob.Low, ob.High) {
			continue
		}
		bos, ok := bosAt(st.BOSHistory, ob.BOSIndex, ob.Direction)
		if !ok || st.HTFBias != ob.Direction {
			continue
		}

		confirmed := i < len(mom) && momentum.Confirms(mom[i], ob.Direction)
		if e.cfg.RequireMomentum && !confirmed {
			continue
		}

		aligned := lastAgree(st.BOSUpTo(i), ob.Direction, structureRun)
		score := scoreHTF
		if ob.Height() > 0 {
			score += scoreZone
		}
		if confirmed {
			score += scoreMomentum
		}
		if aligned {
			score += scoreStructure
		}
		score = clamp(score)
		if score == 0 {
			continue
		}

		out = append(out, models.EntryCandidate{
			Index:             i,
			Direction:         ob.Direction,
			Zone:              ob,
			BOS:               bos,
			Confidence:        score,
			MomentumConfirmed: confirmed,
			StructureAligned:  aligned,
		})
	}
	return out
}

// EvaluateRange evaluates every bar in [from, to] and concatenates the candidates.
func (e *Evaluator) EvaluateRange(bars []models.Bar, from, to int, st *models.StructureState, mom []models.MomentumState) []models.EntryCandidate {
	if from < 0 {
		from = 0
	}
	var out []models.EntryCandidate
	for i := from; i <= to && i < len(bars); i++ {
		out = append(out, e.Evaluate(bars, i, st, mom)...)
	}
	return out
}

// Best picks the highest-confidence candidate; ties go to the most recent zone.
func Best(cands []models.EntryCandidate) (models.EntryCandidate, bool) {
	if len(cands) == 0 {
		return models.EntryCandidate{}, false
	}
	sorted := make([]models.EntryCandidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Confidence != sorted[b].Confidence {
			return sorted[a].Confidence > sorted[b].Confidence
		}
		return sorted[a].Zone.Index > sorted[b].Zone.Index
	})
	return sorted[0], true
}

func bosAt(history []models.BOSEvent, idx int, dir models.Direction) (models.BOSEvent, bool) {
	for _, ev := range history {
		if ev.Index == idx && ev.Direction == dir {
			return ev, true
		}
	}
	return models.BOSEvent{}, false
}

func lastAgree(history []models.BOSEvent, dir models.Direction, n int) bool {
	if len(history) < n {
		return false
	}
	for _, ev := range history[len(history)-n:] {
		if ev.Direction != dir {
			return false
		}
	}
	return true
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
