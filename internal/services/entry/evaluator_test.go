package entry

import (
	"testing"
	"time"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/services/momentum"
	"SignalForge/internal/services/structure"
	"SignalForge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_UptrendWithPullbackEndToEnd(t *testing.T) {
	bars := testutil.UptrendWithPullback("AAPL", time.Minute)
	det := structure.NewDetector(2)
	st := det.Run(bars, models.DirectionBullish)
	mom := momentum.NewConfirmer(momentum.Config{FastPeriod: 14, SlowPeriod: 34, FlowWindow: 5}).Compute(bars)

	require.Len(t, st.BOSHistory, 1)
	require.Len(t, st.OrderBlocks, 1)

	ev := NewEvaluator(Config{RequireMomentum: false})
	cands := ev.EvaluateRange(bars, 0, len(bars)-1, st, mom)
	require.NotEmpty(t, cands)

	long := 0
	for _, c := range cands {
		if c.Direction == models.DirectionBullish && c.Confidence >= 40 {
			long++
		}
	}
	assert.GreaterOrEqual(t, long, 1)

	first := cands[0]
	assert.Equal(t, 37, first.Index)
	assert.Equal(t, 33, first.Zone.Index)
	assert.Equal(t, 70, first.Confidence)
	assert.False(t, first.MomentumConfirmed)
	assert.False(t, first.StructureAligned)
}

func TestEvaluate_RequiresMomentumByDefault(t *testing.T) {
	bars := testutil.UptrendWithPullback("AAPL", time.Minute)
	st := structure.NewDetector(2).Run(bars, models.DirectionBullish)
	mom := make([]models.MomentumState, len(bars))

	ev := NewEvaluator(Config{RequireMomentum: true})
	assert.Empty(t, ev.Evaluate(bars, 37, st, mom))

	mom[37].LongOK = true
	cands := ev.Evaluate(bars, 37, st, mom)
	require.Len(t, cands, 1)
	assert.Equal(t, 90, cands[0].Confidence)
	assert.True(t, cands[0].MomentumConfirmed)
}

func TestEvaluate_HTFMismatchProposesNothing(t *testing.T) {
	bars := testutil.UptrendWithPullback("AAPL", time.Minute)
	ev := NewEvaluator(Config{})

	for _, bias := range []models.Direction{models.DirectionBearish, models.DirectionNone} {
		st := structure.NewDetector(2).Run(bars, bias)
		assert.Empty(t, ev.EvaluateRange(bars, 0, len(bars)-1, st, nil), "bias %q", bias)
	}
}

func TestEvaluate_ScoresInRange(t *testing.T) {
	bars := []models.Bar{
		{Open: 10, High: 10.5, Low: 9, Close: 9.2},
		{Open: 9.2, High: 11, Low: 9.1, Close: 10.9},
		{Open: 10.9, High: 11, Low: 9.8, Close: 10.4},
	}
	zone := models.OrderBlock{Direction: models.DirectionBullish, Index: 0, High: 10.5, Low: 9, BOSIndex: 1, MitigatedAt: -1}
	st := &models.StructureState{
		HTFBias: models.DirectionBullish,
		BOSHistory: []models.BOSEvent{
			{Index: 0, Direction: models.DirectionBullish},
			{Index: 0, Direction: models.DirectionBullish},
			{Index: 1, Direction: models.DirectionBullish},
		},
		OrderBlocks: []models.OrderBlock{zone},
	}
	mom := []models.MomentumState{{}, {}, {LongOK: true}}

	cands := NewEvaluator(Config{RequireMomentum: true}).Evaluate(bars, 2, st, mom)
	require.Len(t, cands, 1)
	assert.Equal(t, 100, cands[0].Confidence)
	assert.True(t, cands[0].StructureAligned)

	st.OrderBlocks[0].Low = st.OrderBlocks[0].High
	cands = NewEvaluator(Config{RequireMomentum: true}).Evaluate(bars, 2, st, mom)
	require.Len(t, cands, 1)
	assert.Equal(t, 70, cands[0].Confidence)
	for _, c := range cands {
		assert.Greater(t, c.Confidence, 0)
		assert.LessOrEqual(t, c.Confidence, 100)
	}
}

func TestEvaluate_MitigatedZoneExcluded(t *testing.T) {
	bars := testutil.UptrendWithPullback("AAPL", time.Minute)
	st := structure.NewDetector(2).Run(bars, models.DirectionBullish)
	st.OrderBlocks[0].Mitigated = true
	st.OrderBlocks[0].MitigatedAt = 34

	assert.Empty(t, NewEvaluator(Config{}).Evaluate(bars, 37, st, nil))
}

func TestBest(t *testing.T) {
	_, ok := Best(nil)
	assert.False(t, ok)

	cands := []models.EntryCandidate{
		{Confidence: 70, Zone: models.OrderBlock{Index: 5}},
		{Confidence: 90, Zone: models.OrderBlock{Index: 3}},
		{Confidence: 90, Zone: models.OrderBlock{Index: 8}},
	}
	best, ok := Best(cands)
	require.True(t, ok)
	assert.Equal(t, 90, best.Confidence)
	assert.Equal(t, 8, best.Zone.Index)
	assert.Equal(t, 5, cands[0].Zone.Index, "input must not be reordered")
}
