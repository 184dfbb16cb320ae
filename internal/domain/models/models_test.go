package models

import (
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalStatus_ZeroValueInvalid(t *testing.T) {
	var s SignalStatus
	assert.False(t, s.Valid())
	assert.False(t, s.IsTerminal())

	_, err := s.Value()
	assert.Error(t, err)
	_, err = json.Marshal(struct{ S SignalStatus }{})
	assert.Error(t, err)
}

func TestSignalStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to SignalStatus
		ok       bool
	}{
		{SignalWatchlist, SignalActive, true},
		{SignalWatchlist, SignalFilled, false},
		{SignalActive, SignalFilled, true},
		{SignalActive, SignalWatchlist, false},
		{SignalActive, SignalExpired, true},
		{SignalFilled, SignalActive, false},
		{SignalInvalidated, SignalActive, false},
		{SignalExpired, SignalWatchlist, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}

	for _, s := range []SignalStatus{SignalFilled, SignalInvalidated, SignalExpired} {
		assert.True(t, s.IsTerminal(), s.String())
	}
	assert.False(t, SignalActive.IsTerminal())
}

func TestSignalStatus_TextAndSQL(t *testing.T) {
	b, err := json.Marshal(map[string]SignalStatus{"s": SignalActive})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"active"}`, string(b))

	var got SignalStatus
	require.NoError(t, got.Scan([]byte("invalidated")))
	assert.Equal(t, SignalInvalidated, got)
	require.NoError(t, got.Scan("watchlist"))
	assert.Equal(t, SignalWatchlist, got)
	assert.Error(t, got.Scan(int64(2)))
	assert.Error(t, got.UnmarshalText([]byte("pending")))

	v, err := SignalExpired.Value()
	require.NoError(t, err)
	assert.Equal(t, "expired", v)
}

func TestEngineState_RoundTrip(t *testing.T) {
	for _, s := range []EngineState{EngineNormal, EngineThrottled, EngineHaltedProfit, EngineHaltedLoss, EngineHaltedTrades} {
		parsed, err := ParseEngineState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.False(t, EngineState(0).Valid())
	assert.True(t, EngineHaltedLoss.Halted())
	assert.False(t, EngineThrottled.Halted())

	_, err := ParseEngineState("halted")
	assert.Error(t, err)
}

func TestSignalRecord_Executable(t *testing.T) {
	rec := SignalRecord{Status: SignalActive, SignalType: SignalTypeBuy, TradeGateAllowed: true}
	assert.True(t, rec.Executable())

	rec.TradeGateAllowed = false
	assert.False(t, rec.Executable())

	rec = SignalRecord{Status: SignalWatchlist, SignalType: SignalTypeSell, TradeGateAllowed: true}
	assert.False(t, rec.Executable())

	rec = SignalRecord{Status: SignalActive, SignalType: SignalTypeNeutral, TradeGateAllowed: true}
	assert.False(t, rec.Executable())
}

func TestTradingDayOf(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 02:30 UTC on the 4th is still the 3rd in New York.
	day := TradingDayOf(time.Date(2025, 3, 4, 2, 30, 0, 0, time.UTC), ny)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), day)

	assert.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), TradingDayOf(time.Date(2025, 3, 4, 2, 30, 0, 0, time.UTC), nil))
}

func TestRunLog_Counters(t *testing.T) {
	start := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	run := RunLog{Job: JobGenerate, StartedAt: start}
	run.Add(SymbolOutcome{Symbol: "AAPL", Status: OutcomeOK, Reason: ReasonSignalActive})
	run.Add(SymbolOutcome{Symbol: "MSFT", Status: OutcomeSkipped, Reason: ReasonStaleDataSkip})
	run.Add(SymbolOutcome{Symbol: "TSLA", Status: OutcomeSkipped, Reason: ReasonNoCandidate})
	run.Finish(start.Add(1500 * time.Millisecond))

	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 2, run.Skipped)
	assert.Equal(t, 0, run.Failed)
	assert.True(t, run.Success)
	assert.EqualValues(t, 1500, run.DurationMS)
	assert.Equal(t, map[string]struct{}{"MSFT": {}}, run.SkippedSymbols(ReasonStaleDataSkip))

	run.Add(SymbolOutcome{Symbol: "NVDA", Status: OutcomeFailed, Reason: ReasonProviderError})
	run.Finish(start.Add(2 * time.Second))
	assert.False(t, run.Success)
}

func TestParseJobName(t *testing.T) {
	j, ok := ParseJobName("generate")
	assert.True(t, ok)
	assert.Equal(t, JobGenerate, j)

	_, ok = ParseJobName("backfill")
	assert.False(t, ok)
}
