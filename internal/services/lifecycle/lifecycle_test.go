package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/domain/service"
	"SignalForge/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ny, _ = time.LoadLocation("America/New_York")

type stubEnricher struct {
	text string
	err  error
}

func (s stubEnricher) Enrich(ctx context.Context, _ *models.SignalRecord, _ *models.EntryCandidate) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type slowEnricher struct{}

func (slowEnricher) Enrich(ctx context.Context, _ *models.SignalRecord, _ *models.EntryCandidate) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SignalEvent
}

func (p *recordingPublisher) PublishSignal(_ context.Context, ev models.SignalEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newGate(t *testing.T, blocks *repository.MemoryBlockStore) *Gate {
	t.Helper()
	if blocks == nil {
		blocks = repository.NewMemoryBlockStore()
	}
	g, err := NewGate(GateConfig{SessionStart: "09:35", Location: ny, Freshness: 2 * time.Minute}, blocks)
	require.NoError(t, err)
	return g
}

// 2025-03-03 is a Monday; 15:00 UTC is 10:00 in New York.
var sessionNow = time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

func TestGate_Order(t *testing.T) {
	blocks := repository.NewMemoryBlockStore()
	g := newGate(t, blocks)
	ctx := context.Background()

	d, err := g.Check(ctx, "AAPL", 30*time.Second, sessionNow)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, models.GateOK, d.Reason)

	early := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC) // 09:00 local
	d, _ = g.Check(ctx, "AAPL", 10*time.Minute, early)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.GateBeforeStartTime, d.Reason, "session start is checked before freshness")

	d, _ = g.Check(ctx, "AAPL", 5*time.Minute, sessionNow)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.GateStaleData, d.Reason)

	until := sessionNow.Add(time.Hour)
	require.NoError(t, blocks.SetBlock(ctx, models.ManualBlock{Symbol: "aapl", Until: until}))
	d, _ = g.Check(ctx, "AAPL", time.Minute, sessionNow)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.GateManualBlock, d.Reason)
	require.NotNil(t, d.BlockedUntil)
	assert.True(t, d.BlockedUntil.Equal(until))

	d, _ = g.Check(ctx, "AAPL", time.Minute, until)
	assert.True(t, d.Allowed, "block ends at blocked_until")
}

func TestNewGate_BadSessionStart(t *testing.T) {
	_, err := NewGate(GateConfig{SessionStart: "9h35"}, nil)
	assert.Error(t, err)
}

func evaluation(conf int, ts time.Time) Evaluation {
	return Evaluation{
		Symbol:    "AAPL",
		Timeframe: "5m",
		SignalBar: models.Bar{Symbol: "AAPL", Timestamp: ts, Close: 130.456},
		Candidate: models.EntryCandidate{
			Direction:  models.DirectionBullish,
			Zone:       models.OrderBlock{Direction: models.DirectionBullish, Index: 33, High: 128.2, Low: 127.5},
			BOS:        models.BOSEvent{Index: 36, Price: 130.1, Direction: models.DirectionBullish},
			Confidence: conf,
		},
		BaseBarAge: 30 * time.Second,
		Volatility: models.VolatilityNormal,
		Now:        sessionNow,
	}
}

func TestEmit_ActiveSupersedesPrevious(t *testing.T) {
	store := repository.NewMemorySignalStore()
	pub := &recordingPublisher{}
	m := NewManager(Config{}, store, newGate(t, nil), stubEnricher{text: "narrative"}, pub, nil)
	ctx := context.Background()

	first, err := m.Emit(ctx, evaluation(80, sessionNow.Add(-10*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, models.SignalActive, first.Record.Status)
	assert.Equal(t, models.ReasonSignalActive, first.Reason())
	assert.True(t, first.Record.AIEnriched)
	assert.Equal(t, 130.46, first.Record.EntryPrice)

	second, err := m.Emit(ctx, evaluation(90, sessionNow.Add(-5*time.Minute)))
	require.NoError(t, err)
	require.Len(t, second.Superseded, 1)
	assert.Equal(t, first.Record.ID, second.Superseded[0].ID)

	actives, err := store.ListActive(ctx, "AAPL", "5m")
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, second.Record.ID, actives[0].ID)

	old, err := store.Get(ctx, first.Record.Key())
	require.NoError(t, err)
	assert.Equal(t, models.SignalInvalidated, old.Status)

	types := make([]string, 0, len(pub.events))
	for _, ev := range pub.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{EventCreated, EventCreated, EventTransitioned}, types)
}

func TestEmit_BelowThresholdIsWatchlist(t *testing.T) {
	m := NewManager(Config{ActiveThreshold: 70}, repository.NewMemorySignalStore(), newGate(t, nil), nil, nil, nil)
	out, err := m.Emit(context.Background(), evaluation(40, sessionNow.Add(-5*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, models.SignalWatchlist, out.Record.Status)
	assert.Equal(t, models.ReasonSignalWatchlist, out.Reason())
}

func TestEmit_EnrichmentFallback(t *testing.T) {
	tests := []struct {
		name     string
		enricher service.Enricher
	}{
		{"error", stubEnricher{err: errors.New("upstream 503")}},
		{"timeout", slowEnricher{}},
		{"disabled", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{EnrichmentTimeout: 20 * time.Millisecond}, repository.NewMemorySignalStore(), newGate(t, nil), tt.enricher, nil, nil)
			out, err := m.Emit(context.Background(), evaluation(80, sessionNow.Add(-5*time.Minute)))
			require.NoError(t, err)
			assert.True(t, out.Fallback)
			assert.False(t, out.Record.AIEnriched)
			assert.True(t, strings.HasPrefix(out.Record.Narrative, "AAPL 5m buy setup"))
			assert.Equal(t, models.SignalActive, out.Record.Status)
		})
	}
}

func TestEmit_ReplayIsIdempotent(t *testing.T) {
	store := repository.NewMemorySignalStore()
	m := NewManager(Config{}, store, newGate(t, nil), nil, nil, nil)
	ctx := context.Background()
	ev := evaluation(80, sessionNow.Add(-5*time.Minute))

	a, err := m.Emit(ctx, ev)
	require.NoError(t, err)
	b, err := m.Emit(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, a.Record.ID, b.Record.ID)
	assert.Empty(t, b.Superseded)

	all, err := store.List(ctx, models.SignalFilter{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	ra, rb := *a.Record, *b.Record
	ra.CreatedAt, ra.UpdatedAt, rb.CreatedAt, rb.UpdatedAt = time.Time{}, time.Time{}, time.Time{}, time.Time{}
	assert.Equal(t, ra, rb)
}

func TestEmit_TerminalRecordUntouched(t *testing.T) {
	store := repository.NewMemorySignalStore()
	m := NewManager(Config{}, store, newGate(t, nil), nil, nil, nil)
	ctx := context.Background()
	ev := evaluation(80, sessionNow.Add(-5*time.Minute))

	out, err := m.Emit(ctx, ev)
	require.NoError(t, err)
	require.NoError(t, m.MarkFilled(ctx, out.Record, "coid-1", sessionNow))

	again, err := m.Emit(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, models.SignalFilled, again.Record.Status)
	assert.Equal(t, "coid-1", again.Record.ClientOrderID)
	assert.Equal(t, models.ReasonSignalTerminal, again.Reason())
}

func TestEmit_GatedActiveIsVisible(t *testing.T) {
	m := NewManager(Config{}, repository.NewMemorySignalStore(), newGate(t, nil), nil, nil, nil)
	ev := evaluation(80, sessionNow.Add(-5*time.Minute))
	ev.BaseBarAge = 5 * time.Minute

	out, err := m.Emit(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.SignalActive, out.Record.Status)
	assert.False(t, out.Record.TradeGateAllowed)
	assert.Equal(t, models.GateStaleData, out.Record.TradeGateReason)
	assert.False(t, out.Record.Executable())
}

func TestRegate_PersistsChange(t *testing.T) {
	store := repository.NewMemorySignalStore()
	blocks := repository.NewMemoryBlockStore()
	m := NewManager(Config{}, store, newGate(t, blocks), nil, nil, nil)
	ctx := context.Background()

	out, err := m.Emit(ctx, evaluation(80, sessionNow.Add(-5*time.Minute)))
	require.NoError(t, err)
	require.True(t, out.Record.TradeGateAllowed)

	require.NoError(t, blocks.SetBlock(ctx, models.ManualBlock{Symbol: "AAPL", Until: sessionNow.Add(time.Hour)}))
	d, err := m.Regate(ctx, out.Record, time.Minute, sessionNow)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	stored, err := store.Get(ctx, out.Record.Key())
	require.NoError(t, err)
	assert.False(t, stored.TradeGateAllowed)
	assert.Equal(t, models.GateManualBlock, stored.TradeGateReason)
	assert.NotNil(t, stored.BlockedUntil)
}

func TestInvalidateMitigated(t *testing.T) {
	store := repository.NewMemorySignalStore()
	m := NewManager(Config{}, store, newGate(t, nil), nil, nil, nil)
	ctx := context.Background()
	signalTS := sessionNow.Add(-10 * time.Minute)

	out, err := m.Emit(ctx, evaluation(80, signalTS))
	require.NoError(t, err)

	bars := []models.Bar{
		{Timestamp: signalTS, Close: 127.0},
		{Timestamp: signalTS.Add(5 * time.Minute), Close: 129},
	}
	inv, err := m.InvalidateMitigated(ctx, "AAPL", "5m", bars, sessionNow)
	require.NoError(t, err)
	assert.Empty(t, inv, "the signal bar itself does not mitigate")

	bars = append(bars, models.Bar{Timestamp: signalTS.Add(10 * time.Minute), Close: 127.8})
	inv, err = m.InvalidateMitigated(ctx, "AAPL", "5m", bars, sessionNow)
	require.NoError(t, err)
	require.Len(t, inv, 1)

	stored, err := store.Get(ctx, out.Record.Key())
	require.NoError(t, err)
	assert.Equal(t, models.SignalInvalidated, stored.Status)
}

func TestExpireStale(t *testing.T) {
	store := repository.NewMemorySignalStore()
	pub := &recordingPublisher{}
	m := NewManager(Config{ActiveThreshold: 70, SignalTTL: time.Hour}, store, newGate(t, nil), nil, pub, nil)
	ctx := context.Background()

	_, err := m.Emit(ctx, evaluation(80, sessionNow.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, err = m.Emit(ctx, evaluation(40, sessionNow.Add(-90*time.Minute)))
	require.NoError(t, err)
	_, err = m.Emit(ctx, evaluation(40, sessionNow.Add(-5*time.Minute)))
	require.NoError(t, err)

	pub.events = nil
	expired, err := m.ExpireStale(ctx, sessionNow)
	require.NoError(t, err)
	assert.Len(t, expired, 2)
	for _, r := range expired {
		assert.Equal(t, models.SignalExpired, r.Status)
	}

	require.Len(t, pub.events, 2)
	prev := map[int]models.SignalStatus{}
	for _, ev := range pub.events {
		assert.Equal(t, EventTransitioned, ev.Type)
		assert.Equal(t, models.SignalExpired, ev.Signal.Status)
		require.NotNil(t, ev.PrevStatus)
		prev[ev.Signal.ConfidenceScore] = *ev.PrevStatus
	}
	assert.Equal(t, map[int]models.SignalStatus{80: models.SignalActive, 40: models.SignalWatchlist}, prev)
}

func TestFallbackNarrative_Deterministic(t *testing.T) {
	rec := &models.SignalRecord{Symbol: "AAPL", Timeframe: "5m", SignalType: models.SignalTypeBuy, ZoneLow: 127.5, ZoneHigh: 128.2, BOSPrice: 130.1, ConfidenceScore: 70, TradeGateReason: models.GateStaleData}
	cand := &models.EntryCandidate{Direction: models.DirectionBullish}

	a := FallbackNarrative(rec, cand, 2)
	assert.Equal(t, a, FallbackNarrative(rec, cand, 2))
	assert.Equal(t, "AAPL 5m buy setup: bullish order block 127.50-128.20 retested after a break of structure at 130.10."+
		" Confidence 70/100 (HTF aligned, momentum unconfirmed). Trading gated: stale_data.", a)
}
