package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/domain/repository"
	"SignalForge/internal/domain/service"
	"SignalForge/internal/services/structure"
	applogger "SignalForge/pkg/logger"
)

// DefaultActiveThreshold is the confidence at which a candidate becomes active instead of watchlist.
const DefaultActiveThreshold = 70

const (
	EventCreated      = "created"
	EventTransitioned = "transitioned"
	EventGated        = "gated"
)

type Config struct {
	ActiveThreshold   int
	SignalTTL         time.Duration
	EnrichmentTimeout time.Duration
	PriceDecimals     int
}

// Manager applies the signal rule locks and persists transitions.
type Manager struct {
	cfg      Config
	store    repository.SignalStore
	gate     *Gate
	enricher service.Enricher
	events   repository.SignalPublisher
	l        *applogger.Logger
}

func NewManager(cfg Config, store repository.SignalStore, gate *Gate, enricher service.Enricher, events repository.SignalPublisher, l *applogger.Logger) *Manager {
	if cfg.ActiveThreshold <= 0 {
		cfg.ActiveThreshold = DefaultActiveThreshold
	}
	if cfg.EnrichmentTimeout <= 0 {
		cfg.EnrichmentTimeout = 5 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Manager{cfg: cfg, store: store, gate: gate, enricher: enricher, events: events, l: l}
}

// Gate exposes the trade gate for the execute step.
func (m *Manager) Gate() *Gate { return m.gate }

// Evaluation is the input for one (symbol, timeframe, closed bar).
type Evaluation struct {
	Symbol     string
	Timeframe  string
	SignalBar  models.Bar
	Candidate  models.EntryCandidate
	BaseBarAge time.Duration
	Volatility models.VolatilityState
	Now        time.Time
}

// Outcome describes what Emit persisted.
type Outcome struct {
	Record     *models.SignalRecord
	Previous   *models.SignalStatus
	Superseded []models.SignalRecord
	Fallback   bool
	Detail     string
}

// Reason maps the outcome to a run-log reason code.
func (o *Outcome) Reason() models.ReasonCode {
	switch {
	case o.Record.Status == models.SignalActive:
		return models.ReasonSignalActive
	case o.Record.Status.IsTerminal():
		return models.ReasonSignalTerminal
	}
	return models.ReasonSignalWatchlist
}

// BuildRecord turns the best candidate into an unsaved record. It is deterministic in its inputs.
func (m *Manager) BuildRecord(ev Evaluation, gate GateDecision) *models.SignalRecord {
	status := models.SignalWatchlist
	if ev.Candidate.Confidence >= m.cfg.ActiveThreshold {
		status = models.SignalActive
	}
	return &models.SignalRecord{
		Symbol:               ev.Symbol,
		Timeframe:            ev.Timeframe,
		SignalBarTS:          ev.SignalBar.Timestamp.UTC(),
		Status:               status,
		SignalType:           ev.Candidate.Direction.SignalType(),
		ConfidenceScore:      ev.Candidate.Confidence,
		EntryPrice:           m.round(ev.SignalBar.Close),
		ZoneHigh:             m.round(ev.Candidate.Zone.High),
		ZoneLow:              m.round(ev.Candidate.Zone.Low),
		BOSPrice:             m.round(ev.Candidate.BOS.Price),
		TradeGateAllowed:     gate.Allowed,
		TradeGateReason:      gate.Reason,
		BlockedUntil:         gate.BlockedUntil,
		DataFreshnessMinutes: int(ev.BaseBarAge / time.Minute),
		VolatilityState:      ev.Volatility,
	}
}

// Emit gates, enriches and persists the record for the evaluation. A new active record supersedes
// the previous active one for the same (symbol, timeframe) in one store operation.
func (m *Manager) Emit(ctx context.Context, ev Evaluation) (*Outcome, error) {
	key := models.SignalKey{Symbol: ev.Symbol, Timeframe: ev.Timeframe, SignalBarTS: ev.SignalBar.Timestamp.UTC()}
	existing, err := m.store.Get(ctx, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load signal %s: %w", key, err)
	}
	if existing != nil && existing.Status.IsTerminal() {
		prev := existing.Status
		return &Outcome{Record: existing, Previous: &prev, Detail: "terminal record kept"}, nil
	}

	gate, gerr := m.gate.Check(ctx, ev.Symbol, ev.BaseBarAge, ev.Now)
	if gerr != nil {
		m.l.Warn("trade gate lookup failed, gate closed",
			applogger.String("symbol", ev.Symbol),
			applogger.Error(gerr),
		)
	}
	rec := m.BuildRecord(ev, gate)

	out := &Outcome{}
	if existing != nil && existing.AIEnriched {
		rec.AIEnriched, rec.Narrative = true, existing.Narrative
	} else {
		m.enrich(ctx, rec, &ev.Candidate, out)
	}

	if rec.Status == models.SignalActive {
		saved, superseded, err := m.store.Promote(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("promote signal %s: %w", key, err)
		}
		out.Record, out.Superseded = saved, superseded
	} else {
		saved, prev, err := m.store.Upsert(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("upsert signal %s: %w", key, err)
		}
		out.Record = saved
		if prev != nil {
			out.Previous = prev
		}
	}
	if existing != nil {
		prev := existing.Status
		out.Previous = &prev
	}

	m.publishTransition(ctx, out.Record, out.Previous, existing)
	for i := range out.Superseded {
		active := models.SignalActive
		m.publish(ctx, models.SignalEvent{Type: EventTransitioned, Signal: out.Superseded[i], PrevStatus: &active, At: ev.Now})
	}
	return out, nil
}

func (m *Manager) enrich(ctx context.Context, rec *models.SignalRecord, cand *models.EntryCandidate, out *Outcome) {
	fallback := func(detail string) {
		rec.AIEnriched = false
		rec.Narrative = FallbackNarrative(rec, cand, m.cfg.PriceDecimals)
		out.Fallback, out.Detail = true, detail
	}
	if m.enricher == nil {
		fallback(service.ErrEnrichmentDisabled.Error())
		return
	}

	ectx, cancel := context.WithTimeout(ctx, m.cfg.EnrichmentTimeout)
	defer cancel()
	text, err := m.enricher.Enrich(ectx, rec, cand)
	switch {
	case err != nil:
		if !errors.Is(err, service.ErrEnrichmentDisabled) {
			m.l.Warn("enrichment failed, using fallback narrative",
				applogger.String("symbol", rec.Symbol),
				applogger.String("timeframe", rec.Timeframe),
				applogger.Error(err),
			)
		}
		fallback(err.Error())
	case text == "":
		fallback("empty enrichment response")
	default:
		rec.AIEnriched, rec.Narrative = true, text
	}
}

// Regate recomputes the trade gate for a stored record and persists it if it changed.
func (m *Manager) Regate(ctx context.Context, rec *models.SignalRecord, newestBarAge time.Duration, now time.Time) (GateDecision, error) {
	gate, gerr := m.gate.Check(ctx, rec.Symbol, newestBarAge, now)
	if gerr != nil {
		m.l.Warn("trade gate lookup failed, gate closed",
			applogger.String("symbol", rec.Symbol),
			applogger.Error(gerr),
		)
	}
	if gate.Allowed == rec.TradeGateAllowed && gate.Reason == rec.TradeGateReason && sameTime(gate.BlockedUntil, rec.BlockedUntil) {
		return gate, nil
	}
	if err := m.store.UpdateGate(ctx, rec.ID, gate.Allowed, gate.Reason, gate.BlockedUntil); err != nil {
		return gate, fmt.Errorf("update gate: %w", err)
	}
	rec.TradeGateAllowed, rec.TradeGateReason, rec.BlockedUntil = gate.Allowed, gate.Reason, gate.BlockedUntil
	m.publish(ctx, models.SignalEvent{Type: EventGated, Signal: *rec, At: now})
	return gate, nil
}

// MarkFilled records a successful hand-off.
func (m *Manager) MarkFilled(ctx context.Context, rec *models.SignalRecord, clientOrderID string, now time.Time) error {
	if !rec.Status.CanTransition(models.SignalFilled) {
		return fmt.Errorf("signal %d: %s -> %s: %w", rec.ID, rec.Status, models.SignalFilled, repository.ErrConflict)
	}
	if err := m.store.MarkFilled(ctx, rec.ID, clientOrderID); err != nil {
		return err
	}
	prev := rec.Status
	rec.Status, rec.ClientOrderID = models.SignalFilled, clientOrderID
	m.publish(ctx, models.SignalEvent{Type: EventTransitioned, Signal: *rec, PrevStatus: &prev, At: now})
	return nil
}

// InvalidateMitigated invalidates active records whose zone was closed through its midpoint by a
// bar after the signal bar.
func (m *Manager) InvalidateMitigated(ctx context.Context, symbol, timeframe string, bars []models.Bar, now time.Time) ([]models.SignalRecord, error) {
	actives, err := m.store.ListActive(ctx, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	var out []models.SignalRecord
	for _, rec := range actives {
		later := barsAfter(bars, rec.SignalBarTS)
		if len(later) == 0 || !structure.ZoneMitigatedBy(later, rec.Direction(), rec.ZoneLow, rec.ZoneHigh) {
			continue
		}
		if err := m.store.Invalidate(ctx, rec.ID); err != nil {
			return out, fmt.Errorf("invalidate signal %d: %w", rec.ID, err)
		}
		prev := rec.Status
		rec.Status = models.SignalInvalidated
		m.publish(ctx, models.SignalEvent{Type: EventTransitioned, Signal: rec, PrevStatus: &prev, At: now})
		out = append(out, rec)
	}
	return out, nil
}

// ExpireStale expires non-terminal records older than the configured TTL. A zero TTL disables expiry.
func (m *Manager) ExpireStale(ctx context.Context, now time.Time) ([]models.SignalRecord, error) {
	if m.cfg.SignalTTL <= 0 {
		return nil, nil
	}
	expired, err := m.store.ExpireBefore(ctx, now.Add(-m.cfg.SignalTTL))
	if err != nil {
		return nil, fmt.Errorf("expire signals: %w", err)
	}
	out := make([]models.SignalRecord, len(expired))
	for i := range expired {
		prev := expired[i].PrevStatus
		out[i] = expired[i].Signal
		m.publish(ctx, models.SignalEvent{Type: EventTransitioned, Signal: out[i], PrevStatus: &prev, At: now})
	}
	return out, nil
}

func (m *Manager) publishTransition(ctx context.Context, rec *models.SignalRecord, prev *models.SignalStatus, existing *models.SignalRecord) {
	switch {
	case existing == nil:
		m.publish(ctx, models.SignalEvent{Type: EventCreated, Signal: *rec, At: rec.UpdatedAt})
	case existing.Status != rec.Status:
		m.publish(ctx, models.SignalEvent{Type: EventTransitioned, Signal: *rec, PrevStatus: prev, At: rec.UpdatedAt})
	case existing.TradeGateAllowed != rec.TradeGateAllowed || existing.TradeGateReason != rec.TradeGateReason:
		m.publish(ctx, models.SignalEvent{Type: EventGated, Signal: *rec, PrevStatus: prev, At: rec.UpdatedAt})
	}
}

func (m *Manager) publish(ctx context.Context, ev models.SignalEvent) {
	if m.events == nil {
		return
	}
	if err := m.events.PublishSignal(ctx, ev); err != nil {
		m.l.Warn("signal event publish failed",
			applogger.String("symbol", ev.Signal.Symbol),
			applogger.String("event", ev.Type),
			applogger.Error(err),
		)
	}
}

func (m *Manager) round(v float64) float64 {
	d := m.cfg.PriceDecimals
	if d <= 0 {
		d = 2
	}
	p := math.Pow(10, float64(d))
	return math.Round(v*p) / p
}

func barsAfter(bars []models.Bar, ts time.Time) []models.Bar {
	for i, b := range bars {
		if b.Timestamp.After(ts) {
			return bars[i:]
		}
	}
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
