package lifecycle

import (
	"context"
	"fmt"
	"time"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/domain/repository"
)

// DefaultFreshness is the maximum age of the newest base bar before trading is gated.
const DefaultFreshness = 2 * time.Minute

// GateDecision is the trade gate outcome for one signal.
type GateDecision struct {
	Allowed      bool
	Reason       string
	BlockedUntil *time.Time
}

type GateConfig struct {
	// SessionStart is the exchange-local "HH:MM" before which trading is gated. Empty disables it.
	SessionStart string
	Location     *time.Location
	Freshness    time.Duration
}

// Gate decides whether a signal may be executed. It never looks at signal quality.
type Gate struct {
	loc         *time.Location
	startHour   int
	startMinute int
	hasStart    bool
	freshness   time.Duration
	blocks      repository.BlockStore
}

func NewGate(cfg GateConfig, blocks repository.BlockStore) (*Gate, error) {
	g := &Gate{loc: cfg.Location, freshness: cfg.Freshness, blocks: blocks}
	if g.loc == nil {
		g.loc = time.UTC
	}
	if g.freshness <= 0 {
		g.freshness = DefaultFreshness
	}
	if cfg.SessionStart != "" {
		t, err := time.Parse("15:04", cfg.SessionStart)
		if err != nil {
			return nil, fmt.Errorf("session start %q: %w", cfg.SessionStart, err)
		}
		g.startHour, g.startMinute, g.hasStart = t.Hour(), t.Minute(), true
	}
	return g, nil
}

// Location returns the exchange timezone.
func (g *Gate) Location() *time.Location { return g.loc }

// Freshness returns the staleness threshold.
func (g *Gate) Freshness() time.Duration { return g.freshness }

// IsStale reports whether a newest-bar age exceeds the freshness threshold.
func (g *Gate) IsStale(age time.Duration) bool { return age > g.freshness }

// Check evaluates, in order: session start, data freshness, manual block.
// A block store failure closes the gate and is returned alongside the decision.
func (g *Gate) Check(ctx context.Context, symbol string, newestBarAge time.Duration, now time.Time) (GateDecision, error) {
	if g.hasStart {
		local := now.In(g.loc)
		start := time.Date(local.Year(), local.Month(), local.Day(), g.startHour, g.startMinute, 0, 0, g.loc)
		if local.Before(start) {
			return GateDecision{Reason: models.GateBeforeStartTime}, nil
		}
	}
	if g.IsStale(newestBarAge) {
		return GateDecision{Reason: models.GateStaleData}, nil
	}
	if g.blocks != nil {
		b, err := g.blocks.ActiveBlock(ctx, symbol, now)
		if err != nil {
			return GateDecision{Reason: models.GateManualBlock}, fmt.Errorf("manual block lookup: %w", err)
		}
		if b != nil {
			until := b.Until.UTC()
			return GateDecision{Reason: models.GateManualBlock, BlockedUntil: &until}, nil
		}
	}
	return GateDecision{Allowed: true, Reason: models.GateOK}, nil
}
