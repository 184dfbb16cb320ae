package lifecycle

import (
	"fmt"
	"strings"

	"SignalForge/internal/domain/models"
)

// FallbackNarrative renders the deterministic description stored when enrichment is unavailable.
func FallbackNarrative(rec *models.SignalRecord, cand *models.EntryCandidate, decimals int) string {
	if decimals <= 0 {
		decimals = 2
	}
	p := func(v float64) string { return fmt.Sprintf("%.*f", decimals, v) }

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s setup: %s order block %s-%s retested after a break of structure at %s.",
		rec.Symbol, rec.Timeframe, rec.SignalType, cand.Direction, p(rec.ZoneLow), p(rec.ZoneHigh), p(rec.BOSPrice))
	fmt.Fprintf(&b, " Confidence %d/100", rec.ConfidenceScore)

	var notes []string
	notes = append(notes, "HTF aligned")
	if cand.MomentumConfirmed {
		notes = append(notes, "momentum confirmed")
	} else {
		notes = append(notes, "momentum unconfirmed")
	}
	if cand.StructureAligned {
		notes = append(notes, "last three breaks agree")
	}
	fmt.Fprintf(&b, " (%s).", strings.Join(notes, ", "))

	if !rec.TradeGateAllowed {
		fmt.Fprintf(&b, " Trading gated: %s.", rec.TradeGateReason)
	}
	return b.String()
}
