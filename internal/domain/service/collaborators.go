package service

import (
	"context"
	"errors"
	"time"

	"SignalForge/internal/domain/models"
)

// ErrEnrichmentDisabled is returned by an enricher that has no backend configured.
var ErrEnrichmentDisabled = errors.New("enrichment disabled")

// BarProvider fetches raw base (1m) bars from the market-data provider.
type BarProvider interface {
	FetchBars(ctx context.Context, symbol string, since time.Time) ([]models.Bar, error)
	Name() string
}

// Enricher produces a natural-language narrative for a signal. Failure never blocks emission.
type Enricher interface {
	Enrich(ctx context.Context, rec *models.SignalRecord, cand *models.EntryCandidate) (string, error)
}

// ExecutionHandoff submits an order to the execution collaborator.
type ExecutionHandoff interface {
	Submit(ctx context.Context, order models.ExecutionOrder) (*models.ExecutionReceipt, error)
}
