package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/internal/domain/service"
	"SignalForge/internal/services/universe"
	applogger "SignalForge/pkg/logger"
)

type IngestConfig struct {
	Concurrency   int
	SymbolTimeout time.Duration
	// Freshness is the maximum age of the newest stored bar after ingest.
	Freshness time.Duration
	// Lookback bounds the first fetch for a symbol without stored bars.
	Lookback time.Duration
}

// cacheInvalidator is implemented by providers that cache responses.
type cacheInvalidator interface {
	Invalidate(ctx context.Context, symbol string) error
}

// IngestUseCase pulls base bars from the provider and upserts them into the bar store.
type IngestUseCase struct {
	cfg      IngestConfig
	provider service.BarProvider
	bars     domrepo.BarStore
	metrics  domrepo.Metrics
	l        *applogger.Logger
	now      func() time.Time
}

func NewIngestUseCase(cfg IngestConfig, provider service.BarProvider, bars domrepo.BarStore, metrics domrepo.Metrics, l *applogger.Logger) *IngestUseCase {
	if cfg.Freshness <= 0 {
		cfg.Freshness = 2 * time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 6 * time.Hour
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &IngestUseCase{cfg: cfg, provider: provider, bars: bars, metrics: metrics, l: l, now: time.Now}
}

func (uc *IngestUseCase) Name() models.JobName { return models.JobIngest }

func (uc *IngestUseCase) Run(ctx context.Context, run *models.RunLog, symbols []string, _ map[string]struct{}) {
	valid, rejected := universe.Resolve(symbols)
	for _, r := range rejected {
		record(run, []models.SymbolOutcome{{
			Job: models.JobIngest, Symbol: r.Symbol, Status: models.OutcomeSkipped,
			Reason: models.ReasonInvalidSymbol, Detail: r.Detail,
		}}, uc.metrics, uc.l)
	}
	outcomes := fanOut(ctx, models.JobIngest, valid, uc.cfg.Concurrency, uc.cfg.SymbolTimeout, uc.l, uc.ingestSymbol)
	record(run, outcomes, uc.metrics, uc.l)
}

func (uc *IngestUseCase) ingestSymbol(ctx context.Context, symbol string) models.SymbolOutcome {
	now := uc.now()
	since := now.Add(-uc.cfg.Lookback)
	age, err := uc.bars.LatestBarAge(ctx, symbol, domrepo.BaseTimeframe())
	switch {
	case err == nil:
		// refetch the newest stored minute; it may have been forming when stored
		if last := now.Add(-age); last.After(since) {
			since = last
		}
	case !errors.Is(err, domrepo.ErrNoBars):
		return failed(models.ReasonStoreError, err)
	}

	start := time.Now()
	fetched, err := uc.provider.FetchBars(ctx, symbol, since)
	uc.metrics.RecordLatency("provider_fetch", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError("provider")
		return failed(models.ReasonProviderError, err)
	}

	n := 0
	if len(fetched) > 0 {
		start = time.Now()
		if n, err = uc.bars.UpsertBars(ctx, fetched); err != nil {
			uc.metrics.RecordError("store")
			return failed(models.ReasonStoreError, err)
		}
		uc.metrics.RecordLatency("bars_upsert", time.Since(start).Seconds())
		if inv, ok := uc.provider.(cacheInvalidator); ok {
			if err := inv.Invalidate(ctx, symbol); err != nil {
				uc.l.Warn("provider cache invalidate failed", applogger.String("symbol", symbol), applogger.Error(err))
			}
		}
	}

	age, err = uc.bars.LatestBarAge(ctx, symbol, domrepo.BaseTimeframe())
	if errors.Is(err, domrepo.ErrNoBars) {
		return skipped(models.ReasonNoData, "provider returned no bars")
	}
	if err != nil {
		return failed(models.ReasonStoreError, err)
	}
	if age > uc.cfg.Freshness {
		return skipped(models.ReasonStaleDataSkip, fmt.Sprintf("newest bar is %s old", age.Truncate(time.Second)))
	}
	return ok(models.ReasonIngested, fmt.Sprintf("%d bars", n))
}
