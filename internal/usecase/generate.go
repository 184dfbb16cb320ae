package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/internal/services/entry"
	"SignalForge/internal/services/features"
	"SignalForge/internal/services/lifecycle"
	"SignalForge/internal/services/momentum"
	"SignalForge/internal/services/structure"
	"SignalForge/internal/services/universe"
	applogger "SignalForge/pkg/logger"
)

type GenerateConfig struct {
	Timeframe     domrepo.Timeframe
	HTFTimeframe  domrepo.Timeframe
	Concurrency   int
	SymbolTimeout time.Duration
	// History is how far back signal-timeframe bars are loaded; HTFHistory the same for the bias.
	History    time.Duration
	HTFHistory time.Duration
	Volatility features.VolatilityBands
}

// GenerateUseCase runs structure, momentum, scoring and the lifecycle for each symbol on closed candles.
type GenerateUseCase struct {
	cfg       GenerateConfig
	bars      domrepo.BarStore
	detector  *structure.Detector
	confirmer *momentum.Confirmer
	evaluator *entry.Evaluator
	manager   *lifecycle.Manager
	metrics   domrepo.Metrics
	l         *applogger.Logger
	now       func() time.Time
}

func NewGenerateUseCase(
	cfg GenerateConfig,
	bars domrepo.BarStore,
	detector *structure.Detector,
	confirmer *momentum.Confirmer,
	evaluator *entry.Evaluator,
	manager *lifecycle.Manager,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *GenerateUseCase {
	if !domrepo.IsValidTimeframe(cfg.Timeframe) {
		cfg.Timeframe = domrepo.DefaultTimeframe()
	}
	if !domrepo.IsValidTimeframe(cfg.HTFTimeframe) {
		cfg.HTFTimeframe = domrepo.TF1h
	}
	if cfg.History <= 0 {
		cfg.History = 5 * 24 * time.Hour
	}
	if cfg.HTFHistory <= 0 {
		cfg.HTFHistory = 30 * 24 * time.Hour
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &GenerateUseCase{
		cfg:       cfg,
		bars:      bars,
		detector:  detector,
		confirmer: confirmer,
		evaluator: evaluator,
		manager:   manager,
		metrics:   metrics,
		l:         l,
		now:       time.Now,
	}
}

func (uc *GenerateUseCase) Name() models.JobName { return models.JobGenerate }

// Run evaluates every symbol not in skip, then expires records past their TTL.
func (uc *GenerateUseCase) Run(ctx context.Context, run *models.RunLog, symbols []string, skip map[string]struct{}) {
	valid, rejected := universe.Resolve(symbols)
	for _, r := range rejected {
		record(run, []models.SymbolOutcome{{
			Job: models.JobGenerate, Symbol: r.Symbol, Timeframe: string(uc.cfg.Timeframe),
			Status: models.OutcomeSkipped, Reason: models.ReasonInvalidSymbol, Detail: r.Detail,
		}}, uc.metrics, uc.l)
	}

	outcomes := fanOut(ctx, models.JobGenerate, valid, uc.cfg.Concurrency, uc.cfg.SymbolTimeout, uc.l,
		func(ctx context.Context, symbol string) models.SymbolOutcome {
			if _, stale := skip[symbol]; stale {
				return skipped(models.ReasonStaleDataSkip, "stale at ingest")
			}
			o := uc.generateSymbol(ctx, symbol)
			o.Timeframe = string(uc.cfg.Timeframe)
			return o
		})
	record(run, outcomes, uc.metrics, uc.l)

	expired, err := uc.manager.ExpireStale(ctx, uc.now().UTC())
	if err != nil {
		uc.metrics.RecordError("expire")
		uc.l.Error("signal expiry failed", applogger.Error(err))
		return
	}
	for _, rec := range expired {
		uc.metrics.RecordSignal(models.SignalExpired.String(), string(rec.SignalType))
	}
	if len(expired) > 0 {
		uc.l.Info("signals expired", applogger.Int("count", len(expired)))
	}
}

func (uc *GenerateUseCase) generateSymbol(ctx context.Context, symbol string) models.SymbolOutcome {
	now := uc.now().UTC()
	tf := uc.cfg.Timeframe

	age, err := uc.bars.LatestBarAge(ctx, symbol, domrepo.BaseTimeframe())
	if errors.Is(err, domrepo.ErrNoBars) {
		return skipped(models.ReasonNoData, "no stored bars")
	}
	if err != nil {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}
	if uc.manager.Gate().IsStale(age) {
		return skipped(models.ReasonStaleDataSkip, fmt.Sprintf("newest bar is %s old", age.Truncate(time.Second)))
	}

	since := now.Add(-uc.cfg.History)
	start := time.Now()
	bars, err := uc.bars.GetBars(ctx, symbol, tf, &since)
	uc.metrics.RecordLatency("bars_query", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}
	bars = closedBars(bars, tf, now)
	if len(bars) == 0 {
		return skipped(models.ReasonNoData, "no closed bars")
	}
	if len(bars) < uc.detector.MinBars() {
		return skipped(models.ReasonInsufficientHistory, fmt.Sprintf("%d bars, need %d", len(bars), uc.detector.MinBars()))
	}
	last := len(bars) - 1
	if want := tf.BaseBars(); want > 1 && bars[last].Count < want {
		return skipped(models.ReasonPartialCandle, fmt.Sprintf("bar %s built from %d/%d base bars",
			bars[last].Timestamp.Format(time.RFC3339), bars[last].Count, want))
	}

	htfSince := now.Add(-uc.cfg.HTFHistory)
	htf, err := uc.bars.GetBars(ctx, symbol, uc.cfg.HTFTimeframe, &htfSince)
	if err != nil {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}
	bias := uc.detector.Bias(closedBars(htf, uc.cfg.HTFTimeframe, now))

	st := uc.detector.Run(bars, bias)
	mom := uc.confirmer.Compute(bars)

	if _, err := uc.manager.InvalidateMitigated(ctx, symbol, string(tf), bars, now); err != nil {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}

	best, found := entry.Best(uc.evaluator.Evaluate(bars, last, st, mom))
	if !found {
		return skipped(models.ReasonNoCandidate, fmt.Sprintf("htf bias %q, %d zones", bias, len(st.ActiveOrderBlocks())))
	}

	out, err := uc.manager.Emit(ctx, lifecycle.Evaluation{
		Symbol:     symbol,
		Timeframe:  string(tf),
		SignalBar:  bars[last],
		Candidate:  best,
		BaseBarAge: age,
		Volatility: features.ClassifyVolatility(bars, tf, uc.cfg.Volatility),
		Now:        now,
	})
	if err != nil {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}
	uc.metrics.RecordSignal(out.Record.Status.String(), string(out.Record.SignalType))

	detail := fmt.Sprintf("confidence %d, gate %s", out.Record.ConfidenceScore, out.Record.TradeGateReason)
	if out.Fallback {
		detail += fmt.Sprintf(", %s: %s", models.ReasonEnrichmentFallback, out.Detail)
	}
	return ok(out.Reason(), detail)
}

// closedBars drops bars whose bucket has not ended at now.
func closedBars(bars []models.Bar, tf domrepo.Timeframe, now time.Time) []models.Bar {
	d := tf.Duration()
	n := len(bars)
	for n > 0 && bars[n-1].Timestamp.Add(d).After(now) {
		n--
	}
	return bars[:n]
}
