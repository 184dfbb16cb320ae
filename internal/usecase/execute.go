package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/internal/domain/service"
	"SignalForge/internal/services/lifecycle"
	"SignalForge/internal/services/universe"
	applogger "SignalForge/pkg/logger"
)

type ExecuteConfig struct {
	EngineKey     string
	EngineVersion string
	Brakes        models.BrakesConfig
	BaseSize      float64
	// HandoffTimeout bounds one Submit call, retries included.
	HandoffTimeout time.Duration
}

// orderNamespace scopes deterministic client order ids.
var orderNamespace = uuid.MustParse("6f1c7a52-3b0e-4d9a-9a57-2f8b1c0e5d41")

// ClientOrderID derives the idempotency key of the order for a signal. Re-running execute for the
// same record always produces the same id.
func ClientOrderID(engineKey string, key models.SignalKey) string {
	return uuid.NewSHA1(orderNamespace, []byte(engineKey+"|"+key.String())).String()
}

// ExecuteUseCase hands executable signals to the execution collaborator under the risk governor.
type ExecuteUseCase struct {
	cfg     ExecuteConfig
	signals domrepo.SignalStore
	bars    domrepo.BarStore
	engines domrepo.EngineStateStore
	manager *lifecycle.Manager
	handoff service.ExecutionHandoff
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time
}

func NewExecuteUseCase(
	cfg ExecuteConfig,
	signals domrepo.SignalStore,
	bars domrepo.BarStore,
	engines domrepo.EngineStateStore,
	manager *lifecycle.Manager,
	handoff service.ExecutionHandoff,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *ExecuteUseCase {
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = 15 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ExecuteUseCase{
		cfg:     cfg,
		signals: signals,
		bars:    bars,
		engines: engines,
		manager: manager,
		handoff: handoff,
		metrics: metrics,
		l:       l,
		now:     time.Now,
	}
}

func (uc *ExecuteUseCase) Name() models.JobName { return models.JobExecute }

// Run processes executable records one at a time so every hand-off sees the governor state left by
// the previous one. symbols narrows the set when it differs from the configured universe.
func (uc *ExecuteUseCase) Run(ctx context.Context, run *models.RunLog, symbols []string, _ map[string]struct{}) {
	recs, err := uc.signals.ListExecutable(ctx)
	if err != nil {
		uc.metrics.RecordError("store")
		record(run, []models.SymbolOutcome{{
			Job: models.JobExecute, Symbol: "*", Status: models.OutcomeFailed,
			Reason: models.ReasonStoreError, Detail: err.Error(),
		}}, uc.metrics, uc.l)
		return
	}
	recs = filterSymbols(recs, symbols)

	byKey := make(map[string]models.SignalRecord, len(recs))
	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		k := r.Key().String()
		byKey[k] = r
		keys = append(keys, k)
	}

	outcomes := fanOut(ctx, models.JobExecute, keys, 1, 0, uc.l, func(ctx context.Context, k string) models.SymbolOutcome {
		rec := byKey[k]
		o := uc.executeSignal(ctx, &rec)
		o.Timeframe = rec.Timeframe
		return o
	})
	for i := range outcomes {
		outcomes[i].Symbol = byKey[keys[i]].Symbol
	}
	record(run, outcomes, uc.metrics, uc.l)
}

func (uc *ExecuteUseCase) executeSignal(ctx context.Context, rec *models.SignalRecord) models.SymbolOutcome {
	now := uc.now().UTC()

	age, err := uc.bars.LatestBarAge(ctx, rec.Symbol, domrepo.BaseTimeframe())
	if err != nil && !errors.Is(err, domrepo.ErrNoBars) {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}
	if errors.Is(err, domrepo.ErrNoBars) {
		age = time.Duration(math.MaxInt64)
	}
	gate, err := uc.manager.Regate(ctx, rec, age, now)
	if err != nil {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}
	if !gate.Allowed {
		return skipped(models.ReasonGated, gate.Reason)
	}

	day := models.TradingDayOf(now, uc.manager.Gate().Location())
	st, err := uc.engines.GetOrCreate(ctx, uc.cfg.EngineKey, uc.cfg.EngineVersion, day)
	if err != nil {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}
	st, dec, err := settleEngine(ctx, uc.engines, st, uc.cfg.Brakes)
	if err != nil {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}
	uc.metrics.RecordEngineState(st.EngineKey, st.State.String(), st.DailyPnL)
	if dec.ThrottleFactor <= 0 {
		return skipped(models.ReasonGovernorHalt, fmt.Sprintf("%s: %s", dec.State, dec.HaltReason))
	}

	order := models.ExecutionOrder{
		ClientOrderID: ClientOrderID(uc.cfg.EngineKey, rec.Key()),
		EngineKey:     uc.cfg.EngineKey,
		Symbol:        rec.Symbol,
		Timeframe:     rec.Timeframe,
		Side:          rec.SignalType,
		Size:          uc.cfg.BaseSize * dec.ThrottleFactor,
		EntryPrice:    rec.EntryPrice,
		Confidence:    rec.ConfidenceScore,
		SignalBarTS:   rec.SignalBarTS,
	}
	hctx, cancel := context.WithTimeout(ctx, uc.cfg.HandoffTimeout)
	defer cancel()
	start := time.Now()
	receipt, err := uc.handoff.Submit(hctx, order)
	uc.metrics.RecordLatency("handoff", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError("handoff")
		return failed(models.ReasonHandoffFailed, err)
	}

	if err := uc.manager.MarkFilled(ctx, rec, receipt.ClientOrderID, now); err != nil {
		uc.metrics.RecordError("store")
		return failed(models.ReasonStoreError, err)
	}
	uc.metrics.RecordSignal(models.SignalFilled.String(), string(rec.SignalType))
	return ok(models.ReasonFilled, fmt.Sprintf("%s size %.4g (%s)", order.ClientOrderID, order.Size, dec.State))
}

func filterSymbols(recs []models.SignalRecord, symbols []string) []models.SignalRecord {
	if len(symbols) == 0 {
		return recs
	}
	resolved, _ := universe.Resolve(symbols)
	want := make(map[string]struct{}, len(resolved))
	for _, s := range resolved {
		want[s] = struct{}{}
	}
	out := recs[:0:0]
	for _, r := range recs {
		if _, ok := want[r.Symbol]; ok {
			out = append(out, r)
		}
	}
	return out
}
