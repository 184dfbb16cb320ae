package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/internal/services/brakes"
	applogger "SignalForge/pkg/logger"
	"SignalForge/pkg/util"
)

// FillsUseCase applies realized P&L reported by the execution collaborator to the engine day row.
type FillsUseCase struct {
	version  string
	cfg      models.BrakesConfig
	loc      *time.Location
	engines  domrepo.EngineStateStore
	metrics  domrepo.Metrics
	l        *applogger.Logger
	validate *validator.Validate
}

func NewFillsUseCase(version string, cfg models.BrakesConfig, loc *time.Location, engines domrepo.EngineStateStore, metrics domrepo.Metrics, l *applogger.Logger) *FillsUseCase {
	if loc == nil {
		loc = time.UTC
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &FillsUseCase{
		version:  version,
		cfg:      cfg,
		loc:      loc,
		engines:  engines,
		metrics:  metrics,
		l:        l,
		validate: validator.New(),
	}
}

// Apply records the fill once per client order id and re-evaluates the governor for its trading day.
// A duplicate fill returns the current state with applied=false.
func (uc *FillsUseCase) Apply(ctx context.Context, fill models.ExecutionFill) (*models.EngineDailyState, bool, error) {
	if err := uc.validate.Struct(fill); err != nil {
		return nil, false, fmt.Errorf("invalid fill: %w", err)
	}
	day := models.TradingDayOf(fill.ClosedAt, uc.loc)
	st, applied, err := uc.engines.ApplyFill(ctx, fill, uc.version, day)
	if err != nil {
		uc.metrics.RecordError("fill_apply")
		return nil, false, fmt.Errorf("apply fill %s: %w", fill.ClientOrderID, err)
	}
	if !applied {
		uc.l.Info("duplicate fill ignored",
			applogger.String("client_order_id", fill.ClientOrderID),
			applogger.String("engine", fill.EngineKey),
		)
		return st, false, nil
	}

	prev := st.State
	st, dec, err := settleEngine(ctx, uc.engines, st, uc.cfg)
	if err != nil {
		uc.metrics.RecordError("store")
		return nil, true, fmt.Errorf("save engine state: %w", err)
	}
	uc.metrics.RecordEngineState(st.EngineKey, st.State.String(), st.DailyPnL)

	fields := []applogger.Field{
		applogger.String("engine", st.EngineKey),
		applogger.String("trading_day", util.FormatDay(st.TradingDay)),
		applogger.String("client_order_id", fill.ClientOrderID),
		applogger.Float64("realized_pnl", fill.RealizedPnL),
		applogger.Float64("daily_pnl", st.DailyPnL),
		applogger.Int("trades", st.TradesCount),
		applogger.String("state", st.State.String()),
	}
	if dec.State != prev {
		uc.l.Warn("engine state changed", append(fields, applogger.String("from", prev.String()), applogger.String("halt_reason", dec.HaltReason))...)
	} else {
		uc.l.Info("fill applied", fields...)
	}
	return st, true, nil
}

// settleAttempts bounds how often a decision is recomputed when fills keep landing underneath it.
const settleAttempts = 5

// settleEngine evaluates the governor on st and persists the decision. When a concurrent fill has
// moved the row since st was read, it re-reads the row and evaluates again.
func settleEngine(ctx context.Context, engines domrepo.EngineStateStore, st *models.EngineDailyState, cfg models.BrakesConfig) (*models.EngineDailyState, models.BrakesDecision, error) {
	for attempt := 1; ; attempt++ {
		dec := brakes.Apply(st, cfg)
		err := engines.Save(ctx, st)
		if err == nil {
			return st, dec, nil
		}
		if !errors.Is(err, domrepo.ErrConflict) || attempt >= settleAttempts {
			return nil, dec, err
		}
		if st, err = engines.GetOrCreate(ctx, st.EngineKey, st.EngineVersion, st.TradingDay); err != nil {
			return nil, dec, err
		}
	}
}

// State returns the engine row for day, creating it lazily, with the governor decision applied.
func (uc *FillsUseCase) State(ctx context.Context, engineKey string, day time.Time) (*models.EngineDailyState, error) {
	st, err := uc.engines.GetOrCreate(ctx, engineKey, uc.version, day)
	if err != nil {
		return nil, fmt.Errorf("engine state: %w", err)
	}
	brakes.Apply(st, uc.cfg)
	return st, nil
}

// Today is the current exchange-local trading day.
func (uc *FillsUseCase) Today(now time.Time) time.Time {
	return models.TradingDayOf(now, uc.loc)
}
