package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
)

// QueryUseCase serves the read API and manual blocks.
type QueryUseCase struct {
	bars    domrepo.BarStore
	signals domrepo.SignalStore
	runs    domrepo.RunLogStore
	blocks  domrepo.BlockStore
	now     func() time.Time
}

func NewQueryUseCase(bars domrepo.BarStore, signals domrepo.SignalStore, runs domrepo.RunLogStore, blocks domrepo.BlockStore) *QueryUseCase {
	return &QueryUseCase{bars: bars, signals: signals, runs: runs, blocks: blocks, now: time.Now}
}

type BarsResult struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Count     int          `json:"count"`
	Bars      []models.Bar `json:"bars"`
}

// Bars returns the newest n bars of tf, oldest first.
func (uc *QueryUseCase) Bars(ctx context.Context, req models.BarsRequest) (*BarsResult, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	tf := domrepo.NormalizeTimeframe(req.Timeframe)
	if req.N <= 0 {
		req.N = 300
	}
	since := uc.now().Add(-time.Duration(req.N+1) * tf.Duration())
	bars, err := uc.bars.GetBars(ctx, symbol, tf, &since)
	if err != nil {
		return nil, fmt.Errorf("get bars: %w", err)
	}
	if len(bars) > req.N {
		bars = bars[len(bars)-req.N:]
	}
	return &BarsResult{Symbol: symbol, Timeframe: string(tf), Count: len(bars), Bars: bars}, nil
}

func (uc *QueryUseCase) Signals(ctx context.Context, req models.ListSignalsRequest) ([]models.SignalRecord, error) {
	f := models.SignalFilter{
		Symbol:    strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Timeframe: req.Timeframe,
		Limit:     req.Limit,
	}
	if req.Status != "" {
		st, err := models.ParseSignalStatus(req.Status)
		if err != nil {
			return nil, err
		}
		f.Status = st
	}
	return uc.signals.List(ctx, f)
}

// ActiveSignals lists active records, optionally narrowed to one symbol and timeframe.
func (uc *QueryUseCase) ActiveSignals(ctx context.Context, symbol, timeframe string) ([]models.SignalRecord, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol != "" && timeframe != "" {
		return uc.signals.ListActive(ctx, symbol, timeframe)
	}
	return uc.signals.List(ctx, models.SignalFilter{Symbol: symbol, Timeframe: timeframe, Status: models.SignalActive})
}

func (uc *QueryUseCase) Runs(ctx context.Context, req models.RunsRequest) ([]models.RunLog, error) {
	return uc.runs.Recent(ctx, models.JobName(req.Job), req.Limit)
}

// Block sets a manual trading block. Windows in the past are rejected.
func (uc *QueryUseCase) Block(ctx context.Context, req models.BlockRequest) (*models.ManualBlock, error) {
	if !req.Until.After(uc.now()) {
		return nil, fmt.Errorf("block window already ended")
	}
	b := models.ManualBlock{
		Symbol: strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Until:  req.Until.UTC(),
		Reason: req.Reason,
	}
	if err := uc.blocks.SetBlock(ctx, b); err != nil {
		return nil, fmt.Errorf("set block: %w", err)
	}
	return &b, nil
}
