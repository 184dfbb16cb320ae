package repository

import (
	"context"
	"errors"
	"time"

	"SignalForge/internal/domain/models"
)

var (
	ErrNoBars        = errors.New("no bars")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrConfiguration = errors.New("invalid configuration")
)

// BarStore is the Bar Store Adapter: ordered OHLCV bars per symbol and timeframe.
type BarStore interface {
	// GetBars returns bars ordered by timestamp ascending. since=nil returns the full history.
	GetBars(ctx context.Context, symbol string, tf Timeframe, since *time.Time) ([]models.Bar, error)
	// LatestBarAge returns now minus the newest bar timestamp, or ErrNoBars.
	LatestBarAge(ctx context.Context, symbol string, tf Timeframe) (time.Duration, error)
	// UpsertBars stores base bars keyed by (symbol, timestamp).
	UpsertBars(ctx context.Context, bars []models.Bar) (int, error)
	Health(ctx context.Context) error
}

// SignalStore persists signal records. Only one active record per (symbol, timeframe) may exist.
type SignalStore interface {
	// Upsert inserts or updates the record for its key. Terminal statuses are never overwritten.
	// The stored row is returned together with its previous status (nil when created).
	Upsert(ctx context.Context, rec *models.SignalRecord) (*models.SignalRecord, *models.SignalStatus, error)
	// Promote invalidates any other active record for the key and upserts rec as active, atomically.
	Promote(ctx context.Context, rec *models.SignalRecord) (*models.SignalRecord, []models.SignalRecord, error)
	Get(ctx context.Context, key models.SignalKey) (*models.SignalRecord, error)
	ListActive(ctx context.Context, symbol, timeframe string) ([]models.SignalRecord, error)
	ListExecutable(ctx context.Context) ([]models.SignalRecord, error)
	List(ctx context.Context, f models.SignalFilter) ([]models.SignalRecord, error)
	UpdateGate(ctx context.Context, id int64, allowed bool, reason string, blockedUntil *time.Time) error
	MarkFilled(ctx context.Context, id int64, clientOrderID string) error
	Invalidate(ctx context.Context, id int64) error
	// ExpireBefore expires non-terminal records whose signal bar is older than cutoff and reports
	// the status each one held before.
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]models.SignalTransition, error)
}

// EngineStateStore persists EngineDailyState rows and applied fills.
type EngineStateStore interface {
	GetOrCreate(ctx context.Context, engineKey, version string, day time.Time) (*models.EngineDailyState, error)
	// Save persists the governor decision of st (state, throttle, halt reason). P&L and trade
	// counts only change through ApplyFill. ErrConflict means a fill landed after st was read.
	Save(ctx context.Context, st *models.EngineDailyState) error
	// ApplyFill records the fill once per client order id and adds it to the day row.
	// applied=false means the fill was already recorded.
	ApplyFill(ctx context.Context, fill models.ExecutionFill, version string, day time.Time) (st *models.EngineDailyState, applied bool, err error)
}

// RunLogStore keeps structured job run logs.
type RunLogStore interface {
	Save(ctx context.Context, run *models.RunLog) error
	Recent(ctx context.Context, job models.JobName, limit int) ([]models.RunLog, error)
}

// BlockStore holds manual trading blocks.
type BlockStore interface {
	SetBlock(ctx context.Context, b models.ManualBlock) error
	ActiveBlock(ctx context.Context, symbol string, now time.Time) (*models.ManualBlock, error)
}

// SignalPublisher fans signal events out to subscribers.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, ev models.SignalEvent) error
	Close() error
}

type Metrics interface {
	RecordJobRun(job string, success bool, seconds float64)
	RecordSymbolOutcome(job, status, reason string)
	RecordSignal(status, signalType string)
	RecordEngineState(engineKey, state string, dailyPnL float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
