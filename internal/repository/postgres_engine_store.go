package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	applogger "SignalForge/pkg/logger"
	pkgpg "SignalForge/pkg/postgres"
	"SignalForge/pkg/util"
)

const engineColumns = `engine_key, engine_version, trading_day, state, daily_pnl, trades_count,
	throttle_factor, halt_reason, updated_at`

// Lazily creates the day row. DO UPDATE with a no-op assignment makes RETURNING yield the
// existing row on conflict.
const getOrCreateEngineSQL = `
	INSERT INTO engine_daily_state (engine_key, engine_version, trading_day, state, daily_pnl,
		trades_count, throttle_factor, halt_reason)
	VALUES ($1, $2, $3, $4, 0, 0, 1, '')
	ON CONFLICT (engine_key, trading_day) DO UPDATE SET engine_key = EXCLUDED.engine_key
	RETURNING ` + engineColumns

// Writes only the governor decision. trades_count moves with every applied fill, so a decision
// computed from an older snapshot matches no row.
const saveEngineSQL = `
	UPDATE engine_daily_state
	SET state = $3, throttle_factor = $4, halt_reason = $5, updated_at = NOW()
	WHERE engine_key = $1 AND trading_day = $2 AND trades_count = $6`

const insertFillSQL = `
	INSERT INTO engine_fills (client_order_id, engine_key, symbol, realized_pnl, closed_at, trading_day)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (client_order_id) DO NOTHING`

const applyFillSQL = `
	UPDATE engine_daily_state
	SET daily_pnl = daily_pnl + $3, trades_count = trades_count + 1, updated_at = NOW()
	WHERE engine_key = $1 AND trading_day = $2
	RETURNING ` + engineColumns

// PGEngineStore keeps one row per (engine_key, trading_day). Past days are only read.
type PGEngineStore struct {
	db      *sqlx.DB
	timeout time.Duration
	l       *applogger.Logger
}

func NewPGEngineStore(pg *pkgpg.Client, timeout time.Duration) *PGEngineStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PGEngineStore{db: pg.DB(), timeout: timeout}
}

func (s *PGEngineStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *PGEngineStore) GetOrCreate(ctx context.Context, engineKey, version string, day time.Time) (*models.EngineDailyState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return getOrCreateEngine(ctx, s.db, engineKey, version, day)
}

func getOrCreateEngine(ctx context.Context, q sqlx.QueryerContext, engineKey, version string, day time.Time) (*models.EngineDailyState, error) {
	var st models.EngineDailyState
	if err := sqlx.GetContext(ctx, q, &st, getOrCreateEngineSQL, engineKey, version, day, models.EngineNormal); err != nil {
		return nil, fmt.Errorf("get or create engine state %s %s: %w", engineKey, util.FormatDay(day), err)
	}
	return &st, nil
}

// Save persists the decision fields of st. It never touches daily_pnl or trades_count and returns
// ErrConflict when a fill landed after st was read.
func (s *PGEngineStore) Save(ctx context.Context, st *models.EngineDailyState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, saveEngineSQL,
		st.EngineKey, st.TradingDay, st.State, st.ThrottleFactor, st.HaltReason, st.TradesCount)
	if err != nil {
		if s.l != nil {
			s.l.Error("postgres save engine state error",
				applogger.String("engine_key", st.EngineKey),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("save engine state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save engine state %s %s: %w", st.EngineKey, util.FormatDay(st.TradingDay), domrepo.ErrConflict)
	}
	return nil
}

// ApplyFill records the fill and adds it to the day row in one transaction. A replayed
// client_order_id changes nothing.
func (s *PGEngineStore) ApplyFill(ctx context.Context, fill models.ExecutionFill, version string, day time.Time) (*models.EngineDailyState, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	st, err := getOrCreateEngine(ctx, tx, fill.EngineKey, version, day)
	if err != nil {
		return nil, false, err
	}

	res, err := tx.ExecContext(ctx, insertFillSQL,
		fill.ClientOrderID, fill.EngineKey, fill.Symbol, fill.RealizedPnL, fill.ClosedAt.UTC(), day)
	if err != nil {
		return nil, false, fmt.Errorf("insert fill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return st, false, tx.Commit()
	}

	var updated models.EngineDailyState
	if err := tx.GetContext(ctx, &updated, applyFillSQL, fill.EngineKey, day, fill.RealizedPnL); err != nil {
		return nil, false, fmt.Errorf("apply fill: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return &updated, true, nil
}
