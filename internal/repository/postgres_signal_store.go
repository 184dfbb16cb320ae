package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	applogger "SignalForge/pkg/logger"
	pkgpg "SignalForge/pkg/postgres"
)

const signalColumns = `id, symbol, timeframe, signal_bar_ts, status, signal_type, confidence_score,
	entry_price, zone_high, zone_low, bos_price, trade_gate_allowed, trade_gate_reason, blocked_until,
	ai_enriched, narrative, data_freshness_minutes, volatility_state, client_order_id, created_at, updated_at`

// The CASE keeps an active row active when a lower-confidence replay of the same bar arrives.
// Terminal rows are never touched.
const upsertSignalSQL = `
	INSERT INTO signals (symbol, timeframe, signal_bar_ts, status, signal_type, confidence_score,
		entry_price, zone_high, zone_low, bos_price, trade_gate_allowed, trade_gate_reason, blocked_until,
		ai_enriched, narrative, data_freshness_minutes, volatility_state)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (symbol, timeframe, signal_bar_ts) DO UPDATE SET
		status = CASE WHEN signals.status = 'active' AND EXCLUDED.status = 'watchlist'
			THEN signals.status ELSE EXCLUDED.status END,
		signal_type = EXCLUDED.signal_type,
		confidence_score = EXCLUDED.confidence_score,
		entry_price = EXCLUDED.entry_price,
		zone_high = EXCLUDED.zone_high,
		zone_low = EXCLUDED.zone_low,
		bos_price = EXCLUDED.bos_price,
		trade_gate_allowed = EXCLUDED.trade_gate_allowed,
		trade_gate_reason = EXCLUDED.trade_gate_reason,
		blocked_until = EXCLUDED.blocked_until,
		ai_enriched = EXCLUDED.ai_enriched,
		narrative = EXCLUDED.narrative,
		data_freshness_minutes = EXCLUDED.data_freshness_minutes,
		volatility_state = EXCLUDED.volatility_state,
		updated_at = NOW()
	WHERE signals.status IN ('watchlist', 'active')
	RETURNING ` + signalColumns

const selectSignalForUpdateSQL = `SELECT ` + signalColumns + `
	FROM signals WHERE symbol = $1 AND timeframe = $2 AND signal_bar_ts = $3 FOR UPDATE`

const supersedeActiveSQL = `
	UPDATE signals SET status = 'invalidated', updated_at = NOW()
	WHERE symbol = $1 AND timeframe = $2 AND status = 'active' AND signal_bar_ts <> $3
	RETURNING ` + signalColumns

// PGSignalStore implements SignalStore on Postgres. The partial unique index signals_one_active
// backs the single-active rule; Promote runs in one transaction.
type PGSignalStore struct {
	db      *sqlx.DB
	timeout time.Duration
	l       *applogger.Logger
}

func NewPGSignalStore(pg *pkgpg.Client, timeout time.Duration) *PGSignalStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PGSignalStore{db: pg.DB(), timeout: timeout}
}

// SetLogger injects a structured logger.
func (s *PGSignalStore) SetLogger(l *applogger.Logger) { s.l = l }

func upsertArgs(r *models.SignalRecord) []interface{} {
	return []interface{}{
		r.Symbol, r.Timeframe, r.SignalBarTS.UTC(), r.Status, string(r.SignalType), r.ConfidenceScore,
		r.EntryPrice, r.ZoneHigh, r.ZoneLow, r.BOSPrice, r.TradeGateAllowed, r.TradeGateReason, r.BlockedUntil,
		r.AIEnriched, r.Narrative, r.DataFreshnessMinutes, string(r.VolatilityState),
	}
}

func (s *PGSignalStore) Upsert(ctx context.Context, rec *models.SignalRecord) (*models.SignalRecord, *models.SignalStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := s.lockKey(ctx, tx, rec.Key())
	if err != nil {
		return nil, nil, err
	}
	saved, err := s.upsertTx(ctx, tx, rec, cur)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	if cur == nil {
		return saved, nil, nil
	}
	prev := cur.Status
	return saved, &prev, nil
}

func (s *PGSignalStore) Promote(ctx context.Context, rec *models.SignalRecord) (*models.SignalRecord, []models.SignalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	key := rec.Key()
	cur, err := s.lockKey(ctx, tx, key)
	if err != nil {
		return nil, nil, err
	}
	if cur != nil && cur.Status.IsTerminal() {
		return cur, nil, tx.Commit()
	}

	var superseded []models.SignalRecord
	if err := sqlx.SelectContext(ctx, tx, &superseded, supersedeActiveSQL, key.Symbol, key.Timeframe, key.SignalBarTS.UTC()); err != nil {
		return nil, nil, fmt.Errorf("supersede active: %w", err)
	}
	saved, err := s.upsertTx(ctx, tx, rec, cur)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	if s.l != nil && len(superseded) > 0 {
		s.l.Info("postgres signal superseded",
			applogger.String("symbol", key.Symbol),
			applogger.String("timeframe", key.Timeframe),
			applogger.Int("count", len(superseded)),
		)
	}
	return saved, superseded, nil
}

func (s *PGSignalStore) lockKey(ctx context.Context, tx *sqlx.Tx, key models.SignalKey) (*models.SignalRecord, error) {
	var cur models.SignalRecord
	err := tx.GetContext(ctx, &cur, selectSignalForUpdateSQL, key.Symbol, key.Timeframe, key.SignalBarTS.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock signal %s: %w", key, err)
	}
	return &cur, nil
}

func (s *PGSignalStore) upsertTx(ctx context.Context, tx *sqlx.Tx, rec, cur *models.SignalRecord) (*models.SignalRecord, error) {
	var saved models.SignalRecord
	err := tx.QueryRowxContext(ctx, upsertSignalSQL, upsertArgs(rec)...).StructScan(&saved)
	switch {
	case errors.Is(err, sql.ErrNoRows) && cur != nil:
		// WHERE clause filtered a terminal row.
		return cur, nil
	case err != nil:
		return nil, s.wrap("upsert signal", err)
	}
	return &saved, nil
}

func (s *PGSignalStore) Get(ctx context.Context, key models.SignalKey) (*models.SignalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rec models.SignalRecord
	err := s.db.GetContext(ctx, &rec, `SELECT `+signalColumns+`
		FROM signals WHERE symbol = $1 AND timeframe = $2 AND signal_bar_ts = $3`,
		key.Symbol, key.Timeframe, key.SignalBarTS.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("get signal", err)
	}
	return &rec, nil
}

func (s *PGSignalStore) ListActive(ctx context.Context, symbol, timeframe string) ([]models.SignalRecord, error) {
	return s.query(ctx, "list active", `SELECT `+signalColumns+`
		FROM signals WHERE symbol = $1 AND timeframe = $2 AND status = 'active' ORDER BY id`, symbol, timeframe)
}

func (s *PGSignalStore) ListExecutable(ctx context.Context) ([]models.SignalRecord, error) {
	return s.query(ctx, "list executable", `SELECT `+signalColumns+`
		FROM signals WHERE status = 'active' AND trade_gate_allowed AND signal_type <> 'neutral'
		ORDER BY signal_bar_ts, id`)
}

func (s *PGSignalStore) List(ctx context.Context, f models.SignalFilter) ([]models.SignalRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.Timeframe != "" {
		add("timeframe = $%d", f.Timeframe)
	}
	if f.Status.Valid() {
		add("status = $%d", f.Status)
	}

	q := `SELECT ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY signal_bar_ts DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.query(ctx, "list signals", q, args...)
}

func (s *PGSignalStore) UpdateGate(ctx context.Context, id int64, allowed bool, reason string, blockedUntil *time.Time) error {
	return s.exec(ctx, "update gate", domrepo.ErrNotFound, `UPDATE signals
		SET trade_gate_allowed = $2, trade_gate_reason = $3, blocked_until = $4, updated_at = NOW()
		WHERE id = $1`, id, allowed, reason, blockedUntil)
}

func (s *PGSignalStore) MarkFilled(ctx context.Context, id int64, clientOrderID string) error {
	return s.exec(ctx, "mark filled", domrepo.ErrConflict, `UPDATE signals
		SET status = 'filled', client_order_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, id, clientOrderID)
}

func (s *PGSignalStore) Invalidate(ctx context.Context, id int64) error {
	return s.exec(ctx, "invalidate", domrepo.ErrConflict, `UPDATE signals
		SET status = 'invalidated', updated_at = NOW()
		WHERE id = $1 AND status IN ('watchlist', 'active')`, id)
}

// The locked subquery captures each row's status before the update rewrites it.
const expireSignalsSQL = `
	UPDATE signals
	SET status = 'expired', updated_at = NOW()
	FROM (
		SELECT id AS expired_id, status AS prev_status FROM signals
		WHERE status IN ('watchlist', 'active') AND signal_bar_ts < $1
		FOR UPDATE
	) prior
	WHERE signals.id = prior.expired_id
	RETURNING ` + signalColumns + `, prior.prev_status`

type expiredRow struct {
	models.SignalRecord
	PrevStatus models.SignalStatus `db:"prev_status"`
}

func (s *PGSignalStore) ExpireBefore(ctx context.Context, cutoff time.Time) ([]models.SignalTransition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []expiredRow
	if err := s.db.SelectContext(ctx, &rows, expireSignalsSQL, cutoff.UTC()); err != nil {
		return nil, s.wrap("expire signals", err)
	}
	out := make([]models.SignalTransition, len(rows))
	for i, r := range rows {
		out[i] = models.SignalTransition{Signal: r.SignalRecord, PrevStatus: r.PrevStatus}
	}
	return out, nil
}

func (s *PGSignalStore) query(ctx context.Context, op, q string, args ...interface{}) ([]models.SignalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out := make([]models.SignalRecord, 0)
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, s.wrap(op, err)
	}
	return out, nil
}

func (s *PGSignalStore) exec(ctx context.Context, op string, none error, q string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return s.wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(op, err)
	}
	if n == 0 {
		return none
	}
	return nil
}

func (s *PGSignalStore) wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		err = fmt.Errorf("%w: %s", domrepo.ErrConflict, pqErr.Message)
	}
	if s.l != nil {
		s.l.Error("postgres signal store error",
			applogger.String("op", op),
			applogger.Error(err),
		)
	}
	return fmt.Errorf("%s: %w", op, err)
}
