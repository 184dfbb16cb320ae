package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	pkgpg "SignalForge/pkg/postgres"
)

var barTS = time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

func newMockPG(t *testing.T) (*pkgpg.Client, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return pkgpg.NewFromDB(sqlx.NewDb(mockDB, "postgres")), mock
}

var signalCols = []string{
	"id", "symbol", "timeframe", "signal_bar_ts", "status", "signal_type", "confidence_score",
	"entry_price", "zone_high", "zone_low", "bos_price", "trade_gate_allowed", "trade_gate_reason", "blocked_until",
	"ai_enriched", "narrative", "data_freshness_minutes", "volatility_state", "client_order_id", "created_at", "updated_at",
}

func signalRow(id int64, ts time.Time, status string) []driver.Value {
	return []driver.Value{
		id, "AAPL", "5m", ts, status, "buy", int64(80),
		130.46, 128.2, 127.5, 130.1, true, "ok", nil,
		false, "fallback", int64(0), "normal", "", barTS, barTS,
	}
}

func sampleRecord(status models.SignalStatus) *models.SignalRecord {
	return &models.SignalRecord{
		Symbol: "AAPL", Timeframe: "5m", SignalBarTS: barTS, Status: status, SignalType: models.SignalTypeBuy,
		ConfidenceScore: 80, EntryPrice: 130.46, ZoneHigh: 128.2, ZoneLow: 127.5, BOSPrice: 130.1,
		TradeGateAllowed: true, TradeGateReason: models.GateOK, Narrative: "fallback",
		VolatilityState: models.VolatilityNormal,
	}
}

func TestPGSignalStore_PromoteSupersedes(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGSignalStore(pg, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM signals WHERE symbol = $1 AND timeframe = $2 AND signal_bar_ts = $3 FOR UPDATE")).
		WithArgs("AAPL", "5m", barTS).
		WillReturnRows(sqlmock.NewRows(signalCols))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE signals SET status = 'invalidated'")).
		WithArgs("AAPL", "5m", barTS).
		WillReturnRows(sqlmock.NewRows(signalCols).AddRow(signalRow(7, barTS.Add(-5*time.Minute), "invalidated")...))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO signals")).
		WillReturnRows(sqlmock.NewRows(signalCols).AddRow(signalRow(8, barTS, "active")...))
	mock.ExpectCommit()

	saved, superseded, err := store.Promote(context.Background(), sampleRecord(models.SignalActive))
	require.NoError(t, err)
	assert.EqualValues(t, 8, saved.ID)
	assert.Equal(t, models.SignalActive, saved.Status)
	assert.Equal(t, models.SignalTypeBuy, saved.SignalType)
	assert.Nil(t, saved.BlockedUntil)
	require.Len(t, superseded, 1)
	assert.EqualValues(t, 7, superseded[0].ID)
	assert.Equal(t, models.SignalInvalidated, superseded[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGSignalStore_PromoteKeepsTerminal(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGSignalStore(pg, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(signalCols).AddRow(signalRow(3, barTS, "filled")...))
	mock.ExpectCommit()

	saved, superseded, err := store.Promote(context.Background(), sampleRecord(models.SignalActive))
	require.NoError(t, err)
	assert.Equal(t, models.SignalFilled, saved.Status)
	assert.Empty(t, superseded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGSignalStore_PromoteUniqueViolationIsConflict(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGSignalStore(pg, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(sqlmock.NewRows(signalCols))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE signals SET status = 'invalidated'")).WillReturnRows(sqlmock.NewRows(signalCols))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO signals")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint \"signals_one_active\""})
	mock.ExpectRollback()

	_, _, err := store.Promote(context.Background(), sampleRecord(models.SignalActive))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domrepo.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGSignalStore_UpsertReturnsPrevious(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGSignalStore(pg, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(signalCols).AddRow(signalRow(4, barTS, "watchlist")...))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (symbol, timeframe, signal_bar_ts) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows(signalCols).AddRow(signalRow(4, barTS, "watchlist")...))
	mock.ExpectCommit()

	saved, prev, err := store.Upsert(context.Background(), sampleRecord(models.SignalWatchlist))
	require.NoError(t, err)
	assert.EqualValues(t, 4, saved.ID)
	require.NotNil(t, prev)
	assert.Equal(t, models.SignalWatchlist, *prev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGSignalStore_GetNotFound(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGSignalStore(pg, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("FROM signals WHERE symbol = $1")).
		WithArgs("AAPL", "5m", barTS).
		WillReturnRows(sqlmock.NewRows(signalCols))

	_, err := store.Get(context.Background(), models.SignalKey{Symbol: "AAPL", Timeframe: "5m", SignalBarTS: barTS})
	assert.True(t, errors.Is(err, domrepo.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGSignalStore_ListBuildsFilter(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGSignalStore(pg, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("FROM signals WHERE symbol = $1 AND status = $2 ORDER BY signal_bar_ts DESC, id DESC LIMIT $3")).
		WithArgs("AAPL", "active", 10).
		WillReturnRows(sqlmock.NewRows(signalCols).AddRow(signalRow(1, barTS, "active")...))

	out, err := store.List(context.Background(), models.SignalFilter{Symbol: "AAPL", Status: models.SignalActive, Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGSignalStore_MarkFilledRequiresActive(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGSignalStore(pg, time.Second)

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'filled'")).
		WithArgs(int64(9), "coid").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkFilled(context.Background(), 9, "coid")
	assert.True(t, errors.Is(err, domrepo.ErrConflict))

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'filled'")).
		WithArgs(int64(9), "coid").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.MarkFilled(context.Background(), 9, "coid"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGSignalStore_ExpireBefore(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGSignalStore(pg, time.Second)
	cutoff := barTS.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SET status = 'expired'")).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(append(signalCols, "prev_status")).
			AddRow(append(signalRow(2, cutoff.Add(-time.Minute), "expired"), "active")...))

	out, err := store.ExpireBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].Signal.ID)
	assert.Equal(t, models.SignalExpired, out[0].Signal.Status)
	assert.Equal(t, models.SignalActive, out[0].PrevStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var engineCols = []string{"engine_key", "engine_version", "trading_day", "state", "daily_pnl", "trades_count", "throttle_factor", "halt_reason", "updated_at"}

func TestPGEngineStore_ApplyFill(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGEngineStore(pg, time.Second)
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	fill := models.ExecutionFill{EngineKey: "smc", ClientOrderID: "c1", Symbol: "AAPL", RealizedPnL: 150, ClosedAt: barTS}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO engine_daily_state")).
		WithArgs("smc", "v1", day, "NORMAL").
		WillReturnRows(sqlmock.NewRows(engineCols).AddRow("smc", "v1", day, "NORMAL", 0.0, 0, 1.0, "", barTS))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO engine_fills")).
		WithArgs("c1", "smc", "AAPL", 150.0, barTS, day).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SET daily_pnl = daily_pnl + $3")).
		WithArgs("smc", day, 150.0).
		WillReturnRows(sqlmock.NewRows(engineCols).AddRow("smc", "v1", day, "NORMAL", 150.0, 1, 1.0, "", barTS))
	mock.ExpectCommit()

	st, applied, err := store.ApplyFill(context.Background(), fill, "v1", day)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 150.0, st.DailyPnL)
	assert.Equal(t, 1, st.TradesCount)
	assert.Equal(t, models.EngineNormal, st.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGEngineStore_ApplyFillReplay(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGEngineStore(pg, time.Second)
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO engine_daily_state")).
		WillReturnRows(sqlmock.NewRows(engineCols).AddRow("smc", "v1", day, "THROTTLED", 150.0, 1, 0.3, "", barTS))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO engine_fills")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	st, applied, err := store.ApplyFill(context.Background(),
		models.ExecutionFill{EngineKey: "smc", ClientOrderID: "c1", Symbol: "AAPL", RealizedPnL: 150, ClosedAt: barTS}, "v1", day)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.EngineThrottled, st.State)
	assert.Equal(t, 1, st.TradesCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGEngineStore_SaveWritesDecisionOnly(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGEngineStore(pg, time.Second)
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	st := &models.EngineDailyState{
		EngineKey: "smc", EngineVersion: "v1", TradingDay: day, State: models.EngineHaltedLoss,
		DailyPnL: -600, TradesCount: 1, ThrottleFactor: 0, HaltReason: models.HaltReasonMaxLoss,
	}

	mock.ExpectExec(`UPDATE engine_daily_state\s+SET state = \$3, throttle_factor = \$4, halt_reason = \$5, updated_at = NOW\(\)\s+WHERE .* AND trades_count = \$6`).
		WithArgs("smc", day, "HALTED_LOSS", 0.0, models.HaltReasonMaxLoss, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Save(context.Background(), st))

	// a fill moved trades_count after st was read
	mock.ExpectExec(regexp.QuoteMeta("UPDATE engine_daily_state")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.Save(context.Background(), st)
	assert.ErrorIs(t, err, domrepo.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryEngineStore_SaveKeepsCounters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEngineStore()
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	st, err := store.GetOrCreate(ctx, "smc", "v1", day)
	require.NoError(t, err)
	_, applied, err := store.ApplyFill(ctx, models.ExecutionFill{EngineKey: "smc", ClientOrderID: "c1", Symbol: "AAPL", RealizedPnL: -600, ClosedAt: barTS}, "v1", day)
	require.NoError(t, err)
	require.True(t, applied)

	st.State = models.EngineNormal
	assert.ErrorIs(t, store.Save(ctx, st), domrepo.ErrConflict)

	fresh, err := store.GetOrCreate(ctx, "smc", "v1", day)
	require.NoError(t, err)
	fresh.State, fresh.ThrottleFactor, fresh.HaltReason = models.EngineHaltedLoss, 0, models.HaltReasonMaxLoss
	fresh.DailyPnL = 0
	require.NoError(t, store.Save(ctx, fresh))

	got, err := store.GetOrCreate(ctx, "smc", "v1", day)
	require.NoError(t, err)
	assert.Equal(t, models.EngineHaltedLoss, got.State)
	assert.InDelta(t, -600.0, got.DailyPnL, 1e-9)
	assert.Equal(t, 1, got.TradesCount)
}

func TestPGRunLogStore_SaveAndRecent(t *testing.T) {
	pg, mock := newMockPG(t)
	store := NewPGRunLogStore(pg, time.Second)

	run := &models.RunLog{ID: "r1", Job: models.JobGenerate, StartedAt: barTS, FinishedAt: barTS.Add(time.Second), DurationMS: 1000, Processed: 1, Success: true,
		Outcomes: []models.SymbolOutcome{{Job: models.JobGenerate, Symbol: "AAPL", Status: models.OutcomeOK, Reason: models.ReasonSignalActive}}}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_logs")).
		WithArgs("r1", "generate", barTS, barTS.Add(time.Second), int64(1000), 1, 0, 0, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Save(context.Background(), run))

	outcomes := []byte(`[{"job":"generate","symbol":"AAPL","status":"ok","reason":"signal_active"}]`)
	mock.ExpectQuery(regexp.QuoteMeta("FROM run_logs")).
		WithArgs("generate", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job", "started_at", "finished_at", "duration_ms", "processed", "skipped", "failed", "success", "outcomes"}).
			AddRow("r1", "generate", barTS, barTS.Add(time.Second), int64(1000), 1, 0, 0, true, outcomes))

	runs, err := store.Recent(context.Background(), models.JobGenerate, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.JobGenerate, runs[0].Job)
	require.Len(t, runs[0].Outcomes, 1)
	assert.Equal(t, models.ReasonSignalActive, runs[0].Outcomes[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}
