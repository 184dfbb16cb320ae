package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/internal/repository"
	pkgcache "SignalForge/pkg/cache"
	"SignalForge/internal/usecase"
	"SignalForge/pkg/metrics"
)

const token = "s3cret"

type fakeRunner struct {
	started bool
	err     error
	job     models.JobName
	symbols []string
}

func (f *fakeRunner) TryRun(ctx context.Context, job models.JobName, symbols []string) (*models.RunLog, bool, error) {
	f.job, f.symbols = job, symbols
	if f.err != nil {
		return nil, true, f.err
	}
	if !f.started {
		return nil, false, nil
	}
	return &models.RunLog{ID: "run-1", Job: job, Success: true}, true, nil
}

type env struct {
	e       *echo.Echo
	runner  *fakeRunner
	signals *repository.MemorySignalStore
	blocks  *repository.MemoryBlockStore
}

var day = time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	signals := repository.NewMemorySignalStore()
	blocks := repository.NewMemoryBlockStore()
	bars := repository.NewMemoryBarStore(func() time.Time { return day })
	queries := usecase.NewQueryUseCase(bars, signals, repository.NewMemoryRunLogStore(10), blocks)
	brakes := models.BrakesConfig{SoftLockPnL: 500, HardLockPnL: 1000, MaxDailyLoss: -500, MaxTradesPerDay: 3, ThrottleFactor: 0.3}
	fills := usecase.NewFillsUseCase("v1", brakes, ny, repository.NewMemoryEngineStore(), metrics.Nop{}, nil)

	opts.BearerToken = token
	opts.EngineKey = "smc-v1"
	runner := &fakeRunner{started: true}
	stream := func(c echo.Context) error { return c.String(http.StatusOK, "stream") }
	h := NewSignalsEchoHandler(opts, nil, runner, queries, fills, stream)
	h.now = func() time.Time { return day }

	e := echo.New()
	h.RegisterRoutes(e)
	return &env{e: e, runner: runner, signals: signals, blocks: blocks}
}

func (v *env) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, into))
}

func TestAuthRequired(t *testing.T) {
	v := newEnv(t, Options{})
	for _, path := range []string{"/api/signals", "/api/engine/state", "/ws/signals"} {
		rec := v.do(http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := v.do(http.MethodPost, "/jobs/ingest", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, v.runner.job)

	rec = v.do(http.MethodGet, "/ws/signals", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerJob(t *testing.T) {
	v := newEnv(t, Options{})

	rec := v.do(http.MethodPost, "/jobs/generate", `{"symbols":["AAPL","MSFT"]}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run models.RunLog
	decode(t, rec, &run)
	assert.Equal(t, models.JobGenerate, run.Job)
	assert.True(t, run.Success)
	assert.Equal(t, models.JobGenerate, v.runner.job)
	assert.Equal(t, []string{"AAPL", "MSFT"}, v.runner.symbols)

	rec = v.do(http.MethodPost, "/jobs/rebalance", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerJob_Errors(t *testing.T) {
	v := newEnv(t, Options{})

	v.runner.started = false
	rec := v.do(http.MethodPost, "/jobs/all", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	v.runner.err = fmt.Errorf("missing bearer token: %w", domrepo.ErrConfiguration)
	rec = v.do(http.MethodPost, "/jobs/all", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_CONFIGURATION")
}

func TestListSignals_Cached(t *testing.T) {
	v := newEnv(t, Options{Cache: pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(16)), CacheTTL: time.Minute})
	_, _, err := v.signals.Upsert(context.Background(), &models.SignalRecord{
		Symbol: "AAPL", Timeframe: "5m", SignalBarTS: day, Status: models.SignalActive,
		SignalType: models.SignalTypeBuy, ConfidenceScore: 80,
	})
	require.NoError(t, err)

	rec := v.do(http.MethodGet, "/api/signals?symbol=aapl", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	var recs []models.SignalRecord
	decode(t, rec, &recs)
	require.Len(t, recs, 1)
	assert.Equal(t, "AAPL", recs[0].Symbol)

	rec = v.do(http.MethodGet, "/api/signals?symbol=aapl", "", true)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec = v.do(http.MethodGet, "/api/signals/active", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &recs)
	assert.Len(t, recs, 1)

	rec = v.do(http.MethodGet, "/api/signals?status=pending", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFillsAndEngineState(t *testing.T) {
	v := newEnv(t, Options{})

	body := `{"engine_key":"smc-v1","client_order_id":"o-1","symbol":"AAPL","realized_pnl":-650,"closed_at":"2025-03-03T15:00:00Z"}`
	rec := v.do(http.MethodPost, "/api/fills", body, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res fillResponse
	decode(t, rec, &res)
	assert.True(t, res.Applied)
	assert.Equal(t, models.EngineHaltedLoss, res.State.State)

	rec = v.do(http.MethodPost, "/api/fills", body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.False(t, res.Applied)
	assert.Equal(t, 1, res.State.TradesCount)

	rec = v.do(http.MethodGet, "/api/engine/state", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.EngineDailyState
	decode(t, rec, &st)
	assert.Equal(t, models.EngineHaltedLoss, st.State)

	rec = v.do(http.MethodGet, "/api/engine/state?day=2025-03-04", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &st)
	assert.Equal(t, models.EngineNormal, st.State)

	rec = v.do(http.MethodPost, "/api/fills", `{"engine_key":"smc-v1"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBlock(t *testing.T) {
	v := newEnv(t, Options{})
	until := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	rec := v.do(http.MethodPost, "/api/blocks", fmt.Sprintf(`{"symbol":"tsla","until":%q,"reason":"earnings"}`, until), true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b, err := v.blocks.ActiveBlock(context.Background(), "TSLA", time.Now())
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "earnings", b.Reason)

	rec = v.do(http.MethodPost, "/api/blocks", `{"symbol":"tsla","until":"2020-01-01T00:00:00Z"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimited(t *testing.T) {
	v := newEnv(t, Options{RateLimit: 0.001, RateBurst: 1})

	rec := v.do(http.MethodGet, "/api/runs", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = v.do(http.MethodGet, "/api/runs", "", true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
