package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/internal/service/ratelimit"
	"SignalForge/internal/usecase"
	pkgcache "SignalForge/pkg/cache"
	xhttp "SignalForge/pkg/http"
	xlogger "SignalForge/pkg/logger"
	"SignalForge/pkg/util"
)

type Options struct {
	BearerToken string
	EngineKey   string
	// RateLimit is requests per second per client, RateBurst the bucket size.
	RateLimit float64
	RateBurst int
	// CacheTTL applies to GET responses. Zero disables caching.
	CacheTTL time.Duration
	Cache    ResponseCache
}

// ResponseCache holds rendered GET responses keyed by request URI. It is its own type so the
// injector can tell it apart from the provider cache.
type ResponseCache interface {
	pkgcache.Service
}

// Runner is the pipeline entry used by job triggers.
type Runner interface {
	TryRun(ctx context.Context, job models.JobName, symbols []string) (*models.RunLog, bool, error)
}

// SignalsEchoHandler serves job triggers, the read API, manual blocks, fills and the signal stream.
type SignalsEchoHandler struct {
	opts     Options
	logger   *xlogger.Logger
	pipeline Runner
	queries  *usecase.QueryUseCase
	fills    *usecase.FillsUseCase
	stream   echo.HandlerFunc
	rl       *ratelimit.Limiter
	now      func() time.Time
}

func NewSignalsEchoHandler(opts Options, logger *xlogger.Logger, pipeline Runner, queries *usecase.QueryUseCase, fills *usecase.FillsUseCase, stream echo.HandlerFunc) *SignalsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &SignalsEchoHandler{
		opts:     opts,
		logger:   logger,
		pipeline: pipeline,
		queries:  queries,
		fills:    fills,
		stream:   stream,
		now:      time.Now,
	}
	if opts.RateLimit > 0 {
		h.rl = ratelimit.New(opts.RateLimit, opts.RateBurst)
	}
	return h
}

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	auth := BearerAuth(h.opts.BearerToken)

	e.POST("/jobs/:job", h.TriggerJob, auth, h.limit)

	g := e.Group("/api", auth, h.limit)
	g.GET("/signals", h.ListSignals)
	g.GET("/signals/active", h.ActiveSignals)
	g.GET("/engine/state", h.EngineState)
	g.GET("/runs", h.Runs)
	g.GET("/bars", h.Bars)
	g.POST("/blocks", h.CreateBlock)
	g.POST("/fills", h.CreateFill)

	if h.stream != nil {
		e.GET("/ws/signals", h.stream, auth)
	}
}

func (h *SignalsEchoHandler) limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.rl != nil && !h.rl.Allow(c.RealIP()) {
			h.logger.Warn("rate limited", xlogger.String("remote", c.RealIP()), xlogger.String("route", c.Path()))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError())
		}
		return next(c)
	}
}

// TriggerJob runs one job synchronously and returns its run log.
func (h *SignalsEchoHandler) TriggerJob(c echo.Context) error {
	req := &models.JobTriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, _ := models.ParseJobName(req.Job)

	// the run outlives a dropped client connection
	ctx := context.WithoutCancel(c.Request().Context())
	run, started, err := h.pipeline.TryRun(ctx, job, req.Symbols)
	switch {
	case errors.Is(err, domrepo.ErrConfiguration):
		h.logger.Error("job rejected", xlogger.String("job", req.Job), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ConfigurationError(err))
	case err != nil:
		h.logger.Error("job failed", xlogger.String("job", req.Job), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("job failed").WithError(err))
	case !started:
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("job", "job already running"))
	}
	return xhttp.SuccessResponse(c, run)
}

func (h *SignalsEchoHandler) ListSignals(c echo.Context) error {
	req := &models.ListSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return h.cached(c, func(ctx context.Context) (interface{}, error) {
		return h.queries.Signals(ctx, *req)
	})
}

func (h *SignalsEchoHandler) ActiveSignals(c echo.Context) error {
	req := &models.ListSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return h.cached(c, func(ctx context.Context) (interface{}, error) {
		return h.queries.ActiveSignals(ctx, req.Symbol, req.Timeframe)
	})
}

func (h *SignalsEchoHandler) Bars(c echo.Context) error {
	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return h.cached(c, func(ctx context.Context) (interface{}, error) {
		return h.queries.Bars(ctx, *req)
	})
}

func (h *SignalsEchoHandler) Runs(c echo.Context) error {
	req := &models.RunsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	runs, err := h.queries.Runs(c.Request().Context(), *req)
	if err != nil {
		h.logger.Error("runs query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, runs)
}

// EngineState returns the governor row for a trading day, today by default.
func (h *SignalsEchoHandler) EngineState(c echo.Context) error {
	req := &models.EngineStateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	day := h.fills.Today(h.now())
	if req.Day != "" {
		d, ok := util.ParseDay(req.Day)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid day %q", req.Day))
		}
		day = d
	}
	st, err := h.fills.State(c.Request().Context(), h.opts.EngineKey, day)
	if err != nil {
		h.logger.Error("engine state error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *SignalsEchoHandler) CreateBlock(c echo.Context) error {
	req := &models.BlockRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	b, err := h.queries.Block(c.Request().Context(), *req)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	h.logger.Info("manual block set",
		xlogger.String("symbol", b.Symbol),
		xlogger.String("until", b.Until.Format(time.RFC3339)),
		xlogger.String("reason", b.Reason),
	)
	return xhttp.CreatedResponse(c, b)
}

type fillResponse struct {
	Applied bool                     `json:"applied"`
	State   *models.EngineDailyState `json:"state"`
}

func (h *SignalsEchoHandler) CreateFill(c echo.Context) error {
	req := &models.ExecutionFill{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, applied, err := h.fills.Apply(c.Request().Context(), *req)
	if err != nil {
		h.logger.Error("fill apply error", xlogger.String("client_order_id", req.ClientOrderID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if !applied {
		return xhttp.SuccessResponse(c, fillResponse{Applied: false, State: st})
	}
	return xhttp.CreatedResponse(c, fillResponse{Applied: true, State: st})
}

// cached serves a GET from the response cache, filling it on a miss.
func (h *SignalsEchoHandler) cached(c echo.Context, load func(ctx context.Context) (interface{}, error)) error {
	key := c.Request().URL.RequestURI()
	if h.opts.Cache != nil && h.opts.CacheTTL > 0 {
		var b []byte
		switch err := h.opts.Cache.Get(c.Request().Context(), key, &b); {
		case err == nil:
			c.Response().Header().Set("X-Cache", "HIT")
			return c.JSONBlob(http.StatusOK, b)
		case !errors.Is(err, pkgcache.ErrCacheMiss):
			h.logger.Warn("response cache get failed", xlogger.String("key", key), xlogger.Error(err))
		}
	}

	data, err := load(c.Request().Context())
	if err != nil {
		h.logger.Error("query error", xlogger.String("route", c.Path()), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if h.opts.Cache == nil || h.opts.CacheTTL <= 0 {
		return xhttp.SuccessResponse(c, data)
	}

	b, err := json.Marshal(xhttp.APIResponse{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: data})
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if err := h.opts.Cache.Set(c.Request().Context(), key, b, h.opts.CacheTTL); err != nil {
		h.logger.Warn("response cache set failed", xlogger.String("key", key), xlogger.Error(err))
	}
	c.Response().Header().Set("X-Cache", "MISS")
	return c.JSONBlob(http.StatusOK, b)
}
