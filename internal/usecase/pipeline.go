package usecase

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/internal/services/brakes"
	applogger "SignalForge/pkg/logger"
)

// PipelineConfig holds the job-level settings checked before any symbol is processed.
type PipelineConfig struct {
	BearerToken   string
	EngineKey     string
	EngineVersion string
	Timeframe     domrepo.Timeframe
	HTFTimeframe  domrepo.Timeframe
	Universe      []string
	Concurrency   int
	SymbolTimeout time.Duration
	Brakes        models.BrakesConfig
	BaseSize      float64
}

// Preflight reports missing or inconsistent configuration as ErrConfiguration.
func (c PipelineConfig) Preflight() error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", domrepo.ErrConfiguration, fmt.Sprintf(format, args...))
	}
	switch {
	case c.BearerToken == "":
		return fail("jobs bearer token is not set")
	case c.EngineKey == "":
		return fail("engine key is not set")
	case len(c.Universe) == 0:
		return fail("universe is empty")
	case !domrepo.IsValidTimeframe(c.Timeframe):
		return fail("unknown timeframe %q", c.Timeframe)
	case !domrepo.IsValidTimeframe(c.HTFTimeframe) || c.HTFTimeframe.Duration() <= c.Timeframe.Duration():
		return fail("htf timeframe %q must be longer than %q", c.HTFTimeframe, c.Timeframe)
	case c.BaseSize <= 0:
		return fail("base size must be positive")
	}
	if err := brakes.ValidateConfig(c.Brakes); err != nil {
		return fail("brakes: %v", err)
	}
	return nil
}

// Stage is one pipeline step. Run appends one outcome per symbol it touched.
type Stage interface {
	Name() models.JobName
	Run(ctx context.Context, run *models.RunLog, symbols []string, skip map[string]struct{})
}

// Pipeline sequences ingest, generate and execute and records a run log for every invocation.
type Pipeline struct {
	cfg      PipelineConfig
	ingest   Stage
	generate Stage
	execute  Stage
	runs     domrepo.RunLogStore
	metrics  domrepo.Metrics
	l        *applogger.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[models.JobName]bool
}

func NewPipeline(cfg PipelineConfig, ingest *IngestUseCase, generate *GenerateUseCase, execute *ExecuteUseCase, runs domrepo.RunLogStore, metrics domrepo.Metrics, l *applogger.Logger) *Pipeline {
	if l == nil {
		l = applogger.Nop()
	}
	return &Pipeline{
		cfg:      cfg,
		ingest:   ingest,
		generate: generate,
		execute:  execute,
		runs:     runs,
		metrics:  metrics,
		l:        l,
		now:      time.Now,
		running:  make(map[models.JobName]bool),
	}
}

// Run executes one job. Configuration errors fail the invocation before any symbol is touched;
// everything else is reported per symbol in the returned run log.
func (p *Pipeline) Run(ctx context.Context, job models.JobName, symbols []string) (*models.RunLog, error) {
	if err := p.cfg.Preflight(); err != nil {
		p.metrics.RecordError("config")
		return nil, err
	}
	if len(symbols) == 0 {
		symbols = p.cfg.Universe
	}

	run := &models.RunLog{ID: uuid.NewString(), Job: job, StartedAt: p.now().UTC()}
	p.l.Info("job started",
		applogger.String("job", string(job)),
		applogger.String("run_id", run.ID),
		applogger.Int("symbols", len(symbols)),
	)

	switch job {
	case models.JobIngest:
		p.ingest.Run(ctx, run, symbols, nil)
	case models.JobGenerate:
		p.generate.Run(ctx, run, symbols, nil)
	case models.JobExecute:
		p.execute.Run(ctx, run, symbols, nil)
	case models.JobAll:
		p.ingest.Run(ctx, run, symbols, nil)
		stale := run.SkippedSymbols(models.ReasonStaleDataSkip)
		p.generate.Run(ctx, run, symbols, stale)
		p.execute.Run(ctx, run, symbols, nil)
	default:
		return nil, fmt.Errorf("%w: unknown job %q", domrepo.ErrConfiguration, job)
	}

	run.Finish(p.now().UTC())
	p.metrics.RecordJobRun(string(job), run.Success, float64(run.DurationMS)/1000)
	if p.runs != nil {
		if err := p.runs.Save(ctx, run); err != nil {
			p.metrics.RecordError("run_log")
			p.l.Warn("run log save failed", applogger.String("run_id", run.ID), applogger.Error(err))
		}
	}
	p.l.Info("job finished",
		applogger.String("job", string(job)),
		applogger.String("run_id", run.ID),
		applogger.Int("processed", run.Processed),
		applogger.Int("skipped", run.Skipped),
		applogger.Int("failed", run.Failed),
		applogger.Duration("duration_ms", time.Duration(run.DurationMS)*time.Millisecond),
	)
	return run, nil
}

// TryRun runs job unless the same job is already running in this process.
func (p *Pipeline) TryRun(ctx context.Context, job models.JobName, symbols []string) (*models.RunLog, bool, error) {
	p.mu.Lock()
	if p.running[job] {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.running[job] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, job)
		p.mu.Unlock()
	}()
	run, err := p.Run(ctx, job, symbols)
	return run, true, err
}

// symbolFunc processes one symbol. It must return a complete outcome.
type symbolFunc func(ctx context.Context, symbol string) models.SymbolOutcome

// fanOut runs fn for every symbol with at most workers in flight. Each call gets its own timeout
// and a panic is turned into a failed outcome. Outcomes keep the input order.
func fanOut(ctx context.Context, job models.JobName, symbols []string, workers int, timeout time.Duration, l *applogger.Logger, fn symbolFunc) []models.SymbolOutcome {
	if workers < 1 {
		workers = 1
	}
	out := make([]models.SymbolOutcome, len(symbols))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, sym := range symbols {
		if ctx.Err() != nil {
			out[i] = models.SymbolOutcome{Job: job, Symbol: sym, Status: models.OutcomeSkipped, Reason: models.ReasonNoData, Detail: "cancelled"}
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					l.Error("symbol panicked",
						applogger.String("job", string(job)),
						applogger.String("symbol", sym),
						applogger.String("panic", fmt.Sprint(r)),
						applogger.String("stack", string(debug.Stack())),
					)
					out[i] = models.SymbolOutcome{Job: job, Symbol: sym, Status: models.OutcomeFailed, Reason: models.ReasonPanic, Detail: fmt.Sprint(r)}
				}
			}()
			sctx, cancel := ctx, context.CancelFunc(func() {})
			if timeout > 0 {
				sctx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()
			o := fn(sctx, sym)
			o.Job, o.Symbol = job, sym
			out[i] = o
		}(i, sym)
	}
	wg.Wait()
	return out
}

// record adds outcomes to the run, logs each one and counts it.
func record(run *models.RunLog, outcomes []models.SymbolOutcome, metrics domrepo.Metrics, l *applogger.Logger) {
	for _, o := range outcomes {
		run.Add(o)
		metrics.RecordSymbolOutcome(string(o.Job), string(o.Status), string(o.Reason))
		fields := []applogger.Field{
			applogger.String("job", string(o.Job)),
			applogger.String("symbol", o.Symbol),
			applogger.String("status", string(o.Status)),
			applogger.String("reason", string(o.Reason)),
		}
		if o.Detail != "" {
			fields = append(fields, applogger.String("detail", o.Detail))
		}
		switch o.Status {
		case models.OutcomeFailed:
			l.Error("symbol failed", fields...)
		case models.OutcomeSkipped:
			l.Info("symbol skipped", fields...)
		default:
			l.Debug("symbol processed", fields...)
		}
	}
}

func ok(reason models.ReasonCode, detail string) models.SymbolOutcome {
	return models.SymbolOutcome{Status: models.OutcomeOK, Reason: reason, Detail: detail}
}

func skipped(reason models.ReasonCode, detail string) models.SymbolOutcome {
	return models.SymbolOutcome{Status: models.OutcomeSkipped, Reason: reason, Detail: detail}
}

func failed(reason models.ReasonCode, err error) models.SymbolOutcome {
	return models.SymbolOutcome{Status: models.OutcomeFailed, Reason: reason, Detail: err.Error()}
}
