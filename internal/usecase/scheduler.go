package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/pkg/cache"
	applogger "SignalForge/pkg/logger"
	"SignalForge/pkg/queue"
)

// PipelineMessageType is the queue message type of scheduled pipeline runs.
const PipelineMessageType = "pipeline.run"

// PipelineMessage is the queue payload of a scheduled run.
type PipelineMessage struct {
	Job         models.JobName `json:"job"`
	Symbols     []string       `json:"symbols,omitempty"`
	ScheduledAt time.Time      `json:"scheduled_at"`
}

// PipelineJob runs queued pipeline messages. It implements queue.Job.
type PipelineJob struct {
	pipeline *Pipeline
	l        *applogger.Logger
}

func NewPipelineJob(p *Pipeline, l *applogger.Logger) *PipelineJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &PipelineJob{pipeline: p, l: l}
}

func (j *PipelineJob) Type() string { return PipelineMessageType }

// Handle runs the job. Configuration errors are not retried.
func (j *PipelineJob) Handle(ctx context.Context, payload json.RawMessage) error {
	msg, err := queue.Decode[PipelineMessage](payload)
	if err != nil {
		return err
	}
	if _, valid := models.ParseJobName(string(msg.Job)); !valid {
		j.l.Error("queued job dropped", applogger.String("job", string(msg.Job)))
		return nil
	}
	run, started, err := j.pipeline.TryRun(ctx, msg.Job, msg.Symbols)
	switch {
	case errors.Is(err, domrepo.ErrConfiguration):
		j.l.Error("scheduled job misconfigured", applogger.String("job", string(msg.Job)), applogger.Error(err))
		return nil
	case err != nil:
		return err
	case !started:
		j.l.Info("scheduled job already running", applogger.String("job", string(msg.Job)))
		return nil
	}
	j.l.Debug("scheduled job done",
		applogger.String("job", string(msg.Job)),
		applogger.String("run_id", run.ID),
		applogger.Bool("success", run.Success),
	)
	return nil
}

// Enqueuer publishes queue messages. *queue.RedisQueue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

// Locker is the subset of cache.Service used to elect one scheduler per tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

var _ Locker = (cache.Service)(nil)

type ScheduleConfig struct {
	Intervals map[models.JobName]time.Duration
	Expire    time.Duration
	LockTTL   time.Duration
}

// Scheduler triggers pipeline jobs on fixed intervals. With several replicas only the one that takes
// the tick lock enqueues. Without a queue the job runs in-process.
type Scheduler struct {
	cfg      ScheduleConfig
	pipeline *Pipeline
	expire   func(ctx context.Context) error
	queue    Enqueuer
	lock     Locker
	l        *applogger.Logger
	now      func() time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewScheduler(cfg ScheduleConfig, p *Pipeline, expire func(ctx context.Context) error, q Enqueuer, lock Locker, l *applogger.Logger) *Scheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Scheduler{cfg: cfg, pipeline: p, expire: expire, queue: q, lock: lock, l: l, now: time.Now}
}

// Start launches one ticker per configured job. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for job, every := range s.cfg.Intervals {
		if every <= 0 {
			continue
		}
		job := job
		s.loop(ctx, "job:"+string(job), every, func(ctx context.Context) error { return s.Trigger(ctx, job) })
	}
	if s.cfg.Expire > 0 && s.expire != nil {
		s.loop(ctx, "expire", s.cfg.Expire, s.expire)
	}
}

// Stop cancels the tickers and waits for in-flight ticks.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		s.l.Info("schedule started", applogger.String("task", name), applogger.Duration("every", every))
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.tick(ctx, name, every, fn)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context, name string, every time.Duration, fn func(ctx context.Context) error) {
	if s.lock != nil {
		slot := s.now().UTC().Truncate(every).Unix()
		got, err := s.lock.TryLock(ctx, cache.Key("schedule", name, slot), s.cfg.LockTTL)
		if err != nil {
			s.l.Warn("schedule lock failed", applogger.String("task", name), applogger.Error(err))
			return
		}
		if !got {
			return
		}
	}
	if err := fn(ctx); err != nil {
		s.l.Error("scheduled task failed", applogger.String("task", name), applogger.Error(err))
	}
}

// Trigger enqueues job, or runs it in-process when no queue is configured.
func (s *Scheduler) Trigger(ctx context.Context, job models.JobName) error {
	if s.queue != nil {
		msg := PipelineMessage{Job: job, ScheduledAt: s.now().UTC()}
		if err := s.queue.Enqueue(ctx, PipelineMessageType, msg); err != nil {
			return fmt.Errorf("enqueue %s: %w", job, err)
		}
		return nil
	}
	_, _, err := s.pipeline.TryRun(ctx, job, nil)
	return err
}

var _ queue.Job = (*PipelineJob)(nil)
