package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"SignalForge/pkg/logger"
)

// RedisQueue is a work queue on three Redis keys: a list of ready messages, a sorted set of
// retries scored by due time, and a capped dead-letter list.
type RedisQueue struct {
	logger    *logger.Logger
	config    QueueConfig
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
	poll      time.Duration

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.keyPrefix = prefix }
}

// WithPollInterval sets how long a worker blocks on an empty queue and how often retries are promoted.
func WithPollInterval(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) { r.poll = d }
}

func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	cfg := QueueConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.DLQLimit <= 0 {
		cfg.DLQLimit = 1000
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	r := &RedisQueue{
		logger:    lgr,
		config:    cfg,
		client:    client,
		keyPrefix: "signalforge:queue",
		now:       time.Now,
		poll:      time.Second,
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob binds a handler to its message type. Registering a type twice keeps the first.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
}

// Start pings Redis and launches the workers and the retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	r.wg.Add(1)
	go r.promoteRetries(ctx)

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("prefix", r.keyPrefix),
	)
	return nil
}

// Stop cancels in-flight handlers and waits for the workers until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes a message for a registered type. Payload is stored as JSON.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.readyKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (r *RedisQueue) worker(ctx context.Context) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, r.poll, r.readyKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.Error("queue pop failed", logger.Error(err))
			sleepCtx(ctx, r.poll)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.logger.Error("queue message undecodable", logger.Error(err))
			continue
		}
		r.process(ctx, msg)
	}
}

// process runs one message and routes a failure to the retry set or the DLQ.
func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.deadLetter(ctx, msg, errors.New("no job registered"))
		return
	}

	start := r.now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		r.logger.Debug("queue message done",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Duration("duration_ms", r.now().Sub(start)),
		)
		return
	}
	if ctx.Err() != nil {
		// shutting down: requeue as-is so another replica picks it up
		r.retry(context.Background(), msg, r.now())
		return
	}

	msg.LastError = err.Error()
	if IsPermanent(err) || msg.Attempts >= r.config.RetryLimit {
		r.deadLetter(ctx, msg, err)
		return
	}
	msg.Attempts++
	due := r.now().Add(r.config.RetryDelay)
	r.retry(ctx, msg, due)
	r.logger.Warn("queue message failed, retry scheduled",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", due.UTC().Format(time.RFC3339)),
		logger.Error(err),
	)
}

func (r *RedisQueue) retry(ctx context.Context, msg Message, due time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(due.Unix()), Member: data}).Err(); err != nil {
		r.logger.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(ctx context.Context, msg Message, cause error) {
	r.logger.Error("queue message dead-lettered",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempts", msg.Attempts+1),
		logger.Error(cause),
	)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.deadKey(), data)
	pipe.LTrim(ctx, r.deadKey(), 0, int64(r.config.DLQLimit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("dead-letter write failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) promoteRetries(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("promote retries", logger.Error(err))
			}
		}
	}
}

// PromoteDue moves retries whose due time has passed back onto the ready list.
func (r *RedisQueue) PromoteDue(ctx context.Context) error {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().Unix(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, m := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, r.retryKey(), m)
		pipe.LPush(ctx, r.readyKey(), m)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisQueue) readyKey() string { return r.keyPrefix + ":ready" }
func (r *RedisQueue) retryKey() string { return r.keyPrefix + ":retry" }
func (r *RedisQueue) deadKey() string  { return r.keyPrefix + ":dlq" }

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
