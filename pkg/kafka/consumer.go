package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	applogger "SignalForge/pkg/logger"
)

const (
	FirstOffset = kafka.FirstOffset
	LastOffset  = kafka.LastOffset
)

// MessageHandler handles the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads registered topics in a consumer group. Every (topic, partition) is pinned to
// one worker, so messages of a partition are handled one at a time and in offset order.
// Offsets are committed after success, or after a failed message reached the DLQ topic.
type Consumer struct {
	cfg      *ConsumerConfig
	l        *applogger.Logger
	hook     ConsumerHook
	handlers map[string]MessageHandler
	readers  map[string]messageReader
	dlq      messageWriter
	queues   []chan delivery

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type delivery struct {
	handler MessageHandler
	reader  messageReader
	msg     kafka.Message
	queued  time.Time
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: no brokers configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}
	initMetrics()

	c := &Consumer{
		cfg:      cfg,
		l:        cfg.Logger,
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]messageReader),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return c, nil
}

// WithConsumerHook installs h around every handler call. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler binds a handler to its topic. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, dup := c.handlers[h.Topic()]; dup {
		c.l.Warn("kafka handler already registered", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.queues = make([]chan delivery, c.cfg.WorkerCount)
	for i := range c.queues {
		c.queues[i] = make(chan delivery, c.cfg.BufferSize)
		c.wg.Add(1)
		go c.work(ctx, i)
	}

	for topic, h := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       topic,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: c.cfg.StartOffset,
		})
		c.readers[topic] = r
		c.wg.Add(1)
		go c.fetch(ctx, h, r)
	}

	c.l.Info("kafka consumer started",
		applogger.String("group", c.cfg.GroupID),
		applogger.Int("topics", len(c.handlers)),
		applogger.Int("workers", c.cfg.WorkerCount),
	)
	return nil
}

// Stop cancels fetching and in-flight handlers, then waits for the goroutines until ctx expires.
// Messages that were not committed are redelivered to the group.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.l.Warn("kafka reader close failed", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.l.Warn("kafka dlq writer close failed", applogger.Error(cerr))
			}
		}
		c.l.Info("kafka consumer stopped")
	})
	return err
}

func (c *Consumer) fetch(ctx context.Context, h MessageHandler, r messageReader) {
	defer c.wg.Done()
	for {
		msg, err := r.FetchMessage(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.l.Error("kafka fetch failed", applogger.String("topic", h.Topic()), applogger.Error(err))
			select {
			case <-time.After(c.cfg.BackoffMax):
			case <-ctx.Done():
				return
			}
			continue
		}

		idx := c.workerFor(msg.Topic, msg.Partition)
		select {
		case c.queues[idx] <- delivery{handler: h, reader: r, msg: msg, queued: time.Now()}:
			workerBacklog.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(c.queues[idx])))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) workerFor(topic string, partition int) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(topic))
	return int((f.Sum32() + uint32(partition)) % uint32(len(c.queues)))
}

func (c *Consumer) work(ctx context.Context, idx int) {
	defer c.wg.Done()
	label := strconv.Itoa(idx)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.queues[idx]:
			workerBacklog.WithLabelValues(label).Set(float64(len(c.queues[idx])))
			c.deliver(ctx, d)
		}
	}
}

// deliver runs the handler with retries and decides whether the offset may be committed.
func (c *Consumer) deliver(ctx context.Context, d delivery) {
	topic := d.handler.Topic()
	defer func() { handleLatency.WithLabelValues(topic).Observe(time.Since(d.queued).Seconds()) }()

	hctx, hmsg, hdata := ctx, d.msg, d.msg.Value
	attempt := func() error {
		var err error
		hctx, hmsg, hdata, err = c.hook.BeforeHandle(ctx, topic, d.msg, d.msg.Value)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = c.invoke(hctx, d.handler, hdata)
		c.hook.AfterHandle(hctx, topic, hmsg, hdata, err)
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		c.hook.OnError(hctx, topic, hmsg, hdata, err)
		c.l.Debug("kafka message retry",
			applogger.String("topic", topic),
			applogger.Int64("offset", d.msg.Offset),
			applogger.Duration("wait", wait),
			applogger.Error(err),
		)
	}

	err := backoff.RetryNotify(attempt, c.retryPolicy(ctx), onRetry)
	if err == nil {
		consumedMessages.WithLabelValues(topic, "ok").Inc()
		c.commit(d)
		return
	}
	if ctx.Err() != nil {
		// shutting down; leave the offset for the next group member
		return
	}

	c.hook.OnError(hctx, topic, hmsg, hdata, err)
	c.l.Error("kafka message failed",
		applogger.String("topic", topic),
		applogger.Int("partition", d.msg.Partition),
		applogger.Int64("offset", d.msg.Offset),
		applogger.Error(err),
	)
	if c.dlq == nil {
		consumedMessages.WithLabelValues(topic, "failed").Inc()
		return
	}
	if derr := c.deadLetter(ctx, d.msg, err); derr != nil {
		consumedMessages.WithLabelValues(topic, "failed").Inc()
		c.l.Error("kafka dlq write failed", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(derr))
		return
	}
	consumedMessages.WithLabelValues(topic, "dead_lettered").Inc()
	c.commit(d)
}

func (c *Consumer) invoke(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, data)
}

func (c *Consumer) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffMin
	b.MaxInterval = c.cfg.BackoffMax
	b.MaxElapsedTime = 0
	retries := c.cfg.RetryMax
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(msg.Topic)},
		{Key: "source_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		{Key: "source_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		{Key: "error", Value: []byte(cause.Error())},
	}, msg.Headers...)
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(wctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
}

// commit is retried briefly; a lost commit only means the message is seen again.
func (c *Consumer) commit(d delivery) {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 2)
	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return d.reader.CommitMessages(ctx, d.msg)
	}, b)
	if err != nil {
		c.l.Error("kafka commit failed",
			applogger.String("topic", d.msg.Topic),
			applogger.Int64("offset", d.msg.Offset),
			applogger.Error(err),
		)
	}
}
