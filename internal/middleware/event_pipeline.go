package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
)

// Sink is one named downstream of the event pipeline.
type Sink struct {
	Name      string
	Publisher domrepo.SignalPublisher
}

type pending struct {
	sink     int
	ev       models.SignalEvent
	attempts int
}

// EventPipeline fans signal events out to every sink. A sink that fails gets the event buffered
// and retried in the background with capped exponential backoff; the caller never waits on it.
type EventPipeline struct {
	sinks       []Sink
	metrics     domrepo.Metrics
	bufSize     int
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	bufCh       chan pending
	stopCh      chan struct{}
	doneCh      chan struct{}
	started     bool
	mu          sync.Mutex
}

type PipelineOption func(*EventPipeline)

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMaxAttempts bounds how many times a buffered event is retried before it is dropped.
func WithMaxAttempts(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry backoff bounds.
func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if min > 0 {
			p.minBackoff = min
		}
		if max >= p.minBackoff {
			p.maxBackoff = max
		}
	}
}

func NewEventPipeline(metrics domrepo.Metrics, sinks []Sink, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		sinks:       sinks,
		metrics:     metrics,
		bufSize:     1000,
		maxAttempts: 10,
		minBackoff:  50 * time.Millisecond,
		maxBackoff:  2 * time.Second,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan pending, p.bufSize)
	return p
}

// Start launches background flushing of buffered events.
func (p *EventPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flush(ctx)
}

func (p *EventPipeline) flush(ctx context.Context) {
	defer close(p.doneCh)
	backoff := p.minBackoff
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case item := <-p.bufCh:
			sink := p.sinks[item.sink]
			if err := sink.Publisher.PublishSignal(ctx, item.ev); err != nil {
				item.attempts++
				p.recordError("event_flush_" + sink.Name)
				if item.attempts >= p.maxAttempts {
					p.recordError("event_drop_" + sink.Name)
					continue
				}
				select {
				case <-time.After(backoff):
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				}
				if backoff < p.maxBackoff {
					backoff *= 2
					if backoff > p.maxBackoff {
						backoff = p.maxBackoff
					}
				}
				select {
				case p.bufCh <- item:
				default:
					p.recordError("event_buffer_drop")
				}
				continue
			}
			backoff = p.minBackoff
		}
	}
}

// Stop halts background flushing and waits for the flusher to exit.
func (p *EventPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.doneCh
}

// Pending returns the number of buffered events.
func (p *EventPipeline) Pending() int { return len(p.bufCh) }

// PublishSignal delivers ev to every sink. Failed deliveries are buffered; the returned error
// reports them but the event is not lost unless the buffer is full.
func (p *EventPipeline) PublishSignal(ctx context.Context, ev models.SignalEvent) error {
	if err := validateEvent(ev); err != nil {
		p.recordError("event_validate")
		return err
	}
	start := time.Now()
	var errs []error
	for i, sink := range p.sinks {
		if err := sink.Publisher.PublishSignal(ctx, ev); err != nil {
			p.recordError("event_publish_" + sink.Name)
			select {
			case p.bufCh <- pending{sink: i, ev: ev}:
			default:
				p.recordError("event_buffer_full")
			}
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("event_publish", time.Since(start).Seconds())
	}
	if len(errs) > 0 {
		return fmt.Errorf("event downstream: %w", errors.Join(errs...))
	}
	return nil
}

// Close stops the flusher and closes every sink.
func (p *EventPipeline) Close() error {
	p.Stop()
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (p *EventPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

func validateEvent(ev models.SignalEvent) error {
	if ev.Type == "" {
		return fmt.Errorf("event type empty")
	}
	if ev.Signal.Symbol == "" {
		return fmt.Errorf("event symbol empty")
	}
	if !ev.Signal.Status.Valid() {
		return fmt.Errorf("event status invalid")
	}
	return nil
}
