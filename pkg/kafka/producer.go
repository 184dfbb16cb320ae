package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON (or raw bytes) to Kafka. A trace id found on the context
// is forwarded as the TraceHeader so consumers can correlate the message.
type Producer struct {
	w     messageWriter
	codec string
	now   func() time.Time
}

// Message is one entry of a PublishBatch call.
type Message struct {
	Key   []byte
	Value interface{}
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka producer: no brokers configured")
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     balancer,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
	}
	if cfg.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil && len(msgs) > 0 {
				observePublish(msgs[0].Topic, cfg.Compression, msgs, 0, err)
			}
		}
	}
	return newProducer(w, cfg.Compression), nil
}

func newProducer(w messageWriter, codec string) *Producer {
	initMetrics()
	return &Producer{w: w, codec: codec, now: time.Now}
}

// Publish writes a single keyed message.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishMessage writes an unkeyed payload; the log shipper uses it.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Value: payload}})
}

// PublishBatch writes all messages in one call. Nothing is sent if any value fails to encode.
func (p *Producer) PublishBatch(ctx context.Context, topic string, batch []Message) error {
	if len(batch) == 0 {
		return nil
	}
	var headers []kafka.Header
	if id := TraceIDFrom(ctx); id != "" {
		headers = []kafka.Header{{Key: TraceHeader, Value: []byte(id)}}
	}

	ts := p.now()
	msgs := make([]kafka.Message, len(batch))
	for i, m := range batch {
		value, err := encodeValue(m.Value)
		if err != nil {
			return fmt.Errorf("kafka %s: encode message %d: %w", topic, i, err)
		}
		msgs[i] = kafka.Message{Topic: topic, Key: m.Key, Value: value, Headers: headers, Time: ts}
	}

	start := time.Now()
	err := p.w.WriteMessages(ctx, msgs...)
	observePublish(topic, p.codec, msgs, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka %s: write %d messages: %w", topic, len(msgs), err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.w == nil {
		return nil
	}
	return p.w.Close()
}

func encodeValue(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	case json.RawMessage:
		return val, nil
	default:
		return json.Marshal(v)
	}
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "", "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	case "none":
		return 0, nil
	default:
		return 0, fmt.Errorf("kafka producer: unknown compression %q", name)
	}
}
