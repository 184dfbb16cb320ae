package repository

import (
	"context"
	"fmt"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	pkgkafka "SignalForge/pkg/kafka"
)

// KafkaSignalPublisher writes signal events to a Kafka topic keyed by symbol and timeframe,
// so every event for one key lands on the same partition in order.
type KafkaSignalPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaSignalPublisher(producer *pkgkafka.Producer, topic string) domrepo.SignalPublisher {
	return &KafkaSignalPublisher{producer: producer, topic: topic}
}

func (p *KafkaSignalPublisher) PublishSignal(ctx context.Context, ev models.SignalEvent) error {
	if err := p.producer.Publish(ctx, p.topic, signalEventKey(ev), ev); err != nil {
		return fmt.Errorf("publish %s event for %s: %w", ev.Type, ev.Signal.Symbol, err)
	}
	return nil
}

// PublishBatch sends several events in one write.
func (p *KafkaSignalPublisher) PublishBatch(ctx context.Context, evs []models.SignalEvent) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(evs))
	for i, ev := range evs {
		msgs[i] = pkgkafka.Message{Key: signalEventKey(ev), Value: ev}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaSignalPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func signalEventKey(ev models.SignalEvent) []byte {
	return []byte(ev.Signal.Symbol + ":" + ev.Signal.Timeframe)
}
