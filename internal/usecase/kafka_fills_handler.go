package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	pkgkafka "SignalForge/pkg/kafka"
	applogger "SignalForge/pkg/logger"
)

// KafkaFillsHandler consumes realized-P&L fills from the execution collaborator.
type KafkaFillsHandler struct {
	topic   string
	fills   *FillsUseCase
	metrics domrepo.Metrics
}

func NewKafkaFillsHandler(topic string, fills *FillsUseCase, metrics domrepo.Metrics) *KafkaFillsHandler {
	return &KafkaFillsHandler{topic: topic, fills: fills, metrics: metrics}
}

func (h *KafkaFillsHandler) Topic() string { return h.topic }

// incoming message schema: models.ExecutionFill; closed_at may also be unix seconds or millis
func (h *KafkaFillsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		models.ExecutionFill
		ClosedAt json.RawMessage `json:"closed_at"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	fill := m.ExecutionFill
	closed, err := parseClosedAt(m.ClosedAt)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	fill.ClosedAt = closed
	if !closed.IsZero() {
		h.metrics.RecordLatency("fill_e2e_seconds", time.Since(closed).Seconds())
	}

	start := time.Now()
	_, _, err = h.fills.Apply(ctx, fill)
	h.metrics.RecordLatency("fill_apply_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_fill")
		return err
	}
	return nil
}

// Hook times each fill message from receipt and logs failures with the message trace id.
func (h *KafkaFillsHandler) Hook(l *applogger.Logger) pkgkafka.ConsumerHook {
	if l == nil {
		l = applogger.Nop()
	}
	return pkgkafka.NewHookChain(
		pkgkafka.TraceHook(nil),
		pkgkafka.HookFuncs{
			After: func(ctx context.Context, topic string, _ kafka.Message, _ []byte, err error) {
				if start, ok := pkgkafka.StartTimeFrom(ctx); ok {
					h.metrics.RecordLatency("fill_message_seconds", time.Since(start).Seconds())
				}
			},
			Err: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
				l.Warn("fill message failed",
					applogger.String("topic", topic),
					applogger.String("trace_id", pkgkafka.TraceIDFrom(ctx)),
					applogger.Int64("offset", km.Offset),
					applogger.Error(err),
				)
			},
		},
	)
}

func parseClosedAt(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n > 1e11 { // ms
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var _ pkgkafka.MessageHandler = (*KafkaFillsHandler)(nil)
