package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var (
	metricsOnce sync.Once

	publishedMessages *prometheus.CounterVec
	publishedBytes    *prometheus.CounterVec
	publishLatency    *prometheus.HistogramVec

	consumedMessages *prometheus.CounterVec
	handleLatency    *prometheus.HistogramVec
	workerBacklog    *prometheus.GaugeVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		publishedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalforge", Subsystem: "kafka",
			Name: "published_messages_total",
			Help: "Messages handed to the Kafka writer, by result.",
		}, []string{"topic", "compression", "result"})
		publishedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalforge", Subsystem: "kafka",
			Name: "published_bytes_total",
			Help: "Payload bytes handed to the Kafka writer.",
		}, []string{"topic"})
		publishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalforge", Subsystem: "kafka",
			Name:    "publish_seconds",
			Help:    "WriteMessages latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})

		consumedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalforge", Subsystem: "kafka",
			Name: "consumed_messages_total",
			Help: "Messages taken off a topic, by outcome (ok, dead_lettered, failed).",
		}, []string{"topic", "outcome"})
		handleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalforge", Subsystem: "kafka",
			Name:    "handle_seconds",
			Help:    "Time from dispatch to commit, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		workerBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signalforge", Subsystem: "kafka",
			Name: "worker_backlog",
			Help: "Messages queued in front of a consumer worker.",
		}, []string{"worker"})
	})
}

func observePublish(topic, codec string, msgs []kafka.Message, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	publishedMessages.WithLabelValues(topic, codec, result).Add(float64(len(msgs)))
	if err != nil {
		return
	}
	var n int
	for _, m := range msgs {
		n += len(m.Value)
	}
	publishedBytes.WithLabelValues(topic).Add(float64(n))
	if took > 0 {
		publishLatency.WithLabelValues(topic).Observe(took.Seconds())
	}
}
