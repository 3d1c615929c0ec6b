package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Message is one record to publish. Headers are written sorted by key.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type batchWriter interface {
	messageWriter
	Close() error
}

// Producer publishes keyed batches synchronously: PublishBatch returns once
// the brokers acknowledged every message or the writer gave up.
type Producer struct {
	w     batchWriter
	codec string
	now   func() time.Time
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka producer: no brokers")
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            codec,
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		ReadTimeout:            cfg.ReadTimeout,
		BatchSize:              cfg.BatchSize,
		BatchBytes:             int64(cfg.BatchBytes),
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: false,
	}
	return newProducer(w, cfg.Compression), nil
}

func newProducer(w batchWriter, codec string) *Producer {
	if codec == "" {
		codec = "none"
	}
	registerProducerMetrics()
	return &Producer{w: w, codec: codec, now: time.Now}
}

// PublishBatch writes messages to topic. Every message must carry a key.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	ts := p.now()
	out := make([]kafka.Message, 0, len(messages))
	var size int
	for i, m := range messages {
		if len(m.Key) == 0 {
			return fmt.Errorf("message %d for %s has no key", i, topic)
		}
		out = append(out, kafka.Message{
			Topic:   topic,
			Key:     m.Key,
			Value:   m.Value,
			Headers: sortedHeaders(m.Headers),
			Time:    ts,
		})
		size += len(m.Value)
	}

	start := time.Now()
	err := p.w.WriteMessages(ctx, out...)
	producerMetrics.observe(topic, p.codec, len(out), size, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(out), topic, err)
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

func sortedHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, kafka.Header{Key: k, Value: []byte(h[k])})
	}
	return out
}

type producerCollectors struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	producerMetrics     *producerCollectors
	producerMetricsOnce sync.Once
)

func registerProducerMetrics() {
	producerMetricsOnce.Do(func() {
		producerMetrics = &producerCollectors{
			messages: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tradefusion",
				Subsystem: "kafka_producer",
				Name:      "messages_total",
				Help:      "Messages handed to Kafka by result.",
			}, []string{"topic", "result"}),
			bytes: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tradefusion",
				Subsystem: "kafka_producer",
				Name:      "bytes_total",
				Help:      "Uncompressed payload bytes written.",
			}, []string{"topic", "compression"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tradefusion",
				Subsystem: "kafka_producer",
				Name:      "write_seconds",
				Help:      "Latency of a batch write including broker acks.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"topic"}),
		}
	})
}

func (c *producerCollectors) observe(topic, codec string, n, size int, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		c.bytes.WithLabelValues(topic, codec).Add(float64(size))
	}
	c.messages.WithLabelValues(topic, result).Add(float64(n))
	c.latency.WithLabelValues(topic).Observe(d.Seconds())
}
