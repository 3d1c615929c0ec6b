package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"TradeFusion/pkg/logger"
)

// BatchMessageHandler handles message payloads of one topic in batches.
// A batch is committed after the handler returns, whatever the result.
type BatchMessageHandler interface {
	Topic() string
	HandleBatch(ctx context.Context, payloads [][]byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	AutoOffsetReset string
	BatchSize       int
	BatchLinger     time.Duration
	RetryMax        int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	DLQTopic        string
	MinBytes        int
	MaxBytes        int
	Logger          *logger.Logger
}

// WithConsumerBrokers sets Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

// WithConsumerGroupID sets consumer group ID.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerAutoOffsetReset sets auto offset reset strategy.
func WithConsumerAutoOffsetReset(autoOffsetReset string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.AutoOffsetReset = autoOffsetReset
	}
}

// WithConsumerBatch sets the maximum batch size and how long to wait for it to fill.
func WithConsumerBatch(size int, linger time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		if linger > 0 {
			c.BatchLinger = linger
		}
	}
}

// WithConsumerRetry configures retry attempts and backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ sets a Kafka topic name for DLQ.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQTopic = topic
	}
}

// WithConsumerFetch sets fetch min/max bytes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer reads registered topics and hands messages to their handlers in batches.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	readers  map[string]*kafka.Reader
	handlers map[string]BatchMessageHandler
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	dlq      messageWriter
	hook     ConsumerHook
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:         "default",
		AutoOffsetReset: "earliest",
		BatchSize:       50,
		BatchLinger:     500 * time.Millisecond,
		RetryMax:        3,
		BackoffMin:      50 * time.Millisecond,
		BackoffMax:      2 * time.Second,
		MinBytes:        1,
		MaxBytes:        10e6, // 10MB
		Logger:          logger.Nop(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger.Component("kafka_consumer"),
		readers:  make(map[string]*kafka.Reader),
		handlers: make(map[string]BatchMessageHandler),
		stopChan: make(chan struct{}),
		hook:     NoopHook{},
	}

	initConsumerMetricsOnce()

	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}

	return c, nil
}

// RegisterHandler registers a batch handler for its topic.
func (c *Consumer) RegisterHandler(handler BatchMessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start creates one reader per registered topic and begins consuming.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	startOffset := kafka.FirstOffset
	if c.cfg.AutoOffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}

	for topic, handler := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: startOffset,
		})
		c.readers[topic] = reader

		c.wg.Add(1)
		go c.consume(topic, handler, reader)
		c.log.Info("consuming topic",
			logger.String("topic", topic),
			logger.String("group", c.cfg.GroupID),
			logger.Int("batch_size", c.cfg.BatchSize),
			logger.Duration("batch_linger_ms", c.cfg.BatchLinger),
		)
	}
	return nil
}

// Stop stops the Kafka consumer gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error

	c.stopOnce.Do(func() {
		close(c.stopChan)
		stopErr = c.waitForWg(ctx)

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Warn("close reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if w, ok := c.dlq.(*kafka.Writer); ok && w != nil {
			if err := w.Close(); err != nil {
				c.log.Warn("close dlq writer", logger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("stopped")
		}
	})

	return stopErr
}

func (c *Consumer) waitForWg(ctx context.Context) error {
	doneChan := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-doneChan:
		return nil
	}
}

// consume blocks for the first message of a batch, then keeps fetching until
// the batch is full or the linger deadline passes.
func (c *Consumer) consume(topic string, handler BatchMessageHandler, reader *kafka.Reader) {
	defer c.wg.Done()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopChan
		cancel()
	}()

	for {
		first, err := reader.FetchMessage(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return
			}
			c.log.Warn("fetch message", logger.String("topic", topic), logger.Error(err))
			select {
			case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, 1)):
			case <-runCtx.Done():
				return
			}
			continue
		}

		batch := []kafka.Message{first}
		lingerCtx, lingerCancel := context.WithTimeout(runCtx, c.cfg.BatchLinger)
		for len(batch) < c.cfg.BatchSize {
			msg, err := reader.FetchMessage(lingerCtx)
			if err != nil {
				break
			}
			batch = append(batch, msg)
		}
		lingerCancel()

		c.process(context.Background(), topic, handler, reader, batch)
	}
}

// process runs one batch through hooks and the handler, dead-letters it on
// failure and commits every offset so a poison batch never loops.
func (c *Consumer) process(ctx context.Context, topic string, handler BatchMessageHandler, cm committer, msgs []kafka.Message) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in batch handler", logger.String("topic", topic), logger.Any("panic", r))
			c.deadLetter(ctx, topic, msgs, fmt.Errorf("handler panic: %v", r))
		}
		c.commitWithRetry(ctx, cm, msgs, 3)
		if consumerBatchSize != nil {
			consumerBatchSize.WithLabelValues(topic).Observe(float64(len(msgs)))
			consumerHandleLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
		}
	}()

	batchCtx := ctx
	accepted := make([]kafka.Message, 0, len(msgs))
	payloads := make([][]byte, 0, len(msgs))
	var rejected []kafka.Message
	for _, km := range msgs {
		hctx, hmsg, data, err := c.hook.BeforeHandle(batchCtx, topic, km, km.Value)
		if err != nil {
			c.log.Warn("message rejected by hook", logger.String("topic", topic), logger.Int64("offset", km.Offset), logger.Error(err))
			rejected = append(rejected, km)
			continue
		}
		batchCtx = hctx
		hmsg.Value = data
		accepted = append(accepted, hmsg)
		payloads = append(payloads, data)
	}
	if len(rejected) > 0 {
		c.deadLetter(ctx, topic, rejected, errors.New("rejected by hook"))
	}
	if len(payloads) == 0 {
		return
	}

	var err error
retry:
	for attempt := 1; ; attempt++ {
		err = handler.HandleBatch(batchCtx, payloads)
		if err == nil || attempt > c.cfg.RetryMax {
			break
		}
		c.log.Warn("batch handler failed, retrying",
			logger.String("topic", topic),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-c.stopChan:
			break retry
		}
	}

	for _, km := range accepted {
		c.hook.AfterHandle(batchCtx, topic, km, km.Value, err)
	}
	if err != nil {
		for _, km := range accepted {
			c.hook.OnError(batchCtx, topic, km, km.Value, err)
		}
		c.log.Error("batch failed", logger.String("topic", topic), logger.Int("size", len(accepted)), logger.Error(err))
		c.deadLetter(ctx, topic, accepted, err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, topic string, msgs []kafka.Message, cause error) {
	if c.dlq == nil || c.cfg.DLQTopic == "" || len(msgs) == 0 {
		return
	}
	out := make([]kafka.Message, 0, len(msgs))
	for _, km := range msgs {
		headers := make([]kafka.Header, 0, len(km.Headers)+2)
		headers = append(headers, km.Headers...)
		headers = append(headers,
			kafka.Header{Key: "source_topic", Value: []byte(topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		)
		out = append(out, kafka.Message{
			Topic:   c.cfg.DLQTopic,
			Key:     km.Key,
			Value:   km.Value,
			Time:    time.Now(),
			Headers: headers,
		})
	}
	if err := c.dlq.WriteMessages(ctx, out...); err != nil {
		c.log.Error("write dlq", logger.String("dlq_topic", c.cfg.DLQTopic), logger.Error(err))
		return
	}
	if consumerDLQTotal != nil {
		consumerDLQTotal.WithLabelValues(topic).Add(float64(len(out)))
	}
}

// commitWithRetry commits offsets with bounded retries.
func (c *Consumer) commitWithRetry(ctx context.Context, cm committer, msgs []kafka.Message, max int) {
	if cm == nil || len(msgs) == 0 {
		return
	}
	if max <= 0 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = cm.CommitMessages(cctx, msgs...)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("commit offsets", logger.Int("attempts", max), logger.Error(err))
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

// Consumer metrics
var (
	consumerBatchSize     *prometheus.HistogramVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerDLQTotal      *prometheus.CounterVec
	consumerOnce          = make(chan struct{}, 1)
	consumerRegisterer    prometheus.Registerer
)

// SetConsumerMetricsRegisterer sets a custom Prometheus registerer for consumer metrics (useful for testing).
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetricsOnce() {
	select {
	case consumerOnce <- struct{}{}:
		factory := promauto.With(consumerRegisterer)
		if consumerRegisterer == nil {
			factory = promauto.With(prometheus.DefaultRegisterer)
		}
		consumerBatchSize = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradefusion_kafka_consumer_batch_size",
				Help:    "Messages per handled batch",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"topic"},
		)
		consumerHandleLatency = factory.NewHistogramVec(
			prometheus.HistogramOpts{Name: "tradefusion_kafka_consumer_handle_seconds", Help: "Handling time per batch"},
			[]string{"topic"},
		)
		consumerDLQTotal = factory.NewCounterVec(
			prometheus.CounterOpts{Name: "tradefusion_kafka_consumer_dlq_total", Help: "Messages written to the dead letter topic"},
			[]string{"topic"},
		)
	default:
		// already initialized
	}
}
