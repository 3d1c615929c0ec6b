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

	"TradeFusion/pkg/logger"
)

type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m QueueMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer"
	case ModeConsumerOnly:
		return "consumer"
	}
	return "producer-consumer"
}

// RedisQueue is a list-backed work queue. Failed messages wait in a sorted
// set scored by due time, and land in a dead-letter list once retries run out.
//
// Keys: <prefix>:messages, <prefix>:retry, <prefix>:dlq.
type RedisQueue struct {
	log    *logger.Logger
	cfg    QueueConfig
	client redis.UniversalClient
	jobs   *Registry
	mode   QueueMode
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.prefix = prefix }
}

func NewRedisQueue(l *logger.Logger, cfg *QueueConfig, client redis.UniversalClient, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if l == nil {
		l = logger.Nop()
	}
	r := &RedisQueue{
		cfg:    cfg.withDefaults(),
		client: client,
		jobs:   NewRegistry(),
		mode:   mode,
		prefix: "tradefusion:queue",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = l.Component("queue").With(logger.String("queue", r.prefix), logger.String("mode", mode.String()))
	return r
}

// NewRedisPublisher returns a started producer-only queue. A failed ping is
// logged; publishing then fails per call until Redis is reachable.
func NewRedisPublisher(l *logger.Logger, client redis.UniversalClient, opts ...RedisQueueOption) *RedisQueue {
	q := NewRedisQueue(l, nil, client, ModeProducerOnly, opts...)
	if err := q.Start(); err != nil {
		q.log.Warn("publisher ping failed", logger.Error(err))
		q.mu.Lock()
		q.running = true
		q.mu.Unlock()
	}
	return q
}

// NewRedisConsumer returns a consumer for jobs. Call Start to begin work.
func NewRedisConsumer(l *logger.Logger, cfg *QueueConfig, client redis.UniversalClient, jobs []Job, opts ...RedisQueueOption) *RedisQueue {
	q := NewRedisQueue(l, cfg, client, ModeConsumerOnly, opts...)
	q.RegisterJobs(jobs)
	return q
}

func (r *RedisQueue) RegisterJobs(jobs []Job) {
	for _, j := range jobs {
		r.RegisterJob(j)
	}
}

func (r *RedisQueue) RegisterJob(j Job) {
	if r.mode == ModeProducerOnly {
		r.log.Warn("producer queue ignores jobs", logger.String("job", j.Name()))
		return
	}
	if err := r.jobs.Register(j); err != nil {
		r.log.Warn("job not registered", logger.Error(err))
		return
	}
	r.log.Debug("job registered", logger.String("job", j.Name()), logger.String("type", j.Type()))
}

// Start pings Redis and, unless producer-only, launches workers and the retry mover.
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
	if r.mode == ModeProducerOnly {
		return nil
	}

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
	r.wg.Add(1)
	go r.moveDueRetries(ctx)
	r.log.Info("queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.Strings("types", r.jobs.Types()))
	return nil
}

// Stop cancels workers and waits for in-flight handlers until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}

// PublishMessage enqueues payload as JSON under msgType.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return errors.New("queue not running")
	}
	if r.mode != ModeProducerOnly {
		if _, ok := r.jobs.Lookup(msgType); !ok {
			return fmt.Errorf("%w for type %s", ErrNoJob, msgType)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	raw, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    body,
		EnqueuedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("messages"), raw).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// Depth reports queued, waiting-for-retry and dead-lettered message counts.
func (r *RedisQueue) Depth(ctx context.Context) (pending, retrying, dead int64, err error) {
	pipe := r.client.Pipeline()
	p := pipe.LLen(ctx, r.key("messages"))
	w := pipe.ZCard(ctx, r.key("retry"))
	d := pipe.LLen(ctx, r.key("dlq"))
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("queue depth: %w", err)
	}
	return p.Val(), w.Val(), d.Val(), nil
}

func (r *RedisQueue) work(ctx context.Context) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, r.cfg.PollTimeout, r.key("messages")).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		default:
			r.log.Warn("brpop failed", logger.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.log.Warn("dropping undecodable message", logger.Error(err))
			continue
		}
		r.handle(ctx, msg)
	}
}

func (r *RedisQueue) handle(ctx context.Context, msg Message) {
	err := r.jobs.Dispatch(ctx, msg.Type, msg.Payload)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// shutting down mid-handle: put it back for the next run
		r.park(msg, r.now())
		return
	}

	msg.LastError = err.Error()
	if msg.Attempts >= r.cfg.RetryLimit || errors.Is(err, ErrNoJob) {
		r.log.Warn("message dead-lettered",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempts", msg.Attempts+1),
			logger.Error(err))
		r.push("dlq", msg)
		return
	}
	msg.Attempts++
	due := r.now().Add(r.cfg.RetryDelay << (msg.Attempts - 1))
	r.log.Debug("message retry scheduled",
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err))
	r.park(msg, due)
}

// park stores msg in the retry set, due at the given time.
func (r *RedisQueue) park(msg Message, due time.Time) {
	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn("encode retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.key("retry"), redis.Z{Score: float64(due.UnixMilli()), Member: raw}).Err(); err != nil {
		r.log.Warn("zadd retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) push(list string, msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn("encode message", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.key(list), raw).Err(); err != nil {
		r.log.Warn("lpush "+list, logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) moveDueRetries(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.cfg.RetryPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.promote(ctx)
		}
	}
}

// promote moves due retries back onto the queue. ZREM decides ownership so
// several instances never requeue the same member twice.
func (r *RedisQueue) promote(ctx context.Context) {
	due, err := r.client.ZRangeByScore(ctx, r.key("retry"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("read retry set", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		removed, err := r.client.ZRem(ctx, r.key("retry"), member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, r.key("messages"), member).Err(); err != nil {
			r.log.Warn("requeue retry", logger.Error(err))
		}
	}
}

func (r *RedisQueue) key(suffix string) string { return r.prefix + ":" + suffix }

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
