package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	"TradeFusion/internal/middleware"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/metrics"
)

// TickSink persists tick batches.
type TickSink interface {
	StoreBatch(ctx context.Context, ticks []*models.Tick) error
}

// TickRecorder batches ticks into the tick store. A failed flush keeps the batch for the
// next attempt, up to ten batches; older ticks are dropped beyond that.
type TickRecorder struct {
	sink      TickSink
	batchSize int
	interval  time.Duration
	metrics   domrepo.Metrics
	log       *logger.Logger

	mu   sync.Mutex
	buf  []*models.Tick
	stop chan struct{}
	done chan struct{}
}

var _ middleware.Proc = (*TickRecorder)(nil)

func NewTickRecorder(sink TickSink, batchSize int, interval time.Duration, m domrepo.Metrics, log *logger.Logger) *TickRecorder {
	if batchSize <= 0 {
		batchSize = 500
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &TickRecorder{
		sink:      sink,
		batchSize: batchSize,
		interval:  interval,
		metrics:   m,
		log:       log.Component("tick_recorder"),
	}
}

// Process buffers the tick and flushes a full batch. It never fails the pipeline.
func (r *TickRecorder) Process(ctx context.Context, t *models.Tick) error {
	r.mu.Lock()
	r.buf = append(r.buf, t)
	full := len(r.buf) >= r.batchSize
	r.mu.Unlock()
	if full {
		r.flushLogged(ctx, "batch_full")
	}
	return nil
}

// flushLogged flushes from a path that has no caller to return the error to.
func (r *TickRecorder) flushLogged(ctx context.Context, trigger string) {
	if err := r.Flush(ctx); err != nil {
		r.log.Error("tick flush failed",
			logger.String("trigger", trigger),
			logger.Int("buffered", r.Buffered()),
			logger.Error(err))
	}
}

// Flush writes everything buffered. A failed batch stays buffered for the next flush.
func (r *TickRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := r.sink.StoreBatch(ctx, batch); err != nil {
		r.metrics.RecordError("tick_store")
		r.requeue(batch)
		return fmt.Errorf("store %d ticks: %w", len(batch), err)
	}
	r.metrics.RecordLatency("tick_store", time.Since(start).Seconds())
	return nil
}

func (r *TickRecorder) requeue(batch []*models.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := append(batch, r.buf...)
	if limit := r.batchSize * 10; len(merged) > limit {
		r.metrics.RecordError("tick_store_drop")
		merged = merged[len(merged)-limit:]
	}
	r.buf = merged
}

// Buffered returns the number of ticks not yet stored.
func (r *TickRecorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Start flushes on the interval until ctx is done or Stop is called.
func (r *TickRecorder) Start(ctx context.Context) {
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(r.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				r.flushLogged(ctx, "interval")
			}
		}
	}()
}

// Stop ends the flush loop and writes what is left.
func (r *TickRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop = nil
	r.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return r.Flush(ctx)
}

// Fanout forwards each tick to every processor and returns the first error.
type Fanout []middleware.Proc

func (f Fanout) Process(ctx context.Context, t *models.Tick) error {
	var first error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Process(ctx, t); err != nil && first == nil {
			first = err
		}
	}
	return first
}
