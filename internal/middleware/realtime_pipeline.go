package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	"TradeFusion/internal/service/ratelimit"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// RealtimePipeline sits between the tick stream and the quote book. Ticks
// that downstream rejects are buffered and replayed with exponential backoff.
type RealtimePipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	limiter   *ratelimit.Limiter
	maxRPS    float64
	bufSize   int
	bufCh     chan *models.Tick
	stopCh    chan struct{}
	done      chan struct{}
	started   bool
	mu        sync.Mutex
	transform func(*models.Tick) *models.Tick
	minDelay  time.Duration
	maxDelay  time.Duration
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max ticks per second per symbol. Zero disables throttling.
func WithMaxRPS(n float64) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the temporary buffer size used when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook that rewrites ticks before they are forwarded.
func WithTransform(fn func(*models.Tick) *models.Tick) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

// WithRetryDelay bounds the backoff of the buffer flusher.
func WithRetryDelay(min, max time.Duration) PipelineOption {
	return func(p *RealtimePipeline) {
		if min > 0 && max >= min {
			p.minDelay, p.maxDelay = min, max
		}
	}
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		minDelay: 50 * time.Millisecond,
		maxDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	if p.maxRPS > 0 {
		p.limiter = ratelimit.New(p.maxRPS, 1)
	}
	return p
}

// Start launches the flusher that replays buffered ticks once downstream recovers.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.done = make(chan struct{})
	go p.flush(ctx)
}

func (p *RealtimePipeline) flush(ctx context.Context) {
	defer close(p.done)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.minDelay
	bo.MaxInterval = p.maxDelay
	bo.MaxElapsedTime = 0

	wait := func(d time.Duration) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return true
		case <-ctx.Done():
		case <-p.stopCh:
		}
		return false
	}

	for {
		var t *models.Tick
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case t = <-p.bufCh:
		}
		if t == nil {
			continue
		}
		if err := p.proc.Process(ctx, t); err == nil {
			bo.Reset()
			continue
		}
		p.metrics.RecordError("pipeline_flush")
		if !wait(bo.NextBackOff()) {
			return
		}
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_drop")
		}
	}
}

// Stop ends the flusher and waits for it. Buffered ticks are dropped.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()
	<-done
}

// Buffered returns the number of ticks waiting for downstream.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards a tick, buffering on downstream errors.
// Throttled ticks are dropped without error.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Tick) error {
	start := time.Now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTick(t); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if p.limiter != nil && !p.limiter.Allow(t.Symbol) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- t:
			p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateTick(t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if t.Price <= 0 || t.Volume < 0 {
		return fmt.Errorf("invalid price/volume")
	}
	if t.Bid < 0 || t.Ask < 0 || (t.Bid > 0 && t.Ask > 0 && t.Ask < t.Bid) {
		return fmt.Errorf("crossed or negative book")
	}
	return nil
}
