package usecase

import (
	"context"
	"errors"
	"sync"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	domsvc "TradeFusion/internal/domain/service"
	mid "TradeFusion/internal/middleware"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/metrics"
)

var errStreamClosed = errors.New("tick stream closed")

// QuoteCollector reads the live tick stream and feeds the pipeline in front of the quote book.
type QuoteCollector struct {
	stream  domsvc.TickStream
	pipe    *mid.RealtimePipeline
	metrics domrepo.Metrics
	log     *logger.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQuoteCollector(stream domsvc.TickStream, pipe *mid.RealtimePipeline, m domrepo.Metrics, log *logger.Logger) *QuoteCollector {
	if m == nil {
		m = metrics.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &QuoteCollector{stream: stream, pipe: pipe, metrics: m, log: log.Component("quote_collector")}
}

// IsConnected returns true if the tick stream is connected.
func (c *QuoteCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and consumes in the background until ctx is done.
func (c *QuoteCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.pipe.Start(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *QuoteCollector) run(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		ticks, errs := c.stream.Read(ctx)
		err := c.consume(ctx, ticks, errs)
		if err == nil || ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.log.Warn("tick stream failed, reconnecting", logger.Error(err))
		for ctx.Err() == nil {
			rerr := c.stream.Reconnect(ctx)
			if rerr == nil {
				break
			}
			c.metrics.RecordError("stream_reconnect")
			c.log.Warn("reconnect failed", logger.Error(rerr))
		}
	}
}

// consume returns nil when ctx ends and the stream error otherwise.
func (c *QuoteCollector) consume(ctx context.Context, ticks <-chan *models.Tick, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			errs = nil
		case t, ok := <-ticks:
			if !ok {
				if errs == nil {
					return errStreamClosed
				}
				ticks = nil
				continue
			}
			if t == nil {
				continue
			}
			if err := c.pipe.Process(ctx, t); err != nil {
				c.log.Debug("tick rejected", logger.String("asset", t.Symbol), logger.Error(err))
			}
		}
		if ticks == nil && errs == nil {
			return errStreamClosed
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *QuoteCollector) Shutdown(context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.pipe.Stop()
	err := c.stream.Close()
	c.wg.Wait()
	return err
}
