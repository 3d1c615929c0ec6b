package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/metrics"
)

type recordingProc struct {
	mu    sync.Mutex
	fail  int
	ticks []*models.Tick
}

func (r *recordingProc) Process(_ context.Context, t *models.Tick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("downstream unavailable")
	}
	r.ticks = append(r.ticks, t)
	return nil
}

func (r *recordingProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func tick(sym string, price float64) *models.Tick {
	return &models.Tick{Symbol: sym, Timestamp: 1772442000, Price: price, Volume: 1}
}

func TestPipelineRejectsInvalidTicks(t *testing.T) {
	p := NewRealtimePipeline(&recordingProc{}, metrics.Nop{})
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, nil))
	assert.Error(t, p.Process(ctx, &models.Tick{Timestamp: 1, Price: 1}))
	assert.Error(t, p.Process(ctx, &models.Tick{Symbol: "ETH", Price: 1}))
	assert.Error(t, p.Process(ctx, &models.Tick{Symbol: "ETH", Timestamp: 1, Price: 0}))
	assert.Error(t, p.Process(ctx, &models.Tick{Symbol: "ETH", Timestamp: 1, Price: 1, Bid: 2, Ask: 1}))
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(0.001))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, tick("ETH", 1)))
	require.NoError(t, p.Process(ctx, tick("ETH", 2)))
	require.NoError(t, p.Process(ctx, tick("BTC", 3)))
	assert.Equal(t, 2, proc.count())
}

func TestPipelineTransform(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(0), WithTransform(func(t *models.Tick) *models.Tick {
		out := *t
		out.Bid, out.Ask = t.Price-1, t.Price+1
		return &out
	}))
	require.NoError(t, p.Process(context.Background(), tick("ETH", 100)))
	require.Equal(t, 1, proc.count())
	assert.Equal(t, 101.0, proc.ticks[0].Ask)
}

func TestPipelineBuffersAndFlushes(t *testing.T) {
	proc := &recordingProc{fail: 2}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(0), WithRetryDelay(time.Millisecond, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, p.Process(ctx, tick("ETH", 100)))
	assert.Equal(t, 1, p.Buffered())

	p.Start(ctx)
	defer p.Stop()
	assert.Eventually(t, func() bool { return proc.count() == 1 }, time.Second, 5*time.Millisecond)
}
