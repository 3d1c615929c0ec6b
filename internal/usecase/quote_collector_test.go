package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
	mid "TradeFusion/internal/middleware"
	"TradeFusion/pkg/metrics"
)

// scriptedStream fails its first session after delivering one tick, then serves a
// second session until the context ends.
type scriptedStream struct {
	mu         sync.Mutex
	reads      int
	reconnects int
	connected  bool
	closed     bool
}

func (s *scriptedStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *scriptedStream) Subscribe(context.Context) error { return nil }

func (s *scriptedStream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	s.mu.Lock()
	s.reads++
	n := s.reads
	s.mu.Unlock()

	ticks := make(chan *models.Tick)
	errs := make(chan error, 1)
	go func() {
		defer close(ticks)
		defer close(errs)
		if n == 1 {
			ticks <- &models.Tick{Symbol: "BTC", Timestamp: testNow.Unix(), Price: 100}
			errs <- errors.New("connection reset")
			return
		}
		ticks <- &models.Tick{Symbol: "ETH", Timestamp: testNow.Unix(), Price: 200}
		<-ctx.Done()
	}()
	return ticks, errs
}

func (s *scriptedStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed, s.connected = true, false
	return nil
}

func (s *scriptedStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func TestQuoteCollectorReconnectsAndFeedsBook(t *testing.T) {
	stream := &scriptedStream{}
	book := NewQuoteBook(0, nil)
	pipe := mid.NewRealtimePipeline(book, metrics.Nop{}, mid.WithMaxRPS(0))
	c := NewQuoteCollector(stream, pipe, nil, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsConnected())

	assert.Eventually(t, func() bool {
		snap := book.Snapshot()
		_, btc := snap["BTC"]
		_, eth := snap["ETH"]
		return btc && eth
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Shutdown(context.Background()))
	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.GreaterOrEqual(t, stream.reconnects, 1)
	assert.True(t, stream.closed)
	assert.False(t, stream.connected)
}
