package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/logger"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]*models.Tick
	fail    bool
}

func (s *memorySink) StoreBatch(_ context.Context, ticks []*models.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("clickhouse unavailable")
	}
	s.batches = append(s.batches, ticks)
	return nil
}

func (s *memorySink) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

// logBuffer collects JSON log lines written from any goroutine.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) entries(msg string) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]interface{}{}
		if json.Unmarshal([]byte(line), &m) != nil {
			continue
		}
		if m["message"] == msg {
			out = append(out, m)
		}
	}
	return out
}

func tick(i int) *models.Tick {
	return &models.Tick{Symbol: "BTC", Timestamp: testNow.Unix() + int64(i), Price: 100 + float64(i)}
}

func TestTickRecorderFlushesFullBatch(t *testing.T) {
	sink := &memorySink{}
	rec := NewTickRecorder(sink, 3, time.Hour, nil, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, rec.Process(context.Background(), tick(i)))
	}
	assert.Zero(t, sink.stored())
	assert.Equal(t, 2, rec.Buffered())

	require.NoError(t, rec.Process(context.Background(), tick(2)))
	assert.Equal(t, 3, sink.stored())
	assert.Zero(t, rec.Buffered())
}

func TestTickRecorderRequeuesFailedFlush(t *testing.T) {
	sink := &memorySink{fail: true}
	rec := NewTickRecorder(sink, 2, time.Hour, nil, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, rec.Process(context.Background(), tick(i)))
	}
	assert.Equal(t, 2, rec.Buffered())

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	require.NoError(t, rec.Flush(context.Background()))
	assert.Equal(t, 2, sink.stored())
}

func TestTickRecorderLogsBatchFlushFailure(t *testing.T) {
	logs := &logBuffer{}
	sink := &memorySink{fail: true}
	rec := NewTickRecorder(sink, 2, time.Hour, nil, logger.NewWithWriter(logs))

	for i := 0; i < 2; i++ {
		require.NoError(t, rec.Process(context.Background(), tick(i)))
	}

	got := logs.entries("tick flush failed")
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0]["level"])
	assert.Equal(t, "tick_recorder", got[0]["component"])
	assert.Equal(t, "batch_full", got[0]["trigger"])
	assert.EqualValues(t, 2, got[0]["buffered"])
	assert.Contains(t, got[0]["error"], "store 2 ticks: clickhouse unavailable")

	err := rec.Flush(context.Background())
	assert.ErrorContains(t, err, "clickhouse unavailable")
	assert.Len(t, logs.entries("tick flush failed"), 1)
}

func TestTickRecorderLogsIntervalFlushFailure(t *testing.T) {
	logs := &logBuffer{}
	sink := &memorySink{fail: true}
	rec := NewTickRecorder(sink, 100, 10*time.Millisecond, nil, logger.NewWithWriter(logs))
	rec.Start(context.Background())

	require.NoError(t, rec.Process(context.Background(), tick(0)))
	assert.Eventually(t, func() bool {
		for _, e := range logs.entries("tick flush failed") {
			if e["trigger"] == "interval" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, rec.Stop(context.Background()))
	assert.Equal(t, 1, rec.Buffered())
}

func TestTickRecorderDropsOldestBeyondLimit(t *testing.T) {
	sink := &memorySink{fail: true}
	rec := NewTickRecorder(sink, 1, time.Hour, nil, nil)

	for i := 0; i < 15; i++ {
		_ = rec.Process(context.Background(), tick(i))
	}
	assert.Equal(t, 10, rec.Buffered())
}

func TestTickRecorderStopFlushesRemainder(t *testing.T) {
	sink := &memorySink{}
	rec := NewTickRecorder(sink, 100, time.Hour, nil, nil)
	rec.Start(context.Background())

	require.NoError(t, rec.Process(context.Background(), tick(0)))
	require.NoError(t, rec.Stop(context.Background()))
	assert.Equal(t, 1, sink.stored())
}

func TestTickRecorderIntervalFlush(t *testing.T) {
	sink := &memorySink{}
	rec := NewTickRecorder(sink, 100, 10*time.Millisecond, nil, nil)
	rec.Start(context.Background())
	defer rec.Stop(context.Background())

	require.NoError(t, rec.Process(context.Background(), tick(0)))
	assert.Eventually(t, func() bool { return sink.stored() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFanoutReachesEveryProcessor(t *testing.T) {
	sink := &memorySink{}
	rec := NewTickRecorder(sink, 1, time.Hour, nil, nil)
	book := NewQuoteBook(0, nil)

	f := Fanout{book, nil, rec}
	err := f.Process(context.Background(), &models.Tick{Symbol: "ETH", Timestamp: testNow.Unix()})
	assert.Error(t, err)
	assert.Equal(t, 1, sink.stored())

	require.NoError(t, f.Process(context.Background(), tick(1)))
	assert.Equal(t, 101.0, book.Snapshot()["BTC"].Last)
}
