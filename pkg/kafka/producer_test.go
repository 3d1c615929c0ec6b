package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingWriter struct {
	fakeWriter
	err    error
	closed bool
}

func (w *closingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	return w.fakeWriter.WriteMessages(ctx, msgs...)
}

func (w *closingWriter) Close() error { w.closed = true; return nil }

func TestNewProducerValidates(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("none"))
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestPublishBatchStampsAndOrdersHeaders(t *testing.T) {
	w := &closingWriter{}
	p := newProducer(w, "snappy")
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	err := p.PublishBatch(context.Background(), "trade.instructions", []Message{
		{Key: []byte("BTC"), Value: []byte(`{"side":"BUY"}`), Headers: map[string]string{"trace_id": "c-1", "idempotency_key": "k-1"}},
		{Key: []byte("ETH"), Value: []byte(`{"side":"SELL"}`)},
	})
	require.NoError(t, err)

	require.Len(t, w.written, 2)
	first := w.written[0]
	assert.Equal(t, "trade.instructions", first.Topic)
	assert.Equal(t, "BTC", string(first.Key))
	assert.Equal(t, at, first.Time)
	require.Len(t, first.Headers, 2)
	assert.Equal(t, "idempotency_key", first.Headers[0].Key)
	assert.Equal(t, "trace_id", first.Headers[1].Key)
	assert.Nil(t, w.written[1].Headers)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishBatchRejectsUnkeyedAndWrapsErrors(t *testing.T) {
	w := &closingWriter{}
	p := newProducer(w, "")

	err := p.PublishBatch(context.Background(), "t", []Message{{Value: []byte("x")}})
	assert.Error(t, err)
	assert.Empty(t, w.written)

	assert.NoError(t, p.PublishBatch(context.Background(), "t", nil))

	w.err = errors.New("leader not available")
	err = p.PublishBatch(context.Background(), "t", []Message{{Key: []byte("SOL"), Value: []byte("x")}})
	assert.ErrorContains(t, err, "leader not available")
}
