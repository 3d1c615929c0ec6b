package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/service"
	pkghttp "TradeFusion/pkg/http"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/queue"
)

type webhookRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (w *webhookRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		w.mu.Lock()
		w.texts = append(w.texts, p.Text)
		w.mu.Unlock()
	}
}

func (w *webhookRecorder) all() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.texts...)
}

func TestNotificationThroughRedisQueue(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	job := NewWebhookJob(srv.URL, pkghttp.NewClient(pkghttp.WithTimeout(time.Second)), logger.Nop())
	q := queue.NewRedisQueue(logger.Nop(), &queue.QueueConfig{Workers: 1, RetryLimit: 1}, client, queue.ModeProducerConsumer)
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer func() { _ = q.Stop(context.Background()) }()

	n := NewQueueNotifier(q, 8, logger.Nop())
	n.Start(context.Background())
	n.Notify(context.Background(), service.SeverityCritical, "breaker tripped")
	n.Stop()

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, rec.all()[0], "[CRITICAL] breaker tripped")
}

type failingSink struct{ calls int }

func (f *failingSink) PublishMessage(context.Context, string, interface{}) error {
	f.calls++
	return errors.New("redis down")
}

func TestNotifyNeverBlocks(t *testing.T) {
	sink := &failingSink{}
	n := NewQueueNotifier(sink, 1, logger.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Notify(context.Background(), service.SeverityInfo, "x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}

	n.Start(context.Background())
	n.Stop()
	assert.Equal(t, 1, sink.calls)
}

func TestInlineSinkRunsJob(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	sink := NewInlineSink(NewWebhookJob(srv.URL, nil, logger.Nop()))
	require.NoError(t, sink.PublishMessage(context.Background(), TypeNotification, Notification{Severity: service.SeverityInfo, Message: "bought ETH"}))
	assert.Equal(t, []string{":information_source: [INFO] bought ETH"}, rec.all())

	assert.Error(t, sink.PublishMessage(context.Background(), "unknown", nil))
}

func TestWebhookFailureIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookJob(srv.URL, nil, logger.Nop()).Handle(context.Background(), Notification{Message: "m"})
	assert.Error(t, err)
}

func TestErrorDigest(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	job := NewErrorDigestJob("error_logs", NewWebhookJob(srv.URL, nil, logger.Nop()))
	assert.Equal(t, "error_logs", job.Type())

	entries := []logger.AggregatedLogEntry{
		{Message: "quote failed", Count: 2},
		{Message: "fill invalid", Count: 7},
	}
	require.NoError(t, job.Handle(context.Background(), entries))
	require.Len(t, rec.all(), 1)
	assert.Equal(t, ":rotating_light: 2 distinct errors\n• fill invalid (x7)\n• quote failed (x2)", rec.all()[0])

	assert.Contains(t, Digest(entries, 1), "and 1 more")
}
