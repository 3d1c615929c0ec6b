package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/pkg/logger"
)

type alert struct {
	Severity string `json:"severity"`
	Text     string `json:"text"`
}

type alertJob struct {
	mu    sync.Mutex
	fails int
	calls int
	got   []alert
}

func (j *alertJob) Name() string { return "alert" }
func (j *alertJob) Type() string { return "alert" }

func (j *alertJob) Handle(_ context.Context, payload interface{}) error {
	a, err := ParsePayload[alert](payload)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if j.calls <= j.fails {
		return errors.New("webhook 502")
	}
	j.got = append(j.got, *a)
	return nil
}

func (j *alertJob) snapshot() (int, []alert) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls, append([]alert(nil), j.got...)
}

func newTestQueue(t *testing.T, cfg *QueueConfig, jobs ...Job) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(logger.Nop(), cfg, client, ModeProducerConsumer, WithKeyPrefix("test:queue"))
	q.RegisterJobs(jobs)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	return q, mr
}

func TestPublishAndHandle(t *testing.T) {
	job := &alertJob{}
	q, _ := newTestQueue(t, nil, job)

	require.NoError(t, q.PublishMessage(context.Background(), "alert", alert{Severity: "critical", Text: "breaker tripped"}))

	require.Eventually(t, func() bool { _, got := job.snapshot(); return len(got) == 1 }, 3*time.Second, 10*time.Millisecond)
	_, got := job.snapshot()
	assert.Equal(t, alert{Severity: "critical", Text: "breaker tripped"}, got[0])
}

func TestPublishRejectsUnknownType(t *testing.T) {
	q, _ := newTestQueue(t, nil, &alertJob{})

	err := q.PublishMessage(context.Background(), "sms", alert{})
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestRetryThenSucceed(t *testing.T) {
	job := &alertJob{fails: 1}
	q, _ := newTestQueue(t, &QueueConfig{
		RetryLimit: 2,
		RetryDelay: 10 * time.Millisecond,
		RetryPoll:  10 * time.Millisecond,
	}, job)

	require.NoError(t, q.PublishMessage(context.Background(), "alert", alert{Text: "x"}))

	require.Eventually(t, func() bool { _, got := job.snapshot(); return len(got) == 1 }, 3*time.Second, 10*time.Millisecond)
	calls, _ := job.snapshot()
	assert.Equal(t, 2, calls)
}

func TestDeadLetterAfterRetries(t *testing.T) {
	job := &alertJob{fails: 100}
	q, mr := newTestQueue(t, &QueueConfig{
		RetryLimit: 1,
		RetryDelay: 10 * time.Millisecond,
		RetryPoll:  10 * time.Millisecond,
	}, job)

	require.NoError(t, q.PublishMessage(context.Background(), "alert", alert{Text: "x"}))

	require.Eventually(t, func() bool {
		_, _, dead, err := q.Depth(context.Background())
		return err == nil && dead == 1
	}, 3*time.Second, 10*time.Millisecond)

	calls, _ := job.snapshot()
	assert.Equal(t, 2, calls)

	items, err := mr.List("test:queue:dlq")
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(items[0]), &msg))
	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, "webhook 502", msg.LastError)
}

func TestProducerOnlySkipsTypeCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewRedisPublisher(logger.Nop(), client, WithKeyPrefix("pub"))
	p.RegisterJob(&alertJob{})
	require.NoError(t, p.PublishMessage(context.Background(), "anything", map[string]int{"n": 1}))

	pending, retrying, dead, err := p.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
	assert.Zero(t, retrying)
	assert.Zero(t, dead)
	require.NoError(t, p.Stop(context.Background()))
}

func TestStartTwiceFails(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	assert.Error(t, q.Start())
}

func TestParsePayload(t *testing.T) {
	want := alert{Severity: "info", Text: "hi"}

	got, err := ParsePayload[alert](want)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	got, err = ParsePayload[alert](&want)
	require.NoError(t, err)
	assert.Same(t, &want, got)

	got, err = ParsePayload[alert](json.RawMessage(`{"severity":"info","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	got, err = ParsePayload[alert](map[string]interface{}{"severity": "info", "text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = ParsePayload[alert](nil)
	assert.Error(t, err)
	_, err = ParsePayload[alert]([]byte(`not json`))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(&alertJob{})
	assert.Error(t, r.Register(&alertJob{}))
	assert.Equal(t, []string{"alert"}, r.Types())

	err := r.Dispatch(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNoJob)
	require.NoError(t, r.Dispatch(context.Background(), "alert", alert{Text: "ok"}))
}
