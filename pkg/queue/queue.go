package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueueService accepts a typed message for asynchronous handling.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

type QueueConfig struct {
	Workers     int           // concurrent handlers
	RetryLimit  int           // attempts after the first before dead-lettering
	RetryDelay  time.Duration // first retry delay, doubled per attempt
	RetryPoll   time.Duration // how often due retries are moved back to the queue
	PollTimeout time.Duration // BRPOP block time, whole seconds
}

func (c *QueueConfig) withDefaults() QueueConfig {
	out := QueueConfig{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	if out.RetryPoll <= 0 {
		out.RetryPoll = time.Second
	}
	if out.PollTimeout < time.Second {
		out.PollTimeout = time.Second
	}
	return out
}

// Message is the envelope stored in Redis. Payload stays encoded until a job parses it.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// ParsePayload decodes a job payload into T. Payloads published inline arrive
// as Go values; queued ones arrive as JSON.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return decode[T](p)
	case []byte:
		return decode[T](p)
	case nil:
		return nil, fmt.Errorf("empty payload")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %T payload: %w", payload, err)
	}
	return decode[T](raw)
}

func decode[T any](raw []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
