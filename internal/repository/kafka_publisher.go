package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	pkgkafka "TradeFusion/pkg/kafka"
)

// BatchProducer is the part of the Kafka producer the publisher needs.
type BatchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaInstructionPublisher sends instructions to the dispatch topic, keyed by asset
// so every instruction of an asset lands on the same partition in order.
type KafkaInstructionPublisher struct {
	producer BatchProducer
	topic    string
}

var _ domrepo.InstructionPublisher = (*KafkaInstructionPublisher)(nil)

func NewKafkaInstructionPublisher(producer BatchProducer, topic string) *KafkaInstructionPublisher {
	return &KafkaInstructionPublisher{producer: producer, topic: topic}
}

func (p *KafkaInstructionPublisher) PublishInstructions(ctx context.Context, ins []models.Instruction) error {
	if len(ins) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(ins))
	for _, in := range ins {
		if in.IdempotencyKey == "" || in.Asset == "" {
			return fmt.Errorf("publish instruction: %w: missing key or asset", domrepo.ErrInvalidInput)
		}
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal instruction %s: %w", in.IdempotencyKey, err)
		}
		msgs = append(msgs, pkgkafka.Message{
			Key:   []byte(in.Asset),
			Value: payload,
			Headers: map[string]string{
				"trace_id":        in.CycleID,
				"idempotency_key": in.IdempotencyKey,
			},
		})
	}
	if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
		return fmt.Errorf("publish %d instructions to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}
