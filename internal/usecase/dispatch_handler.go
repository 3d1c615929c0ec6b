package usecase

import (
	"context"
	"encoding/json"
	"sync"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	pkgkafka "TradeFusion/pkg/kafka"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/metrics"
)

// BatchProcessor executes instruction batches and reports per instruction.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, ins []models.Instruction) models.BatchReport
}

// DispatchHandler consumes instruction batches from Kafka and hands them to the guard.
// It always returns nil: failures are reported per instruction, so the batch is committed
// and never redelivered by the consumer's retry loop.
type DispatchHandler struct {
	topic   string
	guard   BatchProcessor
	metrics domrepo.Metrics
	log     *logger.Logger
}

var _ pkgkafka.BatchMessageHandler = (*DispatchHandler)(nil)

func NewDispatchHandler(topic string, guard BatchProcessor, m domrepo.Metrics, log *logger.Logger) *DispatchHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DispatchHandler{topic: topic, guard: guard, metrics: m, log: log.Component("dispatch_handler")}
}

func (h *DispatchHandler) Topic() string { return h.topic }

func (h *DispatchHandler) HandleBatch(ctx context.Context, payloads [][]byte) error {
	ins := make([]models.Instruction, 0, len(payloads))
	for _, b := range payloads {
		var in models.Instruction
		if err := json.Unmarshal(b, &in); err != nil {
			h.metrics.RecordError("consumer_unmarshal")
			h.log.Error("undecodable instruction dropped", logger.Error(err), logger.Int("bytes", len(b)))
			continue
		}
		if in.Asset == "" || (in.Side != models.SideBuy && in.Side != models.SideSell) {
			h.metrics.RecordError("consumer_invalid")
			h.log.Error("invalid instruction dropped", logger.String("key", in.IdempotencyKey), logger.String("side", string(in.Side)))
			continue
		}
		ins = append(ins, in)
	}
	if len(ins) == 0 {
		return nil
	}
	h.guard.ProcessBatch(ctx, ins)
	return nil
}

// InlinePublisher dispatches instructions synchronously, for single-process deployments.
type InlinePublisher struct {
	guard BatchProcessor
	mu    sync.Mutex
	last  *models.BatchReport
}

var _ domrepo.InstructionPublisher = (*InlinePublisher)(nil)

func NewInlinePublisher(guard BatchProcessor) *InlinePublisher {
	return &InlinePublisher{guard: guard}
}

func (p *InlinePublisher) PublishInstructions(ctx context.Context, ins []models.Instruction) error {
	if len(ins) == 0 {
		return nil
	}
	r := p.guard.ProcessBatch(ctx, ins)
	p.mu.Lock()
	p.last = &r
	p.mu.Unlock()
	return nil
}

// LastReport returns the report of the most recent batch, or nil.
func (p *InlinePublisher) LastReport() *models.BatchReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
