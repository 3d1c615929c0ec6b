package notify

import (
	"context"
	"sync"
	"time"

	"TradeFusion/internal/domain/service"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/queue"
)

// TypeNotification is the queue message type of a notification.
const TypeNotification = "notification"

// Notification is the queued payload.
type Notification struct {
	Severity service.Severity `json:"severity"`
	Message  string           `json:"message"`
	At       time.Time        `json:"at"`
}

// QueueNotifier hands notifications to a background goroutine that enqueues them.
// Notify never blocks: when the buffer is full the message is logged and dropped.
type QueueNotifier struct {
	sink   queue.QueueService
	log    *logger.Logger
	ch     chan Notification
	wg     sync.WaitGroup
	once   sync.Once
	cancel context.CancelFunc
	now    func() time.Time
}

var _ service.Notifier = (*QueueNotifier)(nil)

func NewQueueNotifier(sink queue.QueueService, buffer int, log *logger.Logger) *QueueNotifier {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logger.Nop()
	}
	return &QueueNotifier{
		sink: sink,
		log:  log.Component("notify"),
		ch:   make(chan Notification, buffer),
		now:  time.Now,
	}
}

// Start launches the forwarding goroutine.
func (n *QueueNotifier) Start(ctx context.Context) {
	n.once.Do(func() {
		ctx, n.cancel = context.WithCancel(ctx)
		n.wg.Add(1)
		go n.run(ctx)
	})
}

func (n *QueueNotifier) run(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			n.drain()
			return
		case msg := <-n.ch:
			n.forward(ctx, msg)
		}
	}
}

// drain forwards what is still buffered with a short deadline.
func (n *QueueNotifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-n.ch:
			n.forward(ctx, msg)
		default:
			return
		}
	}
}

func (n *QueueNotifier) forward(ctx context.Context, msg Notification) {
	if err := n.sink.PublishMessage(ctx, TypeNotification, msg); err != nil {
		n.log.Warn("notification not queued",
			logger.String("severity", string(msg.Severity)),
			logger.String("message", msg.Message),
			logger.Error(err))
	}
}

// Notify implements service.Notifier.
func (n *QueueNotifier) Notify(_ context.Context, severity service.Severity, message string) {
	msg := Notification{Severity: severity, Message: message, At: n.now().UTC()}
	select {
	case n.ch <- msg:
	default:
		n.log.Warn("notification buffer full, dropped",
			logger.String("severity", string(severity)),
			logger.String("message", message))
	}
}

// Stop flushes buffered notifications and waits for the forwarder.
func (n *QueueNotifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

// LogNotifier writes notifications to the log only.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.Component("notify")}
}

func (l *LogNotifier) Notify(_ context.Context, severity service.Severity, message string) {
	f := []logger.Field{logger.String("severity", string(severity)), logger.String("message", message)}
	switch severity {
	case service.SeverityCritical:
		l.log.Error("notification", f...)
	case service.SeverityWarning:
		l.log.Warn("notification", f...)
	default:
		l.log.Info("notification", f...)
	}
}

// InlineSink runs jobs synchronously, for deployments without Redis.
type InlineSink struct {
	jobs *queue.Registry
}

func NewInlineSink(jobs ...queue.Job) *InlineSink {
	return &InlineSink{jobs: queue.NewRegistry(jobs...)}
}

func (s *InlineSink) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return s.jobs.Dispatch(ctx, msgType, payload)
}
