package logger

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	defaultCollectInterval = 30 * time.Second
	defaultCollectMax      = 100
	publishTimeout         = 30 * time.Second
)

// Publisher ships a batch of aggregated entries, e.g. onto the notify queue.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush period
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry is one distinct error with its occurrence count.
// Fields are those of the first occurrence.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated errors (same level, message and call site) into
// counted entries and publishes them in batches.
type LogCollector struct {
	cfg     CollectionConfig
	log     *Logger
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	stop    chan struct{}
	done    chan struct{}
	sending sync.WaitGroup
	once    sync.Once
}

// NewLogCollector starts the flush loop. Publish failures are reported on
// l at warn level so they never feed back into the collector.
func NewLogCollector(cfg *CollectionConfig, l *Logger) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		log:     l,
		now:     time.Now,
		entries: make(map[string]*AggregatedLogEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = defaultCollectInterval
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = defaultCollectMax
	}
	if c.log == nil {
		c.log = Nop()
	}
	go c.loop()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := c.now()
	key := level + "\x00" + caller + "\x00" + message

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	var batch []AggregatedLogEntry
	if len(c.entries) >= c.cfg.CountThreshold {
		batch = c.drainLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		c.sending.Add(1)
		go func() {
			defer c.sending.Done()
			c.publish(batch)
		}()
	}
}

func (c *LogCollector) loop() {
	defer close(c.done)
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Flush()
		case <-c.stop:
			c.Flush()
			return
		}
	}
}

// Flush publishes what has been collected so far and waits for it.
func (c *LogCollector) Flush() {
	c.mu.Lock()
	batch := c.drainLocked()
	c.mu.Unlock()
	if batch != nil {
		c.publish(batch)
	}
}

// drainLocked empties the map, oldest entry first.
func (c *LogCollector) drainLocked() []AggregatedLogEntry {
	if len(c.entries) == 0 {
		return nil
	}
	batch := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		batch = append(batch, *e)
	}
	c.entries = make(map[string]*AggregatedLogEntry)
	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	return batch
}

func (c *LogCollector) publish(batch []AggregatedLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		c.log.Warn("error digest publish failed",
			String("topic", c.cfg.Topic),
			Int("entries", len(batch)),
			Error(err))
	}
}

// Close stops the loop, flushes the remainder and waits for in-flight batches.
func (c *LogCollector) Close() {
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		c.sending.Wait()
	})
}
