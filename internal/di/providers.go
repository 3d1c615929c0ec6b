package di

import (
	"context"
	"fmt"
	"time"

	domrepo "TradeFusion/internal/domain/repository"
	domsvc "TradeFusion/internal/domain/service"
	"TradeFusion/internal/handler/api"
	mid "TradeFusion/internal/middleware"
	store "TradeFusion/internal/repository"
	"TradeFusion/internal/service/exchange"
	svcmetrics "TradeFusion/internal/service/metrics"
	"TradeFusion/internal/service/notify"
	"TradeFusion/internal/service/ratelimit"
	"TradeFusion/internal/service/ticker"
	"TradeFusion/internal/services/analytics"
	"TradeFusion/internal/services/dispatch"
	"TradeFusion/internal/usecase"
	"TradeFusion/pkg/cache"
	pkgch "TradeFusion/pkg/clickhouse"
	"TradeFusion/pkg/config"
	pkgkafka "TradeFusion/pkg/kafka"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/metrics"
	"TradeFusion/pkg/postgres"
	"TradeFusion/pkg/queue"
	"TradeFusion/pkg/server"
)

// ConfigPath is the file the config watcher follows. Empty disables hot reload.
type ConfigPath string

const (
	connectTimeout = 10 * time.Second
	errorDigestMax = 100
	// notification backlog above which health degrades
	notifyBacklogMax = 1000
)

// ProvideLogger builds the root logger. With collect_errors on, error logs are aggregated
// and shipped to the notification queue (Redis) or straight to the webhook.
func ProvideLogger(cfg *config.Config, rc *cache.RedisCache) (*logger.Logger, func(), error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if !cfg.Logging.CollectErrors {
		return l, func() {}, nil
	}

	var pub logger.Publisher
	var q *queue.RedisQueue
	if rc != nil {
		q = queue.NewRedisPublisher(l.Detached(), rc.Client(), queue.WithKeyPrefix(cfg.Redis.KeyPrefix+":queue"))
		pub = q
	} else {
		webhook := notify.NewWebhookJob(cfg.Notify.WebhookURL, nil, l.Detached())
		pub = notify.NewInlineSink(notify.NewErrorDigestJob(cfg.Logging.CollectTopic, webhook))
	}
	l.AddCollector(&logger.CollectionConfig{
		TimeInterval:   cfg.Logging.CollectInterval,
		CountThreshold: errorDigestMax,
		Topic:          cfg.Logging.CollectTopic,
		Publisher:      pub,
	})
	return l, func() {
		l.RemoveCollector()
		if q != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = q.Stop(ctx)
		}
	}, nil
}

func ProvideConfigStore(cfg *config.Config) *config.Store {
	return config.NewStore(cfg)
}

// ProvideMetrics registers the Prometheus recorder and the upstream collectors.
func ProvideMetrics() *metrics.Recorder {
	svcmetrics.Register()
	return metrics.New()
}

// ProvideRedisCache connects to Redis when enabled, nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCache falls back to an in-process cache without Redis. Locks then only hold
// within this process.
func ProvideCache(rc *cache.RedisCache) (cache.Service, func()) {
	if rc != nil {
		return rc, func() {}
	}
	mc := cache.NewMemoryCache()
	return mc, func() { _ = mc.Close() }
}

// ProvideClickHouseClient connects and creates the candle, signal and audit tables.
func ProvideClickHouseClient(cfg *config.Config, l *logger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	stmts := append(append([]string{}, store.CandleSchema...), store.SignalLogSchema...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", logger.String("database", cfg.ClickHouse.Database))
	return client, func() { _ = client.Close() }, nil
}

// ProvidePostgresPool connects and migrates the trade log when enabled.
func ProvidePostgresPool(cfg *config.Config) (*postgres.Pool, func(), error) {
	if !cfg.Postgres.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Migrate(ctx, store.TradeLogSchema); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

// ProvideKafkaProducer is only built for the kafka transport.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if cfg.Transport != "kafka" {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideKafkaConsumer feeds the dispatch handler when instructions travel over Kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Transport != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerBatch(cfg.Kafka.Consumer.BatchSize, cfg.Kafka.Consumer.BatchLinger),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideMemoryLog backs whichever logs have no database configured.
func ProvideMemoryLog() *store.MemoryLog {
	return store.NewMemoryLog()
}

func ProvideSignalLog(ch *pkgch.Client, mem *store.MemoryLog) domrepo.SignalLog {
	if ch == nil {
		return mem
	}
	return store.NewClickHouseSignalLog(ch.DB(), ch.Database())
}

func ProvideAuditLog(ch *pkgch.Client, mem *store.MemoryLog) domrepo.AuditLog {
	if ch == nil {
		return mem
	}
	return store.NewClickHouseSignalLog(ch.DB(), ch.Database())
}

func ProvideOutcomeLog(ch *pkgch.Client, mem *store.MemoryLog) domrepo.OutcomeLog {
	if ch == nil {
		return mem
	}
	return store.NewClickHouseSignalLog(ch.DB(), ch.Database())
}

// ProvideFeatureStore is nil without ClickHouse; forecasts then run without history.
func ProvideFeatureStore(ch *pkgch.Client) domrepo.FeatureStore {
	if ch == nil {
		return nil
	}
	return store.NewCHFeatureStore(ch.DB(), ch.Database())
}

func ProvideTradeLog(pg *postgres.Pool, mem *store.MemoryLog) domrepo.TradeLog {
	if pg == nil {
		return mem
	}
	return store.NewPostgresTradeLog(pg)
}

func ProvidePositionStore(cfg *config.Config, rc *cache.RedisCache) domrepo.PositionStore {
	if rc == nil {
		return store.NewMemoryPositionStore()
	}
	return store.NewRedisPositionStore(rc.Client(), cfg.Redis.KeyPrefix)
}

func ProvideJournal(cfg *config.Config, c cache.Service) domrepo.DispatchJournal {
	return store.NewCacheJournal(c, cfg.Strategy.Dispatch.JournalTTL)
}

func ProvideFillCache(cfg *config.Config, c cache.Service) domrepo.FillCache {
	return store.NewCacheFillStore(c, cfg.Strategy.Dispatch.JournalTTL)
}

func ProvideBreakerStore(c cache.Service) domrepo.BreakerStore {
	return store.NewCacheBreakerStore(c)
}

func ProvideMarketContext(c cache.Service) *store.CacheMarketContext {
	return store.NewCacheMarketContext(c)
}

// Analytics sources are optional. An unset URL leaves the component missing.

func ProvideIndicatorSource(cfg *config.Config) domsvc.IndicatorSource {
	if cfg.Analytics.IndicatorURL == "" {
		return nil
	}
	return analytics.NewHTTPIndicatorSource(cfg)
}

func ProvideForecaster(cfg *config.Config) domsvc.Forecaster {
	if cfg.Analytics.ForecastURL == "" {
		return nil
	}
	return analytics.NewHTTPForecaster(cfg)
}

func ProvideSentimentSource(cfg *config.Config) domsvc.SentimentSource {
	if cfg.Analytics.SentimentURL == "" {
		return nil
	}
	return analytics.NewHTTPSentimentSource(cfg)
}

// ProvideRESTClient is the exchange REST API, nil when no base URL is configured.
// In paper mode it still serves public quotes to the quote book.
func ProvideRESTClient(cfg *config.Config) *exchange.Client {
	if cfg.Exchange.BaseURL == "" {
		return nil
	}
	return exchange.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.SecretKey,
		cfg.Exchange.QuoteAsset, cfg.Exchange.Timeout)
}

// ProvideQuoteBook prefers streamed ticks and falls back to REST quotes when they go stale.
func ProvideQuoteBook(cfg *config.Config, rest *exchange.Client, m domrepo.Metrics) *usecase.QuoteBook {
	opts := []usecase.QuoteBookOption{usecase.WithSyntheticSpread(cfg.Exchange.PaperSpread)}
	if rest != nil {
		opts = append(opts, usecase.WithQuoteFallback(rest))
	}
	return usecase.NewQuoteBook(cfg.Strategy.Risk.QuoteMaxAge, m, opts...)
}

// ProvideExchange guards the paper or live exchange with a breaker, a rate limiter and read retries.
func ProvideExchange(cfg *config.Config, rest *exchange.Client, book *usecase.QuoteBook, l *logger.Logger) domsvc.Exchange {
	var inner domsvc.Exchange
	if cfg.Exchange.Mode == "live" {
		inner = rest
	} else {
		inner = exchange.NewPaper(book, cfg.Exchange.PaperCash)
	}
	return exchange.NewGuarded(inner, ratelimit.New(cfg.Exchange.RPS, cfg.Exchange.Burst),
		exchange.WithGuardLogger(l.Component("exchange")))
}

func ProvideNotifyJobs(cfg *config.Config, queries *usecase.Queries, l *logger.Logger) []queue.Job {
	webhook := notify.NewWebhookJob(cfg.Notify.WebhookURL, nil, l)
	return []queue.Job{
		webhook,
		notify.NewErrorDigestJob(cfg.Logging.CollectTopic, webhook),
		notify.NewDailyReportJob(queries, webhook),
	}
}

// ProvideNotifySink queues notifications in Redis, or runs the jobs inline without it.
func ProvideNotifySink(cfg *config.Config, rc *cache.RedisCache, jobs []queue.Job, l *logger.Logger) (queue.QueueService, func()) {
	if rc == nil {
		return notify.NewInlineSink(jobs...), func() {}
	}
	q := queue.NewRedisPublisher(l, rc.Client(), queue.WithKeyPrefix(cfg.Redis.KeyPrefix+":queue"))
	return q, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	}
}

// ProvideNotifyWorker consumes queued notifications. Nil without Redis.
func ProvideNotifyWorker(cfg *config.Config, rc *cache.RedisCache, jobs []queue.Job, l *logger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	return queue.NewRedisConsumer(l, &queue.QueueConfig{
		Workers:    cfg.Notify.Workers,
		RetryLimit: cfg.Notify.RetryLimit,
		RetryDelay: cfg.Notify.RetryDelay,
	}, rc.Client(), jobs, queue.WithKeyPrefix(cfg.Redis.KeyPrefix+":queue"))
}

func ProvideNotifier(cfg *config.Config, sink queue.QueueService, l *logger.Logger) *notify.QueueNotifier {
	return notify.NewQueueNotifier(sink, cfg.Notify.QueueSize, l)
}

// ProvideGuardDeps collects the dispatch guard's collaborators.
func ProvideGuardDeps(
	ex domsvc.Exchange,
	positions domrepo.PositionStore,
	trades domrepo.TradeLog,
	journal domrepo.DispatchJournal,
	fills domrepo.FillCache,
	audit domrepo.AuditLog,
	breaker domrepo.BreakerStore,
	notifier *notify.QueueNotifier,
	m domrepo.Metrics,
	cs *config.Store,
	l *logger.Logger,
) dispatch.Deps {
	return dispatch.Deps{
		Exchange:  ex,
		Positions: positions,
		Trades:    trades,
		Journal:   journal,
		Fills:     fills,
		Audit:     audit,
		Breaker:   breaker,
		Notifier:  notifier,
		Metrics:   m,
		Config:    cs,
		Logger:    l,
	}
}

func ProvideGuard(d dispatch.Deps) *dispatch.Guard {
	return dispatch.NewGuard(d)
}

func ProvideBreaker(bs domrepo.BreakerStore) *dispatch.Breaker {
	return dispatch.NewBreaker(bs, time.Now)
}

// ProvideInstructionPublisher sends instructions over Kafka, or straight to the guard inline.
func ProvideInstructionPublisher(cfg *config.Config, producer *pkgkafka.Producer, guard *dispatch.Guard) domrepo.InstructionPublisher {
	if cfg.Transport == "kafka" {
		return store.NewKafkaInstructionPublisher(producer, cfg.Kafka.InstructionTopic)
	}
	return usecase.NewInlinePublisher(guard)
}

func ProvideDispatchHandler(cfg *config.Config, guard *dispatch.Guard, m domrepo.Metrics, l *logger.Logger) *usecase.DispatchHandler {
	return usecase.NewDispatchHandler(cfg.Kafka.InstructionTopic, guard, m, l)
}

// ProvideTickStream is the live trade feed, nil when the ticker is disabled.
func ProvideTickStream(cfg *config.Config, l *logger.Logger) *ticker.Client {
	if !cfg.Ticker.Enabled {
		return nil
	}
	return ticker.New(cfg.Ticker.APIKey, cfg.Ticker.WebSocketURL, cfg.Ticker.Symbols,
		cfg.Ticker.ReconnectDelay, cfg.Ticker.PingInterval, l)
}

// ProvideTickRecorder persists ticks for the candle view. Nil without ClickHouse.
func ProvideTickRecorder(cfg *config.Config, ch *pkgch.Client, m domrepo.Metrics, l *logger.Logger) *usecase.TickRecorder {
	if ch == nil {
		return nil
	}
	sink := store.NewCHTickStore(ch.DB(), ch.Database(), "ticker")
	return usecase.NewTickRecorder(sink, cfg.Ticker.RecordBatch, cfg.Ticker.RecordInterval, m, l)
}

// ProvideQuoteCollector pipes the tick stream into the quote book and the tick recorder.
func ProvideQuoteCollector(cfg *config.Config, stream *ticker.Client, book *usecase.QuoteBook, rec *usecase.TickRecorder, m domrepo.Metrics, l *logger.Logger) *usecase.QuoteCollector {
	if stream == nil {
		return nil
	}
	procs := usecase.Fanout{book}
	if rec != nil {
		procs = append(procs, rec)
	}
	pipe := mid.NewRealtimePipeline(procs, m,
		mid.WithMaxRPS(cfg.Ticker.ThrottleRPS),
		mid.WithBufferSize(2000),
	)
	return usecase.NewQuoteCollector(stream, pipe, m, l)
}

func ProvideAnalysisCycle(
	indicators domsvc.IndicatorSource,
	forecaster domsvc.Forecaster,
	sentiment domsvc.SentimentSource,
	mc *store.CacheMarketContext,
	book *usecase.QuoteBook,
	candles domrepo.FeatureStore,
	positions domrepo.PositionStore,
	trades domrepo.TradeLog,
	signals domrepo.SignalLog,
	audit domrepo.AuditLog,
	ex domsvc.Exchange,
	pub domrepo.InstructionPublisher,
	m domrepo.Metrics,
	cs *config.Store,
	l *logger.Logger,
) *usecase.AnalysisCycle {
	return usecase.NewAnalysisCycle(usecase.AnalysisDeps{
		Indicators: indicators,
		Forecaster: forecaster,
		Sentiment:  sentiment,
		Context:    mc,
		Quotes:     book,
		Candles:    candles,
		Positions:  positions,
		Trades:     trades,
		Signals:    signals,
		Audit:      audit,
		Exchange:   ex,
		Publisher:  pub,
		Metrics:    m,
		Config:     cs,
		Logger:     l,
	})
}

func ProvideRiskCheck(
	positions domrepo.PositionStore,
	book *usecase.QuoteBook,
	audit domrepo.AuditLog,
	pub domrepo.InstructionPublisher,
	m domrepo.Metrics,
	cs *config.Store,
	l *logger.Logger,
) *usecase.RiskCheck {
	return usecase.NewRiskCheck(usecase.RiskDeps{
		Positions: positions,
		Quotes:    book,
		Audit:     audit,
		Publisher: pub,
		Metrics:   m,
		Config:    cs,
		Logger:    l,
	})
}

// ProvideResultChecker grades signals against stored candles. Nil without ClickHouse.
func ProvideResultChecker(
	signals domrepo.SignalLog,
	outcomes domrepo.OutcomeLog,
	features domrepo.FeatureStore,
	cs *config.Store,
	l *logger.Logger,
) *usecase.ResultChecker {
	if features == nil {
		return nil
	}
	return usecase.NewResultChecker(usecase.OutcomeDeps{
		Signals:  signals,
		Outcomes: outcomes,
		Candles:  features,
		Config:   cs,
		Logger:   l,
	})
}

func ProvideScheduler(
	cs *config.Store,
	analysis *usecase.AnalysisCycle,
	risk *usecase.RiskCheck,
	guard *dispatch.Guard,
	checker *usecase.ResultChecker,
	sink queue.QueueService,
	locks cache.Service,
	l *logger.Logger,
) *usecase.Scheduler {
	opts := []usecase.SchedulerOption{usecase.WithReconciler(guard), usecase.WithDailyReport(sink)}
	if checker != nil {
		opts = append(opts, usecase.WithResultChecker(checker))
	}
	return usecase.NewScheduler(cs, analysis, risk, locks, l, opts...)
}

func ProvideQueries(
	signals domrepo.SignalLog,
	audit domrepo.AuditLog,
	positions domrepo.PositionStore,
	book *usecase.QuoteBook,
	breaker *dispatch.Breaker,
	trades domrepo.TradeLog,
	outcomes domrepo.OutcomeLog,
	mc *store.CacheMarketContext,
	cs *config.Store,
) *usecase.Queries {
	return usecase.NewQueries(signals, audit, positions, book, breaker, cs,
		usecase.WithTradeLog(trades),
		usecase.WithOutcomeLog(outcomes),
		usecase.WithMarketContext(mc))
}

// ProvideEngineHandler registers the API and one health check per configured dependency.
func ProvideEngineHandler(
	cfg *config.Config,
	analysis *usecase.AnalysisCycle,
	risk *usecase.RiskCheck,
	queries *usecase.Queries,
	locks cache.Service,
	mc *store.CacheMarketContext,
	rc *cache.RedisCache,
	ch *pkgch.Client,
	pg *postgres.Pool,
	collector *usecase.QuoteCollector,
	worker *queue.RedisQueue,
	l *logger.Logger,
) *api.EngineHandler {
	h := api.NewEngineHandler(l, analysis, risk, queries,
		api.WithLocker(locks),
		api.WithTriggerLimit(1, 3),
		api.WithContextWriter(mc, 2*cfg.Strategy.Thresholds.ContextMaxAge),
	)
	if rc != nil {
		h.AddHealthCheck("redis", func(ctx context.Context) error { return rc.Client().Ping(ctx).Err() })
	}
	if ch != nil {
		h.AddHealthCheck("clickhouse", ch.Health)
	}
	if pg != nil {
		h.AddHealthCheck("postgres", pg.Health)
	}
	if collector != nil {
		h.AddHealthCheck("ticker", func(context.Context) error {
			if !collector.IsConnected() {
				return fmt.Errorf("tick stream disconnected")
			}
			return nil
		})
	}
	if worker != nil {
		h.AddHealthCheck("notify_queue", func(ctx context.Context) error {
			pending, _, dead, err := worker.Depth(ctx)
			if err != nil {
				return err
			}
			if pending > notifyBacklogMax {
				return fmt.Errorf("%d notifications pending, %d dead-lettered", pending, dead)
			}
			return nil
		})
	}
	return h
}

func ProvideApp(
	cfg *config.Config,
	path ConfigPath,
	cs *config.Store,
	l *logger.Logger,
	handler *api.EngineHandler,
	collector *usecase.QuoteCollector,
	recorder *usecase.TickRecorder,
	scheduler *usecase.Scheduler,
	analysis *usecase.AnalysisCycle,
	risk *usecase.RiskCheck,
	consumer *pkgkafka.Consumer,
	dh *usecase.DispatchHandler,
	notifier *notify.QueueNotifier,
	worker *queue.RedisQueue,
) *server.App {
	d := server.Deps{
		Config:     cs,
		ConfigPath: string(path),
		Logger:     l,
		Handler:    handler,
		Scheduler:  scheduler,
		Analysis:   analysis,
		Risk:       risk,
		Notifier:   notifier,
	}
	// typed nils must not leak into the interface fields
	if collector != nil {
		d.Collector = collector
	}
	if recorder != nil {
		d.Recorder = recorder
	}
	if consumer != nil {
		d.Consumer = consumer
		d.Dispatch = dh
	}
	if worker != nil {
		d.Worker = worker
	}
	return server.New(cfg, d)
}
