//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	domrepo "TradeFusion/internal/domain/repository"
	"TradeFusion/pkg/config"
	"TradeFusion/pkg/metrics"
	"TradeFusion/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideRedisCache,
	ProvideCache,
	ProvideLogger,
	ProvideConfigStore,
	ProvideMetrics,
	wire.Bind(new(domrepo.Metrics), new(*metrics.Recorder)),
	ProvideClickHouseClient,
	ProvidePostgresPool,
	ProvideKafkaProducer,
	ProvideKafkaConsumer,
)

var storeSet = wire.NewSet(
	ProvideMemoryLog,
	ProvideSignalLog,
	ProvideAuditLog,
	ProvideOutcomeLog,
	ProvideFeatureStore,
	ProvideTradeLog,
	ProvidePositionStore,
	ProvideJournal,
	ProvideFillCache,
	ProvideBreakerStore,
	ProvideMarketContext,
)

var engineSet = wire.NewSet(
	ProvideIndicatorSource,
	ProvideForecaster,
	ProvideSentimentSource,
	ProvideRESTClient,
	ProvideQuoteBook,
	ProvideExchange,
	ProvideNotifyJobs,
	ProvideNotifySink,
	ProvideNotifyWorker,
	ProvideNotifier,
	ProvideGuardDeps,
	ProvideGuard,
	ProvideBreaker,
	ProvideInstructionPublisher,
	ProvideDispatchHandler,
	ProvideTickStream,
	ProvideTickRecorder,
	ProvideQuoteCollector,
	ProvideAnalysisCycle,
	ProvideRiskCheck,
	ProvideResultChecker,
	ProvideScheduler,
	ProvideQueries,
	ProvideEngineHandler,
)

// InitializeApp wires up all dependencies and returns the application with its cleanup.
func InitializeApp(cfg *config.Config, path ConfigPath) (*server.App, func(), error) {
	wire.Build(infraSet, storeSet, engineSet, ProvideApp)
	return nil, nil, nil
}
