//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SignalForge/pkg/config"
	"SignalForge/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvidePostgresClient,
	ProvideRedisCache,
	ProvideRedisClient,
	ProvideCacheService,
	ProvideKafkaProducer,
)

var storeSet = wire.NewSet(
	ProvideBarStore,
	ProvideSignalStore,
	ProvideEngineStore,
	ProvideRunLogStore,
	ProvideBlockStore,
)

var pipelineSet = wire.NewSet(
	ProvideBarProvider,
	ProvideHub,
	ProvideEventPipeline,
	ProvideEnricher,
	ProvideHandoff,
	ProvideGate,
	ProvideLifecycleManager,
	ProvideIngestUseCase,
	ProvideGenerateUseCase,
	ProvideExecuteUseCase,
	ProvidePipeline,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		storeSet,
		pipelineSet,

		// Surfaces
		ProvideFillsUseCase,
		ProvideQueryUseCase,
		ProvideKafkaConsumer,
		ProvideKafkaFillsHandler,
		ProvideJobQueue,
		ProvideScheduler,
		ProvideResponseCache,
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeJobRunner wires the pipeline alone for one-shot CLI runs.
func InitializeJobRunner(cfg *config.Config) (*JobRunner, func(), error) {
	wire.Build(
		infraSet,
		storeSet,
		pipelineSet,
		ProvideJobRunner,
	)
	return nil, nil, nil
}
