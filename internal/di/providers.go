package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"SignalForge/internal/domain/models"
	domrepo "SignalForge/internal/domain/repository"
	"SignalForge/internal/domain/service"
	"SignalForge/internal/handler/api"
	"SignalForge/internal/handler/ws"
	mid "SignalForge/internal/middleware"
	internalrepo "SignalForge/internal/repository"
	"SignalForge/internal/service/marketdata"
	svcmetrics "SignalForge/internal/service/metrics"
	"SignalForge/internal/services/enrichment"
	"SignalForge/internal/services/entry"
	"SignalForge/internal/services/execution"
	"SignalForge/internal/services/lifecycle"
	"SignalForge/internal/services/momentum"
	"SignalForge/internal/services/structure"
	"SignalForge/internal/usecase"
	pkgcache "SignalForge/pkg/cache"
	pkgch "SignalForge/pkg/clickhouse"
	"SignalForge/pkg/config"
	xhttp "SignalForge/pkg/http"
	pkgkafka "SignalForge/pkg/kafka"
	applogger "SignalForge/pkg/logger"
	"SignalForge/pkg/metrics"
	pkgpg "SignalForge/pkg/postgres"
	"SignalForge/pkg/queue"
	"SignalForge/pkg/server"
)

// ProvideLogger builds the application logger from the logging section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("engine", cfg.Engine.Key)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	svcmetrics.Register()
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client when bars live in ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Storage.Bars != "clickhouse" {
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

	if cfg.Storage.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvidePostgresClient opens the signal database when signals live in Postgres.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, func(), error) {
	if cfg.Storage.Signals != "postgres" {
		return nil, func() {}, nil
	}
	client, err := pkgpg.NewClient(
		pkgpg.WithDSN(cfg.Postgres.DSN),
		pkgpg.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
		pkgpg.WithConnLifetime(cfg.Postgres.ConnMaxLifetime, cfg.Postgres.ConnMaxIdleTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}

	if cfg.Storage.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, internalrepo.PostgresSchema); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
	}
	return client, func() { _ = client.Close() }, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Storage.Blocks == "redis" || cfg.Cache.Backend != "memory" || cfg.Jobs.Schedule.Enabled
}

// ProvideRedisCache connects to Redis. It is nil when no component needs Redis.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, func(), error) {
	if !needsRedis(cfg) {
		return nil, func() {}, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 4*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideRedisClient exposes the raw client shared by the block store, the queue and the response cache.
func ProvideRedisClient(rc *pkgcache.RedisCache) *redis.Client {
	if rc == nil {
		return nil
	}
	return rc.Client()
}

// ProvideCacheService selects the provider cache and scheduler lock backend.
func ProvideCacheService(cfg *config.Config, rc *pkgcache.RedisCache) pkgcache.Service {
	switch {
	case rc == nil || cfg.Cache.Backend == "memory":
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MemoryItems))
	case cfg.Cache.Backend == "redis":
		return rc
	default:
		return pkgcache.NewLayeredCache(rc, pkgcache.WithLayeredMemorySize(cfg.Cache.MemoryItems))
	}
}

// ProvideResponseCache caches read API responses in Redis when available, so replicas share them.
func ProvideResponseCache(cfg *config.Config, client *redis.Client) api.ResponseCache {
	if client == nil || cfg.Cache.Backend == "memory" {
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MemoryItems))
	}
	return pkgcache.NewRedisCacheFromClient(client, cfg.Redis.Prefix+":http")
}

// ProvideKafkaProducer creates the producer shared by signal events and the log collector.
// Its lifetime is owned by the event pipeline, which closes its sinks.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
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
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the fills consumer. It is nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
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

// ProvideBarStore selects the Bar Store Adapter backend.
func ProvideBarStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) domrepo.BarStore {
	if ch == nil {
		return internalrepo.NewMemoryBarStore(nil)
	}
	s := internalrepo.NewCHBarStore(ch)
	s.SetLogger(l)
	return s
}

func ProvideSignalStore(cfg *config.Config, pg *pkgpg.Client, l *applogger.Logger) domrepo.SignalStore {
	if pg == nil {
		return internalrepo.NewMemorySignalStore()
	}
	s := internalrepo.NewPGSignalStore(pg, cfg.Storage.QueryTimeout)
	s.SetLogger(l)
	return s
}

func ProvideEngineStore(cfg *config.Config, pg *pkgpg.Client, l *applogger.Logger) domrepo.EngineStateStore {
	if pg == nil {
		return internalrepo.NewMemoryEngineStore()
	}
	s := internalrepo.NewPGEngineStore(pg, cfg.Storage.QueryTimeout)
	s.SetLogger(l)
	return s
}

func ProvideRunLogStore(cfg *config.Config, pg *pkgpg.Client) domrepo.RunLogStore {
	if pg == nil {
		return internalrepo.NewMemoryRunLogStore(cfg.Jobs.RunLogKeep)
	}
	return internalrepo.NewPGRunLogStore(pg, cfg.Storage.QueryTimeout)
}

func ProvideBlockStore(cfg *config.Config, client *redis.Client) domrepo.BlockStore {
	if client == nil || cfg.Storage.Blocks == "memory" {
		return internalrepo.NewMemoryBlockStore()
	}
	return internalrepo.NewRedisBlockStore(client, cfg.Redis.Prefix+":block")
}

// ProvideBarProvider creates the cached REST market-data provider.
func ProvideBarProvider(cfg *config.Config, c pkgcache.Service, l *applogger.Logger) service.BarProvider {
	return marketdata.NewRESTProvider(marketdata.Config{
		Name:           cfg.Provider.Name,
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		Timeout:        cfg.Provider.Timeout,
		RequestsPerSec: cfg.Provider.RequestsPerSec,
		MaxRetryTime:   cfg.Provider.MaxRetryTime,
		PriceDecimals:  cfg.Provider.PriceDecimals,
		CacheTTL:       cfg.Cache.TTL,
		HotCacheTTL:    cfg.Cache.HotTTL,
	}, c, l)
}

func ProvideHub(l *applogger.Logger) *ws.Hub {
	return ws.NewHub(l)
}

// ProvideEventPipeline fans signal events out to Kafka (when enabled) and the websocket hub.
func ProvideEventPipeline(cfg *config.Config, m domrepo.Metrics, producer *pkgkafka.Producer, hub *ws.Hub) *mid.EventPipeline {
	sinks := []mid.Sink{{Name: "ws", Publisher: hub}}
	if producer != nil {
		sinks = append(sinks, mid.Sink{Name: "kafka", Publisher: internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.SignalTopic)})
	}
	return mid.NewEventPipeline(m, sinks,
		mid.WithBufferSize(cfg.Kafka.EventBuffer),
		mid.WithBackoff(100*time.Millisecond, 5*time.Second),
	)
}

func ProvideEnricher(cfg *config.Config, l *applogger.Logger) service.Enricher {
	if !cfg.Enrichment.Enabled {
		return enrichment.Disabled{}
	}
	return enrichment.New(enrichment.Config{
		APIKey:          cfg.Enrichment.APIKey,
		BaseURL:         cfg.Enrichment.BaseURL,
		Model:           cfg.Enrichment.Model,
		MaxTokens:       cfg.Enrichment.MaxTokens,
		BreakerFailures: cfg.Enrichment.BreakerFailures,
		BreakerTimeout:  cfg.Enrichment.BreakerTimeout,
	}, l)
}

// ProvideHandoff selects the execution collaborator.
func ProvideHandoff(cfg *config.Config, l *applogger.Logger) service.ExecutionHandoff {
	if cfg.Execution.Mode == "http" {
		return execution.NewHTTPHandoff(execution.HTTPConfig{
			BaseURL:         cfg.Execution.BaseURL,
			Token:           cfg.Execution.Token,
			Timeout:         cfg.Execution.Timeout,
			MaxRetryTime:    cfg.Execution.MaxRetryTime,
			BreakerFailures: cfg.Execution.BreakerFailures,
			BreakerTimeout:  cfg.Execution.BreakerTimeout,
		}, l)
	}
	return execution.NewPaperHandoff(nil)
}

func ProvideGate(cfg *config.Config, blocks domrepo.BlockStore) (*lifecycle.Gate, error) {
	return lifecycle.NewGate(lifecycle.GateConfig{
		SessionStart: cfg.Engine.SessionStart,
		Location:     cfg.Location(),
		Freshness:    cfg.Engine.Lifecycle.Freshness,
	}, blocks)
}

func ProvideLifecycleManager(cfg *config.Config, signals domrepo.SignalStore, gate *lifecycle.Gate, enricher service.Enricher, events *mid.EventPipeline, l *applogger.Logger) *lifecycle.Manager {
	lc := cfg.Engine.Lifecycle
	return lifecycle.NewManager(lifecycle.Config{
		ActiveThreshold:   lc.ActiveThreshold,
		SignalTTL:         lc.SignalTTL,
		EnrichmentTimeout: lc.EnrichmentTimeout,
		PriceDecimals:     lc.PriceDecimals,
	}, signals, gate, enricher, events, l)
}

func ProvideIngestUseCase(cfg *config.Config, provider service.BarProvider, bars domrepo.BarStore, m domrepo.Metrics, l *applogger.Logger) *usecase.IngestUseCase {
	return usecase.NewIngestUseCase(usecase.IngestConfig{
		Concurrency:   cfg.Jobs.Concurrency,
		SymbolTimeout: cfg.Jobs.SymbolTimeout,
		Freshness:     cfg.Engine.Lifecycle.Freshness,
		Lookback:      cfg.Provider.Lookback,
	}, provider, bars, m, l)
}

func ProvideGenerateUseCase(cfg *config.Config, bars domrepo.BarStore, manager *lifecycle.Manager, m domrepo.Metrics, l *applogger.Logger) *usecase.GenerateUseCase {
	return usecase.NewGenerateUseCase(usecase.GenerateConfig{
		Timeframe:     domrepo.Timeframe(cfg.Engine.Timeframe),
		HTFTimeframe:  domrepo.Timeframe(cfg.Engine.HTFTimeframe),
		Concurrency:   cfg.Jobs.Concurrency,
		SymbolTimeout: cfg.Jobs.SymbolTimeout,
		History:       cfg.Engine.History,
		Volatility:    cfg.Engine.Volatility,
	},
		bars,
		structure.NewDetector(cfg.Engine.SwingLookback),
		momentum.NewConfirmer(cfg.Engine.Momentum),
		entry.NewEvaluator(entry.Config{RequireMomentum: !cfg.Engine.Entry.MomentumOptional}),
		manager, m, l,
	)
}

func ProvideExecuteUseCase(
	cfg *config.Config,
	signals domrepo.SignalStore,
	bars domrepo.BarStore,
	engines domrepo.EngineStateStore,
	manager *lifecycle.Manager,
	handoff service.ExecutionHandoff,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.ExecuteUseCase {
	return usecase.NewExecuteUseCase(usecase.ExecuteConfig{
		EngineKey:      cfg.Engine.Key,
		EngineVersion:  cfg.Engine.Version,
		Brakes:         cfg.Engine.Brakes,
		BaseSize:       cfg.Engine.BaseSize,
		HandoffTimeout: cfg.Execution.MaxRetryTime + cfg.Execution.Timeout,
	}, signals, bars, engines, manager, handoff, m, l)
}

// ProvidePipeline wires the three stages behind the job-level preflight.
func ProvidePipeline(
	cfg *config.Config,
	ingest *usecase.IngestUseCase,
	generate *usecase.GenerateUseCase,
	execute *usecase.ExecuteUseCase,
	runs domrepo.RunLogStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Pipeline {
	return usecase.NewPipeline(usecase.PipelineConfig{
		BearerToken:   cfg.Jobs.BearerToken,
		EngineKey:     cfg.Engine.Key,
		EngineVersion: cfg.Engine.Version,
		Timeframe:     domrepo.Timeframe(cfg.Engine.Timeframe),
		HTFTimeframe:  domrepo.Timeframe(cfg.Engine.HTFTimeframe),
		Universe:      cfg.Universe.Symbols,
		Concurrency:   cfg.Jobs.Concurrency,
		SymbolTimeout: cfg.Jobs.SymbolTimeout,
		Brakes:        cfg.Engine.Brakes,
		BaseSize:      cfg.Engine.BaseSize,
	}, ingest, generate, execute, runs, m, l)
}

func ProvideFillsUseCase(cfg *config.Config, engines domrepo.EngineStateStore, m domrepo.Metrics, l *applogger.Logger) *usecase.FillsUseCase {
	return usecase.NewFillsUseCase(cfg.Engine.Version, cfg.Engine.Brakes, cfg.Location(), engines, m, l)
}

func ProvideQueryUseCase(bars domrepo.BarStore, signals domrepo.SignalStore, runs domrepo.RunLogStore, blocks domrepo.BlockStore) *usecase.QueryUseCase {
	return usecase.NewQueryUseCase(bars, signals, runs, blocks)
}

func ProvideKafkaFillsHandler(cfg *config.Config, fills *usecase.FillsUseCase, m domrepo.Metrics) *usecase.KafkaFillsHandler {
	return usecase.NewKafkaFillsHandler(cfg.Kafka.FillsTopic, fills, m)
}

// ProvideJobQueue creates the Redis work queue that runs scheduled jobs. Nil without Redis or a schedule.
func ProvideJobQueue(cfg *config.Config, client *redis.Client, p *usecase.Pipeline, l *applogger.Logger) *queue.RedisQueue {
	if client == nil || !cfg.Jobs.Schedule.Enabled {
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Jobs.Schedule.QueueWorkers,
		RetryLimit: 2,
		RetryDelay: 15 * time.Second,
	}, client, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	q.RegisterJob(usecase.NewPipelineJob(p, l))
	return q
}

// ProvideScheduler drives the jobs on their intervals. Nil when scheduling is disabled.
func ProvideScheduler(cfg *config.Config, p *usecase.Pipeline, manager *lifecycle.Manager, q *queue.RedisQueue, lock pkgcache.Service, l *applogger.Logger) *usecase.Scheduler {
	s := cfg.Jobs.Schedule
	if !s.Enabled {
		return nil
	}
	var enq usecase.Enqueuer
	if q != nil {
		enq = q
	}
	expire := func(ctx context.Context) error {
		_, err := manager.ExpireStale(ctx, time.Now())
		return err
	}
	return usecase.NewScheduler(usecase.ScheduleConfig{
		Intervals: map[models.JobName]time.Duration{
			models.JobIngest:   s.Ingest,
			models.JobGenerate: s.Generate,
			models.JobExecute:  s.Execute,
		},
		Expire:  s.Expire,
		LockTTL: s.LockTTL,
	}, p, expire, enq, lock, l)
}

func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	p *usecase.Pipeline,
	queries *usecase.QueryUseCase,
	fills *usecase.FillsUseCase,
	hub *ws.Hub,
	responses api.ResponseCache,
) *api.SignalsEchoHandler {
	return api.NewSignalsEchoHandler(api.Options{
		BearerToken: cfg.Jobs.BearerToken,
		EngineKey:   cfg.Engine.Key,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   int(cfg.Server.RateBurst),
		CacheTTL:    cfg.Server.CacheTTL,
		Cache:       responses,
	}, l, p, queries, fills, hub.Serve)
}

func ProvideHTTPServer(cfg *config.Config, h *api.SignalsEchoHandler, l *applogger.Logger) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(l),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
	)
}

// ProvideApp assembles the runnable application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	hub *ws.Hub,
	events *mid.EventPipeline,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	fillsHandler *usecase.KafkaFillsHandler,
	jobs *queue.RedisQueue,
	scheduler *usecase.Scheduler,
) *server.App {
	return server.New(server.Components{
		Config:       cfg,
		Logger:       l,
		HTTP:         httpServer,
		Hub:          hub,
		Events:       events,
		Producer:     producer,
		Consumer:     consumer,
		FillsHandler: fillsHandler,
		ConsumerHook: fillsHandler.Hook(l),
		Jobs:         jobs,
		Scheduler:    scheduler,
	})
}

// ProvideJobRunner builds only what the jobctl CLI needs.
func ProvideJobRunner(p *usecase.Pipeline, events *mid.EventPipeline) *JobRunner {
	return &JobRunner{Pipeline: p, Events: events}
}

// JobRunner is the CLI entry point. Close flushes pending signal events.
type JobRunner struct {
	Pipeline *usecase.Pipeline
	Events   *mid.EventPipeline
}

func (r *JobRunner) Close() error {
	return r.Events.Close()
}
