package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"SignalForge/internal/handler/ws"
	mid "SignalForge/internal/middleware"
	"SignalForge/internal/usecase"
	"SignalForge/pkg/config"
	xhttp "SignalForge/pkg/http"
	pkgkafka "SignalForge/pkg/kafka"
	applogger "SignalForge/pkg/logger"
	"SignalForge/pkg/queue"
)

// Components are the long-running parts assembled by DI. Producer, Consumer, Jobs and Scheduler
// are optional.
type Components struct {
	Config       *config.Config
	Logger       *applogger.Logger
	HTTP         *xhttp.Server
	Hub          *ws.Hub
	Events       *mid.EventPipeline
	Producer     *pkgkafka.Producer
	Consumer     *pkgkafka.Consumer
	FillsHandler pkgkafka.MessageHandler
	ConsumerHook pkgkafka.ConsumerHook
	Jobs         *queue.RedisQueue
	Scheduler    *usecase.Scheduler
}

// App encapsulates the entire application lifecycle.
type App struct {
	c Components
	l *applogger.Logger
}

// New creates a new App instance with all dependencies.
func New(c Components) *App {
	l := c.Logger
	if l == nil {
		l = applogger.Nop()
	}
	return &App{c: c, l: l}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		_ = a.shutdown(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

func (a *App) start(ctx context.Context) error {
	cfg := a.c.Config

	go a.c.Hub.Run()
	a.c.Events.Start(ctx)

	if cfg.Logging.Collector.Enabled && a.c.Producer != nil {
		a.l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.CountThreshold,
			MinLevel:       cfg.Logging.Collector.MinLevel,
			Topic:          cfg.Kafka.LogTopic,
			Publisher:      a.c.Producer,
		})
		a.l.Info("log collector enabled", applogger.String("topic", cfg.Kafka.LogTopic))
	}

	if a.c.Consumer != nil && a.c.FillsHandler != nil {
		a.c.Consumer.WithConsumerHook(a.c.ConsumerHook)
		a.c.Consumer.RegisterHandler(a.c.FillsHandler)
		if err := a.c.Consumer.Start(); err != nil {
			a.l.Error("kafka consumer start error", applogger.Error(err))
			return err
		}
		a.l.Info("fills consumer started", applogger.String("topic", a.c.FillsHandler.Topic()))
	}

	if a.c.Jobs != nil {
		if err := a.c.Jobs.Start(); err != nil {
			a.l.Error("job queue start error", applogger.Error(err))
			return err
		}
	}

	if a.c.Scheduler != nil {
		a.c.Scheduler.Start(ctx)
		a.l.Info("scheduler started",
			applogger.Duration("ingest", cfg.Jobs.Schedule.Ingest),
			applogger.Duration("generate", cfg.Jobs.Schedule.Generate),
			applogger.Duration("execute", cfg.Jobs.Schedule.Execute),
			applogger.Bool("queued", a.c.Jobs != nil),
		)
	}

	if err := a.c.HTTP.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}
	a.l.Info("signalforge started",
		applogger.String("env", cfg.Environment),
		applogger.Strings("universe", cfg.Universe.Symbols),
		applogger.String("timeframe", cfg.Engine.Timeframe),
	)
	return nil
}

// shutdown stops intake first, then drains workers, then flushes outbound events.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.c.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.c.HTTP.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	if a.c.Scheduler != nil {
		a.c.Scheduler.Stop()
	}
	if a.c.Jobs != nil {
		if err := a.c.Jobs.Stop(shutdownCtx); err != nil {
			a.l.Warn("job queue stop error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(shutdownCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// the collector flushes through the producer, which the event pipeline closes
	a.l.RemoveCollector()
	if err := a.c.Events.Close(); err != nil {
		a.l.Warn("event pipeline close error", applogger.Error(err))
	}

	a.l.Info("shutdown complete")
	return nil
}
