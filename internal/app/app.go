package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/andreyxaxa/Event-Queue/config"
	kafkactrl "github.com/andreyxaxa/Event-Queue/internal/controller/kafka"
	"github.com/andreyxaxa/Event-Queue/internal/controller/restapi"
	"github.com/andreyxaxa/Event-Queue/internal/controller/worker/pool"
	"github.com/andreyxaxa/Event-Queue/internal/controller/worker/reporter"
	infrakafka "github.com/andreyxaxa/Event-Queue/internal/infrastructure/kafka"
	"github.com/andreyxaxa/Event-Queue/internal/infrastructure/metrics"
	"github.com/andreyxaxa/Event-Queue/internal/usecase/queue"
	"github.com/andreyxaxa/Event-Queue/pkg/httpserver"
	"github.com/andreyxaxa/Event-Queue/pkg/kafka/consumer"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
)

func Run(cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logger
	l := logger.New(cfg.Log.Level)

	// Repository
	eventRepo, closeStore, err := newEventRepo(ctx, cfg, l)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - newEventRepo: %w", err))
	}
	defer closeStore()

	// Use-Case
	queueUseCase := queue.New(eventRepo, l,
		queue.Lease(cfg.Queue.Lease),
		queue.RetryPolicy(retryPolicy(cfg)),
	)

	// Metrics
	var (
		m             *metrics.Metrics
		metricsHandle http.Handler
		gauges        reporter.GaugeSink
		poolOpts      = []pool.Option{
			pool.Size(cfg.Pool.Size),
			pool.PollInterval(cfg.Pool.PollInterval),
			pool.IdleWarnAfter(cfg.Pool.IdleWarnAfter),
			pool.StopTimeout(cfg.Pool.StopTimeout),
		}
	)
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsHandle = m.Handler()
		gauges = m
		poolOpts = append(poolOpts, pool.WithObserver(m))
	}
	if cfg.Pool.InstanceID != "" {
		poolOpts = append(poolOpts, pool.InstanceID(cfg.Pool.InstanceID))
	}

	// Dispatcher
	dispatcher, closeHandlers, err := newDispatcher(ctx, cfg, l)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - newDispatcher: %w", err))
	}
	defer closeHandlers()

	// Worker Pool
	workerPool := pool.New(queueUseCase, dispatcher.Process, l, poolOpts...)

	// Stats Reporter
	statsReporter := reporter.New(
		queueUseCase,
		workerPool,
		gauges,
		l,
		cfg.Reporter.StatsInterval,
		cfg.Reporter.GaugeInterval,
		cfg.Reporter.StatsTimeout,
	)

	// Kafka as Controller
	var ingestController *kafkactrl.IngestController
	if cfg.KafkaIngest.Enabled {
		kafkaConsumer, err := consumer.New(ctx, cfg.Kafka.Brokers, cfg.KafkaIngest.GroupID, cfg.KafkaIngest.Topic,
			consumer.ConnAttempts(cfg.Kafka.ConnAttempts),
			consumer.ConnTimeout(cfg.Kafka.ConnTimeout),
			consumer.MaxWait(cfg.KafkaIngest.MaxWait),
			consumer.MaxBytes(cfg.KafkaIngest.MaxBytes),
		)
		if err != nil {
			l.Fatal(fmt.Errorf("app - Run - consumer.New: %w", err))
		}

		ingestController = kafkactrl.New(
			queueUseCase,
			infrakafka.NewEventConsumer(kafkaConsumer),
			l,
			cfg.KafkaIngest.DefaultType,
			cfg.KafkaIngest.InsertTimeout,
			cfg.KafkaIngest.CommitTimeout,
			cfg.KafkaIngest.RetryBackoff,
		)
	}

	// HTTP Server
	httpServer := httpserver.New(l,
		httpserver.Port(cfg.HTTP.Port),
		httpserver.Prefork(cfg.HTTP.UsePreforkMode),
		httpserver.ReadTimeout(cfg.HTTP.ReadTimeout),
		httpserver.WriteTimeout(cfg.HTTP.WriteTimeout),
		httpserver.ShutdownTimeout(cfg.HTTP.ShutdownTimeout),
		httpserver.BodyLimit(cfg.HTTP.BodyLimit),
	)
	restapi.NewRouter(httpServer.App, cfg, queueUseCase, workerPool, metricsHandle, l)

	// Start Components
	err = workerPool.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - workerPool.Start: %w", err))
	}
	err = statsReporter.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - statsReporter.Start: %w", err))
	}
	if ingestController != nil {
		err = ingestController.Start(ctx)
		if err != nil {
			l.Fatal(fmt.Errorf("app - Run - ingestController.Start: %w", err))
		}
	}
	httpServer.Start()

	l.Info("app - Run - started: store=%s handlers=%v", cfg.Store.Driver, dispatcher.Types())

	// Waiting Signal
	select {
	case <-ctx.Done():
		l.Info("app - Run - signal received")
	case err = <-httpServer.Notify():
		l.Error(fmt.Errorf("app - Run - httpServer.Notify: %w", err))
	}

	// Shutdown
	if ingestController != nil {
		icShutdownCtx, icShutdownCancel := context.WithTimeout(context.Background(), cfg.KafkaIngest.ShutdownTimeout)
		defer icShutdownCancel()
		err = ingestController.Shutdown(icShutdownCtx)
		if err != nil {
			l.Error(fmt.Errorf("app - Run - ingestController.Shutdown: %w", err))
		}
	}

	err = workerPool.Stop(cfg.Pool.StopTimeout)
	if err != nil {
		if errors.Is(err, errs.ErrShutdownTimeout) {
			l.Warn("app - Run - workerPool.Stop: %s", err)
		} else {
			l.Error(fmt.Errorf("app - Run - workerPool.Stop: %w", err))
		}
	}

	rShutdownCtx, rShutdownCancel := context.WithTimeout(context.Background(), cfg.Reporter.ShutdownTimeout)
	defer rShutdownCancel()
	err = statsReporter.Shutdown(rShutdownCtx)
	if err != nil {
		l.Error(fmt.Errorf("app - Run - statsReporter.Shutdown: %w", err))
	}

	err = httpServer.Shutdown()
	if err != nil {
		l.Error(fmt.Errorf("app - Run - httpServer.Shutdown: %w", err))
	}
}
