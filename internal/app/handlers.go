package app

import (
	"context"
	"fmt"

	"github.com/andreyxaxa/Event-Queue/config"
	infrakafka "github.com/andreyxaxa/Event-Queue/internal/infrastructure/kafka"
	"github.com/andreyxaxa/Event-Queue/internal/repo/persistent"
	"github.com/andreyxaxa/Event-Queue/internal/usecase/dispatch"
	"github.com/andreyxaxa/Event-Queue/pkg/kafka/producer"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/s3client"
)

// newDispatcher binds the configured event types to their handlers. The returned func
// releases the clients the handlers hold.
func newDispatcher(ctx context.Context, cfg *config.Config, l logger.Interface) (*dispatch.Dispatcher, func(), error) {
	d := dispatch.New(l)
	closers := make([]func(), 0, 1)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	// noop
	if len(cfg.Dispatch.NoopTypes) > 0 {
		h := dispatch.NewNoopHandler(l)
		for _, t := range cfg.Dispatch.NoopTypes {
			d.Register(t, h)
		}
	}

	// kafka relay
	if len(cfg.Dispatch.RelayTypes) > 0 {
		kafkaProducer, err := producer.New(ctx, cfg.Kafka.Brokers,
			producer.ConnAttempts(cfg.Kafka.ConnAttempts),
			producer.ConnTimeout(cfg.Kafka.ConnTimeout),
			producer.BatchTimeout(cfg.Relay.BatchTimeout),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("producer.New: %w", err)
		}

		eventProducer := infrakafka.NewEventProducer(kafkaProducer, cfg.Relay.Topic)
		closers = append(closers, func() {
			if err := eventProducer.Close(); err != nil {
				l.Error(fmt.Errorf("app - eventProducer.Close: %w", err))
			}
		})

		h := dispatch.NewRelayHandler(eventProducer)
		for _, t := range cfg.Dispatch.RelayTypes {
			d.Register(t, h)
		}
	}

	// s3 archive
	if len(cfg.Dispatch.ArchiveTypes) > 0 {
		s3Ctx, s3Cancel := context.WithTimeout(ctx, cfg.S3.CfgLoadTimeout)
		defer s3Cancel()

		s3c, err := s3client.New(s3Ctx, cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket,
			s3client.Region(cfg.S3.Region),
			s3client.CreateBucket(cfg.S3.CreateBucket),
		)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("s3client.New: %w", err)
		}

		h := dispatch.NewArchiveHandler(persistent.NewArchiveRepo(s3c))
		for _, t := range cfg.Dispatch.ArchiveTypes {
			d.Register(t, h)
		}
	}

	return d, closeAll, nil
}
