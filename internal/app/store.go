package app

import (
	"context"
	"fmt"

	"github.com/andreyxaxa/Event-Queue/config"
	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/internal/repo"
	"github.com/andreyxaxa/Event-Queue/internal/repo/persistent"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/andreyxaxa/Event-Queue/pkg/migrator"
	"github.com/andreyxaxa/Event-Queue/pkg/postgres"
	"github.com/andreyxaxa/Event-Queue/pkg/redis"
	"github.com/andreyxaxa/Event-Queue/pkg/sqlite"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
)

// newEventRepo opens the configured store. The returned func closes it.
func newEventRepo(ctx context.Context, cfg *config.Config, l logger.Interface) (repo.EventRepo, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if cfg.Store.AutoMigrate {
			if err := migrator.UpPostgres(cfg.PG.URL); err != nil {
				return nil, nil, fmt.Errorf("migrator.UpPostgres: %w", err)
			}
		}

		pg, err := postgres.New(cfg.PG.URL, postgres.MaxPoolSize(cfg.PG.PoolMax))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres.New: %w", err)
		}

		return persistent.NewEventPostgresRepo(pg), pg.Close, nil

	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLite.Path,
			sqlite.BusyTimeout(cfg.SQLite.BusyTimeout),
			sqlite.MaxOpenConns(cfg.SQLite.MaxOpenConns),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite.New: %w", err)
		}

		if cfg.Store.AutoMigrate {
			if err = migrator.UpSQLite(s.DB); err != nil {
				_ = s.Close()
				return nil, nil, fmt.Errorf("migrator.UpSQLite: %w", err)
			}
		}

		closeFn := func() {
			if err := s.Close(); err != nil {
				l.Error(fmt.Errorf("app - sqlite.Close: %w", err))
			}
		}

		return persistent.NewEventSQLiteRepo(s, persistent.WithClaimAttempts(cfg.Queue.ClaimAttempts)), closeFn, nil

	case config.DriverRedis:
		r, err := redis.New(ctx, cfg.Redis.Addr,
			redis.Password(cfg.Redis.Password),
			redis.DB(cfg.Redis.DB),
			redis.PoolSize(cfg.Redis.PoolSize),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis.New: %w", err)
		}

		closeFn := func() {
			if err := r.Close(); err != nil {
				l.Error(fmt.Errorf("app - redis.Close: %w", err))
			}
		}

		return persistent.NewEventRedisRepo(r,
			persistent.WithClaimAttempts(cfg.Queue.ClaimAttempts),
			persistent.WithKeyPrefix(cfg.Redis.KeyPrefix),
		), closeFn, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", errs.ErrUnsupportedDriver, cfg.Store.Driver)
	}
}

func retryPolicy(cfg *config.Config) entity.RetryPolicy {
	return entity.RetryPolicy{
		MaxRetries:  cfg.Queue.MaxRetries,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffCap:  cfg.Queue.BackoffCap,
	}
}
