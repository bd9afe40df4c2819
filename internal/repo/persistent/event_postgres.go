package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/pkg/postgres"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
	"github.com/jackc/pgx/v5"
)

// Oldest eligible event, rows locked by a concurrent claim are skipped rather than waited on.
// A pending event is eligible once its backoff has elapsed, a processing one once its lease has.
var claimQuery = `
UPDATE ` + eventsTable + `
SET status = 'processing',
    claimed_by = $1,
    visibility_timeout = now() + make_interval(secs => $2)
WHERE id = (
    SELECT id FROM ` + eventsTable + `
    WHERE (
            (status = 'pending' AND (visibility_timeout IS NULL OR visibility_timeout <= now()))
         OR (status = 'processing' AND visibility_timeout <= now())
          )
      AND retry_count < $3
    ORDER BY created_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + strings.Join(eventColumns, ", ")

type EventPostgresRepo struct {
	*postgres.Postgres
}

func NewEventPostgresRepo(pg *postgres.Postgres) *EventPostgresRepo {
	return &EventPostgresRepo{pg}
}

func (r *EventPostgresRepo) Insert(ctx context.Context, eventType string, payload json.RawMessage) (int64, error) {
	sql, args, err := r.Builder.
		Insert(eventsTable).
		Columns(
			eventTypeColumn,
			payloadColumn,
			statusColumn,
			retryCountColumn,
		).
		Values(
			eventType,
			string(payload),
			string(entity.Pending),
			0,
		).
		Suffix("RETURNING " + idColumn).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("EventPostgresRepo - Insert - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var id int64
	err = executor.QueryRow(ctx, sql, args...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("EventPostgresRepo - Insert - executor.QueryRow: %w", err)
	}

	return id, nil
}

func (r *EventPostgresRepo) Claim(ctx context.Context, workerID string, lease time.Duration, maxRetries int) (*entity.Event, error) {
	executor := r.GetExecutor(ctx)

	ev, err := scanPgEvent(executor.QueryRow(ctx, claimQuery, workerID, lease.Seconds(), maxRetries))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNoEventAvailable
		}
		return nil, fmt.Errorf("EventPostgresRepo - Claim - executor.QueryRow: %w", err)
	}

	return ev, nil
}

func (r *EventPostgresRepo) Complete(ctx context.Context, ev *entity.Event) (bool, error) {
	fence, ok := pgLeaseFence(ev)
	if !ok {
		return false, nil
	}

	sql, args, err := r.Builder.
		Update(eventsTable).
		Set(statusColumn, string(entity.Completed)).
		Set(processedAtColumn, squirrel.Expr("now()")).
		Set(visibilityTimeoutColumn, nil).
		Where(fence).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("EventPostgresRepo - Complete - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("EventPostgresRepo - Complete - executor.Exec: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *EventPostgresRepo) Fail(ctx context.Context, ev *entity.Event, errorMessage string, tr entity.FailTransition) (bool, error) {
	fence, ok := pgLeaseFence(ev)
	if !ok {
		return false, nil
	}

	builder := r.Builder.
		Update(eventsTable).
		Set(retryCountColumn, tr.RetryCount).
		Set(errorMessageColumn, errorMessage)

	if tr.Terminal {
		builder = builder.
			Set(statusColumn, string(entity.Failed)).
			Set(processedAtColumn, squirrel.Expr("now()")).
			Set(visibilityTimeoutColumn, nil)
	} else {
		builder = builder.
			Set(statusColumn, string(entity.Pending)).
			Set(visibilityTimeoutColumn, squirrel.Expr("now() + make_interval(secs => ?)", tr.Delay.Seconds()))
	}

	sql, args, err := builder.Where(fence).ToSql()
	if err != nil {
		return false, fmt.Errorf("EventPostgresRepo - Fail - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("EventPostgresRepo - Fail - executor.Exec: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *EventPostgresRepo) GetByID(ctx context.Context, id int64) (*entity.Event, error) {
	sql, args, err := r.Builder.
		Select(eventColumns...).
		From(eventsTable).
		Where(squirrel.Eq{idColumn: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("EventPostgresRepo - GetByID - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	ev, err := scanPgEvent(executor.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("EventPostgresRepo - GetByID: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("EventPostgresRepo - GetByID - executor.QueryRow: %w", err)
	}

	return ev, nil
}

func (r *EventPostgresRepo) CountPending(ctx context.Context) (int64, error) {
	count, err := r.count(ctx, squirrel.Eq{statusColumn: string(entity.Pending)})
	if err != nil {
		return 0, fmt.Errorf("EventPostgresRepo - CountPending: %w", err)
	}

	return count, nil
}

func (r *EventPostgresRepo) CountProcessing(ctx context.Context) (int64, error) {
	count, err := r.count(ctx, squirrel.And{
		squirrel.Eq{statusColumn: string(entity.Processing)},
		squirrel.Expr(visibilityTimeoutColumn + " > now()"),
	})
	if err != nil {
		return 0, fmt.Errorf("EventPostgresRepo - CountProcessing: %w", err)
	}

	return count, nil
}

func (r *EventPostgresRepo) Stats(ctx context.Context) (entity.QueueStats, error) {
	stats := entity.NewQueueStats()

	err := r.WithinSnapshot(ctx, func(ctx context.Context) error {
		sql, args, err := r.Builder.
			Select(statusColumn, "COUNT(*)").
			From(eventsTable).
			GroupBy(statusColumn).
			ToSql()
		if err != nil {
			return fmt.Errorf("r.Builder.ToSql: %w", err)
		}

		executor := r.GetExecutor(ctx)

		rows, err := executor.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("executor.Query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				status string
				count  int64
			)
			if err = rows.Scan(&status, &count); err != nil {
				return fmt.Errorf("rows.Scan: %w", err)
			}
			stats.Counts[entity.Status(status)] = count
		}

		if err = rows.Err(); err != nil {
			return fmt.Errorf("rows.Err: %w", err)
		}

		stats.ExpiredProcessing, err = r.count(ctx, squirrel.And{
			squirrel.Eq{statusColumn: string(entity.Processing)},
			squirrel.Expr(visibilityTimeoutColumn + " <= now()"),
		})
		if err != nil {
			return fmt.Errorf("r.count: %w", err)
		}

		return nil
	})
	if err != nil {
		return entity.QueueStats{}, fmt.Errorf("EventPostgresRepo - Stats - r.WithinSnapshot: %w", err)
	}

	return stats, nil
}

func (r *EventPostgresRepo) count(ctx context.Context, where squirrel.Sqlizer) (int64, error) {
	sql, args, err := r.Builder.
		Select("COUNT(*)").
		From(eventsTable).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var count int64
	if err = executor.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("executor.QueryRow: %w", err)
	}

	return count, nil
}

// pgLeaseFence matches the row only while it is still under the lease ev was claimed with.
func pgLeaseFence(ev *entity.Event) (squirrel.Eq, bool) {
	if ev == nil || ev.ClaimedBy == nil || ev.VisibilityTimeout == nil {
		return nil, false
	}

	return squirrel.Eq{
		idColumn:                ev.ID,
		statusColumn:            string(entity.Processing),
		claimedByColumn:         *ev.ClaimedBy,
		visibilityTimeoutColumn: *ev.VisibilityTimeout,
		retryCountColumn:        ev.RetryCount,
	}, true
}

func scanPgEvent(row pgx.Row) (*entity.Event, error) {
	var (
		ev      entity.Event
		status  string
		payload []byte
	)

	err := row.Scan(
		&ev.ID,
		&ev.EventType,
		&payload,
		&status,
		&ev.VisibilityTimeout,
		&ev.ClaimedBy,
		&ev.RetryCount,
		&ev.ErrorMessage,
		&ev.CreatedAt,
		&ev.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Status = entity.Status(status)
	ev.Payload = json.RawMessage(payload)

	return &ev, nil
}
