package persistent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/andreyxaxa/Event-Queue/pkg/sqlite"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
)

// EventSQLiteRepo has no row locks to skip, so Claim is a bounded compare-and-swap loop:
// read the oldest eligible candidate, update it only if it still looks the way it was read,
// and move on to the next candidate when another claimer won the race.
type EventSQLiteRepo struct {
	*sqlite.SQLite
	opts storeOptions
}

func NewEventSQLiteRepo(s *sqlite.SQLite, opts ...StoreOption) *EventSQLiteRepo {
	return &EventSQLiteRepo{
		SQLite: s,
		opts:   newStoreOptions(opts),
	}
}

func (r *EventSQLiteRepo) Insert(ctx context.Context, eventType string, payload json.RawMessage) (int64, error) {
	query, args, err := r.Builder.
		Insert(eventsTable).
		Columns(
			eventTypeColumn,
			payloadColumn,
			statusColumn,
			retryCountColumn,
			createdAtColumn,
		).
		Values(
			eventType,
			string(payload),
			string(entity.Pending),
			0,
			sqlite.ToMicros(r.opts.now()),
		).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("EventSQLiteRepo - Insert - r.Builder.ToSql: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("EventSQLiteRepo - Insert - r.DB.ExecContext: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("EventSQLiteRepo - Insert - res.LastInsertId: %w", err)
	}

	return id, nil
}

func (r *EventSQLiteRepo) Claim(ctx context.Context, workerID string, lease time.Duration, maxRetries int) (*entity.Event, error) {
	skipped := make([]int64, 0, r.opts.claimAttempts)

	for attempt := 0; attempt < r.opts.claimAttempts; attempt++ {
		now := r.opts.now()

		candidate, err := r.nextCandidate(ctx, now, maxRetries, skipped)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errs.ErrNoEventAvailable
			}
			return nil, fmt.Errorf("EventSQLiteRepo - Claim - r.nextCandidate: %w", err)
		}

		visibility := sqlite.FromMicros(sqlite.ToMicros(now.Add(lease)))

		query, args, err := r.Builder.
			Update(eventsTable).
			Set(statusColumn, string(entity.Processing)).
			Set(claimedByColumn, workerID).
			Set(visibilityTimeoutColumn, sqlite.ToMicros(visibility)).
			Where(squirrel.Eq{
				idColumn:                candidate.ID,
				statusColumn:            string(candidate.Status),
				retryCountColumn:        candidate.RetryCount,
				visibilityTimeoutColumn: nullableMicros(candidate.VisibilityTimeout),
			}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("EventSQLiteRepo - Claim - r.Builder.ToSql: %w", err)
		}

		res, err := r.DB.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("EventSQLiteRepo - Claim - r.DB.ExecContext: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("EventSQLiteRepo - Claim - res.RowsAffected: %w", err)
		}

		if n == 1 {
			candidate.Status = entity.Processing
			candidate.ClaimedBy = strPtr(workerID)
			candidate.VisibilityTimeout = &visibility

			return candidate, nil
		}

		// lost the race for this row
		skipped = append(skipped, candidate.ID)
	}

	return nil, errs.ErrNoEventAvailable
}

func (r *EventSQLiteRepo) nextCandidate(ctx context.Context, now time.Time, maxRetries int, skipped []int64) (*entity.Event, error) {
	nowMicros := sqlite.ToMicros(now)

	builder := r.Builder.
		Select(eventColumns...).
		From(eventsTable).
		Where(squirrel.Or{
			squirrel.And{
				squirrel.Eq{statusColumn: string(entity.Pending)},
				squirrel.Or{
					squirrel.Eq{visibilityTimeoutColumn: nil},
					squirrel.LtOrEq{visibilityTimeoutColumn: nowMicros},
				},
			},
			squirrel.And{
				squirrel.Eq{statusColumn: string(entity.Processing)},
				squirrel.LtOrEq{visibilityTimeoutColumn: nowMicros},
			},
		}).
		Where(squirrel.Lt{retryCountColumn: maxRetries}).
		OrderBy(createdAtColumn+" ASC", idColumn+" ASC").
		Limit(1)

	if len(skipped) > 0 {
		builder = builder.Where(squirrel.NotEq{idColumn: skipped})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("r.Builder.ToSql: %w", err)
	}

	return scanSQLiteEvent(r.DB.QueryRowContext(ctx, query, args...))
}

func (r *EventSQLiteRepo) Complete(ctx context.Context, ev *entity.Event) (bool, error) {
	fence, ok := sqliteLeaseFence(ev)
	if !ok {
		return false, nil
	}

	query, args, err := r.Builder.
		Update(eventsTable).
		Set(statusColumn, string(entity.Completed)).
		Set(processedAtColumn, sqlite.ToMicros(r.opts.now())).
		Set(visibilityTimeoutColumn, nil).
		Where(fence).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("EventSQLiteRepo - Complete - r.Builder.ToSql: %w", err)
	}

	applied, err := r.execFenced(ctx, query, args)
	if err != nil {
		return false, fmt.Errorf("EventSQLiteRepo - Complete - r.execFenced: %w", err)
	}

	return applied, nil
}

func (r *EventSQLiteRepo) Fail(ctx context.Context, ev *entity.Event, errorMessage string, tr entity.FailTransition) (bool, error) {
	fence, ok := sqliteLeaseFence(ev)
	if !ok {
		return false, nil
	}

	now := r.opts.now()

	builder := r.Builder.
		Update(eventsTable).
		Set(retryCountColumn, tr.RetryCount).
		Set(errorMessageColumn, errorMessage)

	if tr.Terminal {
		builder = builder.
			Set(statusColumn, string(entity.Failed)).
			Set(processedAtColumn, sqlite.ToMicros(now)).
			Set(visibilityTimeoutColumn, nil)
	} else {
		builder = builder.
			Set(statusColumn, string(entity.Pending)).
			Set(visibilityTimeoutColumn, sqlite.ToMicros(now.Add(tr.Delay)))
	}

	query, args, err := builder.Where(fence).ToSql()
	if err != nil {
		return false, fmt.Errorf("EventSQLiteRepo - Fail - r.Builder.ToSql: %w", err)
	}

	applied, err := r.execFenced(ctx, query, args)
	if err != nil {
		return false, fmt.Errorf("EventSQLiteRepo - Fail - r.execFenced: %w", err)
	}

	return applied, nil
}

func (r *EventSQLiteRepo) GetByID(ctx context.Context, id int64) (*entity.Event, error) {
	query, args, err := r.Builder.
		Select(eventColumns...).
		From(eventsTable).
		Where(squirrel.Eq{idColumn: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("EventSQLiteRepo - GetByID - r.Builder.ToSql: %w", err)
	}

	ev, err := scanSQLiteEvent(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("EventSQLiteRepo - GetByID: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("EventSQLiteRepo - GetByID - r.DB.QueryRowContext: %w", err)
	}

	return ev, nil
}

func (r *EventSQLiteRepo) CountPending(ctx context.Context) (int64, error) {
	count, err := r.count(ctx, r.DB, squirrel.Eq{statusColumn: string(entity.Pending)})
	if err != nil {
		return 0, fmt.Errorf("EventSQLiteRepo - CountPending: %w", err)
	}

	return count, nil
}

func (r *EventSQLiteRepo) CountProcessing(ctx context.Context) (int64, error) {
	count, err := r.count(ctx, r.DB, squirrel.And{
		squirrel.Eq{statusColumn: string(entity.Processing)},
		squirrel.Gt{visibilityTimeoutColumn: sqlite.ToMicros(r.opts.now())},
	})
	if err != nil {
		return 0, fmt.Errorf("EventSQLiteRepo - CountProcessing: %w", err)
	}

	return count, nil
}

func (r *EventSQLiteRepo) Stats(ctx context.Context) (entity.QueueStats, error) {
	stats := entity.NewQueueStats()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return entity.QueueStats{}, fmt.Errorf("EventSQLiteRepo - Stats - r.DB.BeginTx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := r.Builder.
		Select(statusColumn, "COUNT(*)").
		From(eventsTable).
		GroupBy(statusColumn).
		ToSql()
	if err != nil {
		return entity.QueueStats{}, fmt.Errorf("EventSQLiteRepo - Stats - r.Builder.ToSql: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return entity.QueueStats{}, fmt.Errorf("EventSQLiteRepo - Stats - tx.QueryContext: %w", err)
	}

	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err = rows.Scan(&status, &count); err != nil {
			_ = rows.Close()
			return entity.QueueStats{}, fmt.Errorf("EventSQLiteRepo - Stats - rows.Scan: %w", err)
		}
		stats.Counts[entity.Status(status)] = count
	}

	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return entity.QueueStats{}, fmt.Errorf("EventSQLiteRepo - Stats - rows.Err: %w", err)
	}
	_ = rows.Close()

	stats.ExpiredProcessing, err = r.count(ctx, tx, squirrel.And{
		squirrel.Eq{statusColumn: string(entity.Processing)},
		squirrel.LtOrEq{visibilityTimeoutColumn: sqlite.ToMicros(r.opts.now())},
	})
	if err != nil {
		return entity.QueueStats{}, fmt.Errorf("EventSQLiteRepo - Stats - r.count: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return entity.QueueStats{}, fmt.Errorf("EventSQLiteRepo - Stats - tx.Commit: %w", err)
	}

	return stats, nil
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *EventSQLiteRepo) count(ctx context.Context, q sqliteQuerier, where squirrel.Sqlizer) (int64, error) {
	query, args, err := r.Builder.
		Select("COUNT(*)").
		From(eventsTable).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("r.Builder.ToSql: %w", err)
	}

	var count int64
	if err = q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("QueryRowContext: %w", err)
	}

	return count, nil
}

func (r *EventSQLiteRepo) execFenced(ctx context.Context, query string, args []any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func sqliteLeaseFence(ev *entity.Event) (squirrel.Eq, bool) {
	if ev == nil || ev.ClaimedBy == nil || ev.VisibilityTimeout == nil {
		return nil, false
	}

	return squirrel.Eq{
		idColumn:                ev.ID,
		statusColumn:            string(entity.Processing),
		claimedByColumn:         *ev.ClaimedBy,
		visibilityTimeoutColumn: sqlite.ToMicros(*ev.VisibilityTimeout),
		retryCountColumn:        ev.RetryCount,
	}, true
}

// nullableMicros returns nil for a NULL timestamp so squirrel.Eq renders IS NULL.
func nullableMicros(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqlite.ToMicros(*t)
}

func scanSQLiteEvent(row interface{ Scan(dest ...any) error }) (*entity.Event, error) {
	var (
		ev           entity.Event
		payload      string
		status       string
		visibility   sql.NullInt64
		claimedBy    sql.NullString
		errorMessage sql.NullString
		createdAt    int64
		processedAt  sql.NullInt64
	)

	err := row.Scan(
		&ev.ID,
		&ev.EventType,
		&payload,
		&status,
		&visibility,
		&claimedBy,
		&ev.RetryCount,
		&errorMessage,
		&createdAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Payload = json.RawMessage(payload)
	ev.Status = entity.Status(status)
	ev.VisibilityTimeout = sqlite.FromNullMicros(visibility)
	ev.CreatedAt = sqlite.FromMicros(createdAt)
	ev.ProcessedAt = sqlite.FromNullMicros(processedAt)

	if claimedBy.Valid {
		ev.ClaimedBy = strPtr(claimedBy.String)
	}
	if errorMessage.Valid {
		ev.ErrorMessage = strPtr(errorMessage.String)
	}

	return &ev, nil
}
