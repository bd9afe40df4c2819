package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	redispkg "github.com/andreyxaxa/Event-Queue/pkg/redis"
	"github.com/andreyxaxa/Event-Queue/pkg/types/errs"
	"github.com/redis/go-redis/v9"
)

// Key layout, <p> is the configured prefix:
//
//	<p>:seq               INCR counter for event ids
//	<p>:event:<id>        hash with the event fields
//	<p>:status:<status>   set of ids per status
//	<p>:ready             zset of claimable ids scored by created_at (micros)
//	<p>:delayed           zset of pending ids in backoff scored by visibility_timeout (micros)
//	<p>:leases            zset of processing ids scored by visibility_timeout (micros)
//
// Set members are zero padded ids, so equal scores fall back to id order.
// Claim first moves due members of delayed and leases into ready, then takes the head
// of ready. Skip-locked is emulated with WATCH/MULTI: a candidate touched by a
// concurrent claimer aborts the transaction and the next candidate is tried.
// Terminal events and events out of retries are in none of the three zsets.
type EventRedisRepo struct {
	*redispkg.Redis
	opts storeOptions
}

var errLeaseLost = errors.New("lease lost")

func NewEventRedisRepo(r *redispkg.Redis, opts ...StoreOption) *EventRedisRepo {
	return &EventRedisRepo{
		Redis: r,
		opts:  newStoreOptions(opts),
	}
}

func (r *EventRedisRepo) Insert(ctx context.Context, eventType string, payload json.RawMessage) (int64, error) {
	id, err := r.Client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("EventRedisRepo - Insert - r.Client.Incr: %w", err)
	}

	createdAt := r.opts.now().UTC().UnixMicro()
	m := member(id)

	_, err = r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.eventKey(id),
			idColumn, id,
			eventTypeColumn, eventType,
			payloadColumn, string(payload),
			statusColumn, string(entity.Pending),
			retryCountColumn, 0,
			createdAtColumn, createdAt,
		)
		pipe.ZAdd(ctx, r.readyKey(), redis.Z{Score: float64(createdAt), Member: m})
		pipe.SAdd(ctx, r.statusKey(entity.Pending), m)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("EventRedisRepo - Insert - r.Client.TxPipelined: %w", err)
	}

	return id, nil
}

func (r *EventRedisRepo) Claim(ctx context.Context, workerID string, lease time.Duration, maxRetries int) (*entity.Event, error) {
	if err := r.promote(ctx, maxRetries); err != nil {
		return nil, fmt.Errorf("EventRedisRepo - Claim - r.promote: %w", err)
	}

	misses := 0

	for {
		members, err := r.Client.ZRange(ctx, r.readyKey(), 0, _redisScanBatch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("EventRedisRepo - Claim - r.Client.ZRange: %w", err)
		}
		if len(members) == 0 {
			return nil, errs.ErrNoEventAvailable
		}

		for _, m := range members {
			id, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("EventRedisRepo - Claim - strconv.ParseInt: %w", err)
			}

			ev, err := r.tryClaim(ctx, id, workerID, lease, maxRetries)
			if err != nil && !errors.Is(err, redis.TxFailedErr) {
				return nil, fmt.Errorf("EventRedisRepo - Claim - r.tryClaim: %w", err)
			}
			if ev != nil {
				return ev, nil
			}

			misses++
			if misses >= r.opts.claimAttempts {
				return nil, errs.ErrNoEventAvailable
			}
		}
	}
}

// promote moves every member of delayed and leases whose deadline has passed to
// wherever the stored event now belongs.
func (r *EventRedisRepo) promote(ctx context.Context, maxRetries int) error {
	for _, src := range []string{r.delayedKey(), r.leasesKey()} {
		for {
			due, err := r.Client.ZRangeByScore(ctx, src, &redis.ZRangeBy{
				Min:   "-inf",
				Max:   strconv.FormatInt(r.opts.now().UTC().UnixMicro(), 10),
				Count: _redisScanBatch,
			}).Result()
			if err != nil {
				return fmt.Errorf("ZRangeByScore: %w", err)
			}

			moved := 0
			for _, m := range due {
				id, err := strconv.ParseInt(m, 10, 64)
				if err != nil {
					return fmt.Errorf("strconv.ParseInt: %w", err)
				}

				err = r.Client.Watch(ctx, func(tx *redis.Tx) error {
					return r.reindex(ctx, tx, id, maxRetries)
				}, r.eventKey(id))
				if errors.Is(err, redis.TxFailedErr) {
					continue
				}
				if err != nil {
					return fmt.Errorf("r.reindex: %w", err)
				}
				moved++
			}

			// a batch lost entirely to concurrent writers is left for the next claim
			if len(due) < _redisScanBatch || moved == 0 {
				break
			}
		}
	}

	return nil
}

// reindex puts id into the one zset its stored state belongs to. It runs inside a WATCH on the event key.
func (r *EventRedisRepo) reindex(ctx context.Context, tx *redis.Tx, id int64, maxRetries int) error {
	m := member(id)

	ev, err := r.load(ctx, tx, id)
	if errors.Is(err, errs.ErrRecordNotFound) {
		ev = nil
	} else if err != nil {
		return err
	}

	now := r.opts.now()

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.readyKey(), m)
		pipe.ZRem(ctx, r.delayedKey(), m)
		pipe.ZRem(ctx, r.leasesKey(), m)

		switch {
		case ev == nil, ev.Status.Terminal():
		case ev.Claimable(now, maxRetries):
			pipe.ZAdd(ctx, r.readyKey(), redis.Z{Score: float64(ev.CreatedAt.UnixMicro()), Member: m})
		case ev.VisibilityTimeout != nil && ev.VisibilityTimeout.After(now):
			key := r.delayedKey()
			if ev.Status == entity.Processing {
				key = r.leasesKey()
			}
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(ev.VisibilityTimeout.UnixMicro()), Member: m})
		}
		return nil
	})

	return err
}

// tryClaim returns (nil, nil) when the candidate is not eligible, after moving it out of ready.
func (r *EventRedisRepo) tryClaim(ctx context.Context, id int64, workerID string, lease time.Duration, maxRetries int) (*entity.Event, error) {
	key := r.eventKey(id)

	var claimed *entity.Event

	err := r.Client.Watch(ctx, func(tx *redis.Tx) error {
		ev, err := r.load(ctx, tx, id)
		if err != nil && !errors.Is(err, errs.ErrRecordNotFound) {
			return err
		}

		now := r.opts.now()
		if ev == nil || !ev.Claimable(now, maxRetries) {
			return r.reindex(ctx, tx, id, maxRetries)
		}

		visibility := time.UnixMicro(now.Add(lease).UTC().UnixMicro()).UTC()
		m := member(id)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				statusColumn, string(entity.Processing),
				claimedByColumn, workerID,
				visibilityTimeoutColumn, visibility.UnixMicro(),
			)
			if ev.Status != entity.Processing {
				pipe.SRem(ctx, r.statusKey(ev.Status), m)
				pipe.SAdd(ctx, r.statusKey(entity.Processing), m)
			}
			pipe.ZRem(ctx, r.readyKey(), m)
			pipe.ZRem(ctx, r.delayedKey(), m)
			pipe.ZAdd(ctx, r.leasesKey(), redis.Z{Score: float64(visibility.UnixMicro()), Member: m})
			return nil
		})
		if err != nil {
			return err
		}

		ev.Status = entity.Processing
		ev.ClaimedBy = strPtr(workerID)
		ev.VisibilityTimeout = &visibility
		claimed = ev

		return nil
	}, key)
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (r *EventRedisRepo) Complete(ctx context.Context, ev *entity.Event) (bool, error) {
	applied, err := r.fenced(ctx, ev, func(pipe redis.Pipeliner, key, m string) {
		pipe.HSet(ctx, key,
			statusColumn, string(entity.Completed),
			processedAtColumn, r.opts.now().UTC().UnixMicro(),
		)
		pipe.HDel(ctx, key, visibilityTimeoutColumn)
		pipe.SRem(ctx, r.statusKey(entity.Processing), m)
		pipe.SAdd(ctx, r.statusKey(entity.Completed), m)
		pipe.ZRem(ctx, r.leasesKey(), m)
		pipe.ZRem(ctx, r.readyKey(), m)
	})
	if err != nil {
		return false, fmt.Errorf("EventRedisRepo - Complete - r.fenced: %w", err)
	}

	return applied, nil
}

func (r *EventRedisRepo) Fail(ctx context.Context, ev *entity.Event, errorMessage string, tr entity.FailTransition) (bool, error) {
	applied, err := r.fenced(ctx, ev, func(pipe redis.Pipeliner, key, m string) {
		now := r.opts.now().UTC()

		pipe.HSet(ctx, key,
			retryCountColumn, tr.RetryCount,
			errorMessageColumn, errorMessage,
		)
		pipe.SRem(ctx, r.statusKey(entity.Processing), m)
		pipe.ZRem(ctx, r.leasesKey(), m)
		pipe.ZRem(ctx, r.readyKey(), m)

		if tr.Terminal {
			pipe.HSet(ctx, key,
				statusColumn, string(entity.Failed),
				processedAtColumn, now.UnixMicro(),
			)
			pipe.HDel(ctx, key, visibilityTimeoutColumn)
			pipe.SAdd(ctx, r.statusKey(entity.Failed), m)
			return
		}

		visibility := now.Add(tr.Delay).UnixMicro()
		pipe.HSet(ctx, key,
			statusColumn, string(entity.Pending),
			visibilityTimeoutColumn, visibility,
		)
		pipe.SAdd(ctx, r.statusKey(entity.Pending), m)
		pipe.ZAdd(ctx, r.delayedKey(), redis.Z{Score: float64(visibility), Member: m})
	})
	if err != nil {
		return false, fmt.Errorf("EventRedisRepo - Fail - r.fenced: %w", err)
	}

	return applied, nil
}

// fenced applies mutate only while the stored event is still under the lease held by ev.
func (r *EventRedisRepo) fenced(ctx context.Context, ev *entity.Event, mutate func(pipe redis.Pipeliner, key, m string)) (bool, error) {
	if ev == nil || ev.ClaimedBy == nil || ev.VisibilityTimeout == nil {
		return false, nil
	}

	key := r.eventKey(ev.ID)
	m := member(ev.ID)

	var err error
	for attempt := 0; attempt < r.opts.claimAttempts; attempt++ {
		err = r.Client.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := r.load(ctx, tx, ev.ID)
			if err != nil {
				return err
			}
			if !stored.HeldBy(ev) {
				return errLeaseLost
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				mutate(pipe, key, m)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errLeaseLost), errors.Is(err, errs.ErrRecordNotFound):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return false, err
		}
	}

	return false, err
}

func (r *EventRedisRepo) GetByID(ctx context.Context, id int64) (*entity.Event, error) {
	ev, err := r.load(ctx, r.Client, id)
	if err != nil {
		return nil, fmt.Errorf("EventRedisRepo - GetByID - r.load: %w", err)
	}

	return ev, nil
}

func (r *EventRedisRepo) CountPending(ctx context.Context) (int64, error) {
	n, err := r.Client.SCard(ctx, r.statusKey(entity.Pending)).Result()
	if err != nil {
		return 0, fmt.Errorf("EventRedisRepo - CountPending - r.Client.SCard: %w", err)
	}

	return n, nil
}

func (r *EventRedisRepo) CountProcessing(ctx context.Context) (int64, error) {
	now := r.opts.now().UTC().UnixMicro()

	n, err := r.Client.ZCount(ctx, r.leasesKey(), "("+strconv.FormatInt(now, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("EventRedisRepo - CountProcessing - r.Client.ZCount: %w", err)
	}

	return n, nil
}

func (r *EventRedisRepo) Stats(ctx context.Context) (entity.QueueStats, error) {
	stats := entity.NewQueueStats()
	now := r.opts.now().UTC().UnixMicro()

	counts := make(map[entity.Status]*redis.IntCmd, len(entity.Statuses))
	var active *redis.IntCmd

	// expired leases may already sit in ready, so they are counted as processing minus active
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, st := range entity.Statuses {
			counts[st] = pipe.SCard(ctx, r.statusKey(st))
		}
		active = pipe.ZCount(ctx, r.leasesKey(), "("+strconv.FormatInt(now, 10), "+inf")
		return nil
	})
	if err != nil {
		return entity.QueueStats{}, fmt.Errorf("EventRedisRepo - Stats - r.Client.TxPipelined: %w", err)
	}

	for st, cmd := range counts {
		if n := cmd.Val(); n > 0 {
			stats.Counts[st] = n
		}
	}
	stats.ExpiredProcessing = max(counts[entity.Processing].Val()-active.Val(), 0)

	return stats, nil
}

func (r *EventRedisRepo) load(ctx context.Context, c redis.Cmdable, id int64) (*entity.Event, error) {
	fields, err := c.HGetAll(ctx, r.eventKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("HGetAll: %w", err)
	}
	if len(fields) == 0 {
		return nil, errs.ErrRecordNotFound
	}

	return decodeRedisEvent(fields)
}

func decodeRedisEvent(fields map[string]string) (*entity.Event, error) {
	var (
		ev  entity.Event
		err error
	)

	if ev.ID, err = strconv.ParseInt(fields[idColumn], 10, 64); err != nil {
		return nil, fmt.Errorf("decode %s: %w", idColumn, err)
	}
	if ev.RetryCount, err = strconv.Atoi(fields[retryCountColumn]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", retryCountColumn, err)
	}

	createdAt, err := strconv.ParseInt(fields[createdAtColumn], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", createdAtColumn, err)
	}

	ev.EventType = fields[eventTypeColumn]
	ev.Payload = json.RawMessage(fields[payloadColumn])
	ev.Status = entity.Status(fields[statusColumn])
	ev.CreatedAt = time.UnixMicro(createdAt).UTC()

	if ev.VisibilityTimeout, err = optionalMicros(fields, visibilityTimeoutColumn); err != nil {
		return nil, err
	}
	if ev.ProcessedAt, err = optionalMicros(fields, processedAtColumn); err != nil {
		return nil, err
	}
	if v, ok := fields[claimedByColumn]; ok {
		ev.ClaimedBy = strPtr(v)
	}
	if v, ok := fields[errorMessageColumn]; ok {
		ev.ErrorMessage = strPtr(v)
	}

	return &ev, nil
}

func optionalMicros(fields map[string]string, name string) (*time.Time, error) {
	v, ok := fields[name]
	if !ok || v == "" {
		return nil, nil
	}

	micros, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	t := time.UnixMicro(micros).UTC()
	return &t, nil
}

func member(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func (r *EventRedisRepo) seqKey() string {
	return r.opts.prefix + ":seq"
}

func (r *EventRedisRepo) eventKey(id int64) string {
	return r.opts.prefix + ":event:" + strconv.FormatInt(id, 10)
}

func (r *EventRedisRepo) readyKey() string {
	return r.opts.prefix + ":ready"
}

func (r *EventRedisRepo) delayedKey() string {
	return r.opts.prefix + ":delayed"
}

func (r *EventRedisRepo) leasesKey() string {
	return r.opts.prefix + ":leases"
}

func (r *EventRedisRepo) statusKey(s entity.Status) string {
	return r.opts.prefix + ":status:" + string(s)
}
