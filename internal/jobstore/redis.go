package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"echopush/internal/domain"
)

const (
	scheduledKey  = "echoq:scheduled"
	processingKey = "echoq:processing"
	deadKey       = "echoq:dead"
	jobKeyPrefix  = "echoq:job:"
)

const enqueueAttempts = 3

// Queue is the Redis-backed delayed job store. One sorted set holds pending
// job keys scored by their not-before time in unix milliseconds; a hash per
// job holds the payload and the attempt counter. Claimed jobs park in a
// processing set scored by a visibility deadline, so a crash between claim
// and completion makes the job reclaimable instead of lost.
type Queue struct {
	rdb *redis.Client

	mu    sync.Mutex
	state State

	// VisibilityTimeout is how long a claimed job may run before it is
	// considered stalled and swept back into the scheduled set. Zero
	// means 5 minutes.
	VisibilityTimeout time.Duration

	// OnStateChange, if set, is invoked outside the lock on every
	// connection state transition.
	OnStateChange func(from, to State)
}

func (q *Queue) visibilityTimeout() time.Duration {
	if q.VisibilityTimeout > 0 {
		return q.VisibilityTimeout
	}
	return 5 * time.Minute
}

func NewQueue(addr, password string, db int) *Queue {
	return &Queue{
		rdb:   redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		state: StateDisconnected,
	}
}

// Connect pings Redis until it answers or ctx expires. The queue enters
// Ready on the first successful ping.
func (q *Queue) Connect(ctx context.Context) error {
	q.setState(StateConnecting)
	for {
		err := q.rdb.Ping(ctx).Err()
		if err == nil {
			q.setState(StateReady)
			return nil
		}
		slog.Warn("job store ping failed", "err", err)
		select {
		case <-ctx.Done():
			q.setState(StateDisconnected)
			return fmt.Errorf("%w: %v", domain.ErrJobStoreUnavailable, err)
		case <-time.After(time.Second):
		}
	}
}

func (q *Queue) Close() error { return q.rdb.Close() }

func (q *Queue) Ping(ctx context.Context) error { return q.rdb.Ping(ctx).Err() }

func jobKey(key string) string { return jobKeyPrefix + key }

// Enqueue adds a job due after delay. Enqueueing an existing key replaces
// its due time and payload, so a key never has two live jobs. Transient
// Redis errors are retried a bounded number of times before the call fails
// with ErrJobStoreUnavailable.
func (q *Queue) Enqueue(ctx context.Context, key string, payload Payload, delay time.Duration) error {
	if !q.available() {
		return fmt.Errorf("%w: state %s", domain.ErrJobStoreUnavailable, q.State())
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()

	var lastErr error
	for i := 0; i < enqueueAttempts; i++ {
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, jobKey(key), map[string]any{
			"payload":     string(body),
			"attempts":    0,
			"enqueued_at": time.Now().UnixMilli(),
		})
		pipe.ZAdd(ctx, scheduledKey, redis.Z{Score: float64(due), Member: key})
		if _, err := pipe.Exec(ctx); err == nil {
			q.setState(StateReady)
			return nil
		} else {
			lastErr = err
			q.setState(StateDegraded)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrJobStoreUnavailable, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: enqueue %s: %v", domain.ErrJobStoreUnavailable, key, lastErr)
}

// Remove deletes a pending job by key. Returns true only if the job was
// still pending; a job already claimed for execution (or long gone) yields
// false without error. The ZREM is the atomicity boundary that resolves
// cancellation races with dispatch.
func (q *Queue) Remove(ctx context.Context, key string) (bool, error) {
	n, err := q.rdb.ZRem(ctx, scheduledKey, key).Result()
	if err != nil {
		q.setState(StateDegraded)
		return false, fmt.Errorf("%w: remove %s: %v", domain.ErrJobStoreUnavailable, key, err)
	}
	q.setState(StateReady)
	if n == 0 {
		return false, nil
	}
	_ = q.rdb.Del(ctx, jobKey(key)).Err()
	return true, nil
}

// claimDue pops up to limit due jobs. A job belongs to this claimant only
// when its ZREM returns 1, so concurrent dispatchers never double-claim.
// Every claimed key is parked in the processing set under a visibility
// deadline before anything else happens to it; until complete, release, or
// bury removes it, a crashed claimant's job stays reclaimable.
func (q *Queue) claimDue(ctx context.Context, now time.Time, limit int64) ([]Job, error) {
	members, err := q.rdb.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}

	deadline := float64(now.Add(q.visibilityTimeout()).UnixMilli())
	jobs := make([]Job, 0, len(members))
	for _, key := range members {
		n, err := q.rdb.ZRem(ctx, scheduledKey, key).Result()
		if err != nil {
			return jobs, err
		}
		if n == 0 {
			continue // someone else claimed it
		}
		if err := q.rdb.ZAdd(ctx, processingKey, redis.Z{Score: deadline, Member: key}).Err(); err != nil {
			return jobs, err
		}

		fields, err := q.rdb.HGetAll(ctx, jobKey(key)).Result()
		if err != nil {
			return jobs, err
		}
		var payload Payload
		if err := json.Unmarshal([]byte(fields["payload"]), &payload); err != nil {
			// poison job: drop it so it cannot loop forever
			slog.Error("job store dropping unparseable job", "key", key, "err", err)
			_ = q.rdb.ZRem(ctx, processingKey, key).Err()
			_ = q.rdb.Del(ctx, jobKey(key)).Err()
			continue
		}
		attempt, err := q.rdb.HIncrBy(ctx, jobKey(key), "attempts", 1).Result()
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, Job{Key: key, Payload: payload, Attempt: int(attempt)})
	}
	return jobs, nil
}

// reclaimStale sweeps processing entries whose visibility deadline has
// passed back into the scheduled set as immediately due. The ZREM is again
// the ownership boundary, so concurrent sweepers move each job once.
func (q *Queue) reclaimStale(ctx context.Context, now time.Time) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, key := range members {
		n, err := q.rdb.ZRem(ctx, processingKey, key).Result()
		if err != nil {
			return reclaimed, err
		}
		if n == 0 {
			continue
		}
		err = q.rdb.ZAdd(ctx, scheduledKey, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: key,
		}).Err()
		if err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// release puts a failed job back with a later due time.
func (q *Queue) release(ctx context.Context, job Job, notBefore time.Time) error {
	_ = q.rdb.ZRem(ctx, processingKey, job.Key).Err()
	return q.rdb.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(notBefore.UnixMilli()),
		Member: job.Key,
	}).Err()
}

// bury moves a retry-exhausted job to the dead set. The job hash is kept
// for operator inspection.
func (q *Queue) bury(ctx context.Context, job Job, now time.Time) error {
	_ = q.rdb.ZRem(ctx, processingKey, job.Key).Err()
	return q.rdb.ZAdd(ctx, deadKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: job.Key,
	}).Err()
}

// complete removes a finished job's processing entry and hash.
func (q *Queue) complete(ctx context.Context, job Job) {
	_ = q.rdb.ZRem(ctx, processingKey, job.Key).Err()
	_ = q.rdb.Del(ctx, jobKey(job.Key)).Err()
}
