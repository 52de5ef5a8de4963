package queue

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/qbitworks/simq/internal/backoff"
	"github.com/qbitworks/simq/internal/metrics"
	"github.com/qbitworks/simq/pkg/domain"

	"github.com/go-redis/redis/v8"
)

// Job is one delivery of queued work. Attempts counts deliveries so far,
// including this one; it travels with the job, not with the task record.
type Job struct {
	TaskID   string
	Attempts int
}

// JobQueue is the durable at-least-once channel between submitters and
// workers. Enqueue returns only after the job record is persisted. A claimed
// job is invisible to other workers until its lease expires; acknowledgment
// is deferred until the worker reports completion or permanent failure, so a
// worker crash leads to redelivery rather than loss.
type JobQueue interface {
	Enqueue(ctx context.Context, taskID string) error

	// Claim delivers at most one job. The bool reports whether a job was
	// delivered. Claim also repairs expired leases and promotes due delayed
	// jobs before popping, the same self-healing the pull side always needs.
	Claim(ctx context.Context, workerID string, leaseSeconds int, inspectLimit int) (*Job, bool, error)

	// ExtendLease pushes out the visibility window for a job still being
	// worked on, preventing a false-positive crash redelivery mid-execution.
	ExtendLease(ctx context.Context, taskID string, extendSeconds int) error

	// Ack retires a job after a terminal outcome was recorded.
	Ack(ctx context.Context, taskID string) error

	// Nack schedules redelivery after delaySeconds. A non-positive delay is
	// replaced by the configured backoff for the job's attempt count.
	Nack(ctx context.Context, taskID string, delaySeconds int) error

	// Contains reports whether the task currently has a live job record.
	Contains(ctx context.Context, taskID string) (bool, error)

	Depths(ctx context.Context) (*domain.QueueDepthResponse, error)
}

type redisQueue struct {
	rdb                *redis.Client
	backoffPolicy      string
	backoffBaseSeconds int
	backoffMaxSeconds  int
	rng                *rand.Rand
	now                func() time.Time
}

func New(rdb *redis.Client, backoffPolicy string, backoffBaseSeconds, backoffMaxSeconds int) JobQueue {
	if backoffBaseSeconds <= 0 {
		backoffBaseSeconds = 2
	}
	if backoffMaxSeconds <= 0 {
		backoffMaxSeconds = 60
	}
	if backoffPolicy == "" {
		backoffPolicy = backoff.PolicyExponential
	}
	return &redisQueue{
		rdb:                rdb,
		backoffPolicy:      backoffPolicy,
		backoffBaseSeconds: backoffBaseSeconds,
		backoffMaxSeconds:  backoffMaxSeconds,
		rng:                rand.New(rand.NewSource(time.Now().UnixNano())),
		now:                time.Now,
	}
}

const (
	keyPending  = "simq:q:pending"  // LIST of task ids ready for delivery
	keyInprog   = "simq:q:inprog"   // SET of ids currently leased
	keyDelayed  = "simq:q:delayed"  // ZSET id -> redelivery time (epoch seconds)
	keyQueued   = "simq:q:queued"   // SET of ids with a live job record
	keyAttempts = "simq:q:attempts" // HASH id -> delivery count
)

const leasePrefix = "simq:lease:"

func keyLease(id string) string { return leasePrefix + id }

// claimScript pops one id from pending, tracks it in the in-progress set,
// bumps its delivery count and writes the lease in one atomic step, so the
// attempt count only ever reflects deliveries that actually happened. Ids
// that are somehow already in-progress (duplicate enqueue) are skipped.
//
// KEYS[1] = pending list, KEYS[2] = in-progress set, KEYS[3] = attempts hash
// ARGV[1] = max inner iterations, ARGV[2] = lease seconds,
// ARGV[3] = worker id, ARGV[4] = lease key prefix
var claimScript = redis.NewScript(`
local maxIter = tonumber(ARGV[1]) or 1
local leaseSeconds = tonumber(ARGV[2])
for i=1,maxIter do
  local id = redis.call("RPOP", KEYS[1])
  if not id then
    return false
  end
  if redis.call("SADD", KEYS[2], id) == 1 then
    local attempts = redis.call("HINCRBY", KEYS[3], id, 1)
    redis.call("SETEX", ARGV[4] .. id, leaseSeconds, ARGV[3])
    return {id, attempts}
  end
end
return false
`)

func (q *redisQueue) Enqueue(ctx context.Context, taskID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.SAdd(ctx, keyQueued, taskID)
	pipe.LPush(ctx, keyPending, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	return nil
}

func (q *redisQueue) Claim(ctx context.Context, workerID string, leaseSeconds int, inspectLimit int) (*Job, bool, error) {
	if leaseSeconds <= 0 {
		leaseSeconds = 300
	}
	if inspectLimit <= 0 {
		inspectLimit = 200
	}

	if _, err := q.promoteDue(ctx, inspectLimit); err != nil {
		return nil, false, err
	}
	if _, err := q.requeueExpired(ctx, inspectLimit); err != nil {
		return nil, false, err
	}

	res, err := claimScript.Run(ctx, q.rdb, []string{keyPending, keyInprog, keyAttempts},
		inspectLimit, leaseSeconds, workerID, leasePrefix).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim script: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return nil, false, nil
	}
	id, _ := vals[0].(string)
	attempts, _ := vals[1].(int64)
	if id == "" {
		return nil, false, nil
	}

	return &Job{TaskID: id, Attempts: int(attempts)}, true, nil
}

func (q *redisQueue) ExtendLease(ctx context.Context, taskID string, extendSeconds int) error {
	if extendSeconds <= 0 {
		return fmt.Errorf("extendSeconds must be positive")
	}
	ok, err := q.rdb.Expire(ctx, keyLease(taskID), time.Duration(extendSeconds)*time.Second).Result()
	if err != nil {
		return fmt.Errorf("redis EXPIRE lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("lease for %s no longer held", taskID)
	}
	return nil
}

func (q *redisQueue) Ack(ctx context.Context, taskID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, keyInprog, taskID)
	pipe.SRem(ctx, keyQueued, taskID)
	pipe.HDel(ctx, keyAttempts, taskID)
	pipe.Del(ctx, keyLease(taskID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis ack: %w", err)
	}
	return nil
}

func (q *redisQueue) Nack(ctx context.Context, taskID string, delaySeconds int) error {
	if delaySeconds <= 0 {
		attempts, err := q.rdb.HGet(ctx, keyAttempts, taskID).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("redis HGET attempts: %w", err)
		}
		n, _ := strconv.Atoi(attempts)
		delaySeconds = backoff.Compute(q.backoffPolicy, q.backoffBaseSeconds, q.backoffMaxSeconds, n, q.rng)
	}
	visibleAt := q.now().Add(time.Duration(delaySeconds) * time.Second).UTC().Unix()

	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, keyInprog, taskID)
	pipe.Del(ctx, keyLease(taskID))
	pipe.ZAdd(ctx, keyDelayed, &redis.Z{Score: float64(visibleAt), Member: taskID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis nack: %w", err)
	}
	return nil
}

func (q *redisQueue) Contains(ctx context.Context, taskID string) (bool, error) {
	ok, err := q.rdb.SIsMember(ctx, keyQueued, taskID).Result()
	if err != nil {
		return false, fmt.Errorf("redis SISMEMBER queued: %w", err)
	}
	return ok, nil
}

func (q *redisQueue) Depths(ctx context.Context) (*domain.QueueDepthResponse, error) {
	pending, err := q.rdb.LLen(ctx, keyPending).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	delayed, err := q.rdb.ZCard(ctx, keyDelayed).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	inprog, err := q.rdb.SCard(ctx, keyInprog).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	queued, err := q.rdb.SCard(ctx, keyQueued).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return &domain.QueueDepthResponse{
		Pending:    pending,
		Delayed:    delayed,
		InProgress: inprog,
		Queued:     queued,
	}, nil
}

// promoteDue moves delayed jobs whose redelivery time has arrived back to the
// pending list.
func (q *redisQueue) promoteDue(ctx context.Context, limit int) (int, error) {
	maxTS := strconv.FormatInt(q.now().UTC().Unix(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf", Max: maxTS, Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("redis ZRANGEBYSCORE delayed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, keyDelayed, id)
		pipe.LPush(ctx, keyPending, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// requeueExpired scans a sample of in-progress jobs and reschedules any whose
// lease has lapsed, which is how a crashed worker's job comes back.
func (q *redisQueue) requeueExpired(ctx context.Context, inspectLimit int) (int, error) {
	ids, err := q.rdb.SRandMemberN(ctx, keyInprog, int64(inspectLimit)).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("redis SRANDMEMBER inprog: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.rdb.Pipeline()
	ttls := make([]*redis.DurationCmd, 0, len(ids))
	for _, id := range ids {
		ttls = append(ttls, pipe.TTL(ctx, keyLease(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, fmt.Errorf("pipeline TTL leases: %w", err)
	}

	moved := 0
	for i, id := range ids {
		ttl, err := ttls[i].Result()
		if err != nil && err != redis.Nil {
			return moved, fmt.Errorf("TTL lease: %w", err)
		}
		if ttl > 0 {
			continue
		}
		metrics.LeaseExpiredTotal.Inc()
		if err := q.Nack(ctx, id, 0); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
