package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/qbitworks/simq/pkg/domain"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrNotFound is returned when no task exists for the given id.
	ErrNotFound = errors.New("task not found")
	// ErrAlreadyExists is returned when creating a task whose id is taken.
	ErrAlreadyExists = errors.New("task already exists")
	// ErrStaleStatus is returned when a transition is attempted from a status
	// the caller no longer holds, typically because a redelivered job raced a
	// delivery that already reached a terminal state.
	ErrStaleStatus = errors.New("stale status transition")
)

// TaskRepository is the durable record keeper for task state. It is the sole
// source of truth for status, result and error; all mutations are atomic and
// conditional on the expected prior status.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)

	// MarkRunning flips a PENDING task to RUNNING. Re-marking a task that is
	// already RUNNING is accepted (redeliveries tolerate duplicate progress
	// writes); a terminal task yields ErrStaleStatus.
	MarkRunning(ctx context.Context, id string) (*domain.Task, error)

	// Complete atomically writes the result and the COMPLETED status in a
	// single store write, so no reader can observe one without the other.
	Complete(ctx context.Context, id string, result map[string]int) (*domain.Task, error)

	// Fail atomically writes the failure description and the ERROR status.
	Fail(ctx context.Context, id string, message string) (*domain.Task, error)

	// ListByStatusOlderThan returns up to limit task ids in the given status
	// whose submission time is before the cutoff, oldest first.
	ListByStatusOlderThan(ctx context.Context, status domain.TaskStatus, before time.Time, limit int) ([]string, error)

	// StatusCounts reports how many tasks sit in each status.
	StatusCounts(ctx context.Context) (map[domain.TaskStatus]int64, error)
}

type taskRedisRepo struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTaskRepository(rdb *redis.Client, now func() time.Time) TaskRepository {
	if now == nil {
		now = time.Now
	}
	return &taskRedisRepo{rdb: rdb, now: now}
}

// Each task is its own key so WATCH gives per-task optimistic concurrency;
// the status index orders outstanding work by submission time.
func keyTask(id string) string { return "simq:task:" + id }

func keyStatusIndex(s domain.TaskStatus) string { return "simq:tasks:status:" + string(s) }

// Optimistic transactions retry a bounded number of times on WATCH conflicts.
const txRetries = 5

func marshalTask(t *domain.Task) string {
	b, _ := json.Marshal(t)
	return string(b)
}

func unmarshalTask(js string) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal([]byte(js), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// createScript writes the task record and its status index entry together,
// so a task can never exist without being visible to index scans.
//
// KEYS[1] = task key, KEYS[2] = status index
// ARGV[1] = task json, ARGV[2] = score, ARGV[3] = task id
var createScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

func (r *taskRedisRepo) Create(ctx context.Context, task *domain.Task) error {
	now := r.now().UTC()
	task.SubmittedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = domain.StatusPending
	}

	res, err := createScript.Run(ctx, r.rdb, []string{keyTask(task.ID), keyStatusIndex(task.Status)},
		marshalTask(task), now.Unix(), task.ID).Result()
	if err != nil {
		return fmt.Errorf("redis create task: %w", err)
	}
	if n, _ := res.(int64); n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *taskRedisRepo) Get(ctx context.Context, id string) (*domain.Task, error) {
	js, err := r.rdb.Get(ctx, keyTask(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET task: %w", err)
	}
	return unmarshalTask(js)
}

func (r *taskRedisRepo) MarkRunning(ctx context.Context, id string) (*domain.Task, error) {
	return r.transition(ctx, id, []domain.TaskStatus{domain.StatusPending, domain.StatusRunning}, func(t *domain.Task) {
		t.Status = domain.StatusRunning
	})
}

func (r *taskRedisRepo) Complete(ctx context.Context, id string, result map[string]int) (*domain.Task, error) {
	if result == nil {
		result = map[string]int{}
	}
	return r.transition(ctx, id, []domain.TaskStatus{domain.StatusPending, domain.StatusRunning}, func(t *domain.Task) {
		t.Status = domain.StatusCompleted
		t.Result = result
		t.Error = ""
	})
}

func (r *taskRedisRepo) Fail(ctx context.Context, id string, message string) (*domain.Task, error) {
	if message == "" {
		message = "Unknown error"
	}
	return r.transition(ctx, id, []domain.TaskStatus{domain.StatusPending, domain.StatusRunning}, func(t *domain.Task) {
		t.Status = domain.StatusError
		t.Error = message
		t.Result = nil
	})
}

// transition applies mutate under an optimistic WATCH transaction, keeping
// the status index in step with the task record. The expected-prior-status
// check is what rejects stale writes from redelivered jobs.
func (r *taskRedisRepo) transition(ctx context.Context, id string, from []domain.TaskStatus, mutate func(*domain.Task)) (*domain.Task, error) {
	key := keyTask(id)
	var out *domain.Task

	txn := func(tx *redis.Tx) error {
		js, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis GET task: %w", err)
		}
		t, err := unmarshalTask(js)
		if err != nil {
			return fmt.Errorf("unmarshal task: %w", err)
		}

		allowed := false
		for _, s := range from {
			if t.Status == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrStaleStatus
		}

		prev := t.Status
		mutate(t)
		t.UpdatedAt = r.now().UTC()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, marshalTask(t), 0)
			if prev != t.Status {
				pipe.ZRem(ctx, keyStatusIndex(prev), t.ID)
				pipe.ZAdd(ctx, keyStatusIndex(t.Status), &redis.Z{
					Score:  float64(t.SubmittedAt.Unix()),
					Member: t.ID,
				})
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = t
		return nil
	}

	for i := 0; i < txRetries; i++ {
		err := r.rdb.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("transition %s: too many WATCH conflicts", id)
}

func (r *taskRedisRepo) ListByStatusOlderThan(ctx context.Context, status domain.TaskStatus, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	maxTS := strconv.FormatInt(before.UTC().Unix(), 10)
	ids, err := r.rdb.ZRangeByScore(ctx, keyStatusIndex(status), &redis.ZRangeBy{
		Min: "-inf", Max: maxTS, Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis ZRANGEBYSCORE status index: %w", err)
	}
	return ids, nil
}

func (r *taskRedisRepo) StatusCounts(ctx context.Context) (map[domain.TaskStatus]int64, error) {
	out := make(map[domain.TaskStatus]int64, 4)
	for _, s := range []domain.TaskStatus{domain.StatusPending, domain.StatusRunning, domain.StatusCompleted, domain.StatusError} {
		n, err := r.rdb.ZCard(ctx, keyStatusIndex(s)).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("redis ZCARD status index: %w", err)
		}
		out[s] = n
	}
	return out, nil
}
