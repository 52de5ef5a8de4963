package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qbitworks/simq/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupRepo(t *testing.T) (context.Context, *miniredis.Miniredis, *redis.Client, TaskRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	repo := NewTaskRepository(rdb, time.Now)
	return context.Background(), mr, rdb, repo
}

func newTask(id string) *domain.Task {
	return &domain.Task{ID: id, Circuit: "OPENQASM 3; qubit q;", Shots: 1024}
}

func TestCreateAndGet(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("expected status PENDING, got %s", got.Status)
	}
	if got.Shots != 1024 {
		t.Fatalf("expected shots 1024, got %d", got.Shots)
	}
	if got.SubmittedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}
}

func TestCreateDuplicateID(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create 1: %v", err)
	}
	err := repo.Create(ctx, newTask("t1"))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateRecordAndIndexLandTogether(t *testing.T) {
	ctx, _, rdb, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if exists, _ := rdb.Exists(ctx, keyTask("t1")).Result(); exists != 1 {
		t.Fatalf("expected task record")
	}
	if _, err := rdb.ZScore(ctx, keyStatusIndex(domain.StatusPending), "t1").Result(); err != nil {
		t.Fatalf("created task must be in the PENDING index, got err=%v", err)
	}

	// A duplicate create leaves both the record and the index untouched.
	if err := repo.Create(ctx, newTask("t1")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if n, _ := rdb.ZCard(ctx, keyStatusIndex(domain.StatusPending)).Result(); n != 1 {
		t.Fatalf("expected single index entry, got %d", n)
	}
}

func TestGetMissing(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)

	_, err := repo.Get(ctx, "no-such-task")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkRunningIsIdempotent(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.MarkRunning(ctx, "t1"); err != nil {
		t.Fatalf("mark running 1: %v", err)
	}
	// A redelivery may mark RUNNING again without error.
	got, err := repo.MarkRunning(ctx, "t1")
	if err != nil {
		t.Fatalf("mark running 2: %v", err)
	}
	if got.Status != domain.StatusRunning {
		t.Fatalf("expected RUNNING, got %s", got.Status)
	}
}

func TestCompleteWritesResultAtomically(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.MarkRunning(ctx, "t1"); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	counts := map[string]int{"00": 512, "11": 512}
	got, err := repo.Complete(ctx, "t1", counts)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	if got.Result["00"] != 512 || got.Result["11"] != 512 {
		t.Fatalf("unexpected result: %v", got.Result)
	}

	reread, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reread.Status != domain.StatusCompleted || len(reread.Result) != 2 {
		t.Fatalf("status and result must be visible together, got %s %v", reread.Status, reread.Result)
	}
}

func TestCompleteFromPendingWithoutRunning(t *testing.T) {
	// Progress reporting is best effort; a terminal write straight from
	// PENDING is accepted.
	ctx, _, _, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Complete(ctx, "t1", map[string]int{"0": 1024})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Complete(ctx, "t1", map[string]int{"0": 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := repo.Fail(ctx, "t1", "boom"); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("fail after complete: expected ErrStaleStatus, got %v", err)
	}
	if _, err := repo.Complete(ctx, "t1", map[string]int{"1": 1}); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("complete after complete: expected ErrStaleStatus, got %v", err)
	}
	if _, err := repo.MarkRunning(ctx, "t1"); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("mark running after complete: expected ErrStaleStatus, got %v", err)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusCompleted || got.Result["0"] != 1 {
		t.Fatalf("first terminal write must win, got %s %v", got.Status, got.Result)
	}
}

func TestFailDefaultsMessage(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Fail(ctx, "t1", "")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if got.Status != domain.StatusError {
		t.Fatalf("expected ERROR, got %s", got.Status)
	}
	if got.Error != "Unknown error" {
		t.Fatalf("expected default error message, got %q", got.Error)
	}
}

func TestStatusIndexFollowsTransitions(t *testing.T) {
	ctx, _, rdb, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n, _ := rdb.ZCard(ctx, keyStatusIndex(domain.StatusPending)).Result(); n != 1 {
		t.Fatalf("expected 1 in PENDING index, got %d", n)
	}

	if _, err := repo.MarkRunning(ctx, "t1"); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if n, _ := rdb.ZCard(ctx, keyStatusIndex(domain.StatusPending)).Result(); n != 0 {
		t.Fatalf("expected PENDING index drained, got %d", n)
	}
	if n, _ := rdb.ZCard(ctx, keyStatusIndex(domain.StatusRunning)).Result(); n != 1 {
		t.Fatalf("expected 1 in RUNNING index, got %d", n)
	}

	counts, err := repo.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("status counts: %v", err)
	}
	if counts[domain.StatusRunning] != 1 || counts[domain.StatusPending] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestListByStatusOlderThan(t *testing.T) {
	ctx, _, _, repo := setupRepo(t)

	if err := repo.Create(ctx, newTask("old")); err != nil {
		t.Fatalf("create: %v", err)
	}

	ids, err := repo.ListByStatusOlderThan(ctx, domain.StatusPending, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("expected [old], got %v", ids)
	}

	ids, err = repo.ListByStatusOlderThan(ctx, domain.StatusPending, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("list with past cutoff: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ids before past cutoff, got %v", ids)
	}
}
