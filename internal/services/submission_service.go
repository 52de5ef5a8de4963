package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qbitworks/simq/internal/metrics"
	"github.com/qbitworks/simq/internal/queue"
	"github.com/qbitworks/simq/internal/repository"
	"github.com/qbitworks/simq/internal/tracing"
	"github.com/qbitworks/simq/pkg/domain"

	"github.com/google/uuid"
)

// ErrInvalidPayload marks synchronous validation failures; the task is never
// created.
var ErrInvalidPayload = errors.New("invalid payload")

// SubmissionService accepts a circuit, records a PENDING task, and queues it
// for asynchronous execution. It never waits on execution.
type SubmissionService interface {
	Submit(ctx context.Context, circuit string, shots int) (*domain.Task, error)
}

type submissionService struct {
	repo            repository.TaskRepository
	queue           queue.JobQueue
	logger          *slog.Logger
	maxCircuitBytes int
	defaultShots    int
	maxShots        int
}

func NewSubmissionService(repo repository.TaskRepository, q queue.JobQueue, logger *slog.Logger, maxCircuitBytes, defaultShots, maxShots int) SubmissionService {
	if maxCircuitBytes <= 0 {
		maxCircuitBytes = 200_000
	}
	if defaultShots <= 0 {
		defaultShots = 1024
	}
	if maxShots <= 0 {
		maxShots = 100_000
	}
	return &submissionService{
		repo:            repo,
		queue:           q,
		logger:          logger,
		maxCircuitBytes: maxCircuitBytes,
		defaultShots:    defaultShots,
		maxShots:        maxShots,
	}
}

func (s *submissionService) Submit(ctx context.Context, circuit string, shots int) (*domain.Task, error) {
	if strings.TrimSpace(circuit) == "" {
		return nil, fmt.Errorf("%w: qc must not be empty", ErrInvalidPayload)
	}
	if len(circuit) > s.maxCircuitBytes {
		return nil, fmt.Errorf("%w: qc exceeds %d characters", ErrInvalidPayload, s.maxCircuitBytes)
	}
	if shots < 0 || shots > s.maxShots {
		return nil, fmt.Errorf("%w: shots must be between 0 and %d", ErrInvalidPayload, s.maxShots)
	}
	if shots == 0 {
		shots = s.defaultShots
	}

	traceParent, traceState := tracing.TraceContextStrings(ctx)
	task := &domain.Task{
		ID:          uuid.NewString(),
		Status:      domain.StatusPending,
		Circuit:     circuit,
		Shots:       shots,
		TraceParent: traceParent,
		TraceState:  traceState,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	metrics.TaskSubmittedTotal.Inc()

	// The store write and the enqueue are deliberately independent; if the
	// enqueue fails the task stays PENDING until the reconciliation sweep
	// picks it up. Submission availability wins over exactly-once enqueue.
	if err := s.queue.Enqueue(ctx, task.ID); err != nil {
		metrics.TaskOrphanedTotal.Inc()
		s.logger.Warn("enqueue failed after store write; task orphaned until sweep",
			"task_id", task.ID, "err", err)
	}
	return task, nil
}
