package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/qbitworks/simq/internal/metrics"
	"github.com/qbitworks/simq/internal/queue"
	"github.com/qbitworks/simq/internal/repository"
	"github.com/qbitworks/simq/pkg/domain"
)

// ReconcilerService repairs orphaned submissions: tasks whose store write
// succeeded but whose enqueue never did. Any task still PENDING past the
// threshold with no live job record gets requeued.
type ReconcilerService interface {
	Start(ctx context.Context)
	Sweep(ctx context.Context) (int, error)
}

type reconcilerService struct {
	repo       repository.TaskRepository
	queue      queue.JobQueue
	logger     *slog.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchLimit int
	now        func() time.Time
}

func NewReconcilerService(repo repository.TaskRepository, q queue.JobQueue, logger *slog.Logger, intervalSeconds, staleAfterSeconds, batchLimit int) ReconcilerService {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 300
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &reconcilerService{
		repo:       repo,
		queue:      q,
		logger:     logger,
		interval:   time.Duration(intervalSeconds) * time.Second,
		staleAfter: time.Duration(staleAfterSeconds) * time.Second,
		batchLimit: batchLimit,
		now:        time.Now,
	}
}

func (s *reconcilerService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("reconciliation sweep failed", "err", err)
			} else if n > 0 {
				s.logger.Info("reconciliation sweep requeued orphans", "count", n)
			}
		}
	}
}

func (s *reconcilerService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	ids, err := s.repo.ListByStatusOlderThan(ctx, domain.StatusPending, cutoff, s.batchLimit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		queued, err := s.queue.Contains(ctx, id)
		if err != nil {
			return requeued, err
		}
		if queued {
			continue
		}
		if err := s.queue.Enqueue(ctx, id); err != nil {
			return requeued, err
		}
		metrics.TaskRequeuedTotal.Inc()
		s.logger.Info("requeued orphaned task", "task_id", id)
		requeued++
	}
	return requeued, nil
}
