package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/qbitworks/simq/internal/engine"
	"github.com/qbitworks/simq/internal/metrics"
	"github.com/qbitworks/simq/internal/queue"
	"github.com/qbitworks/simq/internal/repository"
	"github.com/qbitworks/simq/internal/tracing"
	"github.com/qbitworks/simq/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	WorkerID     string
	LeaseSeconds int
	InspectLimit int
	MaxAttempts  int
	PollInterval time.Duration
}

// Worker pulls one job at a time and drives the task through
// RUNNING -> {COMPLETED, ERROR}. Execution concurrency is controlled by the
// number of worker processes, not by interleaving jobs within one.
type Worker struct {
	queue  queue.JobQueue
	repo   repository.TaskRepository
	eng    engine.Engine
	logger *slog.Logger
	cfg    Config
}

func New(q queue.JobQueue, repo repository.TaskRepository, eng engine.Engine, logger *slog.Logger, cfg Config) *Worker {
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = 300
	}
	if cfg.InspectLimit <= 0 {
		cfg.InspectLimit = 200
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &Worker{queue: q, repo: repo, eng: eng, logger: logger, cfg: cfg}
}

// Run blocks until ctx is canceled. An in-flight job is finished before
// returning; there is no cancellation of a running execution.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "worker_id", w.cfg.WorkerID, "max_attempts", w.cfg.MaxAttempts)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", "worker_id", w.cfg.WorkerID)
			return ctx.Err()
		default:
		}

		job, ok, err := w.queue.Claim(ctx, w.cfg.WorkerID, w.cfg.LeaseSeconds, w.cfg.InspectLimit)
		if err != nil {
			w.logger.Warn("claim failed", "err", err)
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}
		if !ok {
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}
		metrics.TaskClaimedTotal.Inc()
		w.ProcessJob(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// ProcessJob handles one delivery end to end. It is safe to re-invoke for the
// same task id: duplicate RUNNING writes are tolerated and a second terminal
// write is rejected by the store, in which case the delivery is simply acked.
func (w *Worker) ProcessJob(ctx context.Context, job *queue.Job) {
	log := w.logger.With("task_id", job.TaskID, "attempt", job.Attempts)

	task, err := w.repo.Get(ctx, job.TaskID)
	if errors.Is(err, repository.ErrNotFound) {
		// The queue referred to a task that no longer exists; nothing to
		// update, so the delivery is discarded.
		log.Warn("claimed job for missing task; discarding")
		w.ack(ctx, job.TaskID, log)
		return
	}
	if err != nil {
		log.Warn("load task failed; scheduling redelivery", "err", err)
		w.nack(ctx, job, log)
		return
	}

	execCtx := tracing.ContextWithRemoteParent(ctx, task.TraceParent, task.TraceState)
	execCtx, span := otel.Tracer("simq/worker").Start(execCtx, "simq.task.execute",
		trace.WithAttributes(
			attribute.String("simq.task_id", task.ID),
			attribute.Int("simq.attempt", job.Attempts),
			attribute.Int("simq.shots", task.Shots),
		),
	)
	defer span.End()

	// Best-effort progress reporting, not a lock: two redeliveries may both
	// mark RUNNING and that is fine.
	if _, err := w.repo.MarkRunning(execCtx, task.ID); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			// Already terminal; a previous delivery won the race.
			span.SetStatus(codes.Ok, "already terminal")
			w.ack(execCtx, task.ID, log)
			return
		}
		log.Warn("mark running failed; scheduling redelivery", "err", err)
		span.RecordError(err)
		w.nack(execCtx, job, log)
		return
	}

	stopHeartbeat := w.startHeartbeat(execCtx, task.ID, log)
	counts, runErr := w.eng.Run(execCtx, task.Circuit, task.Shots)
	stopHeartbeat()

	if runErr == nil {
		w.finishCompleted(execCtx, task, counts, log, span)
		return
	}

	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())

	if job.Attempts < w.cfg.MaxAttempts {
		log.Info("execution failed; redelivery with backoff", "err", runErr)
		metrics.TaskRetriedTotal.Inc()
		w.nack(execCtx, job, log)
		return
	}

	// Attempt budget exhausted: record the terminal failure. A secondary
	// persistence failure here is swallowed so it cannot mask the outcome;
	// the job is acked either way and the sweep can still see the task.
	if _, err := w.repo.Fail(execCtx, task.ID, runErr.Error()); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			w.ack(execCtx, task.ID, log)
			return
		}
		log.Warn("persisting ERROR state failed", "err", err)
	}
	log.Info("task failed permanently", "err", runErr, "attempts", job.Attempts)
	w.observeTerminal(task, domain.StatusError)
	w.ack(execCtx, task.ID, log)
}

func (w *Worker) finishCompleted(ctx context.Context, task *domain.Task, counts map[string]int, log *slog.Logger, span trace.Span) {
	if _, err := w.repo.Complete(ctx, task.ID, counts); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			// Another delivery already recorded a terminal state; keep that
			// one and retire this delivery.
			w.ack(ctx, task.ID, log)
			return
		}
		// The result exists but could not be persisted; redeliver the whole
		// job rather than lose it.
		log.Warn("persisting result failed; scheduling redelivery", "err", err)
		span.RecordError(err)
		w.nack(ctx, &queue.Job{TaskID: task.ID}, log)
		return
	}
	log.Info("task completed", "outcomes", len(counts))
	span.SetStatus(codes.Ok, "")
	w.observeTerminal(task, domain.StatusCompleted)
	w.ack(ctx, task.ID, log)
}

func (w *Worker) observeTerminal(task *domain.Task, status domain.TaskStatus) {
	metrics.TaskCompletedTotal.WithLabelValues(string(status)).Inc()
	if d := time.Since(task.SubmittedAt).Seconds(); d >= 0 {
		metrics.TaskExecutionLatencySeconds.WithLabelValues(string(status)).Observe(d)
	}
}

// startHeartbeat extends the lease while the engine runs so a long execution
// is not redelivered as a false-positive crash. Returns a stop function.
func (w *Worker) startHeartbeat(ctx context.Context, taskID string, log *slog.Logger) func() {
	interval := time.Duration(w.cfg.LeaseSeconds) * time.Second / 3
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.ExtendLease(ctx, taskID, w.cfg.LeaseSeconds); err != nil {
					log.Warn("lease extension failed", "err", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

func (w *Worker) ack(ctx context.Context, taskID string, log *slog.Logger) {
	if err := w.queue.Ack(ctx, taskID); err != nil {
		log.Warn("ack failed", "err", err)
	}
}

func (w *Worker) nack(ctx context.Context, job *queue.Job, log *slog.Logger) {
	if err := w.queue.Nack(ctx, job.TaskID, 0); err != nil {
		log.Warn("nack failed", "err", err)
	}
}
