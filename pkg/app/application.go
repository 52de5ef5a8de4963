package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/qbitworks/simq/internal/metrics"
	"github.com/qbitworks/simq/internal/middleware"
	"github.com/qbitworks/simq/internal/providers"
	"github.com/qbitworks/simq/internal/queue"
	"github.com/qbitworks/simq/internal/ratelimit"
	"github.com/qbitworks/simq/internal/repository"
	"github.com/qbitworks/simq/internal/services"
	"github.com/qbitworks/simq/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Redis       *redis.Client
	Repo        repository.TaskRepository
	Queue       queue.JobQueue
	Submission  services.SubmissionService
	Status      services.StatusService
	Reconciler  services.ReconcilerService
	Logger      *slog.Logger
	RateLimiter ratelimit.Limiter

	backgroundSweep bool
}

// ApplicationOption configures the Application.
type ApplicationOption func(*Application) error

// WithoutBackgroundSweep disables the periodic reconciliation loop; the
// admin endpoint still allows manual sweeps. Used by tests.
func WithoutBackgroundSweep() ApplicationOption {
	return func(app *Application) error {
		app.backgroundSweep = false
		return nil
	}
}

func NewLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "simq", "env", cfg.Env)
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	redisClient := providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)

	logger := NewLogger(cfg)
	slog.SetDefault(logger)

	repo := repository.NewTaskRepository(redisClient, time.Now)
	jobQueue := queue.New(redisClient, cfg.BackoffPolicy, cfg.BackoffBaseSeconds, cfg.BackoffMaxSeconds)
	limiter := ratelimit.NewTokenBucketLimiter(redisClient)

	submission := services.NewSubmissionService(repo, jobQueue, logger, cfg.MaxCircuitBytes, cfg.DefaultShots, cfg.MaxShots)
	status := services.NewStatusService(repo)
	reconciler := services.NewReconcilerService(repo, jobQueue, logger,
		cfg.ReconcileIntervalSeconds, cfg.ReconcileAfterSeconds, cfg.ReconcileBatchLimit)

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggerMiddleware(logger))

	app := &Application{
		Config:          cfg,
		Engine:          engine,
		Redis:           redisClient,
		Repo:            repo,
		Queue:           jobQueue,
		Submission:      submission,
		Status:          status,
		Reconciler:      reconciler,
		Logger:          logger,
		RateLimiter:     limiter,
		backgroundSweep: true,
	}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.backgroundSweep {
		go reconciler.Start(context.Background())
	}
	return app, nil
}

type depthSource struct {
	queue queue.JobQueue
	repo  repository.TaskRepository
}

func (d depthSource) QueueDepths(ctx context.Context) (int64, int64, int64, error) {
	depths, err := d.queue.Depths(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	return depths.Pending, depths.Delayed, depths.InProgress, nil
}

func (d depthSource) StatusCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := d.repo.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(counts))
	for s, n := range counts {
		out[string(s)] = n
	}
	return out, nil
}

// RegisterCollectors wires the scrape-time queue/status gauges. Separate from
// NewApplication because prometheus registration is process-global and tests
// construct multiple applications.
func RegisterCollectors(app *Application) {
	metrics.RegisterQueueCollector(depthSource{queue: app.Queue, repo: app.Repo}, app.Logger)
}
