package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qbitworks/simq/internal/engine"
	"github.com/qbitworks/simq/internal/providers"
	"github.com/qbitworks/simq/internal/queue"
	"github.com/qbitworks/simq/internal/repository"
	"github.com/qbitworks/simq/internal/tracing"
	"github.com/qbitworks/simq/internal/worker"
	"github.com/qbitworks/simq/pkg/app"
	"github.com/qbitworks/simq/pkg/config"

	"github.com/google/uuid"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cfgPath := getenv("SIMQ_CONFIG_PATH", "")

	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid config:", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName + "-worker",
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] init tracing:", err)
		os.Exit(1)
	}

	rdb := providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	repo := repository.NewTaskRepository(rdb, time.Now)
	jobQueue := queue.New(rdb, cfg.BackoffPolicy, cfg.BackoffBaseSeconds, cfg.BackoffMaxSeconds)
	eng := engine.NewRemoteEngine(cfg.EngineURL, time.Duration(cfg.EngineTimeoutSeconds)*time.Second)

	w := worker.New(jobQueue, repo, eng, logger, worker.Config{
		WorkerID:     getenv("WORKER_ID", "worker-"+uuid.NewString()[:8]),
		LeaseSeconds: cfg.LeaseSeconds,
		InspectLimit: cfg.RequeueInspectLimit,
		MaxAttempts:  cfg.MaxAttempts,
		PollInterval: time.Duration(cfg.PollIntervalMillis) * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	_ = w.Run(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = shutdownTracing(shutdownCtx)
	_ = rdb.Close()
}
