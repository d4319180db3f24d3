// Package main 生成流水线 worker 入口
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"manuscript-ai-api/internal/config"
	einoobs "manuscript-ai-api/internal/observability/eino"
	"manuscript-ai-api/internal/wire"
	"manuscript-ai-api/pkg/logger"
	"manuscript-ai-api/pkg/tracer"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "pipeline-worker",
		Version:     Version,
		Environment: cfg.App.Env,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	einoobs.Init()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	worker.Pool.Start(ctx)
	go worker.Sweeper.Run(ctx)
	logger.Info(ctx, "pipeline-worker started",
		"version", Version,
		"concurrency", cfg.Pipeline.Worker.Concurrency,
		"messaging", cfg.Messaging.Backend,
	)

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down pipeline-worker...")
	worker.Pool.Stop()
	logger.Info(context.Background(), "pipeline-worker exited")
}
