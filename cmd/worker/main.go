package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"docextract-backend/internal/bootstrap"
	"docextract-backend/internal/shared/config"
	"docextract-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Configure(cfg.LogLevel)
	defer telemetry.Sync()

	if cfg.QueueBackend == "memory" {
		log.Fatal("worker needs a shared queue; set QUEUE_BACKEND to sqs, redis or amqp")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	telemetry.Info("worker.boot", map[string]any{
		"queue":       cfg.QueueBackend,
		"queue_name":  cfg.QueueName,
		"concurrency": cfg.Pipeline.Concurrency,
		"visibility":  cfg.VisibilityTimeout.String(),
	})

	if err := app.RunPipeline(ctx); err != nil {
		telemetry.Error("worker.stopped", map[string]any{"error": err})
		os.Exit(1)
	}
}
