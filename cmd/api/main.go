package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docextract-backend/internal/bootstrap"
	"docextract-backend/internal/shared/config"
	"docextract-backend/internal/shared/server"
	"docextract-backend/internal/shared/telemetry"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg := config.Load()
	telemetry.Configure(cfg.LogLevel)
	defer telemetry.Sync()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The in-memory queue only lives in this process, so consume it here.
	pipelineDone := make(chan error, 1)
	if cfg.QueueBackend == "memory" {
		go func() { pipelineDone <- app.RunPipeline(ctx) }()
	} else {
		close(pipelineDone)
	}

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		telemetry.Info("api.listening", map[string]any{"addr": srv.Addr, "env": cfg.Env, "queue": cfg.QueueBackend})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	telemetry.Info("api.shutdown", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Error("api.shutdown_failed", map[string]any{"error": err})
	}
	if err := <-pipelineDone; err != nil {
		telemetry.Error("api.pipeline_stopped", map[string]any{"error": err})
	}
}
