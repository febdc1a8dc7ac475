package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pixeltune/internal/config"
	"github.com/dunamismax/pixeltune/internal/pipeline"
	"github.com/dunamismax/pixeltune/internal/storage"
	"github.com/dunamismax/pixeltune/internal/store"
	"github.com/dunamismax/pixeltune/internal/telemetry"
	"github.com/dunamismax/pixeltune/internal/webhook"
	"github.com/dunamismax/pixeltune/internal/worker"
	"github.com/dustin/go-humanize"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixeltune-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("renderer startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	deps := worker.Deps{
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
	}

	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres setup failed: %v", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatalf("postgres schema failed: %v", err)
		}
		deps.JobStore = pg
		deps.UsageStore = pg
	} else {
		logger.Printf("POSTGRES_DSN not set, job status updates stay in this process")
		deps.JobStore = store.NewMemoryJobStore()
	}

	if cfg.Storage.Backend == config.StorageBackendMinIO {
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("storage setup failed: %v", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			logger.Fatalf("storage bucket check failed: %v", err)
		}
		deps.Storage = client
		logger.Printf("object storage endpoint=%s bucket=%s", cfg.Storage.Endpoint, client.Bucket())
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Storage, cfg.Editor, deps)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s renderer=%s storage=%s max_pixels=%s metrics=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		pipeline.RendererName(),
		cfg.Storage.Backend,
		humanize.Comma(int64(cfg.Editor.MaxPixels)),
		cfg.Worker.MetricsAddr,
	)

	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
