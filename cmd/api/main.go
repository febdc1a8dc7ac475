package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixeltune/internal/api"
	"github.com/dunamismax/pixeltune/internal/config"
	"github.com/dunamismax/pixeltune/internal/editor"
	"github.com/dunamismax/pixeltune/internal/imageio"
	"github.com/dunamismax/pixeltune/internal/pipeline"
	"github.com/dunamismax/pixeltune/internal/queue"
	"github.com/dunamismax/pixeltune/internal/ratelimit"
	"github.com/dunamismax/pixeltune/internal/session"
	"github.com/dunamismax/pixeltune/internal/storage"
	"github.com/dunamismax/pixeltune/internal/store"
	"github.com/dunamismax/pixeltune/internal/telemetry"
	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixeltune-api",
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

	sessions := session.NewManager(session.Config{
		TTL:         cfg.Session.TTL,
		MaxSessions: cfg.Session.MaxSessions,
		Editor: []editor.Option{
			editor.WithLimits(imageio.Limits{MaxPixels: cfg.Editor.MaxPixels}),
		},
	}, logger)
	go sessions.Run(ctx, cfg.Session.SweepInterval)

	opts := api.Options{
		Sessions:              sessions,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
		MaxUploadBytes:        cfg.API.MaxUploadBytes,
		PreviewHeight:         cfg.Editor.PreviewHeight,
		QueueName:             cfg.Queue.Name,
	}

	if cfg.Export.AsyncEnabled {
		jobStore, closeStore := openJobStore(ctx, cfg.Database, logger)
		defer closeStore()

		stager, err := newStager(ctx, cfg.Storage)
		if err != nil {
			logger.Fatalf("storage setup failed: %v", err)
		}

		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()

		opts.Queue = queueClient
		opts.JobStore = jobStore
		opts.Stager = stager
		logger.Printf("async exports enabled backend=%s queue=%s", cfg.Storage.Backend, cfg.Queue.Name)
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limiting enabled capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	app := api.NewServer(logger, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf(
			"listening on %s max_upload=%s max_sessions=%d session_ttl=%s",
			cfg.API.Addr,
			humanize.IBytes(uint64(cfg.API.MaxUploadBytes)),
			cfg.Session.MaxSessions,
			cfg.Session.TTL,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// openJobStore connects to Postgres when a DSN is configured. Without one,
// jobs live in this process only and a separate worker cannot update them.
func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.ExportJobStore, func()) {
	if cfg.DSN == "" {
		logger.Printf("POSTGRES_DSN not set, export jobs are kept in memory")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("postgres setup failed: %v", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatalf("postgres schema failed: %v", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
}

func newStager(ctx context.Context, cfg config.StorageConfig) (pipeline.Stager, error) {
	if cfg.Backend != config.StorageBackendMinIO {
		return pipeline.LocalFileStager{Dir: cfg.StagingDir}, nil
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Endpoint,
		Access:   cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Bucket:   cfg.Bucket,
		UseSSL:   cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return pipeline.ObjectStoreStager{Storage: client, UploadPrefix: cfg.UploadPrefix}, nil
}
