// Package main wires together the publishing service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsubv1 "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/contentloop/publishd/internal/api"
	"github.com/contentloop/publishd/internal/archive"
	archivegcs "github.com/contentloop/publishd/internal/archive/gcs"
	archivelocal "github.com/contentloop/publishd/internal/archive/local"
	archivememory "github.com/contentloop/publishd/internal/archive/memory"
	"github.com/contentloop/publishd/internal/browser"
	"github.com/contentloop/publishd/internal/clock/system"
	"github.com/contentloop/publishd/internal/config"
	"github.com/contentloop/publishd/internal/credentials"
	"github.com/contentloop/publishd/internal/dispatcher"
	"github.com/contentloop/publishd/internal/events"
	"github.com/contentloop/publishd/internal/events/sinks"
	"github.com/contentloop/publishd/internal/generator"
	iduuid "github.com/contentloop/publishd/internal/id/uuid"
	"github.com/contentloop/publishd/internal/limiter"
	"github.com/contentloop/publishd/internal/logging"
	"github.com/contentloop/publishd/internal/metrics"
	"github.com/contentloop/publishd/internal/pipeline"
	"github.com/contentloop/publishd/internal/preflight"
	queuememory "github.com/contentloop/publishd/internal/queue/memory"
	storememory "github.com/contentloop/publishd/internal/store/memory"
	storepostgres "github.com/contentloop/publishd/internal/store/postgres"
	"github.com/contentloop/publishd/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath, os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entries := make([]credentials.Entry, 0, len(cfg.Sites))
	for _, s := range cfg.Sites {
		entries = append(entries, credentials.Entry{URL: s.URL, Username: s.Username, Password: s.Password})
	}
	resolver, err := credentials.NewResolver(entries)
	if err != nil {
		logger.Fatal("credential configuration invalid", zap.Error(err))
	}

	jobStore, recovered, storeCleanup, err := buildJobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	defer storeCleanup()

	queue := queuememory.NewQueue(cfg.Pool.QueueDepth)

	artifacts, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		logger.Fatal("artifact store init failed", zap.Error(err))
	}

	hub, err := buildEventHub(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("event hub init failed", zap.Error(err))
	}

	engine, err := browser.New(browser.Config{
		UserAgent:      cfg.Browser.UserAgent,
		NavTimeout:     time.Duration(cfg.Browser.NavTimeoutSeconds) * time.Second,
		StepTimeout:    time.Duration(cfg.Browser.StepTimeoutSeconds) * time.Second,
		ConfirmTimeout: time.Duration(cfg.Browser.ConfirmTimeoutSeconds) * time.Second,
		Headless:       cfg.Browser.Headless,
	}, logger.Named("browser"))
	if err != nil {
		logger.Fatal("browser engine init failed", zap.Error(err))
	}
	defer engine.Close()

	gen := generator.New(generator.Config{
		Endpoint: cfg.Generator.Endpoint,
		APIKey:   cfg.Generator.APIKey,
		Timeout:  cfg.GeneratorTimeout(),
	})
	probe := preflight.New(preflight.Config{
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   15 * time.Second,
	})
	throttle := &measuredThrottle{inner: limiter.New(cfg.Pool.RateLimit, cfg.RateWindow())}
	clock := system.New()
	idGen := iduuid.NewUUIDGenerator()

	workerCfg := worker.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffBase: cfg.BackoffBase(),
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Pool.Size; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			resolver,
			gen,
			engine,
			probe,
			artifacts,
			throttle,
			hub,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	// Jobs interrupted by a previous shutdown go back onto the queue before
	// workers start.
	go refillQueue(ctx, queue, recovered, logger)

	apiServer := api.NewServer(jobStore, dispatch, resolver, engine, idGen, clock, hub, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("pool_size", cfg.Pool.Size))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("event hub shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildJobStore selects Postgres when a DSN is configured, recovering any
// jobs a previous process left behind, and falls back to the in-memory
// store otherwise.
func buildJobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.JobStore, []pipeline.QueueItem, func(), error) {
	if cfg.DB.DSN == "" {
		store := storememory.NewJobStore(storememory.Config{
			RetainCompleted: cfg.DB.RetainCompleted,
			RetainFailed:    cfg.DB.RetainFailed,
		})
		return store, nil, func() {}, nil
	}

	store, err := storepostgres.NewJobStore(ctx, storepostgres.Config{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.Table,
		MaxConns:        cfg.DB.MaxConns,
		RetainCompleted: cfg.DB.RetainCompleted,
		RetainFailed:    cfg.DB.RetainFailed,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	recovered, err := store.RecoverQueued(ctx)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	if len(recovered) > 0 {
		logger.Info("recovered queued jobs from previous run", zap.Int("count", len(recovered)))
	}
	return store, recovered, store.Close, nil
}

func buildArtifactStore(ctx context.Context, cfg config.Config) (pipeline.ArtifactStore, error) {
	switch cfg.Archive.Provider {
	case "", "none":
		return archive.NopStore{}, nil
	case "memory":
		return archivememory.New(), nil
	case "local":
		store, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := archivegcs.New(client, archivegcs.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive provider %q", cfg.Archive.Provider)
	}
}

// buildEventHub assembles the sink list from configuration: logs always,
// Prometheus always, Pub/Sub when a topic is configured.
func buildEventHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*events.Hub, error) {
	sinkList := []events.Sink{sinks.NewLogSink(logger.Named("events"))}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicID != "" {
		client, err := pubsubv1.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := sinks.NewGCPTopic(client.Topic(cfg.PubSub.TopicID))
		sinkList = append(sinkList, sinks.NewPubSubSink(topic))
		logger.Info("pubsub outcome sink enabled",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicID),
		)
	}

	return events.NewHub(events.Config{
		BaseContext: context.Background(),
		Logger:      logger.Named("events-hub"),
	}, sinkList...), nil
}

// refillQueue pushes recovered jobs back onto the in-process queue. It runs
// in the background so a full queue delays recovery instead of startup.
func refillQueue(ctx context.Context, queue *queuememory.Queue, items []pipeline.QueueItem, logger *zap.Logger) {
	for _, item := range items {
		if err := queue.Enqueue(ctx, item); err != nil {
			logger.Error("requeue recovered job failed", zap.String("job_id", item.JobID), zap.Error(err))
			return
		}
	}
}

// measuredThrottle records how long workers spend waiting on the global
// throughput cap.
type measuredThrottle struct {
	inner *limiter.Limiter
}

func (t *measuredThrottle) Wait(ctx context.Context) error {
	start := time.Now()
	err := t.inner.Wait(ctx)
	metrics.ObserveThrottleDelay(time.Since(start))
	return err
}
