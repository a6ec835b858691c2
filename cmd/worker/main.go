// Package main is the entry point for the jobrelay worker.
// The worker claims jobs from the shared queue, dispatches them to the
// per-type handlers and persists workspace snapshots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"jobrelay/internal/config"
	"jobrelay/internal/gateway"
	"jobrelay/internal/llm"
	"jobrelay/internal/logger"
	"jobrelay/internal/metering"
	"jobrelay/internal/objectstore"
	"jobrelay/internal/observability"
	"jobrelay/internal/progress"
	"jobrelay/internal/snapshot"
	"jobrelay/internal/store"
	"jobrelay/internal/store/memstore"
	"jobrelay/internal/store/postgres"
	"jobrelay/internal/worker"
	"jobrelay/internal/worker/handler"

	"github.com/redis/go-redis/v9"
)

type workerStore interface {
	store.Queue
	store.JobStore
	store.SnapshotStore
	store.UsageStore
	Close() error
}

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: jobrelay.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "jobrelay-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	var db workerStore
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store; only jobs created in this process are visible")
		db = memstore.New()
	} else {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		db = pg
	}
	defer db.Close()

	var objects objectstore.Store
	if cfg.S3.Bucket != "" {
		s3Client, err := objectstore.NewS3Client(ctx, cfg.S3)
		if err != nil {
			log.Error("failed to create object storage client", "error", err)
			os.Exit(1)
		}
		objects = s3Client
	} else {
		log.Warn("no S3 bucket configured; snapshots are kept in memory")
		objects = objectstore.NewMemory("")
	}

	var publisher progress.Publisher
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable; progress fan-out may be delayed", "addr", cfg.RedisAddr, "error", err)
		}
		publisher = rdb
	}
	relay := progress.NewRelay(db, db, objects, publisher, log)

	remote, err := remoteHandler(ctx, cfg, relay, log)
	if err != nil {
		log.Error("agent gateway unreachable", "url", cfg.GatewayURL, "error", err)
		os.Exit(1)
	}

	completer := llm.NewClient(cfg.LLM)
	if !completer.IsConfigured() {
		log.Warn("llm client not configured; chat and research jobs will fail")
	}

	registry := handler.Registry{
		store.JobTypeChatCompletion:  handler.NewChat(completer),
		store.JobTypeResearch:        handler.NewResearch(completer),
		store.JobTypeRemoteAgentTask: remote,
		store.JobTypeEcho:            handler.Echo(),
	}

	var meter worker.Meter
	if cfg.Metered {
		meter = metering.New(db, metering.DefaultConfig(), log)
	}

	snapshots := snapshot.New(objects, db, cfg.WorkspaceDir, log)

	agents := make([]*worker.Agent, 0, cfg.WorkerConcurrency)
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		id := cfg.WorkerID
		if cfg.WorkerConcurrency > 1 {
			id = fmt.Sprintf("%s-%d", cfg.WorkerID, i)
		}
		agent := worker.New(db, registry, snapshots, meter, worker.AgentConfig{
			ID:                id,
			PollInterval:      cfg.WorkerPollInterval,
			MaxBackoff:        cfg.WorkerMaxBackoff,
			HeartbeatInterval: cfg.WorkerHeartbeatInterval,
			JobTimeout:        cfg.JobTimeout,
		}, log)
		agents = append(agents, agent)
		go agent.Run(ctx)
	}
	log.Info("worker started", "worker_id", cfg.WorkerID, "concurrency", cfg.WorkerConcurrency)

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "jobrelay-worker")
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	// Dedicated metrics server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		addr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
		log.Info("worker metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker; waiting for in-flight jobs")
	cancel()

	for _, agent := range agents {
		<-agent.Done()
	}
	log.Info("worker exited properly")
}

// remoteHandler probes the gateway at startup. Without a gateway URL remote
// jobs fail fast instead of waiting for a connection.
func remoteHandler(ctx context.Context, cfg *config.Config, relay *progress.Relay, log *slog.Logger) (handler.Handler, error) {
	if cfg.GatewayURL == "" {
		log.Warn("no agent gateway configured; remote_agent_task jobs will fail")
		return handler.Unavailable(), nil
	}

	adapter := gateway.New(gateway.Config{
		URL:           cfg.GatewayURL,
		Token:         cfg.GatewayToken,
		Timeout:       cfg.GatewayTimeout,
		ProbeAttempts: cfg.GatewayProbeAttempts,
	}, log)
	if err := adapter.Probe(ctx); err != nil {
		return nil, err
	}
	log.Info("agent gateway reachable", "url", cfg.GatewayURL)
	return handler.NewRemote(adapter, relay), nil
}
