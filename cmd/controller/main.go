// Package main is the entry point for the jobrelay controller.
// The controller serves the job API, publishes queue depth to the
// autoscaler and fails jobs whose worker stopped heartbeating.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobrelay/internal/autoscale"
	"jobrelay/internal/config"
	"jobrelay/internal/controller"
	"jobrelay/internal/controller/handlers"
	"jobrelay/internal/logger"
	"jobrelay/internal/observability"
	"jobrelay/internal/reaper"
	"jobrelay/internal/store/memstore"
	"jobrelay/internal/store/postgres"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"go.opentelemetry.io/otel"
)

type controllerStore interface {
	handlers.Store
	Close() error
}

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
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

	store, err := openStore(ctx, cfg, *migrateFlag, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "jobrelay-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "jobrelay-controller")
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	publisher, err := newPublisher(ctx, cfg, store, log)
	if err != nil {
		log.Error("failed to set up autoscaling", "error", err)
		os.Exit(1)
	}
	go publisher.Run(ctx)

	sweeper := reaper.New(store, cfg.ReaperInterval, cfg.StuckAfter, log)
	go sweeper.Run(ctx)

	h := handlers.New(store, publisher, cfg.FailedWindow, log)
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, h, controller.Config{
		InternalSecret:     cfg.InternalSecret,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, metricsHandler, log)

	go func() {
		log.Info("jobrelay controller starting", "addr", addr, "store", cfg.StoreDriver)
		if err := srv.Run(ctx); err != nil {
			log.Error("server stopped", "error", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down controller")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("server exited properly")
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool, log *slog.Logger) (controllerStore, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store; jobs are lost on restart")
		return memstore.New(), nil
	}

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if migrate {
		log.Info("running database migrations")
		version, err := postgres.Migrate(store.DB())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		log.Info("migrations completed", "version", version)
	}
	return store, nil
}

func newPublisher(ctx context.Context, cfg *config.Config, store controllerStore, log *slog.Logger) (*autoscale.Publisher, error) {
	gauges, err := autoscale.NewGaugeSink(otel.Meter("jobrelay-controller"))
	if err != nil {
		return nil, err
	}
	sinks := []autoscale.Sink{gauges}

	var scaler autoscale.Scaler
	if cfg.Scaler == config.ScalerECS || cfg.CloudWatchNamespace != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		if cfg.CloudWatchNamespace != "" {
			sinks = append(sinks, autoscale.NewCloudWatchSink(cloudwatch.NewFromConfig(awsCfg), cfg.CloudWatchNamespace, cfg.ECSService))
		}
		if cfg.Scaler == config.ScalerECS {
			scaler = autoscale.NewECSScaler(ecs.NewFromConfig(awsCfg), cfg.ECSCluster, cfg.ECSService, log)
		}
	}
	if scaler == nil {
		scaler = autoscale.NewLogScaler(cfg.Autoscale.MinWorkers, log)
	}

	return autoscale.NewPublisher(store, autoscale.NewPolicy(cfg.Autoscale), scaler, sinks, autoscale.PublisherConfig{
		Interval:     cfg.AutoscaleInterval,
		FailedWindow: cfg.FailedWindow,
	}, log), nil
}
