package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/jobtracker/internal/api"
	apptracking "github.com/ahrav/jobtracker/internal/app/tracking"
	"github.com/ahrav/jobtracker/internal/config"
	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/internal/infra/eventbus/kafka"
	"github.com/ahrav/jobtracker/internal/infra/eventbus/memory"
	"github.com/ahrav/jobtracker/internal/infra/storage"
	memstore "github.com/ahrav/jobtracker/internal/infra/storage/tracking/memory"
	pgstore "github.com/ahrav/jobtracker/internal/infra/storage/tracking/postgres"
	redisstore "github.com/ahrav/jobtracker/internal/infra/storage/tracking/redis"
	sqlitestore "github.com/ahrav/jobtracker/internal/infra/storage/tracking/sqlite"
	"github.com/ahrav/jobtracker/internal/infra/worker"
	"github.com/ahrav/jobtracker/pkg/common"
	"github.com/ahrav/jobtracker/pkg/common/logger"
	"github.com/ahrav/jobtracker/pkg/common/otel"
)

var build = "develop"

const serviceType = "jobtracker"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	configPath := flag.String("config", os.Getenv("JOBTRACKER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	ctx := context.Background()

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("parsing log level: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	svcName := fmt.Sprintf("JOBTRACKER-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}
	logr := logger.NewWithMetadata(os.Stdout, level, svcName, otel.GetTraceID, logEvents, metadata)

	if err := run(ctx, logr, cfg, hostname); err != nil {
		logr.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/healthz":      {},
			"/v1/readiness": {},
			"/v1/liveness":  {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(context.Background())

	tracer := providers.Tracer.Tracer(cfg.Telemetry.ServiceName)

	// -------------------------------------------------------------------------
	// Job Record Store
	log.Info(ctx, "startup", "status", "initializing job store", "driver", cfg.Store.Driver)

	store, ready, closeStore, err := openStore(ctx, log, cfg.Store, tracer)
	if err != nil {
		return err
	}
	defer closeStore()

	// -------------------------------------------------------------------------
	// Job Event Publisher
	publisher, closePublisher, err := openPublisher(ctx, log, cfg.Kafka, providers, tracer)
	if err != nil {
		return err
	}
	defer closePublisher()

	// -------------------------------------------------------------------------
	// Worker Client
	functions := make(map[tracking.JobKind]string, len(cfg.Worker.Functions))
	for name, fn := range cfg.Worker.Functions {
		if kind := tracking.ParseJobKind(name); kind != "" {
			functions[kind] = fn
		}
	}
	workerClient := worker.NewClient(worker.Config{
		BaseURL:           cfg.Worker.BaseURL,
		APIKey:            cfg.Worker.APIKey,
		Functions:         functions,
		PingFunction:      cfg.Worker.PingFunction,
		Timeout:           cfg.Worker.Timeout,
		RequestsPerSecond: cfg.Worker.RequestsPerSecond,
		Burst:             cfg.Worker.Burst,
	}, nil, log, tracer)

	var pinger tracking.LivenessPinger
	if cfg.Worker.PingFunction != "" {
		pinger = workerClient
	}

	// -------------------------------------------------------------------------
	// Tracker Manager
	trackerMetrics, err := apptracking.NewTrackerMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating tracker metrics: %w", err)
	}

	manager := apptracking.NewManager(apptracking.Config{
		Interval:          cfg.Poller.Interval,
		ReadTimeout:       cfg.Poller.ReadTimeout,
		WriteTimeout:      cfg.Poller.WriteTimeout,
		MaxRetries:        cfg.Poller.MaxRetries,
		MaxBackoff:        cfg.Poller.MaxBackoff,
		MaxJitter:         cfg.Poller.MaxJitter,
		NotFoundTolerance: cfg.Poller.NotFoundTolerance,
		MaxRuntime:        cfg.Poller.MaxRuntime,
		IdleTimeout:       cfg.Poller.IdleTimeout,
		EstimatorInterval: cfg.Poller.EstimatorInterval,
		MaxTrackers:       cfg.Poller.MaxTrackers,
	}, apptracking.Dependencies{
		Store:     store,
		Trigger:   workerClient,
		Pinger:    pinger,
		Publisher: publisher,
		Metrics:   trackerMetrics,
		Logger:    log,
		Tracer:    tracer,
	})
	defer manager.Close()

	// -------------------------------------------------------------------------
	// Start API and Debug Services
	log.Info(ctx, "startup", "status", "initializing API support")

	apiMetrics, err := api.NewAPIMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}
	server := api.NewServer(api.Config{
		Host:            cfg.Web.APIHost,
		Port:            cfg.Web.APIPort,
		ReadTimeout:     cfg.Web.ReadTimeout,
		WriteTimeout:    cfg.Web.WriteTimeout,
		IdleTimeout:     cfg.Web.IdleTimeout,
		ShutdownTimeout: cfg.Web.ShutdownTimeout,
		Build:           build,
	}, log, apiMetrics, manager, ready)

	debugMux, err := api.DebugMux()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return serveDebug(gctx, log, cfg.Web.DebugHost, debugMux) })

	// -------------------------------------------------------------------------
	// Shutdown
	<-gctx.Done()
	log.Info(ctx, "shutdown", "status", "shutdown started")
	defer log.Info(context.Background(), "shutdown", "status", "shutdown complete")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// openStore connects the configured backend. The returned ready func backs
// the readiness check.
func openStore(
	ctx context.Context,
	log *logger.Logger,
	cfg config.StoreConfig,
	tracer trace.Tracer,
) (tracking.JobRecordStore, func(context.Context) error, func(), error) {
	retry := common.DefaultRetryConfig()
	if cfg.ConnectAttempts > 0 {
		retry.MaxAttempts = cfg.ConnectAttempts
	}

	switch cfg.Driver {
	case config.StoreDriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parsing db config: %w", err)
		}
		poolCfg.MinConns = cfg.MinConns
		poolCfg.MaxConns = cfg.MaxConns
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := common.ConnectWithRetry(ctx, log, "postgres", retry, func(ctx context.Context) (*pgxpool.Pool, error) {
			pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
			if err != nil {
				return nil, err
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				return nil, err
			}
			return pool, nil
		})
		if err != nil {
			return nil, nil, nil, err
		}

		if cfg.MigrationsPath != "" {
			log.Info(ctx, "startup", "status", "running migrations", "path", cfg.MigrationsPath)
			if err := storage.Migrate(pool, cfg.MigrationsPath); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
		}
		return pgstore.NewJobStore(pool, tracer), pool.Ping, pool.Close, nil

	case config.StoreDriverSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath, nil, tracer)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Ping, func() { _ = s.Close() }, nil

	case config.StoreDriverRedis:
		client, err := common.ConnectWithRetry(ctx, log, "redis", retry, func(ctx context.Context) (*goredis.Client, error) {
			return redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		})
		if err != nil {
			return nil, nil, nil, err
		}
		ready := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		s := redisstore.NewJobStore(client, nil, tracer, redisstore.WithTTL(cfg.RedisTTL))
		return s, ready, func() { _ = client.Close() }, nil

	default:
		return memstore.NewJobStore(nil), nil, func() {}, nil
	}
}

// openPublisher returns the Kafka publisher when brokers are configured and
// an in-process broker that logs terminal events otherwise.
func openPublisher(
	ctx context.Context,
	log *logger.Logger,
	cfg config.KafkaConfig,
	providers otel.Providers,
	tracer trace.Tracer,
) (tracking.JobEventPublisher, func(), error) {
	if !cfg.Enabled() {
		log.Info(ctx, "startup", "status", "kafka disabled, using in-memory event broker")

		broker := memory.NewBroker(0)
		subCtx, cancel := context.WithCancel(context.Background())
		err := broker.Subscribe(subCtx, func(evt tracking.JobEvent) error {
			log.Info(subCtx, "Job finished",
				"job_id", evt.JobID,
				"kind", evt.Kind,
				"owner_id", evt.OwnerID,
				"status", evt.Status,
				"faq_count", evt.FAQCount,
			)
			return nil
		})
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("subscribing to job events: %w", err)
		}
		return broker, cancel, nil
	}

	log.Info(ctx, "startup", "status", "initializing kafka publisher", "brokers", cfg.Brokers, "topic", cfg.Topic)

	metrics, err := kafka.NewPublisherMetrics(providers.Meter)
	if err != nil {
		return nil, nil, fmt.Errorf("creating kafka metrics: %w", err)
	}

	pub, err := common.ConnectWithRetry(ctx, log, "kafka", common.DefaultRetryConfig(), func(context.Context) (*kafka.Publisher, error) {
		return kafka.ConnectPublisher(&kafka.Config{
			Brokers:        cfg.Brokers,
			JobEventsTopic: cfg.Topic,
			ClientID:       cfg.ClientID,
		}, log, tracer, metrics)
	})
	if err != nil {
		return nil, nil, err
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Error(context.Background(), "closing kafka publisher", "error", err)
		}
	}, nil
}

// serveDebug runs the pprof and statsviz listener until ctx is cancelled.
func serveDebug(ctx context.Context, log *logger.Logger, addr string, h http.Handler) error {
	if addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.NewStdLogger(log, logger.LevelError),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "startup", "status", "debug router started", "host", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug server: %w", err)
	}
	return nil
}
