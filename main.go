package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/activities"
	"github.com/openreport-ai/orchestrator/internal/auth"
	"github.com/openreport-ai/orchestrator/internal/circuitbreaker"
	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/db"
	"github.com/openreport-ai/orchestrator/internal/gate"
	"github.com/openreport-ai/orchestrator/internal/health"
	"github.com/openreport-ai/orchestrator/internal/httpapi"
	"github.com/openreport-ai/orchestrator/internal/providers/llm"
	"github.com/openreport-ai/orchestrator/internal/providers/search"
	"github.com/openreport-ai/orchestrator/internal/ratecontrol"
	"github.com/openreport-ai/orchestrator/internal/server"
	"github.com/openreport-ai/orchestrator/internal/streaming"
	orchtemporal "github.com/openreport-ai/orchestrator/internal/temporal"
	"github.com/openreport-ai/orchestrator/internal/tracing"
	"github.com/openreport-ai/orchestrator/internal/workflows"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	circuitbreaker.StartMetricsCollection()

	loader, err := config.NewLoader(configPath(), logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg := loader.Get()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	streaming.Configure(cfg.StreamingRingCapacity)

	// Health endpoints come up first so readiness probes respond while the
	// rest of the process is still connecting.
	hm := health.NewManager(logger)
	healthSrv := health.StartHealthServer(hm, cfg.HealthPort, logger)
	go func() {
		if err := hm.Start(ctx); err != nil {
			logger.Error("Health manager failed to start", zap.Error(err))
		}
	}()

	dbClient, err := db.NewClient(cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database client", zap.Error(err))
	}
	defer dbClient.Close()
	store := db.NewRunStore(dbClient, logger)

	dbWrapper := circuitbreaker.NewDatabaseWrapper(dbClient.DB(), logger)
	if err := hm.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.DB(), dbWrapper, logger)); err != nil {
		logger.Warn("Failed to register database health checker", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	gateStore := gate.NewStore(redisClient, logger)

	redisWrapper := circuitbreaker.NewRedisWrapper(redisClient, logger)
	if err := hm.RegisterChecker(health.NewRedisHealthChecker(redisClient, redisWrapper, logger)); err != nil {
		logger.Warn("Failed to register redis health checker", zap.Error(err))
	}

	llmClient := llm.NewHTTPClient(cfg.Providers.LLMServiceURL, logger)
	if err := hm.RegisterChecker(health.NewLLMServiceHealthChecker(cfg.Providers.LLMServiceURL, logger)); err != nil {
		logger.Warn("Failed to register LLM health checker", zap.Error(err))
	}

	registry := search.NewRegistry(logger)
	registry.Register(search.NewWebProvider(cfg.Providers.WebSearchURL, cfg.Providers.WebSearchAPIKey, logger))
	registry.Register(search.NewAcademicProvider(cfg.Providers.AcademicSearchURL, logger))
	if cfg.Providers.PatentSearchURL != "" {
		registry.Register(search.NewPatentProvider(cfg.Providers.PatentSearchURL, logger))
	}

	var index *search.Index
	if cfg.Providers.LocalIndexPath != "" {
		index, err = search.OpenIndex(cfg.Providers.LocalIndexPath)
		if err != nil {
			logger.Warn("Failed to open local document index; local search disabled",
				zap.String("path", cfg.Providers.LocalIndexPath), zap.Error(err))
		} else {
			defer index.Close()
			registry.Register(search.NewLocalProvider(index, logger))
		}
	}

	// Rate limits for outbound providers hot-reload with providers.yaml.
	if watcher := newConfigWatcher(loader, logger); watcher != nil {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    orchtemporal.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	temporalChecker := health.NewCustomHealthChecker("temporal", true, 5*time.Second, func(ctx context.Context) health.CheckResult {
		if _, err := temporalClient.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
			return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: "Temporal connection healthy"}
	})
	if err := hm.RegisterChecker(temporalChecker); err != nil {
		logger.Warn("Failed to register temporal health checker", zap.Error(err))
	}

	w := worker.New(temporalClient, workflows.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Temporal.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Temporal.MaxConcurrentWorkflows,
	})
	w.RegisterWorkflow(workflows.ResearchRunWorkflow)
	w.RegisterActivity(activities.NewActivities(store, gateStore, registry, llmClient, index, logger))

	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start Temporal worker", zap.Error(err))
	}
	defer w.Stop()
	logger.Info("Temporal worker started", zap.String("task_queue", workflows.TaskQueue))

	svc := server.NewService(temporalClient, store, gateStore, cfg.Defaults, logger)

	mux := http.NewServeMux()
	handler := httpapi.NewHandler(svc, streaming.Get(), index, logger)
	handler.RegisterRoutes(mux)

	middleware := auth.NewMiddleware(auth.NewVerifier(cfg.Auth.JWTSecret), cfg.Auth.SkipAuth)
	apiSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:      middleware.HTTPMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the connection open
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.HTTPPort))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	metricsSrv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown error", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)
	if err := hm.Stop(); err != nil {
		logger.Warn("Health manager stop error", zap.Error(err))
	}
	cancel()
}

// configPath resolves the service config file: ORCH_CONFIG wins, then the
// conventional location if it exists, otherwise defaults plus environment.
func configPath() string {
	if p := os.Getenv("ORCH_CONFIG"); p != "" {
		return p
	}
	p := filepath.Join("config", "orchestrator.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// newConfigWatcher wires hot reload for the files under config/: the service
// config re-unmarshals through the loader, and providers.yaml refreshes the
// outbound rate limits. Missing directory disables watching.
func newConfigWatcher(loader *config.Loader, logger *zap.Logger) *config.Watcher {
	dir := "config"
	if p := os.Getenv("ORCH_CONFIG"); p != "" {
		dir = filepath.Dir(p)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	watcher, err := config.NewWatcher(dir, logger)
	if err != nil {
		logger.Warn("Config watcher init failed", zap.Error(err))
		return nil
	}
	watcher.OnChange("orchestrator.yaml", func(string) error { return loader.Reload() })
	watcher.OnChange("providers.yaml", func(string) error {
		ratecontrol.Reload()
		return nil
	})
	return watcher
}
