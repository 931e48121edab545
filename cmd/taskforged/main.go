package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/common/config"
	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/executor"
	"github.com/taskforge/taskforge/internal/monitor"
	"github.com/taskforge/taskforge/internal/orchestrator"
	"github.com/taskforge/taskforge/internal/resilience/breaker"
	"github.com/taskforge/taskforge/internal/resilience/retry"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/server/api"
	"github.com/taskforge/taskforge/internal/task/store"
	"github.com/taskforge/taskforge/internal/telemetry"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger. The service log is the rotating global.log
	// under the data directory unless overridden.
	outputPath := cfg.Logging.OutputPath
	if outputPath == "" {
		outputPath = cfg.Data.GlobalLogFile()
	}
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: outputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting taskforge service...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Open the task store. A corrupted state file refuses to run.
	st, err := store.NewStore(cfg.Data.DatabaseFile(), cfg.Data.TaskLogDir(), log)
	if err != nil {
		log.Fatal("failed to open task store", zap.Error(err))
	}
	defer st.Close()
	log.Info("task store ready", zap.String("path", cfg.Data.DatabaseFile()))

	// 5. Metrics registry
	metrics := telemetry.New()

	// 6. Resilience layer: breakers and the retry controller
	breakers, err := breaker.NewRegistry(cfg.Data.BreakerDir(), breaker.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		Cooldown:          cfg.Breaker.Cooldown(),
		HalfOpenSuccesses: cfg.Breaker.HalfOpenSuccesses,
		Retention:         cfg.Breaker.Retention(),
	}, log)
	if err != nil {
		log.Fatal("failed to open breaker registry", zap.Error(err))
	}

	retrier := retry.NewController(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay(),
		MaxDelay:    cfg.Retry.MaxDelay(),
		Schedule:    retry.Schedule(cfg.Retry.Schedule),
	}, breakers, log)

	// 7. Agent invoker and executor
	invoker := agent.NewInvoker(cfg.Executor.AgentCommand, log)
	exec := executor.New(st, invoker, retrier, cfg.Executor, metrics, log)

	// 8. Orchestrator and scheduler
	orch := orchestrator.New(st, log)
	sched := scheduler.New(st, exec, orch, metrics, cfg.Executor.MaxConcurrent, log)

	if err := sched.Start(ctx); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}
	log.Info("scheduler started", zap.Int("max_concurrent", cfg.Executor.MaxConcurrent))

	// 9. Resource monitor
	mon, err := monitor.New(cfg.Monitor, cfg.Data.Dir, metrics, log)
	if err != nil {
		log.Fatal("failed to start resource monitor", zap.Error(err))
	}
	mon.Start(ctx)

	// 10. Periodic maintenance. The breaker sweep and the ring trim
	// MUST be scheduled; skipping them leaks disk and memory.
	maintenance := cron.New()
	if _, err := maintenance.AddFunc("@every 1h", func() {
		breakers.Sweep()
		mon.Trim()
	}); err != nil {
		log.Fatal("failed to schedule maintenance", zap.Error(err))
	}
	maintenance.Start()

	// 11. HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	// Observe wraps Recovery so a recovered panic still gets its access
	// line, and the panic log carries the request's correlation id.
	router.Use(api.Observe(log))
	router.Use(api.Recovery(log))

	v1group := router.Group("/api/v1")
	api.SetupRoutes(v1group, sched, st, log)

	handler := api.NewHandler(sched, st, log)
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 12. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	// 13. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down taskforge service...")

	// 14. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	<-maintenance.Stop().Done()
	mon.Stop()

	if err := sched.Stop(); err != nil && err != scheduler.ErrSchedulerNotRunning {
		log.Error("scheduler stop error", zap.Error(err))
	}

	log.Info("taskforge service stopped")
}
