package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/modulab/foreman/internal/api"
	"github.com/modulab/foreman/internal/config"
	"github.com/modulab/foreman/internal/db"
	"github.com/modulab/foreman/internal/foreman"
	"github.com/modulab/foreman/internal/foreman/ports"
	"github.com/modulab/foreman/internal/hub"
	"github.com/modulab/foreman/internal/logging"
	"github.com/modulab/foreman/internal/notify"
	"github.com/modulab/foreman/internal/repository"
	"github.com/modulab/foreman/internal/services"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		serve()
		return
	}
	fmt.Println("foreman v0.1.0")
	fmt.Println("Usage: foreman serve")
}

func serve() {
	// .env is optional; the environment always wins.
	_ = godotenv.Load()

	cfg, err := config.LoadDefault()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", "err", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.Logging); err != nil {
		slog.Error("logging setup failed", "err", err)
		os.Exit(1)
	}

	clock, err := foreman.NewClock(cfg.Time.Zone, cfg.Time.UseUTC)
	if err != nil {
		slog.Error("clock setup failed", "zone", cfg.Time.Zone, "err", err)
		os.Exit(1)
	}
	slog.Info("clock configured", "local_zone", clock.LocalLocation().String(),
		"scheduler_zone", clock.SchedulerLocation().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	moduleRepo, workflowRepo, jobLogRepo := buildRepositories(ctx, cfg, clock)

	registry := services.NewRegistryService(moduleRepo, clock)
	tracker := services.NewExecutionTracker()
	notifier := buildNotifier(cfg)

	h := hub.New(registry, tracker, notifier, clock)

	sched := services.NewSchedulerService(clock, registry, tracker, workflowRepo, jobLogRepo, h, notifier)

	watchdog := services.NewWatchdogService(clock, registry, tracker, jobLogRepo, notifier, h,
		time.Duration(cfg.Scheduler.WebsocketTimeoutSeconds)*time.Second,
		time.Duration(cfg.Scheduler.ExecutionTimeoutSeconds)*time.Second)
	if err := watchdog.Register(sched); err != nil {
		slog.Error("watchdog registration failed", "err", err)
		os.Exit(1)
	}

	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}

	server := api.NewServer(registry, sched, workflowRepo, h)
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting foreman server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		sched.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("foreman stopped")
}

// buildRepositories wires the storage layer: memory-only without a
// DATABASE_URL, otherwise write-through repositories warmed from
// PostgreSQL. An unreachable database at startup is fatal.
func buildRepositories(ctx context.Context, cfg *config.Config, clock *foreman.Clock) (
	repository.ModuleRepository,
	repository.WorkflowRepository,
	repository.JobLogRepository,
) {
	moduleMem := repository.NewMemoryModuleRepository()
	workflowMem := repository.NewMemoryWorkflowRepository()
	jobLogMem := repository.NewMemoryJobLogRepository()

	if cfg.Database.URL == "" {
		slog.Warn("no database configured, state is in-memory only")
		return moduleMem, workflowMem, jobLogMem
	}

	database, err := db.New(ctx, cfg.Database.URL, clock.LocalLocation())
	if err != nil {
		slog.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	if err := database.Migrate(ctx); err != nil {
		slog.Error("database migration failed", "err", err)
		os.Exit(1)
	}

	modules := repository.NewPersistentModuleRepository(moduleMem, database)
	workflows := repository.NewPersistentWorkflowRepository(workflowMem, database)
	jobLogs := repository.NewPersistentJobLogRepository(jobLogMem, database)

	nModules, err := modules.Warm(ctx)
	if err != nil {
		slog.Error("warming module cache failed", "err", err)
		os.Exit(1)
	}
	nWorkflows, err := workflows.Warm(ctx)
	if err != nil {
		slog.Error("warming workflow cache failed", "err", err)
		os.Exit(1)
	}
	slog.Info("database ready", "modules", nModules, "workflows", nWorkflows)

	return modules, workflows, jobLogs
}

// buildNotifier selects the outbound mail path: direct SMTP when a host is
// configured, the HTTP mail gateway otherwise.
func buildNotifier(cfg *config.Config) ports.Notifier {
	if cfg.Notify.SMTP.Host != "" {
		from := cfg.Notify.SMTP.From
		if from == "" {
			from = cfg.Notify.Email
		}
		slog.Info("notifier: smtp", "host", cfg.Notify.SMTP.Host, "to", cfg.Notify.Email)
		return notify.NewSMTPNotifier(cfg.Notify.SMTP.Host, cfg.Notify.SMTP.Port,
			from, cfg.Notify.SMTP.Password, cfg.Notify.Email)
	}
	slog.Info("notifier: mail gateway", "url", cfg.Notify.APIURL, "to", cfg.Notify.Email)
	return notify.NewMailer(cfg.Notify.APIURL, cfg.Notify.Email)
}
