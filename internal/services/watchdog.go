package services

// watchdog.go — the three periodic sweeps: stale sessions, stale
// executions, job-log retention.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/modulab/foreman/internal/foreman"
	"github.com/modulab/foreman/internal/foreman/ports"
	"github.com/modulab/foreman/internal/repository"
	"github.com/modulab/foreman/internal/trigger"
)

// System job ids.
const (
	jobCheckModuleAlive     = "check_module_alive_status"
	jobCheckExecutionExpiry = "check_execution_timeout"
	jobCleanupJobLogs       = "cleanup_old_job_executions"
)

// jobLogMaxAge is the retention window for persisted fire records.
const jobLogMaxAge = 604_800 * time.Second

// executionSweepInterval is how often the pending table is swept.
const executionSweepInterval = 30 * time.Second

// WatchdogService registers and runs the periodic hygiene jobs on the
// scheduler's cron, each under the same at-most-one-instance chain.
type WatchdogService struct {
	clock            *foreman.Clock
	registry         *RegistryService
	tracker          *ExecutionTracker
	jobLogs          repository.JobLogRepository
	notifier         ports.Notifier
	gateway          ports.SessionGateway
	sessionTimeout   time.Duration
	executionTimeout time.Duration
}

func NewWatchdogService(
	clock *foreman.Clock,
	registry *RegistryService,
	tracker *ExecutionTracker,
	jobLogs repository.JobLogRepository,
	notifier ports.Notifier,
	gateway ports.SessionGateway,
	sessionTimeout, executionTimeout time.Duration,
) *WatchdogService {
	return &WatchdogService{
		clock:            clock,
		registry:         registry,
		tracker:          tracker,
		jobLogs:          jobLogs,
		notifier:         notifier,
		gateway:          gateway,
		sessionTimeout:   sessionTimeout,
		executionTimeout: executionTimeout,
	}
}

// Register schedules the three sweeps. The stale-session interval is half
// the session timeout but never below 30 seconds; the job-log cleanup runs
// weekly on Monday midnight in the scheduler zone.
func (w *WatchdogService) Register(sched *SchedulerService) error {
	interval := w.sessionTimeout / 2
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	sched.ScheduleSystemJob(jobCheckModuleAlive, cron.Every(interval), w.CheckModuleAlive)
	sched.ScheduleSystemJob(jobCheckExecutionExpiry, cron.Every(executionSweepInterval), w.CheckExecutionTimeout)

	weekly, err := trigger.Parse("0 0 * * 1", w.clock.SchedulerLocation())
	if err != nil {
		return fmt.Errorf("register job log cleanup: %w", err)
	}
	sched.ScheduleSystemJob(jobCleanupJobLogs, weekly, w.CleanupJobLogs)

	slog.Info("watchdogs registered",
		"session_timeout", w.sessionTimeout, "execution_timeout", w.executionTimeout,
		"alive_check_interval", interval)
	return nil
}

// CheckModuleAlive reaps alive modules whose sessions are gone: either the
// hub tracks zero sessions for the module, or last_alive_time has fallen
// behind the session timeout. Routine hygiene, no notification.
func (w *WatchdogService) CheckModuleAlive() {
	ctx := context.Background()
	now := w.clock.NowLocal()
	threshold := now.Add(-w.sessionTimeout)

	online, err := w.registry.ListOnline(ctx)
	if err != nil {
		slog.Error("alive check: listing online modules failed", "err", err)
		return
	}

	var force []int
	if w.gateway != nil {
		for _, m := range online {
			if w.gateway.SessionCount(m.ModuleID) == 0 {
				force = append(force, m.ModuleID)
			}
		}
	}

	reaped := w.registry.ReapStale(ctx, threshold, force...)
	if len(reaped) > 0 {
		slog.Info("alive check: reaped stale modules", "count", len(reaped))
	}
}

// CheckExecutionTimeout sweeps the pending table and emits one timeout
// notification per expired dispatch.
func (w *WatchdogService) CheckExecutionTimeout() {
	ctx := context.Background()
	now := w.clock.NowLocal()

	expired := w.tracker.Sweep(now, w.executionTimeout)
	if len(expired) == 0 {
		return
	}
	slog.Info("execution check: expired dispatches", "count", len(expired))

	for _, p := range expired {
		elapsed := now.Sub(p.SentTime).Seconds()
		slog.Warn("execution timed out", "execution_id", p.ExecutionID,
			"workflow", p.WorkflowName, "module", p.ModuleName, "elapsed_seconds", elapsed)
		n := foreman.Notification{
			Kind:           foreman.KindExecutionTimeout,
			WorkflowName:   p.WorkflowName,
			WorkflowID:     p.WorkflowID,
			ModuleID:       &p.ModuleID,
			ModuleName:     p.ModuleName,
			ExecutionID:    p.ExecutionID,
			ElapsedSeconds: elapsed,
			TimeoutSeconds: int(w.executionTimeout.Seconds()),
			FailureTime:    now,
		}
		w.notify(ctx, n)
	}
}

// notify delivers a notification; failure is logged and never propagated.
func (w *WatchdogService) notify(ctx context.Context, n foreman.Notification) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, n); err != nil {
		slog.Error("notification delivery failed", "kind", n.Kind, "err", err)
	}
}

// CleanupJobLogs prunes fire records older than the retention window.
func (w *WatchdogService) CleanupJobLogs() {
	ctx := context.Background()
	cutoff := w.clock.NowLocal().Add(-jobLogMaxAge)
	n, err := w.jobLogs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("job log cleanup failed", "err", err)
		return
	}
	slog.Info("job log cleanup done", "removed", n)
}
