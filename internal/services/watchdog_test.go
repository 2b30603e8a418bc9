package services

import (
	"context"
	"testing"
	"time"

	"github.com/modulab/foreman/internal/foreman"
	"github.com/modulab/foreman/internal/repository"
)

type watchdogFixture struct {
	watchdog *WatchdogService
	registry *RegistryService
	tracker  *ExecutionTracker
	jobLogs  *repository.MemoryJobLogRepository
	gateway  *fakeGateway
	notifier *fakeNotifier
}

func newWatchdogFixture(t *testing.T, sessionTimeout, executionTimeout time.Duration) *watchdogFixture {
	t.Helper()
	clock := testClock(t)
	registry := NewRegistryService(repository.NewMemoryModuleRepository(), clock)
	tracker := NewExecutionTracker()
	jobLogs := repository.NewMemoryJobLogRepository()
	gateway := newFakeGateway()
	notifier := &fakeNotifier{}
	w := NewWatchdogService(clock, registry, tracker, jobLogs, notifier, gateway,
		sessionTimeout, executionTimeout)
	return &watchdogFixture{
		watchdog: w,
		registry: registry,
		tracker:  tracker,
		jobLogs:  jobLogs,
		gateway:  gateway,
		notifier: notifier,
	}
}

func TestWatchdog_CheckExecutionTimeout(t *testing.T) {
	f := newWatchdogFixture(t, 2*time.Minute, 2*time.Minute)

	moduleID := 7
	f.tracker.Record(&foreman.PendingExecution{
		ExecutionID:  "e1",
		ModuleID:     moduleID,
		ModuleName:   "M",
		WorkflowID:   "1",
		WorkflowName: "W",
		SentTime:     time.Now().UTC().Add(-5 * time.Minute),
	})
	f.tracker.Record(&foreman.PendingExecution{
		ExecutionID: "fresh",
		SentTime:    time.Now().UTC(),
	})

	f.watchdog.CheckExecutionTimeout()

	events := f.notifier.captured()
	if len(events) != 1 {
		t.Fatalf("events = %v, want exactly 1 timeout", events)
	}
	e := events[0]
	if e.Kind != foreman.KindExecutionTimeout {
		t.Errorf("Kind = %q, want execution_timeout", e.Kind)
	}
	if e.ExecutionID != "e1" || e.WorkflowName != "W" || e.ModuleName != "M" {
		t.Errorf("event = %+v, want pending-record fields", e)
	}
	if e.ModuleID == nil || *e.ModuleID != moduleID {
		t.Errorf("ModuleID = %v, want %d", e.ModuleID, moduleID)
	}
	if e.TimeoutSeconds != 120 {
		t.Errorf("TimeoutSeconds = %d, want 120", e.TimeoutSeconds)
	}
	if e.ElapsedSeconds < 120 {
		t.Errorf("ElapsedSeconds = %f, want >= timeout", e.ElapsedSeconds)
	}

	if f.tracker.Len() != 1 {
		t.Errorf("tracker Len = %d, want 1 (fresh entry survives)", f.tracker.Len())
	}

	// A second sweep emits nothing: exactly one notification per expiry.
	f.watchdog.CheckExecutionTimeout()
	if len(f.notifier.captured()) != 1 {
		t.Error("expired entry notified twice")
	}
}

// Timeouts are still swept when no notifier is wired.
func TestWatchdog_CheckExecutionTimeout_NilNotifier(t *testing.T) {
	clock := testClock(t)
	registry := NewRegistryService(repository.NewMemoryModuleRepository(), clock)
	tracker := NewExecutionTracker()
	w := NewWatchdogService(clock, registry, tracker, repository.NewMemoryJobLogRepository(),
		nil, newFakeGateway(), 2*time.Minute, 2*time.Minute)

	tracker.Record(&foreman.PendingExecution{
		ExecutionID: "e1",
		SentTime:    time.Now().UTC().Add(-5 * time.Minute),
	})

	w.CheckExecutionTimeout()

	if tracker.Len() != 0 {
		t.Errorf("tracker Len = %d, want 0 (expired entry swept)", tracker.Len())
	}
}

func TestWatchdog_CheckModuleAlive_ForcedByGateway(t *testing.T) {
	ctx := context.Background()
	f := newWatchdogFixture(t, 2*time.Minute, 2*time.Minute)

	gone, err := f.registry.Register(ctx, RegisterInput{Name: "gone", ModelHash: "g"})
	if err != nil {
		t.Fatal(err)
	}
	held, err := f.registry.Register(ctx, RegisterInput{Name: "held", ModelHash: "h"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.BindSession(ctx, gone.ModuleHash, "s-gone"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.BindSession(ctx, held.ModuleHash, "s-held"); err != nil {
		t.Fatal(err)
	}

	// The hub still tracks a session only for "held".
	f.gateway.counts[held.ModuleID] = 1

	f.watchdog.CheckModuleAlive()

	goneRow, _ := f.registry.LookupByHash(ctx, gone.ModuleHash)
	if goneRow.Alive {
		t.Error("module with no hub session should be reaped")
	}
	heldRow, _ := f.registry.LookupByHash(ctx, held.ModuleHash)
	if !heldRow.Alive {
		t.Error("module with a live hub session should survive")
	}

	// Routine hygiene: no notifications.
	if events := f.notifier.captured(); len(events) != 0 {
		t.Errorf("alive check emitted notifications: %v", events)
	}
}

func TestWatchdog_CleanupJobLogs(t *testing.T) {
	ctx := context.Background()
	f := newWatchdogFixture(t, 2*time.Minute, 2*time.Minute)

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	if err := f.jobLogs.Append(ctx, &foreman.JobLog{ID: "old", RunAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := f.jobLogs.Append(ctx, &foreman.JobLog{ID: "recent", RunAt: recent}); err != nil {
		t.Fatal(err)
	}

	f.watchdog.CleanupJobLogs()

	logs, err := f.jobLogs.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].ID != "recent" {
		t.Errorf("logs after cleanup = %v, want only the recent row", logs)
	}
}

func TestWatchdog_Register(t *testing.T) {
	f := newWatchdogFixture(t, 2*time.Minute, 2*time.Minute)

	clock := testClock(t)
	registry := NewRegistryService(repository.NewMemoryModuleRepository(), clock)
	sched := NewSchedulerService(clock, registry, f.tracker,
		repository.NewMemoryWorkflowRepository(), f.jobLogs, f.gateway, f.notifier)

	if err := f.watchdog.Register(sched); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	jobs := sched.ListJobs(context.Background())
	want := map[string]bool{
		"check_module_alive_status":  false,
		"check_execution_timeout":    false,
		"cleanup_old_job_executions": false,
	}
	for _, j := range jobs {
		if _, ok := want[j.JobID]; ok {
			want[j.JobID] = true
		}
	}
	for id, seen := range want {
		if !seen {
			t.Errorf("system job %s not registered", id)
		}
	}
}
