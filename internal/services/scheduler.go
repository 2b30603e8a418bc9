package services

// scheduler.go — SchedulerService public facade: job registration, reload
// reconciliation, listing, lifecycle. The fire handler lives in
// scheduler_dispatch.go.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/modulab/foreman/internal/foreman"
	"github.com/modulab/foreman/internal/foreman/ports"
	"github.com/modulab/foreman/internal/repository"
	"github.com/modulab/foreman/internal/trigger"
)

// workflowJobPrefix prefixes every workflow-backed job id.
const workflowJobPrefix = "workflow_"

// WorkflowJobID returns the scheduler job id for a workflow.
func WorkflowJobID(workflowID int) string {
	return fmt.Sprintf("%s%d", workflowJobPrefix, workflowID)
}

// SchedulerService manages cron-based workflow dispatch. It wraps
// robfig/cron: the chain runs every job under SkipIfStillRunning (at most
// one concurrent instance per job, overlapping fires coalesce into the
// still-running one) and Recover (a panicking fire cannot kill the
// process). robfig never replays missed fires, which matches the disabled
// misfire grace of the job settings.
type SchedulerService struct {
	cron      *cron.Cron
	clock     *foreman.Clock
	registry  *RegistryService
	tracker   *ExecutionTracker
	workflows repository.WorkflowRepository
	jobLogs   repository.JobLogRepository
	gateway   ports.SessionGateway
	notifier  ports.Notifier

	mu   sync.Mutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	entryID    cron.EntryID
	workflowID int // 0 for system jobs
	describe   string
	system     bool
}

func NewSchedulerService(
	clock *foreman.Clock,
	registry *RegistryService,
	tracker *ExecutionTracker,
	workflows repository.WorkflowRepository,
	jobLogs repository.JobLogRepository,
	gateway ports.SessionGateway,
	notifier ports.Notifier,
) *SchedulerService {
	logger := &cronSlogger{log: slog.Default()}
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(clock.SchedulerLocation()),
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
		clock:     clock,
		registry:  registry,
		tracker:   tracker,
		workflows: workflows,
		jobLogs:   jobLogs,
		gateway:   gateway,
		notifier:  notifier,
		jobs:      make(map[string]*jobEntry),
	}
}

// Start reconciles jobs against the workflow set and starts the cron loop.
func (s *SchedulerService) Start(ctx context.Context) error {
	if _, err := s.ReloadAll(ctx); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("scheduler: started")
	return nil
}

// Stop halts the cron loop and waits for running fires to drain.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler: stopped")
}

// AddJob registers the union trigger for an enabled workflow. A disabled
// workflow is a no-op. A spec with no valid cron expression logs a warning
// and registers nothing; an existing job for the same workflow is replaced.
func (s *SchedulerService) AddJob(ctx context.Context, w *foreman.Workflow) error {
	if !w.Enable {
		return nil
	}

	shift, err := foreman.ShiftDuration(w.ExecuteShiftTime, w.ExecuteShiftUnit)
	if err != nil {
		return fmt.Errorf("workflow %d: %w", w.WorkflowID, err)
	}

	union, err := trigger.NewUnion(w.ExecuteCronList, shift, s.clock.SchedulerLocation())
	if err != nil {
		slog.Warn("workflow has no schedulable trigger", "workflow_id", w.WorkflowID,
			"name", w.Name, "err", err)
		return nil
	}

	workflowID := w.WorkflowID
	jobID := WorkflowJobID(workflowID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[jobID]; ok {
		s.cron.Remove(old.entryID)
	}
	entryID := s.cron.Schedule(union, cron.FuncJob(func() {
		s.runWorkflow(workflowID)
	}))
	s.jobs[jobID] = &jobEntry{
		entryID:    entryID,
		workflowID: workflowID,
		describe:   union.Describe(),
	}
	slog.Info("workflow job registered", "job_id", jobID, "name", w.Name,
		"trigger", union.Describe())
	return nil
}

// RemoveJob unregisters the job for a workflow, if present.
func (s *SchedulerService) RemoveJob(ctx context.Context, workflowID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeJobLocked(WorkflowJobID(workflowID))
}

// removeJobLocked unregisters jobID and reports whether a job existed.
func (s *SchedulerService) removeJobLocked(jobID string) bool {
	entry, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	s.cron.Remove(entry.entryID)
	delete(s.jobs, jobID)
	slog.Info("workflow job removed", "job_id", jobID)
	return true
}

// ReloadStats summarizes one reload pass for the admin surface.
type ReloadStats struct {
	RemovedCount     int           `json:"removed_count"`
	CurrentCount     int           `json:"current_count"`
	EnabledWorkflows []WorkflowRef `json:"enabled_workflows"`
}

// WorkflowRef is a minimal workflow projection.
type WorkflowRef struct {
	WorkflowID int    `json:"workflow_id"`
	Name       string `json:"name"`
}

// ReloadAll reconciles registered jobs with the workflow set: every
// workflow's job is removed, orphan workflow_* jobs with no backing
// workflow are purged, and jobs are re-added for the enabled set. After it
// returns, the registered workflow jobs equal exactly {w : w.enable}.
func (s *SchedulerService) ReloadAll(ctx context.Context) (ReloadStats, error) {
	all, err := s.workflows.List(ctx)
	if err != nil {
		return ReloadStats{}, fmt.Errorf("reload: list workflows: %w", err)
	}

	valid := make(map[string]bool, len(all))
	for _, w := range all {
		valid[WorkflowJobID(w.WorkflowID)] = true
	}

	s.mu.Lock()
	removed := make(map[string]bool)
	for _, w := range all {
		jobID := WorkflowJobID(w.WorkflowID)
		if s.removeJobLocked(jobID) {
			removed[jobID] = true
		}
	}
	for jobID := range s.jobs {
		if strings.HasPrefix(jobID, workflowJobPrefix) && !valid[jobID] {
			slog.Info("purging orphan workflow job", "job_id", jobID)
			s.removeJobLocked(jobID)
			removed[jobID] = true
		}
	}
	s.mu.Unlock()

	stats := ReloadStats{EnabledWorkflows: []WorkflowRef{}}
	for _, w := range all {
		if !w.Enable {
			continue
		}
		if err := s.AddJob(ctx, w); err != nil {
			slog.Error("reload: add job failed", "workflow_id", w.WorkflowID, "err", err)
			continue
		}
		stats.EnabledWorkflows = append(stats.EnabledWorkflows,
			WorkflowRef{WorkflowID: w.WorkflowID, Name: w.Name})
	}

	// A job removed and then re-registered in the same pass did not go
	// away; only removals that stuck count.
	s.mu.Lock()
	for jobID := range removed {
		if _, ok := s.jobs[jobID]; ok {
			delete(removed, jobID)
		}
	}
	stats.CurrentCount = s.workflowJobCountLocked()
	s.mu.Unlock()

	stats.RemovedCount = len(removed)
	slog.Info("scheduler reloaded", "removed", stats.RemovedCount, "current", stats.CurrentCount)
	return stats, nil
}

func (s *SchedulerService) workflowJobCountLocked() int {
	n := 0
	for jobID := range s.jobs {
		if strings.HasPrefix(jobID, workflowJobPrefix) {
			n++
		}
	}
	return n
}

// ExecuteWorkflow fires a workflow immediately, outside its schedule.
// Returns repository.ErrNotFound for an unknown workflow id.
func (s *SchedulerService) ExecuteWorkflow(ctx context.Context, workflowID int) error {
	if _, err := s.workflows.GetByID(ctx, workflowID); err != nil {
		return err
	}
	s.runWorkflow(workflowID)
	return nil
}

// ScheduleSystemJob registers a non-workflow job (watchdogs) under the same
// cron chain. An existing job with the same name is replaced.
func (s *SchedulerService) ScheduleSystemJob(name string, sched cron.Schedule, run func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.entryID)
	}
	entryID := s.cron.Schedule(sched, cron.FuncJob(run))
	s.jobs[name] = &jobEntry{entryID: entryID, describe: describeSchedule(sched), system: true}
	slog.Info("system job registered", "job_id", name)
}

func describeSchedule(sched cron.Schedule) string {
	if d, ok := sched.(interface{ Describe() string }); ok {
		return d.Describe()
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		return fmt.Sprintf("every %s", every.Delay)
	}
	return fmt.Sprintf("%T", sched)
}

// JobInfo is one row of the job listing.
type JobInfo struct {
	JobID            string       `json:"job_id"`
	NextRunTime      *time.Time   `json:"next_run_time"`
	Trigger          string       `json:"trigger"`
	MaxInstances     int          `json:"max_instances"`
	Workflow         *WorkflowRef `json:"workflow,omitempty"`
	WorkflowEnable   bool         `json:"workflow_enable,omitempty"`
	WorkflowNotFound bool         `json:"workflow_not_found,omitempty"`
}

// ListJobs enumerates every registered job with its next run time and
// trigger description. Workflow jobs whose backing workflow disappeared
// carry the workflow_not_found flag.
func (s *SchedulerService) ListJobs(ctx context.Context) []JobInfo {
	s.mu.Lock()
	snapshot := make(map[string]*jobEntry, len(s.jobs))
	for id, e := range s.jobs {
		snapshot[id] = e
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(snapshot))
	for jobID, entry := range snapshot {
		info := JobInfo{
			JobID:        jobID,
			Trigger:      entry.describe,
			MaxInstances: 1,
		}
		if next := s.cron.Entry(entry.entryID).Next; !next.IsZero() {
			local := next.In(s.clock.LocalLocation())
			info.NextRunTime = &local
		}
		if !entry.system {
			w, err := s.workflows.GetByID(ctx, entry.workflowID)
			if err != nil {
				info.WorkflowNotFound = true
			} else {
				info.Workflow = &WorkflowRef{WorkflowID: w.WorkflowID, Name: w.Name}
				info.WorkflowEnable = w.Enable
			}
		}
		out = append(out, info)
	}
	return out
}

// cronSlogger adapts robfig's cron.Logger to slog.
type cronSlogger struct {
	log *slog.Logger
}

func (l *cronSlogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l *cronSlogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
