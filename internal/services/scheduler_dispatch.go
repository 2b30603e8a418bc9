package services

// scheduler_dispatch.go — the workflow fire handler. Each execute_modules
// entry is dispatched in list order and isolated: one bad module cannot
// abort the rest of the workflow.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/modulab/foreman/internal/foreman"
)

// runWorkflow is invoked by the cron entry (and by the manual execute
// endpoint). The chain guarantees at most one concurrent run per workflow.
func (s *SchedulerService) runWorkflow(workflowID int) {
	ctx := context.Background()

	w, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		slog.Error("fire: workflow not found", "workflow_id", workflowID, "err", err)
		s.appendJobLog(ctx, workflowID, "", foreman.JobLogError,
			fmt.Sprintf("workflow %d not found", workflowID))
		return
	}

	if len(w.ExecuteModules) == 0 {
		slog.Warn("fire: workflow has no modules", "workflow_id", workflowID, "name", w.Name)
		return
	}

	now := s.clock.NowLocal()
	dispatched := 0
	for _, call := range w.ExecuteModules {
		if s.dispatchModule(ctx, w, call) {
			dispatched++
		}
	}
	slog.Info("workflow fired", "workflow_id", workflowID, "name", w.Name,
		"dispatched", dispatched, "modules", len(w.ExecuteModules))
	s.appendJobLog(ctx, workflowID, w.Name, foreman.JobLogExecuted,
		fmt.Sprintf("dispatched %d/%d modules at %s",
			dispatched, len(w.ExecuteModules), foreman.FormatNaive(now)))
}

// dispatchModule resolves one execute_modules entry and sends the execute
// command. Returns true when a command was sent and recorded.
func (s *SchedulerService) dispatchModule(ctx context.Context, w *foreman.Workflow, call foreman.ModuleCall) bool {
	now := s.clock.NowLocal()
	workflowIDStr := strconv.Itoa(w.WorkflowID)

	hash := call.ModuleHash
	if hash == "" && call.Name != "" {
		named, err := s.registry.LookupByName(ctx, call.Name)
		if err != nil {
			slog.Warn("fire: module name not found", "workflow", w.Name, "module_name", call.Name)
			s.notify(ctx, foreman.Notification{
				Kind:         foreman.KindModuleNameNotFound,
				WorkflowName: w.Name,
				WorkflowID:   workflowIDStr,
				ModuleName:   call.Name,
				FailureTime:  now,
			})
			return false
		}
		hash = named.ModuleHash
	}

	if hash == "" {
		raw, _ := json.Marshal(call)
		slog.Warn("fire: invalid module entry", "workflow", w.Name, "entry", string(raw))
		s.notify(ctx, foreman.Notification{
			Kind:         foreman.KindModuleInfoInvalid,
			WorkflowName: w.Name,
			WorkflowID:   workflowIDStr,
			ModuleInfo:   string(raw),
			FailureTime:  now,
		})
		return false
	}

	module, err := s.registry.LookupByHash(ctx, hash)
	if err != nil {
		slog.Error("fire: module not found", "workflow", w.Name, "module_hash", hash)
		s.notify(ctx, foreman.Notification{
			Kind:         foreman.KindModuleNotFound,
			WorkflowName: w.Name,
			WorkflowID:   workflowIDStr,
			FailureTime:  now,
		})
		return false
	}
	if !module.Alive {
		slog.Error("fire: module offline", "workflow", w.Name,
			"module_id", module.ModuleID, "name", module.Name)
		s.notify(ctx, foreman.Notification{
			Kind:         foreman.KindModuleNotFound,
			WorkflowName: w.Name,
			WorkflowID:   workflowIDStr,
			ModuleID:     &module.ModuleID,
			ModuleName:   module.Name,
			FailureTime:  now,
		})
		return false
	}

	if err := s.sendExecute(ctx, w, module, call.Args, now); err != nil {
		slog.Error("fire: dispatch failed", "workflow", w.Name,
			"module_id", module.ModuleID, "err", err)
		s.notify(ctx, foreman.Notification{
			Kind:             foreman.KindExecutionException,
			WorkflowName:     w.Name,
			WorkflowID:       workflowIDStr,
			ModuleID:         &module.ModuleID,
			ModuleName:       module.Name,
			ExceptionMessage: err.Error(),
			FailureTime:      now,
		})
		return false
	}
	return true
}

func (s *SchedulerService) sendExecute(ctx context.Context, w *foreman.Workflow, module *foreman.Module, args map[string]any, now time.Time) error {
	if err := s.registry.MarkExecuted(ctx, module.ModuleID, now); err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}

	executionID := uuid.NewString()
	if args == nil {
		args = map[string]any{}
	}
	msg := foreman.ExecuteMessage{
		Type: "execute",
		Meta: foreman.ExecuteMeta{
			ExecutionID:   executionID,
			ExecutionTime: foreman.FormatNaive(now),
			WorkflowID:    strconv.Itoa(w.WorkflowID),
			WorkflowName:  w.Name,
		},
		Args: args,
	}
	if err := s.gateway.SendToModule(ctx, module.ModuleID, msg); err != nil {
		return fmt.Errorf("send to module %d: %w", module.ModuleID, err)
	}

	s.tracker.Record(&foreman.PendingExecution{
		ExecutionID:  executionID,
		ModuleID:     module.ModuleID,
		ModuleName:   module.Name,
		WorkflowID:   strconv.Itoa(w.WorkflowID),
		WorkflowName: w.Name,
		SentTime:     now,
	})
	slog.Info("execute command dispatched", "workflow", w.Name,
		"module_id", module.ModuleID, "module", module.Name, "execution_id", executionID)
	return nil
}

// notify delivers a notification; failure is logged and never propagated.
func (s *SchedulerService) notify(ctx context.Context, n foreman.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		slog.Error("notification delivery failed", "kind", n.Kind, "err", err)
	}
}

func (s *SchedulerService) appendJobLog(ctx context.Context, workflowID int, name, status, detail string) {
	if s.jobLogs == nil {
		return
	}
	err := s.jobLogs.Append(ctx, &foreman.JobLog{
		ID:           uuid.NewString(),
		JobID:        WorkflowJobID(workflowID),
		WorkflowID:   workflowID,
		WorkflowName: name,
		Status:       status,
		Detail:       detail,
		RunAt:        s.clock.NowLocal(),
	})
	if err != nil {
		slog.Warn("job log append failed", "workflow_id", workflowID, "err", err)
	}
}
