package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/modulab/foreman/internal/db"
	"github.com/modulab/foreman/internal/foreman"
)

// PersistentWorkflowRepository layers PostgreSQL persistence over the
// memory repository with the same write-through policy as modules.
type PersistentWorkflowRepository struct {
	mem *MemoryWorkflowRepository
	db  *db.DB
}

func NewPersistentWorkflowRepository(mem *MemoryWorkflowRepository, database *db.DB) *PersistentWorkflowRepository {
	return &PersistentWorkflowRepository{mem: mem, db: database}
}

// Warm loads all persisted workflows into the memory layer.
func (r *PersistentWorkflowRepository) Warm(ctx context.Context) (int, error) {
	workflows, err := r.db.ListWorkflows(ctx)
	if err != nil {
		return 0, err
	}
	for _, w := range workflows {
		if err := r.mem.Create(ctx, w); err != nil {
			return 0, err
		}
	}
	return len(workflows), nil
}

func (r *PersistentWorkflowRepository) Create(ctx context.Context, w *foreman.Workflow) error {
	if err := r.mem.Create(ctx, w); err != nil {
		return err
	}
	if err := r.db.CreateWorkflow(ctx, w); err != nil {
		slog.Warn("workflow db insert failed", "workflow_id", w.WorkflowID, "err", err)
	}
	return nil
}

func (r *PersistentWorkflowRepository) Update(ctx context.Context, w *foreman.Workflow) error {
	if err := r.mem.Update(ctx, w); err != nil {
		return err
	}
	if err := r.db.UpdateWorkflow(ctx, w); err != nil {
		slog.Warn("workflow db update failed", "workflow_id", w.WorkflowID, "err", err)
	}
	return nil
}

func (r *PersistentWorkflowRepository) Delete(ctx context.Context, workflowID int) error {
	if err := r.mem.Delete(ctx, workflowID); err != nil {
		return err
	}
	if err := r.db.DeleteWorkflow(ctx, workflowID); err != nil {
		slog.Warn("workflow db delete failed", "workflow_id", workflowID, "err", err)
	}
	return nil
}

func (r *PersistentWorkflowRepository) GetByID(ctx context.Context, workflowID int) (*foreman.Workflow, error) {
	return r.mem.GetByID(ctx, workflowID)
}

func (r *PersistentWorkflowRepository) List(ctx context.Context) ([]*foreman.Workflow, error) {
	workflows, err := r.db.ListWorkflows(ctx)
	if err != nil {
		slog.Warn("workflow db list failed, falling back to memory", "err", err)
		return r.mem.List(ctx)
	}
	return workflows, nil
}

func (r *PersistentWorkflowRepository) ListEnabled(ctx context.Context) ([]*foreman.Workflow, error) {
	workflows, err := r.db.ListEnabledWorkflows(ctx)
	if err != nil {
		slog.Warn("workflow db list failed, falling back to memory", "err", err)
		return r.mem.ListEnabled(ctx)
	}
	return workflows, nil
}

func (r *PersistentWorkflowRepository) MaxWorkflowID(ctx context.Context) (int, error) {
	return r.mem.MaxWorkflowID(ctx)
}

// PersistentJobLogRepository keeps fire records in PostgreSQL only; the
// memory layer is a small fallback buffer when the database is down.
type PersistentJobLogRepository struct {
	mem *MemoryJobLogRepository
	db  *db.DB
}

func NewPersistentJobLogRepository(mem *MemoryJobLogRepository, database *db.DB) *PersistentJobLogRepository {
	return &PersistentJobLogRepository{mem: mem, db: database}
}

func (r *PersistentJobLogRepository) Append(ctx context.Context, l *foreman.JobLog) error {
	if err := r.db.AppendJobLog(ctx, l); err != nil {
		slog.Warn("job log db insert failed", "job_id", l.JobID, "err", err)
		return r.mem.Append(ctx, l)
	}
	return nil
}

func (r *PersistentJobLogRepository) List(ctx context.Context, limit int) ([]*foreman.JobLog, error) {
	logs, err := r.db.ListJobLogs(ctx, limit)
	if err != nil {
		slog.Warn("job log db list failed, falling back to memory", "err", err)
		return r.mem.List(ctx, limit)
	}
	return logs, nil
}

func (r *PersistentJobLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	nMem, _ := r.mem.DeleteOlderThan(ctx, cutoff)
	nDB, err := r.db.DeleteJobLogsOlderThan(ctx, cutoff)
	if err != nil {
		return nMem, err
	}
	return nMem + nDB, nil
}
