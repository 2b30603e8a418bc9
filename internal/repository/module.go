package repository

import (
	"context"
	"errors"
	"time"

	"github.com/modulab/foreman/internal/foreman"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ModuleRepository abstracts persistence for registered modules. Lookups by
// id, session, and name are derived views over the hash-keyed table.
type ModuleRepository interface {
	Create(ctx context.Context, m *foreman.Module) error
	Update(ctx context.Context, m *foreman.Module) error
	GetByID(ctx context.Context, moduleID int) (*foreman.Module, error)
	GetByHash(ctx context.Context, moduleHash string) (*foreman.Module, error)
	GetBySession(ctx context.Context, sessionID string) (*foreman.Module, error)
	// ListByName returns all modules with the given name ordered by
	// module_id ascending.
	ListByName(ctx context.Context, name string) ([]*foreman.Module, error)
	List(ctx context.Context) ([]*foreman.Module, error)
	ListAlive(ctx context.Context) ([]*foreman.Module, error)
	// MaxModuleID returns the highest assigned module_id, 0 when empty.
	MaxModuleID(ctx context.Context) (int, error)
}

// WorkflowRepository abstracts persistence for workflows.
type WorkflowRepository interface {
	Create(ctx context.Context, w *foreman.Workflow) error
	Update(ctx context.Context, w *foreman.Workflow) error
	Delete(ctx context.Context, workflowID int) error
	GetByID(ctx context.Context, workflowID int) (*foreman.Workflow, error)
	List(ctx context.Context) ([]*foreman.Workflow, error)
	ListEnabled(ctx context.Context) ([]*foreman.Workflow, error)
	// MaxWorkflowID returns the highest assigned workflow_id, 0 when empty.
	MaxWorkflowID(ctx context.Context) (int, error)
}

// JobLogRepository abstracts persistence for scheduler fire records.
type JobLogRepository interface {
	Append(ctx context.Context, l *foreman.JobLog) error
	List(ctx context.Context, limit int) ([]*foreman.JobLog, error)
	// DeleteOlderThan removes rows with run_at before cutoff and returns
	// the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
