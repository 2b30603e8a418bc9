package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/modulab/foreman/internal/foreman"
	memstore "github.com/modulab/foreman/internal/repository/memory"
)

// MemoryWorkflowRepository stores workflows in memory, keyed by workflow_id.
type MemoryWorkflowRepository struct {
	store *memstore.Store[*foreman.Workflow]
}

func NewMemoryWorkflowRepository() *MemoryWorkflowRepository {
	return &MemoryWorkflowRepository{
		store: memstore.New(func(w *foreman.Workflow) string {
			return strconv.Itoa(w.WorkflowID)
		}),
	}
}

func (r *MemoryWorkflowRepository) Create(ctx context.Context, w *foreman.Workflow) error {
	return r.store.Set(ctx, w.Clone())
}

func (r *MemoryWorkflowRepository) Update(ctx context.Context, w *foreman.Workflow) error {
	if !r.store.Has(ctx, strconv.Itoa(w.WorkflowID)) {
		return ErrNotFound
	}
	return r.store.Set(ctx, w.Clone())
}

func (r *MemoryWorkflowRepository) Delete(ctx context.Context, workflowID int) error {
	err := r.store.Delete(ctx, strconv.Itoa(workflowID))
	if errors.Is(err, memstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *MemoryWorkflowRepository) GetByID(ctx context.Context, workflowID int) (*foreman.Workflow, error) {
	w, err := r.store.Get(ctx, strconv.Itoa(workflowID))
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return w.Clone(), nil
}

func (r *MemoryWorkflowRepository) List(ctx context.Context) ([]*foreman.Workflow, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	return cloneWorkflows(all), nil
}

func (r *MemoryWorkflowRepository) ListEnabled(ctx context.Context) ([]*foreman.Workflow, error) {
	enabled, err := r.store.Filter(ctx, func(w *foreman.Workflow) bool { return w.Enable })
	if err != nil {
		return nil, err
	}
	return cloneWorkflows(enabled), nil
}

func (r *MemoryWorkflowRepository) MaxWorkflowID(ctx context.Context) (int, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, w := range all {
		if w.WorkflowID > max {
			max = w.WorkflowID
		}
	}
	return max, nil
}

func cloneWorkflows(in []*foreman.Workflow) []*foreman.Workflow {
	out := make([]*foreman.Workflow, len(in))
	for i, w := range in {
		out[i] = w.Clone()
	}
	return out
}
