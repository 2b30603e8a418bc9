package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/modulab/foreman/internal/foreman"
	memstore "github.com/modulab/foreman/internal/repository/memory"
)

// MemoryModuleRepository stores modules in memory, keyed by module_hash.
// Values are cloned on both sides of the boundary: the registry mutates
// rows in place and the store must never leak shared pointers.
type MemoryModuleRepository struct {
	store *memstore.Store[*foreman.Module]
}

func NewMemoryModuleRepository() *MemoryModuleRepository {
	return &MemoryModuleRepository{
		store: memstore.New(func(m *foreman.Module) string { return m.ModuleHash }),
	}
}

func (r *MemoryModuleRepository) Create(ctx context.Context, m *foreman.Module) error {
	return r.store.Set(ctx, m.Clone())
}

func (r *MemoryModuleRepository) Update(ctx context.Context, m *foreman.Module) error {
	if !r.store.Has(ctx, m.ModuleHash) {
		return ErrNotFound
	}
	return r.store.Set(ctx, m.Clone())
}

func (r *MemoryModuleRepository) GetByHash(ctx context.Context, moduleHash string) (*foreman.Module, error) {
	m, err := r.store.Get(ctx, moduleHash)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (r *MemoryModuleRepository) GetByID(ctx context.Context, moduleID int) (*foreman.Module, error) {
	return r.first(ctx, func(m *foreman.Module) bool { return m.ModuleID == moduleID })
}

func (r *MemoryModuleRepository) GetBySession(ctx context.Context, sessionID string) (*foreman.Module, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}
	return r.first(ctx, func(m *foreman.Module) bool { return m.SessionID == sessionID })
}

func (r *MemoryModuleRepository) ListByName(ctx context.Context, name string) ([]*foreman.Module, error) {
	matches, err := r.store.Filter(ctx, func(m *foreman.Module) bool { return m.Name == name })
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ModuleID < matches[j].ModuleID })
	return cloneModules(matches), nil
}

func (r *MemoryModuleRepository) List(ctx context.Context) ([]*foreman.Module, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	return cloneModules(all), nil
}

func (r *MemoryModuleRepository) ListAlive(ctx context.Context) ([]*foreman.Module, error) {
	alive, err := r.store.Filter(ctx, func(m *foreman.Module) bool { return m.Alive })
	if err != nil {
		return nil, err
	}
	return cloneModules(alive), nil
}

func (r *MemoryModuleRepository) MaxModuleID(ctx context.Context) (int, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, m := range all {
		if m.ModuleID > max {
			max = m.ModuleID
		}
	}
	return max, nil
}

func (r *MemoryModuleRepository) first(ctx context.Context, pred func(*foreman.Module) bool) (*foreman.Module, error) {
	matches, err := r.store.Filter(ctx, pred)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return matches[0].Clone(), nil
}

func cloneModules(in []*foreman.Module) []*foreman.Module {
	out := make([]*foreman.Module, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
