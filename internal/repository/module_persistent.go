package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/modulab/foreman/internal/db"
	"github.com/modulab/foreman/internal/foreman"
)

// PersistentModuleRepository layers PostgreSQL persistence over the memory
// repository. Writes go to both; a database write failure is logged and
// does not fail the operation. Point reads prefer memory with a database
// fallback, lists prefer the database with a memory fallback.
type PersistentModuleRepository struct {
	mem *MemoryModuleRepository
	db  *db.DB
}

func NewPersistentModuleRepository(mem *MemoryModuleRepository, database *db.DB) *PersistentModuleRepository {
	return &PersistentModuleRepository{mem: mem, db: database}
}

// Warm loads all persisted modules into the memory layer. Called once at
// startup before any service touches the repository.
func (r *PersistentModuleRepository) Warm(ctx context.Context) (int, error) {
	modules, err := r.db.ListModules(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range modules {
		if err := r.mem.Create(ctx, m); err != nil {
			return 0, err
		}
	}
	return len(modules), nil
}

func (r *PersistentModuleRepository) Create(ctx context.Context, m *foreman.Module) error {
	if err := r.mem.Create(ctx, m); err != nil {
		return err
	}
	if err := r.db.CreateModule(ctx, m); err != nil {
		slog.Warn("module db insert failed", "module_hash", m.ModuleHash, "err", err)
	}
	return nil
}

func (r *PersistentModuleRepository) Update(ctx context.Context, m *foreman.Module) error {
	if err := r.mem.Update(ctx, m); err != nil {
		return err
	}
	if err := r.db.UpdateModule(ctx, m); err != nil {
		slog.Warn("module db update failed", "module_hash", m.ModuleHash, "err", err)
	}
	return nil
}

func (r *PersistentModuleRepository) GetByHash(ctx context.Context, moduleHash string) (*foreman.Module, error) {
	m, err := r.mem.GetByHash(ctx, moduleHash)
	if !errors.Is(err, ErrNotFound) {
		return m, err
	}
	m, err = r.db.GetModuleByHash(ctx, moduleHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *PersistentModuleRepository) GetByID(ctx context.Context, moduleID int) (*foreman.Module, error) {
	return r.mem.GetByID(ctx, moduleID)
}

func (r *PersistentModuleRepository) GetBySession(ctx context.Context, sessionID string) (*foreman.Module, error) {
	return r.mem.GetBySession(ctx, sessionID)
}

func (r *PersistentModuleRepository) ListByName(ctx context.Context, name string) ([]*foreman.Module, error) {
	return r.mem.ListByName(ctx, name)
}

func (r *PersistentModuleRepository) List(ctx context.Context) ([]*foreman.Module, error) {
	modules, err := r.db.ListModules(ctx)
	if err != nil {
		slog.Warn("module db list failed, falling back to memory", "err", err)
		return r.mem.List(ctx)
	}
	return modules, nil
}

func (r *PersistentModuleRepository) ListAlive(ctx context.Context) ([]*foreman.Module, error) {
	modules, err := r.db.ListAliveModules(ctx)
	if err != nil {
		slog.Warn("module db list failed, falling back to memory", "err", err)
		return r.mem.ListAlive(ctx)
	}
	return modules, nil
}

func (r *PersistentModuleRepository) MaxModuleID(ctx context.Context) (int, error) {
	return r.mem.MaxModuleID(ctx)
}
