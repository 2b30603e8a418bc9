package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modulab/foreman/internal/foreman"
	"github.com/modulab/foreman/internal/repository"
)

// RegistryService is the source of truth for module identity, liveness,
// and session binding. It is the sole writer of alive, session_id, and the
// time columns; a single mutex serializes every mutation so a bind is an
// atomic test-and-set and at most one session is ever bound to a module.
type RegistryService struct {
	mu    sync.Mutex
	repo  repository.ModuleRepository
	clock *foreman.Clock
}

func NewRegistryService(repo repository.ModuleRepository, clock *foreman.Clock) *RegistryService {
	return &RegistryService{repo: repo, clock: clock}
}

// RegisterInput carries the fields a worker presents on registration.
type RegisterInput struct {
	Name        string
	Description string
	ModelHash   string
	Priority    int
	InputData   []foreman.DataRequirement
	OutputData  []foreman.DataRequirement
}

// Register creates a module row. The module_hash derives from
// (name, description, model_hash); registering the same triple twice fails
// with ErrAlreadyRegistered. module_id is dense, starting at 1.
func (s *RegistryService) Register(ctx context.Context, in RegisterInput) (*foreman.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := foreman.ComputeModuleHash(in.Name, in.Description, in.ModelHash)
	if _, err := s.repo.GetByHash(ctx, hash); err == nil {
		return nil, fmt.Errorf("%w: %s", foreman.ErrAlreadyRegistered, hash)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	maxID, err := s.repo.MaxModuleID(ctx)
	if err != nil {
		return nil, err
	}

	priority := in.Priority
	if priority == 0 {
		priority = foreman.DefaultPriority
	}

	m := &foreman.Module{
		ModuleID:    maxID + 1,
		Name:        in.Name,
		Description: in.Description,
		Priority:    priority,
		ModuleHash:  hash,
		InputData:   in.InputData,
		OutputData:  in.OutputData,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	slog.Info("module registered", "module_id", m.ModuleID, "name", m.Name, "module_hash", m.ModuleHash)
	return m, nil
}

// BindSession binds a session token to the module identified by
// moduleHash. Returns repository.ErrNotFound for an unknown hash and
// foreman.ErrSessionConflict when the module is already alive.
func (s *RegistryService) BindSession(ctx context.Context, moduleHash, sessionID string) (*foreman.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.repo.GetByHash(ctx, moduleHash)
	if err != nil {
		return nil, err
	}
	if m.Alive {
		return nil, fmt.Errorf("%w: module %d", foreman.ErrSessionConflict, m.ModuleID)
	}

	now := s.clock.NowLocal()
	m.Alive = true
	m.SessionID = sessionID
	m.LastLoginTime = &now
	m.LastAliveTime = &now
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	slog.Info("module session bound", "module_id", m.ModuleID, "name", m.Name, "session_id", sessionID)
	return m, nil
}

// Touch advances last_alive_time for the module bound to sessionID. An
// unknown session is a silent no-op.
func (s *RegistryService) Touch(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.repo.GetBySession(ctx, sessionID)
	if err != nil {
		return
	}
	now := s.clock.NowLocal()
	m.LastAliveTime = &now
	if err := s.repo.Update(ctx, m); err != nil {
		slog.Warn("touch failed", "session_id", sessionID, "err", err)
	}
}

// Unbind clears the binding for sessionID. An unknown session is a no-op.
func (s *RegistryService) Unbind(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.repo.GetBySession(ctx, sessionID)
	if err != nil {
		return
	}
	m.Alive = false
	m.SessionID = ""
	if err := s.repo.Update(ctx, m); err != nil {
		slog.Warn("unbind failed", "session_id", sessionID, "err", err)
		return
	}
	slog.Info("module session unbound", "module_id", m.ModuleID, "name", m.Name)
}

// MarkExecuted records the dispatch time on the module row.
func (s *RegistryService) MarkExecuted(ctx context.Context, moduleID int, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.repo.GetByID(ctx, moduleID)
	if err != nil {
		return err
	}
	m.LastExecutionTime = &t
	return s.repo.Update(ctx, m)
}

func (s *RegistryService) LookupByHash(ctx context.Context, moduleHash string) (*foreman.Module, error) {
	return s.repo.GetByHash(ctx, moduleHash)
}

func (s *RegistryService) LookupByID(ctx context.Context, moduleID int) (*foreman.Module, error) {
	return s.repo.GetByID(ctx, moduleID)
}

func (s *RegistryService) LookupBySession(ctx context.Context, sessionID string) (*foreman.Module, error) {
	return s.repo.GetBySession(ctx, sessionID)
}

// LookupByName resolves a display name. Names are not unique; on collision
// the first module by module_id wins and a warning is logged.
func (s *RegistryService) LookupByName(ctx context.Context, name string) (*foreman.Module, error) {
	matches, err := s.repo.ListByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: module name %q", repository.ErrNotFound, name)
	}
	if len(matches) > 1 {
		slog.Warn("ambiguous module name, using first match",
			"name", name, "module_id", matches[0].ModuleID, "matches", len(matches))
	}
	return matches[0], nil
}

func (s *RegistryService) List(ctx context.Context) ([]*foreman.Module, error) {
	return s.repo.List(ctx)
}

func (s *RegistryService) ListOnline(ctx context.Context) ([]*foreman.Module, error) {
	return s.repo.ListAlive(ctx)
}

// ReapStale unbinds every alive module whose last_alive_time is unset or
// before threshold, plus every module id listed in force (sessions the hub
// no longer tracks). Returns the reaped set.
func (s *RegistryService) ReapStale(ctx context.Context, threshold time.Time, force ...int) []*foreman.Module {
	s.mu.Lock()
	defer s.mu.Unlock()

	forced := make(map[int]bool, len(force))
	for _, id := range force {
		forced[id] = true
	}

	alive, err := s.repo.ListAlive(ctx)
	if err != nil {
		slog.Error("reap: listing alive modules failed", "err", err)
		return nil
	}

	var reaped []*foreman.Module
	for _, m := range alive {
		expired := forced[m.ModuleID] || m.LastAliveTime == nil || m.LastAliveTime.Before(threshold)
		if !expired {
			continue
		}
		m.Alive = false
		m.SessionID = ""
		if err := s.repo.Update(ctx, m); err != nil {
			slog.Warn("reap: update failed", "module_id", m.ModuleID, "err", err)
			continue
		}
		slog.Warn("module reaped as stale", "module_id", m.ModuleID, "name", m.Name,
			"last_alive_time", m.LastAliveTime)
		reaped = append(reaped, m)
	}
	return reaped
}
