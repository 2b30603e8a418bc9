package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/modulab/foreman/internal/foreman"
)

func newModule(id int, name, hash string) *foreman.Module {
	return &foreman.Module{ModuleID: id, Name: name, ModuleHash: hash, Priority: 100}
}

func TestMemoryModuleRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryModuleRepository()

	if err := repo.Create(ctx, newModule(1, "M", "h1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	m, err := repo.GetByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("GetByHash returned error: %v", err)
	}
	if m.ModuleID != 1 || m.Name != "M" {
		t.Errorf("GetByHash = %+v, want module 1/M", m)
	}

	byID, err := repo.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if byID.ModuleHash != "h1" {
		t.Errorf("GetByID hash = %q, want h1", byID.ModuleHash)
	}

	if _, err := repo.GetByHash(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByHash(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryModuleRepository_CloneOnRead(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryModuleRepository()
	if err := repo.Create(ctx, newModule(1, "M", "h1")); err != nil {
		t.Fatal(err)
	}

	m, _ := repo.GetByHash(ctx, "h1")
	m.Name = "mutated"

	again, _ := repo.GetByHash(ctx, "h1")
	if again.Name != "M" {
		t.Error("mutating a returned module leaked into the store")
	}
}

func TestMemoryModuleRepository_UpdateUnknown(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryModuleRepository()
	err := repo.Update(ctx, newModule(9, "ghost", "nope"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryModuleRepository_GetBySession(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryModuleRepository()

	m := newModule(1, "M", "h1")
	m.Alive = true
	m.SessionID = "sess-1"
	if err := repo.Create(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetBySession returned error: %v", err)
	}
	if got.ModuleID != 1 {
		t.Errorf("GetBySession module_id = %d, want 1", got.ModuleID)
	}

	// An empty session id must never match offline modules.
	if _, err := repo.GetBySession(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBySession(\"\") error = %v, want ErrNotFound", err)
	}
}

func TestMemoryModuleRepository_ListByNameOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryModuleRepository()

	// Insert out of id order; ListByName must sort by module_id.
	if err := repo.Create(ctx, newModule(3, "N", "h3")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, newModule(1, "N", "h1")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, newModule(2, "other", "h2")); err != nil {
		t.Fatal(err)
	}

	matches, err := repo.ListByName(ctx, "N")
	if err != nil {
		t.Fatalf("ListByName returned error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].ModuleID != 1 || matches[1].ModuleID != 3 {
		t.Errorf("ListByName order = [%d %d], want [1 3]", matches[0].ModuleID, matches[1].ModuleID)
	}
}

func TestMemoryModuleRepository_ListAliveAndMaxID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryModuleRepository()

	a := newModule(1, "A", "ha")
	a.Alive = true
	b := newModule(5, "B", "hb")
	if err := repo.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, b); err != nil {
		t.Fatal(err)
	}

	alive, err := repo.ListAlive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(alive) != 1 || alive[0].ModuleID != 1 {
		t.Errorf("ListAlive = %v, want only module 1", alive)
	}

	max, err := repo.MaxModuleID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if max != 5 {
		t.Errorf("MaxModuleID = %d, want 5", max)
	}
}
