// Package hub hosts the bidirectional sessions of connected modules. Each
// accepted websocket joins the group "module_{module_id}"; the scheduler
// and the admin surface fan messages out to groups, and inbound traffic
// keeps the registry's liveness view fresh.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/modulab/foreman/internal/foreman"
	"github.com/modulab/foreman/internal/foreman/ports"
	"github.com/modulab/foreman/internal/repository"
	"github.com/modulab/foreman/internal/services"
)

// GroupName returns the fan-out group for a module.
func GroupName(moduleID int) string {
	return fmt.Sprintf("module_%d", moduleID)
}

// Hub owns the group membership map. Producers never write to a
// connection directly; every outbound frame goes through the member
// session's buffered channel and its single writer goroutine.
type Hub struct {
	registry *services.RegistryService
	tracker  *services.ExecutionTracker
	notifier ports.Notifier
	clock    *foreman.Clock
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	groups map[string]map[*session]struct{}
}

func New(registry *services.RegistryService, tracker *services.ExecutionTracker, notifier ports.Notifier, clock *foreman.Clock) *Hub {
	return &Hub{
		registry: registry,
		tracker:  tracker,
		notifier: notifier,
		clock:    clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		groups: make(map[string]map[*session]struct{}),
	}
}

// ServeWS accepts a module connection: GET /websocket?hash=<module_hash>.
// The session is bound in the registry before the upgrade, so the loser of
// a duplicate-connect race is rejected with 409 before its socket opens.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		http.Error(w, "missing hash parameter", http.StatusBadRequest)
		return
	}

	// Fresh token per accepted connection, never derived from connection
	// identity.
	sessionID := uuid.NewString()

	module, err := h.registry.BindSession(r.Context(), hash, sessionID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "module not found", http.StatusNotFound)
		return
	case errors.Is(err, foreman.ErrSessionConflict):
		http.Error(w, "module already online", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "bind failed", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "module_id", module.ModuleID, "err", err)
		h.registry.Unbind(context.Background(), sessionID)
		return
	}

	s := newSession(h, conn, sessionID, module.ModuleID)
	h.join(s)
	slog.Info("module connected", "module_id", module.ModuleID, "name", module.Name,
		"session_id", sessionID)

	go s.writePump()
	s.readPump()
}

func (h *Hub) join(s *session) {
	group := GroupName(s.moduleID)
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*session]struct{})
		h.groups[group] = members
	}
	members[s] = struct{}{}
}

// leave removes the session from its group. The caller has already
// unbound the registry session.
func (h *Hub) leave(s *session) {
	group := GroupName(s.moduleID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[group]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

func (h *Hub) members(moduleID int) []*session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.groups[GroupName(moduleID)]
	out := make([]*session, 0, len(members))
	for s := range members {
		out = append(out, s)
	}
	return out
}

// SendToModule serializes message once and hands it to every member of the
// module's group. An empty group drops silently; the pending entry, if
// any, is reaped by the execution-timeout watchdog.
func (h *Hub) SendToModule(ctx context.Context, moduleID int, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message for module %d: %w", moduleID, err)
	}
	members := h.members(moduleID)
	if len(members) == 0 {
		slog.Warn("send to empty group", "group", GroupName(moduleID))
		return nil
	}
	for _, s := range members {
		s.enqueue(payload)
	}
	return nil
}

// CloseModule asks every member of the module's group to close cleanly.
// Each closing session unbinds before it leaves the group.
func (h *Hub) CloseModule(ctx context.Context, moduleID int) error {
	members := h.members(moduleID)
	if len(members) == 0 {
		return fmt.Errorf("module %d has no active session", moduleID)
	}
	for _, s := range members {
		s.requestClose()
	}
	return nil
}

// SessionCount reports the member count of the module's group.
func (h *Hub) SessionCount(moduleID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[GroupName(moduleID)])
}

// GroupInfo is the admin projection of one group.
type GroupInfo struct {
	GroupName    string   `json:"group_name"`
	ModuleID     int      `json:"module_id"`
	SessionCount int      `json:"session_count"`
	SessionIDs   []string `json:"session_ids"`
}

// Groups returns a snapshot of all groups and their sessions.
func (h *Hub) Groups() []GroupInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]GroupInfo, 0, len(h.groups))
	for name, members := range h.groups {
		info := GroupInfo{GroupName: name, SessionCount: len(members)}
		if id, err := strconv.Atoi(strings.TrimPrefix(name, "module_")); err == nil {
			info.ModuleID = id
		}
		for s := range members {
			info.SessionIDs = append(info.SessionIDs, s.sessionID)
		}
		out = append(out, info)
	}
	return out
}
