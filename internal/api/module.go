package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/modulab/foreman/internal/foreman"
	"github.com/modulab/foreman/internal/repository"
	"github.com/modulab/foreman/internal/services"
)

// registerModule handles GET /module/register. The worker SDK passes
// everything as query parameters, with input_data/output_data as JSON
// arrays; the hash parameter is spelled modelHash.
func (s *Server) registerModule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		respondFail(w, codeBadParameter, "invalid registration payload")
		return
	}

	var inputData, outputData []foreman.DataRequirement
	if raw := q.Get("input_data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &inputData); err != nil {
			respondFail(w, codeBadParameter, "invalid registration payload")
			return
		}
	}
	if raw := q.Get("output_data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &outputData); err != nil {
			respondFail(w, codeBadParameter, "invalid registration payload")
			return
		}
	}

	module, err := s.registry.Register(r.Context(), services.RegisterInput{
		Name:        name,
		Description: q.Get("description"),
		ModelHash:   q.Get("modelHash"),
		InputData:   inputData,
		OutputData:  outputData,
	})
	if errors.Is(err, foreman.ErrAlreadyRegistered) {
		respondFail(w, codeDuplicateEntry, "module already registered")
		return
	}
	if err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("registration failed: %v", err))
		return
	}

	respondOK(w, map[string]any{
		"hash":      module.ModuleHash,
		"module_id": module.ModuleID,
	})
}

// listOnlineModules handles GET /module/online.
func (s *Server) listOnlineModules(w http.ResponseWriter, r *http.Request) {
	online, err := s.registry.ListOnline(r.Context())
	if err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("listing online modules failed: %v", err))
		return
	}
	respondOK(w, online)
}

type sendMessageRequest struct {
	ModuleID *int `json:"module_id"`
	Message  any  `json:"message"`
}

// sendMessage handles POST /module/send_message: a raw push to the
// module's group, wrapped as {"message": ...}.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondFail(w, codeBadParameter, "invalid JSON body")
		return
	}
	if req.ModuleID == nil {
		respondFail(w, codeBadParameter, "module_id is required")
		return
	}

	module, err := s.registry.LookupByID(r.Context(), *req.ModuleID)
	if errors.Is(err, repository.ErrNotFound) {
		respondFail(w, codeNotFound, fmt.Sprintf("module (id: %d) not found", *req.ModuleID))
		return
	}
	if err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("module lookup failed: %v", err))
		return
	}

	if err := s.hub.SendToModule(r.Context(), module.ModuleID, map[string]any{"message": req.Message}); err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("send failed: %v", err))
		return
	}

	respondOK(w, map[string]any{
		"message":     req.Message,
		"module_id":   module.ModuleID,
		"module_name": module.Name,
	})
}

type closeWebsocketRequest struct {
	ModuleID *int `json:"module_id"`
}

// closeWebsocket handles POST /module/close_websocket.
func (s *Server) closeWebsocket(w http.ResponseWriter, r *http.Request) {
	var req closeWebsocketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondFail(w, codeBadParameter, "invalid JSON body")
		return
	}
	if req.ModuleID == nil {
		respondFail(w, codeBadParameter, "module_id is required")
		return
	}

	module, err := s.registry.LookupByID(r.Context(), *req.ModuleID)
	if errors.Is(err, repository.ErrNotFound) {
		respondFail(w, codeNotFound, fmt.Sprintf("module (id: %d) not found", *req.ModuleID))
		return
	}
	if err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("module lookup failed: %v", err))
		return
	}
	if !module.Alive {
		respondFail(w, codeNotFound,
			fmt.Sprintf("module %s(id: %d) is not online", module.Name, module.ModuleID))
		return
	}

	if err := s.hub.CloseModule(r.Context(), module.ModuleID); err != nil {
		respondFail(w, codeConflict,
			fmt.Sprintf("closing websocket of module %s(id: %d) failed", module.Name, module.ModuleID))
		return
	}

	respondOK(w, map[string]any{
		"module_id":   module.ModuleID,
		"module_name": module.Name,
		"message":     fmt.Sprintf("websocket of module %s(id: %d) closed", module.Name, module.ModuleID),
	})
}
