package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/modulab/foreman/internal/foreman"
	"github.com/modulab/foreman/internal/repository"
)

type createWorkflowRequest struct {
	WorkflowID       *int                 `json:"workflow_id"`
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	Enable           *bool                `json:"enable"`
	ExecuteCronList  []string             `json:"execute_cron_list"`
	ExecuteShiftTime int                  `json:"execute_shift_time"`
	ExecuteShiftUnit string               `json:"execute_shift_unit"`
	ExecuteModules   []foreman.ModuleCall `json:"execute_modules"`
}

// createWorkflow handles POST /workflow/create. Every referenced module
// must exist at creation time; the workflow id is assigned max+1 unless the
// caller pins one.
func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondFail(w, codeBadParameter, "invalid JSON body")
		return
	}

	if req.Name == "" {
		respondFail(w, codeBadParameter, "workflow name must not be empty")
		return
	}
	if len(req.ExecuteCronList) == 0 {
		respondFail(w, codeBadParameter, "execute_cron_list must be a non-empty list")
		return
	}
	if len(req.ExecuteModules) == 0 {
		respondFail(w, codeBadParameter, "execute_modules must be a non-empty list")
		return
	}

	shiftUnit := req.ExecuteShiftUnit
	if shiftUnit == "" {
		shiftUnit = "s"
	}
	if _, err := foreman.ShiftDuration(req.ExecuteShiftTime, shiftUnit); err != nil {
		respondFail(w, codeBadParameter, fmt.Sprintf("invalid execute_shift_unit %q", shiftUnit))
		return
	}

	ctx := r.Context()
	for _, call := range req.ExecuteModules {
		switch {
		case call.ModuleHash != "":
			if _, err := s.registry.LookupByHash(ctx, call.ModuleHash); err != nil {
				respondFail(w, codeNotFound, fmt.Sprintf("module %s not found", call.ModuleHash))
				return
			}
		case call.Name != "":
			if _, err := s.registry.LookupByName(ctx, call.Name); err != nil {
				respondFail(w, codeNotFound, fmt.Sprintf("module name %s not found", call.Name))
				return
			}
		default:
			respondFail(w, codeBadParameter, "module entry must carry module_hash or name")
			return
		}
	}

	workflowID := 0
	if req.WorkflowID != nil {
		workflowID = *req.WorkflowID
		if _, err := s.workflows.GetByID(ctx, workflowID); err == nil {
			respondFail(w, codeConflict, fmt.Sprintf("workflow id %d already exists", workflowID))
			return
		} else if !errors.Is(err, repository.ErrNotFound) {
			respondFail(w, codeInternal, fmt.Sprintf("workflow lookup failed: %v", err))
			return
		}
	} else {
		maxID, err := s.workflows.MaxWorkflowID(ctx)
		if err != nil {
			respondFail(w, codeInternal, fmt.Sprintf("workflow id allocation failed: %v", err))
			return
		}
		workflowID = maxID + 1
	}

	enable := true
	if req.Enable != nil {
		enable = *req.Enable
	}

	wf := &foreman.Workflow{
		WorkflowID:       workflowID,
		Name:             req.Name,
		Description:      req.Description,
		Enable:           enable,
		ExecuteCronList:  req.ExecuteCronList,
		ExecuteShiftTime: req.ExecuteShiftTime,
		ExecuteShiftUnit: shiftUnit,
		ExecuteModules:   req.ExecuteModules,
	}
	if err := s.workflows.Create(ctx, wf); err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("creating workflow failed: %v", err))
		return
	}

	respondOK(w, map[string]any{
		"id":          strconv.Itoa(wf.WorkflowID),
		"workflow_id": wf.WorkflowID,
		"name":        wf.Name,
	})
}

// executeWorkflow handles POST /workflow/{workflow_id}/execute: an
// immediate out-of-schedule fire.
func (s *Server) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID, err := strconv.Atoi(chi.URLParam(r, "workflow_id"))
	if err != nil {
		respondFail(w, codeBadParameter, "workflow_id must be an integer")
		return
	}

	wf, err := s.workflows.GetByID(r.Context(), workflowID)
	if errors.Is(err, repository.ErrNotFound) {
		respondFail(w, codeNotFound, fmt.Sprintf("workflow %d not found", workflowID))
		return
	}
	if err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("workflow lookup failed: %v", err))
		return
	}

	if err := s.scheduler.ExecuteWorkflow(r.Context(), workflowID); err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("executing workflow failed: %v", err))
		return
	}

	respondOK(w, map[string]any{
		"workflow_id":   wf.WorkflowID,
		"workflow_name": wf.Name,
		"message":       "workflow execution started",
	})
}

// listWorkflows handles GET /workflow/list.
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	all, err := s.workflows.List(r.Context())
	if err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("listing workflows failed: %v", err))
		return
	}
	respondOK(w, all)
}

// listJobs handles GET /scheduler/jobs.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	respondOK(w, s.scheduler.ListJobs(r.Context()))
}

// reloadScheduler handles POST /scheduler/reload: reconcile registered
// jobs with the stored workflow set.
func (s *Server) reloadScheduler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.scheduler.ReloadAll(r.Context())
	if err != nil {
		respondFail(w, codeInternal, fmt.Sprintf("reloading scheduler failed: %v", err))
		return
	}
	respondOK(w, map[string]any{
		"removed_count":     stats.RemovedCount,
		"current_count":     stats.CurrentCount,
		"enabled_workflows": stats.EnabledWorkflows,
		"message": fmt.Sprintf("removed %d jobs, %d workflow jobs registered",
			stats.RemovedCount, stats.CurrentCount),
	})
}

// listGroups handles GET /hub/groups: introspection of the live websocket
// groups, with the registry row attached when the group maps to a module.
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.hub.Groups()

	type groupView struct {
		GroupName    string          `json:"group_name"`
		SessionCount int             `json:"session_count"`
		SessionIDs   []string        `json:"session_ids"`
		Module       *foreman.Module `json:"module"`
	}

	out := make([]groupView, 0, len(groups))
	for _, g := range groups {
		view := groupView{
			GroupName:    g.GroupName,
			SessionCount: g.SessionCount,
			SessionIDs:   g.SessionIDs,
		}
		if g.ModuleID != 0 {
			if m, err := s.registry.LookupByID(r.Context(), g.ModuleID); err == nil {
				view.Module = m
			}
		}
		out = append(out, view)
	}

	respondOK(w, map[string]any{
		"total_groups": len(out),
		"groups":       out,
	})
}
