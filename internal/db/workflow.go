package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modulab/foreman/internal/foreman"
)

const workflowColumns = `workflow_id, name, description, enable, execute_cron_list,
	execute_shift_time, execute_shift_unit, execute_modules, created_at, updated_at`

// CreateWorkflow stores a new workflow row.
func (d *DB) CreateWorkflow(ctx context.Context, w *foreman.Workflow) error {
	cronJSON, _ := json.Marshal(w.ExecuteCronList)
	modulesJSON, _ := json.Marshal(w.ExecuteModules)

	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.WorkflowID, w.Name, w.Description, w.Enable, cronJSON,
		w.ExecuteShiftTime, w.ExecuteShiftUnit, modulesJSON, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// UpdateWorkflow rewrites an existing workflow row.
func (d *DB) UpdateWorkflow(ctx context.Context, w *foreman.Workflow) error {
	cronJSON, _ := json.Marshal(w.ExecuteCronList)
	modulesJSON, _ := json.Marshal(w.ExecuteModules)

	_, err := d.Pool.ExecContext(ctx,
		`UPDATE workflows SET name = $1, description = $2, enable = $3,
		        execute_cron_list = $4, execute_shift_time = $5, execute_shift_unit = $6,
		        execute_modules = $7, updated_at = $8
		 WHERE workflow_id = $9`,
		w.Name, w.Description, w.Enable, cronJSON,
		w.ExecuteShiftTime, w.ExecuteShiftUnit, modulesJSON, w.UpdatedAt, w.WorkflowID,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return nil
}

// DeleteWorkflow removes a workflow row.
func (d *DB) DeleteWorkflow(ctx context.Context, workflowID int) error {
	_, err := d.Pool.ExecContext(ctx, `DELETE FROM workflows WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

// ListWorkflows returns all workflows ordered by workflow_id.
func (d *DB) ListWorkflows(ctx context.Context) ([]*foreman.Workflow, error) {
	return d.queryWorkflows(ctx,
		`SELECT `+workflowColumns+` FROM workflows ORDER BY workflow_id`)
}

// ListEnabledWorkflows returns all workflows with enable = true.
func (d *DB) ListEnabledWorkflows(ctx context.Context) ([]*foreman.Workflow, error) {
	return d.queryWorkflows(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE enable = true ORDER BY workflow_id`)
}

func (d *DB) queryWorkflows(ctx context.Context, query string, args ...any) ([]*foreman.Workflow, error) {
	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var result []*foreman.Workflow
	for rows.Next() {
		w := &foreman.Workflow{}
		var cronJSON, modulesJSON []byte
		if err := rows.Scan(&w.WorkflowID, &w.Name, &w.Description, &w.Enable, &cronJSON,
			&w.ExecuteShiftTime, &w.ExecuteShiftUnit, &modulesJSON,
			&w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		row := fmt.Sprintf("workflow_%d", w.WorkflowID)
		decodeJSON(cronJSON, &w.ExecuteCronList, "execute_cron_list", row)
		decodeJSON(modulesJSON, &w.ExecuteModules, "execute_modules", row)
		w.CreatedAt = w.CreatedAt.In(d.loc)
		w.UpdatedAt = w.UpdatedAt.In(d.loc)
		result = append(result, w)
	}
	return result, rows.Err()
}
