package foreman

import (
	"encoding/json"
	"time"
)

// Workflow is a named schedule tied to an ordered list of module
// invocations. The trigger is the union of the cron expressions, each fire
// shifted by ExecuteShiftTime ExecuteShiftUnits.
type Workflow struct {
	WorkflowID       int          `json:"workflow_id"`
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	Enable           bool         `json:"enable"`
	ExecuteCronList  []string     `json:"execute_cron_list"`
	ExecuteShiftTime int          `json:"execute_shift_time"`
	ExecuteShiftUnit string       `json:"execute_shift_unit"`
	ExecuteModules   []ModuleCall `json:"execute_modules"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// ModuleCall is one entry of a workflow's execute_modules list. Either
// ModuleHash or Name identifies the target; Args is passed through to the
// worker verbatim.
type ModuleCall struct {
	ModuleHash string         `json:"module_hash,omitempty"`
	Name       string         `json:"name,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
}

// UnmarshalJSON also accepts a bare JSON string, treated as a module_hash
// with empty args.
func (c *ModuleCall) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var hash string
		if err := json.Unmarshal(data, &hash); err != nil {
			return err
		}
		*c = ModuleCall{ModuleHash: hash}
		return nil
	}
	type plain ModuleCall
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ModuleCall(p)
	return nil
}

// Clone returns a deep copy.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.ExecuteCronList = append([]string(nil), w.ExecuteCronList...)
	if w.ExecuteModules != nil {
		out.ExecuteModules = make([]ModuleCall, len(w.ExecuteModules))
		for i, call := range w.ExecuteModules {
			out.ExecuteModules[i] = call
			if call.Args != nil {
				args := make(map[string]any, len(call.Args))
				for k, v := range call.Args {
					args[k] = v
				}
				out.ExecuteModules[i].Args = args
			}
		}
	}
	return &out
}
