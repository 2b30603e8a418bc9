package foreman

import (
	"fmt"
	"time"
)

// PendingExecution tracks one dispatched execute command that has not yet
// produced a result. Held in memory only; a restart drops all pending
// records.
type PendingExecution struct {
	ExecutionID  string    `json:"execution_id"`
	ModuleID     int       `json:"module_id"`
	ModuleName   string    `json:"module_name"`
	WorkflowID   string    `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name"`
	SentTime     time.Time `json:"sent_time"`
}

// ExecuteMessage is the wire format sent to a worker on fire.
type ExecuteMessage struct {
	Type string         `json:"type"`
	Meta ExecuteMeta    `json:"meta"`
	Args map[string]any `json:"args"`
}

// ExecuteMeta carries the tracking fields of an execute command.
// ExecutionTime is naive local ISO-8601 (see FormatNaive).
type ExecuteMeta struct {
	ExecutionID   string `json:"execution_id"`
	ExecutionTime string `json:"execution_time"`
	WorkflowID    string `json:"workflow_id"`
	WorkflowName  string `json:"workflow_name"`
}

// Result is the parsed form of a worker-originated message. Workers send
// loosely shaped JSON; ParseResult normalizes the fallback keys once at the
// boundary so the rest of the core never touches raw maps.
type Result struct {
	ExecutionID  string
	IsResult     bool
	Failed       bool
	Status       string
	WorkflowID   string
	WorkflowName string
	ModuleName   string
	ErrorMessage string
}

// failureStatuses are the recognized failure spellings.
var failureStatuses = map[string]bool{
	"failure": true,
	"failed":  true,
	"error":   true,
	"fail":    true,
}

// ParseResult interprets a decoded worker message. A message is
// result-shaped when type == "result" or any status key exists.
// execution_id may appear top-level or inside meta. Unrelated fields are
// ignored.
func ParseResult(raw map[string]any) Result {
	meta, _ := raw["meta"].(map[string]any)

	var r Result
	r.ExecutionID = stringField(raw, "execution_id")
	if r.ExecutionID == "" {
		r.ExecutionID = stringField(meta, "execution_id")
	}

	typ, _ := raw["type"].(string)
	_, hasStatus := raw["status"]
	r.IsResult = typ == "result" || hasStatus
	r.Status, _ = raw["status"].(string)
	r.Failed = failureStatuses[r.Status]

	r.WorkflowID = stringField(raw, "workflow_id")
	if r.WorkflowID == "" {
		r.WorkflowID = stringField(meta, "workflow_id")
	}
	r.WorkflowName = stringField(raw, "workflow_name")
	if r.WorkflowName == "" {
		r.WorkflowName = stringField(meta, "workflow_name")
	}
	r.ModuleName = stringField(raw, "module_name")

	for _, key := range []string{"error", "message", "error_message"} {
		if msg := stringField(raw, key); msg != "" {
			r.ErrorMessage = msg
			break
		}
	}
	if r.ErrorMessage == "" {
		r.ErrorMessage = "execution failed"
	}
	return r
}

// stringField reads m[key] as a string, rendering JSON numbers without a
// trailing fraction so numeric workflow ids survive the round trip.
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}
