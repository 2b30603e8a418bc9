package foreman

import "time"

// Job log row statuses.
const (
	JobLogExecuted = "executed"
	JobLogError    = "error"
)

// JobLog is one persisted record of a scheduler fire. The weekly cleanup
// watchdog prunes rows older than the retention window.
type JobLog struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	WorkflowID   int       `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name"`
	Status       string    `json:"status"`
	Detail       string    `json:"detail"`
	RunAt        time.Time `json:"run_at"`
}
