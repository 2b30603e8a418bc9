package foreman

import "time"

// NotificationKind enumerates the closed set of outbound notifications.
type NotificationKind string

const (
	KindExecutionFailure   NotificationKind = "execution_failure"
	KindModuleNotFound     NotificationKind = "module_not_found"
	KindModuleNameNotFound NotificationKind = "module_name_not_found"
	KindModuleInfoInvalid  NotificationKind = "module_info_invalid"
	KindExecutionException NotificationKind = "execution_exception"
	KindExecutionTimeout   NotificationKind = "execution_timeout"
)

// Notification is the payload handed to the notifier port. Which fields are
// meaningful depends on Kind; ModuleID is a pointer because not-found events
// may lack a resolved module.
type Notification struct {
	Kind             NotificationKind
	WorkflowName     string
	WorkflowID       string
	ModuleID         *int
	ModuleName       string
	ModuleInfo       string
	ExecutionID      string
	ErrorMessage     string
	ExceptionMessage string
	ElapsedSeconds   float64
	TimeoutSeconds   int
	FailureTime      time.Time
}
