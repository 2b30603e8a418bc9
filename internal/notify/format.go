// Package notify renders workflow failure events into email subject/body
// pairs and delivers them, either through the external mail gateway or
// directly over SMTP.
package notify

import (
	"fmt"
	"strings"

	"github.com/modulab/foreman/internal/foreman"
)

const failureTimeLayout = "2006-01-02 15:04:05"

// Render produces the subject and body for a notification. Every kind maps
// to a fixed template; optional fields render as "unknown" when absent.
func Render(n foreman.Notification) (subject, body string) {
	switch n.Kind {
	case foreman.KindExecutionFailure:
		subject = fmt.Sprintf("[Workflow Execution Failure] %s - %s", n.WorkflowName, n.ModuleName)
		body = joinLines(
			"Workflow module execution failed.",
			"",
			"Workflow name: "+n.WorkflowName,
			"Workflow ID: "+orUnknown(n.WorkflowID),
			"Module name: "+n.ModuleName,
			"Module ID: "+moduleID(n.ModuleID),
			"Failure time: "+n.FailureTime.Format(failureTimeLayout),
			"Error message: "+n.ErrorMessage,
			"",
			"Please investigate.",
		)

	case foreman.KindModuleNotFound:
		subject = fmt.Sprintf("[Workflow Execution Failure] %s - module not found or offline", n.WorkflowName)
		body = joinLines(
			"Workflow module execution failed.",
			"",
			"Workflow name: "+n.WorkflowName,
			"Workflow ID: "+orUnknown(n.WorkflowID),
			"Module name: "+orUnknown(n.ModuleName),
			"Module ID: "+moduleID(n.ModuleID),
			"Failure time: "+n.FailureTime.Format(failureTimeLayout),
			"Error message: module not found or offline",
			"",
			"Check whether the module is registered and online.",
		)

	case foreman.KindModuleNameNotFound:
		subject = fmt.Sprintf("[Workflow Execution Failure] %s - module name not found", n.WorkflowName)
		body = joinLines(
			"Workflow module execution failed.",
			"",
			"Workflow name: "+n.WorkflowName,
			"Workflow ID: "+orUnknown(n.WorkflowID),
			"Module name: "+n.ModuleName,
			"Failure time: "+n.FailureTime.Format(failureTimeLayout),
			"Error message: no registered module has this name",
			"",
			"Check whether the module is registered.",
		)

	case foreman.KindModuleInfoInvalid:
		subject = fmt.Sprintf("[Workflow Execution Failure] %s - invalid module entry", n.WorkflowName)
		body = joinLines(
			"Workflow module execution failed.",
			"",
			"Workflow name: "+n.WorkflowName,
			"Workflow ID: "+orUnknown(n.WorkflowID),
			"Module entry: "+n.ModuleInfo,
			"Failure time: "+n.FailureTime.Format(failureTimeLayout),
			"Error message: module entry carries neither module_hash nor a resolvable name",
			"",
			"Check the execute_modules list of the workflow.",
		)

	case foreman.KindExecutionException:
		subject = fmt.Sprintf("[Workflow Execution Failure] %s - dispatch exception", n.WorkflowName)
		body = joinLines(
			"Workflow module execution failed.",
			"",
			"Workflow name: "+n.WorkflowName,
			"Workflow ID: "+orUnknown(n.WorkflowID),
			"Module name: "+orUnknown(n.ModuleName),
			"Module ID: "+moduleID(n.ModuleID),
			"Failure time: "+n.FailureTime.Format(failureTimeLayout),
			"Error message: "+n.ExceptionMessage,
			"",
			"Please investigate.",
		)

	case foreman.KindExecutionTimeout:
		subject = fmt.Sprintf("[Workflow Execution Timeout] %s - %s", n.WorkflowName, n.ModuleName)
		body = joinLines(
			"Workflow module execution timed out.",
			"",
			"Workflow name: "+n.WorkflowName,
			"Workflow ID: "+orUnknown(n.WorkflowID),
			"Module name: "+n.ModuleName,
			"Module ID: "+moduleID(n.ModuleID),
			"Execution ID: "+n.ExecutionID,
			fmt.Sprintf("Timeout: %d seconds", n.TimeoutSeconds),
			fmt.Sprintf("Elapsed: %.1f seconds", n.ElapsedSeconds),
			"Timeout time: "+n.FailureTime.Format(failureTimeLayout),
			"Error message: the execute command produced no result within the timeout",
			"",
			"Check whether the module is running and reachable.",
		)

	default:
		subject = fmt.Sprintf("[Workflow Notification] %s", n.WorkflowName)
		body = fmt.Sprintf("Unrecognized notification kind %q for workflow %s at %s.",
			n.Kind, n.WorkflowName, n.FailureTime.Format(failureTimeLayout))
	}
	return subject, strings.TrimSpace(body)
}

func joinLines(lines ...string) string {
	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func moduleID(id *int) string {
	if id == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *id)
}
