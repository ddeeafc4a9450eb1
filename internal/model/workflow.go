package model

import "time"

// WorkflowStatus is the registry-level status of a run as reported by the
// client bridge. It is a superset of the pipeline Status: cancellation and
// forced termination are distinguishable to callers listing runs, even
// though both surface as a failed pipeline state internally.
type WorkflowStatus string

// Workflow statuses accepted by the bridge's list filter.
const (
	// WorkflowRunning means the run is still executing.
	WorkflowRunning WorkflowStatus = "Running"

	// WorkflowCompleted means the run finished all phases.
	WorkflowCompleted WorkflowStatus = "Completed"

	// WorkflowFailed means a phase failure ended the run.
	WorkflowFailed WorkflowStatus = "Failed"

	// WorkflowTerminated means terminate() force-closed the run.
	WorkflowTerminated WorkflowStatus = "Terminated"

	// WorkflowCancelled means cancel() ended the run cooperatively.
	WorkflowCancelled WorkflowStatus = "Cancelled"
)

// ValidWorkflowStatus reports whether s is a known workflow status.
func ValidWorkflowStatus(s WorkflowStatus) bool {
	switch s {
	case WorkflowRunning, WorkflowCompleted, WorkflowFailed, WorkflowTerminated, WorkflowCancelled:
		return true
	}
	return false
}

// WorkflowInfo is the run summary returned by the bridge's list operation.
// Timestamps serialize as RFC 3339 (ISO-8601) through encoding/json.
type WorkflowInfo struct {
	// RunID is the unique run identifier.
	RunID string `json:"runId"`

	// SecondaryID is the caller-supplied scan correlation identifier.
	SecondaryID string `json:"secondaryId,omitempty"`

	// Status is the registry-level status of the run.
	Status WorkflowStatus `json:"status"`

	// StartTime is when the run started.
	StartTime time.Time `json:"startTime"`

	// CloseTime is when the run reached a terminal status, or nil while
	// it is still running.
	CloseTime *time.Time `json:"closeTime"`

	// TaskQueueName is the logical queue the run executes on.
	TaskQueueName string `json:"taskQueueName"`
}
