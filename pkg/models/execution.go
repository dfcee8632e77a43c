package models

import "time"

type ExecutionStatus string

const (
	RunningExecutionStatus   ExecutionStatus = "RUNNING"
	SuccessExecutionStatus   ExecutionStatus = "SUCCESS"
	FailedExecutionStatus    ExecutionStatus = "FAILED"
	CancelledExecutionStatus ExecutionStatus = "CANCELLED"
)

// Terminal reports whether the execution can no longer change status.
func (s ExecutionStatus) Terminal() bool {
	return s == SuccessExecutionStatus || s == FailedExecutionStatus || s == CancelledExecutionStatus
}

// TaskExecution is one concrete run attempt of a task. Executions are
// retained for audit and never mutated after reaching a terminal status.
type TaskExecution struct {
	ID          string          `json:"id" db:"id"`                           // UUID
	TaskID      string          `json:"task_id" db:"task_id"`                 // Owning task
	NodeID      string          `json:"node_id" db:"node_id"`                 // Node the attempt runs on
	Status      ExecutionStatus `json:"status" db:"status"`                   // RUNNING until finalized
	Attempt     int             `json:"attempt" db:"attempt"`                 // 1-based attempt counter for the due run
	StartTime   time.Time       `json:"start_time" db:"start_time"`           // Set at dispatch
	EndTime     *time.Time      `json:"end_time,omitempty" db:"end_time"`     // Absent while running
	Output      string          `json:"output,omitempty" db:"output"`         // Captured stdout
	Error       string          `json:"error,omitempty" db:"error"`           // Captured error, if any
	CPUUsage    string          `json:"cpu_usage,omitempty" db:"cpu_usage"`   // Resource snapshot as reported by the node
	MemoryUsage string          `json:"memory_usage,omitempty" db:"memory_usage"`
	DiskUsage   string          `json:"disk_usage,omitempty" db:"disk_usage"`
}
