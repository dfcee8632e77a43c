package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type TaskStatus string

const (
	PendingTaskStatus   TaskStatus = "PENDING"
	RunningTaskStatus   TaskStatus = "RUNNING"
	SuccessTaskStatus   TaskStatus = "SUCCESS"
	FailedTaskStatus    TaskStatus = "FAILED"
	CancelledTaskStatus TaskStatus = "CANCELLED"
)

// Terminal reports whether the task has reached a final status for its
// current run. A terminal task may re-enter PENDING when rescheduled.
func (s TaskStatus) Terminal() bool {
	return s == SuccessTaskStatus || s == FailedTaskStatus || s == CancelledTaskStatus
}

type TaskPriority string

const (
	LowPriority    TaskPriority = "LOW"
	MediumPriority TaskPriority = "MEDIUM"
	HighPriority   TaskPriority = "HIGH"
	UrgentPriority TaskPriority = "URGENT"
)

// Rank orders priorities for dispatch: higher rank is offered first.
func (p TaskPriority) Rank() int {
	switch p {
	case UrgentPriority:
		return 3
	case HighPriority:
		return 2
	case MediumPriority:
		return 1
	case LowPriority:
		return 0
	}
	return 0
}

// ParamMap is an opaque key-value payload handed to the script at dispatch
// time. It is persisted as a JSON column.
type ParamMap map[string]string

func (p ParamMap) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *ParamMap) Scan(src interface{}) error {
	if src == nil {
		*p = ParamMap{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return fmt.Errorf("cannot scan %T into ParamMap", src)
}

// Task represents a unit of schedulable work bound to a script.
type Task struct {
	ID               string       `json:"id" db:"id"`                                 // UUID
	Name             string       `json:"name" db:"name"`                             // Descriptive name (e.g., "NightlyCrawl")
	ScriptID         string       `json:"script_id" db:"script_id"`                   // Script resolved through the ScriptRegistry
	NodeID           *string      `json:"node_id,omitempty" db:"node_id"`             // Preferred node; nil lets the NodeDirectory pick
	Parameters       ParamMap     `json:"parameters" db:"parameters"`                 // Opaque payload passed to the script
	Status           TaskStatus   `json:"status" db:"status"`                         // Mutated only through the state machine
	Priority         TaskPriority `json:"priority" db:"priority"`                     // Dispatch ordering, not correctness
	MaxRunTime       int64        `json:"max_run_time" db:"max_run_time"`             // Seconds before a running execution is forced down
	IsConcurrent     bool         `json:"is_concurrent" db:"is_concurrent"`           // Allow overlapping executions
	NotifyOnComplete bool         `json:"notify_on_complete" db:"notify_on_complete"` // Fire the NotificationGateway on completion
	MaxAttempts      int          `json:"max_attempts" db:"max_attempts"`             // Dispatch attempt budget per due run
	IsActive         bool         `json:"is_active" db:"is_active"`                   // Soft delete flag
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// MaxRunDuration returns the run-time ceiling as a duration. Zero means no limit.
func (t Task) MaxRunDuration() time.Duration {
	return time.Duration(t.MaxRunTime) * time.Second
}
