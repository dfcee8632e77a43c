package models

import "time"

type DependencyType string

const (
	SuccessDependency    DependencyType = "SUCCESS"    // Satisfied by a SUCCESS upstream execution
	CompletionDependency DependencyType = "COMPLETION" // Satisfied by any terminal upstream execution
	TimeoutDependency    DependencyType = "TIMEOUT"    // COMPLETION, or the upstream stuck past TimeoutMinutes
	ManualDependency     DependencyType = "MANUAL"     // Only satisfied by an explicit override
)

type DependencyCondition string

const (
	AllSuccessCondition  DependencyCondition = "ALL_SUCCESS"
	AnySuccessCondition  DependencyCondition = "ANY_SUCCESS"
	AllCompleteCondition DependencyCondition = "ALL_COMPLETE"
	AnyCompleteCondition DependencyCondition = "ANY_COMPLETE"
)

// TaskDependency is a directed edge: TaskID is blocked until DependsOnTaskID's
// execution history satisfies the edge. All edges sharing a dependent task
// must carry the same Condition; the upstream task is referenced by identity
// only and is never cascaded into.
type TaskDependency struct {
	ID              string              `json:"id" db:"id"`                                     // UUID
	TaskID          string              `json:"task_id" db:"task_id"`                           // Dependent task
	DependsOnTaskID string              `json:"depends_on_task_id" db:"depends_on_task_id"`     // Upstream task
	Type            DependencyType      `json:"type" db:"type"`                                 // Per-edge satisfaction rule
	Condition       DependencyCondition `json:"condition" db:"condition"`                       // Aggregation across the dependent's edges
	TimeoutMinutes  *int                `json:"timeout_minutes,omitempty" db:"timeout_minutes"` // TIMEOUT edges only
	IsActive        bool                `json:"is_active" db:"is_active"`
	ManualOverride  bool                `json:"manual_override" db:"manual_override"` // External override signal for MANUAL edges
	OverriddenAt    *time.Time          `json:"overridden_at,omitempty" db:"overridden_at"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at" db:"updated_at"`
}
