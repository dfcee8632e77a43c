package models

import "time"

type ScheduleCycle string

const (
	DailyCycle   ScheduleCycle = "DAILY"
	WeeklyCycle  ScheduleCycle = "WEEKLY"
	MonthlyCycle ScheduleCycle = "MONTHLY"
	CronCycle    ScheduleCycle = "CRON"
)

// TaskSchedule is a recurrence rule attached to a task. A task may carry
// zero or more schedules; each produces due timestamps independently.
type TaskSchedule struct {
	ID         string        `json:"id" db:"id"`                               // UUID
	TaskID     string        `json:"task_id" db:"task_id"`                     // Owning task
	CycleType  ScheduleCycle `json:"cycle_type" db:"cycle_type"`               // DAILY, WEEKLY, MONTHLY or CRON
	RunTime    string        `json:"run_time" db:"run_time"`                   // Time of day, "HH:MM"
	DayOfWeek  *int          `json:"day_of_week,omitempty" db:"day_of_week"`   // 0=Sunday..6=Saturday, WEEKLY only
	DayOfMonth *int          `json:"day_of_month,omitempty" db:"day_of_month"` // 1..31, MONTHLY only; overflow clamps
	CronExpr   *string       `json:"cron_expr,omitempty" db:"cron_expr"`       // Standard 5-field expression, CRON only
	IsActive   bool          `json:"is_active" db:"is_active"`
	LastRunAt  *time.Time    `json:"last_run_at,omitempty" db:"last_run_at"`
	NextRunAt  *time.Time    `json:"next_run_at,omitempty" db:"next_run_at"` // Derived, cached; recomputed when LastRunAt advances
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
}
