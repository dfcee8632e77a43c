package storage

import (
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

func errDuplicate(kind, id string) error {
	return errors.Errorf("%s %s already exists", kind, id)
}

// Store defines the persistence operations the scheduling engine depends on.
// Begin returns a Store bound to a transaction; Commit/Rollback only make
// sense on that transactional store.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Task operations
	SaveTask(t models.Task) error
	GetTask(id string) (models.Task, error)
	ListTasks() ([]models.Task, error)
	UpdateTask(t models.Task) error
	UpdateTaskStatus(id string, status models.TaskStatus) error
	DeactivateTask(id string) error

	// Schedule operations
	SaveSchedule(s models.TaskSchedule) error
	GetSchedule(id string) (models.TaskSchedule, error)
	ListSchedulesByTask(taskID string) ([]models.TaskSchedule, error)
	ListDueSchedules(now time.Time) ([]models.TaskSchedule, error)
	UpdateScheduleRun(id string, lastRunAt, nextRunAt *time.Time) error

	// Execution operations
	SaveExecution(e models.TaskExecution) error
	GetExecution(id string) (models.TaskExecution, error)
	UpdateExecution(e models.TaskExecution) error
	ListExecutionsByTask(taskID string) ([]models.TaskExecution, error)
	ListRunningExecutions() ([]models.TaskExecution, error)
	// LatestExecution returns the task's most recent execution by start time,
	// or ErrNotFound if the task has never run.
	LatestExecution(taskID string) (models.TaskExecution, error)

	// Dependency operations
	SaveDependency(d models.TaskDependency) error
	ListDependencies(taskID string) ([]models.TaskDependency, error) // edges where taskID is the dependent
	ListDependents(taskID string) ([]models.TaskDependency, error)   // edges where taskID is the upstream
	SetManualOverride(dependencyID string, overridden bool, at *time.Time) error
}
