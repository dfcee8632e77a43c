package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TaskService is the management surface over tasks, schedules and
// dependency edges. It honors the engine contract: task status only moves
// through the state machine, a task with an open execution is never
// removed, and dependency edges pass the resolver's cycle check before
// they are persisted.
type TaskService struct {
	store      storage.Store
	resolver   *DependencyResolver
	tracker    *ExecutionTracker
	scheduler  *Scheduler
	dispatcher Dispatcher
	logger     Logger
}

func NewTaskService(
	store storage.Store,
	resolver *DependencyResolver,
	tracker *ExecutionTracker,
	scheduler *Scheduler,
	dispatcher Dispatcher,
	logger Logger,
) *TaskService {
	return &TaskService{
		store:      store,
		resolver:   resolver,
		tracker:    tracker,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (ts *TaskService) CreateTask(t models.Task) (task models.Task, err error) {
	if t.Name == "" {
		return models.Task{}, errors.New("task name cannot be empty")
	}
	if len(t.Name) > 100 {
		return models.Task{}, errors.New("task name too long (max 100 characters)")
	}
	if t.ScriptID == "" {
		return models.Task{}, errors.New("task script cannot be empty")
	}

	t.ID = uuid.NewString()
	t.Status = models.PendingTaskStatus
	if t.Priority == "" {
		t.Priority = models.MediumPriority
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = 1
	}
	if t.Parameters == nil {
		t.Parameters = models.ParamMap{}
	}
	t.IsActive = true
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt

	txStore, err := ts.store.Begin()
	if err != nil {
		return models.Task{}, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if err = txStore.SaveTask(t); err != nil {
		return models.Task{}, err
	}
	ts.logger.Infof("Created task '%s' with ID %s", t.Name, t.ID)
	return t, nil
}

func (ts *TaskService) GetTask(id string) (models.Task, error) {
	t, err := ts.store.GetTask(id)
	if err != nil {
		return models.Task{}, errors.Wrapf(err, "get task %s", id)
	}
	return t, nil
}

func (ts *TaskService) ListTasks() ([]models.Task, error) {
	return ts.store.ListTasks()
}

func (ts *TaskService) ListExecutions(taskID string) ([]models.TaskExecution, error) {
	return ts.store.ListExecutionsByTask(taskID)
}

// DeactivateTask soft-deletes a task. Tasks are never physically removed
// while executions reference them, and a task with an open execution is
// refused outright.
func (ts *TaskService) DeactivateTask(id string) error {
	execs, err := ts.store.ListExecutionsByTask(id)
	if err != nil {
		return errors.Wrapf(err, "list executions of task %s", id)
	}
	for _, e := range execs {
		if e.Status == models.RunningExecutionStatus {
			return errors.Errorf("task %s has an open execution (%s)", id, e.ID)
		}
	}
	if err := ts.store.DeactivateTask(id); err != nil {
		return errors.Wrapf(err, "deactivate task %s", id)
	}
	ts.logger.Infof("Deactivated task %s", id)
	return nil
}

// CancelTask moves a PENDING or RUNNING task to CANCELLED, finalizes its
// running executions and signals the dispatch collaborator to stop the
// remote processes. Cancellation is cooperative: the bookkeeping reflects
// CANCELLED immediately, the remote side stops when it stops.
func (ts *TaskService) CancelTask(ctx context.Context, id string) error {
	task, err := ts.store.GetTask(id)
	if err != nil {
		return errors.Wrapf(err, "get task %s", id)
	}
	if err := Transition(&task, CancelEvent); err != nil {
		return err
	}
	if err := ts.store.UpdateTaskStatus(task.ID, task.Status); err != nil {
		return errors.Wrapf(err, "update task %s", id)
	}

	execs, err := ts.store.ListExecutionsByTask(id)
	if err != nil {
		return errors.Wrapf(err, "list executions of task %s", id)
	}
	now := time.Now()
	for _, e := range execs {
		if e.Status != models.RunningExecutionStatus {
			continue
		}
		outcome := Outcome{Status: models.CancelledExecutionStatus, Error: "cancelled by request"}
		if _, err := ts.tracker.Finalize(e.ID, outcome, now); err != nil {
			ts.logger.Errorf("Cannot finalize execution %s on cancel: %v", e.ID, err)
		}
		if ts.dispatcher != nil {
			if err := ts.dispatcher.Stop(ctx, e.ID); err != nil {
				ts.logger.Warnf("Stop signal for execution %s failed: %v", e.ID, err)
			}
		}
	}
	ts.logger.Infof("Cancelled task %s", id)
	return nil
}

// AddSchedule attaches a recurrence rule to a task and caches its first
// next-run timestamp.
func (ts *TaskService) AddSchedule(s models.TaskSchedule) (sched models.TaskSchedule, err error) {
	if _, err := ts.store.GetTask(s.TaskID); err != nil {
		return models.TaskSchedule{}, errors.Wrapf(err, "get task %s", s.TaskID)
	}

	s.ID = uuid.NewString()
	s.IsActive = true
	s.LastRunAt = nil
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	next, err := ComputeNextRun(s, time.Now())
	if err != nil {
		return models.TaskSchedule{}, err
	}
	s.NextRunAt = next

	txStore, err := ts.store.Begin()
	if err != nil {
		return models.TaskSchedule{}, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if err = txStore.SaveSchedule(s); err != nil {
		return models.TaskSchedule{}, err
	}
	ts.logger.Infof("Added %s schedule %s to task %s, first run at %v", s.CycleType, s.ID, s.TaskID, s.NextRunAt)
	return s, nil
}

// AddDependency persists a dependency edge after the resolver's checks.
// On any error the edge sets remain unchanged.
func (ts *TaskService) AddDependency(d models.TaskDependency) (dep models.TaskDependency, err error) {
	if _, err := ts.store.GetTask(d.TaskID); err != nil {
		return models.TaskDependency{}, errors.Wrapf(err, "get task %s", d.TaskID)
	}
	if _, err := ts.store.GetTask(d.DependsOnTaskID); err != nil {
		return models.TaskDependency{}, errors.Wrapf(err, "get task %s", d.DependsOnTaskID)
	}
	if d.Type == "" {
		d.Type = models.SuccessDependency
	}
	if d.Condition == "" {
		d.Condition = models.AllSuccessCondition
	}
	if d.Type == models.TimeoutDependency && d.TimeoutMinutes == nil {
		return models.TaskDependency{}, errors.New("TIMEOUT dependency requires timeout minutes")
	}

	if err := ts.resolver.ValidateEdge(d); err != nil {
		return models.TaskDependency{}, err
	}

	d.ID = uuid.NewString()
	d.IsActive = true
	d.ManualOverride = false
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt

	txStore, err := ts.store.Begin()
	if err != nil {
		return models.TaskDependency{}, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if err = txStore.SaveDependency(d); err != nil {
		return models.TaskDependency{}, err
	}
	ts.logger.Infof("Added %s dependency: task %s depends on %s", d.Type, d.TaskID, d.DependsOnTaskID)
	return d, nil
}

// OverrideManualDependency records the external override signal that
// satisfies a MANUAL edge.
func (ts *TaskService) OverrideManualDependency(dependencyID string) error {
	now := time.Now()
	if err := ts.store.SetManualOverride(dependencyID, true, &now); err != nil {
		return errors.Wrapf(err, "override dependency %s", dependencyID)
	}
	ts.logger.Infof("Manual override recorded for dependency %s", dependencyID)
	return nil
}

// TriggerTask requests an immediate run of a task outside its schedules.
func (ts *TaskService) TriggerTask(id string) error {
	task, err := ts.store.GetTask(id)
	if err != nil {
		return errors.Wrapf(err, "get task %s", id)
	}
	if !task.IsActive {
		return errors.Errorf("task %s is deactivated", id)
	}
	if task.Status.Terminal() {
		if err := Transition(&task, RescheduleEvent); err != nil {
			return err
		}
		if err := ts.store.UpdateTaskStatus(task.ID, task.Status); err != nil {
			return errors.Wrapf(err, "update task %s", id)
		}
	}
	ts.scheduler.RequestRun(id, time.Now())
	ts.logger.Infof("Requested manual run of task %s", id)
	return nil
}

// TriggerBatch requests runs for a set of tasks, offered in dependency
// order so upstreams are queued before their dependents. The returned
// slice is the order used.
func (ts *TaskService) TriggerBatch(ids []string) ([]string, error) {
	order, err := ts.resolver.PlanOrder(ids)
	if err != nil {
		return nil, err
	}
	var failed []string
	for _, id := range order {
		if err := ts.TriggerTask(id); err != nil {
			ts.logger.Errorf("Trigger of task %s failed: %v", id, err)
			failed = append(failed, fmt.Sprintf("%s: %v", id, err))
		}
	}
	if len(failed) > 0 {
		return order, errors.Errorf("trigger batch partially failed: %s", strings.Join(failed, "; "))
	}
	return order, nil
}
