package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// taskLocks hands out one mutex per task so a completion callback and the
// timeout sweep cannot race to finalize the same task's executions.
type taskLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newTaskLocks() *taskLocks {
	return &taskLocks{m: make(map[string]*sync.Mutex)}
}

func (l *taskLocks) forTask(taskID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.m[taskID]; !ok {
		l.m[taskID] = &sync.Mutex{}
	}
	return l.m[taskID]
}

// ExecutionTracker owns the lifecycle of execution records: it opens one
// per dispatch, watches running ones for timeout, and is the only writer of
// their terminal status.
type ExecutionTracker struct {
	store  storage.Store
	logger Logger
	locks  *taskLocks
}

func NewExecutionTracker(store storage.Store, logger Logger) *ExecutionTracker {
	return &ExecutionTracker{store: store, logger: logger, locks: newTaskLocks()}
}

// Open records a new RUNNING execution of task on node. It fails with
// ErrAlreadyRunning when the task has a running execution and overlapping
// runs are not permitted.
func (tr *ExecutionTracker) Open(task models.Task, nodeID string, attempt int, now time.Time) (models.TaskExecution, error) {
	lock := tr.locks.forTask(task.ID)
	lock.Lock()
	defer lock.Unlock()

	if !task.IsConcurrent {
		execs, err := tr.store.ListExecutionsByTask(task.ID)
		if err != nil {
			return models.TaskExecution{}, errors.Wrapf(err, "list executions of task %s", task.ID)
		}
		for _, e := range execs {
			if e.Status == models.RunningExecutionStatus {
				return models.TaskExecution{}, errors.Wrapf(ErrAlreadyRunning,
					"task %s execution %s", task.ID, e.ID)
			}
		}
	}

	exec := models.TaskExecution{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		NodeID:    nodeID,
		Status:    models.RunningExecutionStatus,
		Attempt:   attempt,
		StartTime: now,
	}
	if err := tr.store.SaveExecution(exec); err != nil {
		return models.TaskExecution{}, errors.Wrapf(err, "save execution for task %s", task.ID)
	}
	tr.logger.Infof("Opened execution %s for task %s on node %s (attempt %d)", exec.ID, task.ID, nodeID, attempt)
	return exec, nil
}

// Observe checks one running execution against its task's max run time.
// Past the ceiling it force-finalizes the execution as CANCELLED and drives
// the task to FAILED, exactly once; later calls are no-ops. It reports
// whether it forced the execution down.
func (tr *ExecutionTracker) Observe(executionID string, now time.Time) (bool, error) {
	exec, err := tr.store.GetExecution(executionID)
	if err != nil {
		return false, errors.Wrapf(err, "get execution %s", executionID)
	}
	lock := tr.locks.forTask(exec.TaskID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a completion callback may have won the race.
	exec, err = tr.store.GetExecution(executionID)
	if err != nil {
		return false, errors.Wrapf(err, "get execution %s", executionID)
	}
	if exec.Status.Terminal() {
		return false, nil
	}
	task, err := tr.store.GetTask(exec.TaskID)
	if err != nil {
		return false, errors.Wrapf(err, "get task %s", exec.TaskID)
	}
	max := task.MaxRunDuration()
	if max <= 0 || now.Sub(exec.StartTime) <= max {
		return false, nil
	}

	end := now
	exec.Status = models.CancelledExecutionStatus
	exec.EndTime = &end
	exec.Error = fmt.Sprintf("max run time of %s exceeded", max)
	if err := tr.store.UpdateExecution(exec); err != nil {
		return false, errors.Wrapf(err, "finalize timed-out execution %s", executionID)
	}
	if err := Transition(&task, TimeoutEvent); err != nil {
		tr.logger.Errorf("Task %s timed out but refused transition: %v", task.ID, err)
	} else if err := tr.store.UpdateTaskStatus(task.ID, task.Status); err != nil {
		return true, errors.Wrapf(err, "update task %s after timeout", task.ID)
	}
	tr.logger.Warnf("Execution %s of task %s exceeded max run time (%s), cancelled", executionID, task.ID, max)
	return true, nil
}

// Finalize is the only legitimate way to move an execution to a terminal
// status. Repeating the same outcome is a benign no-op; a conflicting
// second outcome fails with ErrAlreadyFinalized.
func (tr *ExecutionTracker) Finalize(executionID string, outcome Outcome, now time.Time) (models.TaskExecution, error) {
	exec, err := tr.store.GetExecution(executionID)
	if err != nil {
		return models.TaskExecution{}, errors.Wrapf(err, "get execution %s", executionID)
	}
	lock := tr.locks.forTask(exec.TaskID)
	lock.Lock()
	defer lock.Unlock()

	exec, err = tr.store.GetExecution(executionID)
	if err != nil {
		return models.TaskExecution{}, errors.Wrapf(err, "get execution %s", executionID)
	}
	if exec.Status.Terminal() {
		if exec.Status == outcome.Status {
			return exec, nil
		}
		return exec, errors.Wrapf(ErrAlreadyFinalized,
			"execution %s is %s, refusing %s", executionID, exec.Status, outcome.Status)
	}
	if !outcome.Status.Terminal() {
		return exec, errors.Errorf("outcome status %s is not terminal", outcome.Status)
	}

	end := now
	exec.Status = outcome.Status
	exec.EndTime = &end
	exec.Output = outcome.Output
	exec.Error = outcome.Error
	exec.CPUUsage = outcome.CPUUsage
	exec.MemoryUsage = outcome.MemoryUsage
	exec.DiskUsage = outcome.DiskUsage
	if err := tr.store.UpdateExecution(exec); err != nil {
		return exec, errors.Wrapf(err, "finalize execution %s", executionID)
	}
	tr.logger.Infof("Finalized execution %s of task %s as %s", executionID, exec.TaskID, exec.Status)
	return exec, nil
}
