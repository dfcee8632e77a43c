package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/storage"
	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTickInterval    = 10 * time.Second
	DefaultDispatchTimeout = 5 * time.Second
	DefaultDispatchWorkers = 4
)

type SchedulerConfig struct {
	TickInterval    time.Duration
	DispatchWorkers int
	DispatchTimeout time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.DispatchWorkers <= 0 {
		c.DispatchWorkers = DefaultDispatchWorkers
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	return c
}

// Collaborators bundles the external systems the scheduler talks to.
type Collaborators struct {
	Scripts    ScriptRegistry
	Nodes      NodeDirectory
	Dispatcher Dispatcher
	Notifier   NotificationGateway
}

// desiredRun is a task waiting for dispatch: its schedule fired or it was
// triggered manually, and it has not been handed to a node yet.
type desiredRun struct {
	taskID   string
	dueAt    time.Time
	attempts int
}

// Scheduler is the orchestrating loop: it advances due schedules, consults
// the resolver and the state machine, opens executions through the tracker
// and hands them to the dispatch collaborator. It is the single writer of
// schedule fields and of task status transitions.
type Scheduler struct {
	store    storage.Store
	resolver *DependencyResolver
	tracker  *ExecutionTracker
	collab   Collaborators
	cfg      SchedulerConfig
	logger   Logger

	mu      sync.Mutex
	pending map[string]*desiredRun
}

func NewScheduler(
	store storage.Store,
	resolver *DependencyResolver,
	tracker *ExecutionTracker,
	collab Collaborators,
	cfg SchedulerConfig,
	logger Logger,
) *Scheduler {
	return &Scheduler{
		store:    store,
		resolver: resolver,
		tracker:  tracker,
		collab:   collab,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		pending:  make(map[string]*desiredRun),
	}
}

// Run drives the loop on a fixed tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	s.logger.Infof("Scheduler loop started (tick %s)", s.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("Scheduler loop stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick runs one pass: schedule advancement, then dependency and state
// evaluation with dispatch, then the timeout sweep. A dependent whose
// upstream completes during this tick is evaluated on the next one.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.advanceSchedules(now)
	s.dispatchReady(ctx, now)
	s.sweepTimeouts(now)
}

// RequestRun marks a desired run for a task outside its schedules, e.g. a
// manual trigger. A task already waiting keeps its earlier due time.
func (s *Scheduler) RequestRun(taskID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[taskID]; !ok {
		s.pending[taskID] = &desiredRun{taskID: taskID, dueAt: at}
	}
}

func (s *Scheduler) advanceSchedules(now time.Time) {
	due, err := s.store.ListDueSchedules(now)
	if err != nil {
		s.logger.Errorf("Failed to list due schedules: %v", err)
		return
	}
	for _, sched := range due {
		task, err := s.store.GetTask(sched.TaskID)
		if err != nil {
			s.logger.Errorf("Due schedule %s references unknown task %s: %v", sched.ID, sched.TaskID, err)
			continue
		}

		dueAt := now
		if sched.NextRunAt != nil {
			dueAt = *sched.NextRunAt
		}
		last := now
		sched.LastRunAt = &last
		next, err := ComputeNextRun(sched, now)
		if err != nil {
			// A broken rule must not refire every tick; park it with no next run.
			s.logger.Errorf("Schedule %s: %v", sched.ID, err)
		}
		if err := s.store.UpdateScheduleRun(sched.ID, &last, next); err != nil {
			s.logger.Errorf("Failed to advance schedule %s: %v", sched.ID, err)
			continue
		}

		if !task.IsActive {
			continue
		}
		if task.Status.Terminal() {
			if err := Transition(&task, RescheduleEvent); err != nil {
				s.logger.Warnf("Task %s due but not reschedulable: %v", task.ID, err)
				continue
			}
			if err := s.store.UpdateTaskStatus(task.ID, task.Status); err != nil {
				s.logger.Errorf("Failed to reschedule task %s: %v", task.ID, err)
				continue
			}
		}
		if task.Status == models.RunningTaskStatus && !task.IsConcurrent {
			s.logger.Infof("Task %s due while still running, skipping this cycle", task.ID)
			continue
		}
		s.RequestRun(task.ID, dueAt)
	}
}

func (s *Scheduler) dispatchReady(ctx context.Context, now time.Time) {
	s.mu.Lock()
	runs := make([]*desiredRun, 0, len(s.pending))
	for _, r := range s.pending {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	type candidate struct {
		run  *desiredRun
		task models.Task
	}
	var ready []candidate
	for _, r := range runs {
		task, err := s.store.GetTask(r.taskID)
		if err != nil {
			s.logger.Errorf("Pending task %s cannot be loaded: %v", r.taskID, err)
			s.forget(r.taskID)
			continue
		}
		dispatchable := task.IsActive &&
			(task.Status == models.PendingTaskStatus ||
				(task.Status == models.RunningTaskStatus && task.IsConcurrent))
		if !dispatchable {
			s.forget(r.taskID)
			continue
		}
		res, err := s.resolver.IsRunnable(task, now)
		if err != nil {
			s.logger.Errorf("Cannot evaluate dependencies of task %s: %v", r.taskID, err)
			continue
		}
		if !res.Ready {
			s.logger.Infof("Task %s blocked by %v (%s)", r.taskID, res.BlockedBy, res.Reason)
			continue
		}
		ready = append(ready, candidate{run: r, task: task})
	}

	// URGENT first, ties broken by earliest due time.
	sort.SliceStable(ready, func(i, j int) bool {
		ri, rj := ready[i].task.Priority.Rank(), ready[j].task.Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return ready[i].run.dueAt.Before(ready[j].run.dueAt)
	})

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.DispatchWorkers)
	for _, c := range ready {
		c := c
		g.Go(func() error {
			// A failed dispatch never aborts the tick for other tasks.
			s.dispatchOne(ctx, c.run, c.task, now)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) dispatchOne(ctx context.Context, run *desiredRun, task models.Task, now time.Time) {
	script, err := s.collab.Scripts.Resolve(ctx, task.ScriptID)
	if err != nil {
		s.logger.Errorf("Task %s: cannot resolve script %s: %v", task.ID, task.ScriptID, err)
		s.recordAttempt(run, task)
		return
	}

	nodeID := ""
	if task.NodeID != nil {
		nodeID = *task.NodeID
	}
	if nodeID == "" {
		nodeID, err = s.collab.Nodes.PickNode(ctx, task)
		if err != nil {
			if errors.Is(errors.Cause(err), ErrNoCapacity) {
				s.logger.Infof("No node capacity for task %s, retrying next tick", task.ID)
			} else {
				s.logger.Errorf("Node selection for task %s failed: %v", task.ID, err)
			}
			return
		}
	}

	attempt := run.attempts + 1
	exec, err := s.tracker.Open(task, nodeID, attempt, now)
	if err != nil {
		if errors.Is(errors.Cause(err), ErrAlreadyRunning) {
			s.logger.Infof("Task %s still has a running execution, retrying next tick", task.ID)
		} else {
			s.logger.Errorf("Cannot open execution for task %s: %v", task.ID, err)
		}
		return
	}

	// The dispatcher call blocks only briefly: past the timeout the attempt
	// counts as failed and the real outcome arrives via callbacks or the
	// sweep. Transient errors are retried in place; a rejection is final
	// for this attempt.
	dispatchCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()
	op := func() error {
		err := s.collab.Dispatcher.Dispatch(dispatchCtx, exec, script, nodeID)
		if errors.Is(errors.Cause(err), ErrDispatchRejected) {
			return backoff.Permanent(err)
		}
		return err
	}
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), dispatchCtx))
	if err != nil {
		outcome := Outcome{Status: models.FailedExecutionStatus, Error: err.Error()}
		if _, ferr := s.tracker.Finalize(exec.ID, outcome, time.Now()); ferr != nil {
			s.logger.Errorf("Cannot finalize rejected execution %s: %v", exec.ID, ferr)
		}
		s.logger.Errorf("Dispatch of task %s failed on attempt %d: %v", task.ID, attempt, err)
		s.recordAttempt(run, task)
		return
	}

	if task.Status == models.PendingTaskStatus {
		if err := Transition(&task, DispatchEvent); err != nil {
			s.logger.Errorf("Task %s accepted dispatch but refused transition: %v", task.ID, err)
		} else if err := s.store.UpdateTaskStatus(task.ID, task.Status); err != nil {
			s.logger.Errorf("Failed to mark task %s RUNNING: %v", task.ID, err)
		}
	}
	s.forget(task.ID)
	s.logger.Infof("Dispatched task %s as execution %s to node %s", task.ID, exec.ID, nodeID)
}

// recordAttempt burns one dispatch attempt for the current due run. The
// task stays PENDING; once the budget is spent the desired run is dropped
// until the next due cycle resets it.
func (s *Scheduler) recordAttempt(run *desiredRun, task models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.attempts++
	budget := task.MaxAttempts
	if budget <= 0 {
		budget = 1
	}
	if run.attempts >= budget {
		delete(s.pending, run.taskID)
		s.logger.Warnf("Task %s exhausted its %d dispatch attempts for this due run", task.ID, budget)
	}
}

func (s *Scheduler) forget(taskID string) {
	s.mu.Lock()
	delete(s.pending, taskID)
	s.mu.Unlock()
}

func (s *Scheduler) sweepTimeouts(now time.Time) {
	running, err := s.store.ListRunningExecutions()
	if err != nil {
		s.logger.Errorf("Failed to list running executions: %v", err)
		return
	}
	for _, exec := range running {
		forced, err := s.tracker.Observe(exec.ID, now)
		if err != nil {
			s.logger.Errorf("Observe execution %s: %v", exec.ID, err)
			continue
		}
		if forced {
			s.notifyComplete(exec.ID)
		}
	}
}

// ReportOutcome is the asynchronous completion callback entry point for the
// dispatch collaborator. It finalizes the execution, drives the task's
// status, and returns the task to PENDING when a future due time already
// exists for one of its schedules.
func (s *Scheduler) ReportOutcome(executionID string, outcome Outcome) error {
	now := time.Now()
	exec, err := s.tracker.Finalize(executionID, outcome, now)
	if err != nil {
		return err
	}

	task, err := s.store.GetTask(exec.TaskID)
	if err != nil {
		return errors.Wrapf(err, "get task %s", exec.TaskID)
	}

	var event TransitionEvent
	switch outcome.Status {
	case models.SuccessExecutionStatus:
		event = SucceedEvent
	case models.FailedExecutionStatus:
		event = FailEvent
	case models.CancelledExecutionStatus:
		event = CancelEvent
	default:
		return errors.Errorf("outcome status %s is not terminal", outcome.Status)
	}
	if err := Transition(&task, event); err != nil {
		// The sweep or a cancel request may have moved the task already.
		s.logger.Warnf("Task %s ignored %s after execution %s: %v", task.ID, event, executionID, err)
	} else if err := s.store.UpdateTaskStatus(task.ID, task.Status); err != nil {
		return errors.Wrapf(err, "update task %s", task.ID)
	}

	if task.Status.Terminal() && task.IsActive {
		if err := s.rescheduleIfDue(&task, now); err != nil {
			return err
		}
	}

	s.notifyComplete(executionID)
	return nil
}

// rescheduleIfDue returns a terminal task to PENDING when one of its active
// schedules already holds a future next-run timestamp.
func (s *Scheduler) rescheduleIfDue(task *models.Task, now time.Time) error {
	scheds, err := s.store.ListSchedulesByTask(task.ID)
	if err != nil {
		return errors.Wrapf(err, "list schedules of task %s", task.ID)
	}
	for _, sc := range scheds {
		if !sc.IsActive || sc.NextRunAt == nil || !sc.NextRunAt.After(now) {
			continue
		}
		if err := Transition(task, RescheduleEvent); err != nil {
			s.logger.Warnf("Task %s not rescheduled: %v", task.ID, err)
			return nil
		}
		if err := s.store.UpdateTaskStatus(task.ID, task.Status); err != nil {
			return errors.Wrapf(err, "update task %s", task.ID)
		}
		return nil
	}
	return nil
}

func (s *Scheduler) notifyComplete(executionID string) {
	if s.collab.Notifier == nil {
		return
	}
	exec, err := s.store.GetExecution(executionID)
	if err != nil {
		s.logger.Errorf("Cannot load execution %s for notification: %v", executionID, err)
		return
	}
	task, err := s.store.GetTask(exec.TaskID)
	if err != nil {
		s.logger.Errorf("Cannot load task %s for notification: %v", exec.TaskID, err)
		return
	}
	if !task.NotifyOnComplete {
		return
	}
	// Fire and forget; delivery failures never touch task status.
	go func() {
		if err := s.collab.Notifier.Notify(context.Background(), task, exec); err != nil {
			s.logger.Warnf("Notification for task %s failed: %v", task.ID, err)
		}
	}()
}
