package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/service"
	"github.com/Carneyyy/task-scheduler-project/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type scriptMap map[string]service.Script

func (m scriptMap) Resolve(_ context.Context, id string) (service.Script, error) {
	s, ok := m[id]
	if !ok {
		return service.Script{}, fmt.Errorf("script %q is not registered", id)
	}
	return s, nil
}

type staticNodes struct {
	mu  sync.Mutex
	err error
}

func (n *staticNodes) PickNode(_ context.Context, _ models.Task) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return "", n.err
	}
	return "node-1", nil
}

func (n *staticNodes) setErr(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

type fakeDispatcher struct {
	mu        sync.Mutex
	accepted  []models.TaskExecution
	stops     []string
	err       error
	transient int // fail this many calls before accepting
	calls     int
}

func (d *fakeDispatcher) Dispatch(_ context.Context, execution models.TaskExecution, _ service.Script, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.transient > 0 {
		d.transient--
		return fmt.Errorf("connection refused")
	}
	if d.err != nil {
		return d.err
	}
	d.accepted = append(d.accepted, execution)
	return nil
}

func (d *fakeDispatcher) Stop(_ context.Context, executionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops = append(d.stops, executionID)
	return nil
}

func (d *fakeDispatcher) acceptedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.accepted)
}

func (d *fakeDispatcher) lastAccepted() models.TaskExecution {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepted[len(d.accepted)-1]
}

type fakeNotifier struct {
	ch chan string
}

func (n *fakeNotifier) Notify(_ context.Context, _ models.Task, execution models.TaskExecution) error {
	n.ch <- execution.ID
	return nil
}

type fixture struct {
	store      storage.Store
	scheduler  *service.Scheduler
	dispatcher *fakeDispatcher
	nodes      *staticNodes
	notifier   *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMockStore()
	resolver := service.NewDependencyResolver(store, logger{})
	tracker := service.NewExecutionTracker(store, logger{})
	dispatcher := &fakeDispatcher{}
	nodes := &staticNodes{}
	notifier := &fakeNotifier{ch: make(chan string, 8)}
	scheduler := service.NewScheduler(store, resolver, tracker, service.Collaborators{
		Scripts: scriptMap{
			"backup": {ID: "backup", Name: "backup", Command: "backup.sh"},
		},
		Nodes:      nodes,
		Dispatcher: dispatcher,
		Notifier:   notifier,
	}, service.SchedulerConfig{
		DispatchWorkers: 2,
		DispatchTimeout: 5 * time.Second,
	}, logger{})
	return &fixture{
		store:      store,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		nodes:      nodes,
		notifier:   notifier,
	}
}

func (f *fixture) seedScheduledTask(t *testing.T, id string, nextRunAt time.Time) models.Task {
	t.Helper()
	task := models.Task{
		ID:               id,
		Name:             id,
		ScriptID:         "backup",
		Status:           models.PendingTaskStatus,
		Priority:         models.MediumPriority,
		NotifyOnComplete: true,
		MaxAttempts:      1,
		IsActive:         true,
	}
	assert.NoError(t, f.store.SaveTask(task))
	assert.NoError(t, f.store.SaveSchedule(models.TaskSchedule{
		ID:        id + "-sched",
		TaskID:    id,
		CycleType: models.DailyCycle,
		RunTime:   "09:00",
		IsActive:  true,
		NextRunAt: &nextRunAt,
	}))
	return task
}

func TestSchedulerEndToEnd(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.seedScheduledTask(t, "backup-task", now.Add(-time.Second))

	ctx := context.Background()
	f.scheduler.Tick(ctx, now)

	// The due schedule advanced: last run recorded, next run in the future.
	sched, err := f.store.GetSchedule("backup-task-sched")
	assert.NoError(t, err)
	assert.NotNil(t, sched.LastRunAt)
	assert.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.After(now))

	// The task went out: RUNNING with an open execution.
	assert.Equal(t, 1, f.dispatcher.acceptedCount())
	task, err := f.store.GetTask("backup-task")
	assert.NoError(t, err)
	assert.Equal(t, models.RunningTaskStatus, task.Status)

	exec := f.dispatcher.lastAccepted()
	assert.Equal(t, "backup-task", exec.TaskID)
	assert.Equal(t, 1, exec.Attempt)

	// The node reports success: execution finalized, task back to PENDING
	// because the schedule already holds a future due time.
	assert.NoError(t, f.scheduler.ReportOutcome(exec.ID, service.Outcome{
		Status: models.SuccessExecutionStatus,
		Output: "ok",
	}))
	finalized, err := f.store.GetExecution(exec.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SuccessExecutionStatus, finalized.Status)
	assert.Equal(t, "ok", finalized.Output)

	task, err = f.store.GetTask("backup-task")
	assert.NoError(t, err)
	assert.Equal(t, models.PendingTaskStatus, task.Status)

	select {
	case id := <-f.notifier.ch:
		assert.Equal(t, exec.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a completion notification")
	}

	// Nothing left to dispatch until the next due time.
	f.scheduler.Tick(ctx, time.Now())
	assert.Equal(t, 1, f.dispatcher.acceptedCount())
}

func TestSchedulerDependentWaitsForUpstream(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	up := f.seedScheduledTask(t, "up", now.Add(24*time.Hour))
	down := f.seedScheduledTask(t, "down", now.Add(24*time.Hour))
	seedEdge(t, f.store, "e1", down.ID, up.ID, models.SuccessDependency, models.AllSuccessCondition)

	f.scheduler.RequestRun(up.ID, now)
	f.scheduler.RequestRun(down.ID, now)

	ctx := context.Background()
	f.scheduler.Tick(ctx, now)

	// Only the upstream went out; the dependent has no satisfying history.
	assert.Equal(t, 1, f.dispatcher.acceptedCount())
	exec := f.dispatcher.lastAccepted()
	assert.Equal(t, up.ID, exec.TaskID)

	assert.NoError(t, f.scheduler.ReportOutcome(exec.ID, service.Outcome{
		Status: models.SuccessExecutionStatus,
	}))
	drain(f.notifier.ch)

	f.scheduler.Tick(ctx, time.Now())
	assert.Equal(t, 2, f.dispatcher.acceptedCount())
	assert.Equal(t, down.ID, f.dispatcher.lastAccepted().TaskID)
}

func TestSchedulerDispatchRejection(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = service.ErrDispatchRejected
	now := time.Now()

	task := f.seedScheduledTask(t, "rejected", now.Add(24*time.Hour))
	task.MaxAttempts = 2
	assert.NoError(t, f.store.UpdateTask(task))
	f.scheduler.RequestRun(task.ID, now)

	ctx := context.Background()
	f.scheduler.Tick(ctx, now)

	// First attempt: the execution is finalized FAILED, the task itself
	// stays PENDING and keeps its remaining attempt.
	execs, err := f.store.ListExecutionsByTask(task.ID)
	assert.NoError(t, err)
	assert.Len(t, execs, 1)
	assert.Equal(t, models.FailedExecutionStatus, execs[0].Status)
	got, err := f.store.GetTask(task.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.PendingTaskStatus, got.Status)

	// Second attempt exhausts the budget.
	f.scheduler.Tick(ctx, now.Add(time.Second))
	execs, err = f.store.ListExecutionsByTask(task.ID)
	assert.NoError(t, err)
	assert.Len(t, execs, 2)

	// The desired run is gone: no further attempts this due cycle.
	f.scheduler.Tick(ctx, now.Add(2*time.Second))
	execs, err = f.store.ListExecutionsByTask(task.ID)
	assert.NoError(t, err)
	assert.Len(t, execs, 2)
	assert.Equal(t, 0, f.dispatcher.acceptedCount())
}

func TestSchedulerTransientDispatchErrorRetriedInPlace(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.transient = 2
	now := time.Now()

	task := f.seedScheduledTask(t, "flaky", now.Add(24*time.Hour))
	f.scheduler.RequestRun(task.ID, now)

	f.scheduler.Tick(context.Background(), now)

	// Two transient failures, then accepted within the same attempt.
	assert.Equal(t, 1, f.dispatcher.acceptedCount())
	got, err := f.store.GetTask(task.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.RunningTaskStatus, got.Status)
}

func TestSchedulerNoCapacityDoesNotBurnAttempts(t *testing.T) {
	f := newFixture(t)
	f.nodes.setErr(service.ErrNoCapacity)
	now := time.Now()

	task := f.seedScheduledTask(t, "parked", now.Add(24*time.Hour))
	f.scheduler.RequestRun(task.ID, now)

	ctx := context.Background()
	f.scheduler.Tick(ctx, now)
	f.scheduler.Tick(ctx, now.Add(time.Second))

	// No executions were opened while the fleet was full.
	execs, err := f.store.ListExecutionsByTask(task.ID)
	assert.NoError(t, err)
	assert.Len(t, execs, 0)

	f.nodes.setErr(nil)
	f.scheduler.Tick(ctx, now.Add(2*time.Second))
	assert.Equal(t, 1, f.dispatcher.acceptedCount())
}

func TestSchedulerTimeoutSweep(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	task := f.seedScheduledTask(t, "slow", now.Add(24*time.Hour))
	task.MaxRunTime = 60
	assert.NoError(t, f.store.UpdateTask(task))
	f.scheduler.RequestRun(task.ID, now)

	ctx := context.Background()
	f.scheduler.Tick(ctx, now)
	assert.Equal(t, 1, f.dispatcher.acceptedCount())
	exec := f.dispatcher.lastAccepted()

	// Two minutes later the sweep forces the stuck execution down.
	f.scheduler.Tick(ctx, now.Add(2*time.Minute))

	got, err := f.store.GetExecution(exec.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.CancelledExecutionStatus, got.Status)
	assert.Contains(t, got.Error, "max run time")

	updated, err := f.store.GetTask(task.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.FailedTaskStatus, updated.Status)

	select {
	case id := <-f.notifier.ch:
		assert.Equal(t, exec.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a timeout notification")
	}
}

func TestSchedulerDueWhileRunning(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	task := f.seedScheduledTask(t, "busy", now.Add(-time.Second))
	assert.NoError(t, f.store.UpdateTaskStatus(task.ID, models.RunningTaskStatus))
	seedExecution(t, f.store, "x1", task.ID, models.RunningExecutionStatus, now.Add(-time.Minute))

	ctx := context.Background()
	f.scheduler.Tick(ctx, now)

	// The schedule advanced but the overlapping run was skipped.
	sched, err := f.store.GetSchedule("busy-sched")
	assert.NoError(t, err)
	assert.NotNil(t, sched.LastRunAt)
	assert.Equal(t, 0, f.dispatcher.acceptedCount())
}

func TestSchedulerCancelledTaskStaysCancelled(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	task := f.seedScheduledTask(t, "gone", now.Add(-time.Second))
	assert.NoError(t, f.store.UpdateTaskStatus(task.ID, models.CancelledTaskStatus))

	ctx := context.Background()
	f.scheduler.Tick(ctx, now)

	assert.Equal(t, 0, f.dispatcher.acceptedCount())
	got, err := f.store.GetTask(task.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.CancelledTaskStatus, got.Status)
}

func TestSchedulerUrgentGoesFirst(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	low := f.seedScheduledTask(t, "low", now.Add(24*time.Hour))
	low.Priority = models.LowPriority
	assert.NoError(t, f.store.UpdateTask(low))
	urgent := f.seedScheduledTask(t, "urgent", now.Add(24*time.Hour))
	urgent.Priority = models.UrgentPriority
	assert.NoError(t, f.store.UpdateTask(urgent))

	// A single worker forces strict ordering.
	store2 := f.store
	resolver := service.NewDependencyResolver(store2, logger{})
	tracker := service.NewExecutionTracker(store2, logger{})
	dispatcher := &fakeDispatcher{}
	sched := service.NewScheduler(store2, resolver, tracker, service.Collaborators{
		Scripts:    scriptMap{"backup": {ID: "backup", Command: "backup.sh"}},
		Nodes:      &staticNodes{},
		Dispatcher: dispatcher,
	}, service.SchedulerConfig{DispatchWorkers: 1}, logger{})
	sched.RequestRun(low.ID, now.Add(-time.Minute))
	sched.RequestRun(urgent.ID, now)

	sched.Tick(context.Background(), now)
	assert.Equal(t, 2, dispatcher.acceptedCount())
	assert.Equal(t, urgent.ID, dispatcher.accepted[0].TaskID)
	assert.Equal(t, low.ID, dispatcher.accepted[1].TaskID)
}

func TestReportOutcomeConflicts(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	task := f.seedScheduledTask(t, "once", now.Add(24*time.Hour))
	f.scheduler.RequestRun(task.ID, now)
	f.scheduler.Tick(context.Background(), now)
	exec := f.dispatcher.lastAccepted()

	assert.NoError(t, f.scheduler.ReportOutcome(exec.ID, service.Outcome{Status: models.SuccessExecutionStatus}))
	drain(f.notifier.ch)

	// Same outcome again: benign. Conflicting outcome: refused.
	assert.NoError(t, f.scheduler.ReportOutcome(exec.ID, service.Outcome{Status: models.SuccessExecutionStatus}))
	err := f.scheduler.ReportOutcome(exec.ID, service.Outcome{Status: models.FailedExecutionStatus})
	assert.True(t, errors.Is(err, service.ErrAlreadyFinalized))
}

func drain(ch chan string) {
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
	}
}
