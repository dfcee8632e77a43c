package service

import (
	"fmt"
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/storage"
	"github.com/gammazero/toposort"
	"github.com/pkg/errors"
)

// DependencyResolver decides whether a task's dependency edges are
// satisfied by the execution history of its upstream tasks.
type DependencyResolver struct {
	store  storage.Store
	logger Logger
}

func NewDependencyResolver(store storage.Store, logger Logger) *DependencyResolver {
	return &DependencyResolver{store: store, logger: logger}
}

// Readiness is the result of a dependency evaluation.
type Readiness struct {
	Ready     bool
	BlockedBy []string // upstream task IDs holding the dependent back
	Reason    string
}

// edgeState holds both satisfaction readings for one edge: strict counts
// only a SUCCESS upstream execution, lenient counts any terminal one plus
// the TIMEOUT escape valve. Conditions pick which reading applies.
type edgeState struct {
	upstreamID string
	strict     bool
	lenient    bool
}

// IsRunnable evaluates all active dependency edges of task against the
// upstream execution history at time now. A task without edges is ready.
func (r *DependencyResolver) IsRunnable(task models.Task, now time.Time) (Readiness, error) {
	edges, err := r.store.ListDependencies(task.ID)
	if err != nil {
		return Readiness{}, errors.Wrapf(err, "list dependencies of task %s", task.ID)
	}
	var active []models.TaskDependency
	for _, e := range edges {
		if e.IsActive {
			active = append(active, e)
		}
	}
	if len(active) == 0 {
		return Readiness{Ready: true, Reason: "no dependencies"}, nil
	}

	condition := active[0].Condition
	for _, e := range active[1:] {
		if e.Condition != condition {
			return Readiness{}, errors.Wrapf(ErrConditionMismatch,
				"task %s carries both %s and %s", task.ID, condition, e.Condition)
		}
	}

	states := make([]edgeState, 0, len(active))
	for _, e := range active {
		st, err := r.evaluateEdge(e, now)
		if err != nil {
			return Readiness{}, err
		}
		states = append(states, st)
	}

	strictMode := condition == models.AllSuccessCondition || condition == models.AnySuccessCondition
	satisfied := func(s edgeState) bool {
		if strictMode {
			return s.strict
		}
		return s.lenient
	}

	var ready bool
	switch condition {
	case models.AllSuccessCondition, models.AllCompleteCondition:
		ready = true
		for _, s := range states {
			if !satisfied(s) {
				ready = false
			}
		}
	case models.AnySuccessCondition, models.AnyCompleteCondition:
		for _, s := range states {
			if satisfied(s) {
				ready = true
			}
		}
	default:
		return Readiness{}, errors.Wrapf(ErrConditionMismatch, "unknown condition %q", condition)
	}

	if ready {
		return Readiness{Ready: true, Reason: fmt.Sprintf("%s satisfied", condition)}, nil
	}
	var blocked []string
	for _, s := range states {
		if !satisfied(s) {
			blocked = append(blocked, s.upstreamID)
		}
	}
	return Readiness{BlockedBy: blocked, Reason: fmt.Sprintf("waiting for %s", condition)}, nil
}

func (r *DependencyResolver) evaluateEdge(edge models.TaskDependency, now time.Time) (edgeState, error) {
	st := edgeState{upstreamID: edge.DependsOnTaskID}
	if edge.ManualOverride {
		st.strict, st.lenient = true, true
		return st, nil
	}
	if edge.Type == models.ManualDependency {
		// Never automatically satisfied.
		return st, nil
	}

	latest, err := r.store.LatestExecution(edge.DependsOnTaskID)
	if errors.Is(errors.Cause(err), storage.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, errors.Wrapf(err, "latest execution of task %s", edge.DependsOnTaskID)
	}

	st.strict = latest.Status == models.SuccessExecutionStatus
	st.lenient = latest.Status.Terminal()

	// TIMEOUT edges stop waiting on an upstream stuck past its window, so a
	// dependent is never blocked forever.
	if edge.Type == models.TimeoutDependency && !st.lenient &&
		latest.Status == models.RunningExecutionStatus && edge.TimeoutMinutes != nil {
		window := time.Duration(*edge.TimeoutMinutes) * time.Minute
		if now.Sub(latest.StartTime) > window {
			st.lenient = true
		}
	}
	return st, nil
}

// ValidateEdge checks a prospective dependency edge before it is persisted:
// the dependent may not reach itself through existing edges, and the edge's
// condition must agree with the dependent's existing edges. Nothing is
// written; callers persist only on a nil error.
func (r *DependencyResolver) ValidateEdge(edge models.TaskDependency) error {
	if edge.TaskID == edge.DependsOnTaskID {
		return errors.Wrapf(ErrCycleDetected, "task %s cannot depend on itself", edge.TaskID)
	}

	existing, err := r.store.ListDependencies(edge.TaskID)
	if err != nil {
		return errors.Wrapf(err, "list dependencies of task %s", edge.TaskID)
	}
	for _, e := range existing {
		if e.IsActive && e.Condition != edge.Condition {
			return errors.Wrapf(ErrConditionMismatch,
				"task %s already aggregates with %s", edge.TaskID, e.Condition)
		}
	}

	// Depth-first walk upstream from the new edge's target; finding the
	// dependent means the new edge would close a cycle.
	visited := map[string]bool{}
	stack := []string{edge.DependsOnTaskID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == edge.TaskID {
			return errors.Wrapf(ErrCycleDetected, "task %s is upstream of %s",
				edge.TaskID, edge.DependsOnTaskID)
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		next, err := r.store.ListDependencies(current)
		if err != nil {
			return errors.Wrapf(err, "list dependencies of task %s", current)
		}
		for _, e := range next {
			if e.IsActive {
				stack = append(stack, e.DependsOnTaskID)
			}
		}
	}
	return nil
}

// PlanOrder topologically orders a batch of task IDs so upstreams come
// before dependents. Edges leaving the batch are ignored.
func (r *DependencyResolver) PlanOrder(taskIDs []string) ([]string, error) {
	inBatch := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		inBatch[id] = true
	}

	var edges []toposort.Edge
	for _, id := range taskIDs {
		deps, err := r.store.ListDependencies(id)
		if err != nil {
			return nil, errors.Wrapf(err, "list dependencies of task %s", id)
		}
		within := 0
		for _, d := range deps {
			if d.IsActive && inBatch[d.DependsOnTaskID] {
				edges = append(edges, toposort.Edge{d.DependsOnTaskID, id})
				within++
			}
		}
		if within == 0 {
			edges = append(edges, toposort.Edge{nil, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, errors.Wrap(ErrCycleDetected, err.Error())
	}
	order := make([]string, 0, len(taskIDs))
	for _, v := range sorted {
		if v == nil {
			continue
		}
		if id := v.(string); inBatch[id] {
			order = append(order, id)
		}
	}
	return order, nil
}
