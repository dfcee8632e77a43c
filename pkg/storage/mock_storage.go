package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
)

// mockStore implements Store with in-memory slices. It is shared between the
// engine's unit tests and library users who do not want a database; a single
// mutex stands in for transactional isolation, which is enough because the
// scheduler loop is the only writer of schedule and task status fields.
type mockStore struct {
	mu           sync.Mutex
	tasks        []models.Task
	schedules    []models.TaskSchedule
	executions   []models.TaskExecution
	dependencies []models.TaskDependency
}

// NewMockStore returns an empty in-memory Store.
func NewMockStore() Store {
	return &mockStore{}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tasks {
		if existing.ID == t.ID {
			return errDuplicate("task", t.ID)
		}
	}
	m.tasks = append(m.tasks, t)
	return nil
}

func (m *mockStore) GetTask(id string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Task{}, ErrNotFound
}

func (m *mockStore) ListTasks() ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Task, len(m.tasks))
	copy(out, m.tasks)
	return out, nil
}

func (m *mockStore) UpdateTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == t.ID {
			t.UpdatedAt = time.Now()
			m.tasks[i] = t
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) UpdateTaskStatus(id string, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks[i].Status = status
			m.tasks[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) DeactivateTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks[i].IsActive = false
			m.tasks[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveSchedule(s models.TaskSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.schedules {
		if existing.ID == s.ID {
			return errDuplicate("schedule", s.ID)
		}
	}
	m.schedules = append(m.schedules, s)
	return nil
}

func (m *mockStore) GetSchedule(id string) (models.TaskSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schedules {
		if s.ID == id {
			return s, nil
		}
	}
	return models.TaskSchedule{}, ErrNotFound
}

func (m *mockStore) ListSchedulesByTask(taskID string) ([]models.TaskSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskSchedule
	for _, s := range m.schedules {
		if s.TaskID == taskID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) ListDueSchedules(now time.Time) ([]models.TaskSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskSchedule
	for _, s := range m.schedules {
		if s.IsActive && s.NextRunAt != nil && !s.NextRunAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateScheduleRun(id string, lastRunAt, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.schedules {
		if m.schedules[i].ID == id {
			m.schedules[i].LastRunAt = lastRunAt
			m.schedules[i].NextRunAt = nextRunAt
			m.schedules[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveExecution(e models.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.executions {
		if existing.ID == e.ID {
			return errDuplicate("execution", e.ID)
		}
	}
	m.executions = append(m.executions, e)
	return nil
}

func (m *mockStore) GetExecution(id string) (models.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executions {
		if e.ID == id {
			return e, nil
		}
	}
	return models.TaskExecution{}, ErrNotFound
}

func (m *mockStore) UpdateExecution(e models.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.executions {
		if m.executions[i].ID == e.ID {
			m.executions[i] = e
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ListExecutionsByTask(taskID string) ([]models.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskExecution
	for _, e := range m.executions {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *mockStore) ListRunningExecutions() ([]models.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskExecution
	for _, e := range m.executions {
		if e.Status == models.RunningExecutionStatus {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) LatestExecution(taskID string) (models.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.TaskExecution
	for i := range m.executions {
		e := m.executions[i]
		if e.TaskID != taskID {
			continue
		}
		if latest == nil || e.StartTime.After(latest.StartTime) {
			latest = &e
		}
	}
	if latest == nil {
		return models.TaskExecution{}, ErrNotFound
	}
	return *latest, nil
}

func (m *mockStore) SaveDependency(d models.TaskDependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.dependencies {
		if existing.TaskID == d.TaskID && existing.DependsOnTaskID == d.DependsOnTaskID {
			return errDuplicate("dependency", d.TaskID+"->"+d.DependsOnTaskID)
		}
	}
	m.dependencies = append(m.dependencies, d)
	return nil
}

func (m *mockStore) ListDependencies(taskID string) ([]models.TaskDependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskDependency
	for _, d := range m.dependencies {
		if d.TaskID == taskID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) ListDependents(taskID string) ([]models.TaskDependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskDependency
	for _, d := range m.dependencies {
		if d.DependsOnTaskID == taskID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) SetManualOverride(dependencyID string, overridden bool, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.dependencies {
		if m.dependencies[i].ID == dependencyID {
			m.dependencies[i].ManualOverride = overridden
			m.dependencies[i].OverriddenAt = at
			m.dependencies[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}
