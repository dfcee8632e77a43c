package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// affected maps a zero-row update to ErrNotFound.
func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveTask(t models.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, name, script_id, node_id, parameters, status, priority, max_run_time,
			is_concurrent, notify_on_complete, max_attempts, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.Name, t.ScriptID, t.NodeID, t.Parameters, t.Status, t.Priority, t.MaxRunTime,
		t.IsConcurrent, t.NotifyOnComplete, t.MaxAttempts, t.IsActive, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(id string) (models.Task, error) {
	var t models.Task
	err := s.db.Get(&t, "SELECT * FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func (s *PostgresStore) ListTasks() ([]models.Task, error) {
	tasks := []models.Task{}
	err := s.db.Select(&tasks, "SELECT * FROM tasks ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresStore) UpdateTask(t models.Task) error {
	// Status is deliberately left out: it only moves through UpdateTaskStatus.
	return affected(s.db.Exec(`
		UPDATE tasks
		SET name = $1, script_id = $2, node_id = $3, parameters = $4, priority = $5,
			max_run_time = $6, is_concurrent = $7, notify_on_complete = $8, max_attempts = $9,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $10`,
		t.Name, t.ScriptID, t.NodeID, t.Parameters, t.Priority,
		t.MaxRunTime, t.IsConcurrent, t.NotifyOnComplete, t.MaxAttempts, t.ID))
}

func (s *PostgresStore) UpdateTaskStatus(id string, status models.TaskStatus) error {
	return affected(s.db.Exec(
		"UPDATE tasks SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2", status, id))
}

func (s *PostgresStore) DeactivateTask(id string) error {
	return affected(s.db.Exec(
		"UPDATE tasks SET is_active = false, updated_at = CURRENT_TIMESTAMP WHERE id = $1", id))
}

func (s *PostgresStore) SaveSchedule(sc models.TaskSchedule) error {
	_, err := s.db.Exec(`
		INSERT INTO task_schedules (id, task_id, cycle_type, run_time, day_of_week, day_of_month,
			cron_expr, is_active, last_run_at, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sc.ID, sc.TaskID, sc.CycleType, sc.RunTime, sc.DayOfWeek, sc.DayOfMonth,
		sc.CronExpr, sc.IsActive, sc.LastRunAt, sc.NextRunAt, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSchedule(id string) (models.TaskSchedule, error) {
	var sc models.TaskSchedule
	err := s.db.Get(&sc, "SELECT * FROM task_schedules WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.TaskSchedule{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskSchedule{}, err
	}
	return sc, nil
}

func (s *PostgresStore) ListSchedulesByTask(taskID string) ([]models.TaskSchedule, error) {
	schedules := []models.TaskSchedule{}
	err := s.db.Select(&schedules, "SELECT * FROM task_schedules WHERE task_id = $1 ORDER BY created_at", taskID)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (s *PostgresStore) ListDueSchedules(now time.Time) ([]models.TaskSchedule, error) {
	schedules := []models.TaskSchedule{}
	err := s.db.Select(&schedules, `
		SELECT * FROM task_schedules
		WHERE is_active = true AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (s *PostgresStore) UpdateScheduleRun(id string, lastRunAt, nextRunAt *time.Time) error {
	return affected(s.db.Exec(`
		UPDATE task_schedules
		SET last_run_at = $1, next_run_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3`, lastRunAt, nextRunAt, id))
}

func (s *PostgresStore) SaveExecution(e models.TaskExecution) error {
	_, err := s.db.Exec(`
		INSERT INTO task_executions (id, task_id, node_id, status, attempt, start_time, end_time,
			output, error, cpu_usage, memory_usage, disk_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.TaskID, e.NodeID, e.Status, e.Attempt, e.StartTime, e.EndTime,
		e.Output, e.Error, e.CPUUsage, e.MemoryUsage, e.DiskUsage)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(id string) (models.TaskExecution, error) {
	var e models.TaskExecution
	err := s.db.Get(&e, "SELECT * FROM task_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.TaskExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskExecution{}, err
	}
	return e, nil
}

func (s *PostgresStore) UpdateExecution(e models.TaskExecution) error {
	return affected(s.db.Exec(`
		UPDATE task_executions
		SET status = $1, end_time = $2, output = $3, error = $4,
			cpu_usage = $5, memory_usage = $6, disk_usage = $7
		WHERE id = $8`,
		e.Status, e.EndTime, e.Output, e.Error, e.CPUUsage, e.MemoryUsage, e.DiskUsage, e.ID))
}

func (s *PostgresStore) ListExecutionsByTask(taskID string) ([]models.TaskExecution, error) {
	executions := []models.TaskExecution{}
	err := s.db.Select(&executions,
		"SELECT * FROM task_executions WHERE task_id = $1 ORDER BY start_time DESC", taskID)
	if err != nil {
		return nil, err
	}
	return executions, nil
}

func (s *PostgresStore) ListRunningExecutions() ([]models.TaskExecution, error) {
	executions := []models.TaskExecution{}
	err := s.db.Select(&executions,
		"SELECT * FROM task_executions WHERE status = 'RUNNING' ORDER BY start_time")
	if err != nil {
		return nil, err
	}
	return executions, nil
}

func (s *PostgresStore) LatestExecution(taskID string) (models.TaskExecution, error) {
	var e models.TaskExecution
	err := s.db.Get(&e,
		"SELECT * FROM task_executions WHERE task_id = $1 ORDER BY start_time DESC LIMIT 1", taskID)
	if err == sql.ErrNoRows {
		return models.TaskExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskExecution{}, err
	}
	return e, nil
}

func (s *PostgresStore) SaveDependency(d models.TaskDependency) error {
	_, err := s.db.Exec(`
		INSERT INTO task_dependencies (id, task_id, depends_on_task_id, type, condition,
			timeout_minutes, is_active, manual_override, overridden_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.TaskID, d.DependsOnTaskID, d.Type, d.Condition,
		d.TimeoutMinutes, d.IsActive, d.ManualOverride, d.OverriddenAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save dependency: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDependencies(taskID string) ([]models.TaskDependency, error) {
	deps := []models.TaskDependency{}
	err := s.db.Select(&deps,
		"SELECT * FROM task_dependencies WHERE task_id = $1 ORDER BY created_at", taskID)
	if err != nil {
		return nil, err
	}
	return deps, nil
}

func (s *PostgresStore) ListDependents(taskID string) ([]models.TaskDependency, error) {
	deps := []models.TaskDependency{}
	err := s.db.Select(&deps,
		"SELECT * FROM task_dependencies WHERE depends_on_task_id = $1 ORDER BY created_at", taskID)
	if err != nil {
		return nil, err
	}
	return deps, nil
}

func (s *PostgresStore) SetManualOverride(dependencyID string, overridden bool, at *time.Time) error {
	return affected(s.db.Exec(`
		UPDATE task_dependencies
		SET manual_override = $1, overridden_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3`, overridden, at, dependencyID))
}
