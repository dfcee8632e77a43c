package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Carneyyy/task-scheduler-project/internal/log"
	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/service"
	"github.com/Carneyyy/task-scheduler-project/pkg/storage"
	"github.com/pkg/errors"
)

// NewRouter wires the management surface: task CRUD, schedules,
// dependencies, manual triggers and the execution completion callback.
func NewRouter(svc *service.TaskService, sched *service.Scheduler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/tasks", TasksHandler(svc))
	mux.HandleFunc("/tasks/", TaskByIDHandler(svc))
	mux.HandleFunc("/executions/", ExecutionCallbackHandler(sched))
	mux.HandleFunc("/dependencies/", DependencyOverrideHandler(svc))
	return mux
}

func StartServer(port int, svc *service.TaskService, sched *service.Scheduler) error {
	log.GetLogger().Infof("Starting task engine server on :%d", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), NewRouter(svc, sched))
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Task engine is running")
}

func TasksHandler(svc *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listTasksHTTP(w, svc)
		case http.MethodPost:
			createTaskHTTP(w, r, svc)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// TaskByIDHandler routes /tasks/{id} and the per-task subresources:
// cancel, trigger, executions, schedules and dependencies.
func TaskByIDHandler(svc *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/tasks/"), "/"), "/")
		if len(parts) == 0 || parts[0] == "" {
			writeError(w, http.StatusBadRequest, "Missing task ID")
			return
		}
		id := parts[0]

		if len(parts) == 1 {
			switch r.Method {
			case http.MethodGet:
				getTaskHTTP(w, svc, id)
			case http.MethodDelete:
				deactivateTaskHTTP(w, svc, id)
			default:
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
			return
		}

		switch parts[1] {
		case "cancel":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			cancelTaskHTTP(w, r, svc, id)
		case "trigger":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			triggerTaskHTTP(w, svc, id)
		case "executions":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			listExecutionsHTTP(w, svc, id)
		case "schedules":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			addScheduleHTTP(w, r, svc, id)
		case "dependencies":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			addDependencyHTTP(w, r, svc, id)
		default:
			writeError(w, http.StatusNotFound, "Unknown task resource")
		}
	}
}

// ExecutionCallbackHandler handles POST /executions/{id}/complete, the
// terminal report a worker node sends when a dispatched run finishes.
func ExecutionCallbackHandler(sched *service.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/executions/"), "/"), "/")
		if len(parts) != 2 || parts[1] != "complete" {
			writeError(w, http.StatusNotFound, "Unknown execution resource")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		var req struct {
			Status      models.ExecutionStatus `json:"status"`
			Output      string                 `json:"output"`
			Error       string                 `json:"error"`
			CPUUsage    string                 `json:"cpu_usage"`
			MemoryUsage string                 `json:"memory_usage"`
			DiskUsage   string                 `json:"disk_usage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		outcome := service.Outcome{
			Status:      req.Status,
			Output:      req.Output,
			Error:       req.Error,
			CPUUsage:    req.CPUUsage,
			MemoryUsage: req.MemoryUsage,
			DiskUsage:   req.DiskUsage,
		}
		if err := sched.ReportOutcome(parts[0], outcome); err != nil {
			log.GetLogger().Errorf("Failed to record outcome for execution %s: %v", parts[0], err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Recorded outcome %s for execution %s", req.Status, parts[0]),
		})
	}
}

// DependencyOverrideHandler handles POST /dependencies/{id}/override.
func DependencyOverrideHandler(svc *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/dependencies/"), "/"), "/")
		if len(parts) != 2 || parts[1] != "override" {
			writeError(w, http.StatusNotFound, "Unknown dependency resource")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if err := svc.OverrideManualDependency(parts[0]); err != nil {
			log.GetLogger().Errorf("Failed to override dependency %s: %v", parts[0], err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Overrode dependency %s", parts[0]),
		})
	}
}

func createTaskHTTP(w http.ResponseWriter, r *http.Request, svc *service.TaskService) {
	var req struct {
		Name             string              `json:"name"`
		ScriptID         string              `json:"script_id"`
		NodeID           *string             `json:"node_id"`
		Parameters       models.ParamMap     `json:"parameters"`
		Priority         models.TaskPriority `json:"priority"`
		MaxRunTime       int64               `json:"max_run_time"`
		IsConcurrent     bool                `json:"is_concurrent"`
		NotifyOnComplete bool                `json:"notify_on_complete"`
		MaxAttempts      int                 `json:"max_attempts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Missing 'name' parameter")
		return
	}
	if req.ScriptID == "" {
		writeError(w, http.StatusBadRequest, "Missing 'script_id' parameter")
		return
	}
	task, err := svc.CreateTask(models.Task{
		Name:             req.Name,
		ScriptID:         req.ScriptID,
		NodeID:           req.NodeID,
		Parameters:       req.Parameters,
		Priority:         req.Priority,
		MaxRunTime:       req.MaxRunTime,
		IsConcurrent:     req.IsConcurrent,
		NotifyOnComplete: req.NotifyOnComplete,
		MaxAttempts:      req.MaxAttempts,
	})
	if err != nil {
		log.GetLogger().Errorf("Failed to create task: %v", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":      task.ID,
		"message": fmt.Sprintf("Created task '%s' with ID %s", task.Name, task.ID),
	})
}

func listTasksHTTP(w http.ResponseWriter, svc *service.TaskService) {
	tasks, err := svc.ListTasks()
	if err != nil {
		log.GetLogger().Errorf("Failed to list tasks: %v", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func getTaskHTTP(w http.ResponseWriter, svc *service.TaskService, id string) {
	task, err := svc.GetTask(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func deactivateTaskHTTP(w http.ResponseWriter, svc *service.TaskService, id string) {
	if err := svc.DeactivateTask(id); err != nil {
		log.GetLogger().Errorf("Failed to deactivate task %s: %v", id, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Deactivated task %s", id),
	})
}

func cancelTaskHTTP(w http.ResponseWriter, r *http.Request, svc *service.TaskService, id string) {
	if err := svc.CancelTask(r.Context(), id); err != nil {
		log.GetLogger().Errorf("Failed to cancel task %s: %v", id, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Cancelled task %s", id),
	})
}

func triggerTaskHTTP(w http.ResponseWriter, svc *service.TaskService, id string) {
	if err := svc.TriggerTask(id); err != nil {
		log.GetLogger().Errorf("Failed to trigger task %s: %v", id, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Queued task %s for dispatch", id),
	})
}

func listExecutionsHTTP(w http.ResponseWriter, svc *service.TaskService, id string) {
	executions, err := svc.ListExecutions(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func addScheduleHTTP(w http.ResponseWriter, r *http.Request, svc *service.TaskService, id string) {
	var req struct {
		CycleType  models.ScheduleCycle `json:"cycle_type"`
		RunTime    string               `json:"run_time"`
		DayOfWeek  *int                 `json:"day_of_week"`
		DayOfMonth *int                 `json:"day_of_month"`
		CronExpr   *string              `json:"cron_expr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	sched, err := svc.AddSchedule(models.TaskSchedule{
		TaskID:     id,
		CycleType:  req.CycleType,
		RunTime:    req.RunTime,
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		CronExpr:   req.CronExpr,
	})
	if err != nil {
		log.GetLogger().Errorf("Failed to add schedule for task %s: %v", id, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func addDependencyHTTP(w http.ResponseWriter, r *http.Request, svc *service.TaskService, id string) {
	var req struct {
		DependsOnTaskID string                     `json:"depends_on_task_id"`
		Type            models.DependencyType      `json:"type"`
		Condition       models.DependencyCondition `json:"condition"`
		TimeoutMinutes  *int                       `json:"timeout_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	dep, err := svc.AddDependency(models.TaskDependency{
		TaskID:          id,
		DependsOnTaskID: req.DependsOnTaskID,
		Type:            req.Type,
		Condition:       req.Condition,
		TimeoutMinutes:  req.TimeoutMinutes,
	})
	if err != nil {
		log.GetLogger().Errorf("Failed to add dependency for task %s: %v", id, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps engine errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrCycleDetected),
		errors.Is(err, service.ErrConditionMismatch),
		errors.Is(err, service.ErrInvalidTransition):
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}
