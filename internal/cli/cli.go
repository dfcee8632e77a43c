package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Carneyyy/task-scheduler-project/internal/config"
	"github.com/Carneyyy/task-scheduler-project/internal/log"
	internal_storage "github.com/Carneyyy/task-scheduler-project/internal/storage"
	"github.com/Carneyyy/task-scheduler-project/internal/worker"
	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/storage"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	createCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			scriptID, _ := cmd.Flags().GetString("script")
			priority, _ := cmd.Flags().GetString("priority")
			maxRunTime, _ := cmd.Flags().GetInt64("max-run-time")
			concurrent, _ := cmd.Flags().GetBool("concurrent")
			notify, _ := cmd.Flags().GetBool("notify")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

			eng, store := initEngine(cmd)
			defer store.Close()
			task, err := eng.Service.CreateTask(models.Task{
				Name:             args[0],
				ScriptID:         scriptID,
				Priority:         models.TaskPriority(priority),
				MaxRunTime:       maxRunTime,
				IsConcurrent:     concurrent,
				NotifyOnComplete: notify,
				MaxAttempts:      maxAttempts,
			})
			if err != nil {
				log.GetLogger().Errorf("Failed to create task: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to create task: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Created task '%s' with ID %s\n", task.Name, task.ID)
		},
	}
	createCmd.Flags().String("script", "", "Script ID from the catalog (required)")
	createCmd.Flags().String("priority", "MEDIUM", "Task priority: LOW, MEDIUM, HIGH or URGENT")
	createCmd.Flags().Int64("max-run-time", 0, "Max run time in seconds, 0 for unlimited")
	createCmd.Flags().Bool("concurrent", false, "Allow overlapping executions")
	createCmd.Flags().Bool("notify", false, "Notify on completion")
	createCmd.Flags().Int("max-attempts", 1, "Dispatch attempts per due run")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Run: func(cmd *cobra.Command, args []string) {
			eng, store := initEngine(cmd)
			defer store.Close()
			tasks, err := eng.Service.ListTasks()
			if err != nil {
				log.GetLogger().Errorf("Failed to list tasks: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list tasks: %v\n", err)
				os.Exit(1)
			}
			if len(tasks) == 0 {
				fmt.Fprintf(os.Stdout, "No tasks found.\n")
				return
			}
			fmt.Fprintf(os.Stdout, "Tasks:\n")
			for _, t := range tasks {
				fmt.Fprintf(os.Stdout, "- ID: %s, Name: %s, Status: %s, Priority: %s, Created: %s\n",
					t.ID, t.Name, t.Status, t.Priority, t.CreatedAt.Format(time.RFC3339))
			}
		},
	}

	runCmd := &cobra.Command{
		Use:   "run [id]",
		Short: "Trigger a task and wait for the outcome",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			wait, _ := cmd.Flags().GetDuration("wait")
			eng, store := initEngine(cmd)
			defer store.Close()
			runTask(eng, args[0], wait)
		},
	}
	runCmd.Flags().Duration("wait", 5*time.Minute, "How long to wait for the task to finish")

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a task and its running executions",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng, store := initEngine(cmd)
			defer store.Close()
			if err := eng.Service.CancelTask(cmd.Context(), args[0]); err != nil {
				log.GetLogger().Errorf("Failed to cancel task: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to cancel task: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Cancelled task %s\n", args[0])
		},
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate [id]",
		Short: "Deactivate a task so schedules stop firing",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng, store := initEngine(cmd)
			defer store.Close()
			if err := eng.Service.DeactivateTask(args[0]); err != nil {
				log.GetLogger().Errorf("Failed to deactivate task: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to deactivate task: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Deactivated task %s\n", args[0])
		},
	}

	rootCmd.AddCommand(createCmd, listCmd, runCmd, cancelCmd, deactivateCmd)
}

// runTask triggers the task, drives scheduler ticks in-process and polls
// until the newest execution reaches a terminal status or the wait expires.
func runTask(eng *worker.Engine, id string, wait time.Duration) {
	if err := eng.Service.TriggerTask(id); err != nil {
		log.GetLogger().Errorf("Failed to trigger task: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to trigger task: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	deadline := time.Now().Add(wait)

	eng.Scheduler.Tick(ctx, time.Now())
	for time.Now().Before(deadline) {
		executions, err := eng.Service.ListExecutions(id)
		if err != nil {
			log.GetLogger().Errorf("Failed to poll executions: %v", err)
			fmt.Fprintf(os.Stderr, "Error: failed to poll executions: %v\n", err)
			os.Exit(1)
		}
		if len(executions) > 0 && executions[0].Status.Terminal() {
			e := executions[0]
			fmt.Fprintf(os.Stdout, "Execution %s finished with status %s\n", e.ID, e.Status)
			if e.Output != "" {
				fmt.Fprint(os.Stdout, e.Output)
			}
			if e.Status != models.SuccessExecutionStatus {
				if e.Error != "" {
					fmt.Fprintf(os.Stderr, "%s\n", e.Error)
				}
				os.Exit(1)
			}
			return
		}
		time.Sleep(time.Second)
		eng.Scheduler.Tick(ctx, time.Now())
	}
	fmt.Fprintf(os.Stderr, "Error: task %s did not finish within %s\n", id, wait)
	os.Exit(1)
}

func initEngine(cmd *cobra.Command) (*worker.Engine, storage.Store) {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	scriptsPath, err := cmd.Flags().GetString("scripts")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving scripts flag: %v", err)
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	cfg, err := config.Load("")
	if err != nil {
		log.GetLogger().Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}
	eng, err := worker.Build(store, cfg, scriptsPath, log.GetLogger())
	if err != nil {
		log.GetLogger().Errorf("Failed to build engine: %v", err)
		store.Close()
		os.Exit(1)
	}
	return eng, store
}
