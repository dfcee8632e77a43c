package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Carneyyy/task-scheduler-project/internal/worker"
	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/service"
	"github.com/stretchr/testify/assert"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{})  {}
func (l logger) Warnf(format string, args ...interface{})  {}
func (l logger) Errorf(format string, args ...interface{}) {}

func TestScriptCatalog(t *testing.T) {
	t.Run("LoadsFromFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scripts.yaml")
		assert.NoError(t, os.WriteFile(path, []byte(`
scripts:
  - id: backup
    name: nightly backup
    command: /opt/scripts/backup.sh
  - id: report
    command: /opt/scripts/report.sh
`), 0o644))

		catalog, err := worker.LoadScriptCatalog(path)
		assert.NoError(t, err)

		script, err := catalog.Resolve(context.Background(), "backup")
		assert.NoError(t, err)
		assert.Equal(t, "nightly backup", script.Name)
		assert.Equal(t, "/opt/scripts/backup.sh", script.Command)

		_, err = catalog.Resolve(context.Background(), "missing")
		assert.Error(t, err)
	})

	t.Run("RejectsEntryWithoutCommand", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scripts.yaml")
		assert.NoError(t, os.WriteFile(path, []byte("scripts:\n  - id: broken\n"), 0o644))
		_, err := worker.LoadScriptCatalog(path)
		assert.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := worker.LoadScriptCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

type fixedLoad int

func (l fixedLoad) InFlight() int { return int(l) }

func TestSingleNodeCapacity(t *testing.T) {
	node := worker.NewSingleNode(2)

	// Without a load source the node always offers itself.
	id, err := node.PickNode(context.Background(), models.Task{})
	assert.NoError(t, err)
	assert.Equal(t, worker.LocalNodeID, id)

	node.AttachLoad(fixedLoad(1))
	_, err = node.PickNode(context.Background(), models.Task{})
	assert.NoError(t, err)

	node.AttachLoad(fixedLoad(2))
	_, err = node.PickNode(context.Background(), models.Task{})
	assert.ErrorIs(t, err, service.ErrNoCapacity)
}

func TestLocalDispatcher(t *testing.T) {
	newReporter := func() (worker.ReportFunc, chan service.Outcome) {
		ch := make(chan service.Outcome, 1)
		return func(_ string, outcome service.Outcome) error {
			ch <- outcome
			return nil
		}, ch
	}

	t.Run("ReportsSuccessWithOutput", func(t *testing.T) {
		d := worker.NewLocalDispatcher(logger{})
		report, ch := newReporter()
		d.SetReporter(report)

		exec := models.TaskExecution{ID: "x1", TaskID: "a"}
		script := service.Script{ID: "hello", Command: "echo hello"}
		assert.NoError(t, d.Dispatch(context.Background(), exec, script, worker.LocalNodeID))

		select {
		case outcome := <-ch:
			assert.Equal(t, models.SuccessExecutionStatus, outcome.Status)
			assert.Equal(t, "hello\n", outcome.Output)
		case <-time.After(5 * time.Second):
			t.Fatal("expected an outcome report")
		}
		assert.Equal(t, 0, d.InFlight())
	})

	t.Run("ReportsFailureWithStderr", func(t *testing.T) {
		d := worker.NewLocalDispatcher(logger{})
		report, ch := newReporter()
		d.SetReporter(report)

		exec := models.TaskExecution{ID: "x2", TaskID: "a"}
		script := service.Script{ID: "boom", Command: "echo kaput >&2; exit 3"}
		assert.NoError(t, d.Dispatch(context.Background(), exec, script, worker.LocalNodeID))

		select {
		case outcome := <-ch:
			assert.Equal(t, models.FailedExecutionStatus, outcome.Status)
			assert.Contains(t, outcome.Error, "kaput")
		case <-time.After(5 * time.Second):
			t.Fatal("expected an outcome report")
		}
	})

	t.Run("RejectsUnknownNode", func(t *testing.T) {
		d := worker.NewLocalDispatcher(logger{})
		err := d.Dispatch(context.Background(), models.TaskExecution{ID: "x3"}, service.Script{Command: "true"}, "elsewhere")
		assert.ErrorIs(t, err, service.ErrDispatchRejected)
	})

	t.Run("StopKillsRunningScript", func(t *testing.T) {
		d := worker.NewLocalDispatcher(logger{})
		report, ch := newReporter()
		d.SetReporter(report)

		exec := models.TaskExecution{ID: "x4", TaskID: "a"}
		script := service.Script{ID: "sleep", Command: "sleep 30"}
		assert.NoError(t, d.Dispatch(context.Background(), exec, script, worker.LocalNodeID))
		assert.Equal(t, 1, d.InFlight())

		assert.NoError(t, d.Stop(context.Background(), exec.ID))
		select {
		case outcome := <-ch:
			assert.Equal(t, models.FailedExecutionStatus, outcome.Status)
		case <-time.After(5 * time.Second):
			t.Fatal("expected the killed script to report")
		}

		// Stopping an unknown execution is a no-op.
		assert.NoError(t, d.Stop(context.Background(), "never-dispatched"))
	})
}
