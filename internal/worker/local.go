package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/Carneyyy/task-scheduler-project/pkg/service"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const LocalNodeID = "local"

// ScriptCatalog is a file-backed ScriptRegistry. The catalog is loaded once
// at startup; dispatch-time lookups never touch the disk.
type ScriptCatalog struct {
	scripts map[string]service.Script
}

type catalogFile struct {
	Scripts []struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		Command string `yaml:"command"`
	} `yaml:"scripts"`
}

// NewScriptCatalog builds a catalog from in-memory descriptors.
func NewScriptCatalog(scripts ...service.Script) *ScriptCatalog {
	m := make(map[string]service.Script, len(scripts))
	for _, s := range scripts {
		m[s.ID] = s
	}
	return &ScriptCatalog{scripts: m}
}

func LoadScriptCatalog(path string) (*ScriptCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse script catalog: %w", err)
	}
	scripts := make(map[string]service.Script, len(file.Scripts))
	for _, s := range file.Scripts {
		if s.ID == "" || s.Command == "" {
			return nil, fmt.Errorf("script catalog entry missing id or command")
		}
		scripts[s.ID] = service.Script{ID: s.ID, Name: s.Name, Command: s.Command}
	}
	return &ScriptCatalog{scripts: scripts}, nil
}

func (c *ScriptCatalog) Resolve(_ context.Context, scriptID string) (service.Script, error) {
	script, ok := c.scripts[scriptID]
	if !ok {
		return service.Script{}, fmt.Errorf("script %q is not registered", scriptID)
	}
	return script, nil
}

// SingleNode is a NodeDirectory with one node and a bounded slot count.
// Capacity is judged against the dispatcher's in-flight process count, so
// slots free themselves when a script exits.
type SingleNode struct {
	slots int
	load  interface{ InFlight() int }
}

func NewSingleNode(slots int) *SingleNode {
	if slots <= 0 {
		slots = 2
	}
	return &SingleNode{slots: slots}
}

// AttachLoad wires the in-flight source. The node is built before the
// dispatcher, so the hookup happens after both exist.
func (n *SingleNode) AttachLoad(load interface{ InFlight() int }) {
	n.load = load
}

func (n *SingleNode) PickNode(_ context.Context, _ models.Task) (string, error) {
	if n.load != nil && n.load.InFlight() >= n.slots {
		return "", service.ErrNoCapacity
	}
	return LocalNodeID, nil
}

// ReportFunc receives the terminal outcome of a finished execution. The
// scheduler's ReportOutcome satisfies it.
type ReportFunc func(executionID string, outcome service.Outcome) error

// LocalDispatcher runs scripts as child processes on this host. It is the
// in-process stand-in for a remote worker fleet: accepted executions run
// asynchronously and report back through the same callback path a remote
// node would use.
type LocalDispatcher struct {
	logger service.Logger

	mu      sync.Mutex
	report  ReportFunc
	running map[string]*exec.Cmd
}

func NewLocalDispatcher(logger service.Logger) *LocalDispatcher {
	return &LocalDispatcher{
		logger:  logger,
		running: make(map[string]*exec.Cmd),
	}
}

// SetReporter injects the completion callback. The dispatcher is built
// before the scheduler, so the hookup happens after both exist.
func (d *LocalDispatcher) SetReporter(report ReportFunc) {
	d.mu.Lock()
	d.report = report
	d.mu.Unlock()
}

// InFlight reports the number of scripts currently running.
func (d *LocalDispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

func (d *LocalDispatcher) Dispatch(_ context.Context, execution models.TaskExecution, script service.Script, nodeID string) error {
	if nodeID != LocalNodeID {
		return errors.Wrapf(service.ErrDispatchRejected, "unknown node %q", nodeID)
	}

	cmd := exec.Command("sh", "-c", script.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(service.ErrDispatchRejected, "start script %s: %v", script.ID, err)
	}

	d.mu.Lock()
	d.running[execution.ID] = cmd
	d.mu.Unlock()

	go func() {
		runErr := cmd.Wait()

		d.mu.Lock()
		delete(d.running, execution.ID)
		report := d.report
		d.mu.Unlock()

		outcome := service.Outcome{
			Status: models.SuccessExecutionStatus,
			Output: stdout.String(),
		}
		if runErr != nil {
			outcome.Status = models.FailedExecutionStatus
			outcome.Error = runErr.Error()
			if stderr.Len() > 0 {
				outcome.Error = stderr.String()
			}
		}
		if report == nil {
			d.logger.Warnf("No reporter wired, dropping outcome for execution %s", execution.ID)
			return
		}
		if err := report(execution.ID, outcome); err != nil {
			d.logger.Errorf("Failed to report outcome for execution %s: %v", execution.ID, err)
		}
	}()
	return nil
}

func (d *LocalDispatcher) Stop(_ context.Context, executionID string) error {
	d.mu.Lock()
	cmd, ok := d.running[executionID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return cmd.Process.Kill()
}

// LogNotifier is the default NotificationGateway: completions land in the
// engine log instead of an external channel.
type LogNotifier struct {
	logger service.Logger
}

func NewLogNotifier(logger service.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, task models.Task, execution models.TaskExecution) error {
	n.logger.Infof("Task %s (%s) finished execution %s with status %s",
		task.Name, task.ID, execution.ID, execution.Status)
	return nil
}
