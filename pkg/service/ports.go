package service

import (
	"context"

	"github.com/Carneyyy/task-scheduler-project/pkg/models"
)

// Logger defines the logging interface accepted by the engine services
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Script is the descriptor resolved for a task at dispatch time. The engine
// never inspects the command; it only hands it to the Dispatcher.
type Script struct {
	ID      string
	Name    string
	Command string
}

// ScriptRegistry resolves a task's script reference. Read-only.
type ScriptRegistry interface {
	Resolve(ctx context.Context, scriptID string) (Script, error)
}

// NodeDirectory picks a node for a task. The selection policy is external;
// the engine only needs a node id or ErrNoCapacity.
type NodeDirectory interface {
	PickNode(ctx context.Context, task models.Task) (string, error)
}

// Dispatcher hands an execution to a worker node. Dispatch is called once
// per attempt; ErrDispatchRejected means the node refused. Stop signals a
// cooperative cancel of the remote process, with no guarantee it stops
// instantly.
type Dispatcher interface {
	Dispatch(ctx context.Context, execution models.TaskExecution, script Script, nodeID string) error
	Stop(ctx context.Context, executionID string) error
}

// NotificationGateway delivers post-completion notifications. Failures never
// affect task or execution status.
type NotificationGateway interface {
	Notify(ctx context.Context, task models.Task, execution models.TaskExecution) error
}

// Outcome carries the result reported for an execution.
type Outcome struct {
	Status      models.ExecutionStatus
	Output      string
	Error       string
	CPUUsage    string
	MemoryUsage string
	DiskUsage   string
}
