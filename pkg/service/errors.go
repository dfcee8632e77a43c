package service

import "github.com/pkg/errors"

// Engine error kinds. Callers classify with errors.Is; call sites attach
// context with errors.Wrap.
var (
	// ErrCycleDetected rejects a dependency edge whose creation would close
	// a cycle in the task graph.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrConditionMismatch rejects divergent aggregation conditions across
	// the edges of one dependent task.
	ErrConditionMismatch = errors.New("dependency condition mismatch")

	// ErrInvalidTransition signals an illegal task status change. State is
	// never mutated when it is returned.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyRunning guards against overlapping executions of a task
	// whose concurrency flag is off.
	ErrAlreadyRunning = errors.New("task already has a running execution")

	// ErrAlreadyFinalized signals a conflicting second finalization of an
	// execution. A repeated finalization with the same outcome is a no-op.
	ErrAlreadyFinalized = errors.New("execution already finalized")

	// ErrDispatchRejected is returned by a Dispatcher that refused the
	// execution outright.
	ErrDispatchRejected = errors.New("dispatch rejected by node")

	// ErrNoCapacity is returned by a NodeDirectory that cannot offer a node.
	ErrNoCapacity = errors.New("no node capacity available")
)
