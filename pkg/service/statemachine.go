package service

import (
	"github.com/Carneyyy/task-scheduler-project/pkg/models"
	"github.com/pkg/errors"
)

// TransitionEvent names the triggers that move a task between statuses.
type TransitionEvent string

const (
	DispatchEvent   TransitionEvent = "dispatch"   // dispatch accepted by a node
	SucceedEvent    TransitionEvent = "succeed"    // execution reported success
	FailEvent       TransitionEvent = "fail"       // execution reported failure
	TimeoutEvent    TransitionEvent = "timeout"    // max run time elapsed
	CancelEvent     TransitionEvent = "cancel"     // explicit cancellation
	RescheduleEvent TransitionEvent = "reschedule" // schedule produced a new due time
)

// NextStatus returns the status a task moves to when event fires in from.
// Illegal combinations return ErrInvalidTransition.
func NextStatus(from models.TaskStatus, event TransitionEvent) (models.TaskStatus, error) {
	switch event {
	case DispatchEvent:
		if from == models.PendingTaskStatus {
			return models.RunningTaskStatus, nil
		}
	case SucceedEvent:
		if from == models.RunningTaskStatus {
			return models.SuccessTaskStatus, nil
		}
	case FailEvent, TimeoutEvent:
		if from == models.RunningTaskStatus {
			return models.FailedTaskStatus, nil
		}
	case CancelEvent:
		if from == models.PendingTaskStatus || from == models.RunningTaskStatus {
			return models.CancelledTaskStatus, nil
		}
	case RescheduleEvent:
		if from == models.SuccessTaskStatus || from == models.FailedTaskStatus {
			return models.PendingTaskStatus, nil
		}
	default:
		return "", errors.Wrapf(ErrInvalidTransition, "unknown event %q", event)
	}
	return "", errors.Wrapf(ErrInvalidTransition, "%s in status %s", event, from)
}

// Transition applies event to the task in memory. The task is only mutated
// when the transition is legal; callers persist the new status afterwards so
// an illegal transition never partially applies.
func Transition(t *models.Task, event TransitionEvent) error {
	next, err := NextStatus(t.Status, event)
	if err != nil {
		return err
	}
	t.Status = next
	return nil
}
