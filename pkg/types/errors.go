package types

import (
	"errors"
	"fmt"
)

// ErrTerminated is returned to any blocked caller once the task manager (or
// one of its queues) has been shut down. It signals "stop your loop" and is
// expected, not fatal. Match with errors.Is.
var ErrTerminated = errors.New("task manager terminated")

// TaskFailed is returned by GetAnyResult/GetResultWithTag when the task's
// handler failed during execution. It carries the worker's original error
// message and traceback verbatim. Match with errors.As.
type TaskFailed struct {
	TaskID    string
	Tag       string
	Message   string
	Traceback string
}

func (e *TaskFailed) Error() string {
	return fmt.Sprintf("task %s (tag %q) failed: %s", e.TaskID, e.Tag, e.Message)
}
