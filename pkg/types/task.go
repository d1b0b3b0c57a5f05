package types

import "time"

// Task is one unit of work tracked through the waiting/running/finished
// lifecycle. A task is created by AddTaskRequest and mutated in place as it
// moves between queues; it is never copied. Field updates happen only while
// the task is outside any queue or under the owning queue's lock.
type Task struct {
	// ID is globally unique for one coordinator: tag + "_" + monotonic counter.
	ID string

	// Tag names the handler that executes this task.
	Tag string

	// Parameters is the opaque argument payload handed to the handler.
	Parameters any

	// RequestingProcess is the id of the submitting process, 0 if unset.
	RequestingProcess int

	// HandlingProcess is the id of the worker currently executing the task,
	// 0 while waiting or finished.
	HandlingProcess int

	// Lifecycle timestamps, zero until stamped. Monotonically non-decreasing
	// through the lifecycle; StartTime is cleared again on requeue.
	RequestTime time.Time
	StartTime   time.Time
	EndTime     time.Time

	// Completed is nil until the task finishes: true for a normal result,
	// false when the handler reported an exception.
	Completed *bool
}

// TaskAssignment is what a worker receives from GetAnyTask/GetTaskWithTag.
type TaskAssignment struct {
	TaskID     string
	Tag        string
	Parameters any
}

// TaskResult is a successfully completed task handed back to a master.
type TaskResult struct {
	TaskID string
	Tag    string
	Result any
}

// TaskCounts reports the number of tasks per lifecycle state.
type TaskCounts struct {
	Waiting  int
	Running  int
	Finished int
}
