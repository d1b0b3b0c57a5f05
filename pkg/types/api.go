package types

import (
	"context"
	"time"
)

// TaskService is the contract the coordinator exposes to masters and workers.
// It is implemented by the in-process task manager and by the REST client, so
// callers are transport-agnostic. All blocking operations return
// ErrTerminated once the coordinator shuts down.
type TaskService interface {
	// RegisterProcess allocates a new process id. A watchdogPeriod > 0 puts
	// the process under watchdog supervision: if it stops pinging for more
	// than twice the period it is declared dead and its running tasks are
	// requeued.
	RegisterProcess(ctx context.Context, watchdogPeriod time.Duration) (int, error)

	// UnregisterProcess removes a process and requeues every task it still
	// holds. Unregistering an unknown (or already removed) id is a no-op.
	UnregisterProcess(ctx context.Context, processID int) error

	// Ping refreshes the watchdog's last-seen timestamp for the process.
	// No-op for processes without watchdog supervision.
	Ping(ctx context.Context, processID int) error

	// AddTaskRequest enqueues a new task and returns its id immediately;
	// it never waits for execution. requestingProcess may be 0.
	AddTaskRequest(ctx context.Context, tag string, parameters any, requestingProcess int) (string, error)

	// GetAnyTask blocks until a waiting task is available, checks it out to
	// processID and returns it.
	GetAnyTask(ctx context.Context, processID int) (*TaskAssignment, error)

	// GetTaskWithTag is GetAnyTask restricted to one tag.
	GetTaskWithTag(ctx context.Context, tag string, processID int) (*TaskAssignment, error)

	// StoreResult completes a running task with a normal result.
	StoreResult(ctx context.Context, taskID string, result any) error

	// StoreException completes a running task with a handler failure,
	// recording the error message and a textual traceback.
	StoreException(ctx context.Context, taskID, message, traceback string) error

	// ReturnTask abandons a running task and requeues it at the front of the
	// waiting queue for priority redelivery.
	ReturnTask(ctx context.Context, taskID string) error

	// GetAnyResult blocks until a finished task is available and hands its
	// result over exactly once. A failed task surfaces as a *TaskFailed error.
	GetAnyResult(ctx context.Context) (*TaskResult, error)

	// GetResultWithTag is GetAnyResult restricted to one tag.
	GetResultWithTag(ctx context.Context, tag string) (*TaskResult, error)

	// NumberOfActiveProcesses returns the current registry size.
	NumberOfActiveProcesses(ctx context.Context) (int, error)

	// NumberOfTasks returns the waiting/running/finished counts.
	NumberOfTasks(ctx context.Context) (TaskCounts, error)

	// Terminate shuts the coordinator down, releasing every blocked caller
	// with ErrTerminated. It does not wait for workers to exit.
	Terminate(ctx context.Context) error
}

// LatencySummary holds percentile values of a recorded duration, in
// milliseconds.
type LatencySummary struct {
	P50 int64 `json:"p50_ms"`
	P95 int64 `json:"p95_ms"`
	P99 int64 `json:"p99_ms"`
	Max int64 `json:"max_ms"`
}

// StatsSnapshot is a point-in-time view of task timing statistics.
type StatsSnapshot struct {
	CompletedTasks int64          `json:"completed_tasks"`
	FailedTasks    int64          `json:"failed_tasks"`
	QueueWait      LatencySummary `json:"queue_wait"`
	RunTime        LatencySummary `json:"run_time"`
}
