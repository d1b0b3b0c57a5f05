package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskfarm/engine/pkg/types"
)

// resultEntry is the stored payload of a finished task: either a value or an
// error message plus traceback, kept independent of the Task object and
// removed exactly once on retrieval.
type resultEntry struct {
	value     any
	message   string
	traceback string
}

// TaskManager is the single coordination point of the task farm. It owns the
// three lifecycle queues, the results map, the process registry and the
// watchdog; every task state transition funnels through its methods, which
// are safe under concurrent invocation from many callers.
//
// Task delivery is at-least-once: a worker declared dead by the watchdog may
// still finish and store a result after its tasks were requeued and possibly
// re-completed elsewhere. This race is inherited from the design and is
// deliberately not guarded against; masters must tolerate duplicate
// completions of the same logical work.
type TaskManager struct {
	waiting  *TaskQueue
	running  *TaskQueue
	finished *TaskQueue

	registry *ProcessRegistry
	stats    *TaskStats
	log      *zap.Logger

	mu        sync.Mutex
	idCounter int
	results   map[string]resultEntry
	watchdog  *Watchdog
}

var _ types.TaskService = (*TaskManager)(nil)

// NewTaskManager creates an empty coordinator.
func NewTaskManager(log *zap.Logger) *TaskManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskManager{
		waiting:  NewTaskQueue(),
		running:  NewTaskQueue(),
		finished: NewTaskQueue(),
		registry: NewProcessRegistry(),
		stats:    NewTaskStats(),
		log:      log,
		results:  make(map[string]resultEntry),
	}
}

// RegisterProcess allocates a new process id. A watchdogPeriod > 0 places the
// process under watchdog supervision, lazily starting the watchdog loop on
// first use.
func (m *TaskManager) RegisterProcess(ctx context.Context, watchdogPeriod time.Duration) (int, error) {
	pid := m.registry.Register()
	if watchdogPeriod > 0 {
		m.watchdogRef().RegisterProcess(pid, watchdogPeriod)
	}
	m.log.Debug("process registered",
		zap.Int("process_id", pid),
		zap.Duration("watchdog_period", watchdogPeriod))
	return pid, nil
}

// UnregisterProcess removes the process from the registry and requeues every
// task it still held through the same path ReturnTask uses, so no work is
// silently lost. Unregistering an unknown id is a no-op.
func (m *TaskManager) UnregisterProcess(ctx context.Context, processID int) error {
	tasks, ok := m.registry.Unregister(processID)
	if !ok {
		return nil
	}
	m.log.Debug("process unregistered",
		zap.Int("process_id", processID),
		zap.Int("requeued_tasks", len(tasks)))
	for _, task := range tasks {
		if err := m.ReturnTask(ctx, task.ID); err != nil {
			return fmt.Errorf("requeue task %s of process %d: %w", task.ID, processID, err)
		}
	}
	m.mu.Lock()
	wd := m.watchdog
	m.mu.Unlock()
	if wd != nil {
		wd.UnregisterProcess(processID)
	}
	return nil
}

// Ping refreshes the watchdog timestamp for the process. No-op when no
// watchdog has been started.
func (m *TaskManager) Ping(ctx context.Context, processID int) error {
	m.mu.Lock()
	wd := m.watchdog
	m.mu.Unlock()
	if wd != nil {
		wd.Ping(processID)
	}
	return nil
}

// AddTaskRequest allocates a fresh task id, enqueues the task as waiting and
// returns the id immediately; the caller does not wait for execution.
func (m *TaskManager) AddTaskRequest(ctx context.Context, tag string, parameters any, requestingProcess int) (string, error) {
	if tag == "" {
		return "", fmt.Errorf("task tag cannot be empty")
	}

	m.mu.Lock()
	id := fmt.Sprintf("%s_%d", tag, m.idCounter)
	m.idCounter++
	m.mu.Unlock()

	task := &types.Task{
		ID:                id,
		Tag:               tag,
		Parameters:        parameters,
		RequestingProcess: requestingProcess,
		RequestTime:       time.Now(),
	}
	m.waiting.Add(task, false)

	m.log.Debug("task requested",
		zap.String("task_id", id),
		zap.String("tag", tag),
		zap.Int("requesting_process", requestingProcess))
	return id, nil
}

// GetAnyTask blocks until any waiting task is available and checks it out to
// processID.
func (m *TaskManager) GetAnyTask(ctx context.Context, processID int) (*types.TaskAssignment, error) {
	task, err := m.waiting.First(ctx)
	if err != nil {
		return nil, err
	}
	m.checkout(task, processID)
	return &types.TaskAssignment{TaskID: task.ID, Tag: task.Tag, Parameters: task.Parameters}, nil
}

// GetTaskWithTag blocks until a waiting task with the given tag is available
// and checks it out to processID.
func (m *TaskManager) GetTaskWithTag(ctx context.Context, tag string, processID int) (*types.TaskAssignment, error) {
	task, err := m.waiting.FirstWithTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	m.checkout(task, processID)
	return &types.TaskAssignment{TaskID: task.ID, Tag: task.Tag, Parameters: task.Parameters}, nil
}

// checkout stamps the start time, assigns the handling process and moves the
// task into the running queue.
func (m *TaskManager) checkout(task *types.Task, processID int) {
	task.HandlingProcess = processID
	task.StartTime = time.Now()
	m.running.Add(task, false)
	m.registry.Checkout(processID, task)
	m.log.Debug("task checked out",
		zap.String("task_id", task.ID),
		zap.Int("process_id", processID))
}

// StoreResult completes the named running task with a normal result. Calling
// it for an id that never reaches the running queue blocks until termination;
// that is a caller-contract violation, not a recoverable condition.
func (m *TaskManager) StoreResult(ctx context.Context, taskID string, result any) error {
	return m.finish(ctx, taskID, resultEntry{value: result}, true)
}

// StoreException completes the named running task with a handler failure. The
// message and traceback are stored verbatim and surface unchanged in the
// TaskFailed error at result retrieval.
func (m *TaskManager) StoreException(ctx context.Context, taskID, message, traceback string) error {
	return m.finish(ctx, taskID, resultEntry{message: message, traceback: traceback}, false)
}

func (m *TaskManager) finish(ctx context.Context, taskID string, entry resultEntry, completed bool) error {
	task, err := m.running.ByID(ctx, taskID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.results[taskID] = entry
	m.mu.Unlock()

	task.EndTime = time.Now()
	c := completed
	task.Completed = &c
	m.registry.Release(task.HandlingProcess, task)
	m.stats.Record(task, completed)

	// The result entry is published before the task becomes visible in the
	// finished queue, so a retriever can never observe the task without it.
	m.finished.Add(task, false)

	m.log.Debug("task finished",
		zap.String("task_id", taskID),
		zap.Bool("completed", completed))
	return nil
}

// ReturnTask moves a running task back to the front of the waiting queue for
// priority redelivery, clearing its start time and handling process. Used by
// workers that cannot execute a task and by the process unregistration path.
func (m *TaskManager) ReturnTask(ctx context.Context, taskID string) error {
	task, err := m.running.ByID(ctx, taskID)
	if err != nil {
		return err
	}
	m.registry.Release(task.HandlingProcess, task)
	task.StartTime = time.Time{}
	task.HandlingProcess = 0
	m.waiting.Add(task, true)
	m.log.Debug("task returned to waiting queue", zap.String("task_id", taskID))
	return nil
}

// GetAnyResult blocks until any finished task is available, removes it and
// its stored payload and hands both over. A failed task surfaces as a
// *types.TaskFailed error carrying the original message and traceback.
func (m *TaskManager) GetAnyResult(ctx context.Context) (*types.TaskResult, error) {
	task, err := m.finished.First(ctx)
	if err != nil {
		return nil, err
	}
	return m.takeResult(task)
}

// GetResultWithTag is GetAnyResult restricted to one tag.
func (m *TaskManager) GetResultWithTag(ctx context.Context, tag string) (*types.TaskResult, error) {
	task, err := m.finished.FirstWithTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	return m.takeResult(task)
}

// takeResult removes the stored payload for a task already taken from the
// finished queue. After this the task is gone from every index.
func (m *TaskManager) takeResult(task *types.Task) (*types.TaskResult, error) {
	m.mu.Lock()
	entry := m.results[task.ID]
	delete(m.results, task.ID)
	m.mu.Unlock()

	if task.Completed != nil && *task.Completed {
		return &types.TaskResult{TaskID: task.ID, Tag: task.Tag, Result: entry.value}, nil
	}
	return nil, &types.TaskFailed{
		TaskID:    task.ID,
		Tag:       task.Tag,
		Message:   entry.message,
		Traceback: entry.traceback,
	}
}

// NumberOfActiveProcesses returns the current registry size.
func (m *TaskManager) NumberOfActiveProcesses(ctx context.Context) (int, error) {
	return m.registry.Count(), nil
}

// NumberOfTasks returns the waiting/running/finished counts. The counts are
// only eventually consistent with concurrent mutators.
func (m *TaskManager) NumberOfTasks(ctx context.Context) (types.TaskCounts, error) {
	return types.TaskCounts{
		Waiting:  m.waiting.Len(),
		Running:  m.running.Len(),
		Finished: m.finished.Len(),
	}, nil
}

// Stats returns a snapshot of task timing statistics.
func (m *TaskManager) Stats() types.StatsSnapshot {
	return m.stats.Snapshot()
}

// Terminate marks all three queues terminated, releasing every blocked call
// with types.ErrTerminated, and stops the watchdog loop. It does not wait for
// workers to exit; a master's shutdown routine polls NumberOfActiveProcesses
// until only itself remains.
func (m *TaskManager) Terminate(ctx context.Context) error {
	m.log.Info("task manager terminating")
	m.waiting.Terminate()
	m.running.Terminate()
	m.finished.Terminate()

	m.mu.Lock()
	wd := m.watchdog
	m.mu.Unlock()
	if wd != nil {
		wd.Terminate(false)
	}
	return nil
}

// watchdogRef returns the watchdog, creating it on first use. Dead processes
// are cleaned up through the same UnregisterProcess path a cooperating
// process uses, so the requeue logic exists only once.
func (m *TaskManager) watchdogRef() *Watchdog {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchdog == nil {
		m.watchdog = NewWatchdog(func(pid int) {
			_ = m.UnregisterProcess(context.Background(), pid)
		}, m.log)
	}
	return m.watchdog
}
