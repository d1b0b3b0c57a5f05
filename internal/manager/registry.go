package manager

import (
	"sync"

	"taskfarm/engine/pkg/types"
)

// ProcessRegistry tracks active master/worker process ids and the running
// tasks each one currently holds. Ids are assigned sequentially starting at 1
// and are never reused, so the zero value is free to mean "no process".
type ProcessRegistry struct {
	mu     sync.Mutex
	nextID int
	held   map[int][]*types.Task
}

// NewProcessRegistry creates an empty registry.
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{
		nextID: 1,
		held:   make(map[int][]*types.Task),
	}
}

// Register allocates a new process id with an empty held-task list.
func (r *ProcessRegistry) Register() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.held[id] = []*types.Task{}
	return id
}

// Unregister removes the process and returns the tasks it still held. The
// second return value is false if the id was not registered, which makes a
// double unregister a no-op for callers.
func (r *ProcessRegistry) Unregister(processID int) ([]*types.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks, ok := r.held[processID]
	if !ok {
		return nil, false
	}
	delete(r.held, processID)
	return tasks, true
}

// Checkout records that the process now holds the task. Unknown process ids
// are ignored (the task is still handed out, just not tracked).
func (r *ProcessRegistry) Checkout(processID int, task *types.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[processID]; !ok {
		return
	}
	r.held[processID] = append(r.held[processID], task)
}

// Release removes the task from the process's held list. Tolerates a missing
// process or task: the list may already be gone when a declared-dead worker
// reports back.
func (r *ProcessRegistry) Release(processID int, task *types.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks, ok := r.held[processID]
	if !ok {
		return
	}
	for i, t := range tasks {
		if t == task {
			r.held[processID] = append(tasks[:i], tasks[i+1:]...)
			return
		}
	}
}

// Count returns the number of active processes.
func (r *ProcessRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// Active reports whether the process id is currently registered.
func (r *ProcessRegistry) Active(processID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[processID]
	return ok
}
