package manager

import (
	"context"
	"sync"

	"taskfarm/engine/pkg/types"
)

// TaskQueue is a thread-safe ordered collection of tasks with blocking
// retrieval and explicit termination. Tasks are held in insertion order with
// secondary indexes by tag and by id; all three structures are updated
// atomically under one lock, so a task is present either in all of them or in
// none.
type TaskQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	tasks []*types.Task
	byTag map[string][]*types.Task
	byID  map[string]*types.Task

	terminated bool
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{
		byTag: make(map[string][]*types.Task),
		byID:  make(map[string]*types.Task),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add inserts a task at the tail, or at the head when toFront is set
// (requeued tasks are redelivered before tasks that were already waiting).
// Callers must not add the same id twice. Wakes all blocked retrievers.
func (q *TaskQueue) Add(task *types.Task, toFront bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if toFront {
		q.tasks = append([]*types.Task{task}, q.tasks...)
		q.byTag[task.Tag] = append([]*types.Task{task}, q.byTag[task.Tag]...)
	} else {
		q.tasks = append(q.tasks, task)
		q.byTag[task.Tag] = append(q.byTag[task.Tag], task)
	}
	q.byID[task.ID] = task

	q.cond.Broadcast()
}

// First blocks until the queue is non-empty, then removes and returns the
// head task. Returns types.ErrTerminated once the queue has been terminated,
// or the context error if ctx is cancelled while waiting.
func (q *TaskQueue) First(ctx context.Context) (*types.Task, error) {
	stop := q.wakeOnCancel(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.terminated {
			return nil, types.ErrTerminated
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(q.tasks) > 0 {
			break
		}
		q.cond.Wait()
	}

	task := q.tasks[0]
	q.remove(task)
	return task, nil
}

// FirstWithTag is First restricted to tasks carrying tag, FIFO within that
// tag's subsequence.
func (q *TaskQueue) FirstWithTag(ctx context.Context, tag string) (*types.Task, error) {
	stop := q.wakeOnCancel(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.terminated {
			return nil, types.ErrTerminated
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(q.byTag[tag]) > 0 {
			break
		}
		q.cond.Wait()
	}

	task := q.byTag[tag][0]
	q.remove(task)
	return task, nil
}

// ByID blocks until a task with the given id is present, then removes and
// returns it. The task may not exist yet when the call is made (a caller may
// be racing a requeue); the call waits for it.
func (q *TaskQueue) ByID(ctx context.Context, id string) (*types.Task, error) {
	stop := q.wakeOnCancel(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.terminated {
			return nil, types.ErrTerminated
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if task, ok := q.byID[id]; ok {
			q.remove(task)
			return task, nil
		}
		q.cond.Wait()
	}
}

// Terminate marks the queue terminated and wakes all blocked waiters. All
// blocking operations fail immediately and permanently from here on; there is
// no un-terminate.
func (q *TaskQueue) Terminate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.terminated = true
	q.cond.Broadcast()
}

// Len returns the current task count.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// remove drops the task from the primary list and both indexes. Callers must
// hold q.mu.
func (q *TaskQueue) remove(task *types.Task) {
	for i, t := range q.tasks {
		if t == task {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	tagged := q.byTag[task.Tag]
	for i, t := range tagged {
		if t == task {
			q.byTag[task.Tag] = append(tagged[:i], tagged[i+1:]...)
			break
		}
	}
	if len(q.byTag[task.Tag]) == 0 {
		delete(q.byTag, task.Tag)
	}
	delete(q.byID, task.ID)
}

// wakeOnCancel broadcasts the condition variable when ctx is cancelled so
// that a blocked waiter can observe the context error. The returned stop
// function must be called when the wait is over.
func (q *TaskQueue) wakeOnCancel(ctx context.Context) func() {
	done := ctx.Done()
	if done == nil {
		return func() {}
	}
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-done:
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-stopCh:
		}
	}()
	return func() { close(stopCh) }
}
