package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfarm/engine/pkg/types"
)

func newTask(id, tag string) *types.Task {
	return &types.Task{ID: id, Tag: tag}
}

func TestTaskQueueAddAndFirst(t *testing.T) {
	q := NewTaskQueue()
	ctx := context.Background()

	q.Add(newTask("a_0", "a"), false)
	q.Add(newTask("a_1", "a"), false)
	assert.Equal(t, 2, q.Len())

	task, err := q.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a_0", task.ID)

	task, err = q.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a_1", task.ID)
	assert.Equal(t, 0, q.Len())
}

func TestTaskQueueAddToFront(t *testing.T) {
	q := NewTaskQueue()
	ctx := context.Background()

	q.Add(newTask("a_0", "a"), false)
	q.Add(newTask("b_1", "b"), false)
	q.Add(newTask("a_2", "a"), true)

	// Front insertion wins over older tasks, for both plain and tag-scoped
	// retrieval.
	task, err := q.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a_2", task.ID)

	task, err = q.FirstWithTag(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a_0", task.ID)
}

func TestTaskQueueFirstWithTag(t *testing.T) {
	q := NewTaskQueue()
	ctx := context.Background()

	q.Add(newTask("a_0", "a"), false)
	q.Add(newTask("b_1", "b"), false)
	q.Add(newTask("a_2", "a"), false)

	task, err := q.FirstWithTag(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b_1", task.ID)

	// FIFO within the tag subsequence.
	task, err = q.FirstWithTag(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a_0", task.ID)
	assert.Equal(t, 1, q.Len())
}

func TestTaskQueueFirstBlocksUntilAdd(t *testing.T) {
	q := NewTaskQueue()
	ctx := context.Background()

	got := make(chan *types.Task, 1)
	go func() {
		task, err := q.First(ctx)
		if err == nil {
			got <- task
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Add(newTask("a_0", "a"), false)

	select {
	case task := <-got:
		assert.Equal(t, "a_0", task.ID)
	case <-time.After(time.Second):
		t.Fatal("First did not unblock after Add")
	}
}

func TestTaskQueueByIDWaitsForLateTask(t *testing.T) {
	q := NewTaskQueue()
	ctx := context.Background()

	got := make(chan *types.Task, 1)
	go func() {
		task, err := q.ByID(ctx, "a_1")
		if err == nil {
			got <- task
		}
	}()

	q.Add(newTask("a_0", "a"), false)
	time.Sleep(20 * time.Millisecond)
	q.Add(newTask("a_1", "a"), false)

	select {
	case task := <-got:
		assert.Equal(t, "a_1", task.ID)
	case <-time.After(time.Second):
		t.Fatal("ByID did not unblock once the id appeared")
	}
	assert.Equal(t, 1, q.Len())
}

func TestTaskQueueTerminateUnblocksWaiters(t *testing.T) {
	q := NewTaskQueue()
	ctx := context.Background()

	errs := make(chan error, 3)
	go func() { _, err := q.First(ctx); errs <- err }()
	go func() { _, err := q.FirstWithTag(ctx, "a"); errs <- err }()
	go func() { _, err := q.ByID(ctx, "missing"); errs <- err }()

	time.Sleep(20 * time.Millisecond)
	q.Terminate()

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, types.ErrTerminated)
		case <-time.After(time.Second):
			t.Fatal("blocked waiter was not released by Terminate")
		}
	}

	// Terminated permanently: subsequent calls fail immediately, even with
	// tasks present.
	q.Add(newTask("a_0", "a"), false)
	_, err := q.First(ctx)
	assert.ErrorIs(t, err, types.ErrTerminated)
}

func TestTaskQueueContextCancellation(t *testing.T) {
	q := NewTaskQueue()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { _, err := q.First(ctx); errCh <- err }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("blocked waiter was not released by context cancellation")
	}
}

func TestTaskQueueIndexConsistency(t *testing.T) {
	q := NewTaskQueue()
	ctx := context.Background()

	q.Add(newTask("a_0", "a"), false)
	q.Add(newTask("a_1", "a"), false)

	task, err := q.ByID(ctx, "a_0")
	require.NoError(t, err)
	require.Equal(t, "a_0", task.ID)

	// The removed task must be gone from the tag index too.
	task, err = q.FirstWithTag(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a_1", task.ID)
	assert.Equal(t, 0, q.Len())
}
