package master

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfarm/engine/internal/manager"
	"taskfarm/engine/internal/worker"
	"taskfarm/engine/pkg/types"
)

func TestMasterSubmitAndRetrieve(t *testing.T) {
	svc := manager.NewTaskManager(nil)
	ctx := context.Background()

	m, err := New(ctx, svc, nil)
	require.NoError(t, err)

	w := worker.NewWorker(svc, worker.WithWatchdogPeriod(0))
	w.Handle("double", func(ctx context.Context, params any) (any, error) {
		return params.(int) * 2, nil
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, w.Run(context.Background()))
	}()

	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		id, err := m.RequestTask(ctx, "double", i)
		require.NoError(t, err)
		ids[id] = false
	}

	sum := 0
	for i := 0; i < 5; i++ {
		res, err := m.RetrieveResultWithTag(ctx, "double")
		require.NoError(t, err)
		seen, known := ids[res.TaskID]
		require.True(t, known)
		require.False(t, seen)
		ids[res.TaskID] = true
		sum += res.Result.(int)
	}
	assert.Equal(t, 2*(0+1+2+3+4), sum)

	require.NoError(t, m.Shutdown(ctx))
	wg.Wait()
}

func TestMasterShutdownWaitsForWorkers(t *testing.T) {
	svc := manager.NewTaskManager(nil)
	ctx := context.Background()

	m, err := New(ctx, svc, nil)
	require.NoError(t, err)

	// A worker that lingers briefly after termination before unregistering.
	pid, err := svc.RegisterProcess(ctx, 0)
	require.NoError(t, err)
	go func() {
		_, err := svc.GetAnyTask(context.Background(), pid)
		assert.ErrorIs(t, err, types.ErrTerminated)
		time.Sleep(150 * time.Millisecond)
		assert.NoError(t, svc.UnregisterProcess(context.Background(), pid))
	}()

	start := time.Now()
	require.NoError(t, m.Shutdown(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"Shutdown must wait for the worker to deregister")

	n, err := svc.NumberOfActiveProcesses(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMasterShutdownHonorsContext(t *testing.T) {
	svc := manager.NewTaskManager(nil)
	ctx := context.Background()

	m, err := New(ctx, svc, nil)
	require.NoError(t, err)

	// A worker that never deregisters.
	_, err = svc.RegisterProcess(ctx, 0)
	require.NoError(t, err)

	timeoutCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err = m.Shutdown(timeoutCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMasterFailedTaskSurfaces(t *testing.T) {
	svc := manager.NewTaskManager(nil)
	ctx := context.Background()

	m, err := New(ctx, svc, nil)
	require.NoError(t, err)

	w := worker.NewWorker(svc, worker.WithWatchdogPeriod(0))
	w.Handle("fail", func(ctx context.Context, params any) (any, error) {
		panic("invalid input")
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, w.Run(context.Background()))
	}()

	id, err := m.RequestTask(ctx, "fail", nil)
	require.NoError(t, err)

	_, err = m.RetrieveResult(ctx)
	var failed *types.TaskFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, id, failed.TaskID)

	require.NoError(t, m.Shutdown(ctx))
	wg.Wait()
}
