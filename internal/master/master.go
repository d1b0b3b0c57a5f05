package master

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskfarm/engine/pkg/types"
)

// shutdownPollInterval is how often Shutdown re-checks the active process
// count while waiting for workers to drain.
const shutdownPollInterval = 100 * time.Millisecond

// Master is the submitting side of a task farm. It registers itself as a
// process without watchdog supervision, submits task requests and collects
// results, and on shutdown waits for all workers to deregister.
type Master struct {
	service types.TaskService
	log     *zap.Logger
	pid     int
}

// New registers a master process with the service.
func New(ctx context.Context, service types.TaskService, log *zap.Logger) (*Master, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pid, err := service.RegisterProcess(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("register master: %w", err)
	}
	log.Info("master registered", zap.Int("process_id", pid))
	return &Master{service: service, log: log, pid: pid}, nil
}

// ProcessID returns the master's process id.
func (m *Master) ProcessID() int {
	return m.pid
}

// RequestTask submits a task and returns its id without waiting for
// execution. The order of task executions is not defined.
func (m *Master) RequestTask(ctx context.Context, tag string, parameters any) (string, error) {
	return m.service.AddTaskRequest(ctx, tag, parameters, m.pid)
}

// RetrieveResult blocks until a result from any task is available. A failed
// task surfaces as a *types.TaskFailed error.
func (m *Master) RetrieveResult(ctx context.Context) (*types.TaskResult, error) {
	return m.service.GetAnyResult(ctx)
}

// RetrieveResultWithTag is RetrieveResult restricted to one tag.
func (m *Master) RetrieveResultWithTag(ctx context.Context, tag string) (*types.TaskResult, error) {
	return m.service.GetResultWithTag(ctx, tag)
}

// Shutdown terminates the task manager and waits until every worker has
// deregistered, so no worker is left talking to a vanished coordinator. The
// master's own registration is released last.
func (m *Master) Shutdown(ctx context.Context) error {
	if err := m.service.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate: %w", err)
	}

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		n, err := m.service.NumberOfActiveProcesses(ctx)
		if err != nil {
			return fmt.Errorf("poll active processes: %w", err)
		}
		if n <= 1 {
			break
		}
		m.log.Debug("waiting for workers to drain", zap.Int("active", n))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := m.service.UnregisterProcess(ctx, m.pid); err != nil {
		return fmt.Errorf("unregister master: %w", err)
	}
	m.log.Info("master shut down")
	return nil
}
