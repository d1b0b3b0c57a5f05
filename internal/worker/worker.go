package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"taskfarm/engine/pkg/types"
)

// Handler executes one computational task. The returned value becomes the
// task result; a returned error (or a panic) is reported to the coordinator
// as a task failure.
type Handler func(ctx context.Context, params any) (any, error)

// Worker pulls tasks from a task service, dispatches them to registered
// handlers by tag and reports results back. It speaks only the
// types.TaskService interface, so the service can be the in-process manager
// or a remote client.
type Worker struct {
	service  types.TaskService
	handlers map[string]Handler
	period   time.Duration
	log      *zap.Logger

	// Wait before retrying after returning a task with no matching handler.
	// The returned task goes to the front of the queue and would otherwise be
	// handed straight back.
	unknownTagBackoff time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithWatchdogPeriod sets the ping interval the worker registers with. Zero
// disables watchdog supervision.
func WithWatchdogPeriod(d time.Duration) Option {
	return func(w *Worker) { w.period = d }
}

// WithLogger sets the worker logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// NewWorker creates a worker bound to the given service. Handlers are
// registered with Handle before Run is called.
func NewWorker(service types.TaskService, opts ...Option) *Worker {
	w := &Worker{
		service:           service,
		handlers:          make(map[string]Handler),
		period:            time.Minute,
		log:               zap.NewNop(),
		unknownTagBackoff: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers the handler for a tag, replacing any previous one.
func (w *Worker) Handle(tag string, h Handler) {
	w.handlers[tag] = h
}

// Run registers the worker with the coordinator and processes tasks until the
// coordinator terminates or ctx is cancelled. It always unregisters on the
// way out so held tasks are requeued promptly instead of waiting for the
// watchdog.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return fmt.Errorf("worker has no handlers registered")
	}

	pid, err := w.service.RegisterProcess(ctx, w.period)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	w.log.Info("worker registered", zap.Int("process_id", pid))
	defer func() {
		if err := w.service.UnregisterProcess(context.Background(), pid); err != nil {
			w.log.Warn("unregister worker", zap.Error(err))
		}
	}()

	if w.period > 0 {
		pingCtx, stopPing := context.WithCancel(ctx)
		defer stopPing()
		go w.pingLoop(pingCtx, pid)
	}

	for {
		assignment, err := w.service.GetAnyTask(ctx, pid)
		if err != nil {
			if errors.Is(err, types.ErrTerminated) {
				w.log.Info("coordinator terminated, worker exiting")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("get task: %w", err)
		}

		handler, ok := w.handlers[assignment.Tag]
		if !ok {
			w.log.Warn("no handler for tag, returning task",
				zap.String("task_id", assignment.TaskID),
				zap.String("tag", assignment.Tag))
			if err := w.service.ReturnTask(ctx, assignment.TaskID); err != nil {
				return fmt.Errorf("return task %s: %w", assignment.TaskID, err)
			}
			// The task was requeued at the front; back off so another worker
			// gets a chance to pick it up.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.unknownTagBackoff):
			}
			continue
		}

		w.execute(ctx, assignment, handler)
	}
}

// execute runs one handler and reports the outcome. A panicking handler is
// converted into a stored exception with the panic value and stack trace.
func (w *Worker) execute(ctx context.Context, assignment *types.TaskAssignment, handler Handler) {
	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &panicError{value: r, stack: debug.Stack()}
			}
		}()
		return handler(ctx, assignment.Parameters)
	}()

	if err != nil {
		traceback := ""
		var pe *panicError
		if errors.As(err, &pe) {
			traceback = string(pe.stack)
		}
		w.log.Debug("task failed",
			zap.String("task_id", assignment.TaskID),
			zap.Error(err))
		if serr := w.service.StoreException(ctx, assignment.TaskID, err.Error(), traceback); serr != nil {
			w.log.Warn("store exception", zap.String("task_id", assignment.TaskID), zap.Error(serr))
		}
		return
	}

	w.log.Debug("task completed", zap.String("task_id", assignment.TaskID))
	if serr := w.service.StoreResult(ctx, assignment.TaskID, result); serr != nil {
		w.log.Warn("store result", zap.String("task_id", assignment.TaskID), zap.Error(serr))
	}
}

// pingLoop keeps the watchdog fed until ctx is cancelled.
func (w *Worker) pingLoop(ctx context.Context, pid int) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.service.Ping(ctx, pid); err != nil {
				w.log.Warn("ping failed", zap.Error(err))
			}
		}
	}
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.value)
}
