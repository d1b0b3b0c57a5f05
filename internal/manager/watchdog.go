package manager

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultMaxSleep caps the watchdog cycle interval when no monitored process
// has a tighter ping period.
const defaultMaxSleep = 60 * time.Second

// Watchdog declares a monitored process dead once it has been silent for more
// than twice its configured ping period, and forces its cleanup through the
// same unregistration path a cooperating process would use. Its state is
// guarded by its own lock, independent of the task queues; the watchdog never
// holds a queue lock while sleeping.
type Watchdog struct {
	unregister func(processID int)
	log        *zap.Logger

	mu       sync.Mutex
	periods  map[int]time.Duration
	lastPing map[int]time.Time
	started  bool

	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// NewWatchdog creates a watchdog that reports dead processes through
// unregister. The background loop starts lazily on first registration.
func NewWatchdog(unregister func(processID int), log *zap.Logger) *Watchdog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watchdog{
		unregister: unregister,
		log:        log,
		periods:    make(map[int]time.Duration),
		lastPing:   make(map[int]time.Time),
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
}

// RegisterProcess puts the process under supervision with the given ping
// period and starts the background loop if it is not running yet.
func (w *Watchdog) RegisterProcess(processID int, period time.Duration) {
	w.mu.Lock()
	w.periods[processID] = period
	w.lastPing[processID] = time.Now()
	start := !w.started
	w.started = true
	w.mu.Unlock()

	if start {
		go w.loop()
	}
}

// UnregisterProcess drops the process from supervision. Unregistering a
// process with no watchdog entry is a no-op, not an error: processes without
// a configured period pass through here too.
func (w *Watchdog) UnregisterProcess(processID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.periods, processID)
	delete(w.lastPing, processID)
}

// Ping refreshes the last-seen timestamp for the process.
func (w *Watchdog) Ping(processID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.periods[processID]; ok {
		w.lastPing[processID] = time.Now()
	}
}

// Terminate stops the loop after its current cycle. With blocking set it
// waits for the loop to exit; a watchdog whose loop never started returns
// immediately.
func (w *Watchdog) Terminate(blocking bool) {
	w.stopOnce.Do(func() { close(w.done) })
	if !blocking {
		return
	}
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.finished
	}
}

// loop runs one detection cycle, then sleeps for the minimum configured
// period across all monitored processes (capped at defaultMaxSleep). An empty
// process set still wakes on schedule and finds nothing to do.
func (w *Watchdog) loop() {
	defer close(w.finished)
	for {
		now := time.Now()
		var dead []int
		delay := defaultMaxSleep

		w.mu.Lock()
		for pid, period := range w.periods {
			if period < delay {
				delay = period
			}
			if now.Sub(w.lastPing[pid]) > 2*period {
				dead = append(dead, pid)
			}
		}
		w.mu.Unlock()

		for _, pid := range dead {
			w.log.Warn("process missed heartbeats, declaring dead",
				zap.Int("process_id", pid))
			w.unregister(pid)
		}

		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}
	}
}
