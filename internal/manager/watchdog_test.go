package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadRecorder collects process ids reported dead by the watchdog.
type deadRecorder struct {
	mu   sync.Mutex
	dead []int
}

func (d *deadRecorder) report(pid int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = append(d.dead, pid)
}

func (d *deadRecorder) snapshot() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.dead...)
}

func TestWatchdogDeclaresSilentProcessDead(t *testing.T) {
	rec := &deadRecorder{}
	w := NewWatchdog(rec.report, nil)
	defer w.Terminate(true)

	w.RegisterProcess(1, 10*time.Millisecond)

	// Silence beyond 2x the period must be detected within a few cycles.
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, rec.snapshot(), 1)
}

func TestWatchdogPingKeepsProcessAlive(t *testing.T) {
	rec := &deadRecorder{}
	w := NewWatchdog(rec.report, nil)
	defer w.Terminate(true)

	w.RegisterProcess(1, 20*time.Millisecond)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				w.Ping(1)
			}
		}
	}()

	time.Sleep(150 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Empty(t, rec.snapshot(), "pinging process must not be declared dead")
}

func TestWatchdogUnregisterUnknownIsNoop(t *testing.T) {
	rec := &deadRecorder{}
	w := NewWatchdog(rec.report, nil)

	// Processes without a watchdog entry pass through here on unregister.
	w.UnregisterProcess(7)
	assert.Empty(t, rec.snapshot())
}

func TestWatchdogTerminateBlocking(t *testing.T) {
	rec := &deadRecorder{}
	w := NewWatchdog(rec.report, nil)
	w.RegisterProcess(1, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Terminate(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking Terminate did not join the loop")
	}
}

func TestWatchdogTerminateWithoutStart(t *testing.T) {
	w := NewWatchdog(func(int) {}, nil)
	// Loop never started; blocking terminate must return immediately.
	w.Terminate(true)
}
