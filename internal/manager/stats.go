package manager

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"taskfarm/engine/pkg/types"
)

// histogram bounds in milliseconds: 1ms to 1h, 3 significant figures.
const (
	histogramMin = 1
	histogramMax = int64(time.Hour / time.Millisecond)
)

// TaskStats accumulates queue-wait and run-time distributions of completed
// tasks.
type TaskStats struct {
	mu        sync.Mutex
	queueWait *hdrhistogram.Histogram
	runTime   *hdrhistogram.Histogram
	completed int64
	failed    int64
}

// NewTaskStats creates empty statistics.
func NewTaskStats() *TaskStats {
	return &TaskStats{
		queueWait: hdrhistogram.New(histogramMin, histogramMax, 3),
		runTime:   hdrhistogram.New(histogramMin, histogramMax, 3),
	}
}

// Record accounts one finished task. Queue wait is the time between request
// and checkout, run time between checkout and completion.
func (s *TaskStats) Record(task *types.Task, completed bool) {
	wait := task.StartTime.Sub(task.RequestTime).Milliseconds()
	run := task.EndTime.Sub(task.StartTime).Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	// RecordValue only fails for values outside the histogram range; those
	// are clamped instead of dropped.
	_ = s.queueWait.RecordValue(clamp(wait))
	_ = s.runTime.RecordValue(clamp(run))
	if completed {
		s.completed++
	} else {
		s.failed++
	}
}

// Snapshot returns a point-in-time view of the recorded distributions.
func (s *TaskStats) Snapshot() types.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.StatsSnapshot{
		CompletedTasks: s.completed,
		FailedTasks:    s.failed,
		QueueWait:      summarize(s.queueWait),
		RunTime:        summarize(s.runTime),
	}
}

func summarize(h *hdrhistogram.Histogram) types.LatencySummary {
	return types.LatencySummary{
		P50: h.ValueAtQuantile(50),
		P95: h.ValueAtQuantile(95),
		P99: h.ValueAtQuantile(99),
		Max: h.Max(),
	}
}

func clamp(v int64) int64 {
	if v < histogramMin {
		return histogramMin
	}
	if v > histogramMax {
		return histogramMax
	}
	return v
}
