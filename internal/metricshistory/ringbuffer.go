// Package metricshistory implements the process-local metric history ring
// buffer shared by the prediction tools. Grounded on
// original_source/apps/backend-python/app/core/predictive_engine.py's
// dict-of-deque design, reshaped into a single synchronized component with
// Record/History so a future multi-process deployment can swap the
// implementation without touching the predictors (spec.md §9).
package metricshistory

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is the default ring size (spec.md §4.4: "last N samples,
// default N=20").
const DefaultCapacity = 20

// Sample is one recorded measurement for a pod.
type Sample struct {
	Timestamp     time.Time
	CPUMillis     float64
	MemoryMiB     float64
	RestartCount  int
}

// Store is the synchronized ring-buffer registry, keyed by
// (namespace, pod_name).
type Store struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string][]Sample
}

// New creates a Store with the given per-key ring capacity. capacity <= 0
// defaults to DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, buffers: make(map[string][]Sample)}
}

func key(namespace, pod string) string {
	return fmt.Sprintf("%s/%s", namespace, pod)
}

// Record appends a sample for (namespace, pod), evicting the oldest sample
// once the ring is at capacity.
func (s *Store) Record(namespace, pod string, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(namespace, pod)
	buf := append(s.buffers[k], sample)
	if len(buf) > s.capacity {
		buf = buf[len(buf)-s.capacity:]
	}
	s.buffers[k] = buf
}

// History returns a copy of the recorded samples for (namespace, pod),
// oldest first.
func (s *Store) History(namespace, pod string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.buffers[key(namespace, pod)]
	out := make([]Sample, len(buf))
	copy(out, buf)
	return out
}

// TrendSlope computes the fractional change in CPU usage between the
// earliest and latest sample in the window: (last-first)/first. Returns
// false if fewer than 2 samples are recorded or the first sample is zero.
func TrendSlope(history []Sample) (float64, bool) {
	if len(history) < 2 {
		return 0, false
	}
	first := history[0].CPUMillis
	last := history[len(history)-1].CPUMillis
	if first == 0 {
		return 0, false
	}
	return (last - first) / first, true
}

// RestartsIncreasing reports the original implementation's
// increasing-restarts heuristic: among the last 3 samples, the most recent
// restart count exceeds the earliest of the three (SPEC_FULL.md §4.4
// expansion, resolving the undocumented threshold from
// original_source/predictive_engine.py).
func RestartsIncreasing(history []Sample) bool {
	if len(history) < 3 {
		return false
	}
	window := history[len(history)-3:]
	return window[2].RestartCount > window[0].RestartCount
}
