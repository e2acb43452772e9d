// Package latency measures round-trip time to remote parties.
package latency

import (
	"sync"
	"time"
)

// WindowSize is the number of RTT samples kept per party.
const WindowSize = 5

// Window is a fixed-capacity ring of RTT samples. When full, the oldest
// sample is evicted.
type Window struct {
	mu      sync.RWMutex
	samples [WindowSize]time.Duration
	next    int
	count   int
}

// Push records a sample and returns the new mean.
func (w *Window) Push(rtt time.Duration) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = rtt
	w.next = (w.next + 1) % WindowSize
	if w.count < WindowSize {
		w.count++
	}
	return w.meanLocked()
}

// Mean returns the arithmetic mean of the held samples, or 0 when empty.
func (w *Window) Mean() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.meanLocked()
}

// Len returns the number of held samples.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

func (w *Window) meanLocked() time.Duration {
	if w.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < w.count; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(w.count)
}

// Millis converts a duration to fractional milliseconds, the unit ping
// values travel in.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
