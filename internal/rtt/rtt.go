// Package rtt estimates per-connection round-trip time from ping/pong
// samples. The estimate is advisory; playback sync relies on explicit
// timestamps and heartbeats, not on RTT compensation.
package rtt

import (
    "sync"
    "time"
)

// WindowSize is the number of most recent samples the moving average covers.
const WindowSize = 5

// Estimator keeps a fixed ring of the most recent round-trip samples. When
// full, Add overwrites the oldest. Safe for concurrent use.
type Estimator struct {
    mu    sync.Mutex
    buf   [WindowSize]time.Duration
    head  int
    count int
}

func NewEstimator() *Estimator { return &Estimator{} }

// Add pushes a sample, evicting the oldest when the window is full.
func (e *Estimator) Add(sample time.Duration) {
    e.mu.Lock()
    idx := (e.head + e.count) % WindowSize
    e.buf[idx] = sample
    if e.count == WindowSize {
        e.head = (e.head + 1) % WindowSize
    } else {
        e.count++
    }
    e.mu.Unlock()
}

// Estimate returns the arithmetic mean of the stored samples, or zero when
// no sample has been recorded yet.
func (e *Estimator) Estimate() time.Duration {
    e.mu.Lock()
    defer e.mu.Unlock()
    if e.count == 0 {
        return 0
    }
    var sum time.Duration
    for i := 0; i < e.count; i++ {
        sum += e.buf[(e.head+i)%WindowSize]
    }
    return sum / time.Duration(e.count)
}

// Len returns the number of samples currently held.
func (e *Estimator) Len() int {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.count
}

// Reset clears the window. Called when a connection re-joins.
func (e *Estimator) Reset() {
    e.mu.Lock()
    e.head = 0
    e.count = 0
    e.mu.Unlock()
}
