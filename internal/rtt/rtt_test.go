package rtt

import (
    "testing"
    "time"
)

func TestEstimateIsMeanOfWindow(t *testing.T) {
    e := NewEstimator()
    if e.Estimate() != 0 {
        t.Fatalf("empty estimator should report 0")
    }

    e.Add(10 * time.Millisecond)
    e.Add(20 * time.Millisecond)
    e.Add(30 * time.Millisecond)
    if got := e.Estimate(); got != 20*time.Millisecond {
        t.Fatalf("expected mean 20ms of 3 samples, got %v", got)
    }
}

func TestSixthSampleEvictsOldest(t *testing.T) {
    e := NewEstimator()
    for _, d := range []time.Duration{10, 20, 30, 40, 50} {
        e.Add(d * time.Millisecond)
    }
    if got := e.Estimate(); got != 30*time.Millisecond {
        t.Fatalf("expected mean 30ms of full window, got %v", got)
    }

    // Sixth sample displaces the 10ms one: mean of 20..60.
    e.Add(60 * time.Millisecond)
    if e.Len() != WindowSize {
        t.Fatalf("window should stay at %d samples, got %d", WindowSize, e.Len())
    }
    if got := e.Estimate(); got != 40*time.Millisecond {
        t.Fatalf("expected mean 40ms after eviction, got %v", got)
    }
}

func TestResetClearsWindow(t *testing.T) {
    e := NewEstimator()
    e.Add(time.Second)
    e.Reset()
    if e.Len() != 0 || e.Estimate() != 0 {
        t.Fatalf("expected empty estimator after reset")
    }
}
