package metronome

import (
    "log"
    "sync"
    "time"
)

// Clock is the monotonic audio clock, in seconds. Implementations wrap
// whatever time base the local audio engine renders against; click timing
// must come from here, never from a display-rate loop.
type Clock interface {
    Now() float64
}

// SystemClock is a monotonic clock anchored at construction. Stands in for a
// hardware audio clock when none is wired up (demo binary, tests).
type SystemClock struct {
    start time.Time
}

func NewSystemClock() *SystemClock {
    return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() float64 {
    return time.Since(c.start).Seconds()
}

// ClickSink receives click events scheduled at precise audio-clock times.
// ScheduleClick returns a handle; CancelClick silences a click that has not
// yet sounded and is a no-op for one that has.
type ClickSink interface {
    ScheduleClick(at float64, accent bool) uint64
    CancelClick(id uint64)
}

// LogSink is a ClickSink that fires timers against a Clock and logs each
// click as it sounds. Used by the reference client in place of a real audio
// output.
type LogSink struct {
    clock Clock

    mu     sync.Mutex
    nextID uint64
    timers map[uint64]*time.Timer
}

func NewLogSink(clock Clock) *LogSink {
    return &LogSink{clock: clock, timers: make(map[uint64]*time.Timer)}
}

func (s *LogSink) ScheduleClick(at float64, accent bool) uint64 {
    s.mu.Lock()
    s.nextID++
    id := s.nextID
    delay := time.Duration((at - s.clock.Now()) * float64(time.Second))
    if delay < 0 {
        delay = 0
    }
    s.timers[id] = time.AfterFunc(delay, func() {
        s.mu.Lock()
        delete(s.timers, id)
        s.mu.Unlock()
        mark := "click"
        if accent {
            mark = "CLICK"
        }
        log.Printf("[metronome] %s at=%.3f", mark, at)
    })
    s.mu.Unlock()
    return id
}

func (s *LogSink) CancelClick(id uint64) {
    s.mu.Lock()
    if t, ok := s.timers[id]; ok {
        t.Stop()
        delete(s.timers, id)
    }
    s.mu.Unlock()
}
