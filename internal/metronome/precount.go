package metronome

import (
    "context"
    "errors"
    "sync"
    "time"
)

var ErrPrecountActive = errors.New("precount already running")

// Precount counts in N beats before playback. All click instants are
// committed up front, anchored to a single audio-clock read, so jitter in
// the loop that watches for completion cannot move them. The watcher loop
// (VisualTick) only reports progress and fires the completion callback.
type Precount struct {
    clock       Clock
    sink        ClickSink
    beatsPerBar int

    mu         sync.Mutex
    active     bool
    base       float64
    beatDur    float64
    beats      int
    ids        []uint64
    onComplete func()
}

func NewPrecount(clock Clock, sink ClickSink, beatsPerBar int) *Precount {
    if beatsPerBar < 1 {
        beatsPerBar = 1
    }
    return &Precount{clock: clock, sink: sink, beatsPerBar: beatsPerBar}
}

// Start schedules all n clicks at base+i*beatDur and arms the completion
// callback for base+n*beatDur. The first beat of each bar gets the accent,
// so an eight-beat count in 4/4 accents beats 0 and 4.
func (p *Precount) Start(n int, beatDur float64, onComplete func()) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.active {
        return ErrPrecountActive
    }
    if n < 1 || beatDur <= 0 {
        return errors.New("invalid precount parameters")
    }
    p.base = p.clock.Now()
    p.beatDur = beatDur
    p.beats = n
    p.onComplete = onComplete
    p.ids = p.ids[:0]
    for i := 0; i < n; i++ {
        p.ids = append(p.ids, p.sink.ScheduleClick(p.base+float64(i)*beatDur, i%p.beatsPerBar == 0))
    }
    p.active = true
    return nil
}

// Cancel silences every click not yet sounded and drops the completion
// callback. Safe at any point before completion; a no-op after.
func (p *Precount) Cancel() {
    p.mu.Lock()
    defer p.mu.Unlock()
    if !p.active {
        return
    }
    p.active = false
    p.onComplete = nil
    for _, id := range p.ids {
        p.sink.CancelClick(id)
    }
    p.ids = p.ids[:0]
}

// Active reports whether a count-in is underway.
func (p *Precount) Active() bool {
    p.mu.Lock()
    defer p.mu.Unlock()
    return p.active
}

// VisualTick reports progress in beats for dot-pulse feedback and, once the
// audio clock has actually reached the end of the count, fires onComplete
// exactly once. The return value is elapsed/beatDuration clamped to
// [0, beats]; done is true when the count has finished.
func (p *Precount) VisualTick() (progress float64, done bool) {
    p.mu.Lock()
    if !p.active {
        p.mu.Unlock()
        return 0, false
    }
    elapsed := p.clock.Now() - p.base
    progress = elapsed / p.beatDur
    if progress > float64(p.beats) {
        progress = float64(p.beats)
    }
    if elapsed < float64(p.beats)*p.beatDur {
        p.mu.Unlock()
        return progress, false
    }
    cb := p.onComplete
    p.active = false
    p.onComplete = nil
    p.ids = p.ids[:0]
    p.mu.Unlock()
    if cb != nil {
        cb()
    }
    return progress, true
}

// Run drives VisualTick on a best-effort ticker until ctx is done. The loop
// idles while no count-in is active, so a single Run started at connect time
// serves every pre-count the session later produces; completion or
// cancellation just returns it to idle.
func (p *Precount) Run(ctx context.Context, tick time.Duration) {
    t := time.NewTicker(tick)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            p.Cancel()
            return
        case <-t.C:
            p.VisualTick()
        }
    }
}
