// Package metronome schedules metronome clicks against a monotonic audio
// clock. Scheduling look-ahead keeps clicks sample-accurate even though the
// loop driving Tick runs at display rate; the visual loop only decorates.
package metronome

import (
    "context"
    "sync"
    "time"

    "jamlink/sync/internal/beatmap"
)

// DefaultLookahead is how far ahead of the audio clock clicks are committed.
const DefaultLookahead = 0.1

// maxIntervalSamples caps how many leading beat-map intervals feed the
// pre-count beat duration estimate.
const maxIntervalSamples = 4

// Scheduler emits one click per beat while running. Beats come from a beat
// map when one is loaded, otherwise from a constant bpm grid with song time
// 0 as the first beat.
type Scheduler struct {
    clock Clock
    sink  ClickSink

    mu          sync.Mutex
    running     bool
    bpm         float64
    beatsPerBar int
    bm          *beatmap.BeatMap
    lookahead   float64

    // song-position-to-audio-clock mapping for the current run
    songAtStart  float64
    audioAtStart float64

    nextBeat  int
    scheduled map[int]uint64 // beat index -> pending click handle
}

func NewScheduler(clock Clock, sink ClickSink, bpm float64, beatsPerBar int) *Scheduler {
    return &Scheduler{
        clock:       clock,
        sink:        sink,
        bpm:         bpm,
        beatsPerBar: beatsPerBar,
        lookahead:   DefaultLookahead,
        scheduled:   make(map[int]uint64),
    }
}

// SetLookahead overrides the look-ahead window (seconds).
func (s *Scheduler) SetLookahead(sec float64) {
    s.mu.Lock()
    s.lookahead = sec
    s.mu.Unlock()
}

// SetBeatMap installs the beat index for the loaded track. Only takes effect
// for the next run.
func (s *Scheduler) SetBeatMap(bm *beatmap.BeatMap) {
    s.mu.Lock()
    s.bm = bm
    s.mu.Unlock()
}

// SetBPM updates the constant-bpm fallback grid. Only affects beats not yet
// scheduled.
func (s *Scheduler) SetBPM(bpm float64) {
    s.mu.Lock()
    s.bpm = bpm
    s.mu.Unlock()
}

// Start anchors the song position to the current audio-clock reading and
// begins scheduling from the first beat at or after songPos.
func (s *Scheduler) Start(songPos float64) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.songAtStart = songPos
    s.audioAtStart = s.clock.Now()
    s.nextBeat = s.firstBeatAtOrAfter(songPos)
    s.scheduled = make(map[int]uint64)
    s.running = true
}

// Stop halts scheduling and silences every click committed but not yet
// sounded for this run.
func (s *Scheduler) Stop() {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.running {
        return
    }
    s.running = false
    for _, id := range s.scheduled {
        s.sink.CancelClick(id)
    }
    s.scheduled = make(map[int]uint64)
}

// Running reports whether a run is active.
func (s *Scheduler) Running() bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.running
}

// Tick commits every beat whose audio time falls inside the look-ahead
// window and is not yet scheduled. Call it from the visual loop; the click
// times themselves never depend on when Tick happens to run.
func (s *Scheduler) Tick() {
    s.mu.Lock()
    defer s.mu.Unlock()
    if !s.running {
        return
    }
    horizon := s.clock.Now() + s.lookahead
    for {
        songTime, ok := s.beatSongTime(s.nextBeat)
        if !ok {
            return
        }
        at := s.audioAtStart + (songTime - s.songAtStart)
        if at > horizon {
            return
        }
        if _, dup := s.scheduled[s.nextBeat]; !dup {
            accent := s.nextBeat%s.beatsPerBar == 0
            s.scheduled[s.nextBeat] = s.sink.ScheduleClick(at, accent)
        }
        s.nextBeat++
    }
}

// Run drives Tick until the context is cancelled, then stops the run.
func (s *Scheduler) Run(ctx context.Context, tick time.Duration) {
    t := time.NewTicker(tick)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            s.Stop()
            return
        case <-t.C:
            s.Tick()
        }
    }
}

// Locate reports the musical position for a song time, for visual feedback.
func (s *Scheduler) Locate(songTime float64) beatmap.Position {
    s.mu.Lock()
    bm, bpm, perBar := s.bm, s.bpm, s.beatsPerBar
    s.mu.Unlock()
    if bm != nil {
        return bm.Locate(songTime)
    }
    return beatmap.LocateConstant(bpm, perBar, songTime)
}

// beatSongTime returns the song time of beat i, or ok=false past the end of
// the beat map. The constant grid has no end.
func (s *Scheduler) beatSongTime(i int) (float64, bool) {
    if s.bm != nil {
        if i >= s.bm.Len() {
            return 0, false
        }
        return s.bm.BeatTime(i), true
    }
    return float64(i) * 60.0 / s.bpm, true
}

func (s *Scheduler) firstBeatAtOrAfter(songPos float64) int {
    if s.bm == nil {
        beatDur := 60.0 / s.bpm
        i := int(songPos / beatDur)
        if float64(i)*beatDur < songPos {
            i++
        }
        return i
    }
    for i := 0; i < s.bm.Len(); i++ {
        if s.bm.BeatTime(i) >= songPos {
            return i
        }
    }
    return s.bm.Len()
}

// CountInBeatDuration reports the beat length a count-in should use with the
// scheduler's current beat map and bpm.
func (s *Scheduler) CountInBeatDuration() float64 {
    s.mu.Lock()
    defer s.mu.Unlock()
    return BeatDuration(s.bm, s.bpm)
}

// BeatDuration derives the count-in beat length: the mean of the map's first
// intervals when a map is loaded, else the constant-bpm beat.
func BeatDuration(bm *beatmap.BeatMap, bpm float64) float64 {
    if bm != nil && bm.Len() >= 2 {
        n := bm.Len() - 1
        if n > maxIntervalSamples {
            n = maxIntervalSamples
        }
        var sum float64
        for i := 0; i < n; i++ {
            sum += bm.Interval(i)
        }
        return sum / float64(n)
    }
    return 60.0 / bpm
}
