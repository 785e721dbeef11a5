// Package playback defines the contract with the local audio mixing engine.
// The engine itself (decoding, stretching, stem mixing) lives outside this
// module; the sync core only drives transport, tempo and pitch and reads the
// current position.
package playback

import (
    "log"
    "sync"
    "time"
)

// Engine is the local playback surface a SyncAgent drives. Implementations
// must be safe for concurrent use. Engine errors are local to the client and
// never propagate to other session participants.
type Engine interface {
    Play()
    Pause()
    Stop()
    SeekTo(position float64)
    CurrentTime() float64
    SetTempo(ratio float64)
    SetPitch(semitones float64)
}

// LogEngine is an Engine that tracks transport position in wall time and
// logs every call. Serves the reference client and tests.
type LogEngine struct {
    mu        sync.Mutex
    position  float64
    playing   bool
    tempo     float64
    pitch     float64
    startedAt time.Time
}

func NewLogEngine() *LogEngine {
    return &LogEngine{tempo: 1.0}
}

func (e *LogEngine) Play() {
    e.mu.Lock()
    if !e.playing {
        e.playing = true
        e.startedAt = time.Now()
    }
    e.mu.Unlock()
    log.Printf("[engine] play")
}

func (e *LogEngine) Pause() {
    e.mu.Lock()
    e.position = e.currentLocked()
    e.playing = false
    e.mu.Unlock()
    log.Printf("[engine] pause")
}

func (e *LogEngine) Stop() {
    e.mu.Lock()
    e.position = 0
    e.playing = false
    e.mu.Unlock()
    log.Printf("[engine] stop")
}

func (e *LogEngine) SeekTo(position float64) {
    e.mu.Lock()
    e.position = position
    if e.playing {
        e.startedAt = time.Now()
    }
    e.mu.Unlock()
    log.Printf("[engine] seek position=%.2f", position)
}

func (e *LogEngine) CurrentTime() float64 {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.currentLocked()
}

func (e *LogEngine) SetTempo(ratio float64) {
    e.mu.Lock()
    e.position = e.currentLocked()
    if e.playing {
        e.startedAt = time.Now()
    }
    e.tempo = ratio
    e.mu.Unlock()
    log.Printf("[engine] tempo ratio=%.3f", ratio)
}

func (e *LogEngine) SetPitch(semitones float64) {
    e.mu.Lock()
    e.pitch = semitones
    e.mu.Unlock()
    log.Printf("[engine] pitch semitones=%.1f", semitones)
}

func (e *LogEngine) Playing() bool {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.playing
}

func (e *LogEngine) currentLocked() float64 {
    if !e.playing {
        return e.position
    }
    return e.position + time.Since(e.startedAt).Seconds()*e.tempo
}
