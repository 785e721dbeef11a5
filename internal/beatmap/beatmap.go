// Package beatmap indexes a track's beat timestamps for O(log n) position
// queries. A map is built once per track load and is read-only afterwards.
package beatmap

import (
    "errors"
    "fmt"
    "sort"
)

var ErrNotIncreasing = errors.New("beat times must be strictly increasing")

// Position is the result of a locate query. Valid is false when the queried
// time precedes the first beat.
type Position struct {
    BeatIndex int
    BeatInBar int
    BeatPhase float64
    Valid     bool
}

type BeatMap struct {
    beats       []float64
    beatsPerBar int
}

// New builds a beat map from strictly increasing beat timestamps (seconds).
func New(beatTimes []float64, beatsPerBar int) (*BeatMap, error) {
    if len(beatTimes) == 0 {
        return nil, errors.New("empty beat list")
    }
    if beatsPerBar < 1 {
        return nil, fmt.Errorf("invalid beats per bar %d", beatsPerBar)
    }
    for i := 1; i < len(beatTimes); i++ {
        if beatTimes[i] <= beatTimes[i-1] {
            return nil, ErrNotIncreasing
        }
    }
    beats := make([]float64, len(beatTimes))
    copy(beats, beatTimes)
    return &BeatMap{beats: beats, beatsPerBar: beatsPerBar}, nil
}

// NewExtrapolated builds a beat map left-extended to time 0 using the
// initial inter-beat interval, so the first real beat of a track that starts
// mid-bar is not skipped. Beats at negative times are not generated.
func NewExtrapolated(beatTimes []float64, beatsPerBar int) (*BeatMap, error) {
    bm, err := New(beatTimes, beatsPerBar)
    if err != nil {
        return nil, err
    }
    if len(bm.beats) < 2 || bm.beats[0] <= 0 {
        return bm, nil
    }
    interval := bm.beats[1] - bm.beats[0]
    var prefix []float64
    for t := bm.beats[0] - interval; t >= 0; t -= interval {
        prefix = append(prefix, t)
    }
    // prefix was generated newest-first; reverse into ascending order.
    sort.Float64s(prefix)
    bm.beats = append(prefix, bm.beats...)
    return bm, nil
}

func (b *BeatMap) Len() int { return len(b.beats) }

// BeatTime returns the timestamp of beat i.
func (b *BeatMap) BeatTime(i int) float64 { return b.beats[i] }

// Interval returns the duration of beat i, i.e. the gap to the next beat.
// For the last beat it repeats the preceding interval.
func (b *BeatMap) Interval(i int) float64 {
    if i < len(b.beats)-1 {
        return b.beats[i+1] - b.beats[i]
    }
    if len(b.beats) >= 2 {
        return b.beats[len(b.beats)-1] - b.beats[len(b.beats)-2]
    }
    return 0
}

// Locate finds the beat containing time t. Binary search for the greatest
// index i with beats[i] <= t.
func (b *BeatMap) Locate(t float64) Position {
    if t < b.beats[0] {
        return Position{Valid: false}
    }
    // First index with beats[i] > t, minus one.
    i := sort.SearchFloat64s(b.beats, t)
    if i == len(b.beats) || b.beats[i] > t {
        i--
    }
    pos := Position{BeatIndex: i, BeatInBar: i % b.beatsPerBar, Valid: true}
    if i < len(b.beats)-1 {
        phase := (t - b.beats[i]) / (b.beats[i+1] - b.beats[i])
        if phase < 0 {
            phase = 0
        } else if phase > 1 {
            phase = 1
        }
        pos.BeatPhase = phase
    }
    return pos
}

// LocateConstant is the analytic fallback when no beat map is available:
// constant bpm with time 0 as the first beat. Negative times are invalid.
func LocateConstant(bpm float64, beatsPerBar int, t float64) Position {
    if t < 0 || bpm <= 0 || beatsPerBar < 1 {
        return Position{Valid: false}
    }
    beatDur := 60.0 / bpm
    i := int(t / beatDur)
    phase := (t - float64(i)*beatDur) / beatDur
    if phase < 0 {
        phase = 0
    } else if phase > 1 {
        phase = 1
    }
    return Position{BeatIndex: i, BeatInBar: i % beatsPerBar, BeatPhase: phase, Valid: true}
}
