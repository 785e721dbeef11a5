package agent

import (
    "sync"
    "time"

    "jamlink/sync/internal/protocol"
    "jamlink/sync/internal/session"
)

// EventKind names the subscription channels the agent exposes.
type EventKind string

const (
    KindCreated     EventKind = "created"
    KindJoined      EventKind = "joined"
    KindEnded       EventKind = "ended"
    KindRoster      EventKind = "roster"
    KindTrackLoaded EventKind = "trackLoaded"
    KindPlayback    EventKind = "playback"
    KindTempo       EventKind = "tempo"
    KindPitch       EventKind = "pitch"
    KindHeartbeat   EventKind = "heartbeat"
    KindHostStatus  EventKind = "hostStatus"
    KindRTT         EventKind = "rtt"
)

// Event is the union delivered to subscribers; only the fields relevant to
// Kind are set.
type Event struct {
    Kind EventKind
    Code string
    Err  string

    Reason     string
    Roster     []protocol.ParticipantInfo
    Track      *session.TrackDescriptor
    Playback   *protocol.PlaybackPayload
    Tempo      *protocol.TempoPayload
    Pitch      *protocol.PitchPayload
    Heartbeat  *protocol.SyncPayload
    HostStatus string
    RTT        time.Duration
}

type Handler func(Event)

// Bus is a typed observer registry: any number of independent listeners per
// event kind, none overwriting another.
type Bus struct {
    mu   sync.Mutex
    subs map[EventKind]map[int]Handler
    next int
}

func NewBus() *Bus {
    return &Bus{subs: make(map[EventKind]map[int]Handler)}
}

// Subscribe registers h for kind and returns an unsubscribe func.
func (b *Bus) Subscribe(kind EventKind, h Handler) func() {
    b.mu.Lock()
    id := b.next
    b.next++
    if b.subs[kind] == nil {
        b.subs[kind] = make(map[int]Handler)
    }
    b.subs[kind][id] = h
    b.mu.Unlock()
    return func() {
        b.mu.Lock()
        delete(b.subs[kind], id)
        b.mu.Unlock()
    }
}

// Publish delivers ev to every subscriber of its kind, synchronously and in
// unspecified order.
func (b *Bus) Publish(ev Event) {
    b.mu.Lock()
    handlers := make([]Handler, 0, len(b.subs[ev.Kind]))
    for _, h := range b.subs[ev.Kind] {
        handlers = append(handlers, h)
    }
    b.mu.Unlock()
    for _, h := range handlers {
        h(ev)
    }
}
