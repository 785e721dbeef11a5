package protocol

import (
    "encoding/json"
    "fmt"
    "time"
)

// Event names on the wire. The channel is a single event-typed duplex
// websocket; there is no request/response pairing beyond the create/created
// and join/joined acks.
const (
    EventCreate       = "create"
    EventCreated      = "created"
    EventJoin         = "join"
    EventJoined       = "joined"
    EventParticipants = "participants"
    EventEnd          = "end"
    EventEnded        = "ended"
    EventLeave        = "leave"
    EventTrackLoad    = "trackLoad"
    EventPlayback     = "playback"
    EventTempo        = "tempo"
    EventPitch        = "pitch"
    EventSync         = "sync"
    EventPing         = "ping"
    EventPong         = "pong"
    EventHostStatus   = "hostStatus"
    // EventError acknowledges a rejected client request (e.g. an
    // unauthorized relay) without crashing the session for anyone else.
    EventError = "error"
)

// Playback commands carried by EventPlayback.
const (
    CommandPlay  = "play"
    CommandPause = "pause"
    CommandStop  = "stop"
    CommandSeek  = "seek"
)

// Session end reasons.
const (
    ReasonHostEnded = "HostEnded"
    ReasonHostLeft  = "HostLeft"
)

// Host status values surfaced to guests.
const (
    HostStatusConnected = "connected"
    HostStatusDesynced  = "possiblyDesynced"
)

// Message is the wire envelope. Payload stays raw until the receiver knows
// the event type.
type Message struct {
    Type    string          `json:"type"`
    TsMs    int64           `json:"tsMs"`
    Code    string          `json:"code,omitempty"`
    Payload json.RawMessage `json:"payload,omitempty"`
}

type ParticipantInfo struct {
    ConnectionID string `json:"connectionId"`
    Name         string `json:"name"`
    Role         string `json:"role"`
}

type CreatedPayload struct {
    Code  string `json:"code,omitempty"`
    Error string `json:"error,omitempty"`
}

type JoinPayload struct {
    Code      string `json:"code"`
    GuestName string `json:"guestName"`
}

type JoinedPayload struct {
    Code  string `json:"code,omitempty"`
    Role  string `json:"role,omitempty"`
    Error string `json:"error,omitempty"`
}

type ParticipantsPayload struct {
    Participants []ParticipantInfo `json:"participants"`
}

type EndedPayload struct {
    Reason string `json:"reason,omitempty"`
    Error  string `json:"error,omitempty"`
}

type ErrorPayload struct {
    Request string `json:"request"`
    Error   string `json:"error"`
}

type TrackMetadata struct {
    Title    string            `json:"title,omitempty"`
    StemURLs map[string]string `json:"stemUrls,omitempty"`
    // BeatTimes are detected beat timestamps in track seconds, when the
    // track analysis produced them. Guests feed them to their metronome.
    BeatTimes []float64 `json:"beatTimes,omitempty"`
}

type TrackLoadPayload struct {
    TrackID       string        `json:"trackId"`
    TrackMetadata TrackMetadata `json:"trackMetadata"`
}

type PlaybackPayload struct {
    Command       string  `json:"command"`
    Position      float64 `json:"position"`
    Timestamp     int64   `json:"timestamp"`
    PrecountBeats int     `json:"precountBeats,omitempty"`
}

type TempoPayload struct {
    BPM         float64 `json:"bpm"`
    OriginalBPM float64 `json:"originalBpm"`
    SyncRatio   float64 `json:"syncRatio"`
}

type PitchPayload struct {
    PitchShift float64 `json:"pitchShift"`
    CurrentKey string  `json:"currentKey,omitempty"`
}

type SyncPayload struct {
    Position  float64 `json:"position"`
    BPM       float64 `json:"bpm"`
    IsPlaying bool    `json:"isPlaying"`
    Timestamp int64   `json:"timestamp"`
}

type PingPayload struct {
    ServerTime int64 `json:"serverTime"`
}

type HostStatusPayload struct {
    Status string `json:"status"`
}

// New builds an envelope with the payload marshalled in place. A nil payload
// leaves the field empty.
func New(eventType, code string, payload any) Message {
    m := Message{Type: eventType, TsMs: time.Now().UnixMilli(), Code: code}
    if payload != nil {
        b, err := json.Marshal(payload)
        if err != nil {
            // Payload structs above are all marshalable; reaching this means
            // a programming error, not a wire condition.
            panic(fmt.Sprintf("protocol: marshal %s payload: %v", eventType, err))
        }
        m.Payload = b
    }
    return m
}

// Decode unmarshals the payload into dst.
func (m Message) Decode(dst any) error {
    if len(m.Payload) == 0 {
        return fmt.Errorf("protocol: %s message has no payload", m.Type)
    }
    if err := json.Unmarshal(m.Payload, dst); err != nil {
        return fmt.Errorf("protocol: decode %s payload: %w", m.Type, err)
    }
    return nil
}

// IsHostCommand reports whether the event is one a host may relay through
// the coordinator to the other participants.
func IsHostCommand(eventType string) bool {
    switch eventType {
    case EventTrackLoad, EventPlayback, EventTempo, EventPitch, EventSync:
        return true
    }
    return false
}
