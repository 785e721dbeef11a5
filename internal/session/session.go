package session

import (
    "errors"
    "sync"
    "time"
)

var (
    ErrNotFound         = errors.New("session not found")
    ErrSessionEnded     = errors.New("session ended")
    ErrUnauthorized     = errors.New("not authorized")
    ErrAlreadyInSession = errors.New("already in a session")
)

type Role string

const (
    RoleHost  Role = "host"
    RoleGuest Role = "guest"
)

// State is the session lifecycle. There is no paused state; playback pause
// is a message within an active session.
type State int

const (
    StateActive State = iota
    StateEnded // terminal
)

type Participant struct {
    ConnectionID string
    Name         string
    Role         Role
}

// TrackDescriptor identifies the loaded track and its per-stem media.
// Replaced wholesale on each track load.
type TrackDescriptor struct {
    TrackID   string
    Title     string
    StemURLs  map[string]string
    BeatTimes []float64
}

// PlaybackState is the last applied playback command. Ephemeral; each side
// keeps only the most recent value.
type PlaybackState struct {
    Command    string
    Position   float64
    BPM        float64
    PitchShift float64
    Timestamp  int64
}

// Session is the authoritative per-code state. All mutation goes through the
// session's own lock; the coordinator never touches fields directly.
type Session struct {
    mu sync.Mutex

    code         string
    hostConnID   string
    participants map[string]Participant
    track        *TrackDescriptor
    state        State
    createdAt    time.Time
}

func New(code, hostConnID, hostName string) *Session {
    s := &Session{
        code:         code,
        hostConnID:   hostConnID,
        participants: make(map[string]Participant),
        state:        StateActive,
        createdAt:    time.Now().UTC(),
    }
    s.participants[hostConnID] = Participant{ConnectionID: hostConnID, Name: hostName, Role: RoleHost}
    return s
}

func (s *Session) Code() string { return s.code }

func (s *Session) State() State {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.state
}

func (s *Session) HostConnID() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.hostConnID
}

// IsHost reports whether connID is the session's current host.
func (s *Session) IsHost(connID string) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.state == StateActive && connID == s.hostConnID
}

// AddGuest registers a guest participant. Fails on an ended session.
func (s *Session) AddGuest(connID, name string) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.state != StateActive {
        return ErrSessionEnded
    }
    s.participants[connID] = Participant{ConnectionID: connID, Name: name, Role: RoleGuest}
    return nil
}

// Remove drops a participant. Returns the removed participant and whether it
// was present.
func (s *Session) Remove(connID string) (Participant, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    p, ok := s.participants[connID]
    if ok {
        delete(s.participants, connID)
    }
    return p, ok
}

// End transitions the session to its terminal state and clears the roster
// atomically. Returns the participants that were still present, or nil if
// the session had already ended.
func (s *Session) End() []Participant {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.state == StateEnded {
        return nil
    }
    s.state = StateEnded
    out := make([]Participant, 0, len(s.participants))
    for _, p := range s.participants {
        out = append(out, p)
    }
    s.participants = make(map[string]Participant)
    return out
}

// Participants returns a snapshot of the roster.
func (s *Session) Participants() []Participant {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make([]Participant, 0, len(s.participants))
    for _, p := range s.participants {
        out = append(out, p)
    }
    return out
}

// Has reports membership.
func (s *Session) Has(connID string) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    _, ok := s.participants[connID]
    return ok
}

func (s *Session) SetTrack(t TrackDescriptor) {
    s.mu.Lock()
    s.track = &t
    s.mu.Unlock()
}

func (s *Session) Track() (TrackDescriptor, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.track == nil {
        return TrackDescriptor{}, false
    }
    return *s.track, true
}
