// Package agent is the client-side protocol endpoint. One Agent serves one
// connection; whether it may drive the session depends on the role the
// coordinator granted it. Commands from non-hosts are refused locally before
// they reach the wire; the coordinator enforces the same rule regardless.
package agent

import (
    "context"
    "encoding/json"
    "log"
    "math"
    "sync"
    "time"

    "jamlink/sync/internal/beatmap"
    "jamlink/sync/internal/bridge"
    "jamlink/sync/internal/config"
    "jamlink/sync/internal/playback"
    "jamlink/sync/internal/protocol"
    "jamlink/sync/internal/rtt"
    "jamlink/sync/internal/session"

    ws "nhooyr.io/websocket"
)

// Precounter is the count-in engine the agent triggers on a play command
// carrying precountBeats. Satisfied by metronome.Precount.
type Precounter interface {
    Start(n int, beatDur float64, onComplete func()) error
    Cancel()
}

// Metronome is the steady-state click scheduler the agent runs alongside
// playback. Satisfied by metronome.Scheduler.
type Metronome interface {
    Start(songPos float64)
    Stop()
    SetBPM(bpm float64)
    SetBeatMap(bm *beatmap.BeatMap)
    CountInBeatDuration() float64
}

type Agent struct {
    cfg    config.Config
    engine playback.Engine
    bus    *Bus
    est    *rtt.Estimator

    mu      sync.Mutex
    tx      func(ctx context.Context, msg protocol.Message) error
    conn    *ws.Conn
    cancel  context.CancelFunc
    role    session.Role
    code    string
    track   *session.TrackDescriptor
    playing bool
    bpm     float64
    precnt  Precounter
    metro   Metronome
    port    *bridge.Port

    lastHeartbeat time.Time
    hostStatus    string
}

func New(cfg config.Config, engine playback.Engine) *Agent {
    return &Agent{
        cfg:    cfg,
        engine: engine,
        bus:    NewBus(),
        est:    rtt.NewEstimator(),
        bpm:    cfg.Metronome.DefaultBPM,
    }
}

// Bus exposes the agent's event subscriptions.
func (a *Agent) Bus() *Bus { return a.bus }

// SetPrecounter wires the local count-in engine.
func (a *Agent) SetPrecounter(p Precounter) {
    a.mu.Lock()
    a.precnt = p
    a.mu.Unlock()
}

// SetMetronome wires the click scheduler. The agent starts it when
// playback actually begins and stops it on pause, stop and session end.
func (a *Agent) SetMetronome(m Metronome) {
    a.mu.Lock()
    a.metro = m
    a.mu.Unlock()
}

// AttachBridge wires the lifecycle port toward the embedded playback
// surface. Detach by attaching nil.
func (a *Agent) AttachBridge(port *bridge.Port) {
    a.mu.Lock()
    a.port = port
    a.mu.Unlock()
}

// Dial connects to the coordinator and starts the receive and maintenance
// loops. The agent stays connected until Close or a transport error.
func (a *Agent) Dial(ctx context.Context, url string) error {
    conn, _, err := ws.Dial(ctx, url, nil)
    if err != nil {
        return err
    }
    runCtx, cancel := context.WithCancel(context.Background())
    a.mu.Lock()
    a.conn = conn
    a.cancel = cancel
    a.tx = func(ctx context.Context, msg protocol.Message) error {
        b, err := json.Marshal(msg)
        if err != nil {
            return err
        }
        return conn.Write(ctx, ws.MessageText, b)
    }
    a.mu.Unlock()

    go a.readLoop(runCtx, conn)
    go a.maintain(runCtx)
    return nil
}

// Close tears the connection down and releases the loops.
func (a *Agent) Close() {
    a.mu.Lock()
    cancel, conn := a.cancel, a.conn
    a.cancel, a.conn, a.tx = nil, nil, nil
    a.mu.Unlock()
    if cancel != nil {
        cancel()
    }
    if conn != nil {
        _ = conn.Close(ws.StatusNormalClosure, "bye")
    }
}

func (a *Agent) Role() session.Role {
    a.mu.Lock()
    defer a.mu.Unlock()
    return a.role
}

func (a *Agent) Code() string {
    a.mu.Lock()
    defer a.mu.Unlock()
    return a.code
}

// RTT is the local moving-average estimate from client-originated pings.
func (a *Agent) RTT() time.Duration { return a.est.Estimate() }

// CreateSession asks the coordinator for a fresh session with this
// connection as host. Confirmation arrives as a Created event.
func (a *Agent) CreateSession(ctx context.Context) error {
    return a.send(ctx, protocol.New(protocol.EventCreate, "", nil))
}

// JoinSession joins an existing session as a guest.
func (a *Agent) JoinSession(ctx context.Context, code, name string) error {
    return a.send(ctx, protocol.New(protocol.EventJoin, code, protocol.JoinPayload{Code: code, GuestName: name}))
}

// LeaveSession leaves the current session, if any.
func (a *Agent) LeaveSession(ctx context.Context) error {
    a.mu.Lock()
    code := a.code
    a.mu.Unlock()
    if code == "" {
        return nil
    }
    return a.send(ctx, protocol.New(protocol.EventLeave, code, nil))
}

// EndSession ends the session for everyone. Host only.
func (a *Agent) EndSession(ctx context.Context) error {
    if err := a.requireHost(); err != nil {
        return err
    }
    return a.send(ctx, protocol.New(protocol.EventEnd, a.Code(), nil))
}

// LoadTrack announces a new track to every guest. Host only.
func (a *Agent) LoadTrack(ctx context.Context, track session.TrackDescriptor) error {
    if err := a.requireHost(); err != nil {
        return err
    }
    a.applyTrack(track)
    return a.send(ctx, protocol.New(protocol.EventTrackLoad, a.Code(), protocol.TrackLoadPayload{
        TrackID:       track.TrackID,
        TrackMetadata: protocol.TrackMetadata{Title: track.Title, StemURLs: track.StemURLs, BeatTimes: track.BeatTimes},
    }))
}

// SendPlayback broadcasts a transport command stamped with the exact local
// position, then applies it locally. For play with a count-in the broadcast
// goes out BEFORE the local pre-count starts, so host and guests begin their
// independent count-ins at effectively the same instant. Host only.
func (a *Agent) SendPlayback(ctx context.Context, command string, position float64, precountBeats int) error {
    if err := a.requireHost(); err != nil {
        return err
    }
    p := protocol.PlaybackPayload{
        Command:       command,
        Position:      position,
        Timestamp:     time.Now().UnixMilli(),
        PrecountBeats: precountBeats,
    }
    if err := a.send(ctx, protocol.New(protocol.EventPlayback, a.Code(), p)); err != nil {
        return err
    }
    a.applyPlayback(p)
    return nil
}

// SendTempo broadcasts a tempo change and applies it locally. The transport
// position is untouched. Host only.
func (a *Agent) SendTempo(ctx context.Context, bpm, originalBPM, ratio float64) error {
    if err := a.requireHost(); err != nil {
        return err
    }
    p := protocol.TempoPayload{BPM: bpm, OriginalBPM: originalBPM, SyncRatio: ratio}
    if err := a.send(ctx, protocol.New(protocol.EventTempo, a.Code(), p)); err != nil {
        return err
    }
    a.applyTempo(p)
    return nil
}

// SendPitch broadcasts a pitch shift and applies it locally. Host only.
func (a *Agent) SendPitch(ctx context.Context, semitones float64, keyLabel string) error {
    if err := a.requireHost(); err != nil {
        return err
    }
    p := protocol.PitchPayload{PitchShift: semitones, CurrentKey: keyLabel}
    if err := a.send(ctx, protocol.New(protocol.EventPitch, a.Code(), p)); err != nil {
        return err
    }
    a.applyPitch(p)
    return nil
}

func (a *Agent) requireHost() error {
    a.mu.Lock()
    defer a.mu.Unlock()
    if a.role != session.RoleHost || a.code == "" {
        return session.ErrUnauthorized
    }
    return nil
}

func (a *Agent) send(ctx context.Context, msg protocol.Message) error {
    a.mu.Lock()
    tx := a.tx
    a.mu.Unlock()
    if tx == nil {
        return session.ErrNotFound
    }
    return tx(ctx, msg)
}

func (a *Agent) readLoop(ctx context.Context, conn *ws.Conn) {
    for {
        typ, data, err := conn.Read(ctx)
        if err != nil {
            return
        }
        if typ != ws.MessageText && typ != ws.MessageBinary {
            continue
        }
        var msg protocol.Message
        if err := json.Unmarshal(data, &msg); err != nil {
            log.Printf("[agent] invalid frame: %v", err)
            continue
        }
        a.handle(ctx, msg)
    }
}

func (a *Agent) handle(ctx context.Context, msg protocol.Message) {
    switch msg.Type {
    case protocol.EventCreated:
        var p protocol.CreatedPayload
        if msg.Decode(&p) != nil {
            return
        }
        if p.Error == "" {
            a.mu.Lock()
            a.role = session.RoleHost
            a.code = p.Code
            port := a.port
            a.mu.Unlock()
            if port != nil {
                port.SessionStarted(p.Code)
            }
        }
        a.bus.Publish(Event{Kind: KindCreated, Code: p.Code, Err: p.Error})

    case protocol.EventJoined:
        var p protocol.JoinedPayload
        if msg.Decode(&p) != nil {
            return
        }
        if p.Error == "" {
            a.mu.Lock()
            a.role = session.RoleGuest
            a.code = p.Code
            a.lastHeartbeat = time.Now()
            a.hostStatus = protocol.HostStatusConnected
            port := a.port
            a.mu.Unlock()
            a.est.Reset()
            if port != nil {
                port.SessionStarted(p.Code)
            }
        }
        a.bus.Publish(Event{Kind: KindJoined, Code: p.Code, Err: p.Error})

    case protocol.EventEnded:
        var p protocol.EndedPayload
        if msg.Decode(&p) != nil {
            return
        }
        if p.Error != "" {
            a.bus.Publish(Event{Kind: KindEnded, Code: msg.Code, Err: p.Error})
            return
        }
        a.mu.Lock()
        code := a.code
        a.code = ""
        a.role = ""
        a.playing = false
        pc, m, port := a.precnt, a.metro, a.port
        a.mu.Unlock()
        if pc != nil {
            pc.Cancel()
        }
        if m != nil {
            m.Stop()
        }
        a.engine.Stop()
        if port != nil {
            port.SessionEnded(code)
        }
        a.bus.Publish(Event{Kind: KindEnded, Code: code, Reason: p.Reason})

    case protocol.EventParticipants:
        var p protocol.ParticipantsPayload
        if msg.Decode(&p) != nil {
            return
        }
        a.bus.Publish(Event{Kind: KindRoster, Code: msg.Code, Roster: p.Participants})

    case protocol.EventTrackLoad:
        var p protocol.TrackLoadPayload
        if msg.Decode(&p) != nil {
            return
        }
        track := session.TrackDescriptor{
            TrackID:   p.TrackID,
            Title:     p.TrackMetadata.Title,
            StemURLs:  p.TrackMetadata.StemURLs,
            BeatTimes: p.TrackMetadata.BeatTimes,
        }
        a.applyTrack(track)
        a.bus.Publish(Event{Kind: KindTrackLoaded, Code: msg.Code, Track: &track})

    case protocol.EventPlayback:
        var p protocol.PlaybackPayload
        if msg.Decode(&p) != nil {
            return
        }
        a.applyPlayback(p)
        a.bus.Publish(Event{Kind: KindPlayback, Code: msg.Code, Playback: &p})

    case protocol.EventTempo:
        var p protocol.TempoPayload
        if msg.Decode(&p) != nil {
            return
        }
        a.applyTempo(p)
        a.bus.Publish(Event{Kind: KindTempo, Code: msg.Code, Tempo: &p})

    case protocol.EventPitch:
        var p protocol.PitchPayload
        if msg.Decode(&p) != nil {
            return
        }
        a.applyPitch(p)
        a.bus.Publish(Event{Kind: KindPitch, Code: msg.Code, Pitch: &p})

    case protocol.EventSync:
        var p protocol.SyncPayload
        if msg.Decode(&p) != nil {
            return
        }
        a.applyHeartbeat(p)
        a.bus.Publish(Event{Kind: KindHeartbeat, Code: msg.Code, Heartbeat: &p})

    case protocol.EventPing:
        // Echo unchanged so the other end can sample the round trip.
        _ = a.send(ctx, protocol.Message{Type: protocol.EventPong, TsMs: time.Now().UnixMilli(), Payload: msg.Payload})

    case protocol.EventPong:
        var p protocol.PingPayload
        if msg.Decode(&p) != nil {
            return
        }
        sample := time.Duration(time.Now().UnixMilli()-p.ServerTime) * time.Millisecond
        if sample < 0 {
            return
        }
        a.est.Add(sample)
        a.bus.Publish(Event{Kind: KindRTT, RTT: a.est.Estimate()})

    case protocol.EventHostStatus:
        var p protocol.HostStatusPayload
        if msg.Decode(&p) != nil {
            return
        }
        a.bus.Publish(Event{Kind: KindHostStatus, HostStatus: p.Status})

    case protocol.EventError:
        var p protocol.ErrorPayload
        if msg.Decode(&p) != nil {
            return
        }
        log.Printf("[agent] request %s rejected: %s", p.Request, p.Error)

    default:
        log.Printf("[agent] unhandled message type %q", msg.Type)
    }
}

// applyPlayback applies a transport command to the local engine. Commands
// replace prior playback state entirely; play with a count-in runs the local
// pre-count on the local audio clock before audio starts, and the agent only
// counts as playing once audio actually runs, so no heartbeat claims a
// position the engine has not reached.
func (a *Agent) applyPlayback(p protocol.PlaybackPayload) {
    a.mu.Lock()
    pc := a.precnt
    m := a.metro
    bpm := a.bpm
    playing := a.playing
    a.mu.Unlock()

    switch p.Command {
    case protocol.CommandPlay:
        a.engine.SeekTo(p.Position)
        begin := func() {
            a.engine.Play()
            a.setPlaying(true)
            if m != nil {
                m.Start(p.Position)
            }
        }
        if p.PrecountBeats > 0 && pc != nil {
            beatDur := 60.0 / bpm
            if m != nil {
                beatDur = m.CountInBeatDuration()
            }
            if err := pc.Start(p.PrecountBeats, beatDur, begin); err != nil {
                log.Printf("[agent] precount: %v; starting playback directly", err)
                begin()
            }
            return
        }
        begin()
    case protocol.CommandPause:
        if pc != nil {
            pc.Cancel()
        }
        if m != nil {
            m.Stop()
        }
        a.engine.Pause()
        a.engine.SeekTo(p.Position)
        a.setPlaying(false)
    case protocol.CommandStop:
        if pc != nil {
            pc.Cancel()
        }
        if m != nil {
            m.Stop()
        }
        a.engine.Stop()
        a.setPlaying(false)
    case protocol.CommandSeek:
        a.engine.SeekTo(p.Position)
        if playing && m != nil {
            // Re-anchor the click grid to the new transport position.
            m.Stop()
            m.Start(p.Position)
        }
    default:
        log.Printf("[agent] unknown playback command %q", p.Command)
    }
}

// applyTrack records the loaded track and rebuilds the metronome's beat map
// from its analysis, or clears the map when the track carries none.
func (a *Agent) applyTrack(track session.TrackDescriptor) {
    a.mu.Lock()
    a.track = &track
    m := a.metro
    perBar := a.cfg.Metronome.BeatsPerBar
    a.mu.Unlock()
    if m == nil {
        return
    }
    if len(track.BeatTimes) >= 2 {
        bm, err := beatmap.NewExtrapolated(track.BeatTimes, perBar)
        if err != nil {
            log.Printf("[agent] rejecting beat times for track %s: %v", track.TrackID, err)
            m.SetBeatMap(nil)
            return
        }
        m.SetBeatMap(bm)
        return
    }
    m.SetBeatMap(nil)
}

func (a *Agent) applyTempo(p protocol.TempoPayload) {
    a.mu.Lock()
    a.bpm = p.BPM
    m := a.metro
    a.mu.Unlock()
    if m != nil {
        m.SetBPM(p.BPM)
    }
    a.engine.SetTempo(p.SyncRatio)
}

func (a *Agent) applyPitch(p protocol.PitchPayload) {
    a.engine.SetPitch(p.PitchShift)
}

// applyHeartbeat corrects guest drift against the host's reported position.
// Soft re-seek only above the configured threshold; small drift self-heals
// with the next heartbeat.
func (a *Agent) applyHeartbeat(p protocol.SyncPayload) {
    a.mu.Lock()
    a.lastHeartbeat = time.Now()
    wasDesynced := a.hostStatus == protocol.HostStatusDesynced
    a.hostStatus = protocol.HostStatusConnected
    playing := a.playing
    threshold := a.cfg.Sync.DriftThresholdSec
    a.mu.Unlock()

    if wasDesynced {
        a.bus.Publish(Event{Kind: KindHostStatus, HostStatus: protocol.HostStatusConnected})
    }
    if p.IsPlaying && playing {
        drift := math.Abs(a.engine.CurrentTime() - p.Position)
        if drift > threshold {
            log.Printf("[agent] drift %.3fs beyond threshold; reseeking to %.3f", drift, p.Position)
            a.engine.SeekTo(p.Position)
        }
    }
}

func (a *Agent) setPlaying(v bool) {
    a.mu.Lock()
    a.playing = v
    a.mu.Unlock()
}

// maintain runs the periodic duties: host heartbeats, client pings, and the
// guest-side heartbeat watchdog.
func (a *Agent) maintain(ctx context.Context) {
    heartbeat := time.NewTicker(time.Duration(a.cfg.Sync.HeartbeatSeconds) * time.Second)
    ping := time.NewTicker(time.Duration(a.cfg.Sync.PingSeconds) * time.Second)
    watchdog := time.NewTicker(time.Second)
    defer heartbeat.Stop()
    defer ping.Stop()
    defer watchdog.Stop()

    for {
        select {
        case <-ctx.Done():
            return
        case <-heartbeat.C:
            a.sendHeartbeat(ctx)
        case <-ping.C:
            _ = a.send(ctx, protocol.New(protocol.EventPing, "", protocol.PingPayload{ServerTime: time.Now().UnixMilli()}))
        case <-watchdog.C:
            a.checkHostStatus()
        }
    }
}

func (a *Agent) sendHeartbeat(ctx context.Context) {
    a.mu.Lock()
    isHost := a.role == session.RoleHost && a.code != ""
    playing := a.playing
    bpm := a.bpm
    code := a.code
    a.mu.Unlock()
    if !isHost || !playing {
        return
    }
    _ = a.send(ctx, protocol.New(protocol.EventSync, code, protocol.SyncPayload{
        Position:  a.engine.CurrentTime(),
        BPM:       bpm,
        IsPlaying: playing,
        Timestamp: time.Now().UnixMilli(),
    }))
}

// checkHostStatus degrades to "possibly desynced" when heartbeats stop
// arriving. Never disconnects; the transport's own keep-alive governs that.
func (a *Agent) checkHostStatus() {
    a.mu.Lock()
    isGuest := a.role == session.RoleGuest && a.code != ""
    grace := time.Duration(a.cfg.Sync.HostGraceSeconds) * time.Second
    stale := isGuest && a.playing && !a.lastHeartbeat.IsZero() && time.Since(a.lastHeartbeat) > grace
    already := a.hostStatus == protocol.HostStatusDesynced
    if stale && !already {
        a.hostStatus = protocol.HostStatusDesynced
    }
    a.mu.Unlock()
    if stale && !already {
        a.bus.Publish(Event{Kind: KindHostStatus, HostStatus: protocol.HostStatusDesynced})
    }
}
