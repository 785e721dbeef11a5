package agent

import (
    "context"
    "testing"
    "time"

    "jamlink/sync/internal/beatmap"
    "jamlink/sync/internal/config"
    "jamlink/sync/internal/protocol"
    "jamlink/sync/internal/session"
)

// fakeEngine records calls and serves a settable position.
type fakeEngine struct {
    calls []string
    pos   float64
    seek  []float64
}

func (e *fakeEngine) Play()              { e.calls = append(e.calls, "play") }
func (e *fakeEngine) Pause()             { e.calls = append(e.calls, "pause") }
func (e *fakeEngine) Stop()              { e.calls = append(e.calls, "stop") }
func (e *fakeEngine) SeekTo(p float64)   { e.calls = append(e.calls, "seek"); e.seek = append(e.seek, p) }
func (e *fakeEngine) CurrentTime() float64 { return e.pos }
func (e *fakeEngine) SetTempo(float64)   { e.calls = append(e.calls, "tempo") }
func (e *fakeEngine) SetPitch(float64)   { e.calls = append(e.calls, "pitch") }

type fakePrecount struct {
    started   int
    beats     int
    beatDur   float64
    cancelled int
    complete  func()
}

func (p *fakePrecount) Start(n int, beatDur float64, onComplete func()) error {
    p.started++
    p.beats = n
    p.beatDur = beatDur
    p.complete = onComplete
    return nil
}

func (p *fakePrecount) Cancel() { p.cancelled++ }

type fakeMetronome struct {
    calls   []string
    starts  []float64
    bpms    []float64
    bm      *beatmap.BeatMap
    beatDur float64
}

func (m *fakeMetronome) Start(pos float64) {
    m.calls = append(m.calls, "start")
    m.starts = append(m.starts, pos)
}
func (m *fakeMetronome) Stop()              { m.calls = append(m.calls, "stop") }
func (m *fakeMetronome) SetBPM(bpm float64) { m.bpms = append(m.bpms, bpm) }
func (m *fakeMetronome) SetBeatMap(bm *beatmap.BeatMap) {
    m.bm = bm
    m.calls = append(m.calls, "beatmap")
}
func (m *fakeMetronome) CountInBeatDuration() float64 {
    if m.beatDur > 0 {
        return m.beatDur
    }
    return 0.5
}

func newHostAgent(t *testing.T, engine *fakeEngine) (*Agent, *[]protocol.Message) {
    t.Helper()
    a := New(config.Load(), engine)
    var sent []protocol.Message
    a.tx = func(ctx context.Context, msg protocol.Message) error {
        sent = append(sent, msg)
        return nil
    }
    a.handle(context.Background(), protocol.New(protocol.EventCreated, "ABC123", protocol.CreatedPayload{Code: "ABC123"}))
    if a.Role() != session.RoleHost || a.Code() != "ABC123" {
        t.Fatalf("expected host role after created, got %v %q", a.Role(), a.Code())
    }
    return a, &sent
}

func TestGuestCannotSendHostCommands(t *testing.T) {
    engine := &fakeEngine{}
    a := New(config.Load(), engine)
    var sent []protocol.Message
    a.tx = func(ctx context.Context, msg protocol.Message) error {
        sent = append(sent, msg)
        return nil
    }
    a.handle(context.Background(), protocol.New(protocol.EventJoined, "ABC123", protocol.JoinedPayload{Code: "ABC123", Role: "guest"}))

    ctx := context.Background()
    if err := a.SendPlayback(ctx, protocol.CommandPlay, 0, 0); err != session.ErrUnauthorized {
        t.Fatalf("expected ErrUnauthorized for guest playback, got %v", err)
    }
    if err := a.SendTempo(ctx, 100, 120, 100.0/120.0); err != session.ErrUnauthorized {
        t.Fatalf("expected ErrUnauthorized for guest tempo, got %v", err)
    }
    if err := a.SendPitch(ctx, 2, "D"); err != session.ErrUnauthorized {
        t.Fatalf("expected ErrUnauthorized for guest pitch, got %v", err)
    }
    if err := a.EndSession(ctx); err != session.ErrUnauthorized {
        t.Fatalf("expected ErrUnauthorized for guest end, got %v", err)
    }
    if len(sent) != 0 {
        t.Fatalf("rejected commands must never reach the wire, sent %d", len(sent))
    }
}

func TestHostBroadcastsBeforeLocalPrecount(t *testing.T) {
    engine := &fakeEngine{}
    a, sent := newHostAgent(t, engine)
    pc := &fakePrecount{}
    a.SetPrecounter(pc)

    if err := a.SendPlayback(context.Background(), protocol.CommandPlay, 0, 8); err != nil {
        t.Fatalf("send playback: %v", err)
    }
    if len(*sent) != 1 || (*sent)[0].Type != protocol.EventPlayback {
        t.Fatalf("expected one playback message on the wire, got %+v", *sent)
    }
    if pc.started != 1 || pc.beats != 8 {
        t.Fatalf("expected local 8-beat precount, got %+v", pc)
    }
    // Audio starts only when the count-in completes.
    for _, c := range engine.calls {
        if c == "play" {
            t.Fatalf("engine must not play during the count-in")
        }
    }
    pc.complete()
    if engine.calls[len(engine.calls)-1] != "play" {
        t.Fatalf("expected play after precount completion, got %v", engine.calls)
    }
}

func TestHostSilentUntilCountInEnds(t *testing.T) {
    engine := &fakeEngine{pos: 0}
    a, sent := newHostAgent(t, engine)
    pc := &fakePrecount{}
    a.SetPrecounter(pc)

    if err := a.SendPlayback(context.Background(), protocol.CommandPlay, 0, 4); err != nil {
        t.Fatalf("send playback: %v", err)
    }
    // While counting in the host is not yet playing: heartbeats stay quiet
    // so guests never drift-compare against a stopped engine.
    a.sendHeartbeat(context.Background())
    for _, msg := range *sent {
        if msg.Type == protocol.EventSync {
            t.Fatalf("heartbeat sent during the count-in")
        }
    }

    pc.complete()
    a.sendHeartbeat(context.Background())
    last := (*sent)[len(*sent)-1]
    if last.Type != protocol.EventSync {
        t.Fatalf("expected heartbeat once audio runs, got %q", last.Type)
    }
}

func TestMetronomeFollowsPlayback(t *testing.T) {
    engine := &fakeEngine{}
    a, _ := newHostAgent(t, engine)
    m := &fakeMetronome{}
    a.SetMetronome(m)

    ctx := context.Background()
    _ = a.SendPlayback(ctx, protocol.CommandPlay, 2.5, 0)
    if len(m.starts) != 1 || m.starts[0] != 2.5 {
        t.Fatalf("expected click grid anchored at 2.5, got %v", m.starts)
    }

    // Seeking while playing re-anchors the grid at the new position.
    _ = a.SendPlayback(ctx, protocol.CommandSeek, 8.0, 0)
    if len(m.starts) != 2 || m.starts[1] != 8.0 {
        t.Fatalf("expected re-anchor at 8.0, got %v", m.starts)
    }

    _ = a.SendPlayback(ctx, protocol.CommandPause, 8.0, 0)
    if m.calls[len(m.calls)-1] != "stop" {
        t.Fatalf("pause must stop the clicks, got %v", m.calls)
    }

    // Seeking while paused leaves the metronome alone.
    _ = a.SendPlayback(ctx, protocol.CommandSeek, 1.0, 0)
    if len(m.starts) != 2 {
        t.Fatalf("paused seek must not start the clicks, got %v", m.starts)
    }
}

func TestMetronomeStartsAfterCountIn(t *testing.T) {
    engine := &fakeEngine{}
    a, _ := newHostAgent(t, engine)
    pc := &fakePrecount{}
    m := &fakeMetronome{beatDur: 0.4}
    a.SetPrecounter(pc)
    a.SetMetronome(m)

    _ = a.SendPlayback(context.Background(), protocol.CommandPlay, 0, 4)
    // The count-in takes its beat length from the metronome, which knows
    // about any loaded beat map.
    if pc.beatDur != 0.4 {
        t.Fatalf("expected map-derived 0.4s count-in beats, got %v", pc.beatDur)
    }
    if len(m.starts) != 0 {
        t.Fatalf("clicks must not start during the count-in")
    }
    pc.complete()
    if len(m.starts) != 1 || m.starts[0] != 0 {
        t.Fatalf("expected click grid start after the count-in, got %v", m.starts)
    }
}

func TestTrackLoadFeedsBeatMap(t *testing.T) {
    engine := &fakeEngine{}
    a := New(config.Load(), engine)
    m := &fakeMetronome{}
    a.SetMetronome(m)
    a.handle(context.Background(), protocol.New(protocol.EventJoined, "ABC123", protocol.JoinedPayload{Code: "ABC123", Role: "guest"}))

    a.handle(context.Background(), protocol.New(protocol.EventTrackLoad, "ABC123", protocol.TrackLoadPayload{
        TrackID:       "t1",
        TrackMetadata: protocol.TrackMetadata{Title: "Song", BeatTimes: []float64{0, 0.5, 1.0, 1.5}},
    }))
    if m.bm == nil {
        t.Fatalf("expected a beat map built from the track's beat times")
    }

    // A track without beat analysis clears the map.
    a.handle(context.Background(), protocol.New(protocol.EventTrackLoad, "ABC123", protocol.TrackLoadPayload{TrackID: "t2"}))
    if m.bm != nil {
        t.Fatalf("track without beat times must clear the beat map")
    }
}

func TestTempoReachesMetronome(t *testing.T) {
    engine := &fakeEngine{}
    a := New(config.Load(), engine)
    m := &fakeMetronome{}
    a.SetMetronome(m)
    a.handle(context.Background(), protocol.New(protocol.EventTempo, "ABC123", protocol.TempoPayload{BPM: 90, OriginalBPM: 120, SyncRatio: 0.75}))
    if len(m.bpms) != 1 || m.bpms[0] != 90 {
        t.Fatalf("expected metronome bpm 90, got %v", m.bpms)
    }
}

func TestGuestPrecountStartsOnReceipt(t *testing.T) {
    engine := &fakeEngine{}
    a := New(config.Load(), engine)
    pc := &fakePrecount{}
    a.SetPrecounter(pc)
    a.handle(context.Background(), protocol.New(protocol.EventJoined, "ABC123", protocol.JoinedPayload{Code: "ABC123", Role: "guest"}))

    a.handle(context.Background(), protocol.New(protocol.EventPlayback, "ABC123", protocol.PlaybackPayload{
        Command: protocol.CommandPlay, Position: 0, Timestamp: time.Now().UnixMilli(), PrecountBeats: 4,
    }))
    if pc.started != 1 || pc.beats != 4 {
        t.Fatalf("expected 4-beat precount on receipt, got %+v", pc)
    }
    // Default 120 bpm -> 0.5s count-in beats.
    if pc.beatDur != 0.5 {
        t.Fatalf("expected 0.5s beat duration, got %v", pc.beatDur)
    }
}

func TestStopCancelsPrecount(t *testing.T) {
    engine := &fakeEngine{}
    a, _ := newHostAgent(t, engine)
    pc := &fakePrecount{}
    a.SetPrecounter(pc)

    _ = a.SendPlayback(context.Background(), protocol.CommandPlay, 0, 4)
    _ = a.SendPlayback(context.Background(), protocol.CommandStop, 0, 0)
    if pc.cancelled != 1 {
        t.Fatalf("stop must cancel a running precount, got %+v", pc)
    }
    if engine.calls[len(engine.calls)-1] != "stop" {
        t.Fatalf("expected engine stop, got %v", engine.calls)
    }
}

func TestTempoDoesNotMoveTransport(t *testing.T) {
    engine := &fakeEngine{}
    a := New(config.Load(), engine)
    a.handle(context.Background(), protocol.New(protocol.EventTempo, "ABC123", protocol.TempoPayload{BPM: 90, OriginalBPM: 120, SyncRatio: 0.75}))
    for _, c := range engine.calls {
        if c == "seek" {
            t.Fatalf("tempo change must not seek, got %v", engine.calls)
        }
    }
    if engine.calls[len(engine.calls)-1] != "tempo" {
        t.Fatalf("expected tempo call, got %v", engine.calls)
    }
}

func TestHeartbeatDriftCorrection(t *testing.T) {
    engine := &fakeEngine{pos: 10.0}
    a := New(config.Load(), engine)
    a.handle(context.Background(), protocol.New(protocol.EventJoined, "ABC123", protocol.JoinedPayload{Code: "ABC123", Role: "guest"}))
    a.setPlaying(true)

    // Drift below threshold: leave the engine alone.
    a.handle(context.Background(), protocol.New(protocol.EventSync, "ABC123", protocol.SyncPayload{Position: 10.2, BPM: 120, IsPlaying: true}))
    if len(engine.seek) != 0 {
        t.Fatalf("sub-threshold drift must not reseek, got %v", engine.seek)
    }

    // Drift beyond the 0.35s threshold: soft re-seek to the host position.
    a.handle(context.Background(), protocol.New(protocol.EventSync, "ABC123", protocol.SyncPayload{Position: 11.0, BPM: 120, IsPlaying: true}))
    if len(engine.seek) != 1 || engine.seek[0] != 11.0 {
        t.Fatalf("expected reseek to 11.0, got %v", engine.seek)
    }
}

func TestHostStatusWatchdog(t *testing.T) {
    engine := &fakeEngine{}
    a := New(config.Load(), engine)
    a.handle(context.Background(), protocol.New(protocol.EventJoined, "ABC123", protocol.JoinedPayload{Code: "ABC123", Role: "guest"}))
    a.setPlaying(true)

    var statuses []string
    a.Bus().Subscribe(KindHostStatus, func(ev Event) { statuses = append(statuses, ev.HostStatus) })

    // Fresh heartbeat: nothing to report.
    a.checkHostStatus()
    if len(statuses) != 0 {
        t.Fatalf("unexpected status with fresh heartbeat: %v", statuses)
    }

    // Stale heartbeat degrades once, not repeatedly.
    a.mu.Lock()
    a.lastHeartbeat = time.Now().Add(-time.Minute)
    a.mu.Unlock()
    a.checkHostStatus()
    a.checkHostStatus()
    if len(statuses) != 1 || statuses[0] != protocol.HostStatusDesynced {
        t.Fatalf("expected single desynced signal, got %v", statuses)
    }

    // A heartbeat heals the status.
    a.handle(context.Background(), protocol.New(protocol.EventSync, "ABC123", protocol.SyncPayload{Position: 0, IsPlaying: false}))
    if statuses[len(statuses)-1] != protocol.HostStatusConnected {
        t.Fatalf("expected recovery signal, got %v", statuses)
    }
}

func TestEndedStopsEverything(t *testing.T) {
    engine := &fakeEngine{}
    a := New(config.Load(), engine)
    pc := &fakePrecount{}
    m := &fakeMetronome{}
    a.SetPrecounter(pc)
    a.SetMetronome(m)
    a.handle(context.Background(), protocol.New(protocol.EventJoined, "ABC123", protocol.JoinedPayload{Code: "ABC123", Role: "guest"}))

    var ended []Event
    a.Bus().Subscribe(KindEnded, func(ev Event) { ended = append(ended, ev) })

    a.handle(context.Background(), protocol.New(protocol.EventEnded, "ABC123", protocol.EndedPayload{Reason: protocol.ReasonHostLeft}))
    if pc.cancelled != 1 {
        t.Fatalf("session end must cancel the precount")
    }
    if m.calls[len(m.calls)-1] != "stop" {
        t.Fatalf("session end must stop the clicks, got %v", m.calls)
    }
    if engine.calls[len(engine.calls)-1] != "stop" {
        t.Fatalf("session end must stop the engine, got %v", engine.calls)
    }
    if a.Code() != "" || a.Role() != "" {
        t.Fatalf("session binding must clear on end")
    }
    if len(ended) != 1 || ended[0].Reason != protocol.ReasonHostLeft {
        t.Fatalf("expected one HostLeft event, got %v", ended)
    }
}

func TestPongUpdatesRTT(t *testing.T) {
    engine := &fakeEngine{}
    a := New(config.Load(), engine)
    var rtts []time.Duration
    a.Bus().Subscribe(KindRTT, func(ev Event) { rtts = append(rtts, ev.RTT) })

    a.handle(context.Background(), protocol.New(protocol.EventPong, "", protocol.PingPayload{ServerTime: time.Now().UnixMilli() - 30}))
    if a.RTT() < 30*time.Millisecond || a.RTT() > 150*time.Millisecond {
        t.Fatalf("expected rtt near 30ms, got %v", a.RTT())
    }
    if len(rtts) != 1 {
        t.Fatalf("expected one rtt event, got %v", rtts)
    }
}

func TestBusMultipleListeners(t *testing.T) {
    b := NewBus()
    got := 0
    unsub := b.Subscribe(KindTempo, func(Event) { got++ })
    b.Subscribe(KindTempo, func(Event) { got++ })
    b.Publish(Event{Kind: KindTempo})
    if got != 2 {
        t.Fatalf("both listeners must fire, got %d", got)
    }
    unsub()
    b.Publish(Event{Kind: KindTempo})
    if got != 3 {
        t.Fatalf("unsubscribed listener must not fire, got %d", got)
    }
}
