// Package coordinator is the authoritative session registry. It validates
// roles, relays host commands verbatim to every other participant, and ends
// a session the moment its host is gone.
package coordinator

import (
    "context"
    "log"
    "sync"
    "time"

    "jamlink/sync/internal/config"
    "jamlink/sync/internal/protocol"
    "jamlink/sync/internal/rtt"
    "jamlink/sync/internal/session"
)

// endpoint is a connected client as the coordinator sees it. Send must not
// block: it enqueues and reports false when the peer cannot keep up, at
// which point the coordinator drops the connection rather than letting it
// stall the session.
type endpoint interface {
    ID() string
    Send(msg protocol.Message) bool
    Kick(reason string)
}

type member struct {
    ep   endpoint
    code string // session code, empty while not in a session
    rtt  *rtt.Estimator
}

type Coordinator struct {
    cfg config.Config

    mu       sync.Mutex
    sessions map[string]*session.Session
    members  map[string]*member // by connection id
}

func New(cfg config.Config) *Coordinator {
    return &Coordinator{
        cfg:      cfg,
        sessions: make(map[string]*session.Session),
        members:  make(map[string]*member),
    }
}

// Register adds a freshly connected endpoint.
func (c *Coordinator) Register(ep endpoint) {
    c.mu.Lock()
    c.members[ep.ID()] = &member{ep: ep, rtt: rtt.NewEstimator()}
    c.mu.Unlock()
}

// Disconnect removes the endpoint and applies the session consequences: a
// vanished host ends the session, a vanished guest shrinks the roster.
func (c *Coordinator) Disconnect(ep endpoint) {
    c.mu.Lock()
    m := c.members[ep.ID()]
    if m == nil {
        c.mu.Unlock()
        return
    }
    delete(c.members, ep.ID())
    code := m.code
    c.mu.Unlock()
    if code != "" {
        c.departed(ep.ID(), code, protocol.ReasonHostLeft)
    }
}

// HandleMessage dispatches one inbound message from ep.
func (c *Coordinator) HandleMessage(ep endpoint, msg protocol.Message) {
    switch msg.Type {
    case protocol.EventCreate:
        c.create(ep)
    case protocol.EventJoin:
        var p protocol.JoinPayload
        if err := msg.Decode(&p); err != nil {
            log.Printf("[coord] bad join from %s: %v", ep.ID(), err)
            return
        }
        c.join(ep, p.Code, p.GuestName)
    case protocol.EventEnd:
        c.end(ep)
    case protocol.EventLeave:
        c.leave(ep)
    case protocol.EventPing:
        // Reflect so the sender can compute its own round trip.
        ep.Send(protocol.Message{Type: protocol.EventPong, TsMs: time.Now().UnixMilli(), Payload: msg.Payload})
    case protocol.EventPong:
        c.pong(ep, msg)
    default:
        if protocol.IsHostCommand(msg.Type) {
            c.relay(ep, msg)
            return
        }
        log.Printf("[coord] unknown message type %q from %s", msg.Type, ep.ID())
    }
}

func (c *Coordinator) create(ep endpoint) {
    c.mu.Lock()
    m := c.members[ep.ID()]
    if m == nil {
        c.mu.Unlock()
        return
    }
    prior := m.code
    c.mu.Unlock()
    // Creating while in a session implicitly leaves the old one first.
    if prior != "" {
        c.leave(ep)
    }

    c.mu.Lock()
    code := c.uniqueCode()
    sess := session.New(code, ep.ID(), "host")
    c.sessions[code] = sess
    if m := c.members[ep.ID()]; m != nil {
        m.code = code
    }
    c.mu.Unlock()

    metricSessionsCreated.Inc()
    log.Printf("[coord] session created code=%s host=%s", code, ep.ID())
    ep.Send(protocol.New(protocol.EventCreated, code, protocol.CreatedPayload{Code: code}))
    c.broadcastRoster(sess)
}

func (c *Coordinator) join(ep endpoint, code, name string) {
    c.mu.Lock()
    m := c.members[ep.ID()]
    if m == nil {
        c.mu.Unlock()
        return
    }
    prior := m.code
    c.mu.Unlock()
    if prior != "" {
        c.leave(ep)
    }

    c.mu.Lock()
    sess := c.sessions[code]
    c.mu.Unlock()
    if sess == nil {
        ep.Send(protocol.New(protocol.EventJoined, code, protocol.JoinedPayload{Error: session.ErrNotFound.Error()}))
        return
    }
    if err := sess.AddGuest(ep.ID(), name); err != nil {
        ep.Send(protocol.New(protocol.EventJoined, code, protocol.JoinedPayload{Error: err.Error()}))
        return
    }
    c.mu.Lock()
    if m := c.members[ep.ID()]; m != nil {
        m.code = code
        m.rtt.Reset()
    }
    c.mu.Unlock()

    metricJoins.Inc()
    log.Printf("[coord] guest joined code=%s conn=%s name=%s", code, ep.ID(), name)
    ep.Send(protocol.New(protocol.EventJoined, code, protocol.JoinedPayload{Code: code, Role: string(session.RoleGuest)}))
    c.broadcastRoster(sess)
}

// end handles an explicit end request; only the host may end a session.
func (c *Coordinator) end(ep endpoint) {
    sess := c.sessionOf(ep.ID())
    if sess == nil {
        ep.Send(protocol.New(protocol.EventEnded, "", protocol.EndedPayload{Error: session.ErrNotFound.Error()}))
        return
    }
    if !sess.IsHost(ep.ID()) {
        ep.Send(protocol.New(protocol.EventEnded, sess.Code(), protocol.EndedPayload{Error: session.ErrUnauthorized.Error()}))
        return
    }
    c.endSession(sess, protocol.ReasonHostEnded)
}

// leave removes ep from its session. A leaving host ends the session for
// everyone, same as a host disconnect.
func (c *Coordinator) leave(ep endpoint) {
    c.mu.Lock()
    m := c.members[ep.ID()]
    var code string
    if m != nil {
        code = m.code
        m.code = ""
    }
    c.mu.Unlock()
    if code == "" {
        return
    }
    c.departed(ep.ID(), code, protocol.ReasonHostLeft)
}

// departed applies the consequences of connID no longer being in session
// `code`, whether by leave or by disconnect.
func (c *Coordinator) departed(connID, code, hostGoneReason string) {
    c.mu.Lock()
    sess := c.sessions[code]
    c.mu.Unlock()
    if sess == nil {
        return
    }
    if sess.IsHost(connID) {
        c.endSession(sess, hostGoneReason)
        return
    }
    if _, ok := sess.Remove(connID); ok {
        log.Printf("[coord] guest left code=%s conn=%s", code, connID)
        c.broadcastRoster(sess)
    }
}

// endSession transitions the session, clears every member's binding and
// tells each remaining participant exactly once why it ended.
func (c *Coordinator) endSession(sess *session.Session, reason string) {
    removed := sess.End()
    if removed == nil {
        return
    }
    c.mu.Lock()
    delete(c.sessions, sess.Code())
    targets := make([]endpoint, 0, len(removed))
    for _, p := range removed {
        if m := c.members[p.ConnectionID]; m != nil {
            m.code = ""
            targets = append(targets, m.ep)
        }
    }
    c.mu.Unlock()

    metricSessionsEnded.WithLabelValues(reason).Inc()
    log.Printf("[coord] session ended code=%s reason=%s participants=%d", sess.Code(), reason, len(targets))
    msg := protocol.New(protocol.EventEnded, sess.Code(), protocol.EndedPayload{Reason: reason})
    for _, ep := range targets {
        ep.Send(msg)
    }
}

// relay forwards a host command verbatim to every other participant.
// Non-host senders are dropped and told so; the session carries on.
func (c *Coordinator) relay(ep endpoint, msg protocol.Message) {
    sess := c.sessionOf(ep.ID())
    if sess == nil || !sess.IsHost(ep.ID()) {
        metricRelayUnauthorized.Inc()
        log.Printf("[coord] dropping unauthorized %s from %s", msg.Type, ep.ID())
        ep.Send(protocol.New(protocol.EventError, msg.Code, protocol.ErrorPayload{
            Request: msg.Type,
            Error:   session.ErrUnauthorized.Error(),
        }))
        return
    }
    if msg.Type == protocol.EventTrackLoad {
        var p protocol.TrackLoadPayload
        if err := msg.Decode(&p); err == nil {
            sess.SetTrack(session.TrackDescriptor{
                TrackID:   p.TrackID,
                Title:     p.TrackMetadata.Title,
                StemURLs:  p.TrackMetadata.StemURLs,
                BeatTimes: p.TrackMetadata.BeatTimes,
            })
        }
    }
    metricRelays.WithLabelValues(msg.Type).Inc()
    c.fanout(sess, ep.ID(), msg)
}

// fanout delivers msg to every participant except the sender. Slow or dead
// guests are kicked, never waited on.
func (c *Coordinator) fanout(sess *session.Session, senderID string, msg protocol.Message) {
    var stalled []endpoint
    c.mu.Lock()
    for _, p := range sess.Participants() {
        if p.ConnectionID == senderID {
            continue
        }
        m := c.members[p.ConnectionID]
        if m == nil {
            continue
        }
        if !m.ep.Send(msg) {
            stalled = append(stalled, m.ep)
        }
    }
    c.mu.Unlock()
    for _, ep := range stalled {
        metricFanoutDrops.Inc()
        log.Printf("[coord] dropping stalled guest conn=%s", ep.ID())
        ep.Kick("outbound queue full")
        c.Disconnect(ep)
    }
}

func (c *Coordinator) broadcastRoster(sess *session.Session) {
    parts := sess.Participants()
    infos := make([]protocol.ParticipantInfo, 0, len(parts))
    for _, p := range parts {
        infos = append(infos, protocol.ParticipantInfo{ConnectionID: p.ConnectionID, Name: p.Name, Role: string(p.Role)})
    }
    msg := protocol.New(protocol.EventParticipants, sess.Code(), protocol.ParticipantsPayload{Participants: infos})
    c.mu.Lock()
    for _, p := range parts {
        if m := c.members[p.ConnectionID]; m != nil {
            m.ep.Send(msg)
        }
    }
    c.mu.Unlock()
}

// pong closes the loop on a coordinator-originated ping.
func (c *Coordinator) pong(ep endpoint, msg protocol.Message) {
    var p protocol.PingPayload
    if err := msg.Decode(&p); err != nil {
        return
    }
    sample := time.Duration(time.Now().UnixMilli()-p.ServerTime) * time.Millisecond
    if sample < 0 {
        return
    }
    c.mu.Lock()
    m := c.members[ep.ID()]
    if m != nil {
        m.rtt.Add(sample)
    }
    c.mu.Unlock()
    metricRTT.Observe(float64(sample.Milliseconds()))
}

// RTTEstimate exposes the moving average for a connection (diagnostics).
func (c *Coordinator) RTTEstimate(connID string) time.Duration {
    c.mu.Lock()
    defer c.mu.Unlock()
    if m := c.members[connID]; m != nil {
        return m.rtt.Estimate()
    }
    return 0
}

// SessionFor reports the session a connection currently belongs to.
func (c *Coordinator) SessionFor(connID string) *session.Session {
    return c.sessionOf(connID)
}

func (c *Coordinator) sessionOf(connID string) *session.Session {
    c.mu.Lock()
    defer c.mu.Unlock()
    m := c.members[connID]
    if m == nil || m.code == "" {
        return nil
    }
    return c.sessions[m.code]
}

// RunPings emits a timestamped ping to every connection on the configured
// interval until ctx is done.
func (c *Coordinator) RunPings(ctx context.Context) {
    interval := time.Duration(c.cfg.Sync.PingSeconds) * time.Second
    t := time.NewTicker(interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            msg := protocol.New(protocol.EventPing, "", protocol.PingPayload{ServerTime: time.Now().UnixMilli()})
            c.mu.Lock()
            for _, m := range c.members {
                m.ep.Send(msg)
            }
            c.mu.Unlock()
        }
    }
}
