// Package bridge is the narrow lifecycle port between the hosting UI context
// and the embedded playback surface. It carries only session start/end
// notices with a fixed, versioned schema; it is not a general side channel.
package bridge

import "sync"

const SchemaVersion = 1

const (
    NoticeSessionStarted = "sessionStarted"
    NoticeSessionEnded   = "sessionEnded"
)

type Notice struct {
    Version int    `json:"version"`
    Type    string `json:"type"`
    Code    string `json:"code,omitempty"`
}

// Port fans notices out to subscribers. Delivery is non-blocking; a
// subscriber that stopped draining misses notices rather than stalling the
// publisher.
type Port struct {
    mu   sync.Mutex
    subs map[int]chan Notice
    next int
}

func NewPort() *Port {
    return &Port{subs: make(map[int]chan Notice)}
}

// Subscribe returns a notice channel and an unsubscribe func.
func (p *Port) Subscribe() (<-chan Notice, func()) {
    p.mu.Lock()
    id := p.next
    p.next++
    ch := make(chan Notice, 4)
    p.subs[id] = ch
    p.mu.Unlock()
    return ch, func() {
        p.mu.Lock()
        if c, ok := p.subs[id]; ok {
            delete(p.subs, id)
            close(c)
        }
        p.mu.Unlock()
    }
}

// SessionStarted publishes a start notice for code.
func (p *Port) SessionStarted(code string) {
    p.publish(Notice{Version: SchemaVersion, Type: NoticeSessionStarted, Code: code})
}

// SessionEnded publishes an end notice.
func (p *Port) SessionEnded(code string) {
    p.publish(Notice{Version: SchemaVersion, Type: NoticeSessionEnded, Code: code})
}

func (p *Port) publish(n Notice) {
    p.mu.Lock()
    defer p.mu.Unlock()
    for _, ch := range p.subs {
        select {
        case ch <- n:
        default:
        }
    }
}
