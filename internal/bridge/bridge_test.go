package bridge

import "testing"

func TestNoticesCarrySchemaVersion(t *testing.T) {
    p := NewPort()
    ch, cancel := p.Subscribe()
    defer cancel()

    p.SessionStarted("ABC123")
    n := <-ch
    if n.Version != SchemaVersion || n.Type != NoticeSessionStarted || n.Code != "ABC123" {
        t.Fatalf("unexpected notice %+v", n)
    }
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
    p := NewPort()
    ch, cancel := p.Subscribe()
    cancel()
    p.SessionEnded("ABC123")
    if _, ok := <-ch; ok {
        t.Fatalf("expected closed channel after unsubscribe")
    }
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
    p := NewPort()
    _, cancel := p.Subscribe() // never drained
    defer cancel()
    for i := 0; i < 20; i++ {
        p.SessionStarted("ABC123") // must not deadlock
    }
}
