package session

import "testing"

func TestSingleHost(t *testing.T) {
    s := New("ABC123", "h1", "alice")
    if err := s.AddGuest("g1", "bob"); err != nil {
        t.Fatalf("add guest: %v", err)
    }
    if err := s.AddGuest("g2", "carol"); err != nil {
        t.Fatalf("add guest: %v", err)
    }

    hosts := 0
    for _, p := range s.Participants() {
        if p.Role == RoleHost {
            hosts++
        }
    }
    if hosts != 1 {
        t.Fatalf("expected exactly one host, got %d", hosts)
    }
    if !s.IsHost("h1") {
        t.Fatalf("h1 should be host")
    }
    if s.IsHost("g1") {
        t.Fatalf("g1 must not be host")
    }
}

func TestEndIsTerminal(t *testing.T) {
    s := New("ABC123", "h1", "alice")
    _ = s.AddGuest("g1", "bob")

    removed := s.End()
    if len(removed) != 2 {
        t.Fatalf("expected 2 participants removed on end, got %d", len(removed))
    }
    if s.State() != StateEnded {
        t.Fatalf("expected ended state")
    }
    // Roster cleared atomically with the transition.
    if n := len(s.Participants()); n != 0 {
        t.Fatalf("expected empty roster after end, got %d", n)
    }
    // Second end is a no-op.
    if again := s.End(); again != nil {
        t.Fatalf("expected nil on double end, got %v", again)
    }
    if err := s.AddGuest("g2", "carol"); err != ErrSessionEnded {
        t.Fatalf("expected ErrSessionEnded joining ended session, got %v", err)
    }
    if s.IsHost("h1") {
        t.Fatalf("ended session has no host")
    }
}

func TestTrackReplacedWholesale(t *testing.T) {
    s := New("ABC123", "h1", "alice")
    if _, ok := s.Track(); ok {
        t.Fatalf("fresh session should have no track")
    }
    s.SetTrack(TrackDescriptor{TrackID: "t1", StemURLs: map[string]string{"vocals": "u1"}})
    s.SetTrack(TrackDescriptor{TrackID: "t2"})
    tr, ok := s.Track()
    if !ok || tr.TrackID != "t2" {
        t.Fatalf("expected t2 after replacement, got %+v ok=%v", tr, ok)
    }
    if tr.StemURLs != nil {
        t.Fatalf("old stems must not survive replacement")
    }
}
