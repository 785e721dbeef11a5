package config

import (
    "os"
    "testing"
)

func TestLoadDefaults(t *testing.T) {
    // Clear relevant envs
    os.Unsetenv("PORT")
    os.Unsetenv("SYNC_HEARTBEAT_SECONDS")
    os.Unsetenv("METRONOME_DEFAULT_BPM")
    os.Unsetenv("METRONOME_PRECOUNT_BEATS")

    c := Load()

    if c.Server.Port != "8080" {
        t.Fatalf("expected default port 8080, got %q", c.Server.Port)
    }
    if c.Sync.HeartbeatSeconds != 5 {
        t.Fatalf("expected default heartbeat 5s, got %d", c.Sync.HeartbeatSeconds)
    }
    if c.Metronome.DefaultBPM != 120 {
        t.Fatalf("expected default bpm 120, got %v", c.Metronome.DefaultBPM)
    }
    if c.Metronome.PrecountBeats != 4 {
        t.Fatalf("expected default precount 4, got %d", c.Metronome.PrecountBeats)
    }
    if c.Sync.DriftThresholdSec != 0.35 {
        t.Fatalf("expected default drift threshold 0.35, got %v", c.Sync.DriftThresholdSec)
    }
}

func TestLoadEnvOverride(t *testing.T) {
    os.Setenv("SYNC_HEARTBEAT_SECONDS", "2")
    os.Setenv("METRONOME_BEATS_PER_BAR", "3")
    defer os.Unsetenv("SYNC_HEARTBEAT_SECONDS")
    defer os.Unsetenv("METRONOME_BEATS_PER_BAR")

    c := Load()

    if c.Sync.HeartbeatSeconds != 2 {
        t.Fatalf("expected heartbeat 2s from env, got %d", c.Sync.HeartbeatSeconds)
    }
    if c.Metronome.BeatsPerBar != 3 {
        t.Fatalf("expected beats per bar 3 from env, got %d", c.Metronome.BeatsPerBar)
    }
}
