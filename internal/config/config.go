package config

import (
    "log"
    "strings"

    "github.com/spf13/viper"
)

type Config struct {
    Server struct {
        Port     string
        LogLevel string
    }
    Auth struct {
        TokenSecret   string
        TokenSkewSecs int
    }
    Sync struct {
        HeartbeatSeconds  int
        PingSeconds       int
        HostGraceSeconds  int
        DriftThresholdSec float64
    }
    Metronome struct {
        LookaheadMs   int
        TickMs        int
        DefaultBPM    float64
        BeatsPerBar   int
        PrecountBeats int
    }
    Tracks struct {
        ResolverURL string
    }
    Client struct {
        CoordinatorURL string
        GuestName      string
    }
}

func Load() Config {
    v := viper.New()
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()

    // Defaults. Musical fallbacks (120 bpm, 4/4, 4-beat count-in) live here
    // and nowhere else; packages take them through Config.
    v.SetDefault("server.port", 8080)
    v.SetDefault("server.log_level", "info")

    v.SetDefault("auth.token_skew_secs", 30)

    v.SetDefault("sync.heartbeat_seconds", 5)
    v.SetDefault("sync.ping_seconds", 3)
    v.SetDefault("sync.host_grace_seconds", 12)
    v.SetDefault("sync.drift_threshold_sec", 0.35)

    v.SetDefault("metronome.lookahead_ms", 100)
    v.SetDefault("metronome.tick_ms", 25)
    v.SetDefault("metronome.default_bpm", 120)
    v.SetDefault("metronome.beats_per_bar", 4)
    v.SetDefault("metronome.precount_beats", 4)

    v.SetDefault("client.coordinator_url", "ws://localhost:8080/ws")
    v.SetDefault("client.guest_name", "guest")

    // Map envs
    v.BindEnv("server.port", "PORT")
    v.BindEnv("server.log_level", "LOG_LEVEL")

    v.BindEnv("auth.token_secret", "AUTH_TOKEN_SECRET")
    v.BindEnv("auth.token_skew_secs", "AUTH_TOKEN_SKEW_SECS")

    v.BindEnv("sync.heartbeat_seconds", "SYNC_HEARTBEAT_SECONDS")
    v.BindEnv("sync.ping_seconds", "SYNC_PING_SECONDS")
    v.BindEnv("sync.host_grace_seconds", "SYNC_HOST_GRACE_SECONDS")
    v.BindEnv("sync.drift_threshold_sec", "SYNC_DRIFT_THRESHOLD_SEC")

    v.BindEnv("metronome.lookahead_ms", "METRONOME_LOOKAHEAD_MS")
    v.BindEnv("metronome.tick_ms", "METRONOME_TICK_MS")
    v.BindEnv("metronome.default_bpm", "METRONOME_DEFAULT_BPM")
    v.BindEnv("metronome.beats_per_bar", "METRONOME_BEATS_PER_BAR")
    v.BindEnv("metronome.precount_beats", "METRONOME_PRECOUNT_BEATS")

    v.BindEnv("tracks.resolver_url", "TRACKS_RESOLVER_URL")

    v.BindEnv("client.coordinator_url", "COORDINATOR_URL")
    v.BindEnv("client.guest_name", "GUEST_NAME")

    var c Config
    c.Server.Port = v.GetString("server.port")
    c.Server.LogLevel = v.GetString("server.log_level")

    c.Auth.TokenSecret = v.GetString("auth.token_secret")
    c.Auth.TokenSkewSecs = v.GetInt("auth.token_skew_secs")

    c.Sync.HeartbeatSeconds = v.GetInt("sync.heartbeat_seconds")
    c.Sync.PingSeconds = v.GetInt("sync.ping_seconds")
    c.Sync.HostGraceSeconds = v.GetInt("sync.host_grace_seconds")
    c.Sync.DriftThresholdSec = v.GetFloat64("sync.drift_threshold_sec")

    c.Metronome.LookaheadMs = v.GetInt("metronome.lookahead_ms")
    c.Metronome.TickMs = v.GetInt("metronome.tick_ms")
    c.Metronome.DefaultBPM = v.GetFloat64("metronome.default_bpm")
    c.Metronome.BeatsPerBar = v.GetInt("metronome.beats_per_bar")
    c.Metronome.PrecountBeats = v.GetInt("metronome.precount_beats")

    c.Tracks.ResolverURL = v.GetString("tracks.resolver_url")

    c.Client.CoordinatorURL = v.GetString("client.coordinator_url")
    c.Client.GuestName = v.GetString("client.guest_name")

    log.Printf("config loaded: port=%s heartbeat=%ds lookahead=%dms", c.Server.Port, c.Sync.HeartbeatSeconds, c.Metronome.LookaheadMs)
    return c
}
