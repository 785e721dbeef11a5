package main

import (
    "context"
    "flag"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"

    "jamlink/sync/internal/agent"
    "jamlink/sync/internal/bridge"
    "jamlink/sync/internal/config"
    "jamlink/sync/internal/metronome"
    "jamlink/sync/internal/playback"
    "jamlink/sync/internal/protocol"
    "jamlink/sync/internal/trackresolve"
)

// jam is a reference client for the session coordinator. Run it as a
// host to create a session and drive playback, or as a guest to join
// an existing session and follow the host.
func main() {
    _ = godotenv.Load()

    role := flag.String("role", "host", "host or guest")
    code := flag.String("code", "", "session code to join (guest)")
    trackID := flag.String("track", "", "extraction id to load and play (host)")
    flag.Parse()

    cfg := config.Load()

    engine := playback.NewLogEngine()
    a := agent.New(cfg, engine)

    // Real metronome loop: system clock driving a logging click sink. The
    // scheduler clicks through playback; the precount handles count-ins.
    clock := metronome.NewSystemClock()
    sink := metronome.NewLogSink(clock)
    pc := metronome.NewPrecount(clock, sink, cfg.Metronome.BeatsPerBar)
    a.SetPrecounter(pc)
    sched := metronome.NewScheduler(clock, sink, cfg.Metronome.DefaultBPM, cfg.Metronome.BeatsPerBar)
    sched.SetLookahead(float64(cfg.Metronome.LookaheadMs) / 1000.0)
    a.SetMetronome(sched)

    port := bridge.NewPort()
    a.AttachBridge(port)
    notices, unsubscribe := port.Subscribe()
    defer unsubscribe()
    go func() {
        for n := range notices {
            log.Printf("[bridge] %s code=%s", n.Type, n.Code)
        }
    }()

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    if err := a.Dial(ctx, cfg.Client.CoordinatorURL); err != nil {
        log.Println("dial:", err)
        os.Exit(1)
    }
    defer a.Close()

    tick := time.Duration(cfg.Metronome.TickMs) * time.Millisecond
    go pc.Run(ctx, tick)
    go sched.Run(ctx, tick)

    switch *role {
    case "host":
        runHost(ctx, a, cfg, *trackID)
    case "guest":
        if *code == "" {
            log.Println("guest role requires -code")
            os.Exit(1)
        }
        if err := a.JoinSession(ctx, *code, cfg.Client.GuestName); err != nil {
            log.Println("join:", err)
            os.Exit(1)
        }
        log.Printf("[jam] joined session %s as %s", *code, cfg.Client.GuestName)
    default:
        log.Println("unknown role:", *role)
        os.Exit(1)
    }

    sigc := make(chan os.Signal, 1)
    signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
    <-sigc
    log.Printf("[jam] leaving session")
    leaveCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
    defer done()
    _ = a.LeaveSession(leaveCtx)
}

func runHost(ctx context.Context, a *agent.Agent, cfg config.Config, trackID string) {
    if err := a.CreateSession(ctx); err != nil {
        log.Println("create:", err)
        os.Exit(1)
    }

    // Session code arrives on the created ack; give the ack a moment.
    deadline := time.Now().Add(3 * time.Second)
    for a.Code() == "" && time.Now().Before(deadline) {
        time.Sleep(50 * time.Millisecond)
    }
    if a.Code() == "" {
        log.Println("no session code received")
        os.Exit(1)
    }
    log.Printf("[jam] hosting session %s", a.Code())

    if trackID == "" {
        return
    }

    resolver := trackresolve.NewClient(cfg.Tracks.ResolverURL)
    track, err := resolver.Resolve(ctx, trackID)
    if err != nil {
        log.Println("resolve track:", err)
        return
    }
    if err := a.LoadTrack(ctx, track); err != nil {
        log.Println("load track:", err)
        return
    }
    log.Printf("[jam] loaded track %s (%s)", track.TrackID, track.Title)

    if err := a.SendPlayback(ctx, protocol.CommandPlay, 0, cfg.Metronome.PrecountBeats); err != nil {
        log.Println("play:", err)
    }
}
