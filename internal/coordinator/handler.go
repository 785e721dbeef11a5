package coordinator

import (
    "context"
    "encoding/json"
    "log"
    "net/http"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"

    "jamlink/sync/internal/auth"
    "jamlink/sync/internal/config"
    "jamlink/sync/internal/protocol"

    ws "nhooyr.io/websocket"
)

// outboundQueue bounds how far a guest may fall behind before being dropped.
const outboundQueue = 32

// Server upgrades websocket connections and binds them to the coordinator.
type Server struct {
    Cfg   config.Config
    Coord *Coordinator
}

func NewServer(cfg config.Config, coord *Coordinator) *Server {
    return &Server{Cfg: cfg, Coord: coord}
}

// wsClient adapts a websocket connection to the coordinator's endpoint
// contract: a buffered outbound queue drained by one writer goroutine.
type wsClient struct {
    id   string
    conn *ws.Conn

    out  chan protocol.Message
    once sync.Once
    done chan struct{}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(msg protocol.Message) bool {
    select {
    case <-c.done:
        return false
    case c.out <- msg:
        return true
    default:
        return false
    }
}

func (c *wsClient) Kick(reason string) {
    c.close(ws.StatusPolicyViolation, reason)
}

func (c *wsClient) close(status ws.StatusCode, reason string) {
    c.once.Do(func() {
        close(c.done)
        _ = c.conn.Close(status, reason)
    })
}

func (c *wsClient) writeLoop(ctx context.Context) {
    for {
        select {
        case <-c.done:
            return
        case <-ctx.Done():
            return
        case msg := <-c.out:
            b, err := json.Marshal(msg)
            if err != nil {
                continue
            }
            wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
            err = c.conn.Write(wctx, ws.MessageText, b)
            cancel()
            if err != nil {
                return
            }
        }
    }
}

// HandleWS is the coordinator's websocket endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
    if s.Cfg.Auth.TokenSecret != "" {
        authz := r.Header.Get("Authorization")
        if !strings.HasPrefix(authz, "Bearer ") {
            http.Error(w, "missing bearer token", http.StatusUnauthorized)
            return
        }
        token := strings.TrimPrefix(authz, "Bearer ")
        if _, err := auth.ValidateConnectToken(s.Cfg.Auth.TokenSecret, token, time.Now(), s.Cfg.Auth.TokenSkewSecs); err != nil {
            http.Error(w, "invalid token", http.StatusUnauthorized)
            return
        }
    }

    conn, err := ws.Accept(w, r, nil)
    if err != nil {
        log.Printf("[coord] ws accept: %v", err)
        return
    }

    cl := &wsClient{
        id:   uuid.New().String(),
        conn: conn,
        out:  make(chan protocol.Message, outboundQueue),
        done: make(chan struct{}),
    }
    s.Coord.Register(cl)
    log.Printf("[coord] connected conn=%s", cl.id)

    ctx := r.Context()
    go cl.writeLoop(ctx)

    for {
        typ, data, err := conn.Read(ctx)
        if err != nil {
            break
        }
        if typ != ws.MessageText && typ != ws.MessageBinary {
            continue
        }
        var msg protocol.Message
        if err := json.Unmarshal(data, &msg); err != nil {
            log.Printf("[coord] invalid frame from %s: %v", cl.id, err)
            continue
        }
        s.Coord.HandleMessage(cl, msg)
    }

    cl.close(ws.StatusNormalClosure, "done")
    s.Coord.Disconnect(cl)
    log.Printf("[coord] disconnected conn=%s", cl.id)
}
