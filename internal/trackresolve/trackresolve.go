package trackresolve

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"

    "jamlink/sync/internal/session"
)

// Client resolves an extraction identifier against the media pipeline into
// a playable track with per-stem media URLs. The pipeline itself (download,
// stem separation) lives outside this module.
type Client interface {
    Resolve(ctx context.Context, extractionID string) (session.TrackDescriptor, error)
}

type HTTPClient struct {
    http *http.Client
    base string
}

func NewClient(base string) *HTTPClient {
    return &HTTPClient{http: &http.Client{}, base: base}
}

func (c *HTTPClient) Resolve(ctx context.Context, extractionID string) (session.TrackDescriptor, error) {
    u := c.base + "/extractions/" + url.PathEscape(extractionID)
    req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
    if err != nil {
        return session.TrackDescriptor{}, err
    }
    resp, err := c.http.Do(req)
    if err != nil {
        return session.TrackDescriptor{}, err
    }
    defer resp.Body.Close()
    if resp.StatusCode/100 != 2 {
        b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
        return session.TrackDescriptor{}, fmt.Errorf("trackresolve Resolve: %s: %s", resp.Status, string(b))
    }
    var parsed struct {
        TrackID   string            `json:"trackId"`
        Title     string            `json:"title"`
        Stems     map[string]string `json:"stems"`
        BeatTimes []float64         `json:"beatTimes"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
        return session.TrackDescriptor{}, err
    }
    if parsed.TrackID == "" {
        return session.TrackDescriptor{}, fmt.Errorf("trackresolve Resolve: empty track id")
    }
    return session.TrackDescriptor{
        TrackID:   parsed.TrackID,
        Title:     parsed.Title,
        StemURLs:  parsed.Stems,
        BeatTimes: parsed.BeatTimes,
    }, nil
}
