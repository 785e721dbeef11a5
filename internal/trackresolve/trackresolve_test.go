package trackresolve

import (
    "context"
    "net/http"
    "net/http/httptest"
    "testing"
)

func TestResolve(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path != "/extractions/x1" {
            http.NotFound(w, r)
            return
        }
        w.Header().Set("Content-Type", "application/json")
        w.Write([]byte(`{"trackId":"t1","title":"Song","stems":{"vocals":"http://m/v","drums":"http://m/d"}}`))
    }))
    defer srv.Close()

    c := NewClient(srv.URL)
    tr, err := c.Resolve(context.Background(), "x1")
    if err != nil {
        t.Fatalf("resolve: %v", err)
    }
    if tr.TrackID != "t1" || tr.Title != "Song" || tr.StemURLs["drums"] != "http://m/d" {
        t.Fatalf("unexpected track: %+v", tr)
    }
}

func TestResolveErrorStatus(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        http.Error(w, "extraction pending", http.StatusConflict)
    }))
    defer srv.Close()

    c := NewClient(srv.URL)
    if _, err := c.Resolve(context.Background(), "x1"); err == nil {
        t.Fatalf("expected error on non-2xx status")
    }
}
