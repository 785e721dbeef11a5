package auth

import (
    "testing"
    "time"
)

func TestRoundTrip(t *testing.T) {
    now := time.Now()
    tok := GenerateConnectToken("s3cret", "c1", now.Add(time.Hour).Unix())
    id, err := ValidateConnectToken("s3cret", tok, now, 30)
    if err != nil {
        t.Fatalf("validate: %v", err)
    }
    if id != "c1" {
        t.Fatalf("expected client id c1, got %q", id)
    }
}

func TestWrongSecretRejected(t *testing.T) {
    now := time.Now()
    tok := GenerateConnectToken("s3cret", "c1", now.Add(time.Hour).Unix())
    if _, err := ValidateConnectToken("other", tok, now, 30); err != ErrTokenSig {
        t.Fatalf("expected ErrTokenSig, got %v", err)
    }
}

func TestExpiredRejected(t *testing.T) {
    now := time.Now()
    tok := GenerateConnectToken("s3cret", "c1", now.Add(-2*time.Minute).Unix())
    if _, err := ValidateConnectToken("s3cret", tok, now, 30); err != ErrTokenExpired {
        t.Fatalf("expected ErrTokenExpired, got %v", err)
    }
    // Inside the skew window the token still passes.
    tok = GenerateConnectToken("s3cret", "c1", now.Add(-10*time.Second).Unix())
    if _, err := ValidateConnectToken("s3cret", tok, now, 30); err != nil {
        t.Fatalf("expected token within skew to pass, got %v", err)
    }
}

func TestGarbageRejected(t *testing.T) {
    if _, err := ValidateConnectToken("s3cret", "not-a-token", time.Now(), 30); err != ErrTokenFormat {
        t.Fatalf("expected ErrTokenFormat, got %v", err)
    }
}
