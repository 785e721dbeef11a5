// Package auth issues and checks the optional connect tokens that gate the
// coordinator's websocket endpoint. When no secret is configured the
// endpoint is open; identity beyond this shared-secret gate is out of scope.
package auth

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/base64"
    "encoding/hex"
    "errors"
    "strconv"
    "strings"
    "time"
)

var (
    ErrTokenFormat  = errors.New("invalid token format")
    ErrTokenSig     = errors.New("invalid token signature")
    ErrTokenExpired = errors.New("token expired")
)

// GenerateConnectToken builds a bearer token for a client.
// Format: base64url(client_id + "." + exp_unix + "." + hex(hmac_sha256(secret, client_id+"."+exp))).
func GenerateConnectToken(secret, clientID string, expUnix int64) string {
    msg := clientID + "." + strconv.FormatInt(expUnix, 10)
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write([]byte(msg))
    raw := msg + "." + hex.EncodeToString(mac.Sum(nil))
    return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ValidateConnectToken checks signature and expiry and returns the embedded
// client id. The skew allows for modest clock disagreement between minting
// and checking hosts.
func ValidateConnectToken(secret, token string, now time.Time, skewSeconds int) (string, error) {
    b, err := base64.RawURLEncoding.DecodeString(token)
    if err != nil {
        return "", ErrTokenFormat
    }
    parts := strings.Split(string(b), ".")
    if len(parts) != 3 {
        return "", ErrTokenFormat
    }
    clientID, expStr, sigHex := parts[0], parts[1], parts[2]
    exp, err := strconv.ParseInt(expStr, 10, 64)
    if err != nil {
        return "", ErrTokenFormat
    }
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write([]byte(clientID + "." + expStr))
    want := mac.Sum(nil)
    got, err := hex.DecodeString(sigHex)
    if err != nil {
        return "", ErrTokenFormat
    }
    if !hmac.Equal(want, got) {
        return "", ErrTokenSig
    }
    if now.Unix() > exp+int64(skewSeconds) {
        return "", ErrTokenExpired
    }
    return clientID, nil
}
