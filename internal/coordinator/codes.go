package coordinator

import (
    crand "crypto/rand"
    "math/big"
    "math/rand"
)

const codeLength = 6

// codeChars omits 0/O and 1/I so codes survive being read aloud.
const codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateCode() string {
    code := make([]byte, codeLength)
    for i := range code {
        n, err := crand.Int(crand.Reader, big.NewInt(int64(len(codeChars))))
        if err != nil {
            // fallback to math/rand if crypto fails
            code[i] = codeChars[rand.Intn(len(codeChars))]
            continue
        }
        code[i] = codeChars[n.Int64()]
    }
    return string(code)
}

// uniqueCode retries until the code does not collide with an active session.
// Caller holds the coordinator lock.
func (c *Coordinator) uniqueCode() string {
    for {
        code := generateCode()
        if _, exists := c.sessions[code]; !exists {
            return code
        }
    }
}
