package utils

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken returns n random characters from [A-Za-z0-9].
func GenerateToken(n int) string {
	max := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		b[i] = tokenAlphabet[idx.Int64()]
	}
	return string(b)
}

// GenerateSessionID generates a unique websocket session ID
func GenerateSessionID() string {
	return "session_" + uuid.NewString()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GenerateInstanceID identifies this process on the event bus.
func GenerateInstanceID() string {
	return uuid.NewString()
}
