package tokenstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"
)

const opaqueByteLength = 32

// randomSource is swapped by tests to force deterministic or failing reads.
var randomSource io.Reader = rand.Reader

func newTokenID(now time.Time) string {
	nowString := now.UTC().Format(time.RFC3339Nano)
	return base64.RawURLEncoding.EncodeToString([]byte(nowString))
}

func generateOpaque() (string, string, error) {
	randomBytes := make([]byte, opaqueByteLength)
	if _, err := io.ReadFull(randomSource, randomBytes); err != nil {
		return "", "", fmt.Errorf("tokenstore.random: %w", err)
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
