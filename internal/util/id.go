package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idBytes = 16

// NewID returns a random identifier, optionally tagged with a short
// prefix ("usr", "wsp", "doc", ...) so IDs are self-describing in logs.
func NewID(prefix string) string {
	raw := make([]byte, idBytes)
	_, _ = rand.Read(raw)
	id := hex.EncodeToString(raw)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
