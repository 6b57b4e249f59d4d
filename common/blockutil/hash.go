package blockutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is the hex sha256 of an encoded envelope. Signatures collected for
// a config update are keyed by it.
func Digest(envelope []byte) string {
	sum := sha256.Sum256(envelope)
	return hex.EncodeToString(sum[:])
}
