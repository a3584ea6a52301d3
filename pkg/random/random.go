// Package random generates the opaque identifiers used for slugs and
// blob-name disambiguation.
package random

import (
	"crypto/rand"
	"encoding/hex"
)

// Hex returns a random lowercase hex string of the requested length.
func Hex(length int) string {
	raw := make([]byte, (length+1)/2)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand failing means the process has bigger problems.
		panic(err)
	}
	return hex.EncodeToString(raw)[:length]
}
