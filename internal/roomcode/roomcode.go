// Package roomcode generates short human-readable room join codes.
package roomcode

import (
	"crypto/rand"
	"math/big"
)

// Alphabet holds the 24 symbols codes are drawn from. I and O are excluded
// because they read as 1 and 0.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"

// DefaultLength is the code length used by the room directory.
const DefaultLength = 5

// Generate returns a random code of the given length. Uniqueness is not
// guaranteed here; the caller resolves collisions by insert-and-retry.
func Generate(length int) string {
	if length <= 0 {
		length = DefaultLength
	}

	max := big.NewInt(int64(len(Alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand is unavailable; fall back to a fixed symbol rather
			// than failing room creation outright.
			out[i] = Alphabet[0]
			continue
		}
		out[i] = Alphabet[n.Int64()]
	}
	return string(out)
}
