// Package hash computes content hashes of IR programs. The hashes key the
// artifact cache: two programs with the same hash lower to the same code.
package hash

import (
	"encoding/hex"

	"github.com/chazu/moonshine/pkg/ir"
	"lukechampine.com/blake3"
)

// Sum is a 32-byte content hash.
type Sum [32]byte

// String returns the hash as lowercase hex.
func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}

// Short returns the first 12 hex digits, for logs and artifact names.
func (s Sum) Short() string {
	return s.String()[:12]
}

// HashProgram computes the BLAKE3 hash of p's deterministic serialization.
func HashProgram(p ir.Program) Sum {
	return blake3.Sum256(Serialize(p))
}

// Key hashes p together with salt strings describing how an artifact was
// derived from it (backend, optimization level, link mode). Salts are
// length-prefixed, so ("ab", "c") and ("a", "bc") differ.
func Key(p ir.Program, salts ...string) Sum {
	s := &serializer{buf: Serialize(p)}
	for _, salt := range salts {
		s.writeByte(TagSalt)
		s.writeString(salt)
	}
	h := blake3.New(32, nil)
	h.Write(s.buf)
	var out Sum
	copy(out[:], h.Sum(nil))
	return out
}
