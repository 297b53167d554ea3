package sdruntime

import (
	"crypto/rand"
	"encoding/binary"
	"math"
)

// RandomSeed returns a non-negative seed from crypto/rand. It is used when
// a request carries no seed, so the seed actually used can be reported.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		return 42
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) & math.MaxInt64)
}
