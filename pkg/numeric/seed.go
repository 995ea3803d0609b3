package numeric

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
)

// DeriveSeed maps (base, label, index) to an independent stream seed.
func DeriveSeed(base int64, label string, index int) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(base))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(label))
	binary.LittleEndian.PutUint64(buf[:], uint64(index))
	_, _ = h.Write(buf[:])
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// NewRand returns a generator owned by a single worker.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
