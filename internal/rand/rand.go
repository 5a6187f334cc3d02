package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// RequestIDLength is the length of ids correlating RPC requests and responses.
const RequestIDLength = 16

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var source = newSource()

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSource() *lockedSource {
	seed := make([]byte, 16)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}
	return &lockedSource{
		//nolint:gosec // ids only need to be unique per connection
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

// NewRequestID returns a random base62 string of the given length.
// The distribution is not uniform, which is fine for correlation ids.
func NewRequestID(length int) string {
	buf := make([]byte, length)

	source.mu.Lock()
	for i := 0; i < length; i += 8 {
		v := source.rng.Uint64()
		for j := i; j < i+8 && j < length; j++ {
			buf[j] = charset[int(byte(v))%len(charset)]
			v >>= 8
		}
	}
	source.mu.Unlock()

	return string(buf)
}
