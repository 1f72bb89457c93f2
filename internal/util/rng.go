package util

import (
	crand "crypto/rand"
	"math/rand/v2"
	"sync"
)

// Bounds of the nonces handed out for arranged connections.
const (
	NonceMin uint32 = 0x10000000
	NonceMax uint32 = 0xFFFFFFFF
)

// NonceSource produces connection nonces.
type NonceSource interface {
	Nonce() uint32
}

// RandomSource draws nonces uniformly from [NonceMin, NonceMax]. It is safe
// for concurrent use.
type RandomSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource returns a source seeded from the operating system.
func NewRandomSource() *RandomSource {
	var seed [32]byte
	crand.Read(seed[:])
	return &RandomSource{rng: rand.New(rand.NewChaCha8(seed))}
}

// NewSeededSource returns a deterministic source, for reproducible runs.
func NewSeededSource(seed uint64) *RandomSource {
	return &RandomSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Nonce returns the next nonce.
func (s *RandomSource) Nonce() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NonceMin + s.rng.Uint32N(NonceMax-NonceMin+1)
}
