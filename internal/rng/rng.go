package rng

import (
	crand "crypto/rand"
	"encoding/binary"
	rand "math/rand/v2"
)

const (
	goldenRatio64 = 0x9e3779b97f4a7c15
)

// Source supplies randomness to the engine. Every call carries a seed that
// the engine derives per draw; deterministic sources must return the same
// answer for the same seed.
type Source interface {
	// Index returns a value in [0, bound).
	Index(seed uint64, bound int) int
	// Permutation returns a permutation of [0, n).
	Permutation(seed uint64, n int) []int
}

// Derive mixes a session id and a per-session nonce into a call seed.
func Derive(session, nonce uint64) uint64 {
	return mix(mix(session) ^ (nonce + goldenRatio64))
}

// PCG is a deterministic Source. Two PCG sources built from the same base
// seed produce identical sequences for identical call seeds.
type PCG struct {
	base uint64
}

// NewPCG returns a deterministic source seeded from base.
func NewPCG(base int64) *PCG {
	return &PCG{base: uint64(base)}
}

func (p *PCG) Index(seed uint64, bound int) int {
	if bound <= 0 {
		return 0
	}
	return p.rand(seed).IntN(bound)
}

func (p *PCG) Permutation(seed uint64, n int) []int {
	if n <= 0 {
		return nil
	}
	return p.rand(seed).Perm(n)
}

// rand derives the two 64-bit seeds rand/v2's PCG needs from the base
// seed and the call seed.
func (p *PCG) rand(seed uint64) *rand.Rand {
	u := p.base ^ mix(seed)
	return rand.New(rand.NewPCG(mix(u), mix(u+goldenRatio64)))
}

// Crypto is a Source backed by the operating system's CSPRNG. Call seeds
// are ignored.
type Crypto struct{}

func (Crypto) Index(_ uint64, bound int) int {
	if bound <= 0 {
		return 0
	}
	return newChaCha().IntN(bound)
}

func (Crypto) Permutation(_ uint64, n int) []int {
	if n <= 0 {
		return nil
	}
	return newChaCha().Perm(n)
}

func newChaCha() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand.Read only fails if the OS source is broken.
		panic("rng: crypto source unavailable: " + err.Error())
	}
	return rand.New(rand.NewChaCha8(seed))
}

// Uint64 returns a random 64-bit value from the OS source, used to pick a
// base seed when none is configured.
func Uint64() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("rng: crypto source unavailable: " + err.Error())
	}
	return binary.LittleEndian.Uint64(b[:])
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
