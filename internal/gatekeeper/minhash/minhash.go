// Package minhash reduces a token set to a fixed-width integer signature
// that estimates Jaccard similarity via cell-wise equality.
package minhash

import (
	"encoding/binary"
	"fmt"

	gkerrors "github.com/chartly-platform/gatekeeper/pkg/errors"
)

// Mersenne prime 2^31-1, the modulus for the random linear hash family.
const prime uint64 = (1 << 31) - 1

// Infinity is the sentinel cell value for an empty token set.
const Infinity uint32 = (1 << 31) - 1

const (
	DefaultWidth = 128
	DefaultSeed  = 42
)

// Signature is a fixed-width vector of non-negative 32-bit cells.
type Signature []uint32

// Generator computes signatures for a fixed (H, seed) pair. It is safe for
// concurrent use once constructed: the coefficient arrays are immutable.
type Generator struct {
	width int
	seed  int64
	a     []uint64
	b     []uint64
}

// New builds a Generator for width H seeded deterministically by seed. The
// coefficient arrays are derived from a documented SplitMix64 stream — NOT a reproduction of any host-language built-in PRNG (see
// DESIGN.md, Open Question 1). The same (width, seed) always yields the
// same coefficients, on any platform, forever.
func New(width int, seed int64) (*Generator, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: minhash width must be positive, got %d", errInvalid, width)
	}
	state := splitmix64Seed(seed)
	a := make([]uint64, width)
	b := make([]uint64, width)
	var out uint64
	for i := 0; i < width; i++ {
		state, out = splitmix64Next(state)
		a[i] = 1 + out%(prime-1) // a[i] in [1, p-1]
		state, out = splitmix64Next(state)
		b[i] = out % prime // b[i] in [0, p-1]
	}
	return &Generator{width: width, seed: seed, a: a, b: b}, nil
}

var errInvalid = gkerrors.InvalidInput

// Width reports H for this generator.
func (g *Generator) Width() int { return g.width }

// Seed reports the configured seed.
func (g *Generator) Seed() int64 { return g.seed }

// Sign computes the signature of a token set. An empty set yields a
// signature of all-Infinity cells (by design; see spec on self-similarity
// of empty signatures).
func (g *Generator) Sign(tokens []uint64) Signature {
	sig := make(Signature, g.width)
	for i := range sig {
		sig[i] = Infinity
	}
	for _, x := range tokens {
		for i := 0; i < g.width; i++ {
			h := hashCell(g.a[i], g.b[i], x)
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

func hashCell(a, b, x uint64) uint32 {
	// (a*x + b) mod p. x is a full 64-bit FNV-1a token, so it's reduced
	// mod p first; a, b < p, so a*(x%p) stays within 64 bits without
	// overflow.
	v := (a*(x%prime) + b) % prime
	return uint32(v)
}

// EstimateSimilarity returns the fraction of equal cells between two
// signatures of equal width, i.e. the MinHash estimator of Jaccard
// similarity. Differing widths are a LengthMismatch error.
func EstimateSimilarity(a, b Signature) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: signature lengths differ (%d vs %d)", gkerrors.LengthMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a)), nil
}

// ToBytes serializes a signature as big-endian uint32 cells, 4*H bytes.
func ToBytes(sig Signature) []byte {
	out := make([]byte, 4*len(sig))
	for i, cell := range sig {
		binary.BigEndian.PutUint32(out[i*4:i*4+4], cell)
	}
	return out
}

// FromBytes deserializes a signature. The byte length must be a multiple of
// 4, otherwise CorruptSignature.
func FromBytes(raw []byte) (Signature, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: signature blob length %d is not a multiple of 4", gkerrors.CorruptSignature, len(raw))
	}
	n := len(raw) / 4
	sig := make(Signature, n)
	for i := 0; i < n; i++ {
		sig[i] = binary.BigEndian.Uint32(raw[i*4 : i*4+4])
	}
	return sig, nil
}

// splitmix64Seed and splitmix64Next implement the public-domain SplitMix64
// generator (Vigna), used here purely as a documented, portable seed-to-
// coefficient expansion. This is an explicit, fixed algorithm chosen
// precisely so signatures are reproducible across platforms and Go
// versions, independent of math/rand's internal algorithm (which is not
// guaranteed stable across releases).
func splitmix64Seed(seed int64) uint64 {
	return uint64(seed)
}

func splitmix64Next(state uint64) (nextState, out uint64) {
	state += 0x9E3779B97F4A7C15
	z := state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	return state, z
}
