// Package shingle expands a feature list into an n-gram token set suitable
// for MinHash.
package shingle

import "strings"

// Width is the fixed shingle width in words (N).
const Width = 3

const (
	fnvSeed uint64 = 0xcbf29ce484222325
	fnvMul  uint64 = 0x100000001b3
)

// Hash64 reduces s to a 64-bit integer via FNV-1a.
func Hash64(s string) uint64 {
	h := fnvSeed
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvMul
	}
	return h
}

// Shingles expands a sorted, deduplicated feature list into a deduplicated
// set of shingle hashes. Per feature f: the normalized feature itself is
// always emitted, AND (when it has >= Width words) every Width-word sliding
// window is additionally emitted into the same set (see DESIGN.md Open
// Question 3). A feature with fewer than Width words therefore contributes
// only its whole-feature hash.
func Shingles(features []string) []uint64 {
	seen := make(map[uint64]struct{}, len(features)*2)
	out := make([]uint64, 0, len(features)*2)

	add := func(s string) {
		h := Hash64(s)
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}

	for _, f := range features {
		norm := normalize(f)
		if norm == "" {
			continue
		}
		add(norm)

		words := strings.Fields(norm)
		k := len(words)
		if k < Width {
			continue
		}
		for i := 0; i <= k-Width; i++ {
			window := words[i] + " " + words[i+1] + " " + words[i+2]
			add(window)
		}
	}
	return out
}

func normalize(f string) string {
	lower := strings.ToLower(f)
	return strings.Join(strings.Fields(lower), " ")
}
