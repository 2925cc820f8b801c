package minhash

import "testing"

func tokens(words ...string) []uint64 {
	out := make([]uint64, len(words))
	var h uint64 = 0xcbf29ce484222325
	for i, w := range words {
		h = 0xcbf29ce484222325
		for _, c := range []byte(w) {
			h ^= uint64(c)
			h *= 0x100000001b3
		}
		out[i] = h
	}
	return out
}

func TestDeterministic(t *testing.T) {
	g1, err := New(128, 42)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := New(128, 42)
	if err != nil {
		t.Fatal(err)
	}
	toks := tokens("a", "b", "c")
	s1 := g1.Sign(toks)
	s2 := g2.Sign(toks)
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Fatalf("cell %d differs: %d != %d", i, s1[i], s2[i])
		}
	}
}

func TestByteRoundTrip(t *testing.T) {
	g, _ := New(16, 42)
	sig := g.Sign(tokens("x", "y"))
	raw := ToBytes(sig)
	if len(raw) != 4*16 {
		t.Fatalf("expected %d bytes, got %d", 4*16, len(raw))
	}
	back, err := FromBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	for i := range sig {
		if sig[i] != back[i] {
			t.Fatalf("cell %d round-trip mismatch", i)
		}
	}
}

func TestFromBytesCorrupt(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected corrupt signature error")
	}
}

func TestSelfSimilarity(t *testing.T) {
	g, _ := New(64, 42)
	sig := g.Sign(tokens("a", "b", "c", "d"))
	sim, err := EstimateSimilarity(sig, sig)
	if err != nil {
		t.Fatal(err)
	}
	if sim != 1.0 {
		t.Fatalf("expected self-similarity 1.0, got %f", sim)
	}
}

func TestSymmetry(t *testing.T) {
	g, _ := New(64, 42)
	a := g.Sign(tokens("a", "b"))
	b := g.Sign(tokens("b", "c"))
	s1, _ := EstimateSimilarity(a, b)
	s2, _ := EstimateSimilarity(b, a)
	if s1 != s2 {
		t.Fatalf("expected symmetry, got %f vs %f", s1, s2)
	}
}

func TestLengthMismatch(t *testing.T) {
	a := Signature{1, 2, 3}
	b := Signature{1, 2}
	if _, err := EstimateSimilarity(a, b); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestEmptySetIsSentinel(t *testing.T) {
	g, _ := New(8, 42)
	sig := g.Sign(nil)
	for _, cell := range sig {
		if cell != Infinity {
			t.Fatalf("expected sentinel, got %d", cell)
		}
	}
}
