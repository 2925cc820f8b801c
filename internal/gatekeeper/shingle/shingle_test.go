package shingle

import "testing"

func TestShortFeatureDoubleCounts(t *testing.T) {
	// "get /pets" has 2 words, < Width(3): only the whole feature is emitted.
	out := Shingles([]string{"GET /pets"})
	if len(out) != 1 {
		t.Fatalf("expected 1 shingle for a short feature, got %d", len(out))
	}
}

func TestLongFeatureEmitsWholeAndWindows(t *testing.T) {
	out := Shingles([]string{"get /pets tag:animals extra"})
	// whole feature + 2 sliding windows of width 3 over 4 words
	if len(out) != 3 {
		t.Fatalf("expected 3 shingles, got %d", len(out))
	}
}

func TestDeduplicates(t *testing.T) {
	// "a b c" has exactly Width words, so its single window equals the
	// whole feature: both features collapse to one hash.
	out := Shingles([]string{"a b c", "a b c"})
	if len(out) != 1 {
		t.Fatalf("expected dedup across identical features, got %d entries", len(out))
	}
}

func TestEmptyFeatureContributesNothing(t *testing.T) {
	out := Shingles([]string{"", "   "})
	if len(out) != 0 {
		t.Fatalf("expected no shingles for blank features, got %d", len(out))
	}
}

func TestHash64Deterministic(t *testing.T) {
	if Hash64("abc") != Hash64("abc") {
		t.Fatal("expected deterministic hash")
	}
	if Hash64("abc") == Hash64("abd") {
		t.Fatal("expected distinct hashes for distinct inputs")
	}
}
