package lshindex

import (
	"testing"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/minhash"
)

func sigFilled(width int, cells ...uint32) minhash.Signature {
	sig := make(minhash.Signature, width)
	for i := range sig {
		if i < len(cells) {
			sig[i] = cells[i]
		} else {
			sig[i] = minhash.Infinity
		}
	}
	return sig
}

func TestInsertAndFindCandidates(t *testing.T) {
	idx, err := New(8, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	sig := sigFilled(8, 1, 2, 3, 4, 1, 2, 3, 4)
	if err := idx.Insert("t1", "A", sig); err != nil {
		t.Fatal(err)
	}
	cands, err := idx.FindCandidates("t1", sig)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cands["A"]; !ok {
		t.Fatal("expected A to be a candidate")
	}
}

func TestTenantIsolation(t *testing.T) {
	idx, _ := New(8, 2, nil)
	sig := sigFilled(8, 1, 2, 3, 4, 1, 2, 3, 4)
	_ = idx.Insert("t1", "A", sig)
	cands, err := idx.FindCandidates("t2", sig)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cands["A"]; ok {
		t.Fatal("expected tenant isolation to exclude A")
	}
}

func TestUpdateReplaces(t *testing.T) {
	idx, _ := New(8, 2, nil)
	v1 := sigFilled(8, 1, 1, 1, 1, 1, 1, 1, 1)
	v2 := sigFilled(8, 2, 2, 2, 2, 2, 2, 2, 2)
	_ = idx.Insert("t1", "X", v1)
	_ = idx.Insert("t1", "X", v2)

	got, ok := idx.GetSignature("X")
	if !ok {
		t.Fatal("expected signature present")
	}
	for i := range got {
		if got[i] != v2[i] {
			t.Fatalf("expected updated signature, got stale cell at %d", i)
		}
	}

	cands, _ := idx.FindCandidates("t1", v1)
	if _, ok := cands["X"]; ok {
		t.Fatal("expected no stale band bucket referencing X under v1")
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	idx, _ := New(8, 2, nil)
	idx.Remove("missing") // must not panic
	if idx.Size() != 0 {
		t.Fatal("expected empty index")
	}
}

func TestLengthMismatch(t *testing.T) {
	idx, _ := New(8, 2, nil)
	if err := idx.Insert("t1", "A", sigFilled(4)); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestFindSimilarThresholdAndOrdering(t *testing.T) {
	idx, _ := New(8, 2, nil)
	query := sigFilled(8, 1, 1, 1, 1, 1, 1, 1, 1)
	exact := sigFilled(8, 1, 1, 1, 1, 1, 1, 1, 1)
	partial := sigFilled(8, 1, 1, 1, 1, 9, 9, 9, 9)
	unrelated := sigFilled(8, 9, 9, 9, 9, 9, 9, 9, 9)

	_ = idx.Insert("t1", "exact", exact)
	_ = idx.Insert("t1", "partial", partial)
	_ = idx.Insert("t1", "unrelated", unrelated)

	matches, err := idx.FindSimilar("t1", query, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches at threshold 0.5, got %d: %+v", len(matches), matches)
	}
	if matches[0].APIID != "exact" {
		t.Fatalf("expected exact match first, got %+v", matches)
	}
}

func TestClear(t *testing.T) {
	idx, _ := New(8, 2, nil)
	_ = idx.Insert("t1", "A", sigFilled(8, 1, 2, 3, 4, 5, 6, 7, 8))
	idx.Clear()
	if idx.Size() != 0 {
		t.Fatal("expected cleared index to be empty")
	}
	if idx.Contains("A") {
		t.Fatal("expected A gone after clear")
	}
}
