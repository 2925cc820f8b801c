package reconciler

import (
	"context"
	"testing"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/lshindex"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/minhash"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/sigstore"
)

func sigOf(v uint32, width int) minhash.Signature {
	sig := make(minhash.Signature, width)
	for i := range sig {
		sig[i] = v
	}
	return sig
}

func TestReconcileOnceInsertsMissing(t *testing.T) {
	ctx := context.Background()
	store := sigstore.NewMemStore()
	idx, err := lshindex.New(8, 4, nil)
	if err != nil {
		t.Fatal(err)
	}

	sig := sigOf(1, 8)
	if err := store.Insert(ctx, sigstore.Record{APIUUID: "A", Organization: "t", Signature: minhash.ToBytes(sig)}); err != nil {
		t.Fatal(err)
	}

	r := New(store, idx, 8, 0, 0, nil)
	inserted, skipped, err := r.ReconcileOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if inserted != 1 || skipped != 0 {
		t.Fatalf("expected 1 inserted 0 skipped, got %d/%d", inserted, skipped)
	}
	if !idx.Contains("A") {
		t.Fatal("expected index to contain A after reconcile")
	}
}

func TestReconcileOnceSkipsCorrupt(t *testing.T) {
	ctx := context.Background()
	store := sigstore.NewMemStore()
	idx, err := lshindex.New(8, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(ctx, sigstore.Record{APIUUID: "B", Organization: "t", Signature: []byte{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}

	r := New(store, idx, 8, 0, 0, nil)
	inserted, skipped, err := r.ReconcileOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if inserted != 0 || skipped != 1 {
		t.Fatalf("expected 0 inserted 1 skipped, got %d/%d", inserted, skipped)
	}
}

func TestReconcileOnceSkipsAlreadyPresent(t *testing.T) {
	ctx := context.Background()
	store := sigstore.NewMemStore()
	idx, err := lshindex.New(8, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	sig := sigOf(2, 8)
	if err := idx.Insert("t", "C", sig); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(ctx, sigstore.Record{APIUUID: "C", Organization: "t", Signature: minhash.ToBytes(sig)}); err != nil {
		t.Fatal(err)
	}

	r := New(store, idx, 8, 0, 0, nil)
	inserted, _, err := r.ReconcileOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if inserted != 0 {
		t.Fatalf("expected no re-insert of already-present entry, got %d", inserted)
	}
}
