package sigstore

import (
	"context"
	"testing"
)

func TestMemStoreUpsertInsertsThenUpdates(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	rec := Record{APIUUID: "A", Organization: "t1", Signature: []byte{1, 2, 3, 4}}

	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	exists, err := s.Exists(ctx, "A", "t1")
	if err != nil || !exists {
		t.Fatalf("expected record to exist, err=%v exists=%v", err, exists)
	}

	rec.Signature = []byte{5, 6, 7, 8}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "A", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Signature) != string([]byte{5, 6, 7, 8}) {
		t.Fatalf("expected updated signature, got %v", got.Signature)
	}
}

func TestMemStoreTenantScan(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Insert(ctx, Record{APIUUID: "A", Organization: "t1", Signature: []byte{1}})
	_ = s.Insert(ctx, Record{APIUUID: "B", Organization: "t2", Signature: []byte{2}})

	rows, err := s.GetAllByTenant(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].APIUUID != "A" {
		t.Fatalf("expected only A for t1, got %+v", rows)
	}
}

func TestMemStoreDeleteAllByTenant(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Insert(ctx, Record{APIUUID: "A", Organization: "t1", Signature: []byte{1}})
	_ = s.Insert(ctx, Record{APIUUID: "B", Organization: "t1", Signature: []byte{2}})
	_ = s.Insert(ctx, Record{APIUUID: "C", Organization: "t2", Signature: []byte{3}})

	if err := s.DeleteAllByTenant(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	all, _ := s.GetAll(ctx)
	if len(all) != 1 || all[0].APIUUID != "C" {
		t.Fatalf("expected only C to remain, got %+v", all)
	}
}

func TestMemStoreUpdateMissingIsError(t *testing.T) {
	s := NewMemStore()
	err := s.Update(context.Background(), Record{APIUUID: "X", Organization: "t1", Signature: []byte{1}})
	if err == nil {
		t.Fatal("expected error updating missing record")
	}
}
