package audit

import (
	"testing"
	"time"
)

func TestAppendIsIdempotentOnTenantAndEventID(t *testing.T) {
	l := New(0)
	e := Entry{Tenant: "t1", EventID: "ev1", APIID: "A", Action: "index", Outcome: "accepted"}

	inserted, err := l.Append(e)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("expected first append to insert")
	}

	inserted, err = l.Append(e)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Fatal("expected duplicate (tenant, event_id) append to be a no-op")
	}
	if l.Size() != 1 {
		t.Fatalf("expected size 1, got %d", l.Size())
	}
}

func TestAppendRejectsMissingRequiredFields(t *testing.T) {
	l := New(0)
	if _, err := l.Append(Entry{Tenant: "t1", Action: "index"}); err == nil {
		t.Fatal("expected error for missing event_id")
	}
	if _, err := l.Append(Entry{EventID: "ev1", Action: "index"}); err == nil {
		t.Fatal("expected error for missing tenant")
	}
	if _, err := l.Append(Entry{Tenant: "t1", EventID: "ev1"}); err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestListOrdersByTimestampThenEventID(t *testing.T) {
	l := New(0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mustAppend(t, l, Entry{Tenant: "t1", EventID: "c", Action: "index", TS: base})
	mustAppend(t, l, Entry{Tenant: "t1", EventID: "a", Action: "index", TS: base})
	mustAppend(t, l, Entry{Tenant: "t1", EventID: "b", Action: "index", TS: base.Add(-time.Hour)})
	mustAppend(t, l, Entry{Tenant: "t2", EventID: "z", Action: "index", TS: base})

	out := l.List("t1", 0)
	if len(out) != 3 {
		t.Fatalf("expected 3 entries for t1, got %d", len(out))
	}
	got := []string{out[0].EventID, out[1].EventID, out[2].EventID}
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestListDefaultAndMaxLimit(t *testing.T) {
	l := New(0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		mustAppend(t, l, Entry{Tenant: "t1", EventID: string(rune('a' + i)), Action: "index", TS: base.Add(time.Duration(i) * time.Minute)})
	}
	if out := l.List("t1", 3); len(out) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(out))
	}
	if out := l.List("t1", 100000); len(out) != 10 {
		t.Fatalf("expected all 10 entries when limit exceeds size, got %d", len(out))
	}
}

func TestLedgerEvictsOldestWhenBounded(t *testing.T) {
	l := New(2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mustAppend(t, l, Entry{Tenant: "t1", EventID: "e1", Action: "index", TS: base})
	mustAppend(t, l, Entry{Tenant: "t1", EventID: "e2", Action: "index", TS: base.Add(time.Minute)})
	mustAppend(t, l, Entry{Tenant: "t1", EventID: "e3", Action: "index", TS: base.Add(2 * time.Minute)})

	if l.Size() != 2 {
		t.Fatalf("expected bounded size 2, got %d", l.Size())
	}
	out := l.List("t1", 0)
	if len(out) != 2 || out[0].EventID != "e2" || out[1].EventID != "e3" {
		t.Fatalf("expected oldest entry (e1) evicted, got %+v", out)
	}

	// e1 was evicted, so re-appending it must succeed as a fresh insert.
	inserted, err := l.Append(Entry{Tenant: "t1", EventID: "e1", Action: "index", TS: base.Add(3 * time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("expected re-append of an evicted key to insert")
	}
}

func mustAppend(t *testing.T, l *Ledger, e Entry) {
	t.Helper()
	if _, err := l.Append(e); err != nil {
		t.Fatalf("append failed: %v", err)
	}
}
