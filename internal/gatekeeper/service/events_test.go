package service

import (
	"context"
	"testing"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/sigstore"
	"github.com/chartly-platform/gatekeeper/pkg/canonical"
)

type recordingEmitter struct {
	events []canonical.Event
}

func (r *recordingEmitter) Emit(e canonical.Event) {
	r.events = append(r.events, e)
}

func TestLifecycleNotificationsEmitCanonicalEvents(t *testing.T) {
	emitter := &recordingEmitter{}
	cfg := DefaultConfig()
	cfg.Emitter = emitter
	svc, err := New(cfg, sigstore.NewMemStore())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	if err := svc.OnAPICreate(ctx, []byte(petSpec1), "A", "tenant-1"); err != nil {
		t.Fatal(err)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected 1 emitted event, got %d", len(emitter.events))
	}
	ev := emitter.events[0]
	if ev.Meta.Type != EventTypeAPICreate {
		t.Fatalf("expected type %q, got %q", EventTypeAPICreate, ev.Meta.Type)
	}
	if ev.Meta.Subject == nil || ev.Meta.Subject.String() != "tenant-1/api/A" {
		t.Fatalf("unexpected subject: %+v", ev.Meta.Subject)
	}

	if err := svc.OnAPILifecycleChange(ctx, []byte(petSpec1), "A", "tenant-1", LifecycleDraft); err != nil {
		t.Fatal(err)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected lifecycle change to emit even when not published, got %d events", len(emitter.events))
	}
}
