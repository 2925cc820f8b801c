package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chartly-platform/gatekeeper/pkg/canonical"
)

// EventType values for the four admission lifecycle notifications
// (spec §6 ingress triggers), expressed as canonical.EventType so they
// can flow through the same envelope every other Chartly-lineage
// service uses for audit and downstream fan-out.
const (
	EventTypeAPICreate          = canonical.EventType("gatekeeper.api.create")
	EventTypeAPIUpdate          = canonical.EventType("gatekeeper.api.update")
	EventTypeAPIDelete          = canonical.EventType("gatekeeper.api.delete")
	EventTypeAPILifecycleChange = canonical.EventType("gatekeeper.api.lifecycle_change")
)

// EventEmitter receives the canonical envelope for every admission
// notification processed by the Service. Optional; a nil emitter on
// Config is a no-op.
type EventEmitter interface {
	Emit(canonical.Event)
}

type eventPayload struct {
	APIID  string `json:"api_id"`
	Status string `json:"status,omitempty"`
}

func (s *Service) emitLifecycleEvent(eventType canonical.EventType, apiID, tenant string, status LifecycleStatus) {
	if s.cfg.Emitter == nil {
		return
	}
	payload, err := json.Marshal(eventPayload{APIID: apiID, Status: string(status)})
	if err != nil {
		return
	}
	subject, err := canonical.NewEntityRef(canonical.TenantID(tenant), "api", canonical.EntityID(apiID))
	if err != nil {
		s.logger.Warn(context.Background(), "service: skipping event emission for unref-able entity", map[string]any{
			"api_id": apiID,
			"error":  err.Error(),
		})
		return
	}
	now := time.Now().UTC()
	ev, err := canonical.NewEvent(canonical.TenantID(tenant), string(eventType), now, payload)
	if err != nil {
		return
	}
	ev.Meta.Subject = &subject
	ev.Meta.Producer = "gatekeeper"
	s.cfg.Emitter.Emit(ev)
}
