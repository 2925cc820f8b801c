package sigstore

// MemStore is an in-memory, non-durable Store implementation. It is the
// "memory" driver of cmd/gatekeeper (that command's default driver) and
// backs tests for the Signature Service and the index/store agreement
// invariant without requiring a live database. Its rows are lost when the
// process exits.

import (
	"context"
	"fmt"
	"sync"
	"time"

	gkerrors "github.com/chartly-platform/gatekeeper/pkg/errors"
)

type memKey struct {
	apiUUID string
	org     string
}

type MemStore struct {
	mu    sync.Mutex
	rows  map[memKey]Record
	clock func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[memKey]Record), clock: func() time.Time { return time.Now().UTC() }}
}

func (m *MemStore) EnsureSchema(ctx context.Context) error { return nil }

func (m *MemStore) Insert(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.rows[memKey{rec.APIUUID, rec.Organization}] = rec
	return nil
}

func (m *MemStore) Update(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey{rec.APIUUID, rec.Organization}
	existing, ok := m.rows[key]
	if !ok {
		return fmt.Errorf("%w: update: no such record %s/%s", gkerrors.StorageError, rec.APIUUID, rec.Organization)
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = m.clock()
	m.rows[key] = rec
	return nil
}

func (m *MemStore) Upsert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	_, ok := m.rows[memKey{rec.APIUUID, rec.Organization}]
	m.mu.Unlock()
	if ok {
		return m.Update(ctx, rec)
	}
	return m.Insert(ctx, rec)
}

func (m *MemStore) Get(ctx context.Context, apiUUID, organization string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[memKey{apiUUID, organization}]
	if !ok {
		return Record{}, fmt.Errorf("%w: no such record %s/%s", gkerrors.StorageError, apiUUID, organization)
	}
	return rec, nil
}

func (m *MemStore) GetAll(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemStore) GetAllByTenant(ctx context.Context, organization string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.rows))
	for k, r := range m.rows {
		if k.org == organization {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemStore) Delete(ctx context.Context, apiUUID, organization string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, memKey{apiUUID, organization})
	return nil
}

func (m *MemStore) DeleteAllByTenant(ctx context.Context, organization string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.rows {
		if k.org == organization {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *MemStore) Exists(ctx context.Context, apiUUID, organization string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[memKey{apiUUID, organization}]
	return ok, nil
}
