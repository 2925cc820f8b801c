// Package sigstore provides durable per-tenant persistence for API
// signatures and a bulk read used to rehydrate the LSH index on startup.
package sigstore

import (
	"context"
	"time"
)

// Record is a single persisted signature row.
type Record struct {
	APIUUID      string
	Organization string
	Signature    []byte // exactly 4*H bytes
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the durable Signature Store contract (spec §4.5). All operations
// surface a single StorageError to callers carrying the underlying driver's
// message; there is no retry at this layer.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record) error
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, apiUUID, organization string) (Record, error)
	GetAll(ctx context.Context) ([]Record, error)
	GetAllByTenant(ctx context.Context, organization string) ([]Record, error)
	Delete(ctx context.Context, apiUUID, organization string) error
	DeleteAllByTenant(ctx context.Context, organization string) error
	Exists(ctx context.Context, apiUUID, organization string) (bool, error)
	EnsureSchema(ctx context.Context) error
}
