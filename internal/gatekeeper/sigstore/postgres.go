package sigstore

// PostgreSQL-backed Signature Store.
//
// Schema (created by EnsureSchema), matching spec §6's egress contract
// bit-exactly:
//
//	AM_API_MINHASH:
//	  API_UUID       VARCHAR(36)  NOT NULL
//	  SIGNATURE_BLOB BYTEA        NOT NULL
//	  ORGANIZATION   VARCHAR(128) NOT NULL
//	  CREATED_TIME   TIMESTAMPTZ  NOT NULL
//	  UPDATED_TIME   TIMESTAMPTZ  NOT NULL
//	  PRIMARY KEY (API_UUID, ORGANIZATION)
//	  INDEX on ORGANIZATION
//
// UPDATED_TIME has no native ON UPDATE clause in Postgres, so Update/Upsert
// set it explicitly on every write rather than relying on a trigger.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gkerrors "github.com/chartly-platform/gatekeeper/pkg/errors"
)

const defaultPostgresTable = "AM_API_MINHASH"

// PostgresStore is a durable Signature Store backed by PostgreSQL via
// database/sql + github.com/lib/pq.
type PostgresStore struct {
	db    *sql.DB
	table string
	clock func() time.Time
}

// NewPostgresStore constructs a store over an existing *sql.DB. The caller
// owns the connection pool's lifecycle (open/close).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is nil", gkerrors.InvalidInput)
	}
	return &PostgresStore{db: db, table: defaultPostgresTable, clock: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  API_UUID       VARCHAR(36)  NOT NULL,
  SIGNATURE_BLOB BYTEA        NOT NULL,
  ORGANIZATION   VARCHAR(128) NOT NULL,
  CREATED_TIME   TIMESTAMPTZ  NOT NULL,
  UPDATED_TIME   TIMESTAMPTZ  NOT NULL,
  PRIMARY KEY (API_UUID, ORGANIZATION)
);
CREATE INDEX IF NOT EXISTS idx_%s_organization ON %s (ORGANIZATION);`, s.table, strings.ToLower(s.table), s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", gkerrors.StorageError, err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateRecord(rec); err != nil {
		return err
	}
	now := s.clock()
	q := fmt.Sprintf(`INSERT INTO %s (API_UUID, SIGNATURE_BLOB, ORGANIZATION, CREATED_TIME, UPDATED_TIME) VALUES ($1,$2,$3,$4,$5)`, s.table)
	if _, err := s.db.ExecContext(ctx, q, rec.APIUUID, rec.Signature, rec.Organization, now, now); err != nil {
		return fmt.Errorf("%w: insert: %v", gkerrors.StorageError, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateRecord(rec); err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE %s SET SIGNATURE_BLOB=$1, UPDATED_TIME=$2 WHERE API_UUID=$3 AND ORGANIZATION=$4`, s.table)
	res, err := s.db.ExecContext(ctx, q, rec.Signature, s.clock(), rec.APIUUID, rec.Organization)
	if err != nil {
		return fmt.Errorf("%w: update: %v", gkerrors.StorageError, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: update: no such record %s/%s", gkerrors.StorageError, rec.APIUUID, rec.Organization)
	}
	return nil
}

// Upsert checks existence then inserts or updates. The check and the write
// are not one atomic transaction (spec §4.5: concurrent admission of the
// same key is not expected in practice).
func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	exists, err := s.Exists(ctx, rec.APIUUID, rec.Organization)
	if err != nil {
		return err
	}
	if exists {
		return s.Update(ctx, rec)
	}
	return s.Insert(ctx, rec)
}

func (s *PostgresStore) Get(ctx context.Context, apiUUID, organization string) (Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`SELECT SIGNATURE_BLOB, CREATED_TIME, UPDATED_TIME FROM %s WHERE API_UUID=$1 AND ORGANIZATION=$2`, s.table)
	var rec Record
	rec.APIUUID = apiUUID
	rec.Organization = organization
	err := s.db.QueryRowContext(ctx, q, apiUUID, organization).Scan(&rec.Signature, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: no such record %s/%s", gkerrors.StorageError, apiUUID, organization)
		}
		return Record{}, fmt.Errorf("%w: get: %v", gkerrors.StorageError, err)
	}
	return rec, nil
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`SELECT API_UUID, ORGANIZATION, SIGNATURE_BLOB, CREATED_TIME, UPDATED_TIME FROM %s`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: get all: %v", gkerrors.StorageError, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) GetAllByTenant(ctx context.Context, organization string) ([]Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`SELECT API_UUID, ORGANIZATION, SIGNATURE_BLOB, CREATED_TIME, UPDATED_TIME FROM %s WHERE ORGANIZATION=$1`, s.table)
	rows, err := s.db.QueryContext(ctx, q, organization)
	if err != nil {
		return nil, fmt.Errorf("%w: get all by tenant: %v", gkerrors.StorageError, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) Delete(ctx context.Context, apiUUID, organization string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE API_UUID=$1 AND ORGANIZATION=$2`, s.table)
	if _, err := s.db.ExecContext(ctx, q, apiUUID, organization); err != nil {
		return fmt.Errorf("%w: delete: %v", gkerrors.StorageError, err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllByTenant(ctx context.Context, organization string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE ORGANIZATION=$1`, s.table)
	if _, err := s.db.ExecContext(ctx, q, organization); err != nil {
		return fmt.Errorf("%w: delete all by tenant: %v", gkerrors.StorageError, err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, apiUUID, organization string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE API_UUID=$1 AND ORGANIZATION=$2`, s.table)
	var one int
	err := s.db.QueryRowContext(ctx, q, apiUUID, organization).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%w: exists: %v", gkerrors.StorageError, err)
	}
	return true, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	out := make([]Record, 0, 16)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.APIUUID, &rec.Organization, &rec.Signature, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", gkerrors.StorageError, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", gkerrors.StorageError, err)
	}
	return out, nil
}

func validateRecord(rec Record) error {
	if strings.TrimSpace(rec.APIUUID) == "" {
		return fmt.Errorf("%w: api uuid required", gkerrors.InvalidInput)
	}
	if strings.TrimSpace(rec.Organization) == "" {
		return fmt.Errorf("%w: organization required", gkerrors.InvalidInput)
	}
	if len(rec.Signature) == 0 {
		return fmt.Errorf("%w: signature blob required", gkerrors.InvalidInput)
	}
	return nil
}
