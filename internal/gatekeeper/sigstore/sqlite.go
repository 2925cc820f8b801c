package sigstore

// SQLite-backed Signature Store, for single-node / embedded deployments
// where running Postgres is unwarranted. Same AM_API_MINHASH schema and
// contract as PostgresStore; only the driver and placeholder style differ
// (SQLite uses positional "?" rather than "$1").

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gkerrors "github.com/chartly-platform/gatekeeper/pkg/errors"
)

// SQLiteStore is a durable Signature Store backed by SQLite via
// database/sql + github.com/mattn/go-sqlite3.
type SQLiteStore struct {
	db    *sql.DB
	table string
	clock func() time.Time
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is nil", gkerrors.InvalidInput)
	}
	return &SQLiteStore{db: db, table: defaultPostgresTable, clock: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  API_UUID       VARCHAR(36)  NOT NULL,
  SIGNATURE_BLOB BLOB         NOT NULL,
  ORGANIZATION   VARCHAR(128) NOT NULL,
  CREATED_TIME   DATETIME     NOT NULL,
  UPDATED_TIME   DATETIME     NOT NULL,
  PRIMARY KEY (API_UUID, ORGANIZATION)
);
CREATE INDEX IF NOT EXISTS idx_%s_organization ON %s (ORGANIZATION);`, s.table, strings.ToLower(s.table), s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", gkerrors.StorageError, err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateRecord(rec); err != nil {
		return err
	}
	now := s.clock()
	q := fmt.Sprintf(`INSERT INTO %s (API_UUID, SIGNATURE_BLOB, ORGANIZATION, CREATED_TIME, UPDATED_TIME) VALUES (?,?,?,?,?)`, s.table)
	if _, err := s.db.ExecContext(ctx, q, rec.APIUUID, rec.Signature, rec.Organization, now, now); err != nil {
		return fmt.Errorf("%w: insert: %v", gkerrors.StorageError, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateRecord(rec); err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE %s SET SIGNATURE_BLOB=?, UPDATED_TIME=? WHERE API_UUID=? AND ORGANIZATION=?`, s.table)
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

func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
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

func (s *SQLiteStore) Get(ctx context.Context, apiUUID, organization string) (Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`SELECT SIGNATURE_BLOB, CREATED_TIME, UPDATED_TIME FROM %s WHERE API_UUID=? AND ORGANIZATION=?`, s.table)
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

func (s *SQLiteStore) GetAll(ctx context.Context) ([]Record, error) {
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

func (s *SQLiteStore) GetAllByTenant(ctx context.Context, organization string) ([]Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`SELECT API_UUID, ORGANIZATION, SIGNATURE_BLOB, CREATED_TIME, UPDATED_TIME FROM %s WHERE ORGANIZATION=?`, s.table)
	rows, err := s.db.QueryContext(ctx, q, organization)
	if err != nil {
		return nil, fmt.Errorf("%w: get all by tenant: %v", gkerrors.StorageError, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) Delete(ctx context.Context, apiUUID, organization string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE API_UUID=? AND ORGANIZATION=?`, s.table)
	if _, err := s.db.ExecContext(ctx, q, apiUUID, organization); err != nil {
		return fmt.Errorf("%w: delete: %v", gkerrors.StorageError, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAllByTenant(ctx context.Context, organization string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE ORGANIZATION=?`, s.table)
	if _, err := s.db.ExecContext(ctx, q, organization); err != nil {
		return fmt.Errorf("%w: delete all by tenant: %v", gkerrors.StorageError, err)
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, apiUUID, organization string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE API_UUID=? AND ORGANIZATION=?`, s.table)
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
