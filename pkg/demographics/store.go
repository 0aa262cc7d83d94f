package demographics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/richtunnel/partnerstestapi/internal/store"
)

// Store provides raw-SQL database operations for demographic records.
type Store struct {
	db store.DBTX
}

// NewStore creates a Store backed by dbtx.
func NewStore(dbtx store.DBTX) *Store {
	return &Store{db: dbtx}
}

const recordColumns = `id, tenant, payload, status, created_by, created_at, updated_at`

func scanRecord(row interface{ Scan(dest ...any) error }) (Record, error) {
	var r Record
	var createdBy *uuid.UUID
	err := row.Scan(&r.ID, &r.Tenant, &r.Payload, &r.Status, &createdBy, &r.CreatedAt, &r.UpdatedAt)
	r.CreatedBy = createdBy
	return r, err
}

// CreateParams holds the parameters for Create.
type CreateParams struct {
	ID        uuid.UUID
	Tenant    string
	Payload   []byte
	CreatedBy *uuid.UUID
}

// Create inserts a new record with the given id, scoped to tenant.
func (s *Store) Create(ctx context.Context, p CreateParams) (Record, error) {
	query := `INSERT INTO demographic_records (id, tenant, payload, status, created_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING ` + recordColumns
	row := s.db.QueryRow(ctx, query, p.ID, p.Tenant, p.Payload, StatusActive, p.CreatedBy)
	return scanRecord(row)
}

// Get returns a record by id, scoped to tenant so callers never leak
// cross-tenant rows.
func (s *Store) Get(ctx context.Context, tenantID string, id uuid.UUID) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM demographic_records WHERE id = $1 AND tenant = $2`
	row := s.db.QueryRow(ctx, query, id, tenantID)
	return scanRecord(row)
}

// Update replaces payload and bumps updated_at for an existing record.
func (s *Store) Update(ctx context.Context, tenantID string, id uuid.UUID, payload []byte) (Record, error) {
	query := `UPDATE demographic_records SET payload = $3, updated_at = now()
		WHERE id = $1 AND tenant = $2
		RETURNING ` + recordColumns
	row := s.db.QueryRow(ctx, query, id, tenantID, payload)
	return scanRecord(row)
}

// Upsert inserts id if absent, otherwise replaces payload and refreshes
// updated_at — used by the worker pool so redelivery is idempotent.
func (s *Store) Upsert(ctx context.Context, tenantID string, id uuid.UUID, payload []byte) (Record, error) {
	query := `INSERT INTO demographic_records (id, tenant, payload, status)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
		RETURNING ` + recordColumns
	row := s.db.QueryRow(ctx, query, id, tenantID, payload, StatusActive)
	return scanRecord(row)
}

// SoftDelete transitions a record to the deleted status.
func (s *Store) SoftDelete(ctx context.Context, tenantID string, id uuid.UUID) (time.Time, error) {
	query := `UPDATE demographic_records SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant = $2
		RETURNING updated_at`
	var deletedAt time.Time
	err := s.db.QueryRow(ctx, query, id, tenantID, StatusDeleted).Scan(&deletedAt)
	return deletedAt, err
}

// List returns records for tenant matching filters, newest first.
func (s *Store) List(ctx context.Context, tenantID string, filters ListFilters, limit, offset int) ([]Record, error) {
	where := "tenant = $1"
	args := []any{tenantID}
	argN := 2

	if filters.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filters.Status)
		argN++
	}
	if filters.Search != "" {
		where += fmt.Sprintf(" AND payload::text ILIKE $%d", argN)
		args = append(args, "%"+filters.Search+"%")
		argN++
	}

	query := fmt.Sprintf(
		`SELECT %s FROM demographic_records WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		recordColumns, where, argN, argN+1,
	)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing demographic records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning demographic record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the total number of records matching filters.
func (s *Store) Count(ctx context.Context, tenantID string, filters ListFilters) (int, error) {
	where := "tenant = $1"
	args := []any{tenantID}
	argN := 2

	if filters.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filters.Status)
		argN++
	}
	if filters.Search != "" {
		where += fmt.Sprintf(" AND payload::text ILIKE $%d", argN)
		args = append(args, "%"+filters.Search+"%")
	}

	query := fmt.Sprintf(`SELECT count(*) FROM demographic_records WHERE %s`, where)
	var count int
	err := s.db.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

// ErrNotFound reports a lookup against a nonexistent or cross-tenant id.
var ErrNotFound = pgx.ErrNoRows
