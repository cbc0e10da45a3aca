package receiver

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/hcafhir/internal/platform/db"
	"github.com/ehr/hcafhir/internal/platform/fhir"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the receiver schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore keeps resources in the fhir_resource table.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// EnsureSchema applies pending migrations.
func (s *PGStore) EnsureSchema(ctx context.Context) (int, error) {
	return db.NewMigrator(s.pool, Migrations()).Up(ctx)
}

func (s *PGStore) Read(ctx context.Context, resourceType, id string) (*StoredResource, error) {
	r := &StoredResource{Type: resourceType, ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT version_id, last_updated, body
		FROM fhir_resource WHERE resource_type = $1 AND id = $2`,
		resourceType, id).Scan(&r.VersionID, &r.LastUpdated, &r.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", resourceType, id, err)
	}
	return r, nil
}

const upsertSQL = `
	INSERT INTO fhir_resource (resource_type, id, version_id, last_updated, body)
	VALUES ($1, $2, 1, NOW(), $3)
	ON CONFLICT (resource_type, id) DO UPDATE
	SET version_id = fhir_resource.version_id + 1,
	    last_updated = NOW(),
	    body = EXCLUDED.body
	RETURNING version_id, last_updated, (xmax = 0) AS created`

func upsert(ctx context.Context, q queryable, r fhir.Resource) (*UpsertResult, error) {
	stored := &StoredResource{Type: r.Type, ID: r.ID, Body: r.Body}
	var created bool
	err := q.QueryRow(ctx, upsertSQL, r.Type, r.ID, []byte(r.Body)).
		Scan(&stored.VersionID, &stored.LastUpdated, &created)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", r.Ref(), err)
	}
	return &UpsertResult{Resource: stored, Created: created}, nil
}

func (s *PGStore) Upsert(ctx context.Context, r fhir.Resource) (*UpsertResult, error) {
	return upsert(ctx, s.pool, r)
}

func (s *PGStore) Transaction(ctx context.Context, resources []fhir.Resource) ([]*UpsertResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	results := make([]*UpsertResult, len(resources))
	for i, r := range resources {
		if results[i], err = upsert(ctx, tx, r); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return results, nil
}

func (s *PGStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fhir_resource`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count resources: %w", err)
	}
	return n, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats describes the connection pool for the health endpoint.
func (s *PGStore) Stats() interface{} {
	return db.GetPoolStats(s.pool)
}
