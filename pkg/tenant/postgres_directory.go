package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RowQuerier is satisfied by *pgxpool.Pool and *database.PostgresDB
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresDirectory reads tenants from the tenants table
type PostgresDirectory struct {
	db RowQuerier
}

// NewPostgresDirectory creates a new PostgresDirectory
func NewPostgresDirectory(db RowQuerier) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const selectTenant = `
	SELECT id, slug, COALESCE(domain, ''), COALESCE(subdomain, ''), plan, status, features, settings
	FROM tenants
`

// Lookup finds a tenant matching the identifier
func (d *PostgresDirectory) Lookup(ctx context.Context, id Identifier) (*Context, error) {
	var where string
	switch id.Kind {
	case KindID:
		where = `WHERE id = $1`
	case KindSlug:
		where = `WHERE slug = $1`
	case KindSubdomain:
		where = `WHERE subdomain = $1 OR slug = $1 ORDER BY (subdomain = $1) DESC NULLS LAST LIMIT 1`
	case KindDomain:
		where = `WHERE domain = $1`
	case KindRef:
		where = `WHERE id = $1 OR slug = $1 ORDER BY (id = $1) DESC LIMIT 1`
	default:
		return nil, fmt.Errorf("unsupported identifier kind %q", id.Kind)
	}

	var (
		tc       Context
		plan     string
		status   string
		features []byte
		settings []byte
	)
	err := d.db.QueryRow(ctx, selectTenant+where, id.Value).Scan(
		&tc.ID,
		&tc.Slug,
		&tc.Domain,
		&tc.Subdomain,
		&plan,
		&status,
		&features,
		&settings,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by %s: %w", id.Kind, err)
	}

	tc.Plan = Plan(plan)
	tc.Status = Status(status)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &tc.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features for tenant %s: %w", tc.ID, err)
		}
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &tc.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings for tenant %s: %w", tc.ID, err)
		}
	}

	return &tc, nil
}
