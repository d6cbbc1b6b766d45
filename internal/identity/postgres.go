package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry stores principals in the principals table.
type PostgresRegistry struct {
	db *pgxpool.Pool
}

// NewPostgresRegistry creates a PostgresRegistry backed by the given pool.
func NewPostgresRegistry(db *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// AddressOf implements Registry. Concurrent first lookups for one name are
// resolved by the primary key; every caller reads back the stored row.
func (r *PostgresRegistry) AddressOf(ctx context.Context, principal string) (string, error) {
	name, err := normalize(principal)
	if err != nil {
		return "", err
	}

	if _, err := r.db.Exec(ctx,
		`INSERT INTO principals (name, address, created_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO NOTHING`,
		name, DeriveAddress(name),
	); err != nil {
		return "", fmt.Errorf("register principal: %w", err)
	}

	var address string
	if err := r.db.QueryRow(ctx,
		`SELECT address FROM principals WHERE name = $1`, name,
	).Scan(&address); err != nil {
		return "", fmt.Errorf("lookup principal: %w", err)
	}
	return address, nil
}

// List implements Registry.
func (r *PostgresRegistry) List(ctx context.Context) ([]Principal, error) {
	rows, err := r.db.Query(ctx, `SELECT name, address, created_at FROM principals ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	defer rows.Close()

	var out []Principal
	for rows.Next() {
		var p Principal
		if err := rows.Scan(&p.Name, &p.Address, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
