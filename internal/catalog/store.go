package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the authoritative source of catalog rows.
type Store interface {
	Supplier(ctx context.Context, id string) (Supplier, error)
	Material(ctx context.Context, registration string) (Material, error)
}

// PGStore reads the suppliers and materials tables.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Supplier fetches a supplier by id.
func (s *PGStore) Supplier(ctx context.Context, id string) (Supplier, error) {
	var sup Supplier
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, is_external FROM suppliers WHERE id = $1`, id,
	).Scan(&sup.ID, &sup.Name, &sup.External)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, fmt.Errorf("supplier %s: %w", id, ErrNotFound)
		}
		return Supplier{}, err
	}
	return sup, nil
}

// Material fetches a material by registration.
func (s *PGStore) Material(ctx context.Context, registration string) (Material, error) {
	var m Material
	err := s.pool.QueryRow(ctx,
		`SELECT registration, description, COALESCE(vehicle_series, '') FROM materials WHERE registration = $1`, registration,
	).Scan(&m.Registration, &m.Description, &m.VehicleSeries)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, fmt.Errorf("material %s: %w", registration, ErrNotFound)
		}
		return Material{}, err
	}
	return m, nil
}
