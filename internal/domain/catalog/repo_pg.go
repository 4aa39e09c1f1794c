package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labflow/intake/internal/platform/db"
)

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &catalogRepoPG{pool: pool}
}

const entryCols = `id, name, search_key, category, price, active, created_at, updated_at`

func scanEntry(row pgx.Row) (*CatalogEntry, error) {
	var e CatalogEntry
	err := row.Scan(&e.ID, &e.Name, &e.SearchKey, &e.Category, &e.Price, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *catalogRepoPG) ListActive(ctx context.Context) ([]*CatalogEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+entryCols+` FROM catalog_entries WHERE active ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list active catalog entries: %w", err)
	}
	defer rows.Close()

	var items []*CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *catalogRepoPG) UpsertByName(ctx context.Context, entries []*CatalogEntry) (int, error) {
	created := 0
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		for _, e := range entries {
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			e.SetName(e.Name)

			var inserted bool
			err := conn.QueryRow(ctx, `
				INSERT INTO catalog_entries (id, name, search_key, category, price, active)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (name) DO UPDATE SET
					search_key = EXCLUDED.search_key,
					category   = EXCLUDED.category,
					price      = EXCLUDED.price,
					active     = EXCLUDED.active,
					updated_at = now()
				RETURNING id, created_at, updated_at, (xmax = 0) AS inserted`,
				e.ID, e.Name, e.SearchKey, e.Category, e.Price, e.Active,
			).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt, &inserted)
			if err != nil {
				return fmt.Errorf("upsert catalog entry %q: %w", e.Name, err)
			}
			if inserted {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}
