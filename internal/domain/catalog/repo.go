package catalog

import "context"

// Repository is the catalog storage used by ingestion and seeding.
type Repository interface {
	ListActive(ctx context.Context) ([]*CatalogEntry, error)
	// UpsertByName inserts or updates entries keyed on name in one
	// transaction and reports how many rows were created.
	UpsertByName(ctx context.Context, entries []*CatalogEntry) (created int, err error)
}
