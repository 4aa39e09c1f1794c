package order

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Ingest upserts o keyed on its external id. Items and the first status
	// history row are written only when the order is new.
	Ingest(ctx context.Context, o *Order, items []*OrderItem) (*IngestResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]*OrderItem, error)
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]*StatusHistory, error)
	// TransitionStatus moves the order to a new status under a row lock and
	// appends the history row.
	TransitionStatus(ctx context.Context, id uuid.UUID, to Status, actor string, comment *string) (*Order, *StatusHistory, error)
}
