package catalog

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *CatalogEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*CatalogEntry, error)
	GetByCode(ctx context.Context, code string) (*CatalogEntry, error)
	// ForUpdate variants lock the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*CatalogEntry, error)
	GetByCodeForUpdate(ctx context.Context, code string) (*CatalogEntry, error)
	UpdateStock(ctx context.Context, e *CatalogEntry) error
	ListLowStock(ctx context.Context, limit, offset int) ([]*CatalogEntry, int, error)
}
