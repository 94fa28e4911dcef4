package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByCode(ctx context.Context, code string) (*Patient, error)
	// Search matches q against code, name and phone.
	Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error)
}
