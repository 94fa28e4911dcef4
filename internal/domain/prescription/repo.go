package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the prescription with all of its items.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*Prescription, error)
	// UpdateDispensed writes the dispensing fields only; items are fixed
	// once created.
	UpdateDispensed(ctx context.Context, p *Prescription) error
}

type DoseRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Dose, error)
	GetByCode(ctx context.Context, code string) (*Dose, error)
	ListActive(ctx context.Context) ([]*Dose, error)
}

type TemplateRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
}
