package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the bill with its lines and payments. A second bill for
	// the same visit is an InvalidStateError.
	Create(ctx context.Context, l *Ledger) error
	// Update writes the bill if its stored version still matches, then bumps
	// the version. Lines are upserted; payments are append-only.
	Update(ctx context.Context, l *Ledger) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ledger, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Ledger, error)
	GetByNumber(ctx context.Context, billNumber string) (*Ledger, error)
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*Ledger, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Ledger, int, error)
}
