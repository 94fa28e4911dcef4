package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/domain/shared"
	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/idgen"
	"github.com/ehr/clinic/internal/platform/validate"
)

type Service struct {
	repo Repository
	ids  idgen.Generator
}

func NewService(repo Repository, ids idgen.Generator) *Service {
	return &Service{repo: repo, ids: ids}
}

// QuickCreate registers a walk-in patient with a fresh PAT- code.
func (s *Service) QuickCreate(ctx context.Context, req QuickCreate, actor string) (*Patient, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.DateOfBirth != nil && req.DateOfBirth.After(shared.Now()) {
		return nil, apperr.Validation("date_of_birth", "must not be in the future")
	}
	p := &Patient{
		ID:          uuid.New(),
		PatientCode: s.ids.Next(idgen.Patient),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Gender:      req.Gender,
		DateOfBirth: req.DateOfBirth,
		AgeYears:    req.AgeYears,
		Phone:       strings.TrimSpace(req.Phone),
		Email:       req.Email,
		Address:     req.Address,
		Audit:       shared.NewAudit(actor),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ResolveOrCreate returns the existing patient when id is set, otherwise
// registers one from quick. One of the two must be present.
func (s *Service) ResolveOrCreate(ctx context.Context, id *uuid.UUID, quick *QuickCreate, actor string) (*Patient, error) {
	switch {
	case id != nil && *id != uuid.Nil:
		return s.repo.GetByID(ctx, *id)
	case quick != nil:
		return s.QuickCreate(ctx, *quick, actor)
	default:
		return nil, apperr.Validation("patient", "existing_patient_id or new_patient is required")
	}
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetPatientByCode(ctx context.Context, code string) (*Patient, error) {
	return s.repo.GetByCode(ctx, code)
}

func (s *Service) SearchPatients(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, strings.TrimSpace(q), limit, offset)
}
