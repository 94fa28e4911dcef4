package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Service struct {
	repo      Repository
	doses     DoseRepository
	templates TemplateRepository
	expander  *Expander
}

func NewService(repo Repository, doses DoseRepository, templates TemplateRepository, expander *Expander) *Service {
	return &Service{repo: repo, doses: doses, templates: templates, expander: expander}
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetPrescriptionByVisit(ctx context.Context, visitID uuid.UUID) (*Prescription, error) {
	return s.repo.GetByVisit(ctx, visitID)
}

// ExpandTemplate previews what a template would add to a prescription.
func (s *Service) ExpandTemplate(ctx context.Context, templateID uuid.UUID) (*Expansion, error) {
	t, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.expander.Expand(ctx, t)
}

func (s *Service) ListDoses(ctx context.Context) ([]*Dose, error) {
	return s.doses.ListActive(ctx)
}
