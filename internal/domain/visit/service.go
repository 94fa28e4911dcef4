package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehr/clinic/internal/platform/db"
	"github.com/ehr/clinic/internal/platform/idgen"
	"github.com/ehr/clinic/internal/platform/validate"
)

type Service struct {
	repo   Repository
	ids    idgen.Generator
	newUoW db.UnitOfWorkFactory
	level  pgx.TxIsoLevel
}

func NewService(repo Repository, ids idgen.Generator, newUoW db.UnitOfWorkFactory, level pgx.TxIsoLevel) *Service {
	return &Service{repo: repo, ids: ids, newUoW: newUoW, level: level}
}

type CreateRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	VisitType Type      `json:"visit_type"`
}

func (s *Service) CreateVisit(ctx context.Context, req CreateRequest, actor string) (*Visit, error) {
	v, err := New(s.ids, req.PatientID, req.DoctorID, req.VisitType, actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetVisitByNumber(ctx context.Context, visitNumber string) (*Visit, error) {
	return s.repo.GetByNumber(ctx, visitNumber)
}

func (s *Service) ListVisitsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(v *Visit) error) (*Visit, error) {
	var out *Visit
	err := s.newUoW().Do(ctx, s.level, func(ctx context.Context) error {
		v, err := s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) UpdateClinical(ctx context.Context, id uuid.UUID, u ClinicalUpdate, actor string) (*Visit, error) {
	if err := validate.Struct(u); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(v *Visit) error { return v.UpdateClinical(u, actor) })
}

func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to Status, actor string) (*Visit, error) {
	return s.mutate(ctx, id, func(v *Visit) error { return v.TransitionTo(to, actor) })
}

func (s *Service) SetFollowUp(ctx context.Context, id uuid.UUID, date time.Time, instructions, actor string) (*Visit, error) {
	return s.mutate(ctx, id, func(v *Visit) error { return v.SetFollowUp(date, instructions, actor) })
}
