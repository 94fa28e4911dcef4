package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinic/internal/domain/shared"
	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/db"
)

type Service struct {
	repo   Repository
	newUoW db.UnitOfWorkFactory
	level  pgx.TxIsoLevel
}

func NewService(repo Repository, newUoW db.UnitOfWorkFactory, level pgx.TxIsoLevel) *Service {
	return &Service{repo: repo, newUoW: newUoW, level: level}
}

// CreateRequest is the master-data payload for a new entry.
type CreateRequest struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Type            Type            `json:"type"`
	StandardPrice   decimal.Decimal `json:"standard_price"`
	CommissionMode  CommissionMode  `json:"commission_mode"`
	CommissionValue decimal.Decimal `json:"commission_value"`
	Taxable         bool            `json:"taxable"`
	Consumable      bool            `json:"consumable"`
	InitialStock    int             `json:"initial_stock"`
	ReorderLevel    int             `json:"reorder_level"`
}

func (s *Service) CreateEntry(ctx context.Context, req CreateRequest, actor string) (*CatalogEntry, error) {
	e := &CatalogEntry{
		ID:              uuid.New(),
		Code:            req.Code,
		Name:            req.Name,
		Type:            req.Type,
		StandardPrice:   req.StandardPrice.Round(2),
		CommissionMode:  req.CommissionMode,
		CommissionValue: req.CommissionValue,
		Taxable:         req.Taxable,
		Consumable:      req.Consumable,
		ReorderLevel:    req.ReorderLevel,
		Active:          true,
		Audit:           shared.NewAudit(actor),
	}
	if e.CommissionMode == "" {
		e.CommissionMode = CommissionNone
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if req.InitialStock < 0 {
		return nil, apperr.Validation("initial_stock", "must not be negative")
	}
	if req.InitialStock > 0 {
		if err := e.AddStock(req.InitialStock); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*CatalogEntry, error) {
	return s.repo.GetByCode(ctx, code)
}

// Restock adds received units to a stock-tracked entry under a row lock.
func (s *Service) Restock(ctx context.Context, code string, quantity int, actor string) (*CatalogEntry, error) {
	var out *CatalogEntry
	err := s.newUoW().Do(ctx, s.level, func(ctx context.Context) error {
		e, err := s.repo.GetByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if err := e.AddStock(quantity); err != nil {
			return err
		}
		e.Touch(actor)
		if err := s.repo.UpdateStock(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListLowStock(ctx context.Context, limit, offset int) ([]*CatalogEntry, int, error) {
	return s.repo.ListLowStock(ctx, limit, offset)
}
