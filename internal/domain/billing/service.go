package billing

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/platform/db"
)

// Service runs bill operations after a consultation has created the bill.
// Each write locks the bill row and runs in its own unit of work.
type Service struct {
	repo    Repository
	catalog catalog.Repository
	newUoW  db.UnitOfWorkFactory
	level   pgx.TxIsoLevel
}

func NewService(repo Repository, catalogRepo catalog.Repository, newUoW db.UnitOfWorkFactory, level pgx.TxIsoLevel) *Service {
	return &Service{repo: repo, catalog: catalogRepo, newUoW: newUoW, level: level}
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Ledger, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetBillByNumber(ctx context.Context, billNumber string) (*Ledger, error) {
	return s.repo.GetByNumber(ctx, billNumber)
}

func (s *Service) GetBillByVisit(ctx context.Context, visitID uuid.UUID) (*Ledger, error) {
	return s.repo.GetByVisit(ctx, visitID)
}

func (s *Service) ListBillsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Ledger, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// mutate loads the bill under a row lock, applies fn and writes it back.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, actor string, fn func(ctx context.Context, l *Ledger) error) (*Ledger, error) {
	var out *Ledger
	err := s.newUoW().Do(ctx, s.level, func(ctx context.Context) error {
		l, err := s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		l.Touch(actor)
		if err := fn(ctx, l); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ApplyDiscount(ctx context.Context, id uuid.UUID, percentage decimal.Decimal, actor string) (*Ledger, error) {
	return s.mutate(ctx, id, actor, func(_ context.Context, l *Ledger) error {
		return l.ApplyDiscount(percentage)
	})
}

func (s *Service) Generate(ctx context.Context, id uuid.UUID, actor string) (*Ledger, error) {
	return s.mutate(ctx, id, actor, func(_ context.Context, l *Ledger) error {
		return l.Generate()
	})
}

// PaymentRequest is money received against a bill.
type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Mode          string          `json:"payment_mode"`
	TransactionID string          `json:"transaction_id"`
}

func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, req PaymentRequest, actor string) (*Ledger, error) {
	return s.mutate(ctx, id, actor, func(_ context.Context, l *Ledger) error {
		return l.RecordPayment(req.Amount, req.Mode, req.TransactionID, actor)
	})
}

func (s *Service) Refund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reason, actor string) (*Ledger, error) {
	return s.mutate(ctx, id, actor, func(_ context.Context, l *Ledger) error {
		return l.Refund(amount, reason, actor)
	})
}

// Cancel voids the bill and returns stock consumed by its lines to the
// catalog in the same transaction. Entries are locked in id order.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*Ledger, error) {
	return s.mutate(ctx, id, actor, func(ctx context.Context, l *Ledger) error {
		if err := l.Cancel(reason, actor); err != nil {
			return err
		}
		restock := make(map[uuid.UUID]int)
		for _, li := range l.items {
			if li.stockConsumed && li.catalogEntryID != nil {
				restock[*li.catalogEntryID] += li.quantity
			}
		}
		ids := make([]uuid.UUID, 0, len(restock))
		for entryID := range restock {
			ids = append(ids, entryID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		for _, entryID := range ids {
			e, err := s.catalog.GetByIDForUpdate(ctx, entryID)
			if err != nil {
				return err
			}
			if err := e.AddStock(restock[entryID]); err != nil {
				return err
			}
			e.Touch(actor)
			if err := s.catalog.UpdateStock(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkLineAdministered records that actor gave the procedure or injection
// billed on lineID.
func (s *Service) MarkLineAdministered(ctx context.Context, id, lineID uuid.UUID, notes, actor string) (*Ledger, error) {
	return s.mutate(ctx, id, actor, func(_ context.Context, l *Ledger) error {
		return l.MarkLineAdministered(lineID, actor, notes)
	})
}

// Commission is the doctor's earning on one bill.
type Commission struct {
	BillID     uuid.UUID        `json:"bill_id"`
	BillNumber string           `json:"bill_number"`
	DoctorID   uuid.UUID        `json:"doctor_id"`
	Total      decimal.Decimal  `json:"total"`
	Lines      []LineCommission `json:"lines"`
}

type LineCommission struct {
	LineID   uuid.UUID       `json:"line_id"`
	ItemName string          `json:"item_name"`
	Amount   decimal.Decimal `json:"amount"`
}

func (s *Service) DoctorCommission(ctx context.Context, id uuid.UUID) (*Commission, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c := &Commission{
		BillID:     l.id,
		BillNumber: l.billNumber,
		DoctorID:   l.doctorID,
		Total:      l.TotalDoctorCommission(),
		Lines:      []LineCommission{},
	}
	for _, li := range l.items {
		if li.commissionAmount.IsZero() {
			continue
		}
		c.Lines = append(c.Lines, LineCommission{LineID: li.id, ItemName: li.itemName, Amount: li.commissionAmount})
	}
	return c, nil
}
