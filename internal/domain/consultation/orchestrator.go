// Package consultation runs a visit from check-in to a billed and paid
// consultation as one unit of work.
package consultation

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinic/internal/domain/billing"
	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/domain/patient"
	"github.com/ehr/clinic/internal/domain/prescription"
	"github.com/ehr/clinic/internal/domain/visit"
	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/db"
	"github.com/ehr/clinic/internal/platform/idgen"
	"github.com/ehr/clinic/internal/platform/validate"
)

// Step names a stage of a consultation in errors and logs.
type Step string

const (
	StepValidate      Step = "validate"
	StepBegin         Step = "begin"
	StepPatient       Step = "resolve_patient"
	StepVisit         Step = "create_visit"
	StepPrescription  Step = "prescription"
	StepBill          Step = "bill"
	StepPayment       Step = "payment"
	StepDispense      Step = "dispense"
	StepFollowUp      Step = "follow_up"
	StepCompleteVisit Step = "complete_visit"
	StepCommit        Step = "commit"
)

// StepError is the single failure outcome of a consultation. Nothing the
// failed consultation wrote survives it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("consultation failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// PatientResolver finds or registers the patient of a consultation.
type PatientResolver interface {
	ResolveOrCreate(ctx context.Context, id *uuid.UUID, quick *patient.QuickCreate, actor string) (*patient.Patient, error)
}

// Deps are the stores a consultation writes through. Every call made by
// the orchestrator carries the transaction context.
type Deps struct {
	Patients      PatientResolver
	Visits        visit.Repository
	Prescriptions prescription.Repository
	Templates     prescription.TemplateRepository
	Expander      *prescription.Expander
	Bills         billing.Repository
	Catalog       catalog.Repository
	IDs           idgen.Generator
}

type Orchestrator struct {
	Deps
	newUoW db.UnitOfWorkFactory
	level  pgx.TxIsoLevel
	logger zerolog.Logger
}

func NewOrchestrator(deps Deps, newUoW db.UnitOfWorkFactory, level pgx.TxIsoLevel, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Deps:   deps,
		newUoW: newUoW,
		level:  level,
		logger: logger.With().Str("component", "consultation").Logger(),
	}
}

// CompleteConsultation runs the full consultation at the configured
// isolation level.
func (o *Orchestrator) CompleteConsultation(ctx context.Context, req ConsultationRequest, actor string) (*Result, error) {
	return o.CompleteConsultationWithIsolation(ctx, req, actor, o.level)
}

func (o *Orchestrator) CompleteConsultationWithIsolation(ctx context.Context, req ConsultationRequest, actor string, level pgx.TxIsoLevel) (*Result, error) {
	if err := validate.Struct(req); err != nil {
		return nil, o.fail(StepValidate, err)
	}
	return o.run(ctx, req.plan(), actor, level)
}

// QuickConsultation prescribes by medicine code without a template.
func (o *Orchestrator) QuickConsultation(ctx context.Context, req QuickRequest, actor string) (*Result, error) {
	if err := validate.Struct(req); err != nil {
		return nil, o.fail(StepValidate, err)
	}
	return o.run(ctx, req.plan(), actor, o.level)
}

// TemplateConsultation prescribes the contents of one template.
func (o *Orchestrator) TemplateConsultation(ctx context.Context, req TemplateRequest, actor string) (*Result, error) {
	if err := validate.Struct(req); err != nil {
		return nil, o.fail(StepValidate, err)
	}
	return o.run(ctx, req.plan(), actor, o.level)
}

// session is the state of one consultation while its transaction is open.
type session struct {
	*Orchestrator
	p     *plan
	actor string

	patient   *patient.Patient
	visit     *visit.Visit
	rx        *prescription.Prescription
	bill      *billing.Ledger
	dispensed bool
}

func (o *Orchestrator) run(ctx context.Context, p *plan, actor string, level pgx.TxIsoLevel) (*Result, error) {
	uow := o.newUoW()
	tx, err := uow.Begin(ctx, level)
	if err != nil {
		return nil, o.fail(StepBegin, err)
	}
	finished := false
	defer func() {
		if !finished {
			_ = uow.Rollback(ctx, tx)
		}
	}()

	s := &session{Orchestrator: o, p: p, actor: actor}
	steps := []struct {
		name Step
		fn   func(context.Context) error
	}{
		{StepPatient, s.resolvePatient},
		{StepVisit, s.createVisit},
		{StepPrescription, s.createPrescription},
		{StepBill, s.createBill},
		{StepPayment, s.recordPayment},
		{StepDispense, s.dispense},
		{StepFollowUp, s.followUp},
		{StepCompleteVisit, s.completeVisit},
	}

	txCtx := tx.Context()
	for _, st := range steps {
		if err := txCtx.Err(); err != nil {
			return nil, o.fail(st.name, err)
		}
		if err := st.fn(txCtx); err != nil {
			return nil, o.fail(st.name, err)
		}
		o.logger.Debug().Str("step", string(st.name)).Str("tx_id", tx.ID().String()).Msg("consultation step done")
	}

	if err := ctx.Err(); err != nil {
		return nil, o.fail(StepCommit, err)
	}
	finished = true
	if err := uow.Commit(ctx, tx); err != nil {
		return nil, o.fail(StepCommit, err)
	}

	res := s.result()
	o.logger.Info().
		Str("visit_number", res.VisitNumber).
		Str("bill_number", res.BillNumber).
		Str("total", res.TotalAmount.StringFixed(2)).
		Str("paid", res.PaidAmount.StringFixed(2)).
		Str("due", res.DueAmount.StringFixed(2)).
		Msg("consultation completed")
	return res, nil
}

func (o *Orchestrator) fail(step Step, err error) error {
	o.logger.Warn().Err(err).Str("step", string(step)).Msg("consultation aborted")
	return &StepError{Step: step, Err: err}
}

func (s *session) resolvePatient(ctx context.Context) error {
	pt, err := s.Patients.ResolveOrCreate(ctx, s.p.ExistingPatientID, s.p.NewPatient, s.actor)
	if err != nil {
		return err
	}
	s.patient = pt
	return nil
}

func (s *session) createVisit(ctx context.Context) error {
	v, err := visit.New(s.IDs, s.patient.ID, s.p.doctorID, s.p.visitType, s.actor)
	if err != nil {
		return err
	}
	if err := v.UpdateClinical(s.p.clinical, s.actor); err != nil {
		return err
	}
	if err := s.Visits.Create(ctx, v); err != nil {
		return err
	}
	s.visit = v
	return nil
}

func (s *session) createPrescription(ctx context.Context) error {
	rx, err := prescription.New(s.IDs, s.patient.ID, s.p.doctorID, s.visit.ID, s.actor)
	if err != nil {
		return err
	}

	if s.p.templateID != nil {
		t, err := s.Templates.GetByID(ctx, *s.p.templateID)
		if err != nil {
			return err
		}
		x, err := s.Expander.Expand(ctx, t)
		if err != nil {
			return err
		}
		if err := rx.ApplyTemplate(x); err != nil {
			return err
		}
	}

	for _, c := range s.p.complaints {
		if err := rx.AddComplaint(c); err != nil {
			return err
		}
	}
	orders := append([]prescription.MedicineOrder{}, s.p.medicines...)
	for _, code := range s.p.medicineCodes {
		e, err := s.Catalog.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		orders = append(orders, prescription.MedicineOrder{MedicineID: e.ID})
	}
	for _, o := range orders {
		m, err := s.Expander.Resolve(ctx, o)
		if err != nil {
			return err
		}
		if err := rx.AddMedicine(m); err != nil {
			return err
		}
	}
	for _, a := range s.p.advice {
		if err := rx.AddAdvice(a); err != nil {
			return err
		}
	}

	if err := s.Prescriptions.Create(ctx, rx); err != nil {
		return err
	}
	s.rx = rx
	return nil
}

// billLine is one catalog charge waiting for its locked entry.
type billLine struct {
	entryID  uuid.UUID
	quantity int
	price    *decimal.Decimal
}

func (s *session) createBill(ctx context.Context) error {
	l, err := billing.NewLedger(s.IDs, s.visit.ID, s.patient.ID, s.p.doctorID, s.p.ConsultationFee, s.actor)
	if err != nil {
		return err
	}

	var lines []billLine
	for _, so := range s.p.Services {
		id, err := s.serviceEntryID(ctx, so)
		if err != nil {
			return err
		}
		qty := so.Quantity
		if qty == 0 {
			qty = 1
		}
		lines = append(lines, billLine{entryID: id, quantity: qty, price: so.UnitPrice})
	}
	if s.p.DispenseMedicines {
		lines = append(lines, medicineLines(s.rx.Medicines)...)
	}

	if err := s.billLines(ctx, l, lines); err != nil {
		return err
	}
	if err := l.ApplyDiscount(s.p.DiscountPercentage); err != nil {
		return err
	}
	if err := l.Generate(); err != nil {
		return err
	}
	if err := s.Bills.Create(ctx, l); err != nil {
		return err
	}
	s.bill = l
	return nil
}

func (s *session) serviceEntryID(ctx context.Context, so ServiceOrder) (uuid.UUID, error) {
	if so.CatalogEntryID != nil && *so.CatalogEntryID != uuid.Nil {
		return *so.CatalogEntryID, nil
	}
	e, err := s.Catalog.GetByCode(ctx, so.CatalogCode)
	if err != nil {
		return uuid.Nil, err
	}
	return e.ID, nil
}

func medicineLines(meds []prescription.Medicine) []billLine {
	lines := make([]billLine, 0, len(meds))
	for _, m := range meds {
		lines = append(lines, billLine{entryID: m.MedicineID, quantity: m.TotalUnits()})
	}
	return lines
}

// billLines locks every referenced catalog entry in id order, adds the
// lines in request order and writes back the stock they consumed.
func (o *Orchestrator) billLines(ctx context.Context, l *billing.Ledger, lines []billLine) error {
	if len(lines) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(lines))
	seen := make(map[uuid.UUID]bool, len(lines))
	for _, ln := range lines {
		if !seen[ln.entryID] {
			seen[ln.entryID] = true
			ids = append(ids, ln.entryID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	entries := make(map[uuid.UUID]*catalog.CatalogEntry, len(ids))
	for _, id := range ids {
		e, err := o.Catalog.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		entries[id] = e
	}

	for _, ln := range lines {
		if _, err := l.AddLineItem(entries[ln.entryID], ln.quantity, ln.price); err != nil {
			return err
		}
	}

	actor := l.Audit().UpdatedBy
	for _, id := range ids {
		e := entries[id]
		if !e.IsStockTracked() {
			continue
		}
		e.Touch(actor)
		if err := o.Catalog.UpdateStock(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) recordPayment(ctx context.Context) error {
	pay := s.p.Payment
	if pay == nil || !pay.Amount.IsPositive() {
		return nil
	}
	if err := s.bill.RecordPayment(pay.Amount, pay.Mode, pay.TransactionID, s.actor); err != nil {
		return err
	}
	return s.Bills.Update(ctx, s.bill)
}

func (s *session) dispense(ctx context.Context) error {
	if !s.p.DispenseMedicines || len(s.rx.Medicines) == 0 {
		return nil
	}
	if err := s.rx.MarkDispensed(s.actor); err != nil {
		return err
	}
	if err := s.Prescriptions.UpdateDispensed(ctx, s.rx); err != nil {
		return err
	}
	s.dispensed = true
	return nil
}

func (s *session) followUp(context.Context) error {
	if s.p.followUpDate == nil {
		return nil
	}
	return s.visit.SetFollowUp(*s.p.followUpDate, s.p.followUpInstructions, s.actor)
}

func (s *session) completeVisit(ctx context.Context) error {
	if err := s.visit.Complete(s.actor); err != nil {
		return err
	}
	return s.Visits.Update(ctx, s.visit)
}

func (s *session) result() *Result {
	return &Result{
		PatientID:          s.patient.ID,
		PatientCode:        s.patient.PatientCode,
		VisitID:            s.visit.ID,
		VisitNumber:        s.visit.VisitNumber,
		PrescriptionID:     s.rx.ID,
		PrescriptionNumber: s.rx.PrescriptionNumber,
		BillID:             s.bill.ID(),
		BillNumber:         s.bill.BillNumber(),
		BillStatus:         s.bill.Status(),
		SubTotal:           s.bill.SubTotal(),
		DiscountAmount:     s.bill.DiscountAmount(),
		TotalAmount:        s.bill.TotalAmount(),
		PaidAmount:         s.bill.PaidAmount(),
		DueAmount:          s.bill.DueAmount(),
		FullyPaid:          s.bill.IsFullyPaid(),
		MedicinesDispensed: s.dispensed,
		FollowUpDate:       s.visit.FollowUpDate,
	}
}

// DispenseResult reports a prescription dispensed after its consultation.
type DispenseResult struct {
	PrescriptionID     uuid.UUID       `json:"prescription_id"`
	PrescriptionNumber string          `json:"prescription_number"`
	LinesAdded         int             `json:"lines_added"`
	Bill               *billing.Ledger `json:"bill"`
}

// DispensePrescription hands over the medicines of a prescription that was
// not dispensed during its consultation. The medicines are billed on the
// visit's bill, which must not have been paid yet, and their stock is
// consumed.
func (o *Orchestrator) DispensePrescription(ctx context.Context, prescriptionID uuid.UUID, actor string) (*DispenseResult, error) {
	var out *DispenseResult
	err := o.newUoW().Do(ctx, o.level, func(ctx context.Context) error {
		rx, err := o.Prescriptions.GetByIDForUpdate(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if rx.Dispensed {
			return apperr.InvalidState("prescription "+rx.PrescriptionNumber, "dispensed", "dispense again")
		}
		bill, err := o.Bills.GetByVisit(ctx, rx.VisitID)
		if err != nil {
			return err
		}
		if bill, err = o.Bills.GetByIDForUpdate(ctx, bill.ID()); err != nil {
			return err
		}
		bill.Touch(actor)

		before := len(bill.Items())
		if err := o.billLines(ctx, bill, medicineLines(rx.Medicines)); err != nil {
			return err
		}
		if err := rx.MarkDispensed(actor); err != nil {
			return err
		}
		if err := o.Prescriptions.UpdateDispensed(ctx, rx); err != nil {
			return err
		}
		if err := o.Bills.Update(ctx, bill); err != nil {
			return err
		}
		out = &DispenseResult{
			PrescriptionID:     rx.ID,
			PrescriptionNumber: rx.PrescriptionNumber,
			LinesAdded:         len(bill.Items()) - before,
			Bill:               bill,
		}
		return nil
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("prescription_id", prescriptionID.String()).Msg("dispense aborted")
		return nil, err
	}
	o.logger.Info().Str("prescription_number", out.PrescriptionNumber).Int("lines", out.LinesAdded).Msg("prescription dispensed")
	return out, nil
}
