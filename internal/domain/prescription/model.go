package prescription

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/domain/shared"
	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/idgen"
)

// DefaultDoseCode is used when a medicine is ordered without a dose.
const DefaultDoseCode = "1-0-1"

// Entry is a complaint or an advice line: a reference into a master list,
// free text, or both (text then overrides the master wording).
type Entry struct {
	MasterID *uuid.UUID `json:"master_id,omitempty"`
	Text     string     `json:"text,omitempty"`
}

func (e Entry) validate(field string) error {
	if (e.MasterID == nil || *e.MasterID == uuid.Nil) && strings.TrimSpace(e.Text) == "" {
		return apperr.Validation(field, "needs a master id or text")
	}
	return nil
}

// Medicine is one prescribed drug. MedicineName and DoseCode are snapshots.
type Medicine struct {
	MedicineID   uuid.UUID  `json:"medicine_id"`
	MedicineName string     `json:"medicine_name"`
	DoseID       *uuid.UUID `json:"dose_id,omitempty"`
	DoseCode     string     `json:"dose_code"`
	DurationDays int        `json:"duration_days"`
	// Quantity is the total units to hand over; 0 derives it from the dose
	// and duration.
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions,omitempty"`
}

// TotalUnits is the number of units dispensed for this medicine.
func (m Medicine) TotalUnits() int {
	if m.Quantity > 0 {
		return m.Quantity
	}
	return catalog.TotalUnits(m.DoseCode, m.DurationDays, 1)
}

func (m Medicine) validate() error {
	switch {
	case m.MedicineID == uuid.Nil:
		return apperr.Validation("medicine_id", "is required")
	case strings.TrimSpace(m.MedicineName) == "":
		return apperr.Validation("medicine_name", "is required")
	case strings.TrimSpace(m.DoseCode) == "":
		return apperr.Validation("dose_code", "is required")
	case m.DurationDays <= 0:
		return apperr.Validation("duration_days", "must be greater than zero")
	case m.Quantity < 0:
		return apperr.Validation("quantity", "must not be negative")
	}
	return nil
}

// Prescription maps to the prescriptions table and its item tables.
type Prescription struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PrescriptionNumber string     `db:"prescription_number" json:"prescription_number"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	VisitID            uuid.UUID  `db:"visit_id" json:"visit_id"`
	TemplateID         *uuid.UUID `db:"template_id" json:"template_id,omitempty"`
	Complaints         []Entry    `json:"complaints"`
	Medicines          []Medicine `json:"medicines"`
	Advice             []Entry    `json:"advice"`
	Dispensed          bool       `db:"dispensed" json:"dispensed"`
	DispensedAt        *time.Time `db:"dispensed_at" json:"dispensed_at,omitempty"`
	DispensedBy        string     `db:"dispensed_by" json:"dispensed_by,omitempty"`
	shared.Audit
}

// New opens an empty prescription for a visit.
func New(ids idgen.Generator, patientID, doctorID, visitID uuid.UUID, actor string) (*Prescription, error) {
	switch {
	case patientID == uuid.Nil:
		return nil, apperr.Validation("patient_id", "is required")
	case doctorID == uuid.Nil:
		return nil, apperr.Validation("doctor_id", "is required")
	case visitID == uuid.Nil:
		return nil, apperr.Validation("visit_id", "is required")
	}
	return &Prescription{
		ID:                 uuid.New(),
		PrescriptionNumber: ids.Next(idgen.Prescription),
		PatientID:          patientID,
		DoctorID:           doctorID,
		VisitID:            visitID,
		Complaints:         []Entry{},
		Medicines:          []Medicine{},
		Advice:             []Entry{},
		Audit:              shared.NewAudit(actor),
	}, nil
}

func (p *Prescription) requireOpen(action string) error {
	if p.Dispensed {
		return apperr.InvalidState("prescription "+p.PrescriptionNumber, "dispensed", action)
	}
	return nil
}

func (p *Prescription) AddComplaint(e Entry) error {
	if err := p.requireOpen("add complaint"); err != nil {
		return err
	}
	if err := e.validate("complaint"); err != nil {
		return err
	}
	p.Complaints = append(p.Complaints, e)
	return nil
}

func (p *Prescription) AddMedicine(m Medicine) error {
	if err := p.requireOpen("add medicine"); err != nil {
		return err
	}
	m.DoseCode = strings.TrimSpace(m.DoseCode)
	if err := m.validate(); err != nil {
		return err
	}
	p.Medicines = append(p.Medicines, m)
	return nil
}

func (p *Prescription) AddAdvice(e Entry) error {
	if err := p.requireOpen("add advice"); err != nil {
		return err
	}
	if err := e.validate("advice"); err != nil {
		return err
	}
	p.Advice = append(p.Advice, e)
	return nil
}

// ApplyTemplate appends an expanded template. Every item is checked before
// any is added.
func (p *Prescription) ApplyTemplate(x *Expansion) error {
	if err := p.requireOpen("apply template"); err != nil {
		return err
	}
	for _, c := range x.Complaints {
		if err := c.validate("complaint"); err != nil {
			return err
		}
	}
	for _, m := range x.Medicines {
		if err := m.validate(); err != nil {
			return err
		}
	}
	for _, a := range x.Advice {
		if err := a.validate("advice"); err != nil {
			return err
		}
	}
	id := x.TemplateID
	p.TemplateID = &id
	p.Complaints = append(p.Complaints, x.Complaints...)
	p.Medicines = append(p.Medicines, x.Medicines...)
	p.Advice = append(p.Advice, x.Advice...)
	return nil
}

// MarkDispensed records the hand-over of every medicine.
func (p *Prescription) MarkDispensed(by string) error {
	if err := p.requireOpen("dispense again"); err != nil {
		return err
	}
	if len(p.Medicines) == 0 {
		return apperr.InvalidState("prescription "+p.PrescriptionNumber, "empty", "dispense")
	}
	if strings.TrimSpace(by) == "" {
		return apperr.Validation("dispensed_by", "is required")
	}
	now := shared.Now()
	p.Dispensed = true
	p.DispensedAt = &now
	p.DispensedBy = by
	p.Touch(by)
	return nil
}
